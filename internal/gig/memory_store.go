package gig

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory gig store for demo/development mode.
type MemoryStore struct {
	mu   sync.RWMutex
	gigs map[string]*Gig
}

// NewMemoryStore creates a new in-memory gig store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{gigs: make(map[string]*Gig)}
}

func (m *MemoryStore) Create(ctx context.Context, g *Gig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *g
	m.gigs[g.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Gig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.gigs[id]
	if !ok {
		return nil, ErrGigNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, g *Gig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.gigs[g.ID]
	if !ok {
		return ErrGigNotFound
	}
	if current.Version != g.Version {
		return ErrVersionConflict
	}

	cp := *g
	cp.Version = g.Version + 1
	m.gigs[g.ID] = &cp
	g.Version = cp.Version
	return nil
}

func (m *MemoryStore) ListByEmployer(ctx context.Context, employerID string, limit int) ([]*Gig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Gig
	for _, g := range m.gigs {
		if g.EmployerID == employerID {
			cp := *g
			result = append(result, &cp)
		}
	}
	sortNewestFirst(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListOpen(ctx context.Context, limit int) ([]*Gig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Gig
	for _, g := range m.gigs {
		if g.OpenForApplications() {
			cp := *g
			result = append(result, &cp)
		}
	}
	sortNewestFirst(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func sortNewestFirst(gigs []*Gig) {
	sort.Slice(gigs, func(i, j int) bool {
		return gigs[i].CreatedAt.After(gigs[j].CreatedAt)
	})
}
