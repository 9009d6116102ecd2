package application

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu   sync.RWMutex
	apps map[string]*Application
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{apps: make(map[string]*Application)}
}

func (m *MemoryStore) Create(ctx context.Context, app *Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.apps {
		if a.GigID == app.GigID && a.ApplicantID == app.ApplicantID && a.Status.Live() {
			return ErrDuplicateApplication
		}
	}
	cp := *app
	m.apps[app.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, ErrApplicationNotFound
	}
	cp := *app
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, app *Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[app.ID]; !ok {
		return ErrApplicationNotFound
	}
	cp := *app
	m.apps[app.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByGig(ctx context.Context, gigID string) ([]*Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Application
	for _, a := range m.apps {
		if a.GigID == gigID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) ListByApplicant(ctx context.Context, applicantID string, limit int) ([]*Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Application
	for _, a := range m.apps {
		if a.ApplicantID == applicantID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetLive(ctx context.Context, gigID, applicantID string) (*Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.apps {
		if a.GigID == gigID && a.ApplicantID == applicantID && a.Status.Live() {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrApplicationNotFound
}

func (m *MemoryStore) CountActive(ctx context.Context, gigID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, a := range m.apps {
		if a.GigID == gigID && a.Status != StatusWithdrawn {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) AcceptedForGig(ctx context.Context, gigID string) (*Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.apps {
		if a.GigID == gigID && a.Status == StatusAccepted {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNoAcceptedApplication
}

func (m *MemoryStore) FundedForGig(ctx context.Context, gigID string) (*Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.apps {
		if a.GigID == gigID && (a.Status == StatusFunded || a.Status == StatusCompleted) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrApplicationNotFound
}

func (m *MemoryStore) ListAutoReleaseDue(ctx context.Context, now time.Time, limit int) ([]*Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Application
	for _, a := range m.apps {
		if IsAutoReleaseDue(a, now) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletionAutoReleaseAt.Before(*out[j].CompletionAutoReleaseAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst(apps []*Application) {
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].CreatedAt.Equal(apps[j].CreatedAt) {
			return apps[i].ID > apps[j].ID
		}
		return apps[i].CreatedAt.After(apps[j].CreatedAt)
	})
}
