package payments

import (
	"context"
	"sync"
)

// MemoryIntentStore is an in-memory IntentStore for tests and local
// development.
type MemoryIntentStore struct {
	mu      sync.RWMutex
	intents map[string]*Intent
}

// NewMemoryIntentStore creates an empty in-memory intent store.
func NewMemoryIntentStore() *MemoryIntentStore {
	return &MemoryIntentStore{intents: make(map[string]*Intent)}
}

func (m *MemoryIntentStore) Create(ctx context.Context, intent *Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.intents {
		if i.Provider == intent.Provider && i.TransactionID == intent.TransactionID {
			return ErrDuplicateIntent
		}
	}
	cp := *intent
	m.intents[intent.ID] = &cp
	return nil
}

func (m *MemoryIntentStore) Get(ctx context.Context, id string) (*Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	intent, ok := m.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *intent
	return &cp, nil
}

func (m *MemoryIntentStore) GetByProviderTx(ctx context.Context, provider, transactionID string) (*Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, i := range m.intents {
		if i.Provider == provider && i.TransactionID == transactionID {
			cp := *i
			return &cp, nil
		}
	}
	return nil, ErrIntentNotFound
}

func (m *MemoryIntentStore) GetByGig(ctx context.Context, gigID string) (*Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Intent
	for _, i := range m.intents {
		if i.GigID != gigID {
			continue
		}
		if latest == nil || i.CreatedAt.After(latest.CreatedAt) {
			latest = i
		}
	}
	if latest == nil {
		return nil, ErrIntentNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryIntentStore) Update(ctx context.Context, intent *Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[intent.ID]; !ok {
		return ErrIntentNotFound
	}
	cp := *intent
	m.intents[intent.ID] = &cp
	return nil
}
