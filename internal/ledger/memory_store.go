package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/idgen"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/money"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]*Balance
	entries  []*Entry
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
	}
}

func (m *MemoryStore) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bal, ok := m.balances[userID]; ok {
		cp := *bal
		return &cp, nil
	}
	return &Balance{UserID: userID, UpdatedAt: time.Now()}, nil
}

func (m *MemoryStore) Adjust(ctx context.Context, userID string, field Field, delta money.Rand, floored bool, reference, description string) error {
	if !field.Valid() {
		return ErrUnknownField
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.getOrCreate(userID)
	m.apply(bal, field, delta, floored, reference, description)
	return nil
}

func (m *MemoryStore) Move(ctx context.Context, userID string, from, to Field, amount money.Rand, reference, description string) error {
	if !from.Valid() || !to.Valid() {
		return ErrUnknownField
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.getOrCreate(userID)
	m.apply(bal, from, -amount, true, reference, description)
	m.apply(bal, to, amount, false, reference, description)
	return nil
}

func (m *MemoryStore) HasEntry(ctx context.Context, userID string, field Field, direction, reference string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries {
		if e.UserID == userID && e.Field == field && e.Direction == direction && e.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Newest first.
	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].UserID == userID {
			cp := *m.entries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

// getOrCreate must be called with the write lock held.
func (m *MemoryStore) getOrCreate(userID string) *Balance {
	bal, ok := m.balances[userID]
	if !ok {
		bal = &Balance{UserID: userID}
		m.balances[userID] = bal
	}
	return bal
}

// apply must be called with the write lock held.
func (m *MemoryStore) apply(bal *Balance, field Field, delta money.Rand, floored bool, reference, description string) {
	current := bal.Get(field)
	next := current + delta
	if floored && next < 0 {
		next = 0
	}

	switch field {
	case FieldPending:
		bal.Pending = next
	case FieldWallet:
		bal.Wallet = next
	case FieldEarnings:
		bal.TotalEarnings = next
	}
	bal.UpdatedAt = time.Now()

	direction := DirectionCredit
	amount := delta
	if delta < 0 {
		direction = DirectionDebit
		amount = -delta
	}
	m.entries = append(m.entries, &Entry{
		ID:          idgen.WithPrefix("le_"),
		UserID:      bal.UserID,
		Field:       field,
		Direction:   direction,
		Amount:      amount,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	})
}
