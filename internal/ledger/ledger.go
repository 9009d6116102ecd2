// Package ledger tracks user balances on the marketplace.
//
// Flow:
//  1. Employer funds a gig's escrow
//  2. Both parties' pending balances are credited with the escrowed sum
//  3. Settlement moves the worker's pending amount into the wallet balance
//     and records lifetime earnings
//  4. Every mutation appends a signed entry so balances are auditable
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/money"
)

var (
	ErrUnknownField  = errors.New("unknown balance field")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrStore         = errors.New("ledger store unavailable")
)

// Field names a balance column on a user.
type Field string

const (
	FieldPending  Field = "pending_balance"
	FieldWallet   Field = "wallet_balance"
	FieldEarnings Field = "total_earnings"
)

// Valid reports whether f names a known balance field.
func (f Field) Valid() bool {
	switch f {
	case FieldPending, FieldWallet, FieldEarnings:
		return true
	}
	return false
}

// Directions for ledger entries.
const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// Balance holds a user's three balance fields.
type Balance struct {
	UserID        string     `json:"userId"`
	Pending       money.Rand `json:"pendingBalance"`
	Wallet        money.Rand `json:"walletBalance"`
	TotalEarnings money.Rand `json:"totalEarnings"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Get returns the value of the named field.
func (b *Balance) Get(f Field) money.Rand {
	switch f {
	case FieldPending:
		return b.Pending
	case FieldWallet:
		return b.Wallet
	case FieldEarnings:
		return b.TotalEarnings
	}
	return 0
}

// Entry is one signed ledger movement.
type Entry struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Field       Field      `json:"field"`
	Direction   string     `json:"direction"` // credit or debit
	Amount      money.Rand `json:"amount"`
	Reference   string     `json:"reference,omitempty"` // gig ID, transaction ID, etc.
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Store persists balances and their entries. Adjust and Move must apply the
// balance change and append the matching entries atomically.
type Store interface {
	GetBalance(ctx context.Context, userID string) (*Balance, error)
	// Adjust applies delta to one field. A negative delta with floored set
	// debits at most the current value, so the field never goes below zero.
	Adjust(ctx context.Context, userID string, field Field, delta money.Rand, floored bool, reference, description string) error
	// Move debits amount from one field (floored at zero) and credits the
	// full amount to another in a single atomic step.
	Move(ctx context.Context, userID string, from, to Field, amount money.Rand, reference, description string) error
	// HasEntry reports whether a movement with the given coordinates was
	// already recorded. Callers use it to make reference-keyed writes
	// replay-safe.
	HasEntry(ctx context.Context, userID string, field Field, direction, reference string) (bool, error)
	GetHistory(ctx context.Context, userID string, limit int) ([]*Entry, error)
}
