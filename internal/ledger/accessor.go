package ledger

import (
	"context"
	"fmt"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/logging"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/metrics"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/money"
)

// Accessor mutates user balances with read-back verification.
//
// Each operation reads the current value, computes the expected result,
// writes through the store, then reads back and compares. The store applies
// changes atomically; the read-back exists to detect lost updates. A
// mismatch is surfaced as an observability event, not a failure, because a
// concurrent writer may legitimately have advanced the balance further.
type Accessor struct {
	store Store
}

// NewAccessor creates a balance accessor over the given store.
func NewAccessor(store Store) *Accessor {
	return &Accessor{store: store}
}

// GetBalance returns a user's current balance. Users with no recorded
// movements have a zero balance.
func (a *Accessor) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	return a.store.GetBalance(ctx, userID)
}

// GetHistory returns a user's most recent ledger entries.
func (a *Accessor) GetHistory(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return a.store.GetHistory(ctx, userID, limit)
}

// HasMovement reports whether a movement with the given coordinates is
// already on the ledger. Reference-keyed writers check this before writing
// so a replayed event cannot double-apply.
func (a *Accessor) HasMovement(ctx context.Context, userID string, field Field, direction, reference string) (bool, error) {
	if !field.Valid() {
		return false, ErrUnknownField
	}
	return a.store.HasEntry(ctx, userID, field, direction, reference)
}

// Increment credits amount to the named field.
func (a *Accessor) Increment(ctx context.Context, userID string, field Field, amount money.Rand, reference, description string) error {
	if !field.Valid() {
		return ErrUnknownField
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: increment must be positive, got %s", ErrInvalidAmount, amount)
	}

	before, err := a.store.GetBalance(ctx, userID)
	if err != nil {
		return err
	}
	expected := before.Get(field).Add(amount)

	if err := a.store.Adjust(ctx, userID, field, amount, false, reference, description); err != nil {
		return err
	}

	a.verify(ctx, userID, field, expected)
	return nil
}

// DecrementFloored debits amount from the named field, never going below
// zero. Debiting more than the current value leaves the field at zero.
func (a *Accessor) DecrementFloored(ctx context.Context, userID string, field Field, amount money.Rand, reference, description string) error {
	if !field.Valid() {
		return ErrUnknownField
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: decrement must be positive, got %s", ErrInvalidAmount, amount)
	}

	before, err := a.store.GetBalance(ctx, userID)
	if err != nil {
		return err
	}
	expected := before.Get(field).SubFloored(amount)

	if err := a.store.Adjust(ctx, userID, field, -amount, true, reference, description); err != nil {
		return err
	}

	a.verify(ctx, userID, field, expected)
	return nil
}

// Move transfers amount between two fields of the same user: the source is
// debited (floored at zero) and the destination credited in one atomic
// store operation. Used for the pending-to-wallet transfer on settlement.
func (a *Accessor) Move(ctx context.Context, userID string, from, to Field, amount money.Rand, reference, description string) error {
	if !from.Valid() || !to.Valid() {
		return ErrUnknownField
	}
	if from == to {
		return fmt.Errorf("%w: cannot move between identical fields", ErrUnknownField)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: move amount must be positive, got %s", ErrInvalidAmount, amount)
	}

	before, err := a.store.GetBalance(ctx, userID)
	if err != nil {
		return err
	}
	expectedFrom := before.Get(from).SubFloored(amount)
	expectedTo := before.Get(to).Add(amount)

	if err := a.store.Move(ctx, userID, from, to, amount, reference, description); err != nil {
		return err
	}

	a.verify(ctx, userID, from, expectedFrom)
	a.verify(ctx, userID, to, expectedTo)
	return nil
}

// verify reads back the field and compares to the expected value. A
// mismatch is logged and counted, never returned as an error.
func (a *Accessor) verify(ctx context.Context, userID string, field Field, expected money.Rand) {
	after, err := a.store.GetBalance(ctx, userID)
	if err != nil {
		logging.L(ctx).Warn("balance verification read failed",
			"userId", userID,
			"field", string(field),
			"error", err)
		return
	}

	if got := after.Get(field); got != expected {
		metrics.BalanceVerifyMismatchTotal.WithLabelValues(string(field)).Inc()
		logging.L(ctx).Warn("balance verification mismatch",
			"userId", userID,
			"field", string(field),
			"expected", expected.String(),
			"got", got.String())
	}
}
