package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/money"
)

func TestAccessor_Increment(t *testing.T) {
	a := NewAccessor(NewMemoryStore())
	ctx := context.Background()

	err := a.Increment(ctx, "user_1", FieldPending, money.MustParse("900.00"), "gig_1", "escrow funded")
	require.NoError(t, err)

	bal, err := a.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("900.00"), bal.Pending)
	assert.Equal(t, money.Zero, bal.Wallet)
}

func TestAccessor_IncrementRejectsNonPositive(t *testing.T) {
	a := NewAccessor(NewMemoryStore())
	ctx := context.Background()

	err := a.Increment(ctx, "user_1", FieldPending, money.Zero, "gig_1", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	err = a.Increment(ctx, "user_1", "not_a_field", money.MustParse("10.00"), "gig_1", "")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestAccessor_DecrementFloored(t *testing.T) {
	a := NewAccessor(NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, a.Increment(ctx, "user_1", FieldPending, money.MustParse("100.00"), "gig_1", ""))

	// Debit more than the balance: floors at zero instead of going negative.
	require.NoError(t, a.DecrementFloored(ctx, "user_1", FieldPending, money.MustParse("250.00"), "gig_1", ""))

	bal, err := a.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, money.Zero, bal.Pending)
}

func TestAccessor_Move(t *testing.T) {
	a := NewAccessor(NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, a.Increment(ctx, "user_1", FieldPending, money.MustParse("900.00"), "gig_1", ""))
	require.NoError(t, a.Move(ctx, "user_1", FieldPending, FieldWallet, money.MustParse("900.00"), "gig_1", "settlement"))

	bal, err := a.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, money.Zero, bal.Pending)
	assert.Equal(t, money.MustParse("900.00"), bal.Wallet)
}

func TestAccessor_MoveIdenticalFieldsRejected(t *testing.T) {
	a := NewAccessor(NewMemoryStore())

	err := a.Move(context.Background(), "user_1", FieldWallet, FieldWallet, money.MustParse("10.00"), "", "")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestAccessor_UnknownUserReadsZero(t *testing.T) {
	a := NewAccessor(NewMemoryStore())

	bal, err := a.GetBalance(context.Background(), "user_never_seen")
	require.NoError(t, err)
	assert.True(t, bal.Pending.IsZero())
	assert.True(t, bal.Wallet.IsZero())
	assert.True(t, bal.TotalEarnings.IsZero())
}

func TestMemoryStore_HistoryNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Adjust(ctx, "user_1", FieldPending, money.MustParse("100.00"), false, "gig_1", "first"))
	require.NoError(t, store.Adjust(ctx, "user_1", FieldPending, money.MustParse("200.00"), false, "gig_2", "second"))
	require.NoError(t, store.Adjust(ctx, "user_2", FieldPending, money.MustParse("5.00"), false, "gig_3", "other user"))

	entries, err := store.GetHistory(ctx, "user_1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Description)
	assert.Equal(t, "first", entries[1].Description)
}

func TestMemoryStore_MoveRecordsBothEntries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Adjust(ctx, "user_1", FieldPending, money.MustParse("900.00"), false, "gig_1", "funded"))
	require.NoError(t, store.Move(ctx, "user_1", FieldPending, FieldWallet, money.MustParse("900.00"), "gig_1", "settlement"))

	entries, err := store.GetHistory(ctx, "user_1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// The move appended a debit on pending and a credit on wallet.
	assert.Equal(t, DirectionCredit, entries[0].Direction)
	assert.Equal(t, FieldWallet, entries[0].Field)
	assert.Equal(t, DirectionDebit, entries[1].Direction)
	assert.Equal(t, FieldPending, entries[1].Field)
}

func TestAccessor_HasMovement(t *testing.T) {
	a := NewAccessor(NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, a.Increment(ctx, "user_1", FieldPending, money.MustParse("900.00"), "tx_1", "escrow funded"))

	got, err := a.HasMovement(ctx, "user_1", FieldPending, DirectionCredit, "tx_1")
	require.NoError(t, err)
	assert.True(t, got)

	// Every coordinate participates in the match.
	for _, tc := range []struct {
		userID, direction, reference string
		field                        Field
	}{
		{"user_2", DirectionCredit, "tx_1", FieldPending},
		{"user_1", DirectionDebit, "tx_1", FieldPending},
		{"user_1", DirectionCredit, "tx_2", FieldPending},
		{"user_1", DirectionCredit, "tx_1", FieldWallet},
	} {
		got, err := a.HasMovement(ctx, tc.userID, tc.field, tc.direction, tc.reference)
		require.NoError(t, err)
		assert.False(t, got)
	}

	_, err = a.HasMovement(ctx, "user_1", "not_a_field", DirectionCredit, "tx_1")
	assert.ErrorIs(t, err, ErrUnknownField)
}

// Conservation: a fund then settle cycle creates and destroys no value.
func TestConservationAcrossFundSettle(t *testing.T) {
	a := NewAccessor(NewMemoryStore())
	ctx := context.Background()
	amount := money.MustParse("900.00")

	// Fund: both parties' pending balances credited.
	require.NoError(t, a.Increment(ctx, "worker", FieldPending, amount, "gig_1", "escrow funded"))
	require.NoError(t, a.Increment(ctx, "employer", FieldPending, amount, "gig_1", "escrow funded"))

	// Settle: worker pending -> wallet, earnings credited, employer pending released.
	require.NoError(t, a.Move(ctx, "worker", FieldPending, FieldWallet, amount, "gig_1", "settlement"))
	require.NoError(t, a.Increment(ctx, "worker", FieldEarnings, amount, "gig_1", "settlement"))
	require.NoError(t, a.DecrementFloored(ctx, "employer", FieldPending, amount, "gig_1", "settlement"))

	worker, err := a.GetBalance(ctx, "worker")
	require.NoError(t, err)
	employer, err := a.GetBalance(ctx, "employer")
	require.NoError(t, err)

	assert.Equal(t, money.Zero, worker.Pending)
	assert.Equal(t, amount, worker.Wallet)
	assert.Equal(t, amount, worker.TotalEarnings)
	assert.Equal(t, money.Zero, employer.Pending)
	assert.Equal(t, money.Zero, employer.Wallet)
}
