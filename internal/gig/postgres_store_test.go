package gig

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/idgen"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/money"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/testutil"
)

func pgGig(employerID string) *Gig {
	now := time.Now().UTC()
	return &Gig{
		ID:            idgen.WithPrefix("gig_"),
		EmployerID:    employerID,
		Title:         "Paint a wall",
		Budget:        money.MustParse("1000.00"),
		Status:        StatusOpen,
		PaymentStatus: PaymentUnpaid,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestPostgres_GigRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	g := pgGig("user_emp_pg")
	require.NoError(t, store.Create(ctx, g))

	got, err := store.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Paint a wall", got.Title)
	assert.Equal(t, money.MustParse("1000.00"), got.Budget)
	assert.Equal(t, StatusOpen, got.Status)
	assert.Empty(t, got.AssignedTo)
	assert.True(t, got.EscrowAmount.IsZero())

	_, err = store.Get(ctx, "gig_missing")
	assert.ErrorIs(t, err, ErrGigNotFound)
}

func TestPostgres_GigVersionConflict(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	g := pgGig("user_emp_pg")
	require.NoError(t, store.Create(ctx, g))

	fresh, err := store.Get(ctx, g.ID)
	require.NoError(t, err)
	stale, err := store.Get(ctx, g.ID)
	require.NoError(t, err)

	fresh.Status = StatusReviewing
	require.NoError(t, store.Update(ctx, fresh))

	// The stale copy carries the old version and must lose.
	stale.Status = StatusCancelled
	assert.ErrorIs(t, store.Update(ctx, stale), ErrVersionConflict)

	missing := pgGig("user_emp_pg")
	assert.ErrorIs(t, store.Update(ctx, missing), ErrGigNotFound)
}

func TestPostgres_ListOpenExcludesAssigned(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	open := pgGig("user_emp_pg")
	require.NoError(t, store.Create(ctx, open))

	assigned := pgGig("user_emp_pg")
	assigned.AssignedTo = "user_worker_pg"
	require.NoError(t, store.Create(ctx, assigned))

	closed := pgGig("user_emp_pg")
	closed.Status = StatusReviewing
	require.NoError(t, store.Create(ctx, closed))

	gigs, err := store.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, gigs, 1)
	assert.Equal(t, open.ID, gigs[0].ID)

	mine, err := store.ListByEmployer(ctx, "user_emp_pg", 10)
	require.NoError(t, err)
	assert.Len(t, mine, 3)
}

func TestPostgres_GigEscrowFields(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	g := pgGig("user_emp_pg")
	require.NoError(t, store.Create(ctx, g))

	g.Status = StatusInProgress
	g.PaymentStatus = PaymentFunded
	g.EscrowAmount = money.MustParse("900.00")
	g.EscrowTransactionID = "tx_pg_1"
	require.NoError(t, store.Update(ctx, g))

	got, err := store.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentFunded, got.PaymentStatus)
	assert.Equal(t, money.MustParse("900.00"), got.EscrowAmount)
	assert.Equal(t, "tx_pg_1", got.EscrowTransactionID)
}
