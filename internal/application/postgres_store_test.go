package application

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/gig"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/idgen"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/money"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/testutil"
)

// seedGig inserts a parent gig row to satisfy the foreign key.
func seedGig(t *testing.T, db *sql.DB, employerID string) string {
	t.Helper()
	now := time.Now().UTC()
	g := &gig.Gig{
		ID:            idgen.WithPrefix("gig_"),
		EmployerID:    employerID,
		Title:         "Test gig",
		Budget:        money.MustParse("900.00"),
		Status:        gig.StatusOpen,
		PaymentStatus: gig.PaymentUnpaid,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, gig.NewPostgresStore(db).Create(context.Background(), g))
	return g.ID
}

func pgApplication(gigID, applicantID, employerID string) *Application {
	now := time.Now().UTC()
	return &Application{
		ID:            idgen.WithPrefix("app_"),
		GigID:         gigID,
		ApplicantID:   applicantID,
		EmployerID:    employerID,
		ProposedRate:  money.MustParse("850.00"),
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestPostgres_CreateAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	gigID := seedGig(t, db, "user_emp_pg")
	app := pgApplication(gigID, "user_worker_pg", "user_emp_pg")
	app.Message = "I can start tomorrow"
	require.NoError(t, store.Create(ctx, app))

	got, err := store.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, app.ID, got.ID)
	assert.Equal(t, gigID, got.GigID)
	assert.Equal(t, "I can start tomorrow", got.Message)
	assert.Equal(t, money.MustParse("850.00"), got.ProposedRate)
	assert.True(t, got.AgreedRate.IsZero())
	assert.Nil(t, got.CompletionRequestedAt)
	assert.Nil(t, got.CompletionDisputedAt)

	_, err = store.Get(ctx, "app_missing")
	assert.ErrorIs(t, err, ErrApplicationNotFound)
}

func TestPostgres_LivePairUnique(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	gigID := seedGig(t, db, "user_emp_pg")
	first := pgApplication(gigID, "user_worker_pg", "user_emp_pg")
	require.NoError(t, store.Create(ctx, first))

	// Second live application for the same pair hits the partial index.
	dup := pgApplication(gigID, "user_worker_pg", "user_emp_pg")
	assert.ErrorIs(t, store.Create(ctx, dup), ErrDuplicateApplication)

	// After withdrawing, re-applying is allowed again.
	first.Status = StatusWithdrawn
	require.NoError(t, store.Update(ctx, first))
	again := pgApplication(gigID, "user_worker_pg", "user_emp_pg")
	require.NoError(t, store.Create(ctx, again))
}

func TestPostgres_CountActiveExcludesWithdrawn(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	gigID := seedGig(t, db, "user_emp_pg")

	a := pgApplication(gigID, "user_w1", "user_emp_pg")
	require.NoError(t, store.Create(ctx, a))
	b := pgApplication(gigID, "user_w2", "user_emp_pg")
	require.NoError(t, store.Create(ctx, b))
	c := pgApplication(gigID, "user_w3", "user_emp_pg")
	require.NoError(t, store.Create(ctx, c))

	b.Status = StatusWithdrawn
	require.NoError(t, store.Update(ctx, b))
	c.Status = StatusRejected
	require.NoError(t, store.Update(ctx, c))

	// Rejected still occupies a slot; withdrawn frees one.
	n, err := store.CountActive(ctx, gigID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Withdrawn and rejected no longer block a fresh application.
	_, err = store.GetLive(ctx, gigID, "user_w2")
	assert.ErrorIs(t, err, ErrApplicationNotFound)
	_, err = store.GetLive(ctx, gigID, "user_w3")
	assert.ErrorIs(t, err, ErrApplicationNotFound)
	live, err := store.GetLive(ctx, gigID, "user_w1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, live.ID)
}

func TestPostgres_ListAutoReleaseDue(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	gigA := seedGig(t, db, "user_emp_pg")
	gigB := seedGig(t, db, "user_emp_pg")
	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	due := pgApplication(gigA, "user_w1", "user_emp_pg")
	due.Status = StatusFunded
	due.PaymentStatus = PaymentInEscrow
	due.CompletionRequestedAt = &past
	due.CompletionAutoReleaseAt = &past
	require.NoError(t, store.Create(ctx, due))

	disputed := pgApplication(gigB, "user_w2", "user_emp_pg")
	disputed.Status = StatusFunded
	disputed.PaymentStatus = PaymentDisputed
	disputed.CompletionRequestedAt = &past
	disputed.CompletionAutoReleaseAt = &past
	disputed.CompletionDisputedAt = &now
	disputed.CompletionDisputeReason = "work not finished"
	require.NoError(t, store.Create(ctx, disputed))

	apps, err := store.ListAutoReleaseDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, due.ID, apps[0].ID)
}
