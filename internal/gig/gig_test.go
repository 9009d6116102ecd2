package gig

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/money"
)

func newTestService() *Service {
	return NewService(NewMemoryStore())
}

func createGig(t *testing.T, s *Service, employerID string) *Gig {
	t.Helper()
	g, err := s.Create(context.Background(), CreateRequest{
		EmployerID: employerID,
		Title:      "Paint a fence",
		Budget:     "1000.00",
	})
	require.NoError(t, err)
	return g
}

func TestCreate(t *testing.T) {
	s := newTestService()

	g := createGig(t, s, "user_employer")

	assert.Equal(t, StatusOpen, g.Status)
	assert.Equal(t, PaymentUnpaid, g.PaymentStatus)
	assert.Equal(t, money.MustParse("1000.00"), g.Budget)
	assert.True(t, g.OpenForApplications())
}

func TestCreate_Validation(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"missing employer", CreateRequest{Title: "x", Budget: "100.00"}},
		{"missing title", CreateRequest{EmployerID: "user_e", Budget: "100.00"}},
		{"zero budget", CreateRequest{EmployerID: "user_e", Title: "x", Budget: "0.00"}},
		{"malformed budget", CreateRequest{EmployerID: "user_e", Title: "x", Budget: "lots"}},
		{"negative capacity", CreateRequest{EmployerID: "user_e", Title: "x", Budget: "100.00", MaxApplicants: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(ctx, tt.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestOpenForApplications_TwoPhaseGate(t *testing.T) {
	g := &Gig{Status: StatusOpen}
	assert.True(t, g.OpenForApplications())

	// Acceptance sets assignedTo without changing status; the gig must
	// stop being visible even though it is still "open".
	g.AssignedTo = "user_worker"
	assert.False(t, g.OpenForApplications())

	g.AssignedTo = ""
	g.Status = StatusReviewing
	assert.False(t, g.OpenForApplications())
}

func TestBeginReview(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	g := createGig(t, s, "user_employer")

	got, err := s.BeginReview(ctx, g.ID, "user_employer")
	require.NoError(t, err)
	assert.Equal(t, StatusReviewing, got.Status)

	// Idempotent for an already-reviewing gig.
	got, err = s.BeginReview(ctx, g.ID, "user_employer")
	require.NoError(t, err)
	assert.Equal(t, StatusReviewing, got.Status)
}

func TestBeginReview_NotOwner(t *testing.T) {
	s := newTestService()
	g := createGig(t, s, "user_employer")

	_, err := s.BeginReview(context.Background(), g.ID, "user_other")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestAssign(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	g := createGig(t, s, "user_employer")

	got, err := s.Assign(ctx, g.ID, "user_worker")
	require.NoError(t, err)
	assert.Equal(t, "user_worker", got.AssignedTo)
	// Assignment does not change status.
	assert.Equal(t, StatusOpen, got.Status)

	// Re-assigning to the same worker is a no-op.
	_, err = s.Assign(ctx, g.ID, "user_worker")
	require.NoError(t, err)

	// Assigning to a different worker is rejected.
	_, err = s.Assign(ctx, g.ID, "user_other")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkFunded(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	g := createGig(t, s, "user_employer")
	_, err := s.Assign(ctx, g.ID, "user_worker")
	require.NoError(t, err)

	got, applied, err := s.MarkFunded(ctx, g.ID, money.MustParse("900.00"), "tx_abc")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Equal(t, PaymentFunded, got.PaymentStatus)
	assert.Equal(t, money.MustParse("900.00"), got.EscrowAmount)
	assert.Equal(t, "tx_abc", got.EscrowTransactionID)
}

func TestMarkFunded_DuplicateSkipped(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	g := createGig(t, s, "user_employer")

	_, applied, err := s.MarkFunded(ctx, g.ID, money.MustParse("900.00"), "tx_abc")
	require.NoError(t, err)
	assert.True(t, applied)

	// Webhooks are redelivered: the second funding is skipped, not an error.
	got, applied, err := s.MarkFunded(ctx, g.ID, money.MustParse("900.00"), "tx_abc")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, PaymentFunded, got.PaymentStatus)
}

func TestMarkFunded_CancelledGigRejected(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	g := createGig(t, s, "user_employer")

	_, _, err := s.MarkCancelled(ctx, g.ID)
	require.NoError(t, err)

	_, _, err = s.MarkFunded(ctx, g.ID, money.MustParse("900.00"), "tx_abc")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkSettled(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	g := createGig(t, s, "user_employer")
	_, _, err := s.MarkFunded(ctx, g.ID, money.MustParse("900.00"), "tx_abc")
	require.NoError(t, err)

	got, applied, err := s.MarkSettled(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, PaymentReleased, got.PaymentStatus)

	// Duplicate settlement is skipped.
	_, applied, err = s.MarkSettled(ctx, g.ID)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMarkSettled_RequiresInProgress(t *testing.T) {
	s := newTestService()
	g := createGig(t, s, "user_employer")

	_, _, err := s.MarkSettled(context.Background(), g.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkCancelled_FundedFlipsToRefunded(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	g := createGig(t, s, "user_employer")
	_, _, err := s.MarkFunded(ctx, g.ID, money.MustParse("900.00"), "tx_abc")
	require.NoError(t, err)

	got, applied, err := s.MarkCancelled(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, PaymentRefunded, got.PaymentStatus)
	assert.Empty(t, got.EscrowTransactionID)
}

func TestMarkCancelled_CompletedRejected(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	g := createGig(t, s, "user_employer")
	_, _, err := s.MarkFunded(ctx, g.ID, money.MustParse("900.00"), "tx_abc")
	require.NoError(t, err)
	_, _, err = s.MarkSettled(ctx, g.ID)
	require.NoError(t, err)

	_, _, err = s.MarkCancelled(ctx, g.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMemoryStore_VersionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	g := &Gig{ID: "gig_1", EmployerID: "user_e", Status: StatusOpen, Version: 1}
	require.NoError(t, store.Create(ctx, g))

	a, err := store.Get(ctx, "gig_1")
	require.NoError(t, err)
	b, err := store.Get(ctx, "gig_1")
	require.NoError(t, err)

	a.Status = StatusReviewing
	require.NoError(t, store.Update(ctx, a))

	// The second writer read version 1 and must not clobber the update.
	b.Status = StatusCancelled
	assert.ErrorIs(t, store.Update(ctx, b), ErrVersionConflict)
}

func TestListOpen_ExcludesAssigned(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	open := createGig(t, s, "user_employer")
	assigned := createGig(t, s, "user_employer")
	_, err := s.Assign(ctx, assigned.ID, "user_worker")
	require.NoError(t, err)

	gigs, err := s.ListOpen(ctx, 50)
	require.NoError(t, err)
	require.Len(t, gigs, 1)
	assert.Equal(t, open.ID, gigs[0].ID)
}
