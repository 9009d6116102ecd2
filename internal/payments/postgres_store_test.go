package payments

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

func seedGig(t *testing.T, db *sql.DB) string {
	t.Helper()
	now := time.Now().UTC()
	g := &gig.Gig{
		ID:            idgen.WithPrefix("gig_"),
		EmployerID:    "user_emp_pg",
		Title:         "Test gig",
		Budget:        money.MustParse("1000.00"),
		Status:        gig.StatusOpen,
		PaymentStatus: gig.PaymentUnpaid,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, gig.NewPostgresStore(db).Create(context.Background(), g))
	return g.ID
}

func pgIntent(gigID, txID string) *Intent {
	now := time.Now().UTC()
	return &Intent{
		ID:            idgen.WithPrefix("pi_"),
		GigID:         gigID,
		Provider:      "ozow",
		TransactionID: txID,
		Status:        IntentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestPostgres_IntentRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresIntentStore(db)
	ctx := context.Background()

	gigID := seedGig(t, db)
	intent := pgIntent(gigID, "tx_pg_1")
	require.NoError(t, store.Create(ctx, intent))

	got, err := store.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, gigID, got.GigID)
	assert.Equal(t, IntentPending, got.Status)

	byTx, err := store.GetByProviderTx(ctx, "ozow", "tx_pg_1")
	require.NoError(t, err)
	assert.Equal(t, intent.ID, byTx.ID)

	got.Status = IntentFunded
	got.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.Update(ctx, got))

	got, err = store.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, IntentFunded, got.Status)

	_, err = store.Get(ctx, "pi_missing")
	assert.ErrorIs(t, err, ErrIntentNotFound)
	_, err = store.GetByProviderTx(ctx, "ozow", "tx_missing")
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestPostgres_DuplicateProviderTx(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresIntentStore(db)
	ctx := context.Background()

	gigID := seedGig(t, db)
	require.NoError(t, store.Create(ctx, pgIntent(gigID, "tx_pg_dup")))
	assert.ErrorIs(t, store.Create(ctx, pgIntent(gigID, "tx_pg_dup")), ErrDuplicateIntent)

	// Same transaction ID under a different provider is a distinct intent.
	other := pgIntent(gigID, "tx_pg_dup")
	other.Provider = "payfast"
	require.NoError(t, store.Create(ctx, other))
}

func TestPostgres_GetByGigLatest(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresIntentStore(db)
	ctx := context.Background()

	gigID := seedGig(t, db)
	first := pgIntent(gigID, "tx_pg_a")
	first.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Create(ctx, first))
	second := pgIntent(gigID, "tx_pg_b")
	require.NoError(t, store.Create(ctx, second))

	latest, err := store.GetByGig(ctx, gigID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}
