package payments

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresIntentStore implements IntentStore with PostgreSQL. The
// (provider, transaction_id) pair carries a unique index.
type PostgresIntentStore struct {
	db *sql.DB
}

// NewPostgresIntentStore creates a new PostgreSQL-backed intent store
func NewPostgresIntentStore(db *sql.DB) *PostgresIntentStore {
	return &PostgresIntentStore{db: db}
}

const intentColumns = `id, gig_id, provider, transaction_id, status, created_at, updated_at`

func (p *PostgresIntentStore) Create(ctx context.Context, intent *Intent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payment_intents (id, gig_id, provider, transaction_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, intent.ID, intent.GigID, intent.Provider, intent.TransactionID,
		string(intent.Status), intent.CreatedAt, intent.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateIntent
		}
		return fmt.Errorf("failed to insert payment intent: %w", err)
	}
	return nil
}

func (p *PostgresIntentStore) Get(ctx context.Context, id string) (*Intent, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id)
	return scanIntent(row)
}

func (p *PostgresIntentStore) GetByProviderTx(ctx context.Context, provider, transactionID string) (*Intent, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE provider = $1 AND transaction_id = $2
	`, provider, transactionID)
	return scanIntent(row)
}

func (p *PostgresIntentStore) GetByGig(ctx context.Context, gigID string) (*Intent, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE gig_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, gigID)
	return scanIntent(row)
}

func (p *PostgresIntentStore) Update(ctx context.Context, intent *Intent) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payment_intents SET status = $2, updated_at = $3 WHERE id = $1
	`, intent.ID, string(intent.Status), intent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update payment intent: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrIntentNotFound
	}
	return nil
}

func scanIntent(row *sql.Row) (*Intent, error) {
	var (
		intent Intent
		status string
	)
	err := row.Scan(&intent.ID, &intent.GigID, &intent.Provider, &intent.TransactionID,
		&status, &intent.CreatedAt, &intent.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	intent.Status = IntentStatus(status)
	return &intent, nil
}
