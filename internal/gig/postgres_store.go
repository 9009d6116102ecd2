package gig

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/money"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed gig store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const gigColumns = `
	id, employer_id, title, description, budget::TEXT, max_applicants,
	status, assigned_to, escrow_amount::TEXT, escrow_transaction_id,
	payment_status, version, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, g *Gig) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO gigs (
			id, employer_id, title, description, budget, max_applicants,
			status, assigned_to, escrow_amount, escrow_transaction_id,
			payment_status, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::NUMERIC(20,2), $6, $7, $8, $9::NUMERIC(20,2), $10, $11, $12, $13, $14)
	`, g.ID, g.EmployerID, g.Title, g.Description, g.Budget.String(), g.MaxApplicants,
		string(g.Status), nullable(g.AssignedTo), g.EscrowAmount.String(), nullable(g.EscrowTransactionID),
		string(g.PaymentStatus), g.Version, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert gig: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Gig, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+gigColumns+` FROM gigs WHERE id = $1`, id)
	g, err := scanGig(row)
	if err == sql.ErrNoRows {
		return nil, ErrGigNotFound
	}
	return g, err
}

// Update writes the gig conditionally on its current version (optimistic
// concurrency) and increments the version on success.
func (p *PostgresStore) Update(ctx context.Context, g *Gig) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE gigs SET
			title = $3,
			description = $4,
			budget = $5::NUMERIC(20,2),
			max_applicants = $6,
			status = $7,
			assigned_to = $8,
			escrow_amount = $9::NUMERIC(20,2),
			escrow_transaction_id = $10,
			payment_status = $11,
			version = version + 1,
			updated_at = $12
		WHERE id = $1 AND version = $2
	`, g.ID, g.Version, g.Title, g.Description, g.Budget.String(), g.MaxApplicants,
		string(g.Status), nullable(g.AssignedTo), g.EscrowAmount.String(),
		nullable(g.EscrowTransactionID), string(g.PaymentStatus), g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update gig: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish a missing gig from a concurrent writer.
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM gigs WHERE id = $1)`, g.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrGigNotFound
		}
		return ErrVersionConflict
	}

	g.Version++
	return nil
}

func (p *PostgresStore) ListByEmployer(ctx context.Context, employerID string, limit int) ([]*Gig, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+gigColumns+` FROM gigs
		WHERE employer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, employerID, limit)
	if err != nil {
		return nil, err
	}
	return collectGigs(rows)
}

func (p *PostgresStore) ListOpen(ctx context.Context, limit int) ([]*Gig, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+gigColumns+` FROM gigs
		WHERE status = 'open' AND assigned_to IS NULL
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collectGigs(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGig(row rowScanner) (*Gig, error) {
	g := &Gig{}
	var budget, escrowAmount, status, paymentStatus string
	var assignedTo, escrowTxID sql.NullString

	err := row.Scan(
		&g.ID, &g.EmployerID, &g.Title, &g.Description, &budget, &g.MaxApplicants,
		&status, &assignedTo, &escrowAmount, &escrowTxID,
		&paymentStatus, &g.Version, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if g.Budget, err = money.Parse(budget); err != nil {
		return nil, fmt.Errorf("parse budget: %w", err)
	}
	if g.EscrowAmount, err = money.Parse(escrowAmount); err != nil {
		return nil, fmt.Errorf("parse escrow_amount: %w", err)
	}
	g.Status = Status(status)
	g.PaymentStatus = PaymentStatus(paymentStatus)
	g.AssignedTo = assignedTo.String
	g.EscrowTransactionID = escrowTxID.String
	return g, nil
}

func collectGigs(rows *sql.Rows) ([]*Gig, error) {
	defer func() { _ = rows.Close() }()

	var gigs []*Gig
	for rows.Next() {
		g, err := scanGig(rows)
		if err != nil {
			return nil, err
		}
		gigs = append(gigs, g)
	}
	return gigs, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
