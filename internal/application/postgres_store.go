package application

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/money"
)

// PostgresStore implements Store with PostgreSQL. The one-live-application
// invariant is backed by a partial unique index on (gig_id, applicant_id)
// excluding withdrawn and rejected rows.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed application store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const appColumns = `
	id, gig_id, applicant_id, employer_id, message,
	proposed_rate::TEXT, agreed_rate::TEXT, status, payment_status,
	completion_requested_at, completion_auto_release_at,
	completion_disputed_at, completion_dispute_reason,
	created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, app *Application) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO applications (
			id, gig_id, applicant_id, employer_id, message,
			proposed_rate, agreed_rate, status, payment_status,
			completion_requested_at, completion_auto_release_at,
			completion_disputed_at, completion_dispute_reason,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::NUMERIC(20,2), $7::NUMERIC(20,2),
			$8, $9, $10, $11, $12, $13, $14, $15)
	`, app.ID, app.GigID, app.ApplicantID, app.EmployerID, app.Message,
		app.ProposedRate.String(), app.AgreedRate.String(),
		string(app.Status), string(app.PaymentStatus),
		app.CompletionRequestedAt, app.CompletionAutoReleaseAt,
		app.CompletionDisputedAt, app.CompletionDisputeReason,
		app.CreatedAt, app.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateApplication
		}
		return fmt.Errorf("failed to insert application: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Application, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+appColumns+` FROM applications WHERE id = $1`, id)
	app, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, ErrApplicationNotFound
	}
	return app, err
}

func (p *PostgresStore) Update(ctx context.Context, app *Application) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE applications SET
			agreed_rate = $2::NUMERIC(20,2),
			status = $3,
			payment_status = $4,
			completion_requested_at = $5,
			completion_auto_release_at = $6,
			completion_disputed_at = $7,
			completion_dispute_reason = $8,
			updated_at = $9
		WHERE id = $1
	`, app.ID, app.AgreedRate.String(), string(app.Status), string(app.PaymentStatus),
		app.CompletionRequestedAt, app.CompletionAutoReleaseAt,
		app.CompletionDisputedAt, app.CompletionDisputeReason, app.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update application: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrApplicationNotFound
	}
	return nil
}

func (p *PostgresStore) ListByGig(ctx context.Context, gigID string) ([]*Application, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+appColumns+` FROM applications
		WHERE gig_id = $1
		ORDER BY created_at DESC, id DESC
	`, gigID)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()
	return scanApplications(rows)
}

func (p *PostgresStore) ListByApplicant(ctx context.Context, applicantID string, limit int) ([]*Application, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+appColumns+` FROM applications
		WHERE applicant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, applicantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()
	return scanApplications(rows)
}

func (p *PostgresStore) GetLive(ctx context.Context, gigID, applicantID string) (*Application, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+appColumns+` FROM applications
		WHERE gig_id = $1 AND applicant_id = $2
		  AND status NOT IN ('withdrawn', 'rejected')
	`, gigID, applicantID)
	app, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, ErrApplicationNotFound
	}
	return app, err
}

func (p *PostgresStore) CountActive(ctx context.Context, gigID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM applications
		WHERE gig_id = $1 AND status != 'withdrawn'
	`, gigID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count applications: %w", err)
	}
	return count, nil
}

func (p *PostgresStore) AcceptedForGig(ctx context.Context, gigID string) (*Application, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+appColumns+` FROM applications
		WHERE gig_id = $1 AND status = 'accepted'
	`, gigID)
	app, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, ErrNoAcceptedApplication
	}
	return app, err
}

func (p *PostgresStore) FundedForGig(ctx context.Context, gigID string) (*Application, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+appColumns+` FROM applications
		WHERE gig_id = $1 AND status IN ('funded', 'completed')
		ORDER BY updated_at DESC
		LIMIT 1
	`, gigID)
	app, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, ErrApplicationNotFound
	}
	return app, err
}

func (p *PostgresStore) ListAutoReleaseDue(ctx context.Context, now time.Time, limit int) ([]*Application, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+appColumns+` FROM applications
		WHERE status = 'funded'
		  AND completion_disputed_at IS NULL
		  AND completion_auto_release_at IS NOT NULL
		  AND completion_auto_release_at <= $1
		ORDER BY completion_auto_release_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due applications: %w", err)
	}
	defer rows.Close()
	return scanApplications(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApplication(row rowScanner) (*Application, error) {
	var (
		app                                Application
		status, paymentStatus              string
		proposedRate, agreedRate           string
		message, disputeReason             sql.NullString
		requestedAt, releaseAt, disputedAt sql.NullTime
	)
	err := row.Scan(
		&app.ID, &app.GigID, &app.ApplicantID, &app.EmployerID, &message,
		&proposedRate, &agreedRate, &status, &paymentStatus,
		&requestedAt, &releaseAt, &disputedAt, &disputeReason,
		&app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	app.Status = Status(status)
	app.PaymentStatus = PaymentStatus(paymentStatus)
	app.Message = message.String
	app.CompletionDisputeReason = disputeReason.String
	if requestedAt.Valid {
		t := requestedAt.Time
		app.CompletionRequestedAt = &t
	}
	if releaseAt.Valid {
		t := releaseAt.Time
		app.CompletionAutoReleaseAt = &t
	}
	if disputedAt.Valid {
		t := disputedAt.Time
		app.CompletionDisputedAt = &t
	}
	if app.ProposedRate, err = money.Parse(proposedRate); err != nil {
		return nil, fmt.Errorf("corrupt proposed_rate for %s: %w", app.ID, err)
	}
	if app.AgreedRate, err = money.Parse(agreedRate); err != nil {
		return nil, fmt.Errorf("corrupt agreed_rate for %s: %w", app.ID, err)
	}
	return &app, nil
}

func scanApplications(rows *sql.Rows) ([]*Application, error) {
	var out []*Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, rows.Err()
}
