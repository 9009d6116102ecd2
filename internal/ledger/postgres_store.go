package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/idgen"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/money"
)

// PostgresStore implements Store with PostgreSQL.
//
// Balance changes use native NUMERIC arithmetic inside a serializable
// transaction that also appends the ledger entries, so a partial write can
// never leave a balance without its audit trail.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// column maps a validated Field to its user_balances column. Fields are a
// closed set, so this never interpolates caller input into SQL.
func column(f Field) (string, error) {
	switch f {
	case FieldPending:
		return "pending_balance", nil
	case FieldWallet:
		return "wallet_balance", nil
	case FieldEarnings:
		return "total_earnings", nil
	}
	return "", ErrUnknownField
}

// GetBalance retrieves a user's balance. Unknown users read as zero.
func (p *PostgresStore) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	bal := &Balance{UserID: userID}
	var pending, wallet, earnings string

	err := p.db.QueryRowContext(ctx, `
		SELECT pending_balance::TEXT, wallet_balance::TEXT, total_earnings::TEXT, updated_at
		FROM user_balances WHERE user_id = $1
	`, userID).Scan(&pending, &wallet, &earnings, &bal.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Balance{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}

	if bal.Pending, err = money.Parse(pending); err != nil {
		return nil, fmt.Errorf("parse pending_balance: %w", err)
	}
	if bal.Wallet, err = money.Parse(wallet); err != nil {
		return nil, fmt.Errorf("parse wallet_balance: %w", err)
	}
	if bal.TotalEarnings, err = money.Parse(earnings); err != nil {
		return nil, fmt.Errorf("parse total_earnings: %w", err)
	}
	return bal, nil
}

// Adjust applies delta to one field and appends the matching entry.
func (p *PostgresStore) Adjust(ctx context.Context, userID string, field Field, delta money.Rand, floored bool, reference, description string) error {
	col, err := column(field)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ensureRow(ctx, tx, userID); err != nil {
		return err
	}

	expr := col + " + $2::NUMERIC(20,2)"
	if floored {
		expr = "GREATEST(" + expr + ", 0)"
	}
	// #nosec G201 -- col comes from the closed Field set, not caller input
	query := fmt.Sprintf(`
		UPDATE user_balances SET %s = %s, updated_at = NOW()
		WHERE user_id = $1
	`, col, expr)
	if _, err := tx.ExecContext(ctx, query, userID, delta.String()); err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	if err := insertEntry(ctx, tx, userID, field, delta, reference, description); err != nil {
		return err
	}

	return tx.Commit()
}

// Move debits amount from one field (floored at zero) and credits it to
// another in the same transaction.
func (p *PostgresStore) Move(ctx context.Context, userID string, from, to Field, amount money.Rand, reference, description string) error {
	fromCol, err := column(from)
	if err != nil {
		return err
	}
	toCol, err := column(to)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ensureRow(ctx, tx, userID); err != nil {
		return err
	}

	// #nosec G201 -- columns come from the closed Field set, not caller input
	query := fmt.Sprintf(`
		UPDATE user_balances SET
			%s = GREATEST(%s - $2::NUMERIC(20,2), 0),
			%s = %s + $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE user_id = $1
	`, fromCol, fromCol, toCol, toCol)
	if _, err := tx.ExecContext(ctx, query, userID, amount.String()); err != nil {
		return fmt.Errorf("failed to move balance: %w", err)
	}

	if err := insertEntry(ctx, tx, userID, from, -amount, reference, description); err != nil {
		return err
	}
	if err := insertEntry(ctx, tx, userID, to, amount, reference, description); err != nil {
		return err
	}

	return tx.Commit()
}

// HasEntry reports whether a matching movement was already recorded.
func (p *PostgresStore) HasEntry(ctx context.Context, userID string, field Field, direction, reference string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE user_id = $1 AND field = $2 AND direction = $3 AND reference = $4
		)
	`, userID, string(field), direction, reference).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// GetHistory returns a user's most recent entries, newest first.
func (p *PostgresStore) GetHistory(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, field, direction, amount::TEXT, reference, description, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var field, amount string
		var reference, description sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &field, &e.Direction, &amount, &reference, &description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Field = Field(field)
		if e.Amount, err = money.Parse(amount); err != nil {
			return nil, fmt.Errorf("parse entry amount: %w", err)
		}
		e.Reference = reference.String
		e.Description = description.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func ensureRow(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_balances (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to ensure balance row: %w", err)
	}
	return nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, userID string, field Field, delta money.Rand, reference, description string) error {
	direction := DirectionCredit
	amount := delta
	if delta < 0 {
		direction = DirectionDebit
		amount = -delta
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, field, direction, amount, reference, description, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,2), $6, $7, NOW())
	`, idgen.WithPrefix("le_"), userID, string(field), direction, amount.String(), reference, description)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}
	return nil
}
