package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trueque/internal/domain"
	"trueque/pkg/errors"
)

// LedgerRepository implements append-only ledger persistence. Entries are
// never updated; balance is always derived from the latest non-deleted
// entry's balance_after.
type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// LastBalanceTx reads the running balance off the newest non-deleted
// entry. The caller must already hold the user's ledger lock.
func (r *LedgerRepository) LastBalanceTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (int64, error) {
	var balance int64
	query := `
		SELECT balance_after FROM ledger_entries
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	err := tx.GetContext(ctx, &balance, query, userID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to read last balance")
	}
	return balance, nil
}

// InsertTx appends one entry. The balance_after value must have been
// computed against the locked tail.
func (r *LedgerRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, entry *domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (
			user_id, kind, amount, balance_after, reference_id, description, created_at
		) VALUES (
			:user_id, :kind, :amount, :balance_after, :reference_id, :description, :created_at
		) RETURNING id
	`
	rows, err := tx.NamedQuery(query, entry)
	if err != nil {
		return errors.Wrap(err, "failed to insert ledger entry")
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&entry.ID); err != nil {
			return errors.Wrap(err, "failed to scan ledger entry id")
		}
	}
	return rows.Err()
}

// Balance returns the latest balance without locking; suitable for reads.
func (r *LedgerRepository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	query := `
		SELECT balance_after FROM ledger_entries
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	err := r.db.GetContext(ctx, &balance, query, userID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to read balance")
	}
	return balance, nil
}

// History returns a user's most recent entries, newest first.
func (r *LedgerRepository) History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	query := `
		SELECT * FROM ledger_entries
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &entries, query, userID, limit); err != nil {
		return nil, errors.Wrap(err, "failed to read ledger history")
	}
	return entries, nil
}

// SumAmounts aggregates signed entry amounts for a user, split into
// earned (credits in) and spent (credits out). Used by the reputation
// projector's full recompute.
func (r *LedgerRepository) SumAmountsTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (earned, spent int64, err error) {
	row := tx.QueryRowxContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE amount > 0), 0),
			COALESCE(-SUM(amount) FILTER (WHERE amount < 0), 0)
		FROM ledger_entries
		WHERE user_id = $1 AND deleted_at IS NULL
	`, userID)
	if err := row.Scan(&earned, &spent); err != nil {
		return 0, 0, errors.Wrap(err, "failed to sum ledger amounts")
	}
	return earned, spent, nil
}
