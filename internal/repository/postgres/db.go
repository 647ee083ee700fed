// Package postgres implements the engine's persistence on PostgreSQL.
//
// Every mutating engine operation runs inside a single transaction
// provided by TxRunner. Row locks are taken with SELECT ... FOR UPDATE
// through the *Tx repository methods; a per-transaction lock_timeout
// bounds lock waits so contention surfaces as a retryable busy error
// instead of queuing indefinitely.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	pkgerrors "trueque/pkg/errors"
)

const (
	pqLockNotAvailable   = "55P03"
	pqSerializationError = "40001"
	pqUniqueViolation    = "23505"
)

// TxRunner owns transaction lifecycle for units of work.
type TxRunner struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewTxRunner creates a TxRunner with the given bounded lock wait.
func NewTxRunner(db *sqlx.DB, lockTimeout time.Duration) *TxRunner {
	return &TxRunner{db: db, lockTimeout: lockTimeout}
}

// InTx runs fn inside one transaction: commit if fn returns nil,
// full rollback otherwise. Lock contention beyond the configured
// timeout is reported as ErrBusy.
func (r *TxRunner) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "begin tx")
	}

	if r.lockTimeout > 0 {
		timeout := fmt.Sprintf("%d", r.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, "SET LOCAL lock_timeout = "+timeout); err != nil {
			_ = tx.Rollback()
			return pkgerrors.Wrap(err, "set lock timeout")
		}
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after error: %v (original: %w)", rbErr, err)
		}
		return mapPgError(err)
	}

	if err := tx.Commit(); err != nil {
		return mapPgError(pkgerrors.Wrap(err, "commit tx"))
	}

	return nil
}

// mapPgError converts low-level contention failures into the single
// retryable error class callers are allowed to retry on.
func mapPgError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqLockNotAvailable, pqSerializationError:
			return fmt.Errorf("%w: %v", pkgerrors.ErrBusy, err)
		}
	}
	return err
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}
