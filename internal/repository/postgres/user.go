package postgres

import (
	"context"
	"database/sql"
	"sort"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trueque/internal/domain"
	"trueque/pkg/errors"
)

// UserRepository implements user persistence. The user row doubles as the
// lock target for that user's ledger tail.
type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user := &domain.User{}
	query := `SELECT * FROM users WHERE id = $1 AND deleted_at IS NULL`
	if err := r.db.GetContext(ctx, user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "failed to find user by id")
	}
	return user, nil
}

// LockTx takes an exclusive lock on the user row, serializing all ledger
// appends for that user until the transaction ends.
func (r *UserRepository) LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	var locked uuid.UUID
	query := `SELECT id FROM users WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	if err := tx.GetContext(ctx, &locked, query, id); err != nil {
		if err == sql.ErrNoRows {
			return errors.ErrUserNotFound
		}
		return errors.Wrap(err, "failed to lock user row")
	}
	return nil
}

// LockManyTx locks several user rows in ascending identifier order so
// that concurrent multi-user operations cannot deadlock.
func (r *UserRepository) LockManyTx(ctx context.Context, tx *sqlx.Tx, ids ...uuid.UUID) error {
	ordered := make([]uuid.UUID, len(ids))
	copy(ordered, ids)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].String() < ordered[j].String()
	})
	for _, id := range ordered {
		if err := r.LockTx(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

// AwardPointsTx adds sustainability and experience points and returns the
// updated totals. Caller decides whether a level change follows.
func (r *UserRepository) AwardPointsTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, points, experience int) (*domain.User, error) {
	user := &domain.User{}
	query := `
		UPDATE users SET
			sustainability_points = sustainability_points + $1,
			experience_points = experience_points + $2,
			updated_at = NOW()
		WHERE id = $3 AND deleted_at IS NULL
		RETURNING *
	`
	if err := tx.GetContext(ctx, user, query, points, experience, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "failed to award points")
	}
	return user, nil
}

// SetLevelTx records a recomputed level.
func (r *UserRepository) SetLevelTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, level int) error {
	query := `UPDATE users SET level = $1, updated_at = NOW() WHERE id = $2`
	if _, err := tx.ExecContext(ctx, query, level, id); err != nil {
		return errors.Wrap(err, "failed to set level")
	}
	return nil
}
