package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trueque/internal/domain"
	"trueque/pkg/errors"
)

type OfferRepository struct {
	db *sqlx.DB
}

func NewOfferRepository(db *sqlx.DB) *OfferRepository {
	return &OfferRepository{db: db}
}

func (r *OfferRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Offer, error) {
	offer := &domain.Offer{}
	query := `SELECT * FROM offers WHERE id = $1 AND deleted_at IS NULL`
	if err := r.db.GetContext(ctx, offer, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrOfferNotFound
		}
		return nil, errors.Wrap(err, "failed to find offer")
	}
	return offer, nil
}

// LockTx locks the offer row for the duration of the transaction.
func (r *OfferRepository) LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Offer, error) {
	offer := &domain.Offer{}
	query := `SELECT * FROM offers WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	if err := tx.GetContext(ctx, offer, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrOfferNotFound
		}
		return nil, errors.Wrap(err, "failed to lock offer")
	}
	return offer, nil
}

func (r *OfferRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status domain.OfferStatus) error {
	query := `UPDATE offers SET status = $1, updated_at = NOW() WHERE id = $2`
	result, err := tx.ExecContext(ctx, query, status, id)
	if err != nil {
		return errors.Wrap(err, "failed to update offer status")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.ErrOfferNotFound
	}
	return nil
}
