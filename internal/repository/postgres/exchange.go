package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trueque/internal/domain"
	"trueque/pkg/errors"
)

type ExchangeRepository struct {
	db *sqlx.DB
}

func NewExchangeRepository(db *sqlx.DB) *ExchangeRepository {
	return &ExchangeRepository{db: db}
}

func (r *ExchangeRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, exchange *domain.Exchange) error {
	query := `
		INSERT INTO exchanges (
			id, offer_id, buyer_id, seller_id, credits_amount, status,
			proposed_location, buyer_confirmed, seller_confirmed, created_at, updated_at
		) VALUES (
			:id, :offer_id, :buyer_id, :seller_id, :credits_amount, :status,
			:proposed_location, :buyer_confirmed, :seller_confirmed, :created_at, :updated_at
		)
	`
	if _, err := tx.NamedExecContext(ctx, query, exchange); err != nil {
		return errors.Wrap(err, "failed to insert exchange")
	}
	return nil
}

func (r *ExchangeRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Exchange, error) {
	exchange := &domain.Exchange{}
	query := `SELECT * FROM exchanges WHERE id = $1`
	if err := r.db.GetContext(ctx, exchange, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrExchangeNotFound
		}
		return nil, errors.Wrap(err, "failed to find exchange")
	}
	return exchange, nil
}

// LockTx locks the exchange row; every state transition starts here.
func (r *ExchangeRepository) LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Exchange, error) {
	exchange := &domain.Exchange{}
	query := `SELECT * FROM exchanges WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, exchange, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrExchangeNotFound
		}
		return nil, errors.Wrap(err, "failed to lock exchange")
	}
	return exchange, nil
}

func (r *ExchangeRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, exchange *domain.Exchange) error {
	query := `
		UPDATE exchanges SET
			status = :status,
			buyer_confirmed = :buyer_confirmed,
			seller_confirmed = :seller_confirmed,
			buyer_confirmed_at = :buyer_confirmed_at,
			seller_confirmed_at = :seller_confirmed_at,
			proposed_location = :proposed_location,
			cancellation_reason = :cancellation_reason,
			completed_at = :completed_at,
			updated_at = NOW()
		WHERE id = :id
	`
	result, err := tx.NamedExecContext(ctx, query, exchange)
	if err != nil {
		return errors.Wrap(err, "failed to update exchange")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.ErrExchangeNotFound
	}
	return nil
}

// HasOpenByBuyerTx reports whether the buyer already has a live proposal
// against the offer.
func (r *ExchangeRepository) HasOpenByBuyerTx(ctx context.Context, tx *sqlx.Tx, offerID, buyerID uuid.UUID) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM exchanges
			WHERE offer_id = $1 AND buyer_id = $2
			  AND status NOT IN ('completed', 'cancelled')
		)
	`
	if err := tx.GetContext(ctx, &exists, query, offerID, buyerID); err != nil {
		return false, errors.Wrap(err, "failed to check open proposals")
	}
	return exists, nil
}

// ListByUser returns exchanges where the user is either party, newest first.
func (r *ExchangeRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Exchange, error) {
	var exchanges []*domain.Exchange
	query := `
		SELECT * FROM exchanges
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &exchanges, query, userID, limit, offset); err != nil {
		return nil, errors.Wrap(err, "failed to list exchanges")
	}
	return exchanges, nil
}

// StatsTx counts a user's exchanges across both roles: all of them, and
// the completed subset.
func (r *ExchangeRepository) StatsTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (total, completed int, err error) {
	row := tx.QueryRowxContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'completed')
		FROM exchanges
		WHERE buyer_id = $1 OR seller_id = $1
	`, userID)
	if err := row.Scan(&total, &completed); err != nil {
		return 0, 0, errors.Wrap(err, "failed to count exchanges")
	}
	return total, completed, nil
}
