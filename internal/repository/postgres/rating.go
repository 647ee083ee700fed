package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"trueque/internal/domain"
	"trueque/pkg/errors"
)

type RatingRepository struct {
	db *sqlx.DB
}

func NewRatingRepository(db *sqlx.DB) *RatingRepository {
	return &RatingRepository{db: db}
}

func (r *RatingRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, rating *domain.Rating) error {
	query := `
		INSERT INTO ratings (
			exchange_id, rater_user_id, rated_user_id, rating, comment, created_at
		) VALUES (
			:exchange_id, :rater_user_id, :rated_user_id, :rating, :comment, :created_at
		) RETURNING id
	`
	rows, err := tx.NamedQuery(query, rating)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrAlreadyRated
		}
		return errors.Wrap(err, "failed to insert rating")
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&rating.ID); err != nil {
			return errors.Wrap(err, "failed to scan rating id")
		}
	}
	return rows.Err()
}

func (r *RatingRepository) ExistsByRaterTx(ctx context.Context, tx *sqlx.Tx, exchangeID, raterID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM ratings WHERE exchange_id = $1 AND rater_user_id = $2)`
	if err := tx.GetContext(ctx, &exists, query, exchangeID, raterID); err != nil {
		return false, errors.Wrap(err, "failed to check rating")
	}
	return exists, nil
}

// AggregateTx returns the received-rating average and count for a user.
func (r *RatingRepository) AggregateTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (decimal.Decimal, int, error) {
	var row struct {
		Average decimal.Decimal `db:"average"`
		Count   int             `db:"count"`
	}
	query := `
		SELECT COALESCE(AVG(rating), 0) AS average, COUNT(*) AS count
		FROM ratings WHERE rated_user_id = $1
	`
	if err := tx.GetContext(ctx, &row, query, userID); err != nil {
		return decimal.Zero, 0, errors.Wrap(err, "failed to aggregate ratings")
	}
	return row.Average, row.Count, nil
}

func (r *RatingRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Rating, error) {
	var ratings []*domain.Rating
	query := `
		SELECT * FROM ratings
		WHERE rated_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &ratings, query, userID, limit, offset); err != nil {
		return nil, errors.Wrap(err, "failed to list ratings")
	}
	return ratings, nil
}
