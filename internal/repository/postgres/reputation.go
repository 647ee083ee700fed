package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trueque/internal/domain"
	"trueque/pkg/errors"
)

type ReputationRepository struct {
	db *sqlx.DB
}

func NewReputationRepository(db *sqlx.DB) *ReputationRepository {
	return &ReputationRepository{db: db}
}

// UpsertTx writes the recomputed projection for a user. The snapshot is
// always replaced wholesale; there are no incremental updates.
func (r *ReputationRepository) UpsertTx(ctx context.Context, tx *sqlx.Tx, snapshot *domain.ReputationSnapshot) error {
	query := `
		INSERT INTO reputation_snapshots (
			user_id, total_exchanges, successful_exchanges, average_rating,
			total_ratings_received, total_credits_earned, total_credits_spent,
			trust_score, updated_at
		) VALUES (
			:user_id, :total_exchanges, :successful_exchanges, :average_rating,
			:total_ratings_received, :total_credits_earned, :total_credits_spent,
			:trust_score, :updated_at
		)
		ON CONFLICT (user_id) DO UPDATE SET
			total_exchanges = EXCLUDED.total_exchanges,
			successful_exchanges = EXCLUDED.successful_exchanges,
			average_rating = EXCLUDED.average_rating,
			total_ratings_received = EXCLUDED.total_ratings_received,
			total_credits_earned = EXCLUDED.total_credits_earned,
			total_credits_spent = EXCLUDED.total_credits_spent,
			trust_score = EXCLUDED.trust_score,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.NamedExecContext(ctx, query, snapshot); err != nil {
		return errors.Wrap(err, "failed to upsert reputation snapshot")
	}
	return nil
}

func (r *ReputationRepository) FindByUser(ctx context.Context, userID uuid.UUID) (*domain.ReputationSnapshot, error) {
	snapshot := &domain.ReputationSnapshot{}
	query := `SELECT * FROM reputation_snapshots WHERE user_id = $1`
	if err := r.db.GetContext(ctx, snapshot, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "failed to find reputation snapshot")
	}
	return snapshot, nil
}
