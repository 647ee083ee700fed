package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trueque/internal/domain"
	"trueque/pkg/errors"
)

type BadgeRepository struct {
	db *sqlx.DB
}

func NewBadgeRepository(db *sqlx.DB) *BadgeRepository {
	return &BadgeRepository{db: db}
}

// AwardTx grants a badge. A repeat grant is a no-op thanks to the unique
// (user_id, badge_id) constraint.
func (r *BadgeRepository) AwardTx(ctx context.Context, tx *sqlx.Tx, badge *domain.UserBadge) error {
	query := `
		INSERT INTO user_badges (user_id, badge_id, earned_at)
		VALUES (:user_id, :badge_id, :earned_at)
		ON CONFLICT (user_id, badge_id) DO NOTHING
	`
	if _, err := tx.NamedExecContext(ctx, query, badge); err != nil {
		return errors.Wrap(err, "failed to award badge")
	}
	return nil
}

func (r *BadgeRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.UserBadge, error) {
	var badges []*domain.UserBadge
	query := `SELECT * FROM user_badges WHERE user_id = $1 ORDER BY earned_at DESC`
	if err := r.db.SelectContext(ctx, &badges, query, userID); err != nil {
		return nil, errors.Wrap(err, "failed to list badges")
	}
	return badges, nil
}
