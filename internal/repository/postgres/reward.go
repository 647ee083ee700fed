package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trueque/internal/domain"
	"trueque/pkg/errors"
)

type RewardRepository struct {
	db *sqlx.DB
}

func NewRewardRepository(db *sqlx.DB) *RewardRepository {
	return &RewardRepository{db: db}
}

func (r *RewardRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Reward, error) {
	reward := &domain.Reward{}
	query := `SELECT * FROM rewards WHERE id = $1 AND deleted_at IS NULL`
	if err := r.db.GetContext(ctx, reward, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrRewardNotFound
		}
		return nil, errors.Wrap(err, "failed to find reward")
	}
	return reward, nil
}

func (r *RewardRepository) ListActive(ctx context.Context) ([]*domain.Reward, error) {
	var rewards []*domain.Reward
	query := `
		SELECT * FROM rewards
		WHERE is_active = TRUE AND deleted_at IS NULL
		ORDER BY credits_cost ASC, created_at DESC
	`
	if err := r.db.SelectContext(ctx, &rewards, query); err != nil {
		return nil, errors.Wrap(err, "failed to list active rewards")
	}
	return rewards, nil
}

// LockTx locks the reward row so concurrent claims serialize on stock.
func (r *RewardRepository) LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Reward, error) {
	reward := &domain.Reward{}
	query := `SELECT * FROM rewards WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	if err := tx.GetContext(ctx, reward, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrRewardNotFound
		}
		return nil, errors.Wrap(err, "failed to lock reward")
	}
	return reward, nil
}

func (r *RewardRepository) DecrementStockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	query := `
		UPDATE rewards SET stock_quantity = stock_quantity - 1, updated_at = NOW()
		WHERE id = $1 AND stock_quantity > 0
	`
	result, err := tx.ExecContext(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, "failed to decrement reward stock")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.ErrOutOfStock
	}
	return nil
}

// IncrementStockTx returns a unit of stock on claim rejection.
func (r *RewardRepository) IncrementStockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	query := `
		UPDATE rewards SET stock_quantity = stock_quantity + 1, updated_at = NOW()
		WHERE id = $1 AND stock_quantity IS NOT NULL
	`
	if _, err := tx.ExecContext(ctx, query, id); err != nil {
		return errors.Wrap(err, "failed to increment reward stock")
	}
	return nil
}

func (r *RewardRepository) InsertClaimTx(ctx context.Context, tx *sqlx.Tx, claim *domain.RewardClaim) error {
	query := `
		INSERT INTO reward_claims (
			id, reward_id, user_id, credits_spent, status, created_at, updated_at
		) VALUES (
			:id, :reward_id, :user_id, :credits_spent, :status, :created_at, :updated_at
		)
	`
	if _, err := tx.NamedExecContext(ctx, query, claim); err != nil {
		return errors.Wrap(err, "failed to insert reward claim")
	}
	return nil
}

func (r *RewardRepository) FindClaimByID(ctx context.Context, id uuid.UUID) (*domain.RewardClaim, error) {
	claim := &domain.RewardClaim{}
	query := `SELECT * FROM reward_claims WHERE id = $1`
	if err := r.db.GetContext(ctx, claim, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrClaimNotFound
		}
		return nil, errors.Wrap(err, "failed to find reward claim")
	}
	return claim, nil
}

func (r *RewardRepository) LockClaimTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.RewardClaim, error) {
	claim := &domain.RewardClaim{}
	query := `SELECT * FROM reward_claims WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, claim, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrClaimNotFound
		}
		return nil, errors.Wrap(err, "failed to lock reward claim")
	}
	return claim, nil
}

func (r *RewardRepository) UpdateClaimTx(ctx context.Context, tx *sqlx.Tx, claim *domain.RewardClaim) error {
	query := `
		UPDATE reward_claims SET
			status = :status,
			notes = :notes,
			approved_at = :approved_at,
			delivered_at = :delivered_at,
			updated_at = NOW()
		WHERE id = :id
	`
	result, err := tx.NamedExecContext(ctx, query, claim)
	if err != nil {
		return errors.Wrap(err, "failed to update claim")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.ErrClaimNotFound
	}
	return nil
}

func (r *RewardRepository) ListClaimsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.RewardClaim, error) {
	var claims []*domain.RewardClaim
	query := `
		SELECT * FROM reward_claims
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &claims, query, userID, limit, offset); err != nil {
		return nil, errors.Wrap(err, "failed to list reward claims")
	}
	return claims, nil
}
