// Package rewards implements stock-limited reward redemption against the
// ledger, plus the moderation workflow that advances claims.
package rewards

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trueque/internal/domain"
	"trueque/pkg/errors"
	"trueque/pkg/logger"
)

type TxRunner interface {
	InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Reward, error)
	ListActive(ctx context.Context) ([]*domain.Reward, error)
	LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Reward, error)
	DecrementStockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error
	IncrementStockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error
	InsertClaimTx(ctx context.Context, tx *sqlx.Tx, claim *domain.RewardClaim) error
	FindClaimByID(ctx context.Context, id uuid.UUID) (*domain.RewardClaim, error)
	LockClaimTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.RewardClaim, error)
	UpdateClaimTx(ctx context.Context, tx *sqlx.Tx, claim *domain.RewardClaim) error
	ListClaimsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.RewardClaim, error)
}

type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error
}

type Ledger interface {
	DebitTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, kind domain.EntryKind, amount int64, referenceID *uuid.UUID, description string) (*domain.LedgerEntry, error)
	CreditTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, kind domain.EntryKind, amount int64, referenceID *uuid.UUID, description string) (*domain.LedgerEntry, error)
}

type Notifier interface {
	NotifyTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, notificationType, title, message string, referenceID *uuid.UUID, referenceType string) error
}

type Auditor interface {
	RecordTx(ctx context.Context, tx *sqlx.Tx, table, recordID, operation string, oldValue, newValue interface{}, changedFields []string, changedBy *uuid.UUID) error
}

type Service struct {
	tx       TxRunner
	rewards  Repository
	users    UserRepository
	ledger   Ledger
	notifier Notifier
	auditor  Auditor
	logger   logger.Logger
}

func NewService(tx TxRunner, rewards Repository, users UserRepository, ledger Ledger, notifier Notifier, auditor Auditor, log logger.Logger) *Service {
	return &Service{
		tx:       tx,
		rewards:  rewards,
		users:    users,
		ledger:   ledger,
		notifier: notifier,
		auditor:  auditor,
		logger:   log,
	}
}

// Claim redeems a reward. The reward row is locked first, serializing
// all claims against the same reward so stock can never go negative
// under concurrent demand. A failed balance check rolls everything back,
// leaving stock untouched.
func (s *Service) Claim(ctx context.Context, userID, rewardID uuid.UUID) (*domain.RewardClaim, error) {
	var claim *domain.RewardClaim

	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		reward, err := s.rewards.LockTx(ctx, tx, rewardID)
		if err != nil {
			return err
		}
		if !reward.IsActive {
			return errors.ErrRewardInactive
		}
		if reward.StockQuantity != nil && *reward.StockQuantity <= 0 {
			return errors.ErrOutOfStock
		}

		if err := s.users.LockTx(ctx, tx, userID); err != nil {
			return err
		}

		now := time.Now()
		claim = &domain.RewardClaim{
			ID:           uuid.New(),
			RewardID:     reward.ID,
			UserID:       userID,
			CreditsSpent: reward.CreditsCost,
			Status:       domain.ClaimPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if _, err := s.ledger.DebitTx(ctx, tx, userID, domain.EntryRewardClaim,
			reward.CreditsCost, &claim.ID, "Reward claim: "+reward.Name); err != nil {
			return err
		}
		if reward.StockQuantity != nil {
			if err := s.rewards.DecrementStockTx(ctx, tx, reward.ID); err != nil {
				return err
			}
		}
		if err := s.rewards.InsertClaimTx(ctx, tx, claim); err != nil {
			return err
		}

		if err := s.notifier.NotifyTx(ctx, tx, userID, "reward_claimed",
			"Reward claimed", "Your reward claim is pending review.", &claim.ID, "reward_claim"); err != nil {
			return err
		}
		return s.auditor.RecordTx(ctx, tx, "reward_claims", claim.ID.String(), "INSERT",
			nil, claim, nil, &userID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Reward claimed", map[string]interface{}{
		"claim_id":  claim.ID,
		"reward_id": rewardID,
		"user_id":   userID,
	})
	return claim, nil
}

type ModerateRequest struct {
	ClaimID uuid.UUID          `json:"claim_id" validate:"required"`
	ActorID uuid.UUID          `json:"actor_id" validate:"required"`
	Status  domain.ClaimStatus `json:"status" validate:"required"`
	Note    string             `json:"note" validate:"max=255"`
}

// Moderate advances a claim through pending -> approved -> delivered, or
// rejects it from either non-terminal state. Rejection refunds the spent
// credits and returns finite stock.
func (s *Service) Moderate(ctx context.Context, req *ModerateRequest) (*domain.RewardClaim, error) {
	actor, err := s.users.FindByID(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin {
		return nil, errors.ErrForbidden
	}

	var claim *domain.RewardClaim
	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		claim, err = s.rewards.LockClaimTx(ctx, tx, req.ClaimID)
		if err != nil {
			return err
		}
		if !validClaimTransition(claim.Status, req.Status) {
			return errors.ErrInvalidState
		}

		now := time.Now()
		previousStatus := claim.Status
		claim.Status = req.Status
		if req.Note != "" {
			claim.Notes = &req.Note
		}
		switch req.Status {
		case domain.ClaimApproved:
			claim.ApprovedAt = &now
		case domain.ClaimDelivered:
			claim.DeliveredAt = &now
		case domain.ClaimRejected:
			if err := s.refundClaimTx(ctx, tx, claim); err != nil {
				return err
			}
		}
		if err := s.rewards.UpdateClaimTx(ctx, tx, claim); err != nil {
			return err
		}

		if err := s.notifier.NotifyTx(ctx, tx, claim.UserID, "claim_"+string(req.Status),
			"Reward claim updated", "Your reward claim is now "+string(req.Status)+".", &claim.ID, "reward_claim"); err != nil {
			return err
		}
		return s.auditor.RecordTx(ctx, tx, "reward_claims", claim.ID.String(), "UPDATE",
			map[string]interface{}{"status": previousStatus},
			map[string]interface{}{"status": req.Status},
			[]string{"status"}, &req.ActorID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Reward claim moderated", map[string]interface{}{
		"claim_id": claim.ID,
		"status":   claim.Status,
		"actor_id": req.ActorID,
	})
	return claim, nil
}

func (s *Service) refundClaimTx(ctx context.Context, tx *sqlx.Tx, claim *domain.RewardClaim) error {
	if err := s.users.LockTx(ctx, tx, claim.UserID); err != nil {
		return err
	}
	if _, err := s.ledger.CreditTx(ctx, tx, claim.UserID, domain.EntryRefund,
		claim.CreditsSpent, &claim.ID, "Reward claim refund"); err != nil {
		return err
	}
	return s.rewards.IncrementStockTx(ctx, tx, claim.RewardID)
}

func validClaimTransition(from, to domain.ClaimStatus) bool {
	switch from {
	case domain.ClaimPending:
		return to == domain.ClaimApproved || to == domain.ClaimRejected
	case domain.ClaimApproved:
		return to == domain.ClaimDelivered || to == domain.ClaimRejected
	}
	return false
}

func (s *Service) ListRewards(ctx context.Context) ([]*domain.Reward, error) {
	return s.rewards.ListActive(ctx)
}

func (s *Service) ListClaims(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.RewardClaim, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.rewards.ListClaimsByUser(ctx, userID, limit, offset)
}
