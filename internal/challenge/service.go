// Package challenge handles enrollment, progress, and the multi-resource
// settlement (points, credits, badge) when a challenge is completed.
package challenge

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
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Challenge, error)
	ListActive(ctx context.Context) ([]*domain.Challenge, error)
	InsertEnrollmentTx(ctx context.Context, tx *sqlx.Tx, enrollment *domain.UserChallenge) error
	LockEnrollmentTx(ctx context.Context, tx *sqlx.Tx, userID, challengeID uuid.UUID) (*domain.UserChallenge, error)
	UpdateEnrollmentTx(ctx context.Context, tx *sqlx.Tx, enrollment *domain.UserChallenge) error
	IncrementParticipantsTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error
	IncrementCompletionsTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error
	ListEnrollmentsByUser(ctx context.Context, userID uuid.UUID) ([]*domain.UserChallenge, error)
}

type UserRepository interface {
	LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error
	AwardPointsTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, points, experience int) (*domain.User, error)
	SetLevelTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, level int) error
}

type BadgeRepository interface {
	AwardTx(ctx context.Context, tx *sqlx.Tx, badge *domain.UserBadge) error
}

type Ledger interface {
	CreditTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, kind domain.EntryKind, amount int64, referenceID *uuid.UUID, description string) (*domain.LedgerEntry, error)
}

type Notifier interface {
	NotifyTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, notificationType, title, message string, referenceID *uuid.UUID, referenceType string) error
}

type Service struct {
	tx         TxRunner
	challenges Repository
	users      UserRepository
	badges     BadgeRepository
	ledger     Ledger
	notifier   Notifier
	logger     logger.Logger
}

func NewService(tx TxRunner, challenges Repository, users UserRepository, badges BadgeRepository, ledger Ledger, notifier Notifier, log logger.Logger) *Service {
	return &Service{
		tx:         tx,
		challenges: challenges,
		users:      users,
		badges:     badges,
		ledger:     ledger,
		notifier:   notifier,
		logger:     log,
	}
}

// Enroll starts a user on a challenge with target taken from the
// challenge's requirement, bumping the participant counter in the same
// unit.
func (s *Service) Enroll(ctx context.Context, userID, challengeID uuid.UUID) (*domain.UserChallenge, error) {
	challenge, err := s.challenges.FindByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if !challenge.IsActive {
		return nil, errors.ErrChallengeInactive
	}

	enrollment := &domain.UserChallenge{
		ID:          uuid.New(),
		UserID:      userID,
		ChallengeID: challengeID,
		Progress:    0,
		Target:      challenge.RequirementValue,
		StartedAt:   time.Now(),
	}
	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.challenges.InsertEnrollmentTx(ctx, tx, enrollment); err != nil {
			return err
		}
		return s.challenges.IncrementParticipantsTx(ctx, tx, challengeID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Challenge enrollment", map[string]interface{}{
		"user_id":      userID,
		"challenge_id": challengeID,
	})
	return enrollment, nil
}

// CompletionResult summarizes everything granted by a completion.
type CompletionResult struct {
	ChallengeID    uuid.UUID `json:"challenge_id"`
	PointsAwarded  int       `json:"points_awarded"`
	CreditsAwarded int64     `json:"credits_awarded"`
	BadgeAwarded   *string   `json:"badge_awarded,omitempty"`
	NewLevel       int       `json:"new_level"`
	NewBalance     *int64    `json:"new_balance,omitempty"`
}

// Complete settles a finished challenge: marks the enrollment done,
// grants points, credits and badge, and bumps the completion counter —
// all in one unit. A duplicate badge award is a silent no-op.
func (s *Service) Complete(ctx context.Context, userID, challengeID uuid.UUID) (*CompletionResult, error) {
	challenge, err := s.challenges.FindByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if !challenge.IsActive {
		return nil, errors.ErrChallengeInactive
	}

	result := &CompletionResult{
		ChallengeID:    challengeID,
		PointsAwarded:  challenge.PointsReward,
		CreditsAwarded: challenge.CreditsReward,
		BadgeAwarded:   challenge.BadgeReward,
	}

	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		enrollment, err := s.challenges.LockEnrollmentTx(ctx, tx, userID, challengeID)
		if err != nil {
			return err
		}
		if enrollment.IsCompleted {
			return errors.ErrAlreadyCompleted
		}
		if enrollment.Progress < challenge.RequirementValue {
			return errors.ErrInsufficientProgress
		}

		now := time.Now()
		enrollment.IsCompleted = true
		enrollment.CompletedAt = &now
		if err := s.challenges.UpdateEnrollmentTx(ctx, tx, enrollment); err != nil {
			return err
		}

		user, err := s.users.AwardPointsTx(ctx, tx, userID, challenge.PointsReward, challenge.PointsReward)
		if err != nil {
			return err
		}
		level := domain.LevelForExperience(user.ExperiencePoints)
		if level != user.Level {
			if err := s.users.SetLevelTx(ctx, tx, userID, level); err != nil {
				return err
			}
		}
		result.NewLevel = level

		if challenge.CreditsReward > 0 {
			if err := s.users.LockTx(ctx, tx, userID); err != nil {
				return err
			}
			entry, err := s.ledger.CreditTx(ctx, tx, userID, domain.EntryChallengeReward,
				challenge.CreditsReward, &challengeID, "Challenge reward: "+challenge.Title)
			if err != nil {
				return err
			}
			result.NewBalance = &entry.BalanceAfter
		}

		if challenge.BadgeReward != nil {
			if err := s.badges.AwardTx(ctx, tx, &domain.UserBadge{
				UserID:   userID,
				BadgeID:  *challenge.BadgeReward,
				EarnedAt: now,
			}); err != nil {
				return err
			}
		}

		if err := s.challenges.IncrementCompletionsTx(ctx, tx, challengeID); err != nil {
			return err
		}
		return s.notifier.NotifyTx(ctx, tx, userID, "challenge_completed",
			"Challenge completed", "Challenge completed: "+challenge.Title, &challengeID, "challenge")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Challenge completed", map[string]interface{}{
		"user_id":      userID,
		"challenge_id": challengeID,
		"points":       challenge.PointsReward,
		"credits":      challenge.CreditsReward,
	})
	return result, nil
}

func (s *Service) ListActive(ctx context.Context) ([]*domain.Challenge, error) {
	return s.challenges.ListActive(ctx)
}

func (s *Service) ListEnrollments(ctx context.Context, userID uuid.UUID) ([]*domain.UserChallenge, error) {
	return s.challenges.ListEnrollmentsByUser(ctx, userID)
}
