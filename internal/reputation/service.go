// Package reputation maintains the derived per-user reputation snapshot.
// The snapshot is always a full recompute over exchange, rating and
// ledger history; it is never trusted as an incremental aggregate.
package reputation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"trueque/internal/domain"
	"trueque/pkg/cache"
	"trueque/pkg/errors"
	"trueque/pkg/logger"
)

type TxRunner interface {
	InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type ExchangeRepository interface {
	LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Exchange, error)
	StatsTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (total, completed int, err error)
}

type RatingRepository interface {
	InsertTx(ctx context.Context, tx *sqlx.Tx, rating *domain.Rating) error
	ExistsByRaterTx(ctx context.Context, tx *sqlx.Tx, exchangeID, raterID uuid.UUID) (bool, error)
	AggregateTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (decimal.Decimal, int, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Rating, error)
}

type LedgerRepository interface {
	SumAmountsTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (earned, spent int64, err error)
}

type SnapshotRepository interface {
	UpsertTx(ctx context.Context, tx *sqlx.Tx, snapshot *domain.ReputationSnapshot) error
	FindByUser(ctx context.Context, userID uuid.UUID) (*domain.ReputationSnapshot, error)
}

type Notifier interface {
	NotifyTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, notificationType, title, message string, referenceID *uuid.UUID, referenceType string) error
}

type Service struct {
	tx        TxRunner
	exchanges ExchangeRepository
	ratings   RatingRepository
	ledger    LedgerRepository
	snapshots SnapshotRepository
	notifier  Notifier
	cache     *cache.RedisCache
	cacheTTL  time.Duration
	logger    logger.Logger
}

func NewService(
	tx TxRunner,
	exchanges ExchangeRepository,
	ratings RatingRepository,
	ledger LedgerRepository,
	snapshots SnapshotRepository,
	notifier Notifier,
	redisCache *cache.RedisCache,
	cacheTTL time.Duration,
	log logger.Logger,
) *Service {
	return &Service{
		tx:        tx,
		exchanges: exchanges,
		ratings:   ratings,
		ledger:    ledger,
		snapshots: snapshots,
		notifier:  notifier,
		cache:     redisCache,
		cacheTTL:  cacheTTL,
		logger:    log,
	}
}

func cacheKey(userID uuid.UUID) string {
	return "reputation:" + userID.String()
}

// RefreshTx recomputes the snapshot inside the caller's transaction.
// Idempotent: running it twice in a row produces the same row.
func (s *Service) RefreshTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) error {
	total, completed, err := s.exchanges.StatsTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	average, ratingsCount, err := s.ratings.AggregateTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	earned, spent, err := s.ledger.SumAmountsTx(ctx, tx, userID)
	if err != nil {
		return err
	}

	snapshot := &domain.ReputationSnapshot{
		UserID:               userID,
		TotalExchanges:       total,
		SuccessfulExchanges:  completed,
		AverageRating:        average.Round(2),
		TotalRatingsReceived: ratingsCount,
		TotalCreditsEarned:   earned,
		TotalCreditsSpent:    spent,
		TrustScore:           trustScore(average, completed),
		UpdatedAt:            time.Now(),
	}
	if err := s.snapshots.UpsertTx(ctx, tx, snapshot); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, cacheKey(userID)); err != nil {
			s.logger.Warn("Failed to invalidate reputation cache", map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
	}
	return nil
}

// Refresh recomputes the snapshot as its own unit of work.
func (s *Service) Refresh(ctx context.Context, userID uuid.UUID) error {
	return s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		return s.RefreshTx(ctx, tx, userID)
	})
}

// Snapshot returns the current projection, served from cache when fresh.
func (s *Service) Snapshot(ctx context.Context, userID uuid.UUID) (*domain.ReputationSnapshot, error) {
	if s.cache != nil {
		cached := &domain.ReputationSnapshot{}
		if err := s.cache.Get(ctx, cacheKey(userID), cached); err == nil {
			return cached, nil
		}
	}

	snapshot, err := s.snapshots.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey(userID), snapshot, s.cacheTTL); err != nil {
			s.logger.Warn("Failed to cache reputation snapshot", map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
	}
	return snapshot, nil
}

type RateRequest struct {
	ExchangeID uuid.UUID `json:"exchange_id" validate:"required"`
	RaterID    uuid.UUID `json:"rater_id" validate:"required"`
	Rating     int       `json:"rating" validate:"required,min=1,max=5"`
	Comment    *string   `json:"comment,omitempty" validate:"omitempty,max=500"`
}

// RateExchange records a 1-5 rating by one party of a completed exchange
// for the other, then refreshes the rated user's snapshot in the same
// unit.
func (s *Service) RateExchange(ctx context.Context, req *RateRequest) (*domain.Rating, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, errors.ErrInvalidRating
	}

	var rating *domain.Rating
	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		exchange, err := s.exchanges.LockTx(ctx, tx, req.ExchangeID)
		if err != nil {
			return err
		}
		if exchange.Status != domain.ExchangeCompleted {
			return errors.ErrInvalidState
		}
		role := exchange.PartyRole(req.RaterID)
		if role == "" {
			return errors.ErrForbidden
		}

		ratedID := exchange.SellerID
		if role == domain.RoleSeller {
			ratedID = exchange.BuyerID
		}

		exists, err := s.ratings.ExistsByRaterTx(ctx, tx, exchange.ID, req.RaterID)
		if err != nil {
			return err
		}
		if exists {
			return errors.ErrAlreadyRated
		}

		rating = &domain.Rating{
			ExchangeID:  exchange.ID,
			RaterUserID: req.RaterID,
			RatedUserID: ratedID,
			Rating:      req.Rating,
			Comment:     req.Comment,
			CreatedAt:   time.Now(),
		}
		if err := s.ratings.InsertTx(ctx, tx, rating); err != nil {
			return err
		}
		if err := s.RefreshTx(ctx, tx, ratedID); err != nil {
			return err
		}
		return s.notifier.NotifyTx(ctx, tx, ratedID, "new_rating",
			"New rating", "You received a new rating.", &exchange.ID, "exchange")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Exchange rated", map[string]interface{}{
		"exchange_id": req.ExchangeID,
		"rater_id":    req.RaterID,
		"rating":      req.Rating,
	})
	return rating, nil
}

func (s *Service) ListRatings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Rating, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.ratings.ListByUser(ctx, userID, limit, offset)
}

// trustScore maps the snapshot onto a 0-100 score: rating quality 40%,
// completed-exchange volume 30% (saturating at ten), responsiveness 30%
// (full credit until messaging metrics exist in the engine).
func trustScore(average decimal.Decimal, completed int) decimal.Decimal {
	ratingComponent := average.Div(decimal.NewFromInt(5)).Mul(decimal.NewFromInt(40))

	volume := decimal.NewFromInt(int64(completed)).Div(decimal.NewFromInt(10))
	if volume.GreaterThan(decimal.NewFromInt(1)) {
		volume = decimal.NewFromInt(1)
	}
	volumeComponent := volume.Mul(decimal.NewFromInt(30))

	responsiveness := decimal.NewFromInt(30)

	return ratingComponent.Add(volumeComponent).Add(responsiveness).Round(2)
}
