// Package exchange implements the exchange lifecycle: proposal against an
// active offer, seller acceptance, dual confirmation, and settlement of
// the credit transfer.
package exchange

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trueque/internal/domain"
	"trueque/pkg/config"
	"trueque/pkg/errors"
	"trueque/pkg/logger"
)

type TxRunner interface {
	InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type Repository interface {
	InsertTx(ctx context.Context, tx *sqlx.Tx, exchange *domain.Exchange) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Exchange, error)
	LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Exchange, error)
	UpdateTx(ctx context.Context, tx *sqlx.Tx, exchange *domain.Exchange) error
	HasOpenByBuyerTx(ctx context.Context, tx *sqlx.Tx, offerID, buyerID uuid.UUID) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Exchange, error)
}

type OfferRepository interface {
	LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Offer, error)
	UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status domain.OfferStatus) error
}

type UserRepository interface {
	LockManyTx(ctx context.Context, tx *sqlx.Tx, ids ...uuid.UUID) error
	AwardPointsTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, points, experience int) (*domain.User, error)
	SetLevelTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, level int) error
}

// Ledger appends credit movements; the exchange service is responsible
// for holding both parties' ledger locks before calling it.
type Ledger interface {
	DebitTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, kind domain.EntryKind, amount int64, referenceID *uuid.UUID, description string) (*domain.LedgerEntry, error)
	CreditTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, kind domain.EntryKind, amount int64, referenceID *uuid.UUID, description string) (*domain.LedgerEntry, error)
}

type ChallengeProgress interface {
	BumpProgressTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, requirement string, delta int) error
}

type ReputationRefresher interface {
	RefreshTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) error
}

type ConversationRepository interface {
	FindOrCreateTx(ctx context.Context, tx *sqlx.Tx, conversation *domain.Conversation) (*domain.Conversation, error)
}

type Notifier interface {
	NotifyTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, notificationType, title, message string, referenceID *uuid.UUID, referenceType string) error
}

type Auditor interface {
	RecordTx(ctx context.Context, tx *sqlx.Tx, table, recordID, operation string, oldValue, newValue interface{}, changedFields []string, changedBy *uuid.UUID) error
}

type Service struct {
	tx            TxRunner
	exchanges     Repository
	offers        OfferRepository
	users         UserRepository
	ledger        Ledger
	challenges    ChallengeProgress
	reputation    ReputationRefresher
	conversations ConversationRepository
	notifier      Notifier
	auditor       Auditor
	cfg           config.EngineConfig
	logger        logger.Logger
}

func NewService(
	tx TxRunner,
	exchanges Repository,
	offers OfferRepository,
	users UserRepository,
	ledger Ledger,
	challenges ChallengeProgress,
	reputation ReputationRefresher,
	conversations ConversationRepository,
	notifier Notifier,
	auditor Auditor,
	cfg config.EngineConfig,
	log logger.Logger,
) *Service {
	return &Service{
		tx:            tx,
		exchanges:     exchanges,
		offers:        offers,
		users:         users,
		ledger:        ledger,
		challenges:    challenges,
		reputation:    reputation,
		conversations: conversations,
		notifier:      notifier,
		auditor:       auditor,
		cfg:           cfg,
		logger:        log,
	}
}

type CreateRequest struct {
	BuyerID          uuid.UUID `json:"buyer_id" validate:"required"`
	OfferID          uuid.UUID `json:"offer_id" validate:"required"`
	ProposedLocation *string   `json:"proposed_location,omitempty" validate:"omitempty,max=255"`
	Message          *string   `json:"message,omitempty" validate:"omitempty,max=1000"`
}

// Create proposes an exchange against an active offer and reserves the
// offer. Everything commits as one unit; a rejected proposal leaves the
// offer untouched.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*domain.Exchange, error) {
	var exchange *domain.Exchange

	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		offer, err := s.offers.LockTx(ctx, tx, req.OfferID)
		if err != nil {
			return err
		}
		if offer.Status != domain.OfferActive {
			return errors.ErrInvalidState
		}
		if offer.UserID == req.BuyerID {
			return errors.ErrSelfExchange
		}
		open, err := s.exchanges.HasOpenByBuyerTx(ctx, tx, offer.ID, req.BuyerID)
		if err != nil {
			return err
		}
		if open {
			return errors.ErrDuplicateProposal
		}

		now := time.Now()
		exchange = &domain.Exchange{
			ID:               uuid.New(),
			OfferID:          offer.ID,
			BuyerID:          req.BuyerID,
			SellerID:         offer.UserID,
			Status:           domain.ExchangePending,
			CreditsAmount:    offer.CreditsValue,
			ProposedLocation: req.ProposedLocation,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.exchanges.InsertTx(ctx, tx, exchange); err != nil {
			return err
		}
		if err := s.offers.UpdateStatusTx(ctx, tx, offer.ID, domain.OfferReserved); err != nil {
			return err
		}

		if _, err := s.conversations.FindOrCreateTx(ctx, tx, &domain.Conversation{
			ID:        uuid.New(),
			OfferID:   offer.ID,
			BuyerID:   req.BuyerID,
			SellerID:  offer.UserID,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		// The proposer's opening message rides on the seller's
		// notification; the conversation itself holds the thread key.
		message := "Someone wants to exchange for your offer."
		if req.Message != nil && *req.Message != "" {
			message = *req.Message
		}
		if err := s.notifier.NotifyTx(ctx, tx, offer.UserID, "exchange_proposed",
			"New exchange proposal", message, &exchange.ID, "exchange"); err != nil {
			return err
		}
		return s.auditor.RecordTx(ctx, tx, "offers", offer.ID.String(), "UPDATE",
			map[string]interface{}{"status": domain.OfferActive},
			map[string]interface{}{"status": domain.OfferReserved},
			[]string{"status"}, &req.BuyerID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Exchange created", map[string]interface{}{
		"exchange_id": exchange.ID,
		"offer_id":    exchange.OfferID,
		"buyer_id":    exchange.BuyerID,
	})
	return exchange, nil
}

// Accept moves a pending proposal to accepted. Only the seller may accept.
func (s *Service) Accept(ctx context.Context, exchangeID, userID uuid.UUID) (*domain.Exchange, error) {
	var exchange *domain.Exchange

	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		exchange, err = s.exchanges.LockTx(ctx, tx, exchangeID)
		if err != nil {
			return err
		}
		if exchange.SellerID != userID {
			return errors.ErrForbidden
		}
		if exchange.Status != domain.ExchangePending {
			return errors.ErrInvalidState
		}

		exchange.Status = domain.ExchangeAccepted
		if err := s.exchanges.UpdateTx(ctx, tx, exchange); err != nil {
			return err
		}
		if err := s.notifier.NotifyTx(ctx, tx, exchange.BuyerID, "exchange_accepted",
			"Proposal accepted", "Your exchange proposal was accepted.", &exchange.ID, "exchange"); err != nil {
			return err
		}
		return s.auditor.RecordTx(ctx, tx, "exchanges", exchange.ID.String(), "UPDATE",
			map[string]interface{}{"status": domain.ExchangePending},
			map[string]interface{}{"status": domain.ExchangeAccepted},
			[]string{"status"}, &userID)
	})
	if err != nil {
		return nil, err
	}
	return exchange, nil
}

// ConfirmResult reports the outcome of a confirmation: either the
// exchange is still waiting for the other party, or it settled.
type ConfirmResult struct {
	Status          string    `json:"status"`
	ExchangeID      uuid.UUID `json:"exchange_id"`
	BuyerConfirmed  bool      `json:"buyer_confirmed"`
	SellerConfirmed bool      `json:"seller_confirmed"`
	CreditsAmount   int64     `json:"credits_amount,omitempty"`
	BuyerBalance    int64     `json:"buyer_balance,omitempty"`
	SellerBalance   int64     `json:"seller_balance,omitempty"`
}

const (
	ConfirmWaiting   = "waiting"
	ConfirmCompleted = "completed"
)

// Confirm records one party's confirmation, moving the exchange to
// in_progress on the first and settling it once both sides have
// confirmed. The flag write and the settlement are
// separate committed units: if settlement fails on funds, the flags stay
// set and the exchange stays open, so the same call can be retried after
// the buyer is funded.
func (s *Service) Confirm(ctx context.Context, exchangeID, userID uuid.UUID) (*ConfirmResult, error) {
	var (
		exchange *domain.Exchange
		settle   bool
	)

	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		exchange, err = s.exchanges.LockTx(ctx, tx, exchangeID)
		if err != nil {
			return err
		}
		role := exchange.PartyRole(userID)
		if role == "" {
			return errors.ErrForbidden
		}
		if exchange.Status.IsTerminal() ||
			(exchange.Status != domain.ExchangeAccepted && exchange.Status != domain.ExchangeInProgress) {
			return errors.ErrInvalidState
		}

		now := time.Now()
		switch role {
		case domain.RoleBuyer:
			if exchange.BuyerConfirmed {
				if exchange.SellerConfirmed {
					// Both flags already set on an open exchange: a prior
					// settlement failed, retry it instead of rejecting.
					settle = true
					return nil
				}
				return errors.ErrAlreadyConfirmed
			}
			exchange.BuyerConfirmed = true
			exchange.BuyerConfirmedAt = &now
		case domain.RoleSeller:
			if exchange.SellerConfirmed {
				if exchange.BuyerConfirmed {
					settle = true
					return nil
				}
				return errors.ErrAlreadyConfirmed
			}
			exchange.SellerConfirmed = true
			exchange.SellerConfirmedAt = &now
		}

		settle = exchange.BuyerConfirmed && exchange.SellerConfirmed
		if !settle {
			exchange.Status = domain.ExchangeInProgress
		}
		return s.exchanges.UpdateTx(ctx, tx, exchange)
	})
	if err != nil {
		return nil, err
	}

	if !settle {
		return &ConfirmResult{
			Status:          ConfirmWaiting,
			ExchangeID:      exchange.ID,
			BuyerConfirmed:  exchange.BuyerConfirmed,
			SellerConfirmed: exchange.SellerConfirmed,
		}, nil
	}
	return s.settle(ctx, exchangeID, userID)
}

// settle runs the completion transaction: credit transfer, offer close,
// point awards, challenge progress, reputation refresh, notifications.
func (s *Service) settle(ctx context.Context, exchangeID uuid.UUID, actorID uuid.UUID) (*ConfirmResult, error) {
	result := &ConfirmResult{Status: ConfirmCompleted, ExchangeID: exchangeID}

	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		exchange, err := s.exchanges.LockTx(ctx, tx, exchangeID)
		if err != nil {
			return err
		}
		if exchange.Status.IsTerminal() ||
			(exchange.Status != domain.ExchangeAccepted && exchange.Status != domain.ExchangeInProgress) {
			return errors.ErrInvalidState
		}
		if !exchange.BuyerConfirmed || !exchange.SellerConfirmed {
			return errors.ErrInvalidState
		}

		if err := s.users.LockManyTx(ctx, tx, exchange.BuyerID, exchange.SellerID); err != nil {
			return err
		}

		// A free swap settles with no ledger movement at all.
		if exchange.CreditsAmount > 0 {
			debit, err := s.ledger.DebitTx(ctx, tx, exchange.BuyerID, domain.EntryExchangeDebit,
				exchange.CreditsAmount, &exchange.ID, "Exchange settlement")
			if err != nil {
				return err
			}
			credit, err := s.ledger.CreditTx(ctx, tx, exchange.SellerID, domain.EntryExchangeCredit,
				exchange.CreditsAmount, &exchange.ID, "Exchange settlement")
			if err != nil {
				return err
			}
			result.BuyerBalance = debit.BalanceAfter
			result.SellerBalance = credit.BalanceAfter
		}

		now := time.Now()
		previousStatus := exchange.Status
		exchange.Status = domain.ExchangeCompleted
		exchange.CompletedAt = &now
		if err := s.exchanges.UpdateTx(ctx, tx, exchange); err != nil {
			return err
		}
		if err := s.offers.UpdateStatusTx(ctx, tx, exchange.OfferID, domain.OfferCompleted); err != nil {
			return err
		}

		for _, partyID := range []uuid.UUID{exchange.BuyerID, exchange.SellerID} {
			if err := s.awardExchangePointsTx(ctx, tx, partyID, exchange.ID); err != nil {
				return err
			}
			if err := s.challenges.BumpProgressTx(ctx, tx, partyID, "exchange_count", 1); err != nil {
				return err
			}
			if err := s.reputation.RefreshTx(ctx, tx, partyID); err != nil {
				return err
			}
			if err := s.notifier.NotifyTx(ctx, tx, partyID, "exchange_completed",
				"Exchange completed", "Your exchange has been completed.", &exchange.ID, "exchange"); err != nil {
				return err
			}
		}

		if err := s.auditor.RecordTx(ctx, tx, "exchanges", exchange.ID.String(), "UPDATE",
			map[string]interface{}{"status": previousStatus},
			map[string]interface{}{"status": domain.ExchangeCompleted},
			[]string{"status", "completed_at"}, &actorID); err != nil {
			return err
		}

		result.BuyerConfirmed = true
		result.SellerConfirmed = true
		result.CreditsAmount = exchange.CreditsAmount
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Exchange settled", map[string]interface{}{
		"exchange_id": exchangeID,
		"credits":     result.CreditsAmount,
	})
	return result, nil
}

// awardExchangePointsTx grants the fixed per-exchange reward and
// recomputes the level, notifying on a level-up.
func (s *Service) awardExchangePointsTx(ctx context.Context, tx *sqlx.Tx, userID, exchangeID uuid.UUID) error {
	user, err := s.users.AwardPointsTx(ctx, tx, userID, s.cfg.ExchangePoints, s.cfg.ExchangeExperience)
	if err != nil {
		return err
	}
	level := domain.LevelForExperience(user.ExperiencePoints)
	if level == user.Level {
		return nil
	}
	if err := s.users.SetLevelTx(ctx, tx, userID, level); err != nil {
		return err
	}
	return s.notifier.NotifyTx(ctx, tx, userID, "level_up",
		"Level up", "You reached a new level.", &exchangeID, "exchange")
}

type CancelRequest struct {
	ExchangeID uuid.UUID `json:"exchange_id" validate:"required"`
	UserID     uuid.UUID `json:"user_id" validate:"required"`
	Reason     string    `json:"reason" validate:"max=255"`
}

// Cancel terminates a non-terminal exchange and returns a still-reserved
// offer to the market. Restoring the offer is conditional on its current
// state so a moderator-modified offer is never clobbered.
func (s *Service) Cancel(ctx context.Context, req *CancelRequest) (*domain.Exchange, error) {
	var exchange *domain.Exchange

	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		exchange, err = s.exchanges.LockTx(ctx, tx, req.ExchangeID)
		if err != nil {
			return err
		}
		role := exchange.PartyRole(req.UserID)
		if role == "" {
			return errors.ErrForbidden
		}
		if exchange.Status.IsTerminal() {
			return errors.ErrInvalidState
		}

		previousStatus := exchange.Status
		exchange.Status = domain.ExchangeCancelled
		if req.Reason != "" {
			exchange.CancellationReason = &req.Reason
		}
		if err := s.exchanges.UpdateTx(ctx, tx, exchange); err != nil {
			return err
		}

		offer, err := s.offers.LockTx(ctx, tx, exchange.OfferID)
		if err != nil {
			return err
		}
		if offer.Status == domain.OfferReserved {
			if err := s.offers.UpdateStatusTx(ctx, tx, offer.ID, domain.OfferActive); err != nil {
				return err
			}
		}

		counterparty := exchange.SellerID
		if role == domain.RoleSeller {
			counterparty = exchange.BuyerID
		}
		if err := s.notifier.NotifyTx(ctx, tx, counterparty, "exchange_cancelled",
			"Exchange cancelled", "The exchange was cancelled by the other party.", &exchange.ID, "exchange"); err != nil {
			return err
		}
		return s.auditor.RecordTx(ctx, tx, "exchanges", exchange.ID.String(), "UPDATE",
			map[string]interface{}{"status": previousStatus},
			map[string]interface{}{"status": domain.ExchangeCancelled},
			[]string{"status", "cancellation_reason"}, &req.UserID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Exchange cancelled", map[string]interface{}{
		"exchange_id": exchange.ID,
		"by":          req.UserID,
	})
	return exchange, nil
}

// Get returns an exchange to one of its parties.
func (s *Service) Get(ctx context.Context, exchangeID, userID uuid.UUID) (*domain.Exchange, error) {
	exchange, err := s.exchanges.FindByID(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	if exchange.PartyRole(userID) == "" {
		return nil, errors.ErrForbidden
	}
	return exchange, nil
}

// ListByUser returns the user's exchanges in either role.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Exchange, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.exchanges.ListByUser(ctx, userID, limit, offset)
}
