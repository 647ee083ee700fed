// Package ledger owns the append-only credits ledger. Balances are never
// stored on the user; the latest entry's balance_after is the balance.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trueque/internal/domain"
	"trueque/pkg/errors"
	"trueque/pkg/logger"
)

// TxRunner executes a function inside one database transaction with the
// engine's lock_timeout applied.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error
	LockManyTx(ctx context.Context, tx *sqlx.Tx, ids ...uuid.UUID) error
}

type EntryRepository interface {
	LastBalanceTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (int64, error)
	InsertTx(ctx context.Context, tx *sqlx.Tx, entry *domain.LedgerEntry) error
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error)
}

type Notifier interface {
	NotifyTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, notificationType, title, message string, referenceID *uuid.UUID, referenceType string) error
}

type Service struct {
	tx       TxRunner
	users    UserRepository
	entries  EntryRepository
	notifier Notifier
	logger   logger.Logger
}

func NewService(tx TxRunner, users UserRepository, entries EntryRepository, notifier Notifier, log logger.Logger) *Service {
	return &Service{
		tx:       tx,
		users:    users,
		entries:  entries,
		notifier: notifier,
		logger:   log,
	}
}

// CreditTx appends a positive entry. The caller must hold the user's
// ledger lock for the duration of tx.
func (s *Service) CreditTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, kind domain.EntryKind, amount int64, referenceID *uuid.UUID, description string) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, errors.ErrInvalidAmount
	}
	return s.appendTx(ctx, tx, userID, kind, amount, referenceID, description)
}

// DebitTx appends a negative entry, rejecting any debit that would take
// the balance below zero. The caller must hold the user's ledger lock.
func (s *Service) DebitTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, kind domain.EntryKind, amount int64, referenceID *uuid.UUID, description string) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, errors.ErrInvalidAmount
	}
	return s.appendTx(ctx, tx, userID, kind, -amount, referenceID, description)
}

func (s *Service) appendTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, kind domain.EntryKind, amount int64, referenceID *uuid.UUID, description string) (*domain.LedgerEntry, error) {
	lastBalance, err := s.entries.LastBalanceTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	newBalance := lastBalance + amount
	if newBalance < 0 {
		return nil, errors.ErrInsufficientCredits
	}

	entry := &domain.LedgerEntry{
		UserID:       userID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: newBalance,
		ReferenceID:  referenceID,
		Description:  description,
		CreatedAt:    time.Now(),
	}
	if err := s.entries.InsertTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

type GrantRequest struct {
	UserID      uuid.UUID `json:"user_id" validate:"required"`
	Amount      int64     `json:"amount" validate:"required,gt=0"`
	Description string    `json:"description" validate:"max=255"`
	GrantedBy   *uuid.UUID
	Adjustment  bool
}

// Grant funds a user's account with a grant or admin_adjustment entry.
func (s *Service) Grant(ctx context.Context, req *GrantRequest) (*domain.LedgerEntry, error) {
	if req.Amount <= 0 {
		return nil, errors.ErrInvalidAmount
	}

	kind := domain.EntryGrant
	if req.Adjustment {
		kind = domain.EntryAdminAdjustment
	}

	var entry *domain.LedgerEntry
	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.users.LockTx(ctx, tx, req.UserID); err != nil {
			return err
		}
		var err error
		entry, err = s.CreditTx(ctx, tx, req.UserID, kind, req.Amount, nil, req.Description)
		if err != nil {
			return err
		}
		return s.notifier.NotifyTx(ctx, tx, req.UserID, "credits_granted",
			"Credits received", "Credits were added to your account.", nil, "ledger")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Credits granted", map[string]interface{}{
		"user_id": req.UserID,
		"amount":  req.Amount,
		"kind":    kind,
	})
	return entry, nil
}

type TransferRequest struct {
	FromUserID uuid.UUID `json:"from_user_id" validate:"required"`
	ToUserID   uuid.UUID `json:"to_user_id" validate:"required"`
	Amount     int64     `json:"amount" validate:"required,gt=0"`
	Reason     string    `json:"reason" validate:"max=255"`
}

type TransferResult struct {
	TransferID  uuid.UUID `json:"transfer_id"`
	FromBalance int64     `json:"from_balance"`
	ToBalance   int64     `json:"to_balance"`
	Amount      int64     `json:"amount"`
}

// Transfer moves credits between two users as one atomic unit. Both
// ledger locks are taken in ascending identifier order so concurrent
// reverse transfers cannot deadlock.
func (s *Service) Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	if req.Amount <= 0 {
		return nil, errors.ErrInvalidAmount
	}
	if req.FromUserID == req.ToUserID {
		return nil, errors.ErrSelfTransfer
	}

	transferID := uuid.New()
	result := &TransferResult{TransferID: transferID, Amount: req.Amount}

	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.users.LockManyTx(ctx, tx, req.FromUserID, req.ToUserID); err != nil {
			return err
		}

		debit, err := s.DebitTx(ctx, tx, req.FromUserID, domain.EntryTransferOut, req.Amount, &transferID, req.Reason)
		if err != nil {
			return err
		}
		credit, err := s.CreditTx(ctx, tx, req.ToUserID, domain.EntryTransferIn, req.Amount, &transferID, req.Reason)
		if err != nil {
			return err
		}
		result.FromBalance = debit.BalanceAfter
		result.ToBalance = credit.BalanceAfter

		return s.notifier.NotifyTx(ctx, tx, req.ToUserID, "credits_received",
			"Credits received", "Another member sent you credits.", &transferID, "transfer")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Credits transferred", map[string]interface{}{
		"transfer_id": transferID,
		"from":        req.FromUserID,
		"to":          req.ToUserID,
		"amount":      req.Amount,
	})
	return result, nil
}

// Balance returns the user's current balance off the ledger tail.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return 0, err
	}
	return s.entries.Balance(ctx, userID)
}

// History returns the user's most recent entries, newest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.entries.History(ctx, userID, limit)
}
