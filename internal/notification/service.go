// Package notification persists in-app notification rows. Delivery
// (push, email) is handled by consumers outside the engine.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trueque/internal/domain"
	"trueque/pkg/logger"
)

type Repository interface {
	InsertTx(ctx context.Context, tx *sqlx.Tx, notification *domain.Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Notification, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
}

type Service struct {
	repo   Repository
	logger logger.Logger
}

func NewService(repo Repository, log logger.Logger) *Service {
	return &Service{repo: repo, logger: log}
}

// NotifyTx writes a notification inside the caller's transaction, so a
// rolled back operation emits nothing.
func (s *Service) NotifyTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, notificationType, title, message string, referenceID *uuid.UUID, referenceType string) error {
	notification := &domain.Notification{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        notificationType,
		Title:       title,
		Message:     message,
		ReferenceID: referenceID,
		CreatedAt:   time.Now(),
	}
	if referenceType != "" {
		notification.ReferenceType = &referenceType
	}
	return s.repo.InsertTx(ctx, tx, notification)
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	return s.repo.MarkRead(ctx, id, userID)
}
