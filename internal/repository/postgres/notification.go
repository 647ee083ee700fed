package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trueque/internal/domain"
	"trueque/pkg/errors"
)

type NotificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// InsertTx writes a notification inside the business transaction, so a
// rolled back operation leaves no stray notification behind.
func (r *NotificationRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, notification *domain.Notification) error {
	query := `
		INSERT INTO notifications (
			id, user_id, type, title, message, reference_id, reference_type, created_at
		) VALUES (
			:id, :user_id, :type, :title, :message, :reference_id, :reference_type, :created_at
		)
	`
	if _, err := tx.NamedExecContext(ctx, query, notification); err != nil {
		return errors.Wrap(err, "failed to insert notification")
	}
	return nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Notification, error) {
	var notifications []*domain.Notification
	query := `
		SELECT * FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &notifications, query, userID, limit, offset); err != nil {
		return nil, errors.Wrap(err, "failed to list notifications")
	}
	return notifications, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	query := `UPDATE notifications SET read_at = NOW() WHERE id = $1 AND user_id = $2 AND read_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, userID); err != nil {
		return errors.Wrap(err, "failed to mark notification read")
	}
	return nil
}
