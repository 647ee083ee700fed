package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"trueque/internal/domain"
	"trueque/pkg/errors"
)

type ConversationRepository struct {
	db *sqlx.DB
}

func NewConversationRepository(db *sqlx.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// FindOrCreateTx returns the message thread between the offer owner and
// the interested user, creating it on first contact.
func (r *ConversationRepository) FindOrCreateTx(ctx context.Context, tx *sqlx.Tx, conversation *domain.Conversation) (*domain.Conversation, error) {
	existing := &domain.Conversation{}
	query := `SELECT * FROM conversations WHERE offer_id = $1 AND buyer_id = $2`
	err := tx.GetContext(ctx, existing, query, conversation.OfferID, conversation.BuyerID)
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to find conversation")
	}

	insert := `
		INSERT INTO conversations (id, offer_id, buyer_id, seller_id, created_at)
		VALUES (:id, :offer_id, :buyer_id, :seller_id, :created_at)
	`
	if _, err := tx.NamedExecContext(ctx, insert, conversation); err != nil {
		return nil, errors.Wrap(err, "failed to create conversation")
	}
	return conversation, nil
}
