package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"trueque/internal/domain"
	"trueque/pkg/errors"
)

type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// InsertTx records an audit row in the same transaction as the change it
// describes.
func (r *AuditRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, record *domain.AuditRecord) error {
	query := `
		INSERT INTO audit_history (
			id, table_name, record_id, operation, old_data, new_data,
			changed_fields, changed_by, created_at
		) VALUES (
			:id, :table_name, :record_id, :operation, :old_data, :new_data,
			:changed_fields, :changed_by, :created_at
		)
	`
	if _, err := tx.NamedExecContext(ctx, query, record); err != nil {
		return errors.Wrap(err, "failed to insert audit record")
	}
	return nil
}
