// Package audit writes before/after snapshots of mutated rows in the same
// transaction as the mutation itself.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"trueque/internal/domain"
	"trueque/pkg/errors"
	"trueque/pkg/logger"
)

type Repository interface {
	InsertTx(ctx context.Context, tx *sqlx.Tx, record *domain.AuditRecord) error
}

type Recorder struct {
	repo   Repository
	logger logger.Logger
}

func NewRecorder(repo Repository, log logger.Logger) *Recorder {
	return &Recorder{repo: repo, logger: log}
}

// RecordTx captures a change to one row. oldValue may be nil for inserts.
// changedBy is nil for system-initiated changes.
func (r *Recorder) RecordTx(ctx context.Context, tx *sqlx.Tx, table, recordID, operation string, oldValue, newValue interface{}, changedFields []string, changedBy *uuid.UUID) error {
	record := &domain.AuditRecord{
		TableName:     table,
		RecordID:      recordID,
		Operation:     operation,
		ChangedFields: pq.StringArray(changedFields),
		ChangedBy:     changedBy,
		CreatedAt:     time.Now(),
	}

	if oldValue != nil {
		data, err := json.Marshal(oldValue)
		if err != nil {
			return errors.Wrap(err, "failed to marshal audit old value")
		}
		record.OldData = data
	}
	if newValue != nil {
		data, err := json.Marshal(newValue)
		if err != nil {
			return errors.Wrap(err, "failed to marshal audit new value")
		}
		record.NewData = data
	}

	return r.repo.InsertTx(ctx, tx, record)
}
