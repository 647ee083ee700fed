package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trueque/internal/domain"
	"trueque/pkg/errors"
)

type ChallengeRepository struct {
	db *sqlx.DB
}

func NewChallengeRepository(db *sqlx.DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

func (r *ChallengeRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Challenge, error) {
	challenge := &domain.Challenge{}
	query := `SELECT * FROM challenges WHERE id = $1 AND deleted_at IS NULL`
	if err := r.db.GetContext(ctx, challenge, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrChallengeNotFound
		}
		return nil, errors.Wrap(err, "failed to find challenge")
	}
	return challenge, nil
}

func (r *ChallengeRepository) ListActive(ctx context.Context) ([]*domain.Challenge, error) {
	var challenges []*domain.Challenge
	query := `
		SELECT * FROM challenges
		WHERE is_active = TRUE AND deleted_at IS NULL
		ORDER BY created_at DESC
	`
	if err := r.db.SelectContext(ctx, &challenges, query); err != nil {
		return nil, errors.Wrap(err, "failed to list active challenges")
	}
	return challenges, nil
}

// ListActiveByRequirementTx returns active challenges keyed on a
// requirement type, used to bump enrollment progress after an exchange.
func (r *ChallengeRepository) ListActiveByRequirementTx(ctx context.Context, tx *sqlx.Tx, requirement string) ([]*domain.Challenge, error) {
	var challenges []*domain.Challenge
	query := `
		SELECT * FROM challenges
		WHERE requirement_type = $1 AND is_active = TRUE AND deleted_at IS NULL
	`
	if err := tx.SelectContext(ctx, &challenges, query, requirement); err != nil {
		return nil, errors.Wrap(err, "failed to list challenges by requirement")
	}
	return challenges, nil
}

func (r *ChallengeRepository) InsertEnrollmentTx(ctx context.Context, tx *sqlx.Tx, enrollment *domain.UserChallenge) error {
	query := `
		INSERT INTO user_challenges (
			id, user_id, challenge_id, progress, target, is_completed, started_at
		) VALUES (
			:id, :user_id, :challenge_id, :progress, :target, :is_completed, :started_at
		)
	`
	if _, err := tx.NamedExecContext(ctx, query, enrollment); err != nil {
		if isUniqueViolation(err) {
			return errors.ErrInvalidState
		}
		return errors.Wrap(err, "failed to insert enrollment")
	}
	return nil
}

// LockEnrollmentTx locks a user's enrollment; completion and progress
// updates both go through this row.
func (r *ChallengeRepository) LockEnrollmentTx(ctx context.Context, tx *sqlx.Tx, userID, challengeID uuid.UUID) (*domain.UserChallenge, error) {
	enrollment := &domain.UserChallenge{}
	query := `
		SELECT * FROM user_challenges
		WHERE user_id = $1 AND challenge_id = $2
		FOR UPDATE
	`
	if err := tx.GetContext(ctx, enrollment, query, userID, challengeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrNotEnrolled
		}
		return nil, errors.Wrap(err, "failed to lock enrollment")
	}
	return enrollment, nil
}

func (r *ChallengeRepository) UpdateEnrollmentTx(ctx context.Context, tx *sqlx.Tx, enrollment *domain.UserChallenge) error {
	query := `
		UPDATE user_challenges SET
			progress = :progress,
			is_completed = :is_completed,
			completed_at = :completed_at
		WHERE id = :id
	`
	if _, err := tx.NamedExecContext(ctx, query, enrollment); err != nil {
		return errors.Wrap(err, "failed to update enrollment")
	}
	return nil
}

// BumpProgressTx advances progress on all of a user's open enrollments
// matching the requirement type.
func (r *ChallengeRepository) BumpProgressTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, requirement string, delta int) error {
	query := `
		UPDATE user_challenges uc SET
			progress = uc.progress + $1
		FROM challenges c
		WHERE uc.challenge_id = c.id
		  AND uc.user_id = $2
		  AND uc.is_completed = FALSE
		  AND c.requirement_type = $3
		  AND c.is_active = TRUE
	`
	if _, err := tx.ExecContext(ctx, query, delta, userID, requirement); err != nil {
		return errors.Wrap(err, "failed to bump challenge progress")
	}
	return nil
}

func (r *ChallengeRepository) IncrementParticipantsTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	query := `UPDATE challenges SET participants_count = participants_count + 1, updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id); err != nil {
		return errors.Wrap(err, "failed to increment participants")
	}
	return nil
}

func (r *ChallengeRepository) IncrementCompletionsTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	query := `UPDATE challenges SET completions_count = completions_count + 1, updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id); err != nil {
		return errors.Wrap(err, "failed to increment completions")
	}
	return nil
}

func (r *ChallengeRepository) ListEnrollmentsByUser(ctx context.Context, userID uuid.UUID) ([]*domain.UserChallenge, error) {
	var enrollments []*domain.UserChallenge
	query := `
		SELECT * FROM user_challenges
		WHERE user_id = $1
		ORDER BY started_at DESC
	`
	if err := r.db.SelectContext(ctx, &enrollments, query, userID); err != nil {
		return nil, errors.Wrap(err, "failed to list enrollments")
	}
	return enrollments, nil
}
