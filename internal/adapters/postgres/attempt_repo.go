package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/geoproof/internal/core/domain"
)

const attemptColumns = `id, geofence_id, contract_address, status, failed_stage, category, error,
	felt_count, verification, prove_ms, verify_ms, created_at, updated_at`

// AttemptRepo implements ports.AttemptRepository.
type AttemptRepo struct {
	db *DB
}

func NewAttemptRepo(db *DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

// Create records a new attempt. Re-creating an existing id resets it, so a
// retried workflow run starts from a clean record.
func (r *AttemptRepo) Create(ctx context.Context, a *domain.ProofAttempt) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO proof_attempts (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, failed_stage = '', category = '', error = '',
		    felt_count = 0, verification = '', prove_ms = 0, verify_ms = 0,
		    updated_at = EXCLUDED.updated_at
	`, attemptArgs(a)...)
	return err
}

// Update writes the attempt's current state.
func (r *AttemptRepo) Update(ctx context.Context, a *domain.ProofAttempt) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE proof_attempts
		SET status = $2, failed_stage = $3, category = $4, error = $5,
		    felt_count = $6, verification = $7, prove_ms = $8, verify_ms = $9,
		    updated_at = $10
		WHERE id = $1
	`, a.ID, a.Status, a.FailedStage, a.Category, a.Error,
		a.FeltCount, a.Verification, a.ProveDuration.Milliseconds(), a.VerifyDuration.Milliseconds(),
		a.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns a single attempt.
func (r *AttemptRepo) GetByID(ctx context.Context, id string) (*domain.ProofAttempt, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	row := r.db.Pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM proof_attempts WHERE id = $1`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

// ListByGeofence returns the newest attempts for a fence.
func (r *AttemptRepo) ListByGeofence(ctx context.Context, geofenceID string, limit int) ([]domain.ProofAttempt, error) {
	if _, err := uuid.Parse(geofenceID); err != nil {
		return nil, nil
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM proof_attempts
		WHERE geofence_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, geofenceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProofAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func attemptArgs(a *domain.ProofAttempt) []any {
	return []any{
		a.ID, a.GeofenceID, a.ContractAddress, a.Status, a.FailedStage, a.Category, a.Error,
		a.FeltCount, a.Verification, a.ProveDuration.Milliseconds(), a.VerifyDuration.Milliseconds(),
		a.CreatedAt, a.UpdatedAt,
	}
}

func scanAttempt(row pgx.Row) (*domain.ProofAttempt, error) {
	var a domain.ProofAttempt
	var status, stage, category, verification string
	var proveMS, verifyMS int64
	if err := row.Scan(
		&a.ID, &a.GeofenceID, &a.ContractAddress, &status, &stage, &category, &a.Error,
		&a.FeltCount, &verification, &proveMS, &verifyMS, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = domain.AttemptStatus(status)
	a.FailedStage = domain.Stage(stage)
	a.Category = domain.Category(category)
	a.Verification = domain.VerificationStatus(verification)
	a.ProveDuration = time.Duration(proveMS) * time.Millisecond
	a.VerifyDuration = time.Duration(verifyMS) * time.Millisecond
	return &a, nil
}
