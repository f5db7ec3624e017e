package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
)

const jobColumns = `
	id, name, dedup_key, payload, status, attempt_count, max_attempts,
	last_error, next_retry_at, completed_at, created_at, updated_at`

// JobRepository backs the durable at-least-once job queue with Postgres
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Enqueue inserts a job; a duplicate dedup key collapses silently so at most
// one outstanding job exists per key regardless of how many producers fire.
func (r *JobRepository) Enqueue(ctx context.Context, job *entities.Job) (bool, error) {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		job.ID,
		job.Name,
		job.DedupKey,
		job.Payload,
		job.Status,
		job.AttemptCount,
		job.MaxAttempts,
		job.LastError,
		job.NextRetryAt,
		job.CompletedAt,
		job.CreatedAt,
		job.UpdatedAt,
	).Scan(&job.ID)

	if err == sql.ErrNoRows {
		// Dedup key already present
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return true, nil
}

// ClaimBatch atomically moves ready jobs to processing and returns them.
// SKIP LOCKED keeps concurrent pollers from fighting over the same rows.
func (r *JobRepository) ClaimBatch(ctx context.Context, limit int) ([]*entities.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'processing', attempt_count = attempt_count + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending'
			   OR (status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= NOW())
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	var jobs []*entities.Job
	err := r.db.SelectContext(ctx, &jobs, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}

	return jobs, nil
}

// Update persists a job's status and retry metadata
func (r *JobRepository) Update(ctx context.Context, job *entities.Job) error {
	query := `
		UPDATE jobs
		SET status = $2,
			attempt_count = $3,
			last_error = $4,
			next_retry_at = $5,
			completed_at = $6,
			updated_at = $7
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.Status,
		job.AttemptCount,
		job.LastError,
		job.NextRetryAt,
		job.CompletedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job not found: %s", job.ID)
	}

	return nil
}

// RequeueStuck returns jobs abandoned mid-processing to pending. Covers
// workers that died between claiming and persisting an outcome.
func (r *JobRepository) RequeueStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE jobs
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1`

	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stuck jobs: %w", err)
	}

	return result.RowsAffected()
}

// DeleteCompleted prunes completed jobs older than the cutoff
func (r *JobRepository) DeleteCompleted(ctx context.Context, olderThanDays int) (int64, error) {
	query := `
		DELETE FROM jobs
		WHERE status = 'completed'
		  AND completed_at < NOW() - ($1 || ' days')::INTERVAL`

	result, err := r.db.ExecContext(ctx, query, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("failed to prune completed jobs: %w", err)
	}

	return result.RowsAffected()
}
