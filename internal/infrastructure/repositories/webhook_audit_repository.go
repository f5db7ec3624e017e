package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
)

const webhookAuditColumns = `
	id, provider, chain, payload, status, error, attempt_count, deposit_id,
	created_at, updated_at`

// WebhookAuditRepository persists the append-only webhook audit trail
type WebhookAuditRepository struct {
	db *sqlx.DB
}

// NewWebhookAuditRepository creates a new webhook audit repository
func NewWebhookAuditRepository(db *sqlx.DB) *WebhookAuditRepository {
	return &WebhookAuditRepository{db: db}
}

// Create stores a raw payload verbatim before any normalization
func (r *WebhookAuditRepository) Create(ctx context.Context, log *entities.WebhookAuditLog) error {
	query := `
		INSERT INTO webhook_audit_logs (` + webhookAuditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.Provider,
		log.Chain,
		log.Payload,
		log.Status,
		log.Error,
		log.AttemptCount,
		log.DepositID,
		log.CreatedAt,
		log.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook audit log: %w", err)
	}

	return nil
}

// GetByID retrieves an audit log by ID
func (r *WebhookAuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.WebhookAuditLog, error) {
	query := `SELECT ` + webhookAuditColumns + ` FROM webhook_audit_logs WHERE id = $1`

	var log entities.WebhookAuditLog
	err := r.db.GetContext(ctx, &log, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("webhook audit log not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get webhook audit log: %w", err)
	}

	return &log, nil
}

// MarkProcessed records successful processing and the linked deposit
func (r *WebhookAuditRepository) MarkProcessed(ctx context.Context, id uuid.UUID, depositID *uuid.UUID) error {
	query := `
		UPDATE webhook_audit_logs
		SET status = 'PROCESSED', deposit_id = COALESCE($2, deposit_id), error = NULL, updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, depositID); err != nil {
		return fmt.Errorf("failed to mark webhook processed: %w", err)
	}
	return nil
}

// MarkFailed records a processing failure eligible for dead-letter retry
func (r *WebhookAuditRepository) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	query := `
		UPDATE webhook_audit_logs
		SET status = 'FAILED', error = $2, attempt_count = attempt_count + 1, updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, cause); err != nil {
		return fmt.Errorf("failed to mark webhook failed: %w", err)
	}
	return nil
}

// MarkRejected records a hard validation rejection, never retried
func (r *WebhookAuditRepository) MarkRejected(ctx context.Context, id uuid.UUID, cause string) error {
	query := `
		UPDATE webhook_audit_logs
		SET status = 'REJECTED', error = $2, updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, cause); err != nil {
		return fmt.Errorf("failed to mark webhook rejected: %w", err)
	}
	return nil
}

// ResetDeadLetters moves FAILED logs older than the cool-down back to
// RECEIVED, bounded by attempt count, and returns the affected ids.
func (r *WebhookAuditRepository) ResetDeadLetters(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]uuid.UUID, error) {
	query := `
		UPDATE webhook_audit_logs
		SET status = 'RECEIVED', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM webhook_audit_logs
			WHERE status = 'FAILED'
			  AND attempt_count < $2
			  AND updated_at < $1
			ORDER BY updated_at ASC
			LIMIT $3
		)
		RETURNING id`

	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, query, olderThan, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to reset dead letters: %w", err)
	}

	return ids, nil
}

// FailRateWindow summarizes processing outcomes inside a time window
type FailRateWindow struct {
	Total  int `db:"total"`
	Failed int `db:"failed"`
}

// GetFailRate returns webhook outcome counts between from and to
func (r *WebhookAuditRepository) GetFailRate(ctx context.Context, from, to time.Time) (*FailRateWindow, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COUNT(*) FILTER (WHERE status = 'FAILED') as failed
		FROM webhook_audit_logs
		WHERE created_at >= $1 AND created_at < $2`

	var window FailRateWindow
	if err := r.db.GetContext(ctx, &window, query, from, to); err != nil {
		return nil, fmt.Errorf("failed to get webhook fail rate: %w", err)
	}

	return &window, nil
}
