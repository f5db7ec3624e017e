package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
)

// FraudAlertRepository persists deduplicated fraud alerts
type FraudAlertRepository struct {
	db *sqlx.DB
}

// NewFraudAlertRepository creates a new fraud alert repository
func NewFraudAlertRepository(db *sqlx.DB) *FraudAlertRepository {
	return &FraudAlertRepository{db: db}
}

// Upsert inserts the alert or, on a (kind, dedupe_key) collision, bumps the
// seen count and last-seen timestamp. Returns true when the alert is new,
// which is when notification should fire.
func (r *FraudAlertRepository) Upsert(ctx context.Context, alert *entities.FraudAlert) (bool, error) {
	query := `
		INSERT INTO fraud_alerts (id, kind, severity, dedupe_key, message, details, seen_count, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (kind, dedupe_key)
		DO UPDATE SET seen_count = fraud_alerts.seen_count + 1, last_seen_at = NOW()
		RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err := r.db.QueryRowContext(ctx, query,
		alert.ID,
		alert.Kind,
		alert.Severity,
		alert.DedupeKey,
		alert.Message,
		alert.Details,
		alert.SeenCount,
		alert.FirstSeen,
		alert.LastSeen,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert fraud alert: %w", err)
	}

	return inserted, nil
}

// ListOpen returns unresolved alerts, newest first
func (r *FraudAlertRepository) ListOpen(ctx context.Context, limit int) ([]*entities.FraudAlert, error) {
	query := `
		SELECT id, kind, severity, dedupe_key, message, details, seen_count, first_seen_at, last_seen_at, resolved_at
		FROM fraud_alerts
		WHERE resolved_at IS NULL
		ORDER BY last_seen_at DESC
		LIMIT $1`

	var alerts []*entities.FraudAlert
	if err := r.db.SelectContext(ctx, &alerts, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list open fraud alerts: %w", err)
	}

	return alerts, nil
}
