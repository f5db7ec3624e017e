package entities

import (
	"time"

	"github.com/google/uuid"
)

// FraudAlertKind classifies what the radar detected
type FraudAlertKind string

const (
	AlertKindDuplicateTxHash  FraudAlertKind = "DUP_TX_HASH"
	AlertKindWebhookFailSpike FraudAlertKind = "WEBHOOK_FAIL_SPIKE"
	AlertKindReviewBurst      FraudAlertKind = "REVIEW_BURST"
	AlertKindWatcherDead      FraudAlertKind = "WATCHER_DEAD"
	AlertKindAmountMismatch   FraudAlertKind = "AMOUNT_MISMATCH"
	AlertKindTrustedAmount    FraudAlertKind = "PROVIDER_TRUSTED_AMOUNT"
)

// FraudAlertSeverity orders alerts for operators
type FraudAlertSeverity string

const (
	AlertSeverityCritical FraudAlertSeverity = "CRITICAL"
	AlertSeverityHigh     FraudAlertSeverity = "HIGH"
	AlertSeverityMedium   FraudAlertSeverity = "MEDIUM"
	AlertSeverityLow      FraudAlertSeverity = "LOW"
)

// FraudAlert is deduplicated by (kind, dedupe_key); repeated scans upsert the
// same row instead of producing an alert storm.
type FraudAlert struct {
	ID         uuid.UUID          `db:"id" json:"id"`
	Kind       FraudAlertKind     `db:"kind" json:"kind"`
	Severity   FraudAlertSeverity `db:"severity" json:"severity"`
	DedupeKey  string             `db:"dedupe_key" json:"dedupe_key"`
	Message    string             `db:"message" json:"message"`
	Details    []byte             `db:"details" json:"details,omitempty"`
	SeenCount  int                `db:"seen_count" json:"seen_count"`
	FirstSeen  time.Time          `db:"first_seen_at" json:"first_seen_at"`
	LastSeen   time.Time          `db:"last_seen_at" json:"last_seen_at"`
	ResolvedAt *time.Time         `db:"resolved_at" json:"resolved_at,omitempty"`
}

// NewFraudAlert creates an alert candidate for upsert
func NewFraudAlert(kind FraudAlertKind, severity FraudAlertSeverity, dedupeKey, message string, details []byte) *FraudAlert {
	now := time.Now().UTC()
	return &FraudAlert{
		ID:        uuid.New(),
		Kind:      kind,
		Severity:  severity,
		DedupeKey: dedupeKey,
		Message:   message,
		Details:   details,
		SeenCount: 1,
		FirstSeen: now,
		LastSeen:  now,
	}
}
