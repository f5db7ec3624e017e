package entities

import (
	"time"

	"github.com/google/uuid"
)

// WebhookAuditStatus tracks webhook payload processing progress
type WebhookAuditStatus string

const (
	WebhookStatusReceived  WebhookAuditStatus = "RECEIVED"
	WebhookStatusProcessed WebhookAuditStatus = "PROCESSED"
	WebhookStatusFailed    WebhookAuditStatus = "FAILED"
	WebhookStatusRejected  WebhookAuditStatus = "REJECTED"
)

// WebhookAuditLog captures a raw provider payload verbatim before any
// normalization. The payload itself is immutable; only processing status,
// error and attempt count mutate.
type WebhookAuditLog struct {
	ID           uuid.UUID          `db:"id" json:"id"`
	Provider     Provider           `db:"provider" json:"provider"`
	Chain        Chain              `db:"chain" json:"chain"`
	Payload      []byte             `db:"payload" json:"payload"`
	Status       WebhookAuditStatus `db:"status" json:"status"`
	Error        *string            `db:"error" json:"error,omitempty"`
	AttemptCount int                `db:"attempt_count" json:"attempt_count"`
	DepositID    *uuid.UUID         `db:"deposit_id" json:"deposit_id,omitempty"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `db:"updated_at" json:"updated_at"`
}

// NewWebhookAuditLog records an inbound payload as RECEIVED
func NewWebhookAuditLog(provider Provider, chain Chain, payload []byte) *WebhookAuditLog {
	now := time.Now().UTC()
	return &WebhookAuditLog{
		ID:        uuid.New(),
		Provider:  provider,
		Chain:     chain,
		Payload:   payload,
		Status:    WebhookStatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsRetryable reports whether a failed log may be dead-letter retried. Hard
// validation rejections are final.
func (w *WebhookAuditLog) IsRetryable(maxAttempts int) bool {
	return w.Status == WebhookStatusFailed && w.AttemptCount < maxAttempts
}
