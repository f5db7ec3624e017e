package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobName identifies a queue handler
type JobName string

const (
	JobReconcileDeposit    JobName = "reconcile_deposit"
	JobProcessWebhookAudit JobName = "process_webhook_audit"
	JobReconcileStaleScan  JobName = "reconcile_stale_scan"
	JobRetryDeadLetters    JobName = "retry_dead_letters_scan"
	JobAlertCron           JobName = "alert_cron"
)

// WatchJobName returns the per-chain watcher job name, e.g.
// watch_solana_deposits.
func WatchJobName(chain Chain) JobName {
	return JobName(fmt.Sprintf("watch_%s_deposits", chain))
}

// JobStatus tracks a queue job through its lifecycle
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDLQ        JobStatus = "dlq"
)

// Job is one durable unit of work. Delivery is at-least-once: every handler
// must be idempotent. Duplicate submissions collapse on the dedup key.
// Claiming bumps AttemptCount in the database, so in-memory transitions only
// ever move a claimed job to completed, failed or dlq.
type Job struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Name         JobName    `db:"name" json:"name"`
	DedupKey     string     `db:"dedup_key" json:"dedup_key"`
	Payload      []byte     `db:"payload" json:"payload"`
	Status       JobStatus  `db:"status" json:"status"`
	AttemptCount int        `db:"attempt_count" json:"attempt_count"`
	MaxAttempts  int        `db:"max_attempts" json:"max_attempts"`
	LastError    *string    `db:"last_error" json:"last_error,omitempty"`
	NextRetryAt  *time.Time `db:"next_retry_at" json:"next_retry_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// NewJob creates a pending job with the given dedup key
func NewJob(name JobName, dedupKey string, payload []byte, maxAttempts int) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		Name:        name,
		DedupKey:    dedupKey,
		Payload:     payload,
		Status:      JobStatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// MarkCompleted records successful processing
func (j *Job) MarkCompleted() {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkFailed records a failure and schedules the next retry, or parks the
// job in the DLQ once attempts are exhausted.
func (j *Job) MarkFailed(err error) {
	now := time.Now().UTC()
	msg := err.Error()
	j.LastError = &msg
	j.UpdatedAt = now

	if j.AttemptCount >= j.MaxAttempts {
		j.Status = JobStatusDLQ
		j.NextRetryAt = nil
		return
	}

	retryAt := now.Add(j.RetryDelay())
	j.Status = JobStatusFailed
	j.NextRetryAt = &retryAt
}

// RetryDelay returns the exponential backoff delay for the current attempt,
// capped at ten minutes.
func (j *Job) RetryDelay() time.Duration {
	delay := 30 * time.Second
	for i := 1; i < j.AttemptCount; i++ {
		delay *= 2
		if delay >= 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return delay
}
