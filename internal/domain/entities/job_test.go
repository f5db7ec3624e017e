package entities

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobMarkFailedSchedulesRetry(t *testing.T) {
	job := NewJob(JobReconcileDeposit, "reconcile_deposit:123", nil, 5)
	job.AttemptCount = 1

	job.MarkFailed(errors.New("rpc timeout"))

	assert.Equal(t, JobStatusFailed, job.Status)
	require.NotNil(t, job.LastError)
	assert.Equal(t, "rpc timeout", *job.LastError)
	require.NotNil(t, job.NextRetryAt)
	assert.True(t, job.NextRetryAt.After(time.Now().UTC().Add(29*time.Second)))
}

func TestJobMarkFailedExhaustedGoesToDLQ(t *testing.T) {
	job := NewJob(JobReconcileDeposit, "reconcile_deposit:123", nil, 3)
	job.AttemptCount = 3

	job.MarkFailed(errors.New("still broken"))

	assert.Equal(t, JobStatusDLQ, job.Status)
	assert.Nil(t, job.NextRetryAt)
}

func TestJobRetryDelayBacksOffExponentially(t *testing.T) {
	job := NewJob(JobProcessWebhookAudit, "audit:1", nil, 10)

	job.AttemptCount = 1
	assert.Equal(t, 30*time.Second, job.RetryDelay())

	job.AttemptCount = 2
	assert.Equal(t, 60*time.Second, job.RetryDelay())

	job.AttemptCount = 3
	assert.Equal(t, 120*time.Second, job.RetryDelay())

	// Capped at ten minutes no matter how many attempts.
	job.AttemptCount = 20
	assert.Equal(t, 10*time.Minute, job.RetryDelay())
}

func TestJobMarkCompleted(t *testing.T) {
	job := NewJob(JobAlertCron, "alert_cron:2026-08-28T10:04", nil, 1)

	job.MarkCompleted()

	assert.Equal(t, JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
}

func TestWatchJobName(t *testing.T) {
	assert.Equal(t, JobName("watch_solana_deposits"), WatchJobName(ChainSolana))
	assert.Equal(t, JobName("watch_ethereum_deposits"), WatchJobName(ChainEthereum))
}
