// Package scanners holds the periodic self-healing sweeps: re-driving stale
// deposits, retrying dead-lettered webhooks, requeueing abandoned jobs and
// running the fraud radar. The cron only enqueues queue jobs; the dedup key
// carries a time bucket so exactly one instance runs per period no matter
// how many replicas schedule it.
package scanners

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/internal/domain/services/ingest"
	"github.com/starpay-service/starpay_service/internal/infrastructure/config"
	"github.com/starpay-service/starpay_service/internal/workers/jobqueue"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

// stuckJobCutoff is how long a processing job may sit before requeue
const stuckJobCutoff = 15 * time.Minute

// SettingsProvider supplies the stale threshold
type SettingsProvider interface {
	Get(ctx context.Context) *entities.PlatformSettings
}

// DepositLister finds deposits stuck mid-pipeline
type DepositLister interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*entities.Deposit, error)
}

// AuditResetter flips cooled-down failed webhook logs back to RECEIVED
type AuditResetter interface {
	ResetDeadLetters(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]uuid.UUID, error)
}

// JobQueue enqueues scan work and recovers abandoned jobs
type JobQueue interface {
	Enqueue(ctx context.Context, job *entities.Job) (bool, error)
	RequeueStuck(ctx context.Context, olderThan time.Time) (int64, error)
}

// Radar is the fraud sweep the alert cron drives
type Radar interface {
	Scan(ctx context.Context)
}

// Service implements the scan job handlers and owns the cron that triggers
// them.
type Service struct {
	deposits DepositLister
	audits   AuditResetter
	jobs     JobQueue
	settings SettingsProvider
	fraud    Radar
	workers  config.WorkersConfig
	fraudCfg config.FraudConfig
	logger   *logger.Logger
	cron     *cron.Cron
	now      func() time.Time
}

// NewService creates the scanner service
func NewService(
	deposits DepositLister,
	audits AuditResetter,
	jobs JobQueue,
	settings SettingsProvider,
	fraudSvc Radar,
	workers config.WorkersConfig,
	fraudCfg config.FraudConfig,
	logger *logger.Logger,
) *Service {
	return &Service{
		deposits: deposits,
		audits:   audits,
		jobs:     jobs,
		settings: settings,
		fraud:    fraudSvc,
		workers:  workers,
		fraudCfg: fraudCfg,
		logger:   logger,
		cron:     cron.New(),
		now:      time.Now,
	}
}

// RegisterHandlers installs the scan handlers on the worker pool
func (s *Service) RegisterHandlers(pool *jobqueue.Pool) {
	pool.Register(entities.JobReconcileStaleScan, s.HandleStaleScan)
	pool.Register(entities.JobRetryDeadLetters, s.HandleDeadLetterScan)
	pool.Register(entities.JobAlertCron, s.HandleAlertScan)
}

// Start schedules the periodic triggers
func (s *Service) Start() error {
	schedules := map[entities.JobName]string{
		entities.JobReconcileStaleScan: s.workers.StaleScanCron,
		entities.JobRetryDeadLetters:   s.workers.DeadLetterCron,
		entities.JobAlertCron:          s.fraudCfg.ScanCron,
	}
	for name, spec := range schedules {
		jobName := name
		if _, err := s.cron.AddFunc(spec, func() { s.trigger(jobName) }); err != nil {
			return fmt.Errorf("schedule %s: %w", jobName, err)
		}
	}
	s.cron.Start()
	s.logger.Info("Scan schedules started",
		"stale_scan", s.workers.StaleScanCron,
		"dead_letter_scan", s.workers.DeadLetterCron,
		"alert_scan", s.fraudCfg.ScanCron,
	)
	return nil
}

// Stop halts the cron, waiting for a running trigger to finish
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Scan schedules stopped")
}

// trigger enqueues the scan as a queue job. The minute-bucketed dedup key
// collapses simultaneous triggers from multiple replicas.
func (s *Service) trigger(name entities.JobName) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bucket := s.now().UTC().Format("2006-01-02T15:04")
	job := entities.NewJob(name, fmt.Sprintf("%s:%s", name, bucket), nil, 1)
	if _, err := s.jobs.Enqueue(ctx, job); err != nil {
		s.logger.Error("Failed to enqueue scan job", "name", name, "error", err)
	}
}

// HandleStaleScan re-drives deposits stuck in SUBMITTED, OBSERVED or
// CONFIRMED past the configured threshold and requeues abandoned queue jobs.
func (s *Service) HandleStaleScan(ctx context.Context, _ *entities.Job) error {
	cfg := s.settings.Get(ctx)
	cutoff := s.now().UTC().Add(-time.Duration(cfg.StaleMinutes) * time.Minute)

	stale, err := s.deposits.ListStale(ctx, cutoff, s.workers.BatchSize*10)
	if err != nil {
		return fmt.Errorf("list stale deposits: %w", err)
	}

	// The bucket makes the key distinct from the original reconcile job's,
	// so a deposit whose first job completed without resolving it still
	// gets another verification pass each stale period.
	bucket := s.now().UTC().Format("2006-01-02T15")
	var enqueued int
	for _, deposit := range stale {
		payload, err := json.Marshal(ingest.ReconcilePayload{DepositID: deposit.ID})
		if err != nil {
			return fmt.Errorf("marshal reconcile payload: %w", err)
		}
		key := fmt.Sprintf("stale:%s:%s", deposit.ID, bucket)
		job := entities.NewJob(entities.JobReconcileDeposit, key, payload, s.workers.MaxAttempts)
		inserted, err := s.jobs.Enqueue(ctx, job)
		if err != nil {
			s.logger.Error("Failed to enqueue stale reconcile", "deposit_id", deposit.ID, "error", err)
			continue
		}
		if inserted {
			enqueued++
		}
	}

	requeued, err := s.jobs.RequeueStuck(ctx, s.now().UTC().Add(-stuckJobCutoff))
	if err != nil {
		s.logger.Error("Failed to requeue stuck jobs", "error", err)
	}

	if len(stale) > 0 || requeued > 0 {
		s.logger.Info("Stale scan finished",
			"stale_deposits", len(stale),
			"reconciles_enqueued", enqueued,
			"jobs_requeued", requeued,
		)
	}
	return nil
}

// HandleDeadLetterScan flips cooled-down FAILED webhook logs back to
// RECEIVED and queues them for another processing attempt.
func (s *Service) HandleDeadLetterScan(ctx context.Context, _ *entities.Job) error {
	olderThan := s.now().UTC().Add(-time.Duration(s.workers.DeadLetterCooldown) * time.Minute)
	ids, err := s.audits.ResetDeadLetters(ctx, olderThan, s.workers.DeadLetterMaxTries, s.workers.BatchSize*10)
	if err != nil {
		return fmt.Errorf("reset dead letters: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	bucket := s.now().UTC().Format("2006-01-02T15:04")
	for _, id := range ids {
		payload, err := json.Marshal(ingest.ProcessPayload{AuditID: id})
		if err != nil {
			return fmt.Errorf("marshal process payload: %w", err)
		}
		key := fmt.Sprintf("dlq:%s:%s", id, bucket)
		job := entities.NewJob(entities.JobProcessWebhookAudit, key, payload, s.workers.MaxAttempts)
		if _, err := s.jobs.Enqueue(ctx, job); err != nil {
			s.logger.Error("Failed to enqueue dead letter retry", "audit_id", id, "error", err)
		}
	}

	s.logger.Info("Dead letter scan finished", "retried", len(ids))
	return nil
}

// HandleAlertScan runs the fraud radar once
func (s *Service) HandleAlertScan(ctx context.Context, _ *entities.Job) error {
	s.fraud.Scan(ctx)
	return nil
}
