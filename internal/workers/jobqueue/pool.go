// Package jobqueue runs the durable job queue's worker pool. Jobs live in
// Postgres; claiming uses SKIP LOCKED so any number of pollers can share one
// table, and delivery is at-least-once with idempotent handlers.
package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	domainerr "github.com/starpay-service/starpay_service/internal/domain/errors"
	"github.com/starpay-service/starpay_service/pkg/logger"
	"github.com/starpay-service/starpay_service/pkg/metrics"
)

// HandlerFunc processes one claimed job
type HandlerFunc func(ctx context.Context, job *entities.Job) error

// JobStore is the persistence surface the pool needs
type JobStore interface {
	ClaimBatch(ctx context.Context, limit int) ([]*entities.Job, error)
	Update(ctx context.Context, job *entities.Job) error
	DeleteCompleted(ctx context.Context, olderThanDays int) (int64, error)
}

// Config tunes the worker pool
type Config struct {
	PoolSize       int
	PollInterval   time.Duration
	BatchSize      int
	HandlerTimeout time.Duration
	PruneAfterDays int
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		PoolSize:       5,
		PollInterval:   5 * time.Second,
		BatchSize:      10,
		HandlerTimeout: 2 * time.Minute,
		PruneAfterDays: 7,
	}
}

// Pool polls the jobs table and dispatches to registered handlers
type Pool struct {
	store    JobStore
	handlers map[entities.JobName]HandlerFunc
	config   Config
	logger   *logger.Logger

	jobs           chan *entities.Job
	wg             sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// NewPool creates a worker pool
func NewPool(store JobStore, config Config, logger *logger.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		store:          store,
		handlers:       make(map[entities.JobName]HandlerFunc),
		config:         config,
		logger:         logger,
		jobs:           make(chan *entities.Job, config.BatchSize),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
}

// Register installs the handler for a job name. Must be called before Start.
func (p *Pool) Register(name entities.JobName, handler HandlerFunc) {
	p.handlers[name] = handler
}

// Start launches the poller and worker goroutines
func (p *Pool) Start() {
	for i := 0; i < p.config.PoolSize; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	p.wg.Add(1)
	go p.poll()

	p.wg.Add(1)
	go p.prune()

	p.logger.Info("Job queue started",
		"pool_size", p.config.PoolSize,
		"poll_interval", p.config.PollInterval,
		"handlers", len(p.handlers),
	)
}

// Shutdown drains the pool, waiting up to timeout for in-flight jobs
func (p *Pool) Shutdown(timeout time.Duration) {
	p.shutdownCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Job queue stopped")
	case <-time.After(timeout):
		p.logger.Warn("Job queue shutdown timed out")
	}
}

func (p *Pool) poll() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdownCtx.Done():
			close(p.jobs)
			return
		case <-ticker.C:
			p.claim()
		}
	}
}

func (p *Pool) claim() {
	ctx, cancel := context.WithTimeout(p.shutdownCtx, p.config.PollInterval)
	defer cancel()

	jobs, err := p.store.ClaimBatch(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.Error("Failed to claim jobs", "error", err)
		return
	}

	for _, job := range jobs {
		select {
		case p.jobs <- job:
		case <-p.shutdownCtx.Done():
			// Unprocessed claims stay in processing and are recovered
			// by the stale-job requeue on the next deployment.
			return
		}
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.jobs {
		p.process(job)
	}
}

func (p *Pool) process(job *entities.Job) {
	handler, ok := p.handlers[job.Name]
	if !ok {
		job.MarkFailed(fmt.Errorf("no handler registered for job %s", job.Name))
		p.persist(job)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.HandlerTimeout)
	defer cancel()

	start := time.Now()
	err := p.runHandler(ctx, handler, job)
	metrics.JobDurationHistogram.WithLabelValues(string(job.Name)).Observe(time.Since(start).Seconds())

	if err != nil {
		if !domainerr.IsRetryable(err) {
			// Deterministic failures burn no more attempts
			job.AttemptCount = job.MaxAttempts
		}
		job.MarkFailed(err)
		p.persist(job)
		metrics.JobsProcessedCounter.WithLabelValues(string(job.Name), string(job.Status)).Inc()
		p.logger.Error("Job failed",
			"job_id", job.ID,
			"name", job.Name,
			"attempt", job.AttemptCount,
			"status", job.Status,
			"error", err,
		)
		return
	}

	job.MarkCompleted()
	p.persist(job)
	metrics.JobsProcessedCounter.WithLabelValues(string(job.Name), "completed").Inc()
	p.logger.Debug("Job completed", "job_id", job.ID, "name", job.Name)
}

func (p *Pool) runHandler(ctx context.Context, handler HandlerFunc, job *entities.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (p *Pool) persist(job *entities.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.store.Update(ctx, job); err != nil {
		p.logger.Error("Failed to persist job state",
			"job_id", job.ID,
			"status", job.Status,
			"error", err,
		)
	}
}

// prune deletes old completed jobs once an hour, which also frees their
// dedup keys for reuse.
func (p *Pool) prune() {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdownCtx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(p.shutdownCtx, 30*time.Second)
			deleted, err := p.store.DeleteCompleted(ctx, p.config.PruneAfterDays)
			cancel()
			if err != nil {
				p.logger.Error("Failed to prune completed jobs", "error", err)
				continue
			}
			if deleted > 0 {
				p.logger.Info("Pruned completed jobs", "count", deleted)
			}
		}
	}
}
