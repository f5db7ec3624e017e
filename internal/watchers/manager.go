// Package watchers runs the per-chain polling scanners that back up webhook
// delivery. A watcher that crashes or errors resumes from its persisted
// cursor on the next tick; a watcher that stops heartbeating is caught by
// the fraud radar's dead-man check.
package watchers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/internal/domain/services/ingest"
	"github.com/starpay-service/starpay_service/internal/domain/services/matcher"
	"github.com/starpay-service/starpay_service/pkg/logger"
	"github.com/starpay-service/starpay_service/pkg/metrics"
)

// Watcher is one chain's polling scanner
type Watcher interface {
	Chain() entities.Chain
	Interval() time.Duration
	// Scan runs one polling pass. Errors abort only the current pass.
	Scan(ctx context.Context) error
}

// Matcher binds discovered transfers to deposits
type Matcher interface {
	Match(ctx context.Context, obs *entities.Observation) (*matcher.Result, error)
}

// JobQueue enqueues reconcile work for matched deposits
type JobQueue interface {
	Enqueue(ctx context.Context, job *entities.Job) (bool, error)
}

// CursorStore persists polling positions and heartbeats
type CursorStore interface {
	Get(ctx context.Context, chain entities.Chain, token entities.Token, purpose entities.CursorPurpose) (*entities.ChainWatcherCursor, error)
	Save(ctx context.Context, chain entities.Chain, token entities.Token, purpose entities.CursorPurpose, position string) error
	Heartbeat(ctx context.Context, chain entities.Chain, token entities.Token, purpose entities.CursorPurpose) error
}

// DepositLister supplies the pending deposits whose addresses get scanned
type DepositLister interface {
	ListPendingByChain(ctx context.Context, chain entities.Chain, token entities.Token, since time.Time) ([]*entities.Deposit, error)
}

// Manager owns the watcher goroutines
type Manager struct {
	watchers []Watcher
	logger   *logger.Logger

	wg             sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// NewManager creates a watcher manager
func NewManager(watchers []Watcher, logger *logger.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		watchers:       watchers,
		logger:         logger,
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
}

// Start launches one goroutine per watcher
func (m *Manager) Start() {
	for _, w := range m.watchers {
		m.wg.Add(1)
		go m.run(w)
	}
	m.logger.Info("Chain watchers started", "count", len(m.watchers))
}

// Shutdown stops all watchers, waiting up to timeout for in-flight scans
func (m *Manager) Shutdown(timeout time.Duration) {
	m.shutdownCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Chain watchers stopped")
	case <-time.After(timeout):
		m.logger.Warn("Chain watcher shutdown timed out")
	}
}

func (m *Manager) run(w Watcher) {
	defer m.wg.Done()

	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()

	m.scanOnce(w)
	for {
		select {
		case <-m.shutdownCtx.Done():
			return
		case <-ticker.C:
			m.scanOnce(w)
		}
	}
}

func (m *Manager) scanOnce(w Watcher) {
	// Panics in one pass must not kill the polling loop
	defer func() {
		if r := recover(); r != nil {
			metrics.WatcherTicksCounter.WithLabelValues(string(w.Chain()), "panic").Inc()
			m.logger.Error("Watcher scan panicked", "chain", w.Chain(), "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(m.shutdownCtx, w.Interval())
	defer cancel()

	if err := w.Scan(ctx); err != nil {
		metrics.WatcherTicksCounter.WithLabelValues(string(w.Chain()), "error").Inc()
		m.logger.Error("Watcher scan failed", "chain", w.Chain(), "error", err)
		return
	}
	metrics.WatcherTicksCounter.WithLabelValues(string(w.Chain()), "ok").Inc()
}

// depositSink routes a discovered transfer through matching and queues the
// reconcile job. Shared by all chain watchers.
type depositSink struct {
	matcher     Matcher
	jobs        JobQueue
	maxAttempts int
	logger      *logger.Logger
}

// handle matches one observation; failures are logged and swallowed so a
// single bad transfer never stalls a scan pass.
func (s *depositSink) handle(ctx context.Context, obs *entities.Observation) {
	result, err := s.matcher.Match(ctx, obs)
	if err != nil {
		s.logger.Error("Watcher observation matching failed",
			"chain", obs.Chain,
			"tx_hash", obs.TxHash,
			"error", err,
		)
		return
	}
	if result == nil || result.Kind == matcher.MatchedUnmatched {
		return
	}
	if err := s.enqueueReconcile(ctx, result.Deposit.ID); err != nil {
		s.logger.Error("Watcher failed to enqueue reconcile job",
			"deposit_id", result.Deposit.ID,
			"error", err,
		)
	}
}

func (s *depositSink) enqueueReconcile(ctx context.Context, depositID uuid.UUID) error {
	payload, err := json.Marshal(ingest.ReconcilePayload{DepositID: depositID})
	if err != nil {
		return fmt.Errorf("marshal reconcile payload: %w", err)
	}
	dedupKey := fmt.Sprintf("%s:%s", entities.JobReconcileDeposit, depositID)
	job := entities.NewJob(entities.JobReconcileDeposit, dedupKey, payload, s.maxAttempts)
	_, err = s.jobs.Enqueue(ctx, job)
	return err
}

// pendingAddresses collects the distinct custodial addresses of deposits a
// watcher should look for, capped at the matching window.
func pendingAddresses(ctx context.Context, deposits DepositLister, chain entities.Chain, token entities.Token) ([]string, error) {
	since := time.Now().UTC().Add(-matcher.CandidateWindow)
	pending, err := deposits.ListPendingByChain(ctx, chain, token, since)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(pending))
	addresses := make([]string, 0, len(pending))
	for _, d := range pending {
		if _, ok := seen[d.CustodialAddress]; ok {
			continue
		}
		seen[d.CustodialAddress] = struct{}{}
		addresses = append(addresses, d.CustodialAddress)
	}
	return addresses, nil
}
