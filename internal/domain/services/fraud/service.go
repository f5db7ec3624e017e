// Package fraud runs the periodic radar over recent engine activity. Each
// detector produces deduplicated alerts; repeated detections of the same
// condition bump one row instead of paging operators again.
package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/internal/infrastructure/config"
	"github.com/starpay-service/starpay_service/internal/infrastructure/repositories"
	"github.com/starpay-service/starpay_service/pkg/logger"
	"github.com/starpay-service/starpay_service/pkg/metrics"
)

// DepositScanner is the deposit slice the radar reads
type DepositScanner interface {
	FindDuplicateTxHashes(ctx context.Context, since time.Time) ([]repositories.DuplicateTxHash, error)
	CountByStatusSince(ctx context.Context, status entities.DepositStatus, since time.Time) (int, error)
}

// AuditScanner reads webhook outcome counts
type AuditScanner interface {
	GetFailRate(ctx context.Context, from, to time.Time) (*repositories.FailRateWindow, error)
}

// CursorScanner reads watcher liveness
type CursorScanner interface {
	ListStaleHeartbeats(ctx context.Context, cutoff time.Time) ([]*entities.ChainWatcherCursor, error)
}

// AlertSink persists deduplicated alerts
type AlertSink interface {
	Upsert(ctx context.Context, alert *entities.FraudAlert) (bool, error)
}

// Notifier pushes newly created alerts out of band
type Notifier interface {
	Notify(ctx context.Context, alert *entities.FraudAlert)
}

// Service is the fraud radar
type Service struct {
	deposits DepositScanner
	audits   AuditScanner
	cursors  CursorScanner
	alerts   AlertSink
	notifier Notifier
	cfg      config.FraudConfig
	logger   *logger.Logger
	now      func() time.Time
}

// NewService creates the radar
func NewService(
	deposits DepositScanner,
	audits AuditScanner,
	cursors CursorScanner,
	alerts AlertSink,
	notifier Notifier,
	cfg config.FraudConfig,
	logger *logger.Logger,
) *Service {
	return &Service{
		deposits: deposits,
		audits:   audits,
		cursors:  cursors,
		alerts:   alerts,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Scan runs every detector once. Detector failures are logged and do not
// stop the remaining detectors.
func (s *Service) Scan(ctx context.Context) {
	if err := s.scanDuplicateTxHashes(ctx); err != nil {
		s.logger.Error("Duplicate tx hash scan failed", "error", err)
	}
	if err := s.scanWebhookFailRate(ctx); err != nil {
		s.logger.Error("Webhook fail-rate scan failed", "error", err)
	}
	if err := s.scanReviewBurst(ctx); err != nil {
		s.logger.Error("Review burst scan failed", "error", err)
	}
	if err := s.scanDeadWatchers(ctx); err != nil {
		s.logger.Error("Watcher liveness scan failed", "error", err)
	}
}

func (s *Service) window() time.Time {
	return s.now().UTC().Add(-time.Duration(s.cfg.WindowMinutes) * time.Minute)
}

// hourBucket keys window-wide alerts so one alert exists per hour of a
// sustained condition.
func (s *Service) hourBucket() string {
	return s.now().UTC().Format("2006-01-02T15")
}

// duplicateTxLookback is how far back the duplicate hash scan reaches. A
// replayed hash can target a deposit created long before the radar window,
// so this detector does not share the rolling window of the others.
const duplicateTxLookback = 24 * time.Hour

// failRateSpikeFactor is how much the current fail rate must exceed the
// previous window's before a sustained baseline counts as a spike.
const failRateSpikeFactor = 2.0

func (s *Service) scanDuplicateTxHashes(ctx context.Context) error {
	dups, err := s.deposits.FindDuplicateTxHashes(ctx, s.now().UTC().Add(-duplicateTxLookback))
	if err != nil {
		return err
	}
	for _, dup := range dups {
		details, _ := json.Marshal(dup)
		s.raise(ctx, entities.NewFraudAlert(
			entities.AlertKindDuplicateTxHash,
			entities.AlertSeverityCritical,
			dup.TxHash,
			fmt.Sprintf("tx hash %s is attached to %d deposits", dup.TxHash, dup.Count),
			details,
		))
	}
	return nil
}

func (s *Service) scanWebhookFailRate(ctx context.Context) error {
	from := s.window()
	win, err := s.audits.GetFailRate(ctx, from, s.now().UTC())
	if err != nil {
		return err
	}
	if win.Total < s.cfg.FailRateMinSample {
		return nil
	}
	rate := float64(win.Failed) / float64(win.Total)
	if rate < s.cfg.FailRateThreshold {
		return nil
	}

	// A high rate alone is not a spike. Compare against the preceding
	// window so a known-bad steady baseline does not re-page every cycle.
	span := time.Duration(s.cfg.WindowMinutes) * time.Minute
	prev, err := s.audits.GetFailRate(ctx, from.Add(-span), from)
	if err != nil {
		return err
	}
	if prev.Total > 0 {
		prevRate := float64(prev.Failed) / float64(prev.Total)
		if rate < prevRate*failRateSpikeFactor {
			return nil
		}
	}

	details, _ := json.Marshal(win)
	s.raise(ctx, entities.NewFraudAlert(
		entities.AlertKindWebhookFailSpike,
		entities.AlertSeverityHigh,
		s.hourBucket(),
		fmt.Sprintf("webhook failure rate %.0f%% (%d of %d) in the last %d minutes",
			rate*100, win.Failed, win.Total, s.cfg.WindowMinutes),
		details,
	))
	return nil
}

func (s *Service) scanReviewBurst(ctx context.Context) error {
	count, err := s.deposits.CountByStatusSince(ctx, entities.DepositStatusNeedsReview, s.window())
	if err != nil {
		return err
	}
	if count < s.cfg.ReviewBurstMax {
		return nil
	}

	s.raise(ctx, entities.NewFraudAlert(
		entities.AlertKindReviewBurst,
		entities.AlertSeverityMedium,
		s.hourBucket(),
		fmt.Sprintf("%d deposits entered review in the last %d minutes", count, s.cfg.WindowMinutes),
		nil,
	))
	return nil
}

func (s *Service) scanDeadWatchers(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-time.Duration(s.cfg.WindowMinutes) * time.Minute)
	stale, err := s.cursors.ListStaleHeartbeats(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, cursor := range stale {
		key := fmt.Sprintf("%s:%s:%s", cursor.Chain, cursor.Token, cursor.Purpose)
		details, _ := json.Marshal(cursor)
		s.raise(ctx, entities.NewFraudAlert(
			entities.AlertKindWatcherDead,
			entities.AlertSeverityHigh,
			key,
			fmt.Sprintf("watcher %s has not heartbeat since %s", key, cursor.HeartbeatAt.Format(time.RFC3339)),
			details,
		))
	}
	return nil
}

func (s *Service) raise(ctx context.Context, alert *entities.FraudAlert) {
	inserted, err := s.alerts.Upsert(ctx, alert)
	if err != nil {
		s.logger.Error("Failed to record fraud alert",
			"kind", alert.Kind,
			"dedupe_key", alert.DedupeKey,
			"error", err,
		)
		return
	}
	if !inserted {
		return
	}

	metrics.FraudAlertsCounter.WithLabelValues(string(alert.Kind), string(alert.Severity)).Inc()
	s.logger.Warn("Fraud alert raised",
		"kind", alert.Kind,
		"severity", alert.Severity,
		"message", alert.Message,
	)
	if s.notifier != nil {
		s.notifier.Notify(ctx, alert)
	}
}
