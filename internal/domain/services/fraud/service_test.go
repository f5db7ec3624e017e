package fraud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/internal/domain/services/notifier"
	"github.com/starpay-service/starpay_service/internal/infrastructure/config"
	"github.com/starpay-service/starpay_service/internal/infrastructure/repositories"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

// MockDepositScanner feeds canned detector inputs
type MockDepositScanner struct {
	dups        []repositories.DuplicateTxHash
	dupsErr     error
	dupsSince   time.Time
	reviewCount int
}

func (m *MockDepositScanner) FindDuplicateTxHashes(ctx context.Context, since time.Time) ([]repositories.DuplicateTxHash, error) {
	m.dupsSince = since
	return m.dups, m.dupsErr
}

func (m *MockDepositScanner) CountByStatusSince(ctx context.Context, status entities.DepositStatus, since time.Time) (int, error) {
	return m.reviewCount, nil
}

// MockAuditScanner serves the current window on the first call of a scan
// and the preceding window on the second.
type MockAuditScanner struct {
	current  repositories.FailRateWindow
	previous repositories.FailRateWindow
	calls    int
}

func (m *MockAuditScanner) GetFailRate(ctx context.Context, from, to time.Time) (*repositories.FailRateWindow, error) {
	m.calls++
	if m.calls%2 == 1 {
		return &m.current, nil
	}
	return &m.previous, nil
}

type MockCursorScanner struct {
	stale []*entities.ChainWatcherCursor
}

func (m *MockCursorScanner) ListStaleHeartbeats(ctx context.Context, cutoff time.Time) ([]*entities.ChainWatcherCursor, error) {
	return m.stale, nil
}

// MockAlertSink remembers upserted alerts and reports inserts for unseen
// (kind, dedupe key) pairs, mirroring the database dedup behavior.
type MockAlertSink struct {
	seen     map[string]bool
	upserted []*entities.FraudAlert
	err      error
}

func NewMockAlertSink() *MockAlertSink {
	return &MockAlertSink{seen: make(map[string]bool)}
}

func (m *MockAlertSink) Upsert(ctx context.Context, alert *entities.FraudAlert) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.upserted = append(m.upserted, alert)
	key := string(alert.Kind) + "|" + alert.DedupeKey
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func testFraudConfig() config.FraudConfig {
	return config.FraudConfig{
		FailRateThreshold: 0.5,
		FailRateMinSample: 10,
		ReviewBurstMax:    5,
		WindowMinutes:     60,
	}
}

type radarFixture struct {
	deposits *MockDepositScanner
	audits   *MockAuditScanner
	cursors  *MockCursorScanner
	sink     *MockAlertSink
	notifier *notifier.RecordingNotifier
	svc      *Service
}

func newRadar() *radarFixture {
	f := &radarFixture{
		deposits: &MockDepositScanner{},
		audits:   &MockAuditScanner{},
		cursors:  &MockCursorScanner{},
		sink:     NewMockAlertSink(),
		notifier: &notifier.RecordingNotifier{},
	}
	f.svc = NewService(f.deposits, f.audits, f.cursors, f.sink, f.notifier, testFraudConfig(), logger.NewNop())
	return f
}

func TestScanQuietSystemRaisesNothing(t *testing.T) {
	f := newRadar()

	f.svc.Scan(context.Background())

	assert.Empty(t, f.sink.upserted)
	assert.Empty(t, f.notifier.Recorded())
}

func TestScanDuplicateTxHashes(t *testing.T) {
	f := newRadar()
	f.deposits.dups = []repositories.DuplicateTxHash{{TxHash: "0xdup", Count: 3}}

	f.svc.Scan(context.Background())

	alerts := f.notifier.Recorded()
	require.Len(t, alerts, 1)
	assert.Equal(t, entities.AlertKindDuplicateTxHash, alerts[0].Kind)
	assert.Equal(t, entities.AlertSeverityCritical, alerts[0].Severity)
	assert.Equal(t, "0xdup", alerts[0].DedupeKey)
	assert.Contains(t, alerts[0].Message, "3 deposits")
}

func TestScanDuplicateTxHashesLooksBack24Hours(t *testing.T) {
	f := newRadar()
	fixed := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }

	f.svc.Scan(context.Background())

	// The replay lookback is a full day regardless of the radar window.
	assert.Equal(t, fixed.Add(-24*time.Hour), f.deposits.dupsSince)
}

func TestScanRepeatDetectionNotifiesOnce(t *testing.T) {
	f := newRadar()
	f.deposits.dups = []repositories.DuplicateTxHash{{TxHash: "0xdup", Count: 3}}

	f.svc.Scan(context.Background())
	f.svc.Scan(context.Background())

	// Both scans upsert, but only the first insert notifies.
	assert.Len(t, f.sink.upserted, 2)
	assert.Len(t, f.notifier.Recorded(), 1)
}

func TestScanWebhookFailRateSpike(t *testing.T) {
	f := newRadar()
	// 75% failing now against a 10% baseline an hour ago.
	f.audits.current = repositories.FailRateWindow{Total: 20, Failed: 15}
	f.audits.previous = repositories.FailRateWindow{Total: 20, Failed: 2}

	f.svc.Scan(context.Background())

	alerts := f.notifier.Recorded()
	require.Len(t, alerts, 1)
	assert.Equal(t, entities.AlertKindWebhookFailSpike, alerts[0].Kind)
	assert.Equal(t, entities.AlertSeverityHigh, alerts[0].Severity)
}

func TestScanWebhookFailRateNoBaselineCountsAsSpike(t *testing.T) {
	f := newRadar()
	f.audits.current = repositories.FailRateWindow{Total: 20, Failed: 15}

	f.svc.Scan(context.Background())

	require.Len(t, f.notifier.Recorded(), 1)
}

func TestScanWebhookFailRateBelowMinSampleIgnored(t *testing.T) {
	f := newRadar()
	// 100% failures but only 3 webhooks, below the minimum sample.
	f.audits.current = repositories.FailRateWindow{Total: 3, Failed: 3}

	f.svc.Scan(context.Background())

	assert.Empty(t, f.notifier.Recorded())
}

func TestScanWebhookFailRateBelowThresholdIgnored(t *testing.T) {
	f := newRadar()
	f.audits.current = repositories.FailRateWindow{Total: 100, Failed: 10}

	f.svc.Scan(context.Background())

	assert.Empty(t, f.notifier.Recorded())
}

func TestScanWebhookFailRateSteadyBaselineIgnored(t *testing.T) {
	f := newRadar()
	// Above threshold, but the previous window was just as bad. The first
	// detection already paged; a flat bad baseline is not a new spike.
	f.audits.current = repositories.FailRateWindow{Total: 20, Failed: 15}
	f.audits.previous = repositories.FailRateWindow{Total: 20, Failed: 14}

	f.svc.Scan(context.Background())

	assert.Empty(t, f.notifier.Recorded())
}

func TestScanReviewBurst(t *testing.T) {
	f := newRadar()
	f.deposits.reviewCount = 7

	f.svc.Scan(context.Background())

	alerts := f.notifier.Recorded()
	require.Len(t, alerts, 1)
	assert.Equal(t, entities.AlertKindReviewBurst, alerts[0].Kind)
	assert.Equal(t, entities.AlertSeverityMedium, alerts[0].Severity)
}

func TestScanDeadWatchers(t *testing.T) {
	f := newRadar()
	f.cursors.stale = []*entities.ChainWatcherCursor{
		{
			Chain:       entities.ChainSolana,
			Token:       entities.TokenUSDC,
			Purpose:     entities.CursorPurposeDeposits,
			HeartbeatAt: time.Now().UTC().Add(-2 * time.Hour),
		},
	}

	f.svc.Scan(context.Background())

	alerts := f.notifier.Recorded()
	require.Len(t, alerts, 1)
	assert.Equal(t, entities.AlertKindWatcherDead, alerts[0].Kind)
	assert.Equal(t, "solana:USDC:deposits", alerts[0].DedupeKey)
}

func TestScanDetectorFailureDoesNotStopOthers(t *testing.T) {
	f := newRadar()
	f.deposits.dupsErr = errors.New("query timeout")
	f.deposits.reviewCount = 7

	f.svc.Scan(context.Background())

	// The review burst detector still ran despite the duplicate scan failing.
	alerts := f.notifier.Recorded()
	require.Len(t, alerts, 1)
	assert.Equal(t, entities.AlertKindReviewBurst, alerts[0].Kind)
}

func TestRaiseSinkFailureSwallowed(t *testing.T) {
	f := newRadar()
	f.sink.err = errors.New("insert failed")
	f.deposits.dups = []repositories.DuplicateTxHash{{TxHash: "0xdup", Count: 2}}

	f.svc.Scan(context.Background())

	assert.Empty(t, f.notifier.Recorded())
}
