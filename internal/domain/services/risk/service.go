// Package risk gates star credits with per-user velocity checks backed by
// Redis counters. The gate fails open: a counter store outage must never
// block legitimate credits, it only costs temporary velocity protection.
// The daily stars gate alone falls back to the ledger before failing open,
// since it bounds the largest amounts.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starpay-service/starpay_service/internal/infrastructure/cache"
	"github.com/starpay-service/starpay_service/internal/infrastructure/config"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

// Decision is the gate's verdict for one credit attempt
type Decision struct {
	Allowed bool
	// Reason is a structured code set only when the credit is blocked
	Reason string
}

var allow = Decision{Allowed: true}

// LedgerReader is the authoritative star total behind the redis counters
type LedgerReader interface {
	SumStarsByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
}

// Service evaluates credit velocity limits
type Service struct {
	redis  cache.RedisClient
	ledger LedgerReader
	cfg    config.RiskConfig
	logger *logger.Logger
	now    func() time.Time
}

// NewService creates the risk gate. ledger may be nil; the daily stars gate
// then fails open on a counter store outage instead of consulting it.
func NewService(redis cache.RedisClient, ledger LedgerReader, cfg config.RiskConfig, logger *logger.Logger) *Service {
	return &Service{
		redis:  redis,
		ledger: ledger,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Check evaluates all gates for a pending credit of stars to userID. Order
// is cheapest first; the first tripped gate wins.
func (s *Service) Check(ctx context.Context, userID uuid.UUID, stars int64) Decision {
	if d := s.checkMinInterval(ctx, userID); !d.Allowed {
		return d
	}
	if d := s.checkHourlyCount(ctx, userID); !d.Allowed {
		return d
	}
	return s.checkDailyStars(ctx, userID, stars)
}

// RecordCredit updates the counters after a successful credit. Failures are
// logged and swallowed; missing a counter update only loosens the gate.
func (s *Service) RecordCredit(ctx context.Context, userID uuid.UUID, stars int64) {
	now := s.now().UTC()

	dailyKey := s.dailyKey(userID, now)
	if _, err := s.redis.IncrBy(ctx, dailyKey, stars); err != nil {
		s.logger.Warn("Failed to bump daily stars counter", "user_id", userID, "error", err)
	} else if err := s.redis.Expire(ctx, dailyKey, 48*time.Hour); err != nil {
		s.logger.Warn("Failed to expire daily stars counter", "user_id", userID, "error", err)
	}

	hourlyKey := s.hourlyKey(userID, now)
	if _, err := s.redis.IncrBy(ctx, hourlyKey, 1); err != nil {
		s.logger.Warn("Failed to bump hourly credit counter", "user_id", userID, "error", err)
	} else if err := s.redis.Expire(ctx, hourlyKey, 2*time.Hour); err != nil {
		s.logger.Warn("Failed to expire hourly credit counter", "user_id", userID, "error", err)
	}

	lastKey := s.lastCreditKey(userID)
	if err := s.redis.Set(ctx, lastKey, now.Unix(), time.Duration(s.cfg.MinSecondsBetween+60)*time.Second); err != nil {
		s.logger.Warn("Failed to record last credit time", "user_id", userID, "error", err)
	}
}

func (s *Service) checkMinInterval(ctx context.Context, userID uuid.UUID) Decision {
	if s.cfg.MinSecondsBetween <= 0 {
		return allow
	}

	var lastUnix int64
	if err := s.redis.Get(ctx, s.lastCreditKey(userID), &lastUnix); err != nil {
		// missing key or store outage both read as no recent credit
		return allow
	}
	elapsed := s.now().UTC().Unix() - lastUnix
	if elapsed < int64(s.cfg.MinSecondsBetween) {
		return Decision{Reason: fmt.Sprintf("MIN_INTERVAL:%ds_elapsed_of_%ds", elapsed, s.cfg.MinSecondsBetween)}
	}
	return allow
}

func (s *Service) checkHourlyCount(ctx context.Context, userID uuid.UUID) Decision {
	if s.cfg.HourlyCreditCap <= 0 {
		return allow
	}

	count, err := s.redis.GetInt64(ctx, s.hourlyKey(userID, s.now().UTC()))
	if err != nil {
		s.logger.Warn("Risk counter read failed, allowing credit", "user_id", userID, "error", err)
		return allow
	}
	if count >= int64(s.cfg.HourlyCreditCap) {
		return Decision{Reason: fmt.Sprintf("HOURLY_CAP:%d_credits_this_hour", count)}
	}
	return allow
}

func (s *Service) checkDailyStars(ctx context.Context, userID uuid.UUID, stars int64) Decision {
	if s.cfg.DailyStarsCap <= 0 {
		return allow
	}

	now := s.now().UTC()
	total, err := s.redis.GetInt64(ctx, s.dailyKey(userID, now))
	if err != nil {
		if s.ledger == nil {
			s.logger.Warn("Risk counter read failed, allowing credit", "user_id", userID, "error", err)
			return allow
		}
		// The counters are a cache of ledger truth; the largest gate is
		// worth the extra query when they are unavailable.
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		total, err = s.ledger.SumStarsByUserSince(ctx, userID, midnight)
		if err != nil {
			s.logger.Warn("Risk counter and ledger reads failed, allowing credit", "user_id", userID, "error", err)
			return allow
		}
	}
	if total+stars > s.cfg.DailyStarsCap {
		return Decision{Reason: fmt.Sprintf("DAILY_STARS_CAP:%d_plus_%d_exceeds_%d", total, stars, s.cfg.DailyStarsCap)}
	}
	return allow
}

func (s *Service) dailyKey(userID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("risk:stars:%s:%s", userID, now.Format("2006-01-02"))
}

func (s *Service) hourlyKey(userID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("risk:credits:%s:%s", userID, now.Format("2006-01-02T15"))
}

func (s *Service) lastCreditKey(userID uuid.UUID) string {
	return fmt.Sprintf("risk:last_credit:%s", userID)
}
