// Package credit turns confirmed deposits into star balances. All money
// movement for one deposit commits in a single database transaction, and the
// UNIQUE(deposit_id, type) ledger constraint makes re-runs harmless.
package credit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/internal/domain/services/risk"
	"github.com/starpay-service/starpay_service/internal/infrastructure/database"
	"github.com/starpay-service/starpay_service/pkg/logger"
	"github.com/starpay-service/starpay_service/pkg/metrics"
)

// Outcome summarizes one credit attempt
type Outcome string

const (
	OutcomeCredited        Outcome = "credited"
	OutcomeAlreadyCredited Outcome = "already_credited"
	OutcomeNeedsReview     Outcome = "needs_review"
	OutcomeSkipped         Outcome = "skipped"
)

// RiskGate is the velocity check consulted before any stars move
type RiskGate interface {
	Check(ctx context.Context, userID uuid.UUID, stars int64) risk.Decision
	RecordCredit(ctx context.Context, userID uuid.UUID, stars int64)
}

// SettingsProvider supplies referral configuration
type SettingsProvider interface {
	Get(ctx context.Context) *entities.PlatformSettings
}

// DepositStore is the deposit surface the credit engine mutates
type DepositStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Deposit, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to entities.DepositStatus, reason *string) error
	MarkCredited(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID) error
}

// LedgerStore writes star movement entries inside the credit transaction
type LedgerStore interface {
	GetByDepositAndType(ctx context.Context, ext sqlx.ExtContext, depositID uuid.UUID, entryType entities.LedgerEntryType) (*entities.LedgerEntry, error)
	Insert(ctx context.Context, ext sqlx.ExtContext, entry *entities.LedgerEntry) error
	ReferralExists(ctx context.Context, ext sqlx.ExtContext, sourceKind, sourceID string) (bool, error)
}

// UserStore reads users and moves star balances
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error)
	AddStars(ctx context.Context, ext sqlx.ExtContext, userID uuid.UUID, stars int64) error
}

// PackageStore resolves deposit denominations and coupons
type PackageStore interface {
	FindPackage(ctx context.Context, chain entities.Chain, token entities.Token, amount decimal.Decimal) (*entities.StarPackage, error)
	GetCoupon(ctx context.Context, id uuid.UUID) (*entities.Coupon, error)
}

// Service is the star credit engine
type Service struct {
	deposits DepositStore
	ledger   LedgerStore
	users    UserStore
	packages PackageStore
	settings SettingsProvider
	riskGate RiskGate
	logger   *logger.Logger
	now      func() time.Time
	runTx    func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

// NewService creates the credit engine
func NewService(
	db *sqlx.DB,
	deposits DepositStore,
	ledger LedgerStore,
	users UserStore,
	packages PackageStore,
	settings SettingsProvider,
	riskGate RiskGate,
	logger *logger.Logger,
) *Service {
	return &Service{
		deposits: deposits,
		ledger:   ledger,
		users:    users,
		packages: packages,
		settings: settings,
		riskGate: riskGate,
		logger:   logger,
		now:      time.Now,
		runTx: func(ctx context.Context, fn func(*sqlx.Tx) error) error {
			return database.WithTransaction(ctx, db, fn)
		},
	}
}

// component is one ledger line to be written for the deposit
type component struct {
	entryType entities.LedgerEntryType
	stars     int64
}

// Credit grants stars for a confirmed deposit. Calling it again for a
// CREDITED deposit is a no-op.
func (s *Service) Credit(ctx context.Context, depositID uuid.UUID) (Outcome, error) {
	deposit, err := s.deposits.GetByID(ctx, depositID)
	if err != nil {
		return "", fmt.Errorf("load deposit: %w", err)
	}

	switch deposit.Status {
	case entities.DepositStatusCredited:
		return OutcomeAlreadyCredited, nil
	case entities.DepositStatusConfirmed:
	default:
		return OutcomeSkipped, nil
	}

	if deposit.UserID == nil {
		return s.review(ctx, deposit, "NO_USER: confirmed deposit has no owning user")
	}
	user, err := s.users.GetByID(ctx, *deposit.UserID)
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}

	components, err := s.resolveComponents(ctx, deposit)
	if err != nil {
		return "", err
	}
	if components == nil {
		return s.review(ctx, deposit, fmt.Sprintf("NO_PACKAGE: no active package for %s %s %s",
			deposit.Chain, deposit.Token, deposit.ExpectedAmount))
	}

	var total int64
	for _, c := range components {
		total += c.stars
	}

	if decision := s.riskGate.Check(ctx, user.ID, total); !decision.Allowed {
		return s.review(ctx, deposit, "RISK_REJECTED: "+decision.Reason)
	}

	cfg := s.settings.Get(ctx)

	var credited, referralStars int64
	err = s.runTx(ctx, func(tx *sqlx.Tx) error {
		for _, c := range components {
			if c.stars <= 0 {
				continue
			}
			// A prior run may have committed some entries before dying;
			// skip those instead of violating the uniqueness constraint.
			existing, err := s.ledger.GetByDepositAndType(ctx, tx, deposit.ID, c.entryType)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			entry := entities.NewLedgerEntry(user.ID, deposit.ID, c.entryType, c.stars)
			if err := s.ledger.Insert(ctx, tx, entry); err != nil {
				return err
			}
			credited += c.stars
		}

		if credited > 0 {
			if err := s.users.AddStars(ctx, tx, user.ID, credited); err != nil {
				return err
			}
		}

		var err error
		referralStars, err = s.payReferral(ctx, tx, deposit, user, total, cfg)
		if err != nil {
			return err
		}

		return s.deposits.MarkCredited(ctx, tx, deposit.ID)
	})
	if err != nil {
		return "", fmt.Errorf("credit deposit %s: %w", deposit.ID, err)
	}

	s.riskGate.RecordCredit(ctx, user.ID, credited)
	metrics.DepositsCreditedCounter.WithLabelValues(string(deposit.Chain), string(deposit.Token)).Inc()
	s.logger.Info("Deposit credited",
		"deposit_id", deposit.ID,
		"user_id", user.ID,
		"stars", credited,
		"referral_stars", referralStars,
		"chain", deposit.Chain,
		"token", deposit.Token,
	)
	return OutcomeCredited, nil
}

// resolveComponents computes the ledger lines owed for the deposit, or nil
// when no package covers its denomination.
func (s *Service) resolveComponents(ctx context.Context, deposit *entities.Deposit) ([]component, error) {
	pkg, err := s.packages.FindPackage(ctx, deposit.Chain, deposit.Token, deposit.ExpectedAmount)
	if err != nil {
		return nil, fmt.Errorf("find package: %w", err)
	}
	if pkg == nil {
		return nil, nil
	}

	components := []component{{entities.LedgerEntryTopup, pkg.BaseStars}}
	if pkg.BundleBonus > 0 {
		components = append(components, component{entities.LedgerEntryBundleBonus, pkg.BundleBonus})
	}

	if deposit.CouponID != nil {
		coupon, err := s.packages.GetCoupon(ctx, *deposit.CouponID)
		if err != nil {
			return nil, fmt.Errorf("load coupon: %w", err)
		}
		if coupon != nil && coupon.IsValidFor(deposit.Token, s.now().UTC()) {
			if bonus := coupon.BonusStars(pkg.BaseStars); bonus > 0 {
				components = append(components, component{entities.LedgerEntryCouponBonus, bonus})
			}
		} else {
			// Expired or inapplicable coupons degrade silently; the
			// deposit still credits its package value.
			s.logger.Warn("Coupon not applicable at credit time",
				"deposit_id", deposit.ID,
				"coupon_id", deposit.CouponID,
			)
		}
	}

	return components, nil
}

// payReferral grants the referrer their share, at most once per deposit
// regardless of how many times the credit runs.
func (s *Service) payReferral(ctx context.Context, tx *sqlx.Tx, deposit *entities.Deposit, user *entities.User, totalStars int64, cfg *entities.PlatformSettings) (int64, error) {
	percent := cfg.EffectiveReferralPercent()
	if percent == 0 || user.ReferrerID == nil {
		return 0, nil
	}
	stars := totalStars * int64(percent) / 100
	if stars <= 0 {
		return 0, nil
	}

	sourceID := deposit.ID.String()
	exists, err := s.ledger.ReferralExists(ctx, tx, entities.ReferralSourceDeposit, sourceID)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nil
	}

	entry := entities.NewLedgerEntry(*user.ReferrerID, deposit.ID, entities.LedgerEntryReferralBonus, stars)
	kind := entities.ReferralSourceDeposit
	entry.SourceKind = &kind
	entry.SourceID = &sourceID
	if err := s.ledger.Insert(ctx, tx, entry); err != nil {
		return 0, err
	}
	if err := s.users.AddStars(ctx, tx, *user.ReferrerID, stars); err != nil {
		return 0, err
	}
	return stars, nil
}

func (s *Service) review(ctx context.Context, deposit *entities.Deposit, reason string) (Outcome, error) {
	if err := s.deposits.UpdateStatus(ctx, deposit.ID, deposit.Status, entities.DepositStatusNeedsReview, &reason); err != nil {
		return "", fmt.Errorf("move deposit to review: %w", err)
	}
	s.logger.Warn("Credit blocked, deposit routed to review",
		"deposit_id", deposit.ID,
		"reason", reason,
	)
	return OutcomeNeedsReview, nil
}
