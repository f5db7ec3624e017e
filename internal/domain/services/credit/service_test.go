package credit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/internal/domain/services/risk"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

type MockDepositStore struct {
	deposits map[uuid.UUID]*entities.Deposit
	credited []uuid.UUID
	reviews  []string
}

func NewMockDepositStore() *MockDepositStore {
	return &MockDepositStore{deposits: make(map[uuid.UUID]*entities.Deposit)}
}

func (m *MockDepositStore) Add(d *entities.Deposit) { m.deposits[d.ID] = d }

func (m *MockDepositStore) GetByID(ctx context.Context, id uuid.UUID) (*entities.Deposit, error) {
	return m.deposits[id], nil
}

func (m *MockDepositStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to entities.DepositStatus, reason *string) error {
	m.deposits[id].Status = to
	if reason != nil {
		m.reviews = append(m.reviews, *reason)
	}
	return nil
}

func (m *MockDepositStore) MarkCredited(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID) error {
	m.credited = append(m.credited, id)
	m.deposits[id].Status = entities.DepositStatusCredited
	return nil
}

type MockLedgerStore struct {
	entries   []*entities.LedgerEntry
	referrals map[string]bool
}

func NewMockLedgerStore() *MockLedgerStore {
	return &MockLedgerStore{referrals: make(map[string]bool)}
}

func (m *MockLedgerStore) GetByDepositAndType(ctx context.Context, ext sqlx.ExtContext, depositID uuid.UUID, entryType entities.LedgerEntryType) (*entities.LedgerEntry, error) {
	for _, e := range m.entries {
		if e.DepositID == depositID && e.Type == entryType {
			return e, nil
		}
	}
	return nil, nil
}

func (m *MockLedgerStore) Insert(ctx context.Context, ext sqlx.ExtContext, entry *entities.LedgerEntry) error {
	m.entries = append(m.entries, entry)
	if entry.SourceKind != nil && entry.SourceID != nil {
		m.referrals[*entry.SourceKind+":"+*entry.SourceID] = true
	}
	return nil
}

func (m *MockLedgerStore) ReferralExists(ctx context.Context, ext sqlx.ExtContext, sourceKind, sourceID string) (bool, error) {
	return m.referrals[sourceKind+":"+sourceID], nil
}

func (m *MockLedgerStore) starsOf(entryType entities.LedgerEntryType) int64 {
	for _, e := range m.entries {
		if e.Type == entryType {
			return e.Stars
		}
	}
	return 0
}

type MockUserStore struct {
	users    map[uuid.UUID]*entities.User
	balances map[uuid.UUID]int64
}

func NewMockUserStore() *MockUserStore {
	return &MockUserStore{
		users:    make(map[uuid.UUID]*entities.User),
		balances: make(map[uuid.UUID]int64),
	}
}

func (m *MockUserStore) Add(u *entities.User) { m.users[u.ID] = u }

func (m *MockUserStore) GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	return m.users[id], nil
}

func (m *MockUserStore) AddStars(ctx context.Context, ext sqlx.ExtContext, userID uuid.UUID, stars int64) error {
	m.balances[userID] += stars
	return nil
}

type MockPackageStore struct {
	pkg    *entities.StarPackage
	coupon *entities.Coupon
}

func (m *MockPackageStore) FindPackage(ctx context.Context, chain entities.Chain, token entities.Token, amount decimal.Decimal) (*entities.StarPackage, error) {
	return m.pkg, nil
}

func (m *MockPackageStore) GetCoupon(ctx context.Context, id uuid.UUID) (*entities.Coupon, error) {
	return m.coupon, nil
}

type MockSettings struct {
	settings *entities.PlatformSettings
}

func (m *MockSettings) Get(ctx context.Context) *entities.PlatformSettings {
	if m.settings != nil {
		return m.settings
	}
	return entities.DefaultPlatformSettings()
}

type MockRiskGate struct {
	decision risk.Decision
	recorded []int64
}

func (m *MockRiskGate) Check(ctx context.Context, userID uuid.UUID, stars int64) risk.Decision {
	if m.decision.Allowed || m.decision.Reason != "" {
		return m.decision
	}
	return risk.Decision{Allowed: true}
}

func (m *MockRiskGate) RecordCredit(ctx context.Context, userID uuid.UUID, stars int64) {
	m.recorded = append(m.recorded, stars)
}

type creditFixture struct {
	deposits *MockDepositStore
	ledger   *MockLedgerStore
	users    *MockUserStore
	packages *MockPackageStore
	settings *MockSettings
	gate     *MockRiskGate
	svc      *Service
}

func newCredit() *creditFixture {
	f := &creditFixture{
		deposits: NewMockDepositStore(),
		ledger:   NewMockLedgerStore(),
		users:    NewMockUserStore(),
		packages: &MockPackageStore{},
		settings: &MockSettings{},
		gate:     &MockRiskGate{},
	}
	f.svc = NewService(nil, f.deposits, f.ledger, f.users, f.packages, f.settings, f.gate, logger.NewNop())
	// The interaction with a real transaction is covered by the repository
	// layer; here every write goes straight to the mocks.
	f.svc.runTx = func(ctx context.Context, fn func(*sqlx.Tx) error) error {
		return fn(nil)
	}
	return f
}

func confirmedDeposit(userID uuid.UUID) *entities.Deposit {
	return &entities.Deposit{
		ID:             uuid.New(),
		UserID:         &userID,
		Chain:          entities.ChainSolana,
		Token:          entities.TokenUSDC,
		ExpectedAmount: decimal.NewFromInt(25),
		Status:         entities.DepositStatusConfirmed,
	}
}

func starterPackage() *entities.StarPackage {
	return &entities.StarPackage{
		ID:        uuid.New(),
		Chain:     entities.ChainSolana,
		Token:     entities.TokenUSDC,
		Amount:    decimal.NewFromInt(25),
		BaseStars: 250,
		Active:    true,
	}
}

func TestCreditHappyPath(t *testing.T) {
	f := newCredit()
	user := &entities.User{ID: uuid.New()}
	f.users.Add(user)
	d := confirmedDeposit(user.ID)
	f.deposits.Add(d)
	f.packages.pkg = starterPackage()

	outcome, err := f.svc.Credit(context.Background(), d.ID)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, outcome)
	assert.Equal(t, int64(250), f.users.balances[user.ID])
	assert.Equal(t, int64(250), f.ledger.starsOf(entities.LedgerEntryTopup))
	assert.Equal(t, []uuid.UUID{d.ID}, f.deposits.credited)
	assert.Equal(t, []int64{250}, f.gate.recorded)
}

func TestCreditAlreadyCreditedIsNoOp(t *testing.T) {
	f := newCredit()
	user := &entities.User{ID: uuid.New()}
	f.users.Add(user)
	d := confirmedDeposit(user.ID)
	d.Status = entities.DepositStatusCredited
	f.deposits.Add(d)

	outcome, err := f.svc.Credit(context.Background(), d.ID)

	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyCredited, outcome)
	assert.Empty(t, f.ledger.entries)
}

func TestCreditSkipsNonConfirmed(t *testing.T) {
	f := newCredit()
	user := &entities.User{ID: uuid.New()}
	f.users.Add(user)
	d := confirmedDeposit(user.ID)
	d.Status = entities.DepositStatusObserved
	f.deposits.Add(d)

	outcome, err := f.svc.Credit(context.Background(), d.ID)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
}

func TestCreditNoUserGoesToReview(t *testing.T) {
	f := newCredit()
	d := confirmedDeposit(uuid.New())
	d.UserID = nil
	f.deposits.Add(d)

	outcome, err := f.svc.Credit(context.Background(), d.ID)

	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsReview, outcome)
	require.Len(t, f.deposits.reviews, 1)
	assert.Contains(t, f.deposits.reviews[0], "NO_USER")
}

func TestCreditNoPackageGoesToReview(t *testing.T) {
	f := newCredit()
	user := &entities.User{ID: uuid.New()}
	f.users.Add(user)
	d := confirmedDeposit(user.ID)
	f.deposits.Add(d)
	f.packages.pkg = nil

	outcome, err := f.svc.Credit(context.Background(), d.ID)

	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsReview, outcome)
	assert.Contains(t, f.deposits.reviews[0], "NO_PACKAGE")
}

func TestCreditRiskRejectionGoesToReview(t *testing.T) {
	f := newCredit()
	user := &entities.User{ID: uuid.New()}
	f.users.Add(user)
	d := confirmedDeposit(user.ID)
	f.deposits.Add(d)
	f.packages.pkg = starterPackage()
	f.gate.decision = risk.Decision{Reason: "DAILY_STARS_CAP:too_much"}

	outcome, err := f.svc.Credit(context.Background(), d.ID)

	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsReview, outcome)
	assert.Contains(t, f.deposits.reviews[0], "RISK_REJECTED: DAILY_STARS_CAP")
	assert.Empty(t, f.ledger.entries)
}

func TestCreditBundleBonusAndCoupon(t *testing.T) {
	f := newCredit()
	user := &entities.User{ID: uuid.New()}
	f.users.Add(user)
	d := confirmedDeposit(user.ID)
	couponID := uuid.New()
	d.CouponID = &couponID
	f.deposits.Add(d)

	pkg := starterPackage()
	pkg.BundleBonus = 50
	f.packages.pkg = pkg
	f.packages.coupon = &entities.Coupon{
		ID:     couponID,
		Kind:   entities.CouponKindPercent,
		Value:  20,
		Active: true,
	}

	outcome, err := f.svc.Credit(context.Background(), d.ID)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, outcome)
	assert.Equal(t, int64(250), f.ledger.starsOf(entities.LedgerEntryTopup))
	assert.Equal(t, int64(50), f.ledger.starsOf(entities.LedgerEntryBundleBonus))
	assert.Equal(t, int64(50), f.ledger.starsOf(entities.LedgerEntryCouponBonus))
	assert.Equal(t, int64(350), f.users.balances[user.ID])
}

func TestCreditExpiredCouponDegradesSilently(t *testing.T) {
	f := newCredit()
	user := &entities.User{ID: uuid.New()}
	f.users.Add(user)
	d := confirmedDeposit(user.ID)
	couponID := uuid.New()
	d.CouponID = &couponID
	f.deposits.Add(d)
	f.packages.pkg = starterPackage()
	f.packages.coupon = &entities.Coupon{ID: couponID, Kind: entities.CouponKindFlat, Value: 100, Active: false}

	outcome, err := f.svc.Credit(context.Background(), d.ID)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, outcome)
	assert.Equal(t, int64(0), f.ledger.starsOf(entities.LedgerEntryCouponBonus))
	assert.Equal(t, int64(250), f.users.balances[user.ID])
}

func TestCreditReferralPayout(t *testing.T) {
	f := newCredit()
	referrer := &entities.User{ID: uuid.New()}
	user := &entities.User{ID: uuid.New(), ReferrerID: &referrer.ID}
	f.users.Add(referrer)
	f.users.Add(user)
	d := confirmedDeposit(user.ID)
	f.deposits.Add(d)
	f.packages.pkg = starterPackage()

	outcome, err := f.svc.Credit(context.Background(), d.ID)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, outcome)
	// Default referral share is 10% of the 250 star total.
	assert.Equal(t, int64(25), f.ledger.starsOf(entities.LedgerEntryReferralBonus))
	assert.Equal(t, int64(25), f.users.balances[referrer.ID])
	assert.Equal(t, int64(250), f.users.balances[user.ID])
}

func TestCreditReferralPaidOnlyOnce(t *testing.T) {
	f := newCredit()
	referrer := &entities.User{ID: uuid.New()}
	user := &entities.User{ID: uuid.New(), ReferrerID: &referrer.ID}
	f.users.Add(referrer)
	f.users.Add(user)
	d := confirmedDeposit(user.ID)
	f.deposits.Add(d)
	f.packages.pkg = starterPackage()

	_, err := f.svc.Credit(context.Background(), d.ID)
	require.NoError(t, err)

	// Simulate a crashed run re-executing against a CONFIRMED row.
	d.Status = entities.DepositStatusConfirmed

	_, err = f.svc.Credit(context.Background(), d.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(25), f.users.balances[referrer.ID], "referral must not double-pay")
	assert.Equal(t, int64(250), f.users.balances[user.ID], "topup must not double-credit")
}

func TestCreditReferralDisabled(t *testing.T) {
	f := newCredit()
	referrer := &entities.User{ID: uuid.New()}
	user := &entities.User{ID: uuid.New(), ReferrerID: &referrer.ID}
	f.users.Add(referrer)
	f.users.Add(user)
	d := confirmedDeposit(user.ID)
	f.deposits.Add(d)
	f.packages.pkg = starterPackage()
	f.settings.settings = &entities.PlatformSettings{ReferralEnabled: false, ReferralPercent: 10, ToleranceBps: 50}

	outcome, err := f.svc.Credit(context.Background(), d.ID)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, outcome)
	assert.Equal(t, int64(0), f.users.balances[referrer.ID])
}
