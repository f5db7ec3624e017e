package deposits

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	domainerr "github.com/starpay-service/starpay_service/internal/domain/errors"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

type MockDepositStore struct {
	deposits map[uuid.UUID]*entities.Deposit
	assigned map[uuid.UUID]uuid.UUID
}

func NewMockDepositStore() *MockDepositStore {
	return &MockDepositStore{
		deposits: make(map[uuid.UUID]*entities.Deposit),
		assigned: make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *MockDepositStore) Create(ctx context.Context, deposit *entities.Deposit) error {
	m.deposits[deposit.ID] = deposit
	return nil
}

func (m *MockDepositStore) GetByID(ctx context.Context, id uuid.UUID) (*entities.Deposit, error) {
	return m.deposits[id], nil
}

func (m *MockDepositStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to entities.DepositStatus, reason *string) error {
	m.deposits[id].Status = to
	return nil
}

func (m *MockDepositStore) AttachObservation(ctx context.Context, id uuid.UUID, txHash string, amount decimal.Decimal, provider entities.Provider) error {
	d := m.deposits[id]
	if txHash != "" {
		d.TxHash = &txHash
	}
	d.Status = entities.DepositStatusObserved
	return nil
}

func (m *MockDepositStore) AssignUser(ctx context.Context, id, userID uuid.UUID) error {
	m.assigned[id] = userID
	m.deposits[id].UserID = &userID
	return nil
}

type MockLedgerReader struct {
	entries []*entities.LedgerEntry
}

func (m *MockLedgerReader) ListByDeposit(ctx context.Context, depositID uuid.UUID) ([]*entities.LedgerEntry, error) {
	return m.entries, nil
}

type MockPackageStore struct {
	pkg *entities.StarPackage
}

func (m *MockPackageStore) FindPackage(ctx context.Context, chain entities.Chain, token entities.Token, amount decimal.Decimal) (*entities.StarPackage, error) {
	return m.pkg, nil
}

type MockJobQueue struct {
	jobs []*entities.Job
}

func (m *MockJobQueue) Enqueue(ctx context.Context, job *entities.Job) (bool, error) {
	m.jobs = append(m.jobs, job)
	return true, nil
}

type depositsFixture struct {
	store    *MockDepositStore
	packages *MockPackageStore
	jobs     *MockJobQueue
	svc      *Service
}

func newDeposits() *depositsFixture {
	f := &depositsFixture{
		store:    NewMockDepositStore(),
		packages: &MockPackageStore{pkg: &entities.StarPackage{ID: uuid.New(), BaseStars: 100, Active: true}},
		jobs:     &MockJobQueue{},
	}
	f.svc = NewService(f.store, &MockLedgerReader{}, f.packages, f.jobs, 5, logger.NewNop())
	return f
}

func validIntent() CreateIntentInput {
	return CreateIntentInput{
		UserID:           uuid.New(),
		Chain:            entities.ChainEthereum,
		Token:            entities.TokenUSDC,
		CustodialAddress: "0xABCDef0123",
		ExpectedAmount:   decimal.NewFromInt(25),
	}
}

func TestCreateIntent(t *testing.T) {
	f := newDeposits()

	d, err := f.svc.CreateIntent(context.Background(), validIntent())

	require.NoError(t, err)
	assert.Equal(t, entities.DepositStatusCreated, d.Status)
	// EVM addresses are canonicalized to lowercase.
	assert.Equal(t, "0xabcdef0123", d.CustodialAddress)
	require.NotNil(t, d.UserID)
}

func TestCreateIntentSolanaAddressKeepsCase(t *testing.T) {
	f := newDeposits()
	input := validIntent()
	input.Chain = entities.ChainSolana
	input.CustodialAddress = "CaseSensitivePubkey"

	d, err := f.svc.CreateIntent(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, "CaseSensitivePubkey", d.CustodialAddress)
}

func TestCreateIntentValidation(t *testing.T) {
	f := newDeposits()

	tests := []struct {
		name   string
		mutate func(*CreateIntentInput)
		code   string
	}{
		{"bad chain", func(i *CreateIntentInput) { i.Chain = "dogecoin" }, "INVALID_CHAIN"},
		{"zero amount", func(i *CreateIntentInput) { i.ExpectedAmount = decimal.Zero }, "INVALID_AMOUNT"},
		{"negative amount", func(i *CreateIntentInput) { i.ExpectedAmount = decimal.NewFromInt(-5) }, "INVALID_AMOUNT"},
		{"missing address", func(i *CreateIntentInput) { i.CustodialAddress = "" }, "INVALID_ADDRESS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validIntent()
			tt.mutate(&input)

			_, err := f.svc.CreateIntent(context.Background(), input)

			require.Error(t, err)
			var de *domainerr.DomainError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, domainerr.KindUserInput, de.Kind)
			assert.Equal(t, tt.code, de.Code)
		})
	}
}

func TestCreateIntentUnknownDenomination(t *testing.T) {
	f := newDeposits()
	f.packages.pkg = nil

	_, err := f.svc.CreateIntent(context.Background(), validIntent())

	require.Error(t, err)
	var de *domainerr.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "NO_PACKAGE", de.Code)
}

func TestSubmitWithoutHashMarksSubmitted(t *testing.T) {
	f := newDeposits()
	d, err := f.svc.CreateIntent(context.Background(), validIntent())
	require.NoError(t, err)

	updated, err := f.svc.Submit(context.Background(), d.ID, "")

	require.NoError(t, err)
	assert.Equal(t, entities.DepositStatusSubmitted, updated.Status)
	assert.Empty(t, f.jobs.jobs, "no verification without a transaction hash")
}

func TestSubmitWithHashQueuesVerification(t *testing.T) {
	f := newDeposits()
	d, err := f.svc.CreateIntent(context.Background(), validIntent())
	require.NoError(t, err)

	updated, err := f.svc.Submit(context.Background(), d.ID, "0xTXHASH")

	require.NoError(t, err)
	assert.Equal(t, entities.DepositStatusObserved, updated.Status)
	require.NotNil(t, updated.TxHash)
	assert.Equal(t, "0xtxhash", *updated.TxHash)

	require.Len(t, f.jobs.jobs, 1)
	assert.Equal(t, entities.JobReconcileDeposit, f.jobs.jobs[0].Name)
	assert.Equal(t, "reconcile_deposit:"+d.ID.String(), f.jobs.jobs[0].DedupKey)
}

func TestSubmitRejectsWrongState(t *testing.T) {
	f := newDeposits()
	d, err := f.svc.CreateIntent(context.Background(), validIntent())
	require.NoError(t, err)
	f.store.deposits[d.ID].Status = entities.DepositStatusConfirmed

	_, err = f.svc.Submit(context.Background(), d.ID, "0xhash")

	require.Error(t, err)
	var de *domainerr.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "INVALID_STATE", de.Code)
}

func TestResolveAssignsUserAndQueues(t *testing.T) {
	f := newDeposits()
	hash := "0xorphan"
	orphan := &entities.Deposit{
		ID:     uuid.New(),
		Chain:  entities.ChainEthereum,
		Token:  entities.TokenUSDC,
		TxHash: &hash,
		Status: entities.DepositStatusUnmatched,
	}
	f.store.deposits[orphan.ID] = orphan
	userID := uuid.New()

	resolved, err := f.svc.Resolve(context.Background(), orphan.ID, userID)

	require.NoError(t, err)
	assert.Equal(t, userID, f.store.assigned[orphan.ID])
	assert.Equal(t, entities.DepositStatusObserved, resolved.Status)
	require.Len(t, f.jobs.jobs, 1)
}

func TestResolveRejectsNonUnmatched(t *testing.T) {
	f := newDeposits()
	d, err := f.svc.CreateIntent(context.Background(), validIntent())
	require.NoError(t, err)

	_, err = f.svc.Resolve(context.Background(), d.ID, uuid.New())

	require.Error(t, err)
	var de *domainerr.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "INVALID_STATE", de.Code)
}

func TestResolveRejectsHashlessOrphan(t *testing.T) {
	f := newDeposits()
	orphan := &entities.Deposit{
		ID:     uuid.New(),
		Chain:  entities.ChainTron,
		Token:  entities.TokenUSDT,
		Status: entities.DepositStatusUnmatched,
	}
	f.store.deposits[orphan.ID] = orphan

	_, err := f.svc.Resolve(context.Background(), orphan.ID, uuid.New())

	require.Error(t, err)
	var de *domainerr.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "NO_TX_HASH", de.Code)
}
