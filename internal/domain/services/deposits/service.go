// Package deposits exposes the deposit intent lifecycle operations driven by
// the API: creating an intent, submitting a transaction hash, and manually
// resolving unmatched transfers.
package deposits

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	domainerr "github.com/starpay-service/starpay_service/internal/domain/errors"
	"github.com/starpay-service/starpay_service/internal/domain/services/ingest"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

// JobQueue enqueues reconcile work
type JobQueue interface {
	Enqueue(ctx context.Context, job *entities.Job) (bool, error)
}

// DepositStore is the deposit persistence surface intent operations need
type DepositStore interface {
	Create(ctx context.Context, deposit *entities.Deposit) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Deposit, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to entities.DepositStatus, reason *string) error
	AttachObservation(ctx context.Context, id uuid.UUID, txHash string, amount decimal.Decimal, provider entities.Provider) error
	AssignUser(ctx context.Context, id, userID uuid.UUID) error
}

// LedgerReader lists the entries credited for a deposit
type LedgerReader interface {
	ListByDeposit(ctx context.Context, depositID uuid.UUID) ([]*entities.LedgerEntry, error)
}

// PackageStore validates the declared denomination
type PackageStore interface {
	FindPackage(ctx context.Context, chain entities.Chain, token entities.Token, amount decimal.Decimal) (*entities.StarPackage, error)
}

// Service implements deposit intent operations
type Service struct {
	deposits    DepositStore
	ledger      LedgerReader
	packages    PackageStore
	jobs        JobQueue
	maxAttempts int
	logger      *logger.Logger
}

// NewService creates the deposit intent service
func NewService(
	deposits DepositStore,
	ledger LedgerReader,
	packages PackageStore,
	jobs JobQueue,
	maxAttempts int,
	logger *logger.Logger,
) *Service {
	return &Service{
		deposits:    deposits,
		ledger:      ledger,
		packages:    packages,
		jobs:        jobs,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// CreateIntentInput is the declared deposit
type CreateIntentInput struct {
	UserID           uuid.UUID
	Chain            entities.Chain
	Token            entities.Token
	CustodialAddress string
	ExpectedAmount   decimal.Decimal
	CouponID         *uuid.UUID
}

// CreateIntent records a deposit the user is about to make. The returned
// deposit ID doubles as the on-chain memo reference where the chain supports
// memos.
func (s *Service) CreateIntent(ctx context.Context, input CreateIntentInput) (*entities.Deposit, error) {
	if !input.Chain.IsValid() {
		return nil, domainerr.New(domainerr.KindUserInput, "INVALID_CHAIN", fmt.Sprintf("unsupported chain: %s", input.Chain))
	}
	if !input.ExpectedAmount.IsPositive() {
		return nil, domainerr.New(domainerr.KindUserInput, "INVALID_AMOUNT", "expected amount must be positive")
	}
	if input.CustodialAddress == "" {
		return nil, domainerr.New(domainerr.KindUserInput, "INVALID_ADDRESS", "custodial address is required")
	}

	pkg, err := s.packages.FindPackage(ctx, input.Chain, input.Token, input.ExpectedAmount)
	if err != nil {
		return nil, fmt.Errorf("find package: %w", err)
	}
	if pkg == nil {
		return nil, domainerr.New(domainerr.KindUserInput, "NO_PACKAGE",
			fmt.Sprintf("no package for %s %s on %s", input.ExpectedAmount, input.Token, input.Chain))
	}

	address := input.CustodialAddress
	if input.Chain.IsEVM() {
		address = strings.ToLower(address)
	}

	now := time.Now().UTC()
	userID := input.UserID
	deposit := &entities.Deposit{
		ID:               uuid.New(),
		UserID:           &userID,
		Chain:            input.Chain,
		Token:            input.Token,
		CustodialAddress: address,
		ExpectedAmount:   input.ExpectedAmount,
		CouponID:         input.CouponID,
		Status:           entities.DepositStatusCreated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.deposits.Create(ctx, deposit); err != nil {
		return nil, fmt.Errorf("create deposit: %w", err)
	}

	s.logger.Info("Deposit intent created",
		"deposit_id", deposit.ID,
		"user_id", userID,
		"chain", deposit.Chain,
		"token", deposit.Token,
		"expected_amount", deposit.ExpectedAmount,
	)
	return deposit, nil
}

// Submit records the user's claim that the transfer was sent. A supplied tx
// hash moves the deposit straight to OBSERVED and queues verification; without
// one the deposit waits for a webhook or watcher sighting.
func (s *Service) Submit(ctx context.Context, depositID uuid.UUID, txHash string) (*entities.Deposit, error) {
	deposit, err := s.deposits.GetByID(ctx, depositID)
	if err != nil {
		return nil, fmt.Errorf("load deposit: %w", err)
	}
	if deposit.Status != entities.DepositStatusCreated && deposit.Status != entities.DepositStatusSubmitted {
		return nil, domainerr.New(domainerr.KindUserInput, "INVALID_STATE",
			fmt.Sprintf("deposit is %s, expected CREATED or SUBMITTED", deposit.Status))
	}

	if txHash == "" {
		if deposit.Status == entities.DepositStatusCreated {
			if err := s.deposits.UpdateStatus(ctx, deposit.ID, entities.DepositStatusCreated, entities.DepositStatusSubmitted, nil); err != nil {
				return nil, err
			}
		}
		return s.deposits.GetByID(ctx, depositID)
	}

	if deposit.Chain.IsEVM() {
		txHash = strings.ToLower(txHash)
	}
	if err := s.deposits.AttachObservation(ctx, deposit.ID, txHash, decimal.Zero, ""); err != nil {
		return nil, err
	}
	if err := s.enqueueReconcile(ctx, deposit.ID); err != nil {
		return nil, err
	}

	return s.deposits.GetByID(ctx, depositID)
}

// Resolve assigns an UNMATCHED deposit to a user and queues verification so
// the recovered funds flow through the normal pipeline.
func (s *Service) Resolve(ctx context.Context, depositID, userID uuid.UUID) (*entities.Deposit, error) {
	deposit, err := s.deposits.GetByID(ctx, depositID)
	if err != nil {
		return nil, fmt.Errorf("load deposit: %w", err)
	}
	if deposit.Status != entities.DepositStatusUnmatched {
		return nil, domainerr.New(domainerr.KindUserInput, "INVALID_STATE",
			fmt.Sprintf("deposit is %s, expected UNMATCHED", deposit.Status))
	}
	if deposit.TxHash == nil {
		return nil, domainerr.New(domainerr.KindUserInput, "NO_TX_HASH", "unmatched deposit has no transfer to verify")
	}

	if err := s.deposits.AssignUser(ctx, deposit.ID, userID); err != nil {
		return nil, err
	}
	if err := s.deposits.AttachObservation(ctx, deposit.ID, *deposit.TxHash, decimal.Zero, ""); err != nil {
		return nil, err
	}
	if err := s.enqueueReconcile(ctx, deposit.ID); err != nil {
		return nil, err
	}

	s.logger.Info("Unmatched deposit resolved",
		"deposit_id", deposit.ID,
		"user_id", userID,
	)
	return s.deposits.GetByID(ctx, depositID)
}

// Get returns a deposit with its ledger entries
func (s *Service) Get(ctx context.Context, depositID uuid.UUID) (*entities.Deposit, []*entities.LedgerEntry, error) {
	deposit, err := s.deposits.GetByID(ctx, depositID)
	if err != nil {
		return nil, nil, fmt.Errorf("load deposit: %w", err)
	}
	entries, err := s.ledger.ListByDeposit(ctx, depositID)
	if err != nil {
		return nil, nil, fmt.Errorf("load ledger: %w", err)
	}
	return deposit, entries, nil
}

func (s *Service) enqueueReconcile(ctx context.Context, depositID uuid.UUID) error {
	payload, err := json.Marshal(ingest.ReconcilePayload{DepositID: depositID})
	if err != nil {
		return fmt.Errorf("marshal reconcile payload: %w", err)
	}
	dedupKey := fmt.Sprintf("%s:%s", entities.JobReconcileDeposit, depositID)
	job := entities.NewJob(entities.JobReconcileDeposit, dedupKey, payload, s.maxAttempts)
	if _, err := s.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue reconcile: %w", err)
	}
	return nil
}
