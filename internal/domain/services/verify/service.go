// Package verify fetches independent on-chain truth for observed deposits
// and decides CONFIRMED, NEEDS_REVIEW or FAILED. Provider payloads got the
// deposit here; they are never trusted for the final amount except on Tron,
// where TronGrid is both provider and chain index.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/starpay-service/starpay_service/internal/chainclients/evm"
	"github.com/starpay-service/starpay_service/internal/chainclients/solana"
	"github.com/starpay-service/starpay_service/internal/chainclients/tron"
	"github.com/starpay-service/starpay_service/internal/domain/entities"
	domainerr "github.com/starpay-service/starpay_service/internal/domain/errors"
	"github.com/starpay-service/starpay_service/internal/infrastructure/config"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

// Outcome is the terminal decision of one reconciliation pass
type Outcome string

const (
	OutcomeConfirmed   Outcome = "confirmed"
	OutcomeNeedsReview Outcome = "needs_review"
	OutcomeFailed      Outcome = "failed"
	// OutcomePending means the chain has not finalized yet and the job
	// should retry.
	OutcomePending Outcome = "pending"
	// OutcomeSkipped means the deposit was not in a verifiable state,
	// which covers terminal re-deliveries.
	OutcomeSkipped Outcome = "skipped"
)

// DepositStore is the deposit persistence surface verification needs
type DepositStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Deposit, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to entities.DepositStatus, reason *string) error
	SetActualAmount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
}

// AlertSink records amount-mismatch alerts
type AlertSink interface {
	Upsert(ctx context.Context, alert *entities.FraudAlert) (bool, error)
}

// Notifier pushes newly created alerts out of band
type Notifier interface {
	Notify(ctx context.Context, alert *entities.FraudAlert)
}

// SettingsProvider supplies the live tolerance
type SettingsProvider interface {
	Get(ctx context.Context) *entities.PlatformSettings
}

// Service reconciles observed deposits against chain state
type Service struct {
	deposits DepositStore
	settings SettingsProvider
	alerts   AlertSink
	notifier Notifier
	evm      map[entities.Chain]*evm.Client
	solana   *solana.Client
	tron     *tron.Client
	chains   config.ChainsConfig
	logger   *logger.Logger
}

// NewService creates the verification service. Any chain client may be nil
// when that chain is not configured; deposits for it go to review.
func NewService(
	deposits DepositStore,
	settings SettingsProvider,
	alerts AlertSink,
	notifier Notifier,
	evmClients map[entities.Chain]*evm.Client,
	solanaClient *solana.Client,
	tronClient *tron.Client,
	chains config.ChainsConfig,
	logger *logger.Logger,
) *Service {
	return &Service{
		deposits: deposits,
		settings: settings,
		alerts:   alerts,
		notifier: notifier,
		evm:      evmClients,
		solana:   solanaClient,
		tron:     tronClient,
		chains:   chains,
		logger:   logger,
	}
}

// Reconcile verifies one deposit end to end. Retryable errors bubble up so
// the job queue re-runs the pass; everything else lands the deposit in a
// decided state.
func (s *Service) Reconcile(ctx context.Context, depositID uuid.UUID) (Outcome, error) {
	deposit, err := s.deposits.GetByID(ctx, depositID)
	if err != nil {
		return "", fmt.Errorf("load deposit: %w", err)
	}

	if deposit.Status.IsTerminal() || deposit.Status == entities.DepositStatusNeedsReview {
		return OutcomeSkipped, nil
	}
	if deposit.Status == entities.DepositStatusConfirmed {
		// A crash or credit failure after confirmation leaves the deposit
		// here. Verification already passed, so report confirmed and let
		// the caller drive the credit again.
		return OutcomeConfirmed, nil
	}
	if deposit.Status != entities.DepositStatusObserved {
		return OutcomeSkipped, nil
	}
	if deposit.TxHash == nil || *deposit.TxHash == "" {
		return s.review(ctx, deposit, "MISSING_TX_HASH", "observed deposit carries no transaction hash")
	}

	actual, err := s.fetchChainTruth(ctx, deposit)
	if err != nil {
		var de *domainerr.DomainError
		if errors.As(err, &de) {
			switch de.Kind {
			case domainerr.KindInfrastructure:
				return OutcomePending, err
			case domainerr.KindVerification:
				if de.Retryable {
					return OutcomePending, err
				}
				if conclusiveFailure(de.Code) {
					return s.fail(ctx, deposit, de.Code, de.Message)
				}
				return s.review(ctx, deposit, de.Code, de.Message)
			}
		}
		return OutcomePending, err
	}
	if actual == nil {
		// chain execution failed
		return s.fail(ctx, deposit, "TX_REVERTED", "transaction reverted on chain")
	}

	if err := s.deposits.SetActualAmount(ctx, deposit.ID, *actual); err != nil {
		return "", fmt.Errorf("store actual amount: %w", err)
	}

	cfg := s.settings.Get(ctx)
	if !entities.WithinTolerance(deposit.ExpectedAmount, *actual, cfg.ToleranceBps) {
		s.raiseMismatchAlert(ctx, deposit, *actual)
		return s.review(ctx, deposit, "AMOUNT_MISMATCH",
			fmt.Sprintf("expected %s, chain shows %s", deposit.ExpectedAmount, actual))
	}

	if err := s.deposits.UpdateStatus(ctx, deposit.ID, entities.DepositStatusObserved, entities.DepositStatusConfirmed, nil); err != nil {
		return "", fmt.Errorf("confirm deposit: %w", err)
	}
	// Tron confirmation trusts the amount the provider reported at match
	// time; strict mode surfaces that to operators without blocking.
	if deposit.Chain == entities.ChainTron && cfg.StrictMode {
		s.raiseTrustedAmountAlert(ctx, deposit, *actual)
	}
	s.logger.Info("Deposit confirmed against chain",
		"deposit_id", deposit.ID,
		"chain", deposit.Chain,
		"actual_amount", actual,
	)
	return OutcomeConfirmed, nil
}

// conclusiveFailure reports codes where the chain itself rules the deposit
// out. Configuration gaps and mismatched intents stay in review because an
// operator can still resolve them; these cannot be.
func conclusiveFailure(code string) bool {
	switch code {
	case "NO_TRANSFER_TO_ADDRESS", "NO_BALANCE_DELTA":
		return true
	}
	return false
}

// fetchChainTruth returns the verified amount, or nil when the transaction
// executed but failed on chain.
func (s *Service) fetchChainTruth(ctx context.Context, deposit *entities.Deposit) (*decimal.Decimal, error) {
	switch {
	case deposit.Chain.IsEVM():
		return s.verifyEVM(ctx, deposit)
	case deposit.Chain == entities.ChainSolana:
		return s.verifySolana(ctx, deposit)
	case deposit.Chain == entities.ChainTron:
		return s.verifyTron(ctx, deposit)
	}
	return nil, domainerr.VerificationError("UNSUPPORTED_CHAIN", fmt.Sprintf("no verifier for chain %s", deposit.Chain))
}

func (s *Service) verifyEVM(ctx context.Context, deposit *entities.Deposit) (*decimal.Decimal, error) {
	client, ok := s.evm[deposit.Chain]
	if !ok {
		return nil, domainerr.VerificationError("CHAIN_NOT_CONFIGURED", fmt.Sprintf("no client for chain %s", deposit.Chain))
	}
	network, tokenCfg, err := s.networkToken(deposit.Chain, deposit.Token)
	if err != nil {
		return nil, err
	}

	result, err := client.VerifyTransfer(ctx, *deposit.TxHash, deposit.CustodialAddress, tokenCfg.Contract, tokenCfg.Decimals)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, nil
	}
	if result.Confirmations < network.Confirmations {
		return nil, domainerr.InfrastructureError(
			fmt.Errorf("%d of %d confirmations", result.Confirmations, network.Confirmations),
			"AWAITING_CONFIRMATIONS",
		)
	}
	if result.Amount.IsZero() {
		return nil, domainerr.VerificationError("NO_TRANSFER_TO_ADDRESS", "receipt contains no transfer to the custodial address")
	}
	return &result.Amount, nil
}

func (s *Service) verifySolana(ctx context.Context, deposit *entities.Deposit) (*decimal.Decimal, error) {
	if s.solana == nil {
		return nil, domainerr.VerificationError("CHAIN_NOT_CONFIGURED", "no solana client")
	}
	_, tokenCfg, err := s.networkToken(entities.ChainSolana, deposit.Token)
	if err != nil {
		return nil, err
	}

	result, err := s.solana.VerifyTransfer(ctx, *deposit.TxHash, deposit.CustodialAddress, tokenCfg.Contract)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, nil
	}
	// An on-chain memo naming a different deposit means the webhook was
	// matched to the wrong intent.
	if result.Memo != "" && result.Memo != deposit.ID.String() {
		if _, parseErr := uuid.Parse(result.Memo); parseErr == nil {
			return nil, domainerr.VerificationError("MEMO_MISMATCH",
				fmt.Sprintf("on-chain memo references deposit %s", result.Memo))
		}
	}
	if !result.Amount.IsPositive() {
		return nil, domainerr.VerificationError("NO_BALANCE_DELTA", "custodial address balance did not increase")
	}
	return &result.Amount, nil
}

// verifyTron confirms existence and success only; the amount recorded at
// match time stands.
func (s *Service) verifyTron(ctx context.Context, deposit *entities.Deposit) (*decimal.Decimal, error) {
	if s.tron == nil {
		return nil, domainerr.VerificationError("CHAIN_NOT_CONFIGURED", "no tron client")
	}

	status, err := s.tron.GetTransactionStatus(ctx, *deposit.TxHash)
	if err != nil {
		return nil, err
	}
	if !status.Exists {
		// Indexing lag is common; retry before concluding the hash is bogus
		return nil, domainerr.InfrastructureError(fmt.Errorf("transaction %s not indexed yet", *deposit.TxHash), "TX_NOT_INDEXED")
	}
	if !status.Success {
		return nil, nil
	}
	if !deposit.HasActualAmount() {
		return nil, domainerr.VerificationError("NO_OBSERVED_AMOUNT", "no provider-reported amount to confirm")
	}
	return &deposit.ActualAmount.Decimal, nil
}

func (s *Service) networkToken(chain entities.Chain, token entities.Token) (config.NetworkConfig, config.TokenConfig, error) {
	network, ok := s.chains.Networks[string(chain)]
	if !ok {
		return config.NetworkConfig{}, config.TokenConfig{}, domainerr.VerificationError("CHAIN_NOT_CONFIGURED", fmt.Sprintf("chain %s missing from configuration", chain))
	}
	if token == entities.TokenNative {
		return network, config.TokenConfig{}, nil
	}
	tokenCfg, ok := network.Tokens[string(token)]
	if !ok {
		return config.NetworkConfig{}, config.TokenConfig{}, domainerr.VerificationError("TOKEN_NOT_CONFIGURED", fmt.Sprintf("token %s not configured on %s", token, chain))
	}
	return network, tokenCfg, nil
}

func (s *Service) review(ctx context.Context, deposit *entities.Deposit, code, message string) (Outcome, error) {
	reason := fmt.Sprintf("%s: %s", code, message)
	if err := s.deposits.UpdateStatus(ctx, deposit.ID, deposit.Status, entities.DepositStatusNeedsReview, &reason); err != nil {
		return "", fmt.Errorf("move deposit to review: %w", err)
	}
	s.logger.Warn("Deposit needs manual review",
		"deposit_id", deposit.ID,
		"chain", deposit.Chain,
		"reason", reason,
	)
	return OutcomeNeedsReview, nil
}

func (s *Service) fail(ctx context.Context, deposit *entities.Deposit, code, message string) (Outcome, error) {
	reason := fmt.Sprintf("%s: %s", code, message)
	if err := s.deposits.UpdateStatus(ctx, deposit.ID, deposit.Status, entities.DepositStatusFailed, &reason); err != nil {
		return "", fmt.Errorf("fail deposit: %w", err)
	}
	s.logger.Warn("Deposit failed verification",
		"deposit_id", deposit.ID,
		"chain", deposit.Chain,
		"reason", reason,
	)
	return OutcomeFailed, nil
}

func (s *Service) raiseTrustedAmountAlert(ctx context.Context, deposit *entities.Deposit, actual decimal.Decimal) {
	details, _ := json.Marshal(map[string]interface{}{
		"deposit_id": deposit.ID,
		"chain":      deposit.Chain,
		"amount":     actual,
	})
	alert := entities.NewFraudAlert(
		entities.AlertKindTrustedAmount,
		entities.AlertSeverityMedium,
		"trusted:"+deposit.ID.String(),
		fmt.Sprintf("deposit %s credited from provider-reported amount %s without on-chain recomputation", deposit.ID, actual),
		details,
	)
	inserted, err := s.alerts.Upsert(ctx, alert)
	if err != nil {
		s.logger.Error("Failed to record trusted amount alert", "deposit_id", deposit.ID, "error", err)
		return
	}
	if inserted && s.notifier != nil {
		s.notifier.Notify(ctx, alert)
	}
}

func (s *Service) raiseMismatchAlert(ctx context.Context, deposit *entities.Deposit, actual decimal.Decimal) {
	details, _ := json.Marshal(map[string]interface{}{
		"deposit_id": deposit.ID,
		"chain":      deposit.Chain,
		"expected":   deposit.ExpectedAmount,
		"actual":     actual,
		"checked_at": time.Now().UTC(),
	})
	alert := entities.NewFraudAlert(
		entities.AlertKindAmountMismatch,
		entities.AlertSeverityHigh,
		deposit.ID.String(),
		fmt.Sprintf("deposit %s amount mismatch: expected %s, chain shows %s", deposit.ID, deposit.ExpectedAmount, actual),
		details,
	)
	inserted, err := s.alerts.Upsert(ctx, alert)
	if err != nil {
		s.logger.Error("Failed to record amount mismatch alert", "deposit_id", deposit.ID, "error", err)
		return
	}
	if inserted && s.notifier != nil {
		s.notifier.Notify(ctx, alert)
	}
}
