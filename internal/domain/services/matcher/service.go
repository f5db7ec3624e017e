// Package matcher binds normalized transfer observations to pending deposit
// intents. Matching is deterministic and ordered: memo reference first, then
// transaction hash, then amount proximity on the custodial address.
package matcher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

// CandidateWindow bounds how far back address-based matching looks
const CandidateWindow = 24 * time.Hour

// MatchKind records which rule produced the match
type MatchKind string

const (
	MatchByMemo      MatchKind = "memo"
	MatchByTxHash    MatchKind = "tx_hash"
	MatchByAmount    MatchKind = "amount"
	MatchBySingle    MatchKind = "single_candidate"
	MatchedUnmatched MatchKind = "unmatched"
)

// DepositStore is the slice of the deposit repository matching needs
type DepositStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Deposit, error)
	GetByTxHash(ctx context.Context, txHash string) (*entities.Deposit, error)
	FindMatchCandidates(ctx context.Context, address string, token entities.Token, since time.Time) ([]*entities.Deposit, error)
	AttachObservation(ctx context.Context, id uuid.UUID, txHash string, amount decimal.Decimal, provider entities.Provider) error
	Create(ctx context.Context, deposit *entities.Deposit) error
}

// SettingsProvider supplies the live matching tolerance
type SettingsProvider interface {
	Get(ctx context.Context) *entities.PlatformSettings
}

// Result describes the outcome of matching one observation
type Result struct {
	Deposit *entities.Deposit
	Kind    MatchKind
	// Created is true when no intent matched and an UNMATCHED shell was
	// written instead.
	Created bool
}

// Service implements observation-to-deposit matching
type Service struct {
	deposits DepositStore
	settings SettingsProvider
	logger   *logger.Logger
	now      func() time.Time
}

// NewService creates a matcher
func NewService(deposits DepositStore, settings SettingsProvider, logger *logger.Logger) *Service {
	return &Service{
		deposits: deposits,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// Match resolves an observation to a deposit and attaches the observed
// transfer to it. Triage-only observations are not matchable and return a
// nil result without error.
func (s *Service) Match(ctx context.Context, obs *entities.Observation) (*Result, error) {
	if obs.IsTriageOnly() {
		return nil, nil
	}

	// 1. Memo carrying the deposit ID is an exact reference.
	if deposit, err := s.matchByMemo(ctx, obs); err != nil {
		return nil, err
	} else if deposit != nil {
		return s.attach(ctx, deposit, obs, MatchByMemo)
	}

	// 2. A deposit already carrying this tx hash means a re-delivery.
	if obs.TxHash != "" {
		deposit, err := s.deposits.GetByTxHash(ctx, obs.TxHash)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lookup by tx hash: %w", err)
		}
		if deposit != nil {
			return s.attach(ctx, deposit, obs, MatchByTxHash)
		}
	}

	// 3. Amount proximity among open intents on the custodial address.
	if obs.ToAddress != "" {
		deposit, kind, err := s.matchByAddress(ctx, obs)
		if err != nil {
			return nil, err
		}
		if deposit != nil {
			return s.attach(ctx, deposit, obs, kind)
		}
	}

	// 4. Nothing matched. Record the transfer so funds are never lost.
	unmatched := entities.NewUnmatchedDeposit(obs, s.now().UTC())
	if err := s.deposits.Create(ctx, unmatched); err != nil {
		return nil, fmt.Errorf("create unmatched deposit: %w", err)
	}
	s.logger.Warn("Observed transfer matched no deposit intent",
		"deposit_id", unmatched.ID,
		"chain", obs.Chain,
		"tx_hash", obs.TxHash,
		"to_address", obs.ToAddress,
	)
	return &Result{Deposit: unmatched, Kind: MatchedUnmatched, Created: true}, nil
}

func (s *Service) matchByMemo(ctx context.Context, obs *entities.Observation) (*entities.Deposit, error) {
	if obs.Memo == "" {
		return nil, nil
	}
	id, err := uuid.Parse(obs.Memo)
	if err != nil {
		// Memos are user-writable on chain; an unparseable one is noise.
		return nil, nil
	}

	deposit, err := s.deposits.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup by memo: %w", err)
	}
	if deposit.Chain != obs.Chain || !deposit.Status.IsMatchable() {
		return nil, nil
	}
	return deposit, nil
}

// matchByAddress picks the open intent on (address, token) whose expected
// amount sits closest to the observed amount within tolerance. Without a
// reliable amount it matches only when exactly one candidate exists.
func (s *Service) matchByAddress(ctx context.Context, obs *entities.Observation) (*entities.Deposit, MatchKind, error) {
	since := s.now().UTC().Add(-CandidateWindow)
	candidates, err := s.deposits.FindMatchCandidates(ctx, obs.ToAddress, obs.Token, since)
	if err != nil {
		return nil, "", fmt.Errorf("find match candidates: %w", err)
	}
	candidates = filterMatchable(candidates, obs.Chain)
	if len(candidates) == 0 {
		return nil, "", nil
	}

	if !obs.HasReliableAmount() {
		if len(candidates) == 1 {
			return candidates[0], MatchBySingle, nil
		}
		return nil, "", nil
	}

	cfg := s.settings.Get(ctx)

	var best *entities.Deposit
	var bestDelta decimal.Decimal
	for _, c := range candidates {
		if !entities.WithinTolerance(c.ExpectedAmount, obs.Amount, cfg.ToleranceBps) {
			continue
		}
		delta := obs.Amount.Sub(c.ExpectedAmount).Abs()
		if best == nil || delta.LessThan(bestDelta) {
			best = c
			bestDelta = delta
		}
	}
	if best == nil {
		return nil, "", nil
	}
	return best, MatchByAmount, nil
}

func (s *Service) attach(ctx context.Context, deposit *entities.Deposit, obs *entities.Observation, kind MatchKind) (*Result, error) {
	if err := s.deposits.AttachObservation(ctx, deposit.ID, obs.TxHash, obs.Amount, obs.Provider); err != nil {
		return nil, fmt.Errorf("attach observation: %w", err)
	}
	s.logger.Info("Matched observation to deposit",
		"deposit_id", deposit.ID,
		"match_kind", kind,
		"tx_hash", obs.TxHash,
	)
	return &Result{Deposit: deposit, Kind: kind}, nil
}

func filterMatchable(deposits []*entities.Deposit, chain entities.Chain) []*entities.Deposit {
	out := deposits[:0]
	for _, d := range deposits {
		if d.Chain == chain && d.Status.IsMatchable() {
			out = append(out, d)
		}
	}
	return out
}
