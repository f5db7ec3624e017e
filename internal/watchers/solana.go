package watchers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/starpay-service/starpay_service/internal/chainclients/solana"
	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/internal/infrastructure/config"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

const solanaSignatureBatch = 50

// SolanaWatcher polls getSignaturesForAddress for each pending custodial
// address. The cursor stores the newest processed signature per address as a
// JSON map, so each pass fetches only what landed since the last one.
type SolanaWatcher struct {
	client   *solana.Client
	deposits DepositLister
	cursors  CursorStore
	sink     *depositSink
	network  config.NetworkConfig
	logger   *logger.Logger
}

// NewSolanaWatcher creates the Solana scanner
func NewSolanaWatcher(
	client *solana.Client,
	deposits DepositLister,
	cursors CursorStore,
	m Matcher,
	jobs JobQueue,
	network config.NetworkConfig,
	maxAttempts int,
	logger *logger.Logger,
) *SolanaWatcher {
	return &SolanaWatcher{
		client:   client,
		deposits: deposits,
		cursors:  cursors,
		sink:     &depositSink{matcher: m, jobs: jobs, maxAttempts: maxAttempts, logger: logger},
		network:  network,
		logger:   logger,
	}
}

func (w *SolanaWatcher) Chain() entities.Chain { return entities.ChainSolana }

func (w *SolanaWatcher) Interval() time.Duration {
	return time.Duration(w.network.ScanInterval) * time.Second
}

// Scan walks every configured token plus native SOL
func (w *SolanaWatcher) Scan(ctx context.Context) error {
	tokens := []entities.Token{entities.TokenNative}
	for name := range w.network.Tokens {
		tokens = append(tokens, entities.Token(name))
	}

	for _, token := range tokens {
		if err := w.scanToken(ctx, token); err != nil {
			w.logger.Error("Token scan failed",
				"chain", entities.ChainSolana,
				"token", token,
				"error", err,
			)
		}
	}
	return nil
}

func (w *SolanaWatcher) scanToken(ctx context.Context, token entities.Token) error {
	addresses, err := pendingAddresses(ctx, w.deposits, entities.ChainSolana, token)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return w.cursors.Heartbeat(ctx, entities.ChainSolana, token, entities.CursorPurposeDeposits)
	}

	seen, err := w.loadSeen(ctx, token)
	if err != nil {
		return err
	}

	mint := ""
	if token != entities.TokenNative {
		mint = w.network.Tokens[string(token)].Contract
	}

	for _, address := range addresses {
		sigs, err := w.client.SignaturesForAddress(ctx, address, seen[address], solanaSignatureBatch)
		if err != nil {
			w.logger.Error("Signature listing failed", "address", address, "error", err)
			continue
		}
		if len(sigs) == 0 {
			continue
		}

		// RPC returns newest first; process oldest first so the cursor
		// never skips past an unprocessed signature.
		for i := len(sigs) - 1; i >= 0; i-- {
			sig := sigs[i]
			if sig.Err != nil {
				continue
			}
			w.handleSignature(ctx, sig, address, token, mint)
		}
		seen[address] = sigs[0].Signature
	}

	return w.saveSeen(ctx, token, seen, addresses)
}

func (w *SolanaWatcher) handleSignature(ctx context.Context, sig solana.SignatureInfo, address string, token entities.Token, mint string) {
	verified, err := w.client.VerifyTransfer(ctx, sig.Signature, address, mint)
	if err != nil {
		w.logger.Error("Transaction fetch failed", "signature", sig.Signature, "error", err)
		return
	}
	if !verified.Success || !verified.Amount.IsPositive() {
		return
	}

	memo := verified.Memo
	if memo == "" && sig.Memo != nil {
		memo = *sig.Memo
	}
	w.sink.handle(ctx, &entities.Observation{
		Provider:      entities.ProviderWatcher,
		Chain:         entities.ChainSolana,
		Token:         token,
		TxHash:        sig.Signature,
		Memo:          memo,
		ToAddress:     address,
		Amount:        verified.Amount,
		TokenContract: mint,
	})
}

func (w *SolanaWatcher) loadSeen(ctx context.Context, token entities.Token) (map[string]string, error) {
	cursor, err := w.cursors.Get(ctx, entities.ChainSolana, token, entities.CursorPurposeDeposits)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]string)
	if cursor != nil && cursor.Position != "" {
		if err := json.Unmarshal([]byte(cursor.Position), &seen); err != nil {
			// A corrupt cursor rescans the recent window; dedup keys
			// absorb the replays.
			w.logger.Warn("Corrupt solana cursor, rescanning", "token", token, "error", err)
		}
	}
	return seen, nil
}

// saveSeen persists the per-address signature map, dropping addresses that
// no longer have pending deposits so the cursor does not grow forever.
func (w *SolanaWatcher) saveSeen(ctx context.Context, token entities.Token, seen map[string]string, active []string) error {
	pruned := make(map[string]string, len(active))
	for _, addr := range active {
		if sig, ok := seen[addr]; ok {
			pruned[addr] = sig
		}
	}
	position, err := json.Marshal(pruned)
	if err != nil {
		return err
	}
	return w.cursors.Save(ctx, entities.ChainSolana, token, entities.CursorPurposeDeposits, string(position))
}
