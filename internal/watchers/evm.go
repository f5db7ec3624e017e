package watchers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/starpay-service/starpay_service/internal/chainclients/evm"
	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/internal/infrastructure/config"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

// EVMWatcher scans ERC-20 Transfer logs into pending custodial addresses.
// One instance serves one chain; the cursor is the last scanned block per
// token. Native transfers are webhook-only on EVM chains since finding them
// requires walking full blocks.
type EVMWatcher struct {
	client   *evm.Client
	deposits DepositLister
	cursors  CursorStore
	sink     *depositSink
	network  config.NetworkConfig
	chain    entities.Chain
	logger   *logger.Logger
}

// NewEVMWatcher creates a watcher for one EVM chain
func NewEVMWatcher(
	client *evm.Client,
	deposits DepositLister,
	cursors CursorStore,
	m Matcher,
	jobs JobQueue,
	network config.NetworkConfig,
	maxAttempts int,
	logger *logger.Logger,
) *EVMWatcher {
	return &EVMWatcher{
		client:   client,
		deposits: deposits,
		cursors:  cursors,
		sink:     &depositSink{matcher: m, jobs: jobs, maxAttempts: maxAttempts, logger: logger},
		network:  network,
		chain:    client.Chain(),
		logger:   logger,
	}
}

func (w *EVMWatcher) Chain() entities.Chain { return w.chain }

func (w *EVMWatcher) Interval() time.Duration {
	return time.Duration(w.network.ScanInterval) * time.Second
}

// Scan advances each token's cursor through confirmed blocks
func (w *EVMWatcher) Scan(ctx context.Context) error {
	head, err := w.client.LatestBlock(ctx)
	if err != nil {
		return err
	}
	if head < w.network.Confirmations {
		return nil
	}
	safeHead := head - w.network.Confirmations

	for tokenName, tokenCfg := range w.network.Tokens {
		if tokenCfg.Contract == "" {
			continue
		}
		token := entities.Token(tokenName)
		if err := w.scanToken(ctx, token, tokenCfg, safeHead); err != nil {
			// Per-token isolation: one bad token config or RPC hiccup
			// must not stop the others.
			w.logger.Error("Token scan failed",
				"chain", w.chain,
				"token", token,
				"error", err,
			)
		}
	}
	return nil
}

func (w *EVMWatcher) scanToken(ctx context.Context, token entities.Token, tokenCfg config.TokenConfig, safeHead uint64) error {
	from, err := w.resumePoint(ctx, token, safeHead)
	if err != nil {
		return err
	}
	if from > safeHead {
		// Caught up; keep the dead-man check quiet
		return w.cursors.Heartbeat(ctx, w.chain, token, entities.CursorPurposeDeposits)
	}

	to := from + w.network.BlockChunk - 1
	if to > safeHead {
		to = safeHead
	}

	addresses, err := pendingAddresses(ctx, w.deposits, w.chain, token)
	if err != nil {
		return err
	}
	if len(addresses) > 0 {
		events, err := w.client.ScanTransfers(ctx, tokenCfg.Contract, addresses, from, to, tokenCfg.Decimals)
		if err != nil {
			return err
		}
		for i := range events {
			ev := events[i]
			w.sink.handle(ctx, &entities.Observation{
				Provider:      entities.ProviderWatcher,
				Chain:         w.chain,
				Token:         token,
				TxHash:        ev.TxHash,
				FromAddress:   ev.FromAddress,
				ToAddress:     ev.ToAddress,
				Amount:        ev.Amount,
				TokenContract: ev.Contract,
			})
		}
		if len(events) > 0 {
			w.logger.Info("Watcher found transfers",
				"chain", w.chain,
				"token", token,
				"count", len(events),
				"from_block", from,
				"to_block", to,
			)
		}
	}

	return w.cursors.Save(ctx, w.chain, token, entities.CursorPurposeDeposits, strconv.FormatUint(to, 10))
}

// resumePoint returns the first unscanned block, starting one chunk behind
// the safe head when no cursor exists yet.
func (w *EVMWatcher) resumePoint(ctx context.Context, token entities.Token, safeHead uint64) (uint64, error) {
	cursor, err := w.cursors.Get(ctx, w.chain, token, entities.CursorPurposeDeposits)
	if err != nil {
		return 0, err
	}
	if cursor == nil {
		if safeHead > w.network.BlockChunk {
			return safeHead - w.network.BlockChunk, nil
		}
		return 0, nil
	}
	last, err := strconv.ParseUint(cursor.Position, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt cursor position %q: %w", cursor.Position, err)
	}
	return last + 1, nil
}
