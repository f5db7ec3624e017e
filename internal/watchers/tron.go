package watchers

import (
	"context"
	"strconv"
	"time"

	"github.com/starpay-service/starpay_service/internal/chainclients/tron"
	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/internal/infrastructure/config"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

const tronTransferBatch = 100

// TronWatcher polls TronGrid for confirmed TRC-20 transfers into pending
// custodial addresses. The cursor is the newest processed block timestamp
// in milliseconds.
type TronWatcher struct {
	client   *tron.Client
	deposits DepositLister
	cursors  CursorStore
	sink     *depositSink
	network  config.NetworkConfig
	logger   *logger.Logger
}

// NewTronWatcher creates the Tron scanner
func NewTronWatcher(
	client *tron.Client,
	deposits DepositLister,
	cursors CursorStore,
	m Matcher,
	jobs JobQueue,
	network config.NetworkConfig,
	maxAttempts int,
	logger *logger.Logger,
) *TronWatcher {
	return &TronWatcher{
		client:   client,
		deposits: deposits,
		cursors:  cursors,
		sink:     &depositSink{matcher: m, jobs: jobs, maxAttempts: maxAttempts, logger: logger},
		network:  network,
		logger:   logger,
	}
}

func (w *TronWatcher) Chain() entities.Chain { return entities.ChainTron }

func (w *TronWatcher) Interval() time.Duration {
	return time.Duration(w.network.ScanInterval) * time.Second
}

// Scan walks the configured TRC-20 tokens
func (w *TronWatcher) Scan(ctx context.Context) error {
	for name, tokenCfg := range w.network.Tokens {
		if tokenCfg.Contract == "" {
			continue
		}
		if err := w.scanToken(ctx, entities.Token(name), tokenCfg.Contract); err != nil {
			w.logger.Error("Token scan failed",
				"chain", entities.ChainTron,
				"token", name,
				"error", err,
			)
		}
	}
	return nil
}

func (w *TronWatcher) scanToken(ctx context.Context, token entities.Token, contract string) error {
	addresses, err := pendingAddresses(ctx, w.deposits, entities.ChainTron, token)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return w.cursors.Heartbeat(ctx, entities.ChainTron, token, entities.CursorPurposeDeposits)
	}

	minTs, err := w.resumePoint(ctx, token)
	if err != nil {
		return err
	}

	maxSeen := minTs
	for _, address := range addresses {
		transfers, err := w.client.ListTRC20Transfers(ctx, address, contract, minTs, tronTransferBatch)
		if err != nil {
			w.logger.Error("Transfer listing failed", "address", address, "error", err)
			continue
		}

		for i := range transfers {
			tr := transfers[i]
			w.sink.handle(ctx, &entities.Observation{
				Provider:      entities.ProviderWatcher,
				Chain:         entities.ChainTron,
				Token:         token,
				TxHash:        tr.TxID,
				FromAddress:   tr.From,
				ToAddress:     tr.To,
				Amount:        tr.Amount,
				TokenContract: tr.Contract,
			})
			if tr.TimestampMs > maxSeen {
				maxSeen = tr.TimestampMs
			}
		}
	}

	return w.cursors.Save(ctx, entities.ChainTron, token, entities.CursorPurposeDeposits, strconv.FormatInt(maxSeen, 10))
}

// resumePoint returns the cursor timestamp, defaulting to the start of the
// matching window so a fresh deployment does not replay chain history.
func (w *TronWatcher) resumePoint(ctx context.Context, token entities.Token) (int64, error) {
	cursor, err := w.cursors.Get(ctx, entities.ChainTron, token, entities.CursorPurposeDeposits)
	if err != nil {
		return 0, err
	}
	if cursor == nil || cursor.Position == "" {
		return time.Now().UTC().Add(-24*time.Hour).UnixMilli(), nil
	}
	ts, err := strconv.ParseInt(cursor.Position, 10, 64)
	if err != nil {
		w.logger.Warn("Corrupt tron cursor, rescanning window", "token", token, "error", err)
		return time.Now().UTC().Add(-24*time.Hour).UnixMilli(), nil
	}
	return ts, nil
}
