// Package evm wraps a JSON-RPC connection to an EVM chain for the watcher
// and verification paths. One client serves ethereum, polygon, bsc and
// arbitrum; only the endpoint and token registry differ.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	domainerr "github.com/starpay-service/starpay_service/internal/domain/errors"
)

// transferTopic is keccak256("Transfer(address,address,uint256)")
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

const nativeDecimals = 18

// Client is a thin wrapper over ethclient bound to a single chain
type Client struct {
	eth   *ethclient.Client
	chain entities.Chain
}

// NewClient dials the chain's RPC endpoint
func NewClient(rpcURL string, chain entities.Chain) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", chain, err)
	}
	return &Client{eth: eth, chain: chain}, nil
}

// Chain returns the chain this client is bound to
func (c *Client) Chain() entities.Chain { return c.chain }

// Close releases the underlying RPC connection
func (c *Client) Close() {
	c.eth.Close()
}

// LatestBlock returns the current head block number
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, domainerr.InfrastructureError(fmt.Errorf("%s block number: %w", c.chain, err), "RPC_BLOCK_NUMBER")
	}
	return n, nil
}

// TransferEvent is one inbound transfer found while scanning block ranges
type TransferEvent struct {
	TxHash      string
	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal
	Contract    string
	BlockNumber uint64
}

// ScanTransfers returns ERC-20 Transfer events into any of the watched
// addresses within [fromBlock, toBlock].
func (c *Client) ScanTransfers(ctx context.Context, contract string, toAddresses []string, fromBlock, toBlock uint64, decimals int32) ([]TransferEvent, error) {
	padded := make([]common.Hash, 0, len(toAddresses))
	for _, addr := range toAddresses {
		padded = append(padded, common.HexToHash(common.HexToAddress(addr).Hex()))
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{common.HexToAddress(contract)},
		Topics:    [][]common.Hash{{transferTopic}, nil, padded},
	}

	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, domainerr.InfrastructureError(fmt.Errorf("%s filter logs: %w", c.chain, err), "RPC_FILTER_LOGS")
	}

	events := make([]TransferEvent, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 3 || lg.Removed {
			continue
		}
		amount := new(big.Int).SetBytes(lg.Data)
		events = append(events, TransferEvent{
			TxHash:      strings.ToLower(lg.TxHash.Hex()),
			FromAddress: strings.ToLower(common.BytesToAddress(lg.Topics[1].Bytes()).Hex()),
			ToAddress:   strings.ToLower(common.BytesToAddress(lg.Topics[2].Bytes()).Hex()),
			Amount:      decimal.NewFromBigInt(amount, 0).Shift(-decimals),
			Contract:    strings.ToLower(lg.Address.Hex()),
			BlockNumber: lg.BlockNumber,
		})
	}
	return events, nil
}

// VerifiedTransfer is the independently fetched on-chain truth for a tx
type VerifiedTransfer struct {
	Amount        decimal.Decimal
	Confirmations uint64
	Success       bool
}

// VerifyTransfer fetches the receipt for txHash and computes the total
// amount delivered to toAddress. For token deposits the amount is the sum
// of matching Transfer logs so multi-log fills are handled; for native
// deposits it is the transaction value.
func (c *Client) VerifyTransfer(ctx context.Context, txHash, toAddress, tokenContract string, decimals int32) (*VerifiedTransfer, error) {
	hash := common.HexToHash(txHash)

	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		if err == ethereum.NotFound {
			return nil, domainerr.VerificationError("TX_NOT_FOUND", fmt.Sprintf("transaction %s not found on %s", txHash, c.chain))
		}
		return nil, domainerr.InfrastructureError(fmt.Errorf("%s receipt: %w", c.chain, err), "RPC_RECEIPT")
	}

	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return nil, domainerr.InfrastructureError(fmt.Errorf("%s block number: %w", c.chain, err), "RPC_BLOCK_NUMBER")
	}
	var confirmations uint64
	if receipt.BlockNumber != nil && head >= receipt.BlockNumber.Uint64() {
		confirmations = head - receipt.BlockNumber.Uint64() + 1
	}

	result := &VerifiedTransfer{
		Confirmations: confirmations,
		Success:       receipt.Status == types.ReceiptStatusSuccessful,
	}
	if !result.Success {
		return result, nil
	}

	if tokenContract != "" {
		result.Amount = sumTransferLogs(receipt.Logs, tokenContract, toAddress, decimals)
		return result, nil
	}

	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, domainerr.InfrastructureError(fmt.Errorf("%s transaction: %w", c.chain, err), "RPC_TRANSACTION")
	}
	if tx.To() == nil || !strings.EqualFold(tx.To().Hex(), toAddress) {
		return nil, domainerr.VerificationError("RECIPIENT_MISMATCH", fmt.Sprintf("transaction %s does not pay %s", txHash, toAddress))
	}
	result.Amount = decimal.NewFromBigInt(tx.Value(), 0).Shift(-nativeDecimals)
	return result, nil
}

func sumTransferLogs(logs []*types.Log, contract, toAddress string, decimals int32) decimal.Decimal {
	contractAddr := common.HexToAddress(contract)
	recipient := common.HexToAddress(toAddress)

	total := decimal.Zero
	for _, lg := range logs {
		if lg.Address != contractAddr || len(lg.Topics) < 3 || lg.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(lg.Topics[2].Bytes()) != recipient {
			continue
		}
		amount := new(big.Int).SetBytes(lg.Data)
		total = total.Add(decimal.NewFromBigInt(amount, 0).Shift(-decimals))
	}
	return total
}
