package normalizer

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

func newTestService() *Service {
	return NewService(logger.NewNop())
}

func TestNormalizeUnknownProviderFallsBackToTriage(t *testing.T) {
	svc := newTestService()

	obs := svc.Normalize(entities.Provider("mystery"), entities.ChainEthereum, []byte(`{"x":1}`))

	require.Len(t, obs, 1)
	assert.True(t, obs[0].IsTriageOnly())
	assert.Equal(t, entities.Provider("mystery"), obs[0].Provider)
	assert.Equal(t, entities.ChainEthereum, obs[0].Chain)
	assert.Equal(t, []byte(`{"x":1}`), obs[0].RawPayload)
}

func TestNormalizeMalformedPayloadFallsBackToTriage(t *testing.T) {
	svc := newTestService()

	obs := svc.Normalize(entities.ProviderAlchemy, entities.ChainEthereum, []byte(`not json at all`))

	require.Len(t, obs, 1)
	assert.True(t, obs[0].IsTriageOnly())
}

func TestNormalizeStampsProviderAndChain(t *testing.T) {
	svc := newTestService()
	payload := []byte(`{"event":{"activity":[{"hash":"0xAB","fromAddress":"0xF","toAddress":"0xT","value":12.5,"asset":"USDC","category":"token"}]}}`)

	obs := svc.Normalize(entities.ProviderAlchemy, entities.ChainPolygon, payload)

	require.Len(t, obs, 1)
	assert.Equal(t, entities.ProviderAlchemy, obs[0].Provider)
	assert.Equal(t, entities.ChainPolygon, obs[0].Chain)
}

func TestAlchemyExtract(t *testing.T) {
	payload := []byte(`{
		"webhookId": "wh_1",
		"type": "ADDRESS_ACTIVITY",
		"event": {
			"network": "ETH_MAINNET",
			"activity": [
				{
					"fromAddress": "0xAAA",
					"toAddress": "0xBBB",
					"value": 100.5,
					"asset": "USDT",
					"category": "token",
					"hash": "0xDEAD",
					"rawContract": {"address": "0xCCC", "decimals": 6}
				},
				{
					"fromAddress": "0xAAA",
					"toAddress": "0xBBB",
					"asset": "ETH",
					"category": "external",
					"hash": "0xBEEF"
				}
			]
		}
	}`)

	obs, err := (&AlchemyExtractor{}).Extract(entities.ChainEthereum, payload)
	require.NoError(t, err)
	require.Len(t, obs, 2)

	assert.Equal(t, "0xdead", obs[0].TxHash)
	assert.Equal(t, "0xaaa", obs[0].FromAddress)
	assert.Equal(t, "0xbbb", obs[0].ToAddress)
	assert.Equal(t, entities.TokenUSDT, obs[0].Token)
	assert.Equal(t, "0xccc", obs[0].TokenContract)
	assert.True(t, obs[0].Amount.Equal(decimal.NewFromFloat(100.5)))

	assert.Equal(t, entities.TokenNative, obs[1].Token)
	assert.True(t, obs[1].Amount.IsZero())
}

func TestAlchemyExtractRawHexAmount(t *testing.T) {
	// 0xF4240 = 1000000 base units at 6 decimals = 1.0
	payload := []byte(`{
		"event": {
			"activity": [
				{
					"toAddress": "0xBBB",
					"asset": "USDC",
					"category": "token",
					"hash": "0x1",
					"rawContract": {"address": "0xCCC", "rawValue": "0xF4240", "decimals": 6}
				}
			]
		}
	}`)

	obs, err := (&AlchemyExtractor{}).Extract(entities.ChainEthereum, payload)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.True(t, obs[0].Amount.Equal(decimal.NewFromInt(1)), "got %s", obs[0].Amount)
}

func TestAlchemyExtractRejectsEmptyActivity(t *testing.T) {
	_, err := (&AlchemyExtractor{}).Extract(entities.ChainEthereum, []byte(`{"event":{"activity":[]}}`))
	assert.Error(t, err)
}

func TestQuickNodeExtract(t *testing.T) {
	payload := []byte(`{
		"streamId": "s1",
		"matchedTransactions": [
			{
				"hash": "0xAA11",
				"from": "0xF1",
				"to": "0xT1",
				"value": "250.75",
				"contractAddress": "0xC1",
				"tokenSymbol": "USDC",
				"tokenDecimals": 6
			},
			{
				"hash": "0xAA22",
				"from": "0xF2",
				"to": "0xT2",
				"value": "0xDE0B6B3A7640000"
			}
		]
	}`)

	obs, err := (&QuickNodeExtractor{}).Extract(entities.ChainBSC, payload)
	require.NoError(t, err)
	require.Len(t, obs, 2)

	assert.Equal(t, "0xaa11", obs[0].TxHash)
	assert.Equal(t, entities.TokenUSDC, obs[0].Token)
	assert.True(t, obs[0].Amount.Equal(decimal.RequireFromString("250.75")))

	// Hex native value: 0xDE0B6B3A7640000 wei is exactly one coin.
	assert.Equal(t, entities.TokenNative, obs[1].Token)
	assert.True(t, obs[1].Amount.Equal(decimal.NewFromInt(1)), "got %s", obs[1].Amount)
}

func TestHeliusExtractTokenAndNative(t *testing.T) {
	payload := []byte(`[
		{
			"signature": "sig111",
			"type": "TRANSFER",
			"memo": "f47ac10b-58cc-4372-a567-0e02b2c3d479",
			"tokenTransfers": [
				{
					"fromUserAccount": "senderPk",
					"toUserAccount": "custodialPk",
					"tokenAmount": 42.5,
					"mint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
				}
			],
			"nativeTransfers": [
				{"fromUserAccount": "senderPk", "toUserAccount": "custodialPk", "amount": 2500000000}
			]
		}
	]`)

	obs, err := (&HeliusExtractor{}).Extract(entities.ChainSolana, payload)
	require.NoError(t, err)
	require.Len(t, obs, 2)

	assert.Equal(t, "sig111", obs[0].TxHash)
	assert.Equal(t, entities.TokenUSDC, obs[0].Token)
	assert.True(t, obs[0].Amount.Equal(decimal.RequireFromString("42.5")))
	assert.Equal(t, "f47ac10b-58cc-4372-a567-0e02b2c3d479", obs[0].Memo)

	assert.Equal(t, entities.TokenNative, obs[1].Token)
	assert.True(t, obs[1].Amount.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, "f47ac10b-58cc-4372-a567-0e02b2c3d479", obs[1].Memo)
}

func TestHeliusExtractWrappedObjectPayload(t *testing.T) {
	payload := []byte(`{"transactions":[
		{
			"signature": "sig222",
			"nativeTransfers": [
				{"fromUserAccount": "a", "toUserAccount": "b", "amount": 1000000000}
			]
		}
	]}`)

	obs, err := (&HeliusExtractor{}).Extract(entities.ChainSolana, payload)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "sig222", obs[0].TxHash)
	assert.True(t, obs[0].Amount.Equal(decimal.NewFromInt(1)))
}

func TestHeliusMemoFromParsedInstruction(t *testing.T) {
	payload := []byte(`[
		{
			"signature": "sig333",
			"instructions": [
				{"programId": "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr", "parsed": "my-memo"}
			],
			"nativeTransfers": [
				{"fromUserAccount": "a", "toUserAccount": "b", "amount": 1}
			]
		}
	]`)

	obs, err := (&HeliusExtractor{}).Extract(entities.ChainSolana, payload)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "my-memo", obs[0].Memo)
}

func TestHeliusMemoFromBase64InstructionData(t *testing.T) {
	// "deposit-ref" base64 encoded
	payload := []byte(`[
		{
			"signature": "sig444",
			"instructions": [
				{"programId": "Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo", "data": "ZGVwb3NpdC1yZWY="}
			],
			"nativeTransfers": [
				{"fromUserAccount": "a", "toUserAccount": "b", "amount": 1}
			]
		}
	]`)

	obs, err := (&HeliusExtractor{}).Extract(entities.ChainSolana, payload)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "deposit-ref", obs[0].Memo)
}

func TestHeliusIgnoresNonMemoInstructions(t *testing.T) {
	payload := []byte(`[
		{
			"signature": "sig555",
			"instructions": [
				{"programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", "data": "ZGVwb3NpdC1yZWY="}
			],
			"nativeTransfers": [
				{"fromUserAccount": "a", "toUserAccount": "b", "amount": 1}
			]
		}
	]`)

	obs, err := (&HeliusExtractor{}).Extract(entities.ChainSolana, payload)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Empty(t, obs[0].Memo)
}

func TestTronGridExtract(t *testing.T) {
	payload := []byte(`{
		"data": [
			{
				"transaction_id": "txid001",
				"from": "TFrom",
				"to": "TTo",
				"value": "5000000",
				"token_info": {"address": "TContract", "symbol": "USDT", "decimals": 6}
			}
		]
	}`)

	obs, err := (&TronGridExtractor{}).Extract(entities.ChainTron, payload)
	require.NoError(t, err)
	require.Len(t, obs, 1)

	assert.Equal(t, "txid001", obs[0].TxHash)
	assert.Equal(t, entities.TokenUSDT, obs[0].Token)
	assert.Equal(t, "TContract", obs[0].TokenContract)
	assert.True(t, obs[0].Amount.Equal(decimal.NewFromInt(5)), "got %s", obs[0].Amount)
}

func TestTokenFromSymbol(t *testing.T) {
	assert.Equal(t, entities.TokenUSDT, tokenFromSymbol("usdt"))
	assert.Equal(t, entities.TokenUSDC, tokenFromSymbol("USDC"))
	assert.Equal(t, entities.TokenNative, tokenFromSymbol("ETH"))
	assert.Equal(t, entities.TokenNative, tokenFromSymbol("TRX"))
	assert.Equal(t, entities.Token("WETH"), tokenFromSymbol("weth"))
}
