package entities

// Chain identifies a supported blockchain
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainPolygon  Chain = "polygon"
	ChainBSC      Chain = "bsc"
	ChainArbitrum Chain = "arbitrum"
	ChainSolana   Chain = "solana"
	ChainTron     Chain = "tron"
)

// EVMChains lists the chains served by the EVM watcher family
var EVMChains = []Chain{ChainEthereum, ChainPolygon, ChainBSC, ChainArbitrum}

// IsEVM reports whether the chain uses the EVM transfer-log model
func (c Chain) IsEVM() bool {
	for _, ch := range EVMChains {
		if c == ch {
			return true
		}
	}
	return false
}

// IsValid reports whether the chain is in the configured set
func (c Chain) IsValid() bool {
	switch c {
	case ChainEthereum, ChainPolygon, ChainBSC, ChainArbitrum, ChainSolana, ChainTron:
		return true
	}
	return false
}

// Token identifies a supported deposit asset
type Token string

const (
	TokenNative Token = "NATIVE"
	TokenUSDT   Token = "USDT"
	TokenUSDC   Token = "USDC"
)

// Provider identifies a third-party chain-data vendor
type Provider string

const (
	ProviderAlchemy   Provider = "alchemy"
	ProviderQuickNode Provider = "quicknode"
	ProviderHelius    Provider = "helius"
	ProviderTronGrid  Provider = "trongrid"

	// ProviderWatcher tags transfers discovered by our own chain scanners
	// rather than delivered by a vendor webhook.
	ProviderWatcher Provider = "watcher"
)
