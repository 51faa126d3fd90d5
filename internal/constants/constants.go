package constants

import "time"

// Well-known mints
const (
	WSOLMint = "So11111111111111111111111111111111111111112"
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// StableMints are treated as USD-equivalent quote legs.
var StableMints = map[string]bool{
	USDCMint: true,
	USDTMint: true,
}

// IsQuoteMint reports whether a mint is SOL or a stablecoin, i.e. a valid
// counter leg for BUY/SELL classification.
func IsQuoteMint(mint string) bool {
	return mint == WSOLMint || StableMints[mint]
}

// Cache key prefixes (versioned)
const (
	CacheKeySnapshotPrefix = "pos:v1:snapshot:"
	CacheKeyPositionPrefix = "pos:v1:position:"
	CacheKeyTradesPrefix   = "trades:v1:"
	CacheKeyPricePrefix    = "price:v1:"
	CacheKeySolSpot        = "price:v1:sol-spot"
)

// Schema versions accepted by the export endpoints
const (
	SchemaTradesV070        = "v0.7.0"
	SchemaTradesV071Value   = "v0.7.1-trades-value"
	SchemaTradesV072Compact = "v0.7.2-compact"
	SchemaPositionsV080     = "v0.8.0-prices"
)

// SchemaPriceV1 tags price entries in the distributed cache tier.
const SchemaPriceV1 = "price-v1"

// Pipeline limits
const (
	SignaturePageSize    = 1000
	TransactionBatchSize = 100
	MaxEmptyPages        = 3
	HydratorMaxAttempts  = 3
)

// Backoff schedule for rate-limited transaction windows: 5s, 10s, 20s.
const (
	WindowRetryInterval   = 5 * time.Second
	WindowRetryMultiplier = 2.0
)

// Price freshness budgets
const (
	StalePriceTTL         = 6 * time.Hour
	SolSpotTTL            = 30 * time.Second
	ProviderPriceCacheTTL = time.Minute
	HighPriceMaxAge       = 60 * time.Second
	EstPriceMaxAge        = 5 * time.Minute
	SlotBucketSeconds     = 60
)

// Feature flag keys gating endpoint visibility
const (
	FlagTradesExport    = "endpoint.trades_export"
	FlagPositionsExport = "endpoint.positions_export"
	FlagWalletStream    = "endpoint.stream"
)

// LamportsPerSOL is the native token scaling factor.
const LamportsPerSOL = 1_000_000_000

// TokenSymbols maps well-known mint addresses to display symbols.
var TokenSymbols = map[string]string{
	WSOLMint: "SOL",
	USDCMint: "USDC",
	USDTMint: "USDT",
	"mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So":  "mSOL",
	"7vfCXTUXx5WJV5JADk17DUJ4ksgau7utNKj4b963voxs": "ETH",
	"DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263": "BONK",
	"7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr": "POPCAT",
	"JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN":  "JUP",
	"4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R": "RAY",
	"9n4nbM75f5Ui33ZbPYXn59EwSgE8CGsHtAeTH5YFeJ9E": "BTC-w",
}

// TokenSymbol resolves a mint to its symbol, shortening unknown mints.
func TokenSymbol(mint string) string {
	if symbol, ok := TokenSymbols[mint]; ok {
		return symbol
	}
	if len(mint) > 8 {
		return mint[:4] + "..." + mint[len(mint)-4:]
	}
	return mint
}
