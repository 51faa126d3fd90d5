package server

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/walletdoctor/solana-pnl-api/internal/cache"
	"github.com/walletdoctor/solana-pnl-api/internal/models"
)

// ErrorResponse is the standardized error body.
type ErrorResponse struct {
	Error      string `json:"error"`                 // Error category
	Message    string `json:"message"`               // Human-readable message
	Code       int    `json:"code,omitempty"`        // HTTP status code
	RetryAfter int    `json:"retry_after,omitempty"` // Seconds, rate limits only
}

// Error categories.
const (
	errValidation      = "validation"
	errAuthDenied      = "auth_denied"
	errRateLimited     = "rate_limited"
	errNotFound        = "not_found"
	errFeatureDisabled = "feature_disabled"
	errUpstream        = "upstream"
	errTimeout         = "timeout"
	errInternal        = "internal"
)

// HealthResponse reports liveness plus the runtime toggles and cache state.
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Flags     map[string]bool `json:"flags"`
	Cache     cache.Stats     `json:"cache"`
}

// tokenLeg is the wire form of one trade leg.
type tokenLeg struct {
	Mint   string          `json:"mint"`
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

// tradeV070 is the base trade wire form.
type tradeV070 struct {
	Timestamp string          `json:"timestamp"`
	Signature string          `json:"signature"`
	Action    models.Action   `json:"action"`
	Token     string          `json:"token"`
	Amount    decimal.Decimal `json:"amount"`
	TokenIn   tokenLeg        `json:"token_in"`
	TokenOut  tokenLeg        `json:"token_out"`
	DEX       string          `json:"dex"`
	TxType    models.TxType   `json:"tx_type"`
}

// tradeV071 adds the value enrichment fields; nil pointers render as nulls.
type tradeV071 struct {
	tradeV070
	PriceSOL *decimal.Decimal `json:"price_sol"`
	PriceUSD *decimal.Decimal `json:"price_usd"`
	ValueUSD *decimal.Decimal `json:"value_usd"`
	PnLUSD   *decimal.Decimal `json:"pnl_usd"`
	FeesUSD  *decimal.Decimal `json:"fees_usd"`
	Priced   bool             `json:"priced"`
}

// TradesExportResponse is the full (non-compact) trades export body.
type TradesExportResponse struct {
	Wallet        string   `json:"wallet"`
	SchemaVersion string   `json:"schema_version"`
	Signatures    []string `json:"signatures"`
	Trades        []any    `json:"trades"`
}

// PositionsResponse wraps a snapshot with cache-staleness markers.
type PositionsResponse struct {
	models.PortfolioSnapshot
	Stale      bool  `json:"stale,omitempty"`
	AgeSeconds int64 `json:"age_seconds,omitempty"`
}

// FlagUpsertRequest creates or updates a feature flag.
type FlagUpsertRequest struct {
	Key   string `json:"key"`
	Value bool   `json:"value"`
}

// FlagUpdateRequest updates an existing feature flag.
type FlagUpdateRequest struct {
	Value bool `json:"value"`
}

func legJSON(l models.TokenAmount) tokenLeg {
	return tokenLeg{Mint: l.Mint, Symbol: l.Symbol, Amount: l.Amount}
}

func tradeBaseJSON(t *models.Trade) tradeV070 {
	return tradeV070{
		Timestamp: t.BlockTime.UTC().Format(time.RFC3339),
		Signature: t.Signature,
		Action:    t.Action,
		Token:     t.PrimaryToken().Symbol,
		Amount:    t.Amount,
		TokenIn:   legJSON(t.TokenIn),
		TokenOut:  legJSON(t.TokenOut),
		DEX:       t.DEX,
		TxType:    t.TxType,
	}
}

func tradeValueJSON(t *models.Trade) tradeV071 {
	return tradeV071{
		tradeV070: tradeBaseJSON(t),
		PriceSOL:  t.PriceSOL,
		PriceUSD:  t.PriceUSD,
		ValueUSD:  t.ValueUSD,
		PnLUSD:    t.RealizedPnLUSD,
		FeesUSD:   t.FeesUSD,
		Priced:    t.Priced,
	}
}
