package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CostBasisConfidence marks whether every lot behind a position carries a
// known USD cost.
type CostBasisConfidence string

const (
	CostBasisKnown   CostBasisConfidence = "known"
	CostBasisUnknown CostBasisConfidence = "unknown"
)

// PositionConsistency flags wallet-level accounting anomalies.
type PositionConsistency string

const (
	ConsistencyClean          PositionConsistency = "clean"
	ConsistencyUncoveredSells PositionConsistency = "has_uncovered_sells"
)

// Lot is a FIFO cost-basis unit opened by a BUY and consumed by SELLs.
type Lot struct {
	Mint            string           `json:"mint"`
	RemainingAmount decimal.Decimal  `json:"remaining_amount"`
	CostPerUnitUSD  *decimal.Decimal `json:"cost_per_unit_usd"`
	AcquiredAt      time.Time        `json:"acquired_at"`
	SourceSignature string           `json:"source_signature"`
}

// Position is the derived view over the open lots of one (wallet, mint).
type Position struct {
	PositionID          string              `json:"position_id"`
	Wallet              string              `json:"wallet"`
	Mint                string              `json:"mint"`
	Symbol              string              `json:"symbol"`
	Decimals            int                 `json:"decimals"`
	Balance             decimal.Decimal     `json:"balance"`
	CostBasisUSD        decimal.Decimal     `json:"cost_basis_usd"`
	CostBasisConfidence CostBasisConfidence `json:"cost_basis_confidence"`
	OpenedAt            time.Time           `json:"opened_at"`
	LastTradeAt         time.Time           `json:"last_trade_at"`
	// LastPriceSOL is the per-unit SOL price observed on the position's most
	// recent trade; SOL-spot valuation multiplies it by the current SOL rate.
	LastPriceSOL *decimal.Decimal `json:"last_price_sol,omitempty"`
}

// PositionID derives the stable identifier for a position opened at the
// given time: first8(wallet)::first8(mint)::opened_at_unix.
func PositionID(wallet, mint string, openedAt time.Time) string {
	return fmt.Sprintf("%s::%s::%d", first8(wallet), first8(mint), openedAt.Unix())
}

func first8(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// PositionPnL joins a position with a current price.
type PositionPnL struct {
	Position
	CurrentPriceUSD  *decimal.Decimal `json:"current_price_usd"`
	CurrentValueUSD  *decimal.Decimal `json:"current_value_usd"`
	UnrealizedPnLUSD *decimal.Decimal `json:"unrealized_pnl_usd"`
	UnrealizedPnLPct *decimal.Decimal `json:"unrealized_pnl_pct"`
	PriceConfidence  Confidence       `json:"price_confidence"`
	PriceAgeSeconds  int64            `json:"price_age_seconds"`
	PriceSource      string           `json:"price_source"`
}

// PortfolioSummary aggregates a snapshot. The value and unrealized totals
// cover priced positions only, so they always equal the sum of the
// per-position fields; the unpriced remainder is reported separately.
type PortfolioSummary struct {
	TotalPositions        int              `json:"total_positions"`
	TotalValueUSD         *decimal.Decimal `json:"total_value_usd"`
	TotalCostBasisUSD     decimal.Decimal  `json:"total_cost_basis_usd"`
	TotalUnrealizedPnLUSD *decimal.Decimal `json:"total_unrealized_pnl_usd"`
	TotalUnrealizedPnLPct *decimal.Decimal `json:"total_unrealized_pnl_pct"`
	StalePriceCount       int              `json:"stale_price_count"`
	UnpricedPositionCount int              `json:"unpriced_position_count"`
	UnpricedCostBasisUSD  decimal.Decimal  `json:"unpriced_cost_basis_usd"`
}

// PortfolioSnapshot is the positions artifact served to clients. A snapshot
// is only meaningful together with the schema version it was produced under.
type PortfolioSnapshot struct {
	SchemaVersion       string              `json:"schema_version"`
	Wallet              string              `json:"wallet"`
	Timestamp           time.Time           `json:"timestamp"`
	Positions           []PositionPnL       `json:"positions"`
	Summary             PortfolioSummary    `json:"summary"`
	PositionConsistency PositionConsistency `json:"position_consistency"`
	PriceSources        map[string]string   `json:"price_sources,omitempty"`
}
