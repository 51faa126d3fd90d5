package pnl

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/walletdoctor/solana-pnl-api/internal/constants"
	"github.com/walletdoctor/solana-pnl-api/internal/models"
	"github.com/walletdoctor/solana-pnl-api/internal/oracle"
)

// Calculator joins open positions with current prices into a portfolio
// snapshot. Unavailable prices produce null values, never errors.
type Calculator struct {
	oracle *oracle.Oracle
	now    func() time.Time
	logger *logrus.Logger
}

// NewCalculator creates an unrealized-P&L calculator.
func NewCalculator(o *oracle.Oracle, logger *logrus.Logger) *Calculator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Calculator{oracle: o, now: time.Now, logger: logger}
}

// Snapshot prices every position and aggregates portfolio totals.
func (c *Calculator) Snapshot(ctx context.Context, wallet string, positions []models.Position, consistency models.PositionConsistency) models.PortfolioSnapshot {
	now := c.now()

	snap := models.PortfolioSnapshot{
		SchemaVersion:       constants.SchemaPositionsV080,
		Wallet:              wallet,
		Timestamp:           now.UTC(),
		Positions:           make([]models.PositionPnL, 0, len(positions)),
		PositionConsistency: consistency,
		PriceSources: map[string]string{
			"sol_spot": "refresh via GET /v4/positions/export-gpt/{wallet}?refresh=true",
		},
	}

	totalValue := decimal.Zero
	totalCost := decimal.Zero
	pricedCost := decimal.Zero
	unpricedCost := decimal.Zero
	unpriced := 0
	staleCount := 0

	for _, pos := range positions {
		ppnl := c.price(ctx, pos, now)
		totalCost = totalCost.Add(pos.CostBasisUSD)
		if ppnl.CurrentValueUSD != nil {
			totalValue = totalValue.Add(*ppnl.CurrentValueUSD)
			pricedCost = pricedCost.Add(pos.CostBasisUSD)
		} else {
			unpriced++
			unpricedCost = unpricedCost.Add(pos.CostBasisUSD)
		}
		if ppnl.PriceConfidence == models.ConfidenceStale {
			staleCount++
		}
		snap.Positions = append(snap.Positions, ppnl)
	}

	snap.Summary = models.PortfolioSummary{
		TotalPositions:        len(positions),
		TotalCostBasisUSD:     totalCost,
		StalePriceCount:       staleCount,
		UnpricedPositionCount: unpriced,
		UnpricedCostBasisUSD:  unpricedCost,
	}
	// The unrealized totals span priced positions only, against the priced
	// share of the cost basis, so they equal the sum of the per-position
	// unrealized_pnl_usd fields in the same snapshot.
	if unpriced < len(positions) {
		snap.Summary.TotalValueUSD = &totalValue
		pnl := totalValue.Sub(pricedCost)
		snap.Summary.TotalUnrealizedPnLUSD = &pnl
		if pricedCost.Sign() > 0 {
			pct := pnl.Div(pricedCost)
			snap.Summary.TotalUnrealizedPnLPct = &pct
		}
	}
	return snap
}

func (c *Calculator) price(ctx context.Context, pos models.Position, now time.Time) models.PositionPnL {
	out := models.PositionPnL{Position: pos, PriceConfidence: models.ConfidenceUnavailable}

	var price oracle.Price
	if c.oracle.SolSpotOnly() && pos.LastPriceSOL != nil {
		// SOL-spot mode: value the position as if held in SOL at the
		// current SOL/USD rate. Consistent totals, per-token inaccuracy.
		if spot, err := c.oracle.SolSpot(ctx); err == nil {
			usd := pos.LastPriceSOL.Mul(spot)
			price = oracle.Price{
				USD:        &usd,
				Confidence: models.ConfidenceEst,
				Source:     oracle.SourceSolSpot,
				At:         now,
			}
		}
	} else {
		price = c.oracle.Resolve(ctx, pos.Mint, now)
	}

	if price.USD == nil {
		return out
	}

	// Age budgets: a "current" price older than its tier allows degrades to
	// stale rather than being dropped.
	age := now.Sub(price.At)
	confidence := price.Confidence
	switch confidence {
	case models.ConfidenceHigh:
		if age > constants.HighPriceMaxAge {
			confidence = models.ConfidenceStale
		}
	case models.ConfidenceEst:
		if age > constants.EstPriceMaxAge {
			confidence = models.ConfidenceStale
		}
	}

	value := pos.Balance.Mul(*price.USD)
	unrealized := value.Sub(pos.CostBasisUSD)

	out.CurrentPriceUSD = price.USD
	out.CurrentValueUSD = &value
	out.UnrealizedPnLUSD = &unrealized
	if pos.CostBasisUSD.Sign() > 0 {
		pct := unrealized.Div(pos.CostBasisUSD)
		out.UnrealizedPnLPct = &pct
	}
	out.PriceConfidence = confidence
	out.PriceAgeSeconds = int64(age.Seconds())
	out.PriceSource = price.Source
	return out
}
