package pnl

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/walletdoctor/solana-pnl-api/internal/models"
)

// Engine maintains per-mint FIFO lot queues for one wallet. Trades must be
// applied in canonical (block_time, slot, intra_tx_index) order; the engine
// is deterministic for a given ordered input. A pipeline run exclusively
// owns its engine; positions are copied out at materialization.
type Engine struct {
	wallet      string
	queues      map[string][]models.Lot
	meta        map[string]*mintMeta
	consistency models.PositionConsistency
}

type mintMeta struct {
	symbol       string
	decimals     int
	openedAt     time.Time
	lastTradeAt  time.Time
	lastPriceSOL *decimal.Decimal
	unknownCost  bool
}

// NewEngine creates a cost-basis engine for one wallet.
func NewEngine(wallet string) *Engine {
	return &Engine{
		wallet:      wallet,
		queues:      map[string][]models.Lot{},
		meta:        map[string]*mintMeta{},
		consistency: models.ConsistencyClean,
	}
}

// Apply processes one trade. SELL trades are mutated in place with their
// realized P&L and, for over-sells, the uncovered amount.
func (e *Engine) Apply(t *models.Trade) {
	m := e.metaFor(t)
	m.lastTradeAt = t.BlockTime
	if t.PriceSOL != nil {
		priceSOL := *t.PriceSOL
		m.lastPriceSOL = &priceSOL
	}

	switch t.Action {
	case models.ActionBuy:
		e.applyBuy(t, m)
	case models.ActionSell:
		e.applySell(t, m)
	}
}

func (e *Engine) applyBuy(t *models.Trade, m *mintMeta) {
	mint := t.PrimaryMint
	if len(e.queues[mint]) == 0 {
		// Balance transitions zero -> positive: a fresh position opens.
		m.openedAt = t.BlockTime
		m.unknownCost = false
	}

	lot := models.Lot{
		Mint:            mint,
		RemainingAmount: t.Amount,
		AcquiredAt:      t.BlockTime,
		SourceSignature: t.Signature,
	}
	if t.ValueUSD != nil && t.Amount.Sign() > 0 {
		cost := t.ValueUSD.Div(t.Amount)
		lot.CostPerUnitUSD = &cost
	} else {
		m.unknownCost = true
	}
	e.queues[mint] = append(e.queues[mint], lot)
}

func (e *Engine) applySell(t *models.Trade, m *mintMeta) {
	mint := t.PrimaryMint
	queue := e.queues[mint]

	remaining := t.Amount
	consumedCost := decimal.Zero
	covered := decimal.Zero
	costKnown := true

	for len(queue) > 0 && remaining.Sign() > 0 {
		head := &queue[0]
		take := decimal.Min(head.RemainingAmount, remaining)

		if head.CostPerUnitUSD != nil {
			consumedCost = consumedCost.Add(take.Mul(*head.CostPerUnitUSD))
		} else {
			costKnown = false
		}
		covered = covered.Add(take)
		remaining = remaining.Sub(take)
		head.RemainingAmount = head.RemainingAmount.Sub(take)

		if head.RemainingAmount.Sign() <= 0 {
			queue = queue[1:]
		}
	}

	// Discard dust lots below one native unit.
	queue = trimDust(queue, m.decimals)
	e.queues[mint] = queue

	if remaining.Sign() > 0 {
		// Pre-history position: more sold than ever bought on record.
		uncovered := remaining
		t.UncoveredAmount = &uncovered
		e.consistency = models.ConsistencyUncoveredSells
	}

	if t.PriceUSD != nil && costKnown {
		pnl := covered.Mul(*t.PriceUSD).Sub(consumedCost)
		t.RealizedPnLUSD = &pnl
	}

	if len(queue) == 0 {
		// Position destroyed; a later BUY re-opens with a new position_id.
		m.openedAt = time.Time{}
		m.unknownCost = false
	}
}

func trimDust(queue []models.Lot, decimals int) []models.Lot {
	if len(queue) == 0 {
		return queue
	}
	dust := decimal.New(1, 0).Shift(int32(-decimals))
	out := queue[:0]
	for _, lot := range queue {
		if lot.RemainingAmount.GreaterThanOrEqual(dust) {
			out = append(out, lot)
		}
	}
	return out
}

func (e *Engine) metaFor(t *models.Trade) *mintMeta {
	m, ok := e.meta[t.PrimaryMint]
	if !ok {
		primary := t.PrimaryToken()
		m = &mintMeta{symbol: primary.Symbol, decimals: primary.Decimals}
		e.meta[t.PrimaryMint] = m
	}
	return m
}

// Consistency reports whether any sell exceeded the recorded lot history.
func (e *Engine) Consistency() models.PositionConsistency {
	return e.consistency
}

// Positions materializes the residual queues into open positions. Cost basis
// is exact decimal arithmetic over the remaining lots; a queue containing a
// lot with unknown cost is marked cost_basis_confidence=unknown.
func (e *Engine) Positions() []models.Position {
	var out []models.Position
	for mint, queue := range e.queues {
		if len(queue) == 0 {
			continue
		}
		m := e.meta[mint]

		balance := decimal.Zero
		costBasis := decimal.Zero
		confidence := models.CostBasisKnown
		openedAt := queue[0].AcquiredAt
		if !m.openedAt.IsZero() {
			openedAt = m.openedAt
		}

		for _, lot := range queue {
			balance = balance.Add(lot.RemainingAmount)
			if lot.CostPerUnitUSD != nil {
				costBasis = costBasis.Add(lot.RemainingAmount.Mul(*lot.CostPerUnitUSD))
			} else {
				confidence = models.CostBasisUnknown
			}
		}
		if balance.Sign() <= 0 {
			continue
		}

		out = append(out, models.Position{
			PositionID:          models.PositionID(e.wallet, mint, openedAt),
			Wallet:              e.wallet,
			Mint:                mint,
			Symbol:              m.symbol,
			Decimals:            m.decimals,
			Balance:             balance,
			CostBasisUSD:        costBasis,
			CostBasisConfidence: confidence,
			OpenedAt:            openedAt,
			LastTradeAt:         m.lastTradeAt,
			LastPriceSOL:        m.lastPriceSOL,
		})
	}
	// Map iteration order is random; keep output byte-stable across runs.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].Mint < out[j].Mint
	})
	return out
}

// Run applies a full ordered trade stream and returns the open positions.
func Run(wallet string, trades []models.Trade) ([]models.Position, models.PositionConsistency) {
	engine := NewEngine(wallet)
	for i := range trades {
		engine.Apply(&trades[i])
	}
	return engine.Positions(), engine.Consistency()
}
