package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Action classifies a trade relative to the wallet.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// TxType distinguishes how the trade was derived from the transaction.
type TxType string

const (
	TxTypeSwap            TxType = "swap"
	TxTypeLiquidity       TxType = "liquidity"
	TxTypeTransferImplied TxType = "transfer-implied"
)

// Confidence is the tier attached to a resolved price.
type Confidence string

const (
	ConfidenceHigh        Confidence = "high"
	ConfidenceEst         Confidence = "est"
	ConfidenceStale       Confidence = "stale"
	ConfidenceUnavailable Confidence = "unavailable"
)

// TokenAmount is one leg of a trade in human units.
type TokenAmount struct {
	Mint     string          `json:"mint"`
	Symbol   string          `json:"symbol"`
	Amount   decimal.Decimal `json:"amount"`
	Decimals int             `json:"decimals"`
}

// Trade is the canonical result of swap extraction, enriched first by the
// price oracle and then by the cost-basis engine.
type Trade struct {
	Wallet       string    `json:"wallet"`
	Signature    string    `json:"signature"`
	Slot         uint64    `json:"slot"`
	BlockTime    time.Time `json:"block_time"`
	IntraTxIndex int       `json:"intra_tx_index"`

	Action      Action      `json:"action"`
	TokenIn     TokenAmount `json:"token_in"`
	TokenOut    TokenAmount `json:"token_out"`
	PrimaryMint string      `json:"primary_token_mint"`
	// Amount is the absolute movement of the primary token.
	Amount      decimal.Decimal `json:"amount"`
	DEX         string          `json:"dex"`
	TxType      TxType          `json:"tx_type"`
	FeeLamports uint64          `json:"fee_lamports"`

	// Enrichment (post-oracle). Nil pointers serialize as JSON nulls.
	PriceSOL   *decimal.Decimal `json:"price_sol"`
	PriceUSD   *decimal.Decimal `json:"price_usd"`
	ValueUSD   *decimal.Decimal `json:"value_usd"`
	FeesUSD    *decimal.Decimal `json:"fees_usd"`
	Priced     bool             `json:"priced"`
	Confidence Confidence       `json:"confidence"`

	// Post cost-basis, sells only.
	RealizedPnLUSD  *decimal.Decimal `json:"realized_pnl_usd,omitempty"`
	UncoveredAmount *decimal.Decimal `json:"uncovered_amount,omitempty"`
}

// PrimaryToken returns the leg carrying the primary (non-quote) mint.
func (t *Trade) PrimaryToken() TokenAmount {
	if t.TokenIn.Mint == t.PrimaryMint {
		return t.TokenIn
	}
	return t.TokenOut
}

// Before implements the canonical trade ordering
// (block_time, slot, intra_tx_index) ascending.
func (t *Trade) Before(other *Trade) bool {
	if !t.BlockTime.Equal(other.BlockTime) {
		return t.BlockTime.Before(other.BlockTime)
	}
	if t.Slot != other.Slot {
		return t.Slot < other.Slot
	}
	return t.IntraTxIndex < other.IntraTxIndex
}

// SortTrades orders trades canonically in place.
func SortTrades(trades []Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Before(&trades[j])
	})
}
