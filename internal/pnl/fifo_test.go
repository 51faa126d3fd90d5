package pnl

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletdoctor/solana-pnl-api/internal/models"
)

const (
	testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	bonkMint   = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// trade builds a priced trade for the primary mint with the given USD value.
func trade(action models.Action, amount, valueUSD string, at time.Time) models.Trade {
	t := models.Trade{
		Wallet:      testWallet,
		Signature:   "sig-" + at.Format("150405"),
		BlockTime:   at,
		Action:      action,
		PrimaryMint: bonkMint,
		Amount:      dec(amount),
		TokenIn:     models.TokenAmount{Mint: bonkMint, Symbol: "BONK", Decimals: 5, Amount: dec(amount)},
		TokenOut:    models.TokenAmount{Mint: bonkMint, Symbol: "BONK", Decimals: 5, Amount: dec(amount)},
	}
	if valueUSD != "" {
		t.ValueUSD = decPtr(valueUSD)
		price := t.ValueUSD.Div(t.Amount)
		t.PriceUSD = &price
		t.Priced = true
	}
	return t
}

func TestSellConsumesOldestLotsFirst(t *testing.T) {
	// Two buys at different prices, then a sell across both lots.
	trades := []models.Trade{
		trade(models.ActionBuy, "100", "100", t0),                    // $1.00/unit
		trade(models.ActionBuy, "100", "300", t0.Add(time.Minute)),   // $3.00/unit
		trade(models.ActionSell, "150", "600", t0.Add(2*time.Minute)), // $4.00/unit
	}

	engine := NewEngine(testWallet)
	for i := range trades {
		engine.Apply(&trades[i])
	}

	// Realized: 150*4 - (100*1 + 50*3) = 600 - 250 = 350.
	require.NotNil(t, trades[2].RealizedPnLUSD)
	assert.True(t, trades[2].RealizedPnLUSD.Equal(dec("350")))
	assert.Nil(t, trades[2].UncoveredAmount)
	assert.Equal(t, models.ConsistencyClean, engine.Consistency())

	positions := engine.Positions()
	require.Len(t, positions, 1)
	pos := positions[0]
	// Remaining: 50 units of the $3 lot.
	assert.True(t, pos.Balance.Equal(dec("50")))
	assert.True(t, pos.CostBasisUSD.Equal(dec("150")))
	assert.Equal(t, models.CostBasisKnown, pos.CostBasisConfidence)
}

func TestOversellMarksUncoveredAmount(t *testing.T) {
	trades := []models.Trade{
		trade(models.ActionBuy, "100", "100", t0),
		trade(models.ActionSell, "150", "300", t0.Add(time.Minute)),
	}

	engine := NewEngine(testWallet)
	for i := range trades {
		engine.Apply(&trades[i])
	}

	sell := trades[1]
	require.NotNil(t, sell.UncoveredAmount)
	assert.True(t, sell.UncoveredAmount.Equal(dec("50")))
	assert.Equal(t, models.ConsistencyUncoveredSells, engine.Consistency())

	// Realized P&L covers only the recorded 100 units: 100*2 - 100 = 100.
	require.NotNil(t, sell.RealizedPnLUSD)
	assert.True(t, sell.RealizedPnLUSD.Equal(dec("100")))

	assert.Empty(t, engine.Positions())
}

func TestUnpricedBuyPoisonsCostBasis(t *testing.T) {
	trades := []models.Trade{
		trade(models.ActionBuy, "100", "", t0), // no value: unknown cost
		trade(models.ActionBuy, "100", "300", t0.Add(time.Minute)),
	}

	positions, consistency := Run(testWallet, trades)
	require.Len(t, positions, 1)
	assert.Equal(t, models.CostBasisUnknown, positions[0].CostBasisConfidence)
	assert.Equal(t, models.ConsistencyClean, consistency)
	// Only the priced lot contributes to the USD figure.
	assert.True(t, positions[0].CostBasisUSD.Equal(dec("300")))
}

func TestSellAcrossUnknownCostLotSkipsRealizedPnL(t *testing.T) {
	trades := []models.Trade{
		trade(models.ActionBuy, "100", "", t0),
		trade(models.ActionSell, "50", "200", t0.Add(time.Minute)),
	}

	engine := NewEngine(testWallet)
	for i := range trades {
		engine.Apply(&trades[i])
	}
	assert.Nil(t, trades[1].RealizedPnLUSD)
}

func TestFullExitThenRebuyOpensNewPosition(t *testing.T) {
	trades := []models.Trade{
		trade(models.ActionBuy, "100", "100", t0),
		trade(models.ActionSell, "100", "200", t0.Add(time.Minute)),
		trade(models.ActionBuy, "50", "75", t0.Add(2*time.Hour)),
	}

	positions, _ := Run(testWallet, trades)
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.True(t, pos.OpenedAt.Equal(t0.Add(2 * time.Hour)))
	assert.Equal(t, models.PositionID(testWallet, bonkMint, t0.Add(2*time.Hour)), pos.PositionID)
}

func TestDustLotsAreDropped(t *testing.T) {
	trades := []models.Trade{
		trade(models.ActionBuy, "100", "100", t0),
		// Leaves 0.000001 units, below one native unit at 5 decimals.
		trade(models.ActionSell, "99.999999", "200", t0.Add(time.Minute)),
	}

	positions, _ := Run(testWallet, trades)
	assert.Empty(t, positions)
}

func TestPartialLotConsumption(t *testing.T) {
	trades := []models.Trade{
		trade(models.ActionBuy, "100", "100", t0),
		trade(models.ActionSell, "30", "60", t0.Add(time.Minute)),
		trade(models.ActionSell, "30", "90", t0.Add(2*time.Minute)),
	}

	engine := NewEngine(testWallet)
	for i := range trades {
		engine.Apply(&trades[i])
	}

	// First sell: 30*2 - 30*1 = 30. Second: 30*3 - 30*1 = 60.
	assert.True(t, trades[1].RealizedPnLUSD.Equal(dec("30")))
	assert.True(t, trades[2].RealizedPnLUSD.Equal(dec("60")))

	positions := engine.Positions()
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Balance.Equal(dec("40")))
}

func TestRunIsDeterministic(t *testing.T) {
	trades := []models.Trade{
		trade(models.ActionBuy, "100", "100", t0),
		trade(models.ActionBuy, "50", "200", t0.Add(time.Minute)),
		trade(models.ActionSell, "120", "500", t0.Add(2*time.Minute)),
	}

	first, _ := Run(testWallet, append([]models.Trade(nil), trades...))
	for i := 0; i < 10; i++ {
		again, _ := Run(testWallet, append([]models.Trade(nil), trades...))
		assert.Equal(t, first, again)
	}
}

func TestLastPriceSOLTracksMostRecentTrade(t *testing.T) {
	buy := trade(models.ActionBuy, "100", "100", t0)
	buy.PriceSOL = decPtr("0.00001")
	buy2 := trade(models.ActionBuy, "100", "100", t0.Add(time.Minute))
	buy2.PriceSOL = decPtr("0.00002")

	positions, _ := Run(testWallet, []models.Trade{buy, buy2})
	require.Len(t, positions, 1)
	require.NotNil(t, positions[0].LastPriceSOL)
	assert.True(t, positions[0].LastPriceSOL.Equal(dec("0.00002")))
}
