package pnl

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletdoctor/solana-pnl-api/internal/constants"
	"github.com/walletdoctor/solana-pnl-api/internal/models"
	"github.com/walletdoctor/solana-pnl-api/internal/oracle"
)

const jupMint = "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN"

func newCalculator(o *oracle.Oracle, now time.Time) *Calculator {
	c := NewCalculator(o, nil)
	c.now = func() time.Time { return now }
	return c
}

func pinnedOracle(cfg oracle.Config, now time.Time) *oracle.Oracle {
	return oracle.New(oracle.OracleConfig{
		Config: cfg,
		Now:    func() time.Time { return now },
	})
}

func position(mint, balance, costBasis string) models.Position {
	return models.Position{
		PositionID:          models.PositionID(testWallet, mint, t0),
		Wallet:              testWallet,
		Mint:                mint,
		Symbol:              constants.TokenSymbol(mint),
		Decimals:            5,
		Balance:             dec(balance),
		CostBasisUSD:        dec(costBasis),
		CostBasisConfidence: models.CostBasisKnown,
		OpenedAt:            t0,
		LastTradeAt:         t0,
	}
}

func TestSnapshotNullSafeWhenNothingPriced(t *testing.T) {
	now := t0.Add(time.Hour)
	c := newCalculator(pinnedOracle(oracle.Config{}, now), now)

	positions := []models.Position{
		position(bonkMint, "1000000", "300"),
		position(jupMint, "500", "700"),
	}
	snap := c.Snapshot(context.Background(), testWallet, positions, models.ConsistencyClean)

	assert.Equal(t, constants.SchemaPositionsV080, snap.SchemaVersion)
	assert.Equal(t, testWallet, snap.Wallet)
	require.Len(t, snap.Positions, 2)

	for _, p := range snap.Positions {
		assert.Nil(t, p.CurrentPriceUSD)
		assert.Nil(t, p.CurrentValueUSD)
		assert.Nil(t, p.UnrealizedPnLUSD)
		assert.Equal(t, models.ConfidenceUnavailable, p.PriceConfidence)
	}

	assert.Nil(t, snap.Summary.TotalValueUSD)
	assert.Nil(t, snap.Summary.TotalUnrealizedPnLUSD)
	assert.True(t, snap.Summary.TotalCostBasisUSD.Equal(dec("1000")))
	assert.Equal(t, 0, snap.Summary.StalePriceCount)
	assert.Equal(t, 2, snap.Summary.UnpricedPositionCount)
	assert.True(t, snap.Summary.UnpricedCostBasisUSD.Equal(dec("1000")))
	assert.Equal(t, models.ConsistencyClean, snap.PositionConsistency)
}

func TestSnapshotSolSpotMode(t *testing.T) {
	now := t0.Add(time.Hour)
	o := pinnedOracle(oracle.Config{SolSpotOnly: true}, now)
	o.SetSolSpot(decimal.NewFromInt(150))
	c := newCalculator(o, now)

	pos := position(bonkMint, "1000000", "1000")
	pos.LastPriceSOL = decPtr("0.00001")

	snap := c.Snapshot(context.Background(), testWallet, []models.Position{pos}, models.ConsistencyClean)
	require.Len(t, snap.Positions, 1)
	p := snap.Positions[0]

	// 0.00001 SOL/unit * 150 USD/SOL * 1M units = 1500 USD.
	require.NotNil(t, p.CurrentValueUSD)
	assert.True(t, p.CurrentValueUSD.Equal(dec("1500")))
	require.NotNil(t, p.UnrealizedPnLUSD)
	assert.True(t, p.UnrealizedPnLUSD.Equal(dec("500")))
	require.NotNil(t, p.UnrealizedPnLPct)
	assert.True(t, p.UnrealizedPnLPct.Equal(dec("0.5")))
	assert.Equal(t, models.ConfidenceEst, p.PriceConfidence)
	assert.Equal(t, oracle.SourceSolSpot, p.PriceSource)

	require.NotNil(t, snap.Summary.TotalValueUSD)
	assert.True(t, snap.Summary.TotalValueUSD.Equal(dec("1500")))
	assert.Equal(t, 0, snap.Summary.StalePriceCount)
}

func TestSnapshotSolSpotModeWithoutSpotIsUnavailable(t *testing.T) {
	now := t0.Add(time.Hour)
	o := pinnedOracle(oracle.Config{SolSpotOnly: true, HeliusOnly: true}, now)
	c := newCalculator(o, now)

	pos := position(bonkMint, "1000000", "1000")
	pos.LastPriceSOL = decPtr("0.00001")

	snap := c.Snapshot(context.Background(), testWallet, []models.Position{pos}, models.ConsistencyClean)
	require.Len(t, snap.Positions, 1)
	assert.Nil(t, snap.Positions[0].CurrentValueUSD)
	assert.Equal(t, models.ConfidenceUnavailable, snap.Positions[0].PriceConfidence)
	assert.Equal(t, 0, snap.Summary.StalePriceCount)
	assert.Equal(t, 1, snap.Summary.UnpricedPositionCount)
}

func TestSnapshotCountsStalePricesInTotals(t *testing.T) {
	now := t0.Add(time.Hour)
	o := pinnedOracle(oracle.Config{}, now)
	c := newCalculator(o, now)

	// BONK priced high via a swap in the snapshot's bucket, JUP only by a
	// three-hour-old observation.
	o.Observe(&models.Trade{
		BlockTime:   now,
		TokenIn:     models.TokenAmount{Mint: constants.USDCMint, Amount: dec("300")},
		TokenOut:    models.TokenAmount{Mint: bonkMint, Amount: dec("1000000")},
		PrimaryMint: bonkMint,
	})
	o.Observe(&models.Trade{
		BlockTime:   now.Add(-3 * time.Hour),
		TokenIn:     models.TokenAmount{Mint: jupMint, Amount: dec("500")},
		TokenOut:    models.TokenAmount{Mint: constants.USDCMint, Amount: dec("250")},
		PrimaryMint: jupMint,
	})

	positions := []models.Position{
		position(bonkMint, "1000000", "100"),
		position(jupMint, "500", "100"),
	}
	snap := c.Snapshot(context.Background(), testWallet, positions, models.ConsistencyClean)
	require.Len(t, snap.Positions, 2)

	assert.Equal(t, models.ConfidenceHigh, snap.Positions[0].PriceConfidence)
	assert.Equal(t, models.ConfidenceStale, snap.Positions[1].PriceConfidence)
	assert.Equal(t, 1, snap.Summary.StalePriceCount)

	// Stale prices still contribute to totals: 300 + 250 = 550.
	require.NotNil(t, snap.Summary.TotalValueUSD)
	assert.True(t, snap.Summary.TotalValueUSD.Equal(dec("550")))
	require.NotNil(t, snap.Summary.TotalUnrealizedPnLUSD)
	assert.True(t, snap.Summary.TotalUnrealizedPnLUSD.Equal(dec("350")))
}

func TestSummaryTotalsMatchPerPositionSums(t *testing.T) {
	now := t0.Add(time.Hour)
	o := pinnedOracle(oracle.Config{}, now)
	c := newCalculator(o, now)

	// BONK is priced by a swap in the snapshot's bucket; JUP has no price at
	// all. Its cost basis must not leak into the unrealized totals.
	o.Observe(&models.Trade{
		BlockTime:   now,
		TokenIn:     models.TokenAmount{Mint: constants.USDCMint, Amount: dec("300")},
		TokenOut:    models.TokenAmount{Mint: bonkMint, Amount: dec("1000000")},
		PrimaryMint: bonkMint,
	})

	positions := []models.Position{
		position(bonkMint, "1000000", "100"),
		position(jupMint, "500", "100"),
	}
	snap := c.Snapshot(context.Background(), testWallet, positions, models.ConsistencyClean)
	require.Len(t, snap.Positions, 2)

	perPosition := decimal.Zero
	for _, p := range snap.Positions {
		if p.UnrealizedPnLUSD != nil {
			perPosition = perPosition.Add(*p.UnrealizedPnLUSD)
		}
	}

	require.NotNil(t, snap.Summary.TotalUnrealizedPnLUSD)
	assert.True(t, snap.Summary.TotalUnrealizedPnLUSD.Equal(perPosition))
	assert.True(t, snap.Summary.TotalUnrealizedPnLUSD.Equal(dec("200")))
	require.NotNil(t, snap.Summary.TotalUnrealizedPnLPct)
	assert.True(t, snap.Summary.TotalUnrealizedPnLPct.Equal(dec("2")))

	assert.True(t, snap.Summary.TotalCostBasisUSD.Equal(dec("200")))
	assert.Equal(t, 1, snap.Summary.UnpricedPositionCount)
	assert.True(t, snap.Summary.UnpricedCostBasisUSD.Equal(dec("100")))
}
