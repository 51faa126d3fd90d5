package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletdoctor/solana-pnl-api/internal/constants"
	"github.com/walletdoctor/solana-pnl-api/internal/models"
)

func compactTestTrades() []models.Trade {
	price := decimal.RequireFromString("0.0003")
	value := decimal.NewFromInt(300)
	sol := decimal.RequireFromString("0.000002")
	return []models.Trade{
		{
			Wallet:      testWalletAddr,
			Signature:   "sigA",
			BlockTime:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
			Action:      models.ActionBuy,
			TokenIn:     models.TokenAmount{Mint: constants.USDCMint, Symbol: "USDC", Amount: value},
			TokenOut:    models.TokenAmount{Mint: bonkMintAddr, Symbol: "BONK", Amount: decimal.NewFromInt(1000000)},
			PrimaryMint: bonkMintAddr,
			Amount:      decimal.NewFromInt(1000000),
			DEX:         "RAYDIUM",
			TxType:      models.TxTypeSwap,
			PriceSOL:    &sol,
			PriceUSD:    &price,
			ValueUSD:    &value,
			Priced:      true,
		},
		{
			Wallet:      testWalletAddr,
			Signature:   "sigB",
			BlockTime:   time.Date(2024, 6, 1, 12, 5, 0, 0, time.UTC),
			Action:      models.ActionSell,
			TokenIn:     models.TokenAmount{Mint: bonkMintAddr, Symbol: "BONK", Amount: decimal.NewFromInt(500000)},
			TokenOut:    models.TokenAmount{Mint: constants.WSOLMint, Symbol: "SOL", Amount: decimal.NewFromInt(1)},
			PrimaryMint: bonkMintAddr,
			Amount:      decimal.NewFromInt(500000),
			DEX:         "ORCA",
			TxType:      models.TxTypeSwap,
		},
	}
}

// Every compact row must expand back to the values of the full form, with
// action indexes resolved and empty strings turned into nulls.
func TestCompactRoundTrip(t *testing.T) {
	trades := compactTestTrades()
	resp := buildCompact(testWalletAddr, trades)

	assert.Equal(t, constants.SchemaTradesV072Compact, resp.SchemaVersion)
	assert.Equal(t, 2, resp.Summary.Total)
	assert.Equal(t, 2, resp.Summary.Included)
	assert.Equal(t, []string{"sell", "buy"}, resp.Constants.Actions)
	require.Len(t, resp.Trades, 2)

	// Decode through JSON, the way a client sees it.
	b, err := json.Marshal(resp)
	require.NoError(t, err)
	var decoded CompactResponse
	require.NoError(t, json.Unmarshal(b, &decoded))

	row, err := ExpandTrade(decoded.FieldMap, decoded.Constants.Actions, decoded.Trades[0])
	require.NoError(t, err)
	assert.Equal(t, "buy", row["action"])
	assert.Equal(t, "sigA", row["signature"])
	assert.Equal(t, "2024-06-01T12:00:00Z", row["timestamp"])
	assert.Equal(t, "BONK", row["token"])
	assert.Equal(t, "1000000", row["amount"])
	assert.Equal(t, "0.0003", row["price_usd"])
	assert.Equal(t, "300", row["value_usd"])
	assert.Nil(t, row["pnl_usd"])
	assert.Nil(t, row["fees_usd"])

	row, err = ExpandTrade(decoded.FieldMap, decoded.Constants.Actions, decoded.Trades[1])
	require.NoError(t, err)
	assert.Equal(t, "sell", row["action"])
	assert.Nil(t, row["price_usd"])
	assert.Nil(t, row["value_usd"])
	assert.Equal(t, constants.WSOLMint, row["token_out_mint"])
}

func TestExpandTradeRejectsShortRow(t *testing.T) {
	_, err := ExpandTrade(compactFieldMap, compactActions, []any{"only", "three", "fields"})
	assert.Error(t, err)
}

func TestExpandTradeRejectsBadActionIndex(t *testing.T) {
	trades := compactTestTrades()
	resp := buildCompact(testWalletAddr, trades[:1])
	row := resp.Trades[0]
	row[2] = 7
	_, err := ExpandTrade(resp.FieldMap, resp.Constants.Actions, row)
	assert.Error(t, err)
}
