package server

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/walletdoctor/solana-pnl-api/internal/constants"
	"github.com/walletdoctor/solana-pnl-api/internal/models"
)

// The compact trade form encodes each trade as a fixed-position array, with
// field names carried once in a top-level field_map. Actions are indexed into
// constants.actions and nulls are empty strings, keeping large-wallet
// responses under client transport limits.

// compactFieldMap is the wire order of every compact trade row.
var compactFieldMap = []string{
	"timestamp",
	"signature",
	"action",
	"token",
	"amount",
	"token_in_mint",
	"token_in_amount",
	"token_out_mint",
	"token_out_amount",
	"price_sol",
	"price_usd",
	"value_usd",
	"pnl_usd",
	"fees_usd",
	"dex",
	"tx_type",
}

// compactActions indexes actions: sell=0, buy=1.
var compactActions = []string{string(models.ActionSell), string(models.ActionBuy)}

// CompactConstants is the shared dictionary of a compact export.
type CompactConstants struct {
	Actions []string `json:"actions"`
	SolMint string   `json:"sol_mint"`
}

// CompactSummary counts rows in a compact export.
type CompactSummary struct {
	Total    int `json:"total"`
	Included int `json:"included"`
}

// CompactResponse is the v0.7.2-compact trades export body.
type CompactResponse struct {
	Wallet        string           `json:"wallet"`
	SchemaVersion string           `json:"schema_version"`
	FieldMap      []string         `json:"field_map"`
	Trades        [][]any          `json:"trades"`
	Constants     CompactConstants `json:"constants"`
	Summary       CompactSummary   `json:"summary"`
}

func buildCompact(wallet string, trades []models.Trade) CompactResponse {
	rows := make([][]any, 0, len(trades))
	for i := range trades {
		rows = append(rows, compactRow(&trades[i]))
	}
	return CompactResponse{
		Wallet:        wallet,
		SchemaVersion: constants.SchemaTradesV072Compact,
		FieldMap:      compactFieldMap,
		Trades:        rows,
		Constants: CompactConstants{
			Actions: compactActions,
			SolMint: constants.WSOLMint,
		},
		Summary: CompactSummary{Total: len(trades), Included: len(rows)},
	}
}

func compactRow(t *models.Trade) []any {
	action := 0
	if t.Action == models.ActionBuy {
		action = 1
	}
	return []any{
		t.BlockTime.UTC().Format(time.RFC3339),
		t.Signature,
		action,
		t.PrimaryToken().Symbol,
		t.Amount.String(),
		t.TokenIn.Mint,
		t.TokenIn.Amount.String(),
		t.TokenOut.Mint,
		t.TokenOut.Amount.String(),
		compactDecimal(t.PriceSOL),
		compactDecimal(t.PriceUSD),
		compactDecimal(t.ValueUSD),
		compactDecimal(t.RealizedPnLUSD),
		compactDecimal(t.FeesUSD),
		t.DEX,
		string(t.TxType),
	}
}

func compactDecimal(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// ExpandTrade decodes one compact row back into a field→value map, resolving
// action indexes and turning empty strings into nils.
func ExpandTrade(fieldMap []string, actions []string, row []any) (map[string]any, error) {
	if len(row) != len(fieldMap) {
		return nil, fmt.Errorf("row has %d fields, field_map has %d", len(row), len(fieldMap))
	}
	out := make(map[string]any, len(fieldMap))
	for i, field := range fieldMap {
		val := row[i]
		if field == "action" {
			idx, ok := actionIndex(val)
			if !ok || idx < 0 || idx >= len(actions) {
				return nil, fmt.Errorf("invalid action index %v", val)
			}
			out[field] = actions[idx]
			continue
		}
		if s, ok := val.(string); ok && s == "" {
			out[field] = nil
			continue
		}
		out[field] = val
	}
	return out, nil
}

// actionIndex accepts both int (in-process) and float64 (decoded JSON).
func actionIndex(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}
