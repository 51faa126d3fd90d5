package oracle

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/walletdoctor/solana-pnl-api/internal/constants"
	"github.com/walletdoctor/solana-pnl-api/internal/models"
)

// ErrNoSolPrice means no SOL/USD rate could be determined from any layer.
var ErrNoSolPrice = errors.New("no SOL/USD price available")

// EnrichTrades fills price_sol, price_usd, value_usd, fees_usd, priced and
// confidence on every trade. Trades must already be in canonical order. The
// first pass observes every trade so SOL/stable anchors from late trades can
// price early ones in the same bucket.
func (o *Oracle) EnrichTrades(ctx context.Context, trades []models.Trade) {
	for i := range trades {
		o.Observe(&trades[i])
	}
	for i := range trades {
		o.enrichTrade(ctx, &trades[i])
	}
}

func (o *Oracle) enrichTrade(ctx context.Context, t *models.Trade) {
	quote := t.TokenIn
	if t.TokenIn.Mint == t.PrimaryMint {
		quote = t.TokenOut
	}

	if t.Amount.Sign() <= 0 {
		t.Confidence = models.ConfidenceUnavailable
		return
	}

	switch {
	case constants.StableMints[quote.Mint]:
		// Stable counter leg: USD price is directly swap-implied.
		usd := quote.Amount.Div(t.Amount)
		t.PriceUSD = &usd
		t.Confidence = models.ConfidenceHigh
		if sol, _, err := o.SolPriceAt(ctx, t.BlockTime); err == nil && sol.Sign() > 0 {
			priceSOL := usd.Div(sol)
			t.PriceSOL = &priceSOL
		}

	case quote.Mint == constants.WSOLMint:
		priceSOL := quote.Amount.Div(t.Amount)
		t.PriceSOL = &priceSOL
		sol, anchored, err := o.SolPriceAt(ctx, t.BlockTime)
		if err != nil {
			// SOL price is unknown: fall through to the layered resolver.
			res := o.Resolve(ctx, t.PrimaryMint, t.BlockTime)
			t.PriceUSD = res.USD
			t.Confidence = res.Confidence
		} else {
			usd := priceSOL.Mul(sol)
			t.PriceUSD = &usd
			if anchored {
				t.Confidence = models.ConfidenceHigh
			} else {
				t.Confidence = models.ConfidenceEst
			}
		}

	default:
		res := o.Resolve(ctx, t.PrimaryMint, t.BlockTime)
		t.PriceUSD = res.USD
		t.Confidence = res.Confidence
	}

	if t.PriceUSD != nil {
		value := t.PriceUSD.Mul(t.Amount)
		t.ValueUSD = &value
		t.Priced = true
	} else {
		t.Priced = false
	}

	if t.FeeLamports > 0 {
		if sol, _, err := o.SolPriceAt(ctx, t.BlockTime); err == nil {
			fees := decimal.New(int64(t.FeeLamports), 0).
				Div(decimal.NewFromInt(constants.LamportsPerSOL)).
				Mul(sol)
			t.FeesUSD = &fees
		}
	}
}
