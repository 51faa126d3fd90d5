package extractor

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/walletdoctor/solana-pnl-api/internal/constants"
	"github.com/walletdoctor/solana-pnl-api/internal/models"
	"github.com/walletdoctor/solana-pnl-api/internal/rpc"
)

// Extractor converts hydrated transactions into canonical trades. It is a
// pure transformation: the same transaction always yields the same trades.
type Extractor struct {
	onFallback func(int) // counter hook for transfer-heuristic extractions
	logger     *logrus.Logger
}

// Config holds configuration for the swap extractor.
type Config struct {
	OnFallback func(count int)
	Logger     *logrus.Logger
}

// New creates a swap extractor.
func New(cfg Config) *Extractor {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.OnFallback == nil {
		cfg.OnFallback = func(int) {}
	}
	return &Extractor{onFallback: cfg.OnFallback, logger: cfg.Logger}
}

// Extract emits zero or more trades for one transaction. Trades inherit
// (slot, block_time) from the transaction and an intra_tx_index reflecting
// emission order.
func (e *Extractor) Extract(wallet string, tx *rpc.EnrichedTransaction) []models.Trade {
	if tx.Events.Swap != nil {
		if trade := e.fromSwapEvent(wallet, tx); trade != nil {
			return []models.Trade{*trade}
		}
		return nil
	}
	if trade := e.fromTokenTransfers(wallet, tx); trade != nil {
		e.onFallback(1)
		return []models.Trade{*trade}
	}
	return nil
}

// fromSwapEvent takes the structured event's legs verbatim.
func (e *Extractor) fromSwapEvent(wallet string, tx *rpc.EnrichedTransaction) *models.Trade {
	event := tx.Events.Swap

	in := sumSwapLegs(event.TokenInputs)   // tokens leaving the wallet
	out := sumSwapLegs(event.TokenOutputs) // tokens reaching the wallet

	// Native SOL legs appear as lamport movements rather than WSOL
	// transfers on some venues; fold them into the pair.
	if event.NativeInput > 0 && len(in) == 0 {
		in[constants.WSOLMint] = leg{amount: lamportsToSOL(event.NativeInput), decimals: 9}
	}
	if event.NativeOutput > 0 && len(out) == 0 {
		out[constants.WSOLMint] = leg{amount: lamportsToSOL(event.NativeOutput), decimals: 9}
	}

	return e.classify(wallet, tx, in, out, models.TxTypeSwap)
}

// fromTokenTransfers reconstructs a swap from raw transfer movements when no
// structured event is present. Valid shapes are {1..3 out, 1 in} and
// {1 out, 1..3 in} after summing same-mint transfers per side; everything
// else (liquidity adds/removes, airdrops, sweeps) is discarded.
func (e *Extractor) fromTokenTransfers(wallet string, tx *rpc.EnrichedTransaction) *models.Trade {
	var outsRaw, insRaw int
	outs := map[string]leg{}
	ins := map[string]leg{}

	for _, tr := range tx.TokenTransfers {
		switch {
		case tr.FromUserAccount == wallet:
			outsRaw++
			addLeg(outs, tr.Mint, tr.TokenAmount, tr.Decimals)
		case tr.ToUserAccount == wallet:
			insRaw++
			addLeg(ins, tr.Mint, tr.TokenAmount, tr.Decimals)
		}
	}

	validShape := (outsRaw >= 1 && outsRaw <= 3 && insRaw == 1) ||
		(outsRaw == 1 && insRaw >= 1 && insRaw <= 3)
	if !validShape {
		return nil
	}
	if len(outs) != 1 || len(ins) != 1 {
		return nil
	}

	return e.classify(wallet, tx, outs, ins, models.TxTypeTransferImplied)
}

// classify builds the canonical trade from one leg per side. Exactly one of
// the two mints must be SOL-or-stable; the other is the primary token. A
// pair with no quote leg has no canonical SOL reference price and is skipped.
func (e *Extractor) classify(wallet string, tx *rpc.EnrichedTransaction, in, out map[string]leg, txType models.TxType) *models.Trade {
	if len(in) != 1 || len(out) != 1 {
		return nil
	}

	inMint, inLeg := single(in)
	outMint, outLeg := single(out)

	if inLeg.amount.Sign() <= 0 || outLeg.amount.Sign() <= 0 {
		return nil
	}
	if inMint == outMint {
		// Wrapped/unwrapped SOL conversion, not a trade.
		return nil
	}

	var primary string
	switch {
	case constants.IsQuoteMint(inMint) && !constants.IsQuoteMint(outMint):
		primary = outMint
	case constants.IsQuoteMint(outMint) && !constants.IsQuoteMint(inMint):
		primary = inMint
	default:
		// Both quote or both non-SOL: no canonical SOL reference price.
		e.logger.WithField("signature", short(tx.Signature)).Debug("skipping pair without quote leg")
		return nil
	}

	action := models.ActionSell
	primaryLeg := inLeg
	if primary == outMint {
		action = models.ActionBuy
		primaryLeg = outLeg
	}

	return &models.Trade{
		Wallet:       wallet,
		Signature:    tx.Signature,
		Slot:         tx.Slot,
		BlockTime:    time.Unix(tx.Timestamp, 0).UTC(),
		IntraTxIndex: 0,
		Action:       action,
		TokenIn: models.TokenAmount{
			Mint:     inMint,
			Symbol:   constants.TokenSymbol(inMint),
			Amount:   inLeg.amount,
			Decimals: inLeg.decimals,
		},
		TokenOut: models.TokenAmount{
			Mint:     outMint,
			Symbol:   constants.TokenSymbol(outMint),
			Amount:   outLeg.amount,
			Decimals: outLeg.decimals,
		},
		PrimaryMint: primary,
		Amount:      primaryLeg.amount,
		DEX:         tx.Source,
		TxType:      txType,
		FeeLamports: tx.Fee,
		Confidence:  models.ConfidenceUnavailable,
	}
}

type leg struct {
	amount   decimal.Decimal
	decimals int
}

func addLeg(m map[string]leg, mint string, amount decimal.Decimal, decimals int) {
	cur := m[mint]
	cur.amount = cur.amount.Add(amount)
	cur.decimals = decimals
	m[mint] = cur
}

func sumSwapLegs(legs []rpc.SwapLeg) map[string]leg {
	m := map[string]leg{}
	for _, l := range legs {
		raw, err := decimal.NewFromString(l.RawAmount.Amount)
		if err != nil {
			continue
		}
		human := raw.Shift(int32(-l.RawAmount.Decimals))
		addLeg(m, l.Mint, human, l.RawAmount.Decimals)
	}
	return m
}

func single(m map[string]leg) (string, leg) {
	for mint, l := range m {
		return mint, l
	}
	return "", leg{}
}

func lamportsToSOL(lamports int64) decimal.Decimal {
	return decimal.New(lamports, 0).Shift(-9)
}

func short(sig string) string {
	if len(sig) > 8 {
		return sig[:8]
	}
	return sig
}
