package oracle

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/walletdoctor/solana-pnl-api/internal/cache"
	"github.com/walletdoctor/solana-pnl-api/internal/constants"
	"github.com/walletdoctor/solana-pnl-api/internal/models"
)

// Source labels where a resolved price came from.
const (
	SourceSwap     = "swap"
	SourceSolSpot  = "sol_spot"
	SourceProvider = "provider"
	SourceCache    = "cache"
)

// Price is a resolved USD price with its confidence tier. A nil USD means
// the price is unavailable; that case never raises.
type Price struct {
	USD        *decimal.Decimal
	Confidence models.Confidence
	Source     string
	At         time.Time
}

// Config enumerates the oracle's operating modes.
type Config struct {
	HeliusOnly              bool
	SolSpotOnly             bool
	ExternalProviderEnabled bool
	StaleTTL                time.Duration // default 6h
	SolSpotTTL              time.Duration // default 30s
}

type impliedKey struct {
	Mint   string
	Bucket int64
}

type knownPrice struct {
	usd decimal.Decimal
	at  time.Time
}

// Oracle resolves USD prices per (mint, timestamp), layering swap-implied,
// SOL-spot, external-provider and cached-stale answers.
type Oracle struct {
	cfg      Config
	provider *ProviderClient // may be nil
	shared   *cache.Cache    // may be nil
	now      func() time.Time
	logger   *logrus.Logger

	mu          sync.Mutex
	swapImplied map[impliedKey]knownPrice
	solByBucket map[int64]decimal.Decimal // bucket -> SOL/USD from observed SOL/stable swaps
	lastKnown   map[string]knownPrice     // mint -> most recent computed price
	solSpot     knownPrice
}

// OracleConfig wires the oracle's collaborators. Shared, when set, carries
// SOL-spot and provider prices across runs and processes under price:v1:*.
type OracleConfig struct {
	Config   Config
	Provider *ProviderClient
	Shared   *cache.Cache
	Now      func() time.Time
	Logger   *logrus.Logger
}

// New creates a price oracle.
func New(cfg OracleConfig) *Oracle {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Config.StaleTTL <= 0 {
		cfg.Config.StaleTTL = constants.StalePriceTTL
	}
	if cfg.Config.SolSpotTTL <= 0 {
		cfg.Config.SolSpotTTL = constants.SolSpotTTL
	}
	return &Oracle{
		cfg:         cfg.Config,
		provider:    cfg.Provider,
		shared:      cfg.Shared,
		now:         cfg.Now,
		logger:      cfg.Logger,
		swapImplied: map[impliedKey]knownPrice{},
		solByBucket: map[int64]decimal.Decimal{},
		lastKnown:   map[string]knownPrice{},
	}
}

func bucketOf(t time.Time) int64 {
	return t.Unix() / int64(constants.SlotBucketSeconds)
}

// Observe feeds the swap-implied tables from an extracted trade. SOL/stable
// swaps anchor the SOL/USD table for their bucket; token/stable swaps yield
// a direct USD price; token/SOL swaps are priced once an anchor exists.
func (o *Oracle) Observe(t *models.Trade) {
	quote, token, ok := splitPair(t)
	if !ok {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	bucket := bucketOf(t.BlockTime)

	if token.Mint == constants.WSOLMint && constants.StableMints[quote.Mint] {
		// SOL/stable swap: anchor SOL/USD at this bucket.
		if token.Amount.Sign() > 0 {
			o.solByBucket[bucket] = quote.Amount.Div(token.Amount)
		}
		return
	}

	if token.Amount.Sign() <= 0 {
		return
	}

	if constants.StableMints[quote.Mint] {
		usd := quote.Amount.Div(token.Amount)
		o.swapImplied[impliedKey{token.Mint, bucket}] = knownPrice{usd: usd, at: t.BlockTime}
		o.lastKnown[token.Mint] = knownPrice{usd: usd, at: t.BlockTime}
		return
	}

	// token/SOL pair: derive USD through the bucket's SOL anchor if present.
	if sol, ok := o.solByBucket[bucket]; ok {
		usd := quote.Amount.Div(token.Amount).Mul(sol)
		o.swapImplied[impliedKey{token.Mint, bucket}] = knownPrice{usd: usd, at: t.BlockTime}
		o.lastKnown[token.Mint] = knownPrice{usd: usd, at: t.BlockTime}
	}
}

// splitPair separates a trade into its quote leg and its primary-token leg.
// For SOL/stable swaps the "token" is SOL itself.
func splitPair(t *models.Trade) (quote, token models.TokenAmount, ok bool) {
	in, out := t.TokenIn, t.TokenOut
	switch {
	case constants.StableMints[in.Mint] && !constants.StableMints[out.Mint]:
		return in, out, true
	case constants.StableMints[out.Mint] && !constants.StableMints[in.Mint]:
		return out, in, true
	case in.Mint == constants.WSOLMint:
		return in, out, true
	case out.Mint == constants.WSOLMint:
		return out, in, true
	}
	return models.TokenAmount{}, models.TokenAmount{}, false
}

// SolPriceAt returns the SOL/USD rate for a trade's bucket, falling back to
// the current spot rate. The bool reports whether the value was anchored at
// the bucket (high confidence) rather than spot (est).
func (o *Oracle) SolPriceAt(ctx context.Context, at time.Time) (decimal.Decimal, bool, error) {
	o.mu.Lock()
	sol, anchored := o.solByBucket[bucketOf(at)]
	o.mu.Unlock()
	if anchored {
		return sol, true, nil
	}
	spot, err := o.SolSpot(ctx)
	return spot, false, err
}

// SolSpot returns the current SOL/USD rate, cached for a short TTL.
func (o *Oracle) SolSpot(ctx context.Context) (decimal.Decimal, error) {
	o.mu.Lock()
	if !o.solSpot.at.IsZero() && o.now().Sub(o.solSpot.at) <= o.cfg.SolSpotTTL {
		spot := o.solSpot.usd
		o.mu.Unlock()
		return spot, nil
	}
	o.mu.Unlock()

	// Another process may have refreshed the spot rate already.
	if usd, ok := o.sharedRead(ctx, constants.CacheKeySolSpot); ok {
		o.mu.Lock()
		o.solSpot = knownPrice{usd: usd, at: o.now()}
		o.mu.Unlock()
		return usd, nil
	}

	if o.provider != nil && !o.cfg.HeliusOnly {
		now := o.now()
		prices, err := o.provider.PriceHistory(ctx, []Query{{Mint: constants.WSOLMint, Unix: now.Unix()}})
		if err == nil {
			if usd, ok := prices[QueryKey(constants.WSOLMint, now.Unix())]; ok {
				o.mu.Lock()
				o.solSpot = knownPrice{usd: usd, at: now}
				o.mu.Unlock()
				o.sharedWrite(ctx, constants.CacheKeySolSpot, usd, o.cfg.SolSpotTTL)
				return usd, nil
			}
		} else {
			o.logger.WithError(err).Warn("sol spot fetch failed")
		}
	}

	// Fall back to the freshest anchored bucket if any.
	o.mu.Lock()
	defer o.mu.Unlock()
	var best int64
	var found bool
	for bucket := range o.solByBucket {
		if !found || bucket > best {
			best, found = bucket, true
		}
	}
	if found {
		return o.solByBucket[best], nil
	}
	if !o.solSpot.at.IsZero() {
		return o.solSpot.usd, nil
	}
	return decimal.Zero, ErrNoSolPrice
}

// SetSolSpot primes the spot cache; used by tests and by observed anchors.
func (o *Oracle) SetSolSpot(usd decimal.Decimal) {
	o.mu.Lock()
	o.solSpot = knownPrice{usd: usd, at: o.now()}
	o.mu.Unlock()
}

// Resolve returns the USD price for (mint, at), layered: swap-implied (high)
// → SOL-spot mode (est) → external provider (est) → cached-but-stale (stale)
// → unavailable. Never returns an error for a missing price.
func (o *Oracle) Resolve(ctx context.Context, mint string, at time.Time) Price {
	if constants.StableMints[mint] {
		one := decimal.NewFromInt(1)
		return Price{USD: &one, Confidence: models.ConfidenceHigh, Source: SourceSwap, At: at}
	}
	if mint == constants.WSOLMint {
		if sol, anchored, err := o.SolPriceAt(ctx, at); err == nil {
			conf := models.ConfidenceEst
			src := SourceSolSpot
			if anchored {
				conf = models.ConfidenceHigh
				src = SourceSwap
			}
			return Price{USD: &sol, Confidence: conf, Source: src, At: at}
		}
		return Price{Confidence: models.ConfidenceUnavailable}
	}

	// 1. Swap-implied at the same bucket.
	o.mu.Lock()
	if kp, ok := o.swapImplied[impliedKey{mint, bucketOf(at)}]; ok {
		o.mu.Unlock()
		usd := kp.usd
		return Price{USD: &usd, Confidence: models.ConfidenceHigh, Source: SourceSwap, At: kp.at}
	}
	o.mu.Unlock()

	// 2. Provider price mirrored in the distributed tier by an earlier run.
	priceKey := providerPriceKey(mint, at)
	if usd, ok := o.sharedRead(ctx, priceKey); ok {
		o.mu.Lock()
		o.lastKnown[mint] = knownPrice{usd: usd, at: at}
		o.mu.Unlock()
		return Price{USD: &usd, Confidence: models.ConfidenceEst, Source: SourceProvider, At: at}
	}

	// 3. External provider.
	if o.provider != nil && o.cfg.ExternalProviderEnabled && !o.cfg.HeliusOnly {
		prices, err := o.provider.PriceHistory(ctx, []Query{{Mint: mint, Unix: at.Unix()}})
		if err != nil {
			o.logger.WithError(err).WithField("mint", constants.TokenSymbol(mint)).Debug("provider price lookup failed")
		} else if usd, ok := prices[QueryKey(mint, at.Unix())]; ok {
			o.mu.Lock()
			o.lastKnown[mint] = knownPrice{usd: usd, at: at}
			o.mu.Unlock()
			o.sharedWrite(ctx, priceKey, usd, constants.ProviderPriceCacheTTL)
			return Price{USD: &usd, Confidence: models.ConfidenceEst, Source: SourceProvider, At: at}
		}
	}

	// 4. Any previously computed price younger than the stale TTL.
	o.mu.Lock()
	kp, ok := o.lastKnown[mint]
	o.mu.Unlock()
	if ok && o.now().Sub(kp.at) <= o.cfg.StaleTTL {
		usd := kp.usd
		return Price{USD: &usd, Confidence: models.ConfidenceStale, Source: SourceCache, At: kp.at}
	}

	return Price{Confidence: models.ConfidenceUnavailable}
}

// SolSpotOnly reports whether the oracle values portfolios in SOL-spot mode.
func (o *Oracle) SolSpotOnly() bool {
	return o.cfg.SolSpotOnly
}

// providerPriceKey addresses a provider price at minute resolution, matching
// the provider's own batching granularity.
func providerPriceKey(mint string, at time.Time) string {
	return constants.CacheKeyPricePrefix + mint + ":" + strconv.FormatInt(at.Unix()/60, 10)
}

func (o *Oracle) sharedRead(ctx context.Context, key string) (decimal.Decimal, bool) {
	if o.shared == nil {
		return decimal.Zero, false
	}
	hit, err := o.shared.Get(ctx, key)
	if err != nil || hit.Stale {
		return decimal.Zero, false
	}
	var usd decimal.Decimal
	if err := json.Unmarshal(hit.Entry.Payload, &usd); err != nil {
		o.logger.WithError(err).WithField("key", key).Warn("corrupt shared price entry")
		return decimal.Zero, false
	}
	return usd, true
}

func (o *Oracle) sharedWrite(ctx context.Context, key string, usd decimal.Decimal, ttl time.Duration) {
	if o.shared == nil {
		return
	}
	if err := o.shared.Set(ctx, key, constants.SchemaPriceV1, usd, ttl); err != nil {
		o.logger.WithError(err).WithField("key", key).Debug("shared price write failed")
	}
}
