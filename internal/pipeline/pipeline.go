// Package pipeline orchestrates one wallet run: signature paging, transaction
// hydration, trade extraction, price enrichment and P&L computation, with
// progress events along the way.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/walletdoctor/solana-pnl-api/internal/cache"
	"github.com/walletdoctor/solana-pnl-api/internal/constants"
	"github.com/walletdoctor/solana-pnl-api/internal/extractor"
	"github.com/walletdoctor/solana-pnl-api/internal/hydrator"
	"github.com/walletdoctor/solana-pnl-api/internal/metrics"
	"github.com/walletdoctor/solana-pnl-api/internal/models"
	"github.com/walletdoctor/solana-pnl-api/internal/oracle"
	"github.com/walletdoctor/solana-pnl-api/internal/pager"
	"github.com/walletdoctor/solana-pnl-api/internal/pnl"
	"github.com/walletdoctor/solana-pnl-api/internal/rpc"
	"github.com/walletdoctor/solana-pnl-api/internal/wallet"
)

// ErrTimeout marks a run that exceeded its wall-clock budget.
var ErrTimeout = errors.New("pipeline wall-clock budget exceeded")

// TradeArchiver persists completed runs; archival is best effort.
type TradeArchiver interface {
	InsertTrades(ctx context.Context, wallet string, trades []models.Trade) error
}

// Config holds configuration for the wallet pipeline.
type Config struct {
	Signatures    pager.SignatureSource
	Transactions  hydrator.TransactionSource
	Cache         *cache.Cache
	Archive       TradeArchiver          // optional
	Provider      *oracle.ProviderClient // optional
	Oracle        oracle.Config
	Timeout       time.Duration // default 120s
	MaxPages      int           // 0 = unbounded
	CacheTTL      time.Duration // default 900s
	RetryInterval time.Duration // hydrator backoff start, default 5s
	Logger        *logrus.Logger
	Now           func() time.Time
}

// Pipeline runs wallet ingestions. It is safe for concurrent use; each run
// gets its own extraction state and price oracle.
type Pipeline struct {
	cfg    Config
	logger *logrus.Logger
	now    func() time.Time
}

// New creates a wallet pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 900 * time.Second
	}
	return &Pipeline{cfg: cfg, logger: cfg.Logger, now: cfg.Now}
}

// run tracks one execution's mutable state.
type run struct {
	p      *Pipeline
	wallet string

	mu      sync.Mutex
	sink    Sink
	percent int // high-water mark, keeps percent monotonic

	signatures   int
	transactions int
	trades       int
}

func (r *run) emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink(ev)
}

// progress emits a progress event at the given fraction of the given phase.
func (r *run) progress(phase Phase, frac float64, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := 0
	weight := 0
	for _, pw := range phaseOrder {
		if pw.phase == phase {
			weight = pw.weight
			break
		}
		base += pw.weight
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	pct := base + int(frac*float64(weight))
	if pct < r.percent {
		pct = r.percent
	}
	r.percent = pct

	r.sink(Event{Kind: KindProgress, Progress: &Progress{
		Phase:        phase,
		Percent:      pct,
		Signatures:   r.signatures,
		Transactions: r.transactions,
		Trades:       r.trades,
		Message:      msg,
	}})
}

// Run executes the full pipeline for one wallet. Events are delivered to sink
// in order; the cache is written only when the run completes.
func (p *Pipeline) Run(ctx context.Context, walletAddr string, sink Sink) (*Result, error) {
	if sink == nil {
		sink = func(Event) {}
	}
	r := &run{p: p, wallet: walletAddr, sink: sink}
	start := p.now()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	metrics.InFlightPipelines.Inc()
	defer metrics.InFlightPipelines.Dec()

	result, err := p.execute(ctx, r)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("wallet %s after %s: %w", wallet.Redact(walletAddr), p.now().Sub(start), ErrTimeout)
		}
		r.emit(Event{Kind: KindError, Err: err})
		p.logger.WithError(err).WithField("wallet", wallet.Redact(walletAddr)).Warn("pipeline run failed")
		return nil, err
	}

	result.Elapsed = p.now().Sub(start)
	r.emit(Event{Kind: KindComplete, Result: result})
	p.logger.WithFields(logrus.Fields{
		"wallet":     wallet.Redact(walletAddr),
		"signatures": len(result.Signatures),
		"trades":     len(result.Trades),
		"positions":  len(result.Snapshot.Positions),
		"elapsed":    result.Elapsed,
	}).Info("pipeline run complete")
	return result, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run) (*Result, error) {
	sigs, err := p.fetchSignatures(ctx, r)
	if err != nil {
		return nil, err
	}

	windows, rateLimited, err := p.fetchTransactions(ctx, r, sigs)
	if err != nil {
		return nil, err
	}

	trades := p.extractTrades(r, windows)

	o := oracle.New(oracle.OracleConfig{
		Config:   p.cfg.Oracle,
		Provider: p.cfg.Provider,
		Shared:   p.cfg.Cache,
		Now:      p.now,
		Logger:   p.logger,
	})
	o.EnrichTrades(ctx, trades)
	r.progress(PhaseExtractTrades, 1, "")

	positions, consistency := p.computePositions(r, trades)
	snapshot := p.computeUnrealized(ctx, r, o, positions, consistency)

	sigStrings := make([]string, len(sigs))
	for i, s := range sigs {
		sigStrings[i] = s.Signature
	}

	result := &Result{
		Wallet:             r.wallet,
		Signatures:         sigStrings,
		Trades:             trades,
		Snapshot:           snapshot,
		RateLimitedWindows: rateLimited,
	}
	p.writeCache(ctx, result)
	p.archiveTrades(result)
	return result, nil
}

func (p *Pipeline) fetchSignatures(ctx context.Context, r *run) ([]rpc.SignatureInfo, error) {
	phaseStart := p.now()
	pg := pager.New(pager.Config{
		Source:   p.cfg.Signatures,
		MaxPages: p.cfg.MaxPages,
		Logger:   p.logger,
	})

	var sigs []rpc.SignatureInfo
	err := pg.Walk(ctx, r.wallet, func(page []rpc.SignatureInfo) error {
		for _, s := range page {
			if s.Err != nil {
				// Failed transaction: nothing settled on chain.
				continue
			}
			sigs = append(sigs, s)
		}
		r.mu.Lock()
		r.signatures = len(sigs)
		r.mu.Unlock()
		r.progress(PhaseFetchSignatures, 0, "paging signature history")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch signatures: %w", err)
	}

	metrics.PhaseDuration.WithLabelValues(string(PhaseFetchSignatures)).Observe(p.now().Sub(phaseStart).Seconds())
	r.progress(PhaseFetchSignatures, 1, "")
	return sigs, nil
}

func (p *Pipeline) fetchTransactions(ctx context.Context, r *run, sigs []rpc.SignatureInfo) ([]hydrator.Window, int, error) {
	phaseStart := p.now()

	sigStrings := make([]string, len(sigs))
	for i, s := range sigs {
		sigStrings[i] = s.Signature
	}

	h := hydrator.New(hydrator.Config{
		Source:        p.cfg.Transactions,
		RetryInterval: p.cfg.RetryInterval,
		On429: func(n int) {
			metrics.UpstreamRateLimitsTotal.Add(float64(n))
		},
		OnWindow: func(done, total int) {
			r.mu.Lock()
			r.transactions = done * constants.TransactionBatchSize
			r.mu.Unlock()
			r.progress(PhaseFetchTransactions, float64(done)/float64(total), "")
		},
		Logger: p.logger,
	})

	windows, err := h.Hydrate(ctx, sigStrings)
	if err != nil {
		return nil, 0, fmt.Errorf("hydrate transactions: %w", err)
	}

	total := 0
	rateLimited := 0
	for _, w := range windows {
		total += len(w.Transactions)
		if w.RateLimited {
			rateLimited++
		}
	}
	r.mu.Lock()
	r.transactions = total
	r.mu.Unlock()

	metrics.PhaseDuration.WithLabelValues(string(PhaseFetchTransactions)).Observe(p.now().Sub(phaseStart).Seconds())
	r.progress(PhaseFetchTransactions, 1, "")
	return windows, rateLimited, nil
}

// extractTrades walks windows in index order so canonical trade order is
// stable no matter how hydration interleaved. Each window's trades are
// emitted as one batch event.
func (p *Pipeline) extractTrades(r *run, windows []hydrator.Window) []models.Trade {
	phaseStart := p.now()
	ex := extractor.New(extractor.Config{
		OnFallback: func(n int) {
			metrics.ExtractorFallbacksTotal.Add(float64(n))
		},
		Logger: p.logger,
	})

	var batches [][]models.Trade
	for i := range windows {
		var batch []models.Trade
		for j := range windows[i].Transactions {
			batch = append(batch, ex.Extract(r.wallet, &windows[i].Transactions[j])...)
		}
		if len(batch) > 0 {
			batches = append(batches, batch)
		}
		if len(windows) > 0 {
			r.progress(PhaseExtractTrades, float64(i+1)/float64(len(windows))*0.9, "")
		}
	}

	// Batches are emitted after all windows are walked so the final one can
	// be marked as such for streaming clients.
	var trades []models.Trade
	for i, batch := range batches {
		trades = append(trades, batch...)
		r.mu.Lock()
		r.trades = len(trades)
		r.mu.Unlock()
		r.emit(Event{Kind: KindTrades, Trades: batch, LastBatch: i == len(batches)-1})
	}

	models.SortTrades(trades)
	metrics.PhaseDuration.WithLabelValues(string(PhaseExtractTrades)).Observe(p.now().Sub(phaseStart).Seconds())
	return trades
}

func (p *Pipeline) computePositions(r *run, trades []models.Trade) ([]models.Position, models.PositionConsistency) {
	phaseStart := p.now()
	positions, consistency := pnl.Run(r.wallet, trades)
	metrics.PhaseDuration.WithLabelValues(string(PhaseComputePositions)).Observe(p.now().Sub(phaseStart).Seconds())
	r.progress(PhaseComputePositions, 1, "")
	return positions, consistency
}

func (p *Pipeline) computeUnrealized(ctx context.Context, r *run, o *oracle.Oracle, positions []models.Position, consistency models.PositionConsistency) models.PortfolioSnapshot {
	phaseStart := p.now()
	calc := pnl.NewCalculator(o, p.logger)
	snapshot := calc.Snapshot(ctx, r.wallet, positions, consistency)
	metrics.PhaseDuration.WithLabelValues(string(PhaseComputeUnrealized)).Observe(p.now().Sub(phaseStart).Seconds())
	r.progress(PhaseComputeUnrealized, 1, "")
	return snapshot
}

// writeCache persists a successful run and invalidates stale position keys
// when the trade history changed.
func (p *Pipeline) writeCache(ctx context.Context, result *Result) {
	if p.cfg.Cache == nil {
		return
	}

	tradesKey := constants.CacheKeyTradesPrefix + result.Wallet
	if p.historyChanged(ctx, tradesKey, result) {
		p.cfg.Cache.InvalidatePositions(ctx, result.Wallet)
	}

	payload := TradesPayload{
		Wallet:     result.Wallet,
		Signatures: result.Signatures,
		Trades:     result.Trades,
	}
	if err := p.cfg.Cache.Set(ctx, tradesKey, constants.SchemaTradesV071Value, payload, p.cfg.CacheTTL); err != nil {
		p.logger.WithError(err).Warn("trades cache write failed")
	}
	snapshotKey := constants.CacheKeySnapshotPrefix + result.Wallet
	if err := p.cfg.Cache.Set(ctx, snapshotKey, constants.SchemaPositionsV080, result.Snapshot, p.cfg.CacheTTL); err != nil {
		p.logger.WithError(err).Warn("snapshot cache write failed")
	}
	for i := range result.Snapshot.Positions {
		pos := &result.Snapshot.Positions[i]
		key := constants.CacheKeyPositionPrefix + result.Wallet + ":" + pos.Mint
		if err := p.cfg.Cache.Set(ctx, key, constants.SchemaPositionsV080, pos, p.cfg.CacheTTL); err != nil {
			p.logger.WithError(err).WithField("mint", constants.TokenSymbol(pos.Mint)).Warn("position cache write failed")
		}
	}
	metrics.CacheSize.Set(float64(p.cfg.Cache.Stats().Size))
}

func (p *Pipeline) historyChanged(ctx context.Context, tradesKey string, result *Result) bool {
	hit, err := p.cfg.Cache.Get(ctx, tradesKey)
	if err != nil {
		return true
	}
	var prev TradesPayload
	if err := json.Unmarshal(hit.Entry.Payload, &prev); err != nil {
		return true
	}
	if len(prev.Signatures) != len(result.Signatures) {
		return true
	}
	// Signatures are newest first; same head and same count means no new
	// settled transactions.
	return len(result.Signatures) > 0 && prev.Signatures[0] != result.Signatures[0]
}

func (p *Pipeline) archiveTrades(result *Result) {
	if p.cfg.Archive == nil || len(result.Trades) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.cfg.Archive.InsertTrades(ctx, result.Wallet, result.Trades); err != nil {
			p.logger.WithError(err).Warn("trade archival failed")
		}
	}()
}
