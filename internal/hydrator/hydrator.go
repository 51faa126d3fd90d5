package hydrator

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/walletdoctor/solana-pnl-api/internal/constants"
	"github.com/walletdoctor/solana-pnl-api/internal/rpc"
)

// TransactionSource is the slice of the RPC client the hydrator needs.
type TransactionSource interface {
	GetTransactions(ctx context.Context, signatures []string) ([]rpc.EnrichedTransaction, error)
}

// Window is one hydrated batch of transactions. Windows preserve the input
// signature order by index regardless of completion time.
type Window struct {
	Index        int
	Signatures   []string
	Transactions []rpc.EnrichedTransaction
	// RateLimited marks a window that exhausted its 429 retries and is
	// surfaced as a partial result for the orchestrator to decide on.
	RateLimited bool
}

// Hydrator batches signatures into fixed-size windows and dispatches them as
// concurrent requests. Concurrency is ultimately bounded by the RPC client's
// shared semaphore; the errgroup limit only caps goroutines per run.
type Hydrator struct {
	source        TransactionSource
	windowSize    int
	maxAttempts   int
	retryInterval time.Duration
	maxParallel   int
	on429         func(int) // counter hook, called per observed 429
	onWindow      func(done, total int)
	logger        *logrus.Logger
}

// Config holds configuration for the transaction hydrator.
type Config struct {
	Source        TransactionSource
	WindowSize    int           // default 100
	MaxAttempts   int           // 429 attempts per window, default 3
	RetryInterval time.Duration // first backoff wait, default 5s (then 10s, 20s)
	MaxParallel   int           // default 40
	On429         func(count int)
	OnWindow      func(done, total int) // progress hook
	Logger        *logrus.Logger
}

// New creates a transaction hydrator.
func New(cfg Config) *Hydrator {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = constants.TransactionBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = constants.HydratorMaxAttempts
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = constants.WindowRetryInterval
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 40
	}
	if cfg.On429 == nil {
		cfg.On429 = func(int) {}
	}
	if cfg.OnWindow == nil {
		cfg.OnWindow = func(int, int) {}
	}
	return &Hydrator{
		source:        cfg.Source,
		windowSize:    cfg.WindowSize,
		maxAttempts:   cfg.MaxAttempts,
		retryInterval: cfg.RetryInterval,
		maxParallel:   cfg.MaxParallel,
		on429:         cfg.On429,
		onWindow:      cfg.OnWindow,
		logger:        cfg.Logger,
	}
}

// Hydrate fetches all signatures in parallel windows and returns the windows
// ordered by index. A window that stays rate limited after every attempt is
// returned empty with RateLimited set; any other upstream failure aborts the
// whole hydration.
func (h *Hydrator) Hydrate(ctx context.Context, signatures []string) ([]Window, error) {
	windows := h.split(signatures)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.maxParallel)

	var done atomic.Int64
	for i := range windows {
		w := &windows[i]
		g.Go(func() error {
			if err := h.fetchWindow(gctx, w); err != nil {
				return err
			}
			h.onWindow(int(done.Add(1)), len(windows))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return windows, nil
}

func (h *Hydrator) split(signatures []string) []Window {
	var windows []Window
	for start := 0; start < len(signatures); start += h.windowSize {
		end := start + h.windowSize
		if end > len(signatures) {
			end = len(signatures)
		}
		windows = append(windows, Window{
			Index:      len(windows),
			Signatures: signatures[start:end],
		})
	}
	return windows
}

// fetchWindow retries the entire window on 429, waiting the exponential
// schedule between attempts. Other errors are permanent.
func (h *Hydrator) fetchWindow(ctx context.Context, w *Window) error {
	operation := func() ([]rpc.EnrichedTransaction, error) {
		txs, err := h.source.GetTransactions(ctx, w.Signatures)
		if err != nil {
			if errors.Is(err, rpc.ErrRateLimited) {
				h.on429(1)
				h.logger.WithField("window", w.Index).Debug("window rate limited, backing off")
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return txs, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = h.retryInterval
	bo.Multiplier = constants.WindowRetryMultiplier
	bo.RandomizationFactor = 0

	txs, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(h.maxAttempts)),
	)
	if err != nil {
		if errors.Is(err, rpc.ErrRateLimited) {
			h.logger.WithFields(logrus.Fields{
				"window":   w.Index,
				"attempts": h.maxAttempts,
			}).Warn("window still rate limited after retries, surfacing partial result")
			w.RateLimited = true
			return nil
		}
		return err
	}

	w.Transactions = txs
	return nil
}
