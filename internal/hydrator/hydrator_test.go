package hydrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletdoctor/solana-pnl-api/internal/rpc"
)

// fakeTxSource echoes one transaction per signature, optionally failing the
// first N calls per window with a scripted error.
type fakeTxSource struct {
	mu       sync.Mutex
	calls    map[string]int
	failures int
	failWith error
}

func newFakeTxSource(failures int, failWith error) *fakeTxSource {
	return &fakeTxSource{calls: map[string]int{}, failures: failures, failWith: failWith}
}

func (f *fakeTxSource) GetTransactions(ctx context.Context, signatures []string) ([]rpc.EnrichedTransaction, error) {
	f.mu.Lock()
	key := signatures[0]
	f.calls[key]++
	n := f.calls[key]
	f.mu.Unlock()

	if n <= f.failures {
		return nil, f.failWith
	}

	out := make([]rpc.EnrichedTransaction, len(signatures))
	for i, sig := range signatures {
		out[i] = rpc.EnrichedTransaction{Signature: sig}
	}
	return out, nil
}

func sigList(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("sig-%d", i)
	}
	return out
}

func TestHydrateReturnsWindowsInIndexOrder(t *testing.T) {
	src := newFakeTxSource(0, nil)
	h := New(Config{Source: src, WindowSize: 100, RetryInterval: time.Millisecond})

	windows, err := h.Hydrate(context.Background(), sigList(250))
	require.NoError(t, err)
	require.Len(t, windows, 3)

	assert.Equal(t, 0, windows[0].Index)
	assert.Equal(t, "sig-0", windows[0].Signatures[0])
	assert.Len(t, windows[0].Transactions, 100)
	assert.Len(t, windows[2].Transactions, 50)
	assert.Equal(t, "sig-200", windows[2].Transactions[0].Signature)
}

func TestHydrateRetriesWholeWindowOnRateLimit(t *testing.T) {
	src := newFakeTxSource(2, rpc.ErrRateLimited)
	var rateLimitHits int
	h := New(Config{
		Source:        src,
		WindowSize:    10,
		RetryInterval: time.Millisecond,
		On429:         func(n int) { rateLimitHits += n },
	})

	windows, err := h.Hydrate(context.Background(), sigList(10))
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.False(t, windows[0].RateLimited)
	assert.Len(t, windows[0].Transactions, 10)
	assert.Equal(t, 2, rateLimitHits)
	assert.Equal(t, 3, src.calls["sig-0"])
}

func TestHydrateSurfacesExhaustedWindowAsPartial(t *testing.T) {
	src := newFakeTxSource(99, rpc.ErrRateLimited)
	h := New(Config{Source: src, WindowSize: 10, MaxAttempts: 3, RetryInterval: time.Millisecond})

	windows, err := h.Hydrate(context.Background(), sigList(10))
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.True(t, windows[0].RateLimited)
	assert.Empty(t, windows[0].Transactions)
	assert.Equal(t, 3, src.calls["sig-0"])
}

func TestHydrateAbortsOnPermanentError(t *testing.T) {
	boom := errors.New("deserialize failed")
	src := newFakeTxSource(99, boom)
	h := New(Config{Source: src, WindowSize: 10, RetryInterval: time.Millisecond})

	_, err := h.Hydrate(context.Background(), sigList(10))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, src.calls["sig-0"])
}

func TestHydrateReportsWindowProgress(t *testing.T) {
	src := newFakeTxSource(0, nil)
	var mu sync.Mutex
	var seenTotal int
	var doneCount int
	h := New(Config{
		Source:        src,
		WindowSize:    10,
		RetryInterval: time.Millisecond,
		OnWindow: func(done, total int) {
			mu.Lock()
			doneCount++
			seenTotal = total
			mu.Unlock()
		},
	})

	_, err := h.Hydrate(context.Background(), sigList(45))
	require.NoError(t, err)
	assert.Equal(t, 5, doneCount)
	assert.Equal(t, 5, seenTotal)
}

func TestHydrateEmptyInput(t *testing.T) {
	h := New(Config{Source: newFakeTxSource(0, nil)})
	windows, err := h.Hydrate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, windows)
}
