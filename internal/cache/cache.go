package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/walletdoctor/solana-pnl-api/internal/constants"
	"github.com/walletdoctor/solana-pnl-api/internal/metrics"
)

// ErrMiss is returned when neither tier holds the key.
var ErrMiss = errors.New("cache miss")

// Entry is a self-describing cached value. Entries are immutable after
// insertion; staleness is computed from CachedAt, never by dropping the
// value, so a stale entry is still servable while a refresh runs.
type Entry struct {
	SchemaVersion string          `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
	CachedAt      time.Time       `json:"cached_at"`
	TTLSeconds    int64           `json:"ttl_seconds"`
}

// Age returns how old the entry is.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CachedAt)
}

// Stale reports whether the entry has outlived its TTL.
func (e *Entry) Stale(now time.Time) bool {
	return e.Age(now) > time.Duration(e.TTLSeconds)*time.Second
}

// Hit is the result of a cache read.
type Hit struct {
	Entry      Entry
	Stale      bool
	AgeSeconds int64
}

// Stats are the cache's operational counters.
type Stats struct {
	Hits            uint64 `json:"hits"`
	Misses          uint64 `json:"misses"`
	StaleServes     uint64 `json:"stale_serves"`
	Evictions       uint64 `json:"evictions"`
	RefreshTriggers uint64 `json:"refresh_triggers"`
	RefreshErrors   uint64 `json:"refresh_errors"`
	Size            int    `json:"size"`
	Distributed     bool   `json:"distributed"`
}

// Cache is the two-tier KV cache: a distributed Redis primary with an
// in-process LRU fallback. When Redis is absent the LRU serves alone.
type Cache struct {
	redis  redis.Cmdable // nil => LRU-only mode
	local  *lru.Cache[string, Entry]
	logger *logrus.Logger
	now    func() time.Time

	hits            atomic.Uint64
	misses          atomic.Uint64
	staleServes     atomic.Uint64
	evictions       atomic.Uint64
	refreshTriggers atomic.Uint64
	refreshErrors   atomic.Uint64

	mu       sync.Mutex
	inflight map[string]chan struct{} // per-key refresh markers
}

// Config holds configuration for the cache layer.
type Config struct {
	Redis      redis.Cmdable // optional
	MaxEntries int           // LRU capacity, default 2000
	Logger     *logrus.Logger
	Now        func() time.Time
}

// New creates the two-tier cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 2000
	}

	c := &Cache{
		redis:    cfg.Redis,
		logger:   cfg.Logger,
		now:      cfg.Now,
		inflight: map[string]chan struct{}{},
	}

	local, err := lru.NewWithEvict[string, Entry](cfg.MaxEntries, func(string, Entry) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c.local = local
	return c, nil
}

// Get reads a key from the primary tier, falling back to the LRU. Stale
// entries are returned with the stale flag set; callers decide whether to
// trigger a refresh.
func (c *Cache) Get(ctx context.Context, key string) (*Hit, error) {
	entry, ok := c.read(ctx, key)
	if !ok {
		c.misses.Add(1)
		return nil, ErrMiss
	}

	now := c.now()
	hit := &Hit{
		Entry:      entry,
		Stale:      entry.Stale(now),
		AgeSeconds: int64(entry.Age(now).Seconds()),
	}
	if hit.Stale {
		c.staleServes.Add(1)
	} else {
		c.hits.Add(1)
	}
	return hit, nil
}

func (c *Cache) read(ctx context.Context, key string) (Entry, bool) {
	if c.redis != nil {
		val, err := c.redis.Get(ctx, key).Result()
		switch {
		case err == nil:
			var entry Entry
			if jerr := json.Unmarshal([]byte(val), &entry); jerr == nil {
				return entry, true
			}
			c.logger.WithField("key", key).Warn("corrupt cache entry, falling through")
		case errors.Is(err, redis.Nil):
			// fall through to local tier
		default:
			c.logger.WithError(err).WithField("key", key).Warn("redis read failed, using local tier")
		}
	}
	return c.local.Get(key)
}

// Set writes a key to both tiers. The Redis copy is kept past its logical
// TTL so stale-with-refresh semantics survive process restarts.
func (c *Cache) Set(ctx context.Context, key, schemaVersion string, payload interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal cache payload: %w", err)
	}
	entry := Entry{
		SchemaVersion: schemaVersion,
		Payload:       raw,
		CachedAt:      c.now().UTC(),
		TTLSeconds:    int64(ttl.Seconds()),
	}

	c.local.Add(key, entry)

	if c.redis != nil {
		b, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal cache entry: %w", err)
		}
		if err := c.redis.Set(ctx, key, b, ttl+constants.StalePriceTTL).Err(); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("redis write failed, local tier only")
		}
	}
	return nil
}

// Delete removes a key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.local.Remove(key)
	if c.redis != nil {
		if err := c.redis.Del(ctx, key).Err(); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("redis delete failed")
		}
	}
}

// InvalidatePositions drops every pos:v1:* key for a wallet. Called when a
// pipeline run observes new trades.
func (c *Cache) InvalidatePositions(ctx context.Context, wallet string) {
	c.Delete(ctx, constants.CacheKeySnapshotPrefix+wallet)

	prefix := constants.CacheKeyPositionPrefix + wallet + ":"
	for _, key := range c.local.Keys() {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.local.Remove(key)
		}
	}
	if c.redis != nil {
		iter := c.redis.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
				c.logger.WithError(err).Warn("redis invalidate failed")
			}
		}
	}
}

// TriggerRefresh starts fn in the background unless a refresh for the same
// key is already in flight; duplicate triggers coalesce onto the existing
// task. Returns the channel closed when the refresh settles and whether a
// new task was started.
func (c *Cache) TriggerRefresh(key string, fn func(ctx context.Context) error) (<-chan struct{}, bool) {
	c.mu.Lock()
	if done, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		return done, false
	}
	done := make(chan struct{})
	c.inflight[key] = done
	c.mu.Unlock()

	c.refreshTriggers.Add(1)

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, key)
			c.mu.Unlock()
			close(done)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if err := fn(ctx); err != nil {
			// Stale entry stays in place; the next stale read retries.
			c.refreshErrors.Add(1)
			metrics.CacheRefreshesTotal.WithLabelValues("failed").Inc()
			c.logger.WithError(err).WithField("key", key).Warn("background refresh failed")
		}
	}()
	return done, true
}

// RefreshInFlight reports whether a refresh task currently holds the key.
func (c *Cache) RefreshInFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[key]
	return ok
}

// Stats returns the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		StaleServes:     c.staleServes.Load(),
		Evictions:       c.evictions.Load(),
		RefreshTriggers: c.refreshTriggers.Load(),
		RefreshErrors:   c.refreshErrors.Load(),
		Size:            c.local.Len(),
		Distributed:     c.redis != nil,
	}
}
