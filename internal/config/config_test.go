package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.APIAddr)
	assert.True(t, cfg.APIKeyRequired)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 50, cfg.UpstreamRPS)
	assert.Equal(t, 40, cfg.MaxConcurrentUpstream)
	assert.Equal(t, 120*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.SSEKeepalive)
	assert.Equal(t, 600*time.Second, cfg.SSEMaxStream)
	assert.Equal(t, 900*time.Second, cfg.PositionCacheTTL)
	assert.Equal(t, 2000, cfg.PositionCacheMax)
	assert.False(t, cfg.PriceHeliusOnly)
	assert.True(t, cfg.PriceSolSpotOnly)
	assert.Equal(t, "walletdoctor", cfg.ClickHouseDatabase)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9090")
	t.Setenv("API_KEY_REQUIRED", "false")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("UPSTREAM_RPS", "10")
	t.Setenv("REQUEST_TIMEOUT_SEC", "30")
	t.Setenv("PRICE_SOL_SPOT_ONLY", "false")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.APIAddr)
	assert.False(t, cfg.APIKeyRequired)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 10, cfg.UpstreamRPS)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.PriceSolSpotOnly)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("UPSTREAM_RPS", "not-a-number")
	t.Setenv("API_KEY_REQUIRED", "maybe")
	t.Setenv("SSE_KEEPALIVE_SEC", "-5")

	cfg := Load()
	assert.Equal(t, 50, cfg.UpstreamRPS)
	assert.True(t, cfg.APIKeyRequired)
	assert.Equal(t, 30*time.Second, cfg.SSEKeepalive)
}

func TestDistributedCacheURLFallsBackToRedisAddr(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	cfg := Load()
	assert.Equal(t, "localhost:6379", cfg.DistributedCacheURL)

	t.Setenv("DISTRIBUTED_CACHE_URL", "redis-primary:6379")
	cfg = Load()
	assert.Equal(t, "redis-primary:6379", cfg.DistributedCacheURL)
}

func TestValidateRequiresUpstreamKey(t *testing.T) {
	cfg := Load()
	require.Error(t, cfg.Validate())

	t.Setenv("UPSTREAM_RPC_KEY", "helius-key")
	cfg = Load()
	require.NoError(t, cfg.Validate())

	cfg.UpstreamRPS = 0
	assert.Error(t, cfg.Validate())
}
