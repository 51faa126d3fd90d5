package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// API server settings
	APIAddr        string
	APIKeyRequired bool
	AllowedOrigins []string
	DevMode        bool
	LogLevel       string

	// Upstream RPC settings
	UpstreamRPCURL        string
	UpstreamEnrichedURL   string
	UpstreamRPCKey        string
	UpstreamRPS           int
	MaxConcurrentUpstream int
	UpstreamTimeout       time.Duration

	// Price oracle settings
	ExternalPriceURL string
	ExternalPriceKey string
	PriceHeliusOnly  bool
	PriceSolSpotOnly bool

	// Pipeline settings
	RequestTimeout time.Duration

	// SSE settings
	SSEKeepalive time.Duration
	SSEMaxStream time.Duration

	// Cache settings
	PositionCacheTTL    time.Duration
	PositionCacheMax    int
	DistributedCacheURL string

	// ClickHouse archival (optional)
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string
}

func Load() *Config {
	return &Config{
		// API
		APIAddr:        getEnv("API_ADDR", ":8080"),
		APIKeyRequired: getBoolEnv("API_KEY_REQUIRED", true),
		AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "")),
		DevMode:        getBoolEnv("DEV_MODE", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		// Upstream RPC
		UpstreamRPCURL:        getEnv("UPSTREAM_RPC_URL", "https://mainnet.helius-rpc.com"),
		UpstreamEnrichedURL:   getEnv("UPSTREAM_ENRICHED_URL", "https://api.helius.xyz"),
		UpstreamRPCKey:        getEnv("UPSTREAM_RPC_KEY", ""),
		UpstreamRPS:           getIntEnv("UPSTREAM_RPS", 50),
		MaxConcurrentUpstream: getIntEnv("MAX_CONCURRENT_UPSTREAM", 40),
		UpstreamTimeout:       getSecondsEnv("UPSTREAM_TIMEOUT_SEC", 20*time.Second),

		// Prices
		ExternalPriceURL: getEnv("EXTERNAL_PRICE_URL", ""),
		ExternalPriceKey: getEnv("EXTERNAL_PRICE_KEY", ""),
		PriceHeliusOnly:  getBoolEnv("PRICE_HELIUS_ONLY", false),
		PriceSolSpotOnly: getBoolEnv("PRICE_SOL_SPOT_ONLY", true),

		// Pipeline
		RequestTimeout: getSecondsEnv("REQUEST_TIMEOUT_SEC", 120*time.Second),

		// SSE
		SSEKeepalive: getSecondsEnv("SSE_KEEPALIVE_SEC", 30*time.Second),
		SSEMaxStream: getSecondsEnv("SSE_MAX_STREAM_SEC", 600*time.Second),

		// Cache
		PositionCacheTTL:    getSecondsEnv("POSITION_CACHE_TTL_SEC", 900*time.Second),
		PositionCacheMax:    getIntEnv("POSITION_CACHE_MAX", 2000),
		DistributedCacheURL: getEnv("DISTRIBUTED_CACHE_URL", getEnv("REDIS_ADDR", "")),

		// ClickHouse
		ClickHouseAddr:     getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "walletdoctor"),
		ClickHouseUsername: getEnv("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),
	}
}

// Validate checks the settings a process cannot run without.
func (c *Config) Validate() error {
	if c.UpstreamRPCKey == "" {
		return fmt.Errorf("UPSTREAM_RPC_KEY is required")
	}
	if c.UpstreamRPS <= 0 {
		return fmt.Errorf("UPSTREAM_RPS must be positive")
	}
	if c.MaxConcurrentUpstream <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_UPSTREAM must be positive")
	}
	if c.PositionCacheMax <= 0 {
		return fmt.Errorf("POSITION_CACHE_MAX must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getSecondsEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil && i > 0 {
			return time.Duration(i) * time.Second
		}
	}
	return defaultVal
}

func splitCSV(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
