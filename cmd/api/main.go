package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/walletdoctor/solana-pnl-api/internal/archive"
	"github.com/walletdoctor/solana-pnl-api/internal/cache"
	"github.com/walletdoctor/solana-pnl-api/internal/config"
	"github.com/walletdoctor/solana-pnl-api/internal/flags"
	"github.com/walletdoctor/solana-pnl-api/internal/oracle"
	"github.com/walletdoctor/solana-pnl-api/internal/pipeline"
	"github.com/walletdoctor/solana-pnl-api/internal/rpc"
	"github.com/walletdoctor/solana-pnl-api/internal/server"
)

// loadEnv loads .env from the project root before anything reads os.Getenv.
func loadEnv(logger *logrus.Logger) {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	envPath := filepath.Join(projectRoot, ".env")

	if err := godotenv.Load(envPath); err != nil {
		logger.Warnf("no .env file found at %s, using system environment variables", envPath)
	} else {
		logger.Infof("loaded .env from %s", envPath)
	}
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	loadEnv(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// The distributed cache is optional; without it the LRU tier serves alone
	// and the flag store is disabled.
	var rclient *redis.Client
	var flagStore *flags.Store
	if cfg.DistributedCacheURL != "" {
		rclient = redis.NewClient(&redis.Options{Addr: cfg.DistributedCacheURL})
		if err := rclient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, running with local cache only")
			rclient = nil
		}
	}
	if rclient != nil {
		fs, err := flags.NewStore(rclient)
		if err != nil {
			logger.WithError(err).Fatal("failed to create flags store")
		}
		flagStore = fs
	}

	var redisCmdable redis.Cmdable
	if rclient != nil {
		redisCmdable = rclient
	}
	kv, err := cache.New(cache.Config{
		Redis:      redisCmdable,
		MaxEntries: cfg.PositionCacheMax,
		Logger:     logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create cache")
	}

	rpcClient := rpc.NewClient(rpc.ClientConfig{
		BaseURL:       cfg.UpstreamRPCURL,
		EnrichedURL:   cfg.UpstreamEnrichedURL,
		APIKey:        cfg.UpstreamRPCKey,
		Timeout:       cfg.UpstreamTimeout,
		RPS:           cfg.UpstreamRPS,
		MaxConcurrent: int64(cfg.MaxConcurrentUpstream),
		Logger:        logger,
	})

	var provider *oracle.ProviderClient
	if !cfg.PriceHeliusOnly {
		provider = oracle.NewProviderClient(cfg.ExternalPriceURL, cfg.ExternalPriceKey)
	}

	var archiver pipeline.TradeArchiver
	if cfg.ClickHouseAddr != "" {
		store, err := archive.NewStore(ctx, archive.Options{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
			Logger:   logger,
		})
		if err != nil {
			logger.WithError(err).Warn("clickhouse unavailable, trade archival disabled")
		} else {
			archiver = store
			defer func() {
				_ = store.Close()
			}()
		}
	}

	pipe := pipeline.New(pipeline.Config{
		Signatures:   rpcClient,
		Transactions: rpcClient,
		Cache:        kv,
		Archive:      archiver,
		Provider:     provider,
		Oracle: oracle.Config{
			HeliusOnly:              cfg.PriceHeliusOnly,
			SolSpotOnly:             cfg.PriceSolSpotOnly,
			ExternalProviderEnabled: provider != nil,
		},
		Timeout:  cfg.RequestTimeout,
		CacheTTL: cfg.PositionCacheTTL,
		Logger:   logger,
	})

	h := &server.Handlers{
		Pipeline:          pipe,
		Cache:             kv,
		Flags:             flagStore,
		Logger:            logger,
		StreamKeepalive:   cfg.SSEKeepalive,
		StreamMaxDuration: cfg.SSEMaxStream,
	}

	srv, err := server.NewServer(server.ServerDeps{
		Handlers: h,
		Config: server.ServerConfig{
			Addr:           cfg.APIAddr,
			DevMode:        cfg.DevMode,
			APIKeyRequired: cfg.APIKeyRequired,
			AllowedOrigins: cfg.AllowedOrigins,
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create http server")
	}

	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
		_ = srv.Shutdown(context.Background())
	}()

	logger.WithField("addr", cfg.APIAddr).Info("api server starting")
	if err := srv.Start(); err != nil {
		if strings.Contains(err.Error(), "Server closed") {
			return
		}
		logger.WithError(err).Fatal("api server failed")
	}

	if err := srv.WaitClosed(context.Background()); err != nil {
		fmt.Println(err)
	}
}
