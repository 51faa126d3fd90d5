package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/walletdoctor/solana-pnl-api/internal/cache"
	"github.com/walletdoctor/solana-pnl-api/internal/constants"
	"github.com/walletdoctor/solana-pnl-api/internal/flags"
	"github.com/walletdoctor/solana-pnl-api/internal/metrics"
	"github.com/walletdoctor/solana-pnl-api/internal/models"
	"github.com/walletdoctor/solana-pnl-api/internal/pipeline"
	"github.com/walletdoctor/solana-pnl-api/internal/rpc"
	"github.com/walletdoctor/solana-pnl-api/internal/wallet"
)

// Handlers contains all dependencies for API endpoint handlers.
type Handlers struct {
	Pipeline *pipeline.Pipeline
	Cache    *cache.Cache
	Flags    *flags.Store // nil when no distributed cache is configured
	Logger   *logrus.Logger
	DevMode  bool

	StreamKeepalive   time.Duration // default 30s
	StreamMaxDuration time.Duration // default 10m

	streams streamCounter
}

// fail returns a standardized JSON error response. Dev mode appends the
// underlying error to the message.
func (h *Handlers) fail(c echo.Context, code int, category, msg string, cause error) error {
	if h.DevMode && cause != nil {
		msg = msg + ": " + cause.Error()
	}
	return c.JSON(code, ErrorResponse{Error: category, Message: msg, Code: code})
}

func (h *Handlers) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

// Health reports liveness, endpoint flags and cache statistics.
func (h *Handlers) Health(c echo.Context) error {
	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	stats := cache.Stats{}
	if h.Cache != nil {
		stats = h.Cache.Stats()
		metrics.CacheSize.Set(float64(stats.Size))
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Flags: map[string]bool{
			constants.FlagTradesExport:    h.Flags.Enabled(ctx, constants.FlagTradesExport, true),
			constants.FlagPositionsExport: h.Flags.Enabled(ctx, constants.FlagPositionsExport, true),
			constants.FlagWalletStream:    h.Flags.Enabled(ctx, constants.FlagWalletStream, true),
		},
		Cache: stats,
	})
}

// TradesExport serves the full trade history of a wallet in one of the
// supported schema versions.
func (h *Handlers) TradesExport(c echo.Context) error {
	walletAddr := c.Param("wallet")
	if err := wallet.Validate(walletAddr); err != nil {
		return h.fail(c, http.StatusBadRequest, errValidation, "invalid wallet address", err)
	}

	ctx := c.Request().Context()
	if !h.Flags.Enabled(ctx, constants.FlagTradesExport, true) {
		return h.fail(c, http.StatusNotImplemented, errFeatureDisabled, "trades export is disabled", nil)
	}

	schema := c.QueryParam("schema_version")
	if schema == "" {
		schema = constants.SchemaTradesV071Value
	}
	switch schema {
	case constants.SchemaTradesV070, constants.SchemaTradesV071Value, constants.SchemaTradesV072Compact:
	default:
		return h.fail(c, http.StatusBadRequest, errValidation, "unsupported schema_version", nil)
	}

	payload, err := h.tradesPayload(ctx, c, walletAddr)
	if err != nil {
		return h.pipelineError(c, err)
	}
	if len(payload.Signatures) == 0 {
		return h.fail(c, http.StatusNotFound, errNotFound, "no transaction history for wallet", nil)
	}

	switch schema {
	case constants.SchemaTradesV072Compact:
		return c.JSON(http.StatusOK, buildCompact(walletAddr, payload.Trades))
	case constants.SchemaTradesV070:
		out := make([]any, 0, len(payload.Trades))
		for i := range payload.Trades {
			out = append(out, tradeBaseJSON(&payload.Trades[i]))
		}
		return c.JSON(http.StatusOK, TradesExportResponse{
			Wallet:        walletAddr,
			SchemaVersion: schema,
			Signatures:    payload.Signatures,
			Trades:        out,
		})
	default:
		out := make([]any, 0, len(payload.Trades))
		for i := range payload.Trades {
			out = append(out, tradeValueJSON(&payload.Trades[i]))
		}
		return c.JSON(http.StatusOK, TradesExportResponse{
			Wallet:        walletAddr,
			SchemaVersion: schema,
			Signatures:    payload.Signatures,
			Trades:        out,
		})
	}
}

// tradesPayload serves from cache when possible, triggering a background
// refresh for stale hits, and runs the pipeline inline otherwise.
func (h *Handlers) tradesPayload(ctx context.Context, c echo.Context, walletAddr string) (*pipeline.TradesPayload, error) {
	refresh := c.QueryParam("refresh") == "true"
	key := constants.CacheKeyTradesPrefix + walletAddr

	if !refresh && h.Cache != nil {
		if hit, err := h.Cache.Get(ctx, key); err == nil {
			var payload pipeline.TradesPayload
			if jerr := json.Unmarshal(hit.Entry.Payload, &payload); jerr == nil {
				if hit.Stale {
					metrics.CacheOpsTotal.WithLabelValues("stale_serve").Inc()
					h.refreshWallet(walletAddr)
				} else {
					metrics.CacheOpsTotal.WithLabelValues("hit").Inc()
				}
				return &payload, nil
			}
		} else {
			metrics.CacheOpsTotal.WithLabelValues("miss").Inc()
		}
	}

	result, err := h.Pipeline.Run(ctx, walletAddr, nil)
	if err != nil {
		return nil, err
	}
	return &pipeline.TradesPayload{
		Wallet:     result.Wallet,
		Signatures: result.Signatures,
		Trades:     result.Trades,
	}, nil
}

// PositionsExport serves the open-position snapshot of a wallet.
func (h *Handlers) PositionsExport(c echo.Context) error {
	walletAddr := c.Param("wallet")
	if err := wallet.Validate(walletAddr); err != nil {
		return h.fail(c, http.StatusBadRequest, errValidation, "invalid wallet address", err)
	}

	ctx := c.Request().Context()
	if !h.Flags.Enabled(ctx, constants.FlagPositionsExport, true) {
		return h.fail(c, http.StatusNotImplemented, errFeatureDisabled, "positions export is disabled", nil)
	}

	refresh := c.QueryParam("refresh") == "true"
	key := constants.CacheKeySnapshotPrefix + walletAddr

	if !refresh && h.Cache != nil {
		if hit, err := h.Cache.Get(ctx, key); err == nil {
			var snap models.PortfolioSnapshot
			if jerr := json.Unmarshal(hit.Entry.Payload, &snap); jerr == nil {
				resp := PositionsResponse{PortfolioSnapshot: snap}
				if hit.Stale {
					metrics.CacheOpsTotal.WithLabelValues("stale_serve").Inc()
					resp.Stale = true
					resp.AgeSeconds = hit.AgeSeconds
					h.refreshWallet(walletAddr)
				} else {
					metrics.CacheOpsTotal.WithLabelValues("hit").Inc()
				}
				return c.JSON(http.StatusOK, resp)
			}
		} else {
			metrics.CacheOpsTotal.WithLabelValues("miss").Inc()
		}
	}

	result, err := h.Pipeline.Run(ctx, walletAddr, nil)
	if err != nil {
		return h.pipelineError(c, err)
	}
	if len(result.Signatures) == 0 {
		return h.fail(c, http.StatusNotFound, errNotFound, "no transaction history for wallet", nil)
	}
	return c.JSON(http.StatusOK, PositionsResponse{PortfolioSnapshot: result.Snapshot})
}

// refreshWallet starts one background pipeline run per wallet; concurrent
// triggers for the same wallet attach to the in-flight run.
func (h *Handlers) refreshWallet(walletAddr string) {
	if h.Cache == nil {
		return
	}
	_, started := h.Cache.TriggerRefresh("run:"+walletAddr, func(ctx context.Context) error {
		_, err := h.Pipeline.Run(ctx, walletAddr, nil)
		return err
	})
	if started {
		metrics.CacheRefreshesTotal.WithLabelValues("triggered").Inc()
	} else {
		metrics.CacheRefreshesTotal.WithLabelValues("coalesced").Inc()
	}
}

func (h *Handlers) pipelineError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, pipeline.ErrTimeout):
		return h.fail(c, http.StatusGatewayTimeout, errTimeout, "wallet processing exceeded time budget", err)
	case errors.Is(err, rpc.ErrTimeout):
		return h.fail(c, http.StatusGatewayTimeout, errTimeout, "upstream request timed out", err)
	case errors.Is(err, rpc.ErrRateLimited):
		return h.fail(c, http.StatusBadGateway, errUpstream, "upstream rate limited", err)
	case errors.Is(err, rpc.ErrUpstream5xx):
		return h.fail(c, http.StatusBadGateway, errUpstream, "upstream provider error", err)
	default:
		return h.fail(c, http.StatusInternalServerError, errInternal, "wallet processing failed", err)
	}
}

// FlagsList returns all feature flags.
func (h *Handlers) FlagsList(c echo.Context) error {
	if h.Flags == nil {
		return h.flagsUnavailable(c)
	}
	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, err := h.Flags.List(ctx)
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, errInternal, "failed to list flags", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// FlagsUpsert creates or updates a feature flag.
func (h *Handlers) FlagsUpsert(c echo.Context) error {
	if h.Flags == nil {
		return h.flagsUnavailable(c)
	}
	var req FlagUpsertRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, http.StatusBadRequest, errValidation, "invalid json", err)
	}
	if err := flags.ValidateKey(req.Key); err != nil {
		return h.fail(c, http.StatusBadRequest, errValidation, "invalid flag key", err)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Flags.Upsert(ctx, req.Key, req.Value)
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, errInternal, "failed to upsert flag", err)
	}
	return c.JSON(http.StatusOK, out)
}

// FlagsGet retrieves a feature flag by key.
func (h *Handlers) FlagsGet(c echo.Context) error {
	if h.Flags == nil {
		return h.flagsUnavailable(c)
	}
	key := c.Param("key")
	if err := flags.ValidateKey(key); err != nil {
		return h.fail(c, http.StatusBadRequest, errValidation, "invalid flag key", err)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Flags.Get(ctx, key)
	if err != nil {
		if errors.Is(err, flags.ErrNotFound) {
			return h.fail(c, http.StatusNotFound, errNotFound, "flag not found", nil)
		}
		return h.fail(c, http.StatusInternalServerError, errInternal, "failed to get flag", err)
	}
	return c.JSON(http.StatusOK, out)
}

// FlagsUpdate updates an existing feature flag.
func (h *Handlers) FlagsUpdate(c echo.Context) error {
	if h.Flags == nil {
		return h.flagsUnavailable(c)
	}
	key := c.Param("key")
	if err := flags.ValidateKey(key); err != nil {
		return h.fail(c, http.StatusBadRequest, errValidation, "invalid flag key", err)
	}
	var req FlagUpdateRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, http.StatusBadRequest, errValidation, "invalid json", err)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Flags.Upsert(ctx, key, req.Value)
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, errInternal, "failed to update flag", err)
	}
	return c.JSON(http.StatusOK, out)
}

// FlagsDelete removes a feature flag.
func (h *Handlers) FlagsDelete(c echo.Context) error {
	if h.Flags == nil {
		return h.flagsUnavailable(c)
	}
	key := c.Param("key")
	if err := flags.ValidateKey(key); err != nil {
		return h.fail(c, http.StatusBadRequest, errValidation, "invalid flag key", err)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	if err := h.Flags.Delete(ctx, key); err != nil {
		return h.fail(c, http.StatusInternalServerError, errInternal, "failed to delete flag", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) flagsUnavailable(c echo.Context) error {
	return h.fail(c, http.StatusNotImplemented, errFeatureDisabled, "flag store requires the distributed cache", nil)
}
