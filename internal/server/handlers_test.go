package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletdoctor/solana-pnl-api/internal/cache"
	"github.com/walletdoctor/solana-pnl-api/internal/constants"
	"github.com/walletdoctor/solana-pnl-api/internal/models"
	"github.com/walletdoctor/solana-pnl-api/internal/pipeline"
	"github.com/walletdoctor/solana-pnl-api/internal/rpc"
)

const (
	testWalletAddr = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	bonkMintAddr   = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	testAPIKey     = "wd_abcdefghijklmnopqrstuvwxyz123456"
)

// fakeSigSource serves one fixed page of signatures.
type fakeSigSource struct {
	sigs  []rpc.SignatureInfo
	calls atomic.Int64
}

func (f *fakeSigSource) GetSignatures(ctx context.Context, wallet, before string, limit int) ([]rpc.SignatureInfo, *string, error) {
	f.calls.Add(1)
	return f.sigs, nil, nil
}

// fakeTxSource serves one swap transaction per requested signature.
type fakeTxSource struct{}

func (fakeTxSource) GetTransactions(ctx context.Context, signatures []string) ([]rpc.EnrichedTransaction, error) {
	out := make([]rpc.EnrichedTransaction, len(signatures))
	for i, sig := range signatures {
		out[i] = rpc.EnrichedTransaction{
			Signature: sig,
			Slot:      1000,
			Timestamp: 1700000000,
			Source:    "RAYDIUM",
			Events: rpc.TransactionEvents{Swap: &rpc.SwapEvent{
				TokenInputs: []rpc.SwapLeg{{
					Mint:      constants.USDCMint,
					RawAmount: rpc.RawTokenAmount{Amount: "300000000", Decimals: 6},
				}},
				TokenOutputs: []rpc.SwapLeg{{
					Mint:      bonkMintAddr,
					RawAmount: rpc.RawTokenAmount{Amount: "100000000000", Decimals: 5},
				}},
			}},
		}
	}
	return out, nil
}

type testEnv struct {
	echo  *echo.Echo
	cache *cache.Cache
	now   *time.Time
	sigs  *fakeSigSource
}

func newTestEnv(t *testing.T, sigs []rpc.SignatureInfo) *testEnv {
	t.Helper()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	env := &testEnv{now: &now, sigs: &fakeSigSource{sigs: sigs}}

	c, err := cache.New(cache.Config{
		MaxEntries: 100,
		Now:        func() time.Time { return *env.now },
	})
	require.NoError(t, err)
	env.cache = c

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	p := pipeline.New(pipeline.Config{
		Signatures:    env.sigs,
		Transactions:  fakeTxSource{},
		Cache:         c,
		RetryInterval: time.Millisecond,
		Logger:        logger,
	})

	h := &Handlers{
		Pipeline: p,
		Cache:    c,
		Logger:   logger,
	}

	e := echo.New()
	RegisterRoutes(e, h, ServerConfig{APIKeyRequired: true})
	env.echo = e
	return env
}

func (env *testEnv) request(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Api-Key", testAPIKey)
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func TestTradesExportRejectsInvalidWallet(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.request(http.MethodGet, "/v4/trades/export-gpt/not-a-wallet-address-not-a-wallet")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, errValidation, body.Error)
}

func TestTradesExportRejectsUnknownSchema(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.request(http.MethodGet, "/v4/trades/export-gpt/"+testWalletAddr+"?schema_version=v9.9.9")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTradesExportNoHistoryIs404(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.request(http.MethodGet, "/v4/trades/export-gpt/"+testWalletAddr)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, errNotFound, body.Error)
}

func TestTradesExportRunsPipelineThenServesCache(t *testing.T) {
	env := newTestEnv(t, []rpc.SignatureInfo{{Signature: "sig1"}})

	rec := env.request(http.MethodGet, "/v4/trades/export-gpt/"+testWalletAddr)
	require.Equal(t, http.StatusOK, rec.Code)

	var body TradesExportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, constants.SchemaTradesV071Value, body.SchemaVersion)
	assert.Equal(t, []string{"sig1"}, body.Signatures)
	require.Len(t, body.Trades, 1)

	trade := body.Trades[0].(map[string]any)
	assert.Equal(t, "buy", trade["action"])
	assert.Equal(t, "BONK", trade["token"])
	assert.Equal(t, true, trade["priced"])
	assert.Equal(t, "0.0003", trade["price_usd"])

	// Second request must come from cache, not another pipeline run.
	calls := env.sigs.calls.Load()
	rec = env.request(http.MethodGet, "/v4/trades/export-gpt/"+testWalletAddr)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, calls, env.sigs.calls.Load())
}

func TestTradesExportCompactSchema(t *testing.T) {
	env := newTestEnv(t, []rpc.SignatureInfo{{Signature: "sig1"}})

	rec := env.request(http.MethodGet, "/v4/trades/export-gpt/"+testWalletAddr+"?schema_version="+constants.SchemaTradesV072Compact)
	require.Equal(t, http.StatusOK, rec.Code)

	var body CompactResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, constants.SchemaTradesV072Compact, body.SchemaVersion)
	require.Len(t, body.Trades, 1)

	row, err := ExpandTrade(body.FieldMap, body.Constants.Actions, body.Trades[0])
	require.NoError(t, err)
	assert.Equal(t, "buy", row["action"])
	assert.Equal(t, "sig1", row["signature"])
}

func TestTradesExportV070OmitsValueFields(t *testing.T) {
	env := newTestEnv(t, []rpc.SignatureInfo{{Signature: "sig1"}})

	rec := env.request(http.MethodGet, "/v4/trades/export-gpt/"+testWalletAddr+"?schema_version="+constants.SchemaTradesV070)
	require.Equal(t, http.StatusOK, rec.Code)

	var body TradesExportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Trades, 1)
	trade := body.Trades[0].(map[string]any)
	assert.Equal(t, "buy", trade["action"])
	_, hasValue := trade["value_usd"]
	assert.False(t, hasValue)
}

func TestTradesExportSkipsFailedSignatures(t *testing.T) {
	env := newTestEnv(t, []rpc.SignatureInfo{
		{Signature: "sig1"},
		{Signature: "sig2", Err: map[string]any{"InstructionError": []any{}}},
	})

	rec := env.request(http.MethodGet, "/v4/trades/export-gpt/"+testWalletAddr)
	require.Equal(t, http.StatusOK, rec.Code)

	var body TradesExportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"sig1"}, body.Signatures)
}

func TestPositionsExportServesSnapshot(t *testing.T) {
	env := newTestEnv(t, []rpc.SignatureInfo{{Signature: "sig1"}})

	rec := env.request(http.MethodGet, "/v4/positions/export-gpt/"+testWalletAddr)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap models.PortfolioSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, constants.SchemaPositionsV080, snap.SchemaVersion)
	assert.Equal(t, testWalletAddr, snap.Wallet)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, bonkMintAddr, snap.Positions[0].Mint)
	assert.Equal(t, models.ConsistencyClean, snap.PositionConsistency)
}

func TestPositionsExportMarksStaleCacheHits(t *testing.T) {
	env := newTestEnv(t, []rpc.SignatureInfo{{Signature: "sig1"}})

	rec := env.request(http.MethodGet, "/v4/positions/export-gpt/"+testWalletAddr)
	require.Equal(t, http.StatusOK, rec.Code)

	// Age the cached snapshot past its TTL; the stale copy is still served,
	// now marked, while a refresh runs in the background.
	*env.now = env.now.Add(time.Hour)

	rec = env.request(http.MethodGet, "/v4/positions/export-gpt/"+testWalletAddr)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["stale"])
	assert.Equal(t, float64(3600), body["age_seconds"])
}

func TestFlagsUnavailableWithoutDistributedCache(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.request(http.MethodGet, "/v4/flags")

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, errFeatureDisabled, body.Error)
}

func TestAuthRejectsMissingKey(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v4/trades/export-gpt/"+testWalletAddr, nil)
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, errAuthDenied, body.Error)
}

func TestAuthRejectsMalformedKey(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, key := range []string{"wd_short", "sk_abcdefghijklmnopqrstuvwxyz123456", "wd_abcdefghijklmnopqrstuvwxyz12345!"} {
		req := httptest.NewRequest(http.MethodGet, "/v4/trades/export-gpt/"+testWalletAddr, nil)
		req.Header.Set("X-Api-Key", key)
		rec := httptest.NewRecorder()
		env.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "key %q", key)
	}
}

func TestHealthIsOpenWithoutKey(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	// Flags default to enabled when no flag store is configured.
	assert.True(t, body.Flags[constants.FlagTradesExport])
	assert.True(t, body.Flags[constants.FlagWalletStream])
	assert.False(t, body.Cache.Distributed)
}

func TestUnknownRouteIs404JSON(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, errNotFound, body.Error)
}

func TestStreamRejectsInvalidWallet(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.request(http.MethodGet, "/v4/wallet/short/stream")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
