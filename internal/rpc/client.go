package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Client is the rate-limited HTTP client for the chain RPC provider. A token
// bucket shapes request rate and a semaphore caps in-flight requests; both
// are shared by every pipeline run in the process.
type Client struct {
	httpClient  *http.Client
	rpcURL      string
	enrichedURL string
	limiter     *rate.Limiter
	sem         *semaphore.Weighted
	timeout     time.Duration
	logger      *logrus.Logger
}

// ClientConfig holds configuration for the RPC client
type ClientConfig struct {
	BaseURL       string // e.g. https://mainnet.helius-rpc.com
	EnrichedURL   string // e.g. https://api.helius.xyz
	APIKey        string
	Timeout       time.Duration // per-request, default 20s
	RPS           int           // token bucket rate, default 50
	MaxConcurrent int64         // semaphore size, default 40
	Logger        *logrus.Logger
}

// NewClient creates a new RPC client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 50
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 40
	}

	rpcURL := cfg.BaseURL
	enrichedURL := cfg.EnrichedURL
	if cfg.APIKey != "" {
		rpcURL = fmt.Sprintf("%s/?api-key=%s", cfg.BaseURL, url.QueryEscape(cfg.APIKey))
		enrichedURL = fmt.Sprintf("%s/v0/transactions?api-key=%s", cfg.EnrichedURL, url.QueryEscape(cfg.APIKey))
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rpcURL:      rpcURL,
		enrichedURL: enrichedURL,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RPS), cfg.RPS),
		sem:         semaphore.NewWeighted(cfg.MaxConcurrent),
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
	}
}

// GetSignatures fetches one page of transaction signatures for a wallet,
// newest first. It returns the cursor for the next page, or nil when the
// history is exhausted. An empty page keeps the previous cursor so the pager
// can walk past skipped version-0 transactions.
func (c *Client) GetSignatures(ctx context.Context, wallet, before string, limit int) ([]SignatureInfo, *string, error) {
	opts := map[string]interface{}{"limit": limit}
	if before != "" {
		opts["before"] = before
	}

	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "getSignaturesForAddress",
		"params":  []interface{}{wallet, opts},
	}

	raw, err := c.post(ctx, c.rpcURL, body)
	if err != nil {
		return nil, nil, err
	}

	var result SignaturesResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	if result.Error != nil {
		return nil, nil, result.Error
	}

	sigs := result.Result
	switch {
	case len(sigs) == limit:
		next := sigs[len(sigs)-1].Signature
		return sigs, &next, nil
	case len(sigs) == 0 && before != "":
		// Version-0 skip: nothing returned but the history may continue.
		cursor := before
		return nil, &cursor, nil
	default:
		return sigs, nil, nil
	}
}

// GetTransactions hydrates up to 100 signatures into enriched transactions.
func (c *Client) GetTransactions(ctx context.Context, signatures []string) ([]EnrichedTransaction, error) {
	if len(signatures) == 0 {
		return nil, nil
	}
	if len(signatures) > 100 {
		return nil, fmt.Errorf("at most 100 signatures per call, got %d", len(signatures))
	}

	body := map[string]interface{}{
		"transactions":                   signatures,
		"maxSupportedTransactionVersion": 0,
	}

	raw, err := c.post(ctx, c.enrichedURL, body)
	if err != nil {
		return nil, err
	}

	var txs []EnrichedTransaction
	if err := json.Unmarshal(raw, &txs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	return txs, nil
}

// post sends one JSON request under the shared rate limit and concurrency
// cap and maps the response status to the client's error taxonomy.
func (c *Client) post(ctx context.Context, endpoint string, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUpstream5xx, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: respBody}
	}

	if readErr != nil {
		return nil, fmt.Errorf("failed to read response: %w", readErr)
	}
	return respBody, nil
}
