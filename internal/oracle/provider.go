package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProviderClient talks to the external batched price-history service.
// Prices are keyed by (mint, unix minute).
type ProviderClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewProviderClient creates a price-provider client.
func NewProviderClient(baseURL, apiKey string) *ProviderClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://price-history.walletdoctor.app/v1"
	}
	return &ProviderClient{
		BaseURL: baseURL,
		APIKey:  strings.TrimSpace(apiKey),
		HTTP: &http.Client{
			Timeout: 12 * time.Second,
		},
	}
}

// ProviderError carries a non-2xx provider response.
type ProviderError struct {
	StatusCode int
	Body       []byte
}

func (e *ProviderError) Error() string {
	b := strings.TrimSpace(string(e.Body))
	if b == "" {
		return fmt.Sprintf("price provider http %d", e.StatusCode)
	}
	return fmt.Sprintf("price provider http %d: %s", e.StatusCode, b)
}

// Query asks for the USD price of a mint at a point in time.
type Query struct {
	Mint string `json:"mint"`
	Unix int64  `json:"unix_time"`
}

// QueryKey identifies a query result: mint at minute resolution.
func QueryKey(mint string, unix int64) string {
	return fmt.Sprintf("%s@%d", mint, unix/60)
}

type historyRequest struct {
	Queries []Query `json:"queries"`
}

type historyEntry struct {
	Mint     string          `json:"mint"`
	Unix     int64           `json:"unix_time"`
	PriceUSD decimal.Decimal `json:"price_usd"`
}

type historyResponse struct {
	Prices []historyEntry `json:"prices"`
}

// PriceHistory resolves a batch of (mint, time) queries. Missing prices are
// simply absent from the result map; the caller falls through to the next
// resolution layer.
func (c *ProviderClient) PriceHistory(ctx context.Context, queries []Query) (map[string]decimal.Decimal, error) {
	if len(queries) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	payload, err := json.Marshal(historyRequest{Queries: queries})
	if err != nil {
		return nil, fmt.Errorf("marshal price query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/history", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("x-api-key", c.APIKey)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &ProviderError{StatusCode: res.StatusCode, Body: body}
	}

	var out historyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode price history response: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(out.Prices))
	for _, p := range out.Prices {
		prices[QueryKey(p.Mint, p.Unix)] = p.PriceUSD
	}
	return prices, nil
}
