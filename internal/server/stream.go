package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/walletdoctor/solana-pnl-api/internal/constants"
	"github.com/walletdoctor/solana-pnl-api/internal/metrics"
	"github.com/walletdoctor/solana-pnl-api/internal/pipeline"
	"github.com/walletdoctor/solana-pnl-api/internal/wallet"
)

const maxStreamsPerKey = 10

// streamCounter caps concurrent SSE streams per API key.
type streamCounter struct {
	mu     sync.Mutex
	active map[string]int
}

func (s *streamCounter) acquire(key string, max int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		s.active = map[string]int{}
	}
	if s.active[key] >= max {
		return false
	}
	s.active[key]++
	return true
}

func (s *streamCounter) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[key]--
	if s.active[key] <= 0 {
		delete(s.active, key)
	}
}

// sseWriter frames server-sent events with monotonically increasing ids.
type sseWriter struct {
	resp *echo.Response
	id   uint64
}

func (s *sseWriter) send(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	s.id++
	if _, err := fmt.Fprintf(s.resp, "id: %d\nevent: %s\ndata: %s\n\n", s.id, event, b); err != nil {
		return err
	}
	s.resp.Flush()
	return nil
}

type streamProgress struct {
	Phase        pipeline.Phase `json:"phase"`
	Percentage   int            `json:"percentage"`
	Message      string         `json:"message,omitempty"`
	Signatures   int            `json:"signatures"`
	Transactions int            `json:"transactions"`
	Trades       int            `json:"trades"`
}

type streamTrades struct {
	Trades       []any `json:"trades"`
	BatchNum     int   `json:"batch_num"`
	TotalYielded int   `json:"total_yielded"`
	HasMore      bool  `json:"has_more"`
}

type streamSummary struct {
	Wallet     string `json:"wallet"`
	Signatures int    `json:"signatures"`
	Trades     int    `json:"trades"`
	Positions  int    `json:"positions"`
}

type streamComplete struct {
	Summary        streamSummary  `json:"summary"`
	Metrics        map[string]int `json:"metrics"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
}

type streamError struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Stream runs the wallet pipeline and delivers its events over SSE.
func (h *Handlers) Stream(c echo.Context) error {
	walletAddr := c.Param("wallet")
	if err := wallet.Validate(walletAddr); err != nil {
		return h.fail(c, http.StatusBadRequest, errValidation, "invalid wallet address", err)
	}

	reqCtx := c.Request().Context()
	if !h.Flags.Enabled(reqCtx, constants.FlagWalletStream, true) {
		return h.fail(c, http.StatusNotImplemented, errFeatureDisabled, "wallet streaming is disabled", nil)
	}

	apiKey := c.Request().Header.Get("X-Api-Key")
	if !h.streams.acquire(apiKey, maxStreamsPerKey) {
		c.Response().Header().Set("Retry-After", "5")
		return c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error:      errRateLimited,
			Message:    "concurrent stream limit reached",
			Code:       http.StatusTooManyRequests,
			RetryAfter: 5,
		})
	}
	defer h.streams.release(apiKey)

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	streamID := uuid.NewString()
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Stream-ID", streamID)
	resp.WriteHeader(http.StatusOK)

	// Run state is not kept across connections, so a Last-Event-ID resume
	// falls back to a fresh run. Clients must tolerate both.
	if last := c.Request().Header.Get("Last-Event-ID"); last != "" {
		h.Logger.WithFields(logrus.Fields{
			"wallet":        wallet.Redact(walletAddr),
			"last_event_id": last,
		}).Debug("stream resume requested, starting fresh run")
	}

	keepalive := h.StreamKeepalive
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	maxDuration := h.StreamMaxDuration
	if maxDuration <= 0 {
		maxDuration = 10 * time.Minute
	}

	ctx, cancel := context.WithCancel(reqCtx)
	defer cancel()

	w := &sseWriter{resp: resp}
	if err := w.send("connected", map[string]any{
		"stream_id": streamID,
		"wallet":    walletAddr,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return nil
	}

	events := make(chan pipeline.Event, 64)
	go func() {
		defer close(events)
		_, _ = h.Pipeline.Run(ctx, walletAddr, func(ev pipeline.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
	}()

	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()
	deadline := time.NewTimer(maxDuration)
	defer deadline.Stop()

	batchNum := 0
	totalYielded := 0
	for {
		select {
		case <-ctx.Done():
			// Client went away; the pipeline is cancelled with it.
			return nil

		case <-deadline.C:
			_ = w.send("error", streamError{Error: "stream duration limit reached", Code: http.StatusGatewayTimeout})
			return nil

		case <-ticker.C:
			if err := w.send("heartbeat", map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339)}); err != nil {
				return nil
			}

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if done := h.forwardEvent(w, ev, &batchNum, &totalYielded); done {
				return nil
			}
		}
	}
}

// forwardEvent translates one pipeline event into its SSE form. Returns true
// when the stream should close.
func (h *Handlers) forwardEvent(w *sseWriter, ev pipeline.Event, batchNum, totalYielded *int) bool {
	switch ev.Kind {
	case pipeline.KindProgress:
		p := ev.Progress
		err := w.send("progress", streamProgress{
			Phase:        p.Phase,
			Percentage:   p.Percent,
			Message:      p.Message,
			Signatures:   p.Signatures,
			Transactions: p.Transactions,
			Trades:       p.Trades,
		})
		return err != nil

	case pipeline.KindTrades:
		*batchNum = *batchNum + 1
		*totalYielded += len(ev.Trades)
		out := make([]any, 0, len(ev.Trades))
		for i := range ev.Trades {
			out = append(out, tradeValueJSON(&ev.Trades[i]))
		}
		err := w.send("trades", streamTrades{
			Trades:       out,
			BatchNum:     *batchNum,
			TotalYielded: *totalYielded,
			HasMore:      !ev.LastBatch,
		})
		return err != nil

	case pipeline.KindComplete:
		res := ev.Result
		_ = w.send("complete", streamComplete{
			Summary: streamSummary{
				Wallet:     res.Wallet,
				Signatures: len(res.Signatures),
				Trades:     len(res.Trades),
				Positions:  len(res.Snapshot.Positions),
			},
			Metrics: map[string]int{
				"rate_limited_windows": res.RateLimitedWindows,
			},
			ElapsedSeconds: res.Elapsed.Seconds(),
		})
		return true

	case pipeline.KindError:
		_ = w.send("error", streamError{Error: ev.Err.Error(), Code: http.StatusInternalServerError})
		return true
	}
	return false
}
