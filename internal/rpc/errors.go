package rpc

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors surfaced by the client. Callers branch on these to decide
// between retrying a window and failing the run.
var (
	ErrRateLimited = errors.New("upstream rate limited (429)")
	ErrUpstream5xx = errors.New("upstream server error")
	ErrDeserialize = errors.New("failed to decode upstream response")
	ErrTimeout     = errors.New("upstream request timed out")
)

// HTTPError carries a non-retryable upstream HTTP status.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	b := strings.TrimSpace(string(e.Body))
	if b == "" {
		return fmt.Sprintf("upstream http %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream http %d: %s", e.StatusCode, b)
}
