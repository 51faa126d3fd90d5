package pipeline

import (
	"time"

	"github.com/walletdoctor/solana-pnl-api/internal/models"
)

// Phase names one stage of a wallet run.
type Phase string

const (
	PhaseFetchSignatures   Phase = "fetch_signatures"
	PhaseFetchTransactions Phase = "fetch_transactions"
	PhaseExtractTrades     Phase = "extract_trades"
	PhaseComputePositions  Phase = "compute_positions"
	PhaseComputeUnrealized Phase = "compute_unrealized"
)

// phaseOrder drives the overall progress percentage; weights sum to 100.
var phaseOrder = []struct {
	phase  Phase
	weight int
}{
	{PhaseFetchSignatures, 15},
	{PhaseFetchTransactions, 35},
	{PhaseExtractTrades, 35},
	{PhaseComputePositions, 10},
	{PhaseComputeUnrealized, 5},
}

// Kind discriminates pipeline events.
type Kind string

const (
	KindProgress Kind = "progress"
	KindTrades   Kind = "trades"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// Progress reports how far a run has advanced. Percent is monotonically
// nondecreasing across one run.
type Progress struct {
	Phase        Phase  `json:"phase"`
	Percent      int    `json:"percent"`
	Signatures   int    `json:"signatures"`
	Transactions int    `json:"transactions"`
	Trades       int    `json:"trades"`
	Message      string `json:"message,omitempty"`
}

// Event is one observation emitted during a run. Exactly one of Progress,
// Trades, Result or Err is set, per Kind. LastBatch marks the final trades
// event of a run.
type Event struct {
	Kind      Kind
	Progress  *Progress
	Trades    []models.Trade
	LastBatch bool
	Result    *Result
	Err       error
}

// Sink receives run events. Calls are serialized by the pipeline.
type Sink func(Event)

// Result is the outcome of a completed run.
type Result struct {
	Wallet             string
	Signatures         []string
	Trades             []models.Trade
	Snapshot           models.PortfolioSnapshot
	RateLimitedWindows int
	Elapsed            time.Duration
}

// TradesPayload is the canonical cached form of a wallet's trade history.
// Export handlers reshape it per requested schema version.
type TradesPayload struct {
	Wallet     string         `json:"wallet"`
	Signatures []string       `json:"signatures"`
	Trades     []models.Trade `json:"trades"`
}
