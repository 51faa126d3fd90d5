package rpc

import "github.com/shopspring/decimal"

// RPCError represents a JSON-RPC error response
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// SignatureInfo represents one entry from getSignaturesForAddress
type SignatureInfo struct {
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	Err       interface{} `json:"err"`
	BlockTime int64       `json:"blockTime"`
}

// SignaturesResponse is the response from getSignaturesForAddress
type SignaturesResponse struct {
	Result []SignatureInfo `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RawTokenAmount carries a native-scaled token amount.
type RawTokenAmount struct {
	Amount   string `json:"tokenAmount"`
	Decimals int    `json:"decimals"`
}

// SwapLeg is one side of a structured swap event.
type SwapLeg struct {
	UserAccount string         `json:"userAccount"`
	Mint        string         `json:"mint"`
	RawAmount   RawTokenAmount `json:"rawTokenAmount"`
}

// SwapEvent is the provider's structured representation of a DEX swap.
type SwapEvent struct {
	TokenInputs  []SwapLeg `json:"tokenInputs"`
	TokenOutputs []SwapLeg `json:"tokenOutputs"`
	// Lamports moved in/out of the fee payer alongside the token legs.
	NativeInput  int64 `json:"nativeInput"`
	NativeOutput int64 `json:"nativeOutput"`
}

// TransactionEvents groups the enrichment layer's structured events.
type TransactionEvents struct {
	Swap *SwapEvent `json:"swap,omitempty"`
}

// TokenTransfer is a raw SPL-token balance change attached to a transaction.
type TokenTransfer struct {
	FromUserAccount string          `json:"fromUserAccount"`
	ToUserAccount   string          `json:"toUserAccount"`
	Mint            string          `json:"mint"`
	TokenAmount     decimal.Decimal `json:"tokenAmount"`
	Decimals        int             `json:"decimals"`
}

// NativeTransfer is a lamport movement attached to a transaction.
type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"`
}

// EnrichedTransaction is the hydrated provider payload for one signature.
// Immutable once received.
type EnrichedTransaction struct {
	Signature       string            `json:"signature"`
	Slot            uint64            `json:"slot"`
	Timestamp       int64             `json:"timestamp"`
	Source          string            `json:"source"`
	Type            string            `json:"type"`
	Fee             uint64            `json:"fee"`
	Events          TransactionEvents `json:"events"`
	TokenTransfers  []TokenTransfer   `json:"tokenTransfers"`
	NativeTransfers []NativeTransfer  `json:"nativeTransfers"`
}
