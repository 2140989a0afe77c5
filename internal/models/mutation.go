package models

import (
	"encoding/json"
	"time"
)

// Kind identifies which remote operation a pending mutation maps to.
// The set is closed: adding a new kind means adding a constant here,
// a payload struct, and one entry in the remote dispatch table.
type Kind string

const (
	KindEventCreate      Kind = "EVENT_CREATE"
	KindScanEvent        Kind = "SCAN_EVENT"
	KindMovementIn       Kind = "MOVEMENT_IN"
	KindMovementOut      Kind = "MOVEMENT_OUT"
	KindMovementAdjust   Kind = "MOVEMENT_ADJUST"
	KindMovementTransfer Kind = "MOVEMENT_TRANSFER"
	KindProductCreate    Kind = "PRODUCT_CREATE"
	KindProductUpdate    Kind = "PRODUCT_UPDATE"
	KindProductDelete    Kind = "PRODUCT_DELETE"
	KindCategoryCreate   Kind = "CATEGORY_CREATE"
	KindCategoryDelete   Kind = "CATEGORY_DELETE"
	KindThresholdCreate  Kind = "THRESHOLD_CREATE"
	KindThresholdDelete  Kind = "THRESHOLD_DELETE"
	KindStockCreate      Kind = "STOCK_CREATE"
	KindStockUpdate      Kind = "STOCK_UPDATE"
)

// KindRegistry is the whitelist of kinds the agent will accept and replay.
// Anything outside it is rejected at the enqueue boundary.
var KindRegistry = map[Kind]struct{}{
	KindEventCreate:      {},
	KindScanEvent:        {},
	KindMovementIn:       {},
	KindMovementOut:      {},
	KindMovementAdjust:   {},
	KindMovementTransfer: {},
	KindProductCreate:    {},
	KindProductUpdate:    {},
	KindProductDelete:    {},
	KindCategoryCreate:   {},
	KindCategoryDelete:   {},
	KindThresholdCreate:  {},
	KindThresholdDelete:  {},
	KindStockCreate:      {},
	KindStockUpdate:      {},
}

// Valid reports whether k belongs to the closed kind set.
func (k Kind) Valid() bool {
	_, ok := KindRegistry[k]
	return ok
}

// MaxDiagnosticLen bounds the error text stored with a failed mutation so
// the dead-letter blob cannot grow without limit.
const MaxDiagnosticLen = 2000

// PendingMutation is one unit of deferred work. Kind and Payload are
// immutable after construction; only the queue position changes.
type PendingMutation struct {
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewPendingMutation stamps the enqueue time. The payload must already
// carry its idempotency key when the kind needs one.
func NewPendingMutation(kind Kind, payload json.RawMessage) PendingMutation {
	return PendingMutation{
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
}

// FailedMutation is a pending mutation the engine gave up on. It is never
// retried automatically; only an explicit requeue moves it back.
type FailedMutation struct {
	Original     PendingMutation `json:"original"`
	ResponseCode *int            `json:"response_code,omitempty"`
	Diagnostic   string          `json:"diagnostic"`
	FailedAt     time.Time       `json:"failed_at"`
}

// NewFailedMutation truncates the diagnostic and stamps the failure time.
// code <= 0 means the failure happened below the transport layer.
func NewFailedMutation(original PendingMutation, code int, diagnostic string) FailedMutation {
	f := FailedMutation{
		Original:   original,
		Diagnostic: Truncate(diagnostic, MaxDiagnosticLen),
		FailedAt:   time.Now().UTC(),
	}
	if code > 0 {
		f.ResponseCode = &code
	}
	return f
}

// Truncate clips s to at most n bytes.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
