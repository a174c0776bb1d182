package event

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event types on the bus.
const (
	TypePreSettlement     = "PRE_SETTLEMENT"
	TypeSettlementOutcome = "SETTLEMENT_OUTCOME"
)

// Outcome results.
const (
	ResultSuccess            = "SUCCESS"
	ResultError              = "ERROR"
	ResultDuplicate          = "DUPLICATE"
	ResultInvalidSig         = "INVALID_SIG"
	ResultRejectedBySentinel = "REJECTED_BY_SENTINEL"
	ResultMalicious          = "MALICIOUS"
	ResultSuspicious         = "SUSPICIOUS"
)

// Bus header keys.
const (
	HeaderEventType = "x-event-type"
	HeaderSource    = "x-source"
)

// TransactionEvent is the unit of exchange on the bus. coupon_hash is the
// correlation key between a PRE_SETTLEMENT and its eventual outcome; nothing
// in _metadata may be required for correlation.
type TransactionEvent struct {
	EventID    string  `json:"event_id"`
	EventType  string  `json:"event_type"`
	CouponHash string  `json:"coupon_hash"`
	KID        string  `json:"kid"`
	ExpiryTs   int64   `json:"expiry_ts"`
	Seal       string  `json:"seal"`
	GridID     string  `json:"grid_id"`
	Amount     float64 `json:"amount"`
	Ts         int64   `json:"ts"`

	// Outcome-only fields.
	Result      string  `json:"result,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Source      string  `json:"source,omitempty"`
	Severity    string  `json:"severity,omitempty"`
	Description string  `json:"description,omitempty"`

	// Chain-specific diagnostics. Informative only.
	Metadata map[string]any `json:"_metadata,omitempty"`
}

// DeadLetter wraps a payload that exhausted publish retries.
type DeadLetter struct {
	TransactionEvent
	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
	FailedAt   string `json:"failed_at"`
}

var errMissingFields = errors.New("event: event_type and coupon_hash are required")

// NewID returns a fresh globally unique event id.
func NewID() string { return uuid.NewString() }

// Decode parses a bus payload and rejects events that cannot be correlated.
func Decode(b []byte) (TransactionEvent, error) {
	var ev TransactionEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return TransactionEvent{}, err
	}
	if ev.EventType == "" || ev.CouponHash == "" {
		return TransactionEvent{}, errMissingFields
	}
	return ev, nil
}

// IsSuccess reports whether an outcome labels the transaction as settled.
func (e TransactionEvent) IsSuccess() bool { return e.Result == ResultSuccess }

// Age returns how long ago the event was produced.
func (e TransactionEvent) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(e.Ts))
}
