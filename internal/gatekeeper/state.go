// Package gatekeeper admits or rejects settlement requests. Every request
// walks a small state machine; the terminal state drives the HTTP response,
// the published outcome, and the decision metrics.
package gatekeeper

// State is a settlement request's position in the admission flow.
type State string

const (
	StateReceived                    State = "RECEIVED"
	StateDuplicateRejected           State = "DUPLICATE_REJECTED"
	StateInvalidSigRejected          State = "INVALID_SIG_REJECTED"
	StateScored                      State = "SCORED"
	StateHighRiskRejected            State = "HIGH_RISK_REJECTED"
	StateSentinelUnavailableRejected State = "SENTINEL_UNAVAILABLE_REJECTED"
	StateAdmitted                    State = "ADMITTED"
	StateSettled                     State = "SETTLED"
	StateSettlementFailed            State = "SETTLEMENT_FAILED"
)

// Terminal reports whether the state ends the flow.
func (s State) Terminal() bool {
	switch s {
	case StateReceived, StateScored, StateAdmitted:
		return false
	}
	return true
}
