// Package gatewayerr defines an error taxonomy: the Kind values below and a
// typed Error carrying a kind, a stable code, a message and the chain id it
// sealed.
//
// The pipeline stages in this repository do not return it: SignalGate
// reports its result through Decision.Reason and Executor through Outcome,
// whose Err field holds the underlying error.
package gatewayerr

import "fmt"

// Kind classifies why an operation did not produce a normal result.
type Kind string

const (
	// KindValidation marks a malformed signal rejected before any chain exists.
	KindValidation Kind = "validation"
	// KindDuplicate marks an idempotency hit; the prior chain's outcome is returned.
	KindDuplicate Kind = "duplicate"
	// KindGateBlocked marks a rate-limit, emergency, or disabled-profile rejection.
	KindGateBlocked Kind = "gate_blocked"
	// KindRiskRejected marks a veto raised by RiskSizer.
	KindRiskRejected Kind = "risk_rejected"
	// KindTransient marks a network/timeout/broker-degraded failure.
	KindTransient Kind = "transient"
	// KindBrokerRejected marks a non-retryable broker rejection.
	KindBrokerRejected Kind = "broker_rejected"
	// KindEmergency marks preemption by the EmergencyController.
	KindEmergency Kind = "emergency"
	// KindInternal marks a programmer error or broken invariant.
	KindInternal Kind = "internal"
)

// Error is the typed error of this taxonomy.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	ChainID string
	cause   error
}

func (e *Error) Error() string {
	if e.ChainID != "" {
		return fmt.Sprintf("%s (%s): %s [chain=%s]", e.Kind, e.Code, e.Message, e.ChainID)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error with no underlying cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs an Error that wraps an underlying cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// WithChain returns a copy of e annotated with the chain it sealed.
func (e *Error) WithChain(chainID string) *Error {
	cp := *e
	cp.ChainID = chainID
	return &cp
}

// Internal wraps an unclassified failure as a programmer-error/invariant break,
// matching the "unclassified failures bubble up as Internal" propagation rule.
func Internal(code string, cause error) *Error {
	return Wrap(KindInternal, code, "internal invariant violation", cause)
}
