package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an order failure so callers can pick the right
// recovery path without string-matching broker messages.
type ErrorKind int

const (
	// ErrTransient covers network and gateway timeouts. Retry with backoff;
	// never mutate state on these.
	ErrTransient ErrorKind = iota
	// ErrRejectedRetryable covers rejections expected to change, such as a
	// price that moved. Cooldown, then retry.
	ErrRejectedRetryable
	// ErrRejectedTerminal covers symbols that cannot be traded at all, such
	// as a short-sale restriction. Drop from tracking and surface loudly.
	ErrRejectedTerminal
	// ErrStateDrift covers disagreement between the store and the broker.
	// Resolved by trusting the broker for "do I hold shares" and the store
	// for "am I responsible for it".
	ErrStateDrift
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTransient:
		return "transient"
	case ErrRejectedRetryable:
		return "rejected-retryable"
	case ErrRejectedTerminal:
		return "rejected-terminal"
	case ErrStateDrift:
		return "state-drift"
	}
	return "unknown"
}

// OrderError is a classified order failure.
type OrderError struct {
	Kind   ErrorKind
	Symbol string
	Reason string
	Err    error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Symbol, e.Reason, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Symbol, e.Reason, e.Kind)
}

func (e *OrderError) Unwrap() error { return e.Err }

// NewOrderError builds an OrderError wrapping err.
func NewOrderError(kind ErrorKind, symbol, reason string, err error) *OrderError {
	return &OrderError{Kind: kind, Symbol: symbol, Reason: reason, Err: err}
}

// KindOf extracts the ErrorKind from err. Unclassified errors are treated as
// transient, the conservative default: retry without mutating state.
func KindOf(err error) ErrorKind {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ErrTransient
}
