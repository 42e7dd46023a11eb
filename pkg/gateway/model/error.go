package model

import (
	"errors"
	"fmt"
)

// ErrKind is the caller-visible rejection taxonomy. Every rejection carries a
// kind so operators can tell a safety gate from validation from a broker
// outage.
type ErrKind string

const (
	// ErrGateUnavailable means an infrastructure check could not be reached.
	// Fail closed: unreachable never means disengaged.
	ErrGateUnavailable ErrKind = "gate_unavailable"
	ErrTradingHalted   ErrKind = "trading_halted"
	ErrNotReady        ErrKind = "not_ready"
	ErrPositionLimit   ErrKind = "position_limit_exceeded"
	ErrDuplicateOrder  ErrKind = "duplicate_order"
	ErrValidation      ErrKind = "validation_error"
	ErrFatFinger       ErrKind = "fat_finger_rejected"
	ErrBroker          ErrKind = "broker_error"
	ErrRateLimited     ErrKind = "rate_limited"
	ErrUnauthorized    ErrKind = "unauthorized"
	ErrNotFound        ErrKind = "not_found"
	ErrInternal        ErrKind = "internal"
)

type Error struct {
	Kind ErrKind
	// Gate names the gate that rejected, when the rejection came from the
	// chain.
	Gate string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Ew(kind ErrKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Eg(kind ErrKind, gate, msg string) *Error {
	return &Error{Kind: kind, Gate: gate, Msg: msg}
}

// KindOf extracts the kind from any error in the chain, ErrInternal otherwise.
func KindOf(err error) ErrKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ErrInternal
}

// GateOf returns the rejecting gate name, if any.
func GateOf(err error) string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Gate
	}
	return ""
}
