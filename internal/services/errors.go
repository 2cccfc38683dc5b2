package services

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a failed call to an upstream dependency. Callers pick
// their fallback from the kind instead of from the error text.
type ErrorKind string

const (
	ErrorUnavailable ErrorKind = "unavailable"
	ErrorTimeout     ErrorKind = "timeout"
	ErrorBadStatus   ErrorKind = "bad_status"
	ErrorMalformed   ErrorKind = "malformed"
)

var ErrCycleRunning = errors.New("cycle already running")

type CallError struct {
	Kind   ErrorKind
	Op     string
	Status int
	Err    error
}

func (e *CallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// transportError classifies an error returned by http.Client.Do.
func transportError(op string, err error) *CallError {
	kind := ErrorUnavailable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = ErrorTimeout
	}
	return &CallError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the ErrorKind carried by err, or "" when err is not a CallError.
func KindOf(err error) ErrorKind {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind
	}
	return ""
}
