package rpc

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories a duplex RPC call can
// surface. It is attached to every *Error returned from this package so
// callers can react with errors.As instead of string matching.
type ErrorKind string

const (
	// KindTimeout means no response arrived before the call's deadline.
	KindTimeout ErrorKind = "TIMEOUT"
	// KindNotConnected means there was no live socket to send on.
	KindNotConnected ErrorKind = "NOT_CONNECTED"
	// KindRenderError means the peer rejected a render instruction.
	KindRenderError ErrorKind = "RENDER_ERROR"
	// KindCanceled means the call's context was canceled before completion.
	KindCanceled ErrorKind = "CANCELED"
	// KindTransactionClosed means the call targeted a transaction that has
	// already completed.
	KindTransactionClosed ErrorKind = "TRANSACTION_CLOSED"
	// KindSchemaInvalid means a param or result failed schema validation.
	KindSchemaInvalid ErrorKind = "SCHEMA_INVALID"
	// KindMethodUnknown means the method name has no registered handler.
	KindMethodUnknown ErrorKind = "METHOD_UNKNOWN"
	// KindMaxRetries means the outer retrying send exhausted its attempts.
	KindMaxRetries ErrorKind = "MAX_RETRIES"
	// KindFatal means the failure is not retryable and should surface to
	// the host's OnError hook.
	KindFatal ErrorKind = "FATAL"
)

// Error wraps an underlying cause with the ErrorKind taxonomy used
// throughout the host runtime.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs an *Error of the given kind wrapping err.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err wraps an *Error of the given kind.
func Is(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
