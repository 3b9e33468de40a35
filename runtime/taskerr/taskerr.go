// Package taskerr defines the structured error kinds produced by the
// runtime. Errors are identified by Kind, not by Go type name, so callers
// across package boundaries can match on the kind without importing every
// producer package.
package taskerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error kinds the runtime recognizes.
type Kind string

// Recognized error kinds.
const (
	KindInvalidPlugin     Kind = "InvalidPlugin"
	KindDuplicatePlugin   Kind = "DuplicatePlugin"
	KindUnknownPlugin     Kind = "UnknownPlugin"
	KindUnknownTask       Kind = "UnknownTask"
	KindUnknownTool       Kind = "UnknownTool"
	KindInvalidParameters Kind = "InvalidParameters"
	KindValidationFailed  Kind = "ValidationFailed"
	KindWorkflowError     Kind = "WorkflowError"
	KindWorkflowRejected  Kind = "WorkflowRejected"
	KindCanceled          Kind = "Canceled"
	KindStreamError       Kind = "StreamError"
	KindTransportError    Kind = "TransportError"
	KindNotPaused         Kind = "NotPaused"
	KindRateLimited       Kind = "RateLimited"
)

// Error is the structured error value carried across bus/JSON-RPC
// boundaries. Stack is populated only when the caller is logging at debug
// level (spec-mandated to avoid leaking internals otherwise).
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Stack   string
	Context map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// New constructs an Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// WithContext attaches diagnostic context and returns the same error for
// chaining.
func (e *Error) WithContext(ctx map[string]any) *Error {
	e.Context = ctx
	return e
}

// WithCode attaches a domain-specific error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithStack attaches a captured stack trace. Callers gate this on debug
// log level; it is never populated unconditionally.
func (e *Error) WithStack(stack string) *Error {
	e.Stack = stack
	return e
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
