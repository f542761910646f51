// Package errs defines the error taxonomy shared across the engine.
// Callers branch on Kind, never on concrete error types.
package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for propagation and retry policy.
type Kind string

const (
	// KindNotFound means an entity, tool, or store was absent by id/name.
	KindNotFound Kind = "not_found"

	// KindInvalidArgument means malformed input, a bad enum, or a bad version string.
	KindInvalidArgument Kind = "invalid_argument"

	// KindIncompatibleVersion means no tool version satisfies the request.
	KindIncompatibleVersion Kind = "incompatible_version"

	// KindUnavailable means a model, embedder, or store is temporarily down.
	KindUnavailable Kind = "unavailable"

	// KindTimeout means an external call exceeded its deadline.
	KindTimeout Kind = "timeout"

	// KindCancelled means the caller cancelled the operation.
	KindCancelled Kind = "cancelled"

	// KindInternal means an invariant violation or bug.
	KindInternal Kind = "internal"
)

// Retryable reports whether an error of this kind may succeed on retry.
func (k Kind) Retryable() bool {
	switch k {
	case KindUnavailable, KindTimeout:
		return true
	default:
		return false
	}
}

// Error carries a kind, the operation that failed, and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an error with a kind, operation, and message.
func E(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Errorf builds an error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to an existing error. Context
// cancellation and deadline errors keep their canonical kinds regardless
// of the kind passed in.
func Wrap(kind Kind, op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	} else if errors.Is(err, context.Canceled) {
		kind = KindCancelled
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors
// report KindInternal; nil reports the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the error chain warrants a bounded retry.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

// Classify maps a raw external error onto the taxonomy by message
// inspection. Used for provider errors that arrive untyped.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if k := KindOf(err); k != KindInternal {
		return k
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "timed out"):
		return KindTimeout
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"):
		return KindUnavailable
	case strings.Contains(msg, "not found"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "404"):
		return KindNotFound
	case strings.Contains(msg, "invalid"),
		strings.Contains(msg, "malformed"),
		strings.Contains(msg, "400"):
		return KindInvalidArgument
	}
	return KindInternal
}

// Summary returns a short user-facing description of the error, suitable
// for a reply message. It never exposes wrapped internals verbatim for
// internal errors.
func Summary(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	switch KindOf(err) {
	case KindNotFound:
		return "the requested resource was not found"
	case KindInvalidArgument:
		return "the request was malformed"
	case KindIncompatibleVersion:
		return "no compatible tool version was available"
	case KindUnavailable:
		return "a required service is temporarily unavailable"
	case KindTimeout:
		return "the operation timed out"
	case KindCancelled:
		return "the operation was cancelled"
	default:
		return "an internal error occurred"
	}
}
