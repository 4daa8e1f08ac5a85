// Package status defines the typed errors returned by annex core operations.
// Each error carries an HTTP-like numeric code so callers can map failures to
// responses and decide logging severity without inspecting message text.
package status

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindInvalidArgument   Kind = "invalid_argument"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindNotAnOrganization Kind = "not_an_organization"
	KindInternal          Kind = "internal"
)

// Error is a typed operation failure.
type Error struct {
	Kind    Kind
	Code    int // HTTP-like status code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes errors.Is match on Kind, so sentinel-style comparisons work:
// errors.Is(err, status.Conflict("")) is true for any conflict.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// InvalidArgument reports malformed or contradictory input.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Code: 400, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing referenced entity.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: 404, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a uniqueness or ownership clash.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: 409, Message: fmt.Sprintf(format, args...)}
}

// NotAnOrganization reports that the target team lacks the organization tag.
func NotAnOrganization(format string, args ...any) *Error {
	return &Error{Kind: KindNotAnOrganization, Code: 400, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure, typically from the store.
func Internal(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Code: 500, Message: fmt.Sprintf(format, args...), cause: cause}
}

// CodeOf returns the numeric code for err, or 500 for untyped errors.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 500
}

// KindOf returns the Kind for err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
