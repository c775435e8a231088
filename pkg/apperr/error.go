// Package apperr defines the error kinds surfaced by the fieldcrypt
// codec, following the same tagged-error style the rest of the
// service uses so callers can type-switch instead of string-matching
// messages.
package apperr

import (
	"errors"
	"fmt"

	"github.com/moogar0880/problems"
)

// Kind tags an Error with the category a caller should branch on.
type Kind string

// The error kinds the codec can surface. Each is a hard stop; the
// codec never retries internally.
const (
	KindInvalidArgument          Kind = "invalid_argument"
	KindInvalidPath              Kind = "invalid_path"
	KindUnsupportedAlgorithm     Kind = "unsupported_algorithm"
	KindUnsupportedFormatVersion Kind = "unsupported_format_version"
	KindFormatViolation          Kind = "format_violation"
	KindAuthFailed               Kind = "auth_failed"
	KindCompressionMismatch      Kind = "compression_mismatch"
	KindCancelled                Kind = "cancelled"
	KindInternal                 Kind = "internal_error"
)

// Error is the error type returned by every exported fieldcrypt
// operation. Context such as the path or format version involved is
// carried in Details so logs can be structured without parsing
// strings.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is/errors.As see through to the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to an underlying cause, e.g. an
// error returned by the compression library or the key provider.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetail returns a copy of e annotated with a key/value pair,
// e.g. the path or format version that triggered it.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Problem converts e into an RFC7807 problem document for transports
// that want one, mapping each kind to an HTTP status.
func (e *Error) Problem() *problems.Problem {
	status := 500
	switch e.Kind {
	case KindInvalidArgument, KindInvalidPath, KindUnsupportedAlgorithm, KindCompressionMismatch:
		status = 400
	case KindUnsupportedFormatVersion:
		status = 422
	case KindFormatViolation, KindAuthFailed:
		status = 400
	case KindCancelled:
		status = 499
	}
	p := problems.NewStatusProblem(status)
	p.Title = string(e.Kind)
	return p
}
