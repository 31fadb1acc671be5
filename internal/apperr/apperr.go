// Package apperr is the error taxonomy, a typed error with
// an HTTP status mapping. It is imported only by the HTTP layer
// (internal/handler, internal/router) — core packages return plain wrapped
// errors (fmt.Errorf("pkg.Func: %w", err)) and never import net/http.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the taxonomy's error classes.
type Kind string

const (
	InvalidInput        Kind = "InvalidInput"
	NotFound             Kind = "NotFound"
	Unauthorized         Kind = "Unauthorized"
	Forbidden            Kind = "Forbidden"
	Conflict             Kind = "Conflict"
	UpstreamUnavailable  Kind = "UpstreamUnavailable"
	Timeout              Kind = "Timeout"
	Internal             Kind = "Internal"
)

// Error is a taxonomy-classified error. Field, when set, names the
// offending request field for InvalidInput errors.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// InvalidField constructs a field-qualified InvalidInput error.
func InvalidField(field, message string) *Error {
	return &Error{Kind: InvalidInput, Message: message, Field: field}
}

// As extracts *Error from err, returning (nil, false) if err does not wrap one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusCode maps a Kind (or an unclassified error, which maps to
// Internal/500) to the HTTP status the router writes.
func StatusCode(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case InvalidInput, Conflict:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case UpstreamUnavailable:
		return http.StatusInternalServerError
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// UpstreamUnavailableForHealth maps UpstreamUnavailable to 503 for
// health-check responses; operational paths keep the 500 mapping.
func UpstreamUnavailableForHealth() int {
	return http.StatusServiceUnavailable
}
