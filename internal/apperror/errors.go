package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and HTTP mapping
type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindConflict            Kind = "conflict"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindProviderError       Kind = "provider_error"
	KindProviderTimeout     Kind = "provider_timeout"
	KindSignatureInvalid    Kind = "signature_invalid"
	KindTooLarge            Kind = "too_large"
	KindInternal            Kind = "internal"
)

// Conflict codes
const (
	CodePaymentInProgress = "payment_in_progress"
	CodeIllegalTransition = "illegal_transition"
	CodeDuplicate         = "duplicate"
)

// Error is a typed error carrying a Kind and a user-safe message
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Conflict creates a conflict error with a machine-readable code
func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// KindOf returns the kind of err, or KindInternal for untyped errors
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// CodeOf returns the code of err, if any
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is reports whether err has the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns a message safe to show to API callers.
// Wrapped causes are never included.
func PublicMessage(err error) string {
	var appErr *Error
	if !errors.As(err, &appErr) || appErr.Kind == KindInternal {
		return "internal server error"
	}
	return appErr.Message
}

// HTTPStatus maps a kind to its HTTP status code
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindProviderUnavailable:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized, KindSignatureInvalid:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindProviderError:
		return http.StatusBadGateway
	case KindProviderTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
