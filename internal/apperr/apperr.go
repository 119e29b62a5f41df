// Package apperr defines the stable error taxonomy used at every MRS boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the stable error codes in the MRS error taxonomy.
type Code string

const (
	InvalidGeometry  Code = "invalid_geometry"
	InvalidURI       Code = "invalid_uri"
	MissingField     Code = "missing_field"
	TypeMismatch     Code = "type_mismatch"
	Unauthorized     Code = "unauthorized"
	Forbidden        Code = "forbidden"
	NotAuthoritative Code = "not_authoritative"
	NotFound         Code = "not_found"
	Conflict         Code = "conflict"
	RateLimited      Code = "rate_limited"
	PeerUnreachable  Code = "peer_unreachable"
	CursorExpired    Code = "cursor_expired"
	Internal         Code = "internal"
)

// Error carries a stable code, a human-readable message, and optional structured detail.
type Error struct {
	Code    Code
	Message string
	Detail  map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an upstream error as the cause, converting it to Internal by default.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetail attaches structured detail to the error (e.g. {"origin_server": "..."}).
func (e *Error) WithDetail(detail map[string]any) *Error {
	e.Detail = detail
	return e
}

// As reports whether err (or something it wraps) is an *Error, returning it.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// CodeOf returns the error's Code, or Internal if err is not an *Error.
func CodeOf(err error) Code {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return Internal
}

// HTTPStatus maps a Code to the HTTP status mandated by the wire contract.
func HTTPStatus(code Code) int {
	switch code {
	case InvalidGeometry, InvalidURI, MissingField, TypeMismatch, CursorExpired:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden, NotAuthoritative:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
