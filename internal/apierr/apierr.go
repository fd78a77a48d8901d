// Package apierr classifies failures into the kinds the HTTP layer maps onto
// OpenAI-style error envelopes.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindBadRequest         Kind = "bad_request"
	KindUnauthorized       Kind = "unauthorized"
	KindNotFound           Kind = "not_found"
	KindRateLimited        Kind = "rate_limited"
	KindServiceUnavailable Kind = "service_unavailable"
	KindInternal           Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func RateLimited(format string, args ...any) *Error {
	return &Error{Kind: KindRateLimited, Message: fmt.Sprintf(format, args...)}
}

func ServiceUnavailable(err error, format string, args ...any) *Error {
	return Wrap(KindServiceUnavailable, err, format, args...)
}

func Internal(err error, format string, args ...any) *Error {
	return Wrap(KindInternal, err, format, args...)
}

// KindOf reports the kind of the first *Error in err's chain. Anything
// unclassified is internal.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}

// Envelope is the wire form: {"error":{"message","type","code"}}.
type Envelope struct {
	Error Body `json:"error"`
}

type Body struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// HTTP returns the status code and envelope for err.
func HTTP(err error) (int, Envelope) {
	kind := KindOf(err)
	status, errType, code := classify(kind)
	return status, Envelope{Error: Body{Message: err.Error(), Type: errType, Code: code}}
}

func classify(kind Kind) (int, string, string) {
	switch kind {
	case KindBadRequest:
		return http.StatusBadRequest, "invalid_request_error", "bad_request"
	case KindUnauthorized:
		return http.StatusUnauthorized, "authentication_error", "invalid_api_key"
	case KindNotFound:
		return http.StatusNotFound, "not_found", "not_found"
	case KindRateLimited:
		return http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded"
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable, "service_error", "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal_error"
	}
}
