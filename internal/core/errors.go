package core

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindRateLimited
	KindUnavailable
	KindTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not found"
	case KindRateLimited:
		return "rate limited"
	case KindUnavailable:
		return "unavailable"
	case KindTooLarge:
		return "too large"
	default:
		return "internal"
	}
}

// StatusCode is the HTTP status a failure of this kind is reported with.
func (k Kind) StatusCode() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Error is a failure with a client-facing message. Err keeps the cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// AsError returns the *Error in err's chain, or nil.
func AsError(err error) *Error {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr
	}
	return nil
}

// Unexpected wraps an unclassified failure in the generic internal error.
func Unexpected(err error) *Error {
	return newError(KindInternal, messageUnexpected, err)
}

// FileTooLarge reports an upload over the configured byte limit.
func FileTooLarge(limit int64, err error) *Error {
	return newError(KindTooLarge, fmt.Sprintf("File size exceeds maximum allowed size of %d bytes", limit), err)
}
