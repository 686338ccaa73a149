package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/pkg/errors"
)

type Code string

const (
	CodeNetwork   Code = "NETWORK"
	CodeAuth      Code = "AUTH"
	CodeRateLimit Code = "RATE_LIMIT"
	CodeServer    Code = "SERVER"
	CodeTimeout   Code = "TIMEOUT"
	CodeUnknown   Code = "UNKNOWN"
)

// Retryable reports the default retry hint for a code.
func (c Code) Retryable() bool {
	switch c {
	case CodeNetwork, CodeRateLimit, CodeServer, CodeTimeout:
		return true
	default:
		return false
	}
}

// Error is a transport failure as surfaced to the user. Status is the HTTP
// status when one is known, 0 otherwise.
type Error struct {
	Code     Code   `json:"code"`
	Message  string `json:"message"`
	Status   int    `json:"status"`
	CanRetry bool   `json:"canRetry"`
	Err      error  `json:"-"`
}

func NewError(code Code, status int, message string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Status:   status,
		CanRetry: code.Retryable(),
	}
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// CodeForStatus maps an HTTP status code to an error code.
func CodeForStatus(status int) Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeAuth
	case status == http.StatusTooManyRequests:
		return CodeRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return CodeTimeout
	case status >= 500:
		return CodeServer
	default:
		return CodeUnknown
	}
}

func FromStatus(status int, message string) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	return NewError(CodeForStatus(status), status, message)
}

// AsError converts any error into an *Error, classifying network and timeout
// failures. An *Error anywhere in the chain is returned as is.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(CodeTimeout, 0, "request timed out").WithCause(err)
	case errors.Is(err, context.Canceled):
		return NewError(CodeUnknown, 0, "request cancelled").WithCause(err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return NewError(CodeTimeout, 0, err.Error()).WithCause(err)
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF):
		return NewError(CodeNetwork, 0, err.Error()).WithCause(err)
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return NewError(CodeNetwork, 0, err.Error()).WithCause(err)
	}

	return NewError(CodeUnknown, 0, err.Error()).WithCause(err)
}
