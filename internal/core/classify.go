package core

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
)

// StatusCoder is implemented by provider errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// Classify maps a provider failure onto one of the predefined error kinds.
// Errors that already carry a known code are returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var coded *Error
	if errors.As(err, &coded) {
		if _, ok := kinds[coded.Code]; ok {
			if coded == err {
				return coded
			}
			return WrapError(coded, err)
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return WrapError(ErrCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return WrapError(ErrTimeout, err)
	}

	var sc StatusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() > 0 {
		return WrapError(KindForStatus(sc.HTTPStatus()), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return WrapError(ErrTimeout, err)
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return WrapError(ErrConnection, err)
	}

	return WrapError(ErrProviderFailed, err)
}

// KindForStatus returns the error kind for an HTTP status code.
func KindForStatus(status int) *Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthentication
	case status == http.StatusNotFound:
		return ErrModelNotFound
	case status == http.StatusTooManyRequests:
		return ErrRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrTimeout
	case status >= 500:
		return ErrConnection
	case status >= 400:
		return ErrInvalidRequest
	default:
		return ErrProviderFailed
	}
}

var kinds = map[string]struct{}{
	ErrAuthentication.Code: {},
	ErrConnection.Code:     {},
	ErrRateLimit.Code:      {},
	ErrModelNotFound.Code:  {},
	ErrTimeout.Code:        {},
	ErrProviderFailed.Code: {},
	ErrUnhealthy.Code:      {},
	ErrCancelled.Code:      {},
	ErrInvalidRequest.Code: {},
}
