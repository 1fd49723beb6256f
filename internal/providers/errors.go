package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrRateLimited is returned when the provider throttled the request.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrUnavailable is returned for provider outages and 5xx responses.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrTimeout is returned when a call exceeded its deadline.
	ErrTimeout = errors.New("provider timeout")

	// ErrInvalidInput is returned when the provider rejected the request
	// content. Retrying the same input will not help.
	ErrInvalidInput = errors.New("provider rejected input")

	// ErrEmptyResponse is returned when a call succeeded but carried nothing.
	ErrEmptyResponse = errors.New("provider returned empty response")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrEmptyResponse)
}

// statusError maps an HTTP status to a classified error.
func statusError(provider string, code int, msg string) error {
	var kind error
	switch {
	case code == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout || code == 524:
		kind = ErrTimeout
	case code >= 500:
		kind = ErrUnavailable
	case code >= 400:
		kind = ErrInvalidInput
	default:
		kind = ErrUnavailable
	}
	return fmt.Errorf("%s error (status %d): %s: %w", provider, code, msg, kind)
}

// transportError classifies a failed round trip.
func transportError(provider string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s request failed: %v: %w", provider, err, ErrTimeout)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%s request failed: %v: %w", provider, err, ErrTimeout)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s request cancelled: %w", provider, err)
	default:
		return fmt.Errorf("%s request failed: %v: %w", provider, err, ErrUnavailable)
	}
}
