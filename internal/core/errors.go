package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrProducerNotSupported = errors.New("endpoint does not support producers")
	ErrConsumerNotSupported = errors.New("endpoint does not support consumers")
	ErrNoConsumer           = errors.New("no consumers available on endpoint")
	ErrQueueFull            = errors.New("queue full")
	ErrExchangeTimeout      = errors.New("exchange timed out")
	ErrInvalidPayload       = errors.New("invalid payload")
)

// ResolveEndpointError reports a URI that could not be turned into an endpoint.
// The URI is stored sanitized.
type ResolveEndpointError struct {
	URI    string
	Reason string
	Err    error
}

func NewResolveEndpointError(uri, reason string, err error) *ResolveEndpointError {
	return &ResolveEndpointError{URI: SanitizeURI(uri), Reason: reason, Err: err}
}

func (e *ResolveEndpointError) Error() string {
	msg := fmt.Sprintf("failed to resolve endpoint %s", e.URI)
	if e.Reason != "" {
		msg += " due to: " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolveEndpointError) Unwrap() error {
	return e.Err
}

// ExchangeError ties a failure to the exchange it happened on.
type ExchangeError struct {
	ExchangeID string
	Err        error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange %s failed: %v", e.ExchangeID, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// HTTPOperationFailedError is returned by HTTP based producers for non-2xx responses.
type HTTPOperationFailedError struct {
	URI          string
	StatusCode   int
	StatusText   string
	Location     string
	ResponseBody string
}

func (e *HTTPOperationFailedError) Error() string {
	return fmt.Sprintf("HTTP operation failed invoking %s with statusCode: %d", e.URI, e.StatusCode)
}

// Retryable reports server side failures and rate limiting.
func (e *HTTPOperationFailedError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// InvalidError marks failures that redelivery cannot fix.
type InvalidError struct {
	Err error
}

func (e *InvalidError) Error() string { return e.Err.Error() }
func (e *InvalidError) Unwrap() error { return e.Err }

// Invalid wraps err so IsRetryable reports false.
func Invalid(err error) error {
	if err == nil {
		return nil
	}
	return &InvalidError{Err: err}
}

// Invalidf is Invalid(fmt.Errorf(...)).
func Invalidf(format string, args ...any) error {
	return &InvalidError{Err: fmt.Errorf(format, args...)}
}

// IsRetryable classifies an error as transient. Invalid input, resolution
// failures and cancellation are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var invalid *InvalidError
	if errors.As(err, &invalid) {
		return false
	}
	var resolve *ResolveEndpointError
	if errors.As(err, &resolve) {
		return false
	}
	var httpErr *HTTPOperationFailedError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	var retryable interface{ Retryable() bool }
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return true
}
