package domain

import (
	"errors"
	"fmt"
	"time"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "depth", "ticker")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// RateLimitError is returned when the exchange asks the caller to slow down.
type RateLimitError struct {
	Op         string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited (retry after %s)", e.Op, e.RetryAfter)
}

func (e *RateLimitError) IsRetriable() bool {
	return true
}

// Unwrap lets callers that exhausted their retry budget treat it as an outage.
func (e *RateLimitError) Unwrap() error {
	return ErrDataSourceUnavailable
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// AuthError rejects a subscriber before any data is sent.
type AuthError struct {
	Tier    string
	Reason  string
	Missing bool // credential absent rather than wrong
}

func (e *AuthError) Error() string {
	return "authentication rejected [" + e.Tier + "]: " + e.Reason
}

func (e *AuthError) IsRetriable() bool {
	return false
}

func (e *AuthError) Unwrap() error {
	return ErrAuthenticationRejected
}

var (
	// ErrDataSourceUnavailable means the exchange could not be reached or kept refusing.
	ErrDataSourceUnavailable = errors.New("data source unavailable")

	// ErrMalformedSnapshot is returned for order books with an impossible shape.
	ErrMalformedSnapshot = errors.New("malformed snapshot data")

	// ErrAuthenticationRejected is returned for bad or missing subscriber credentials.
	ErrAuthenticationRejected = errors.New("authentication rejected")

	// ErrSubscriberDelivery marks a broken subscriber connection.
	ErrSubscriberDelivery = errors.New("subscriber delivery failure")

	// ErrOrderNotFound is returned when a hash is not in the registry.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderDead is returned on any attempt to mutate a dead order.
	ErrOrderDead = errors.New("order is dead")

	// ErrInvalidTransition guards the lifecycle edges.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
