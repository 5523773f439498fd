package types

import (
	"errors"
	"fmt"
)

// Error kinds reported by Kind. They double as metric labels.
const (
	KindConfiguration = "configuration"
	KindValidation    = "validation"
	KindNetwork       = "network"
	KindTimeout       = "timeout"
	KindProvider      = "provider"
	KindCancelled     = "cancelled"
	KindUnknown       = "unknown"
)

// ConfigurationError reports a missing or invalid credential or model id.
// It is only returned while constructing a client.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// ValidationError reports a request option outside its allowed range.
// It is returned before any network call is made.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s=%v %s", e.Field, e.Value, e.Reason)
}

// NetworkErrorKind distinguishes deadline expiry from other transport failures.
type NetworkErrorKind int

const (
	Transport NetworkErrorKind = iota
	Timeout
)

func (k NetworkErrorKind) String() string {
	if k == Timeout {
		return "timeout"
	}
	return "transport"
}

// NetworkError wraps a transport failure (connection reset, DNS, deadline).
type NetworkError struct {
	Kind NetworkErrorKind
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (%s): %v", e.Kind, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ProviderError carries the failure reported by the remote API.
// StatusCode is zero when the failure arrived inside an open stream.
type ProviderError struct {
	StatusCode int
	Code       string
	Type       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("provider error: %s", msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// CancelledError is returned when the caller's context was cancelled while
// a call was in flight.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled: %v", e.Err)
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

// NewConfigurationError builds a ConfigurationError for field.
func NewConfigurationError(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field string, value any, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// Kind classifies err into one of the Kind* constants.
func Kind(err error) string {
	var (
		cfgErr   *ConfigurationError
		valErr   *ValidationError
		netErr   *NetworkError
		provErr  *ProviderError
		cancelEr *CancelledError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cancelEr):
		return KindCancelled
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &netErr):
		if netErr.Kind == Timeout {
			return KindTimeout
		}
		return KindNetwork
	case errors.As(err, &provErr):
		return KindProvider
	default:
		return KindUnknown
	}
}
