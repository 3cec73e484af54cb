package provider

import (
	"errors"
	"fmt"
)

// Common errors for provider operations.
var (
	// ErrNotFound indicates a zone or record set was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates the resource already exists.
	ErrConflict = errors.New("resource already exists")

	// ErrTypeConflict indicates a record exists with a different type that conflicts.
	// For example, a CNAME cannot coexist with an A record at the same hostname.
	ErrTypeConflict = errors.New("record type conflict")

	// ErrUnauthorized indicates authentication failed.
	ErrUnauthorized = errors.New("authorization failed")

	// ErrBadRequest indicates the provider rejected the request payload.
	ErrBadRequest = errors.New("bad request")

	// ErrServer indicates the provider API failed with a 5xx status.
	ErrServer = errors.New("internal server error")

	// ErrProviderUnavailable indicates the provider API is unreachable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrUnsupportedType indicates a record type the provider or model cannot handle.
	ErrUnsupportedType = errors.New("unsupported record type")

	// ErrInvalidRecord indicates a record whose values do not form valid DNS data.
	ErrInvalidRecord = errors.New("invalid record")
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("configuration error: %s=%q: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// ErrConfigMissing creates an error for a missing required configuration field.
func ErrConfigMissing(field string) error {
	return &ConfigError{
		Field:   field,
		Message: "required but not set",
	}
}

// ErrConfigInvalid creates an error for an invalid configuration value.
func ErrConfigInvalid(field, value, message string) error {
	return &ConfigError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider  string
	Operation string
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Operation, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with provider context.
func WrapError(provider, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{
		Provider:  provider,
		Operation: operation,
		Err:       err,
	}
}

// IsNotFound returns true if the error indicates a resource was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error indicates a resource already exists.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsTypeConflict returns true if the error indicates a record type conflict.
func IsTypeConflict(err error) bool {
	return errors.Is(err, ErrTypeConflict)
}

// IsUnauthorized returns true if the error indicates authentication failed.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsBadRequest returns true if the provider rejected the request.
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrBadRequest)
}

// IsServerError returns true if the provider failed with a server-side error.
func IsServerError(err error) bool {
	return errors.Is(err, ErrServer)
}

// IsProviderUnavailable returns true if the error indicates the provider is unreachable.
func IsProviderUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// IsUnsupportedType returns true if the error is about an unsupported record type.
func IsUnsupportedType(err error) bool {
	return errors.Is(err, ErrUnsupportedType)
}
