package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrMalformedResponse is returned when a model reply does not conform to the expected JSON
	ErrMalformedResponse = errors.New("malformed model response")
	// ErrValidation is returned when a parsed candidate lacks required fields
	ErrValidation = errors.New("candidate failed validation")
)

// AuthError means the mailbox credential is invalid or expired
type AuthError struct {
	Provider string
	Cause    error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: reconnect required: %v", e.Provider, e.Cause)
	}
	return fmt.Sprintf("%s: reconnect required", e.Provider)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// FetchError is a transient mailbox transport failure
type FetchError struct {
	Provider string
	Cause    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch failed: %v", e.Provider, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// RetryableError wraps a rate-limit class failure of a model call
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is or wraps an AuthError
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsFetchError reports whether err is or wraps a FetchError
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsRetryable reports whether err is or wraps a RetryableError
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
