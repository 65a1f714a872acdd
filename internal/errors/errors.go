package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session coordinator
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthExpired        = errors.New("authentication expired")

	// Transport errors
	ErrNetworkFailure = errors.New("network failure")
	ErrUnexpectedBody = errors.New("unexpected response body")

	// Session errors
	ErrNoSession      = errors.New("no session")
	ErrSessionExpired = errors.New("session expired")

	// General errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join wraps err so that it matches both kind and err's own chain.
// Used to classify a transport error as AuthExpired without losing its cause.
func Join(kind, err error) error {
	if err == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, err)
}
