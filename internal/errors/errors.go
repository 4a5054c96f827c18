package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session client
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")

	// Session errors
	ErrSessionExpired     = errors.New("session expired")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrNotInitialized     = errors.New("session not initialized")
	ErrBusy               = errors.New("session operation in progress")
	ErrStaleResult        = errors.New("result discarded, session changed while in flight")

	// Transport errors
	ErrNetworkFailure      = errors.New("network failure")
	ErrChannelAuthRejected = errors.New("realtime channel rejected credentials")
	ErrMalformedResponse   = errors.New("malformed response")

	// General errors
	ErrClosed = errors.New("closed")
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

// Join is errors.Join, re-exported so callers only import this package.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
