package api

import (
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-auth-session/internal/errors"
)

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Unwrap maps 401 and 403 to errors.ErrUnauthorized.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.ErrUnauthorized
	}
	return nil
}

// IsUnauthorized reports whether err is a rejection of the presented credentials.
func IsUnauthorized(err error) bool {
	return errors.Is(err, errors.ErrUnauthorized)
}

// IsNetworkFailure reports whether the request never completed.
func IsNetworkFailure(err error) bool {
	return errors.Is(err, errors.ErrNetworkFailure)
}
