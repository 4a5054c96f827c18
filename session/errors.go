package session

import (
	"fmt"

	"github.com/jrsteele09/go-auth-session/api"
	"github.com/jrsteele09/go-auth-session/internal/errors"
)

// ErrorKind classifies the session's last error for display.
type ErrorKind string

const (
	KindInvalidCredentials  ErrorKind = "InvalidCredentials"
	KindSessionExpired      ErrorKind = "SessionExpired"
	KindNetworkFailure      ErrorKind = "NetworkFailure"
	KindChannelAuthRejected ErrorKind = "ChannelAuthRejected"
	KindUnknown             ErrorKind = "Unknown"
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidCredentials:  errors.ErrInvalidCredentials,
	KindSessionExpired:      errors.ErrSessionExpired,
	KindNetworkFailure:      errors.ErrNetworkFailure,
	KindChannelAuthRejected: errors.ErrChannelAuthRejected,
}

// Error is the structured lastError of the session. It unwraps to both the sentinel for its
// Kind and the underlying cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() []error {
	var errs []error
	if s, ok := kindSentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *Error) clone() *Error {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// classify maps an API failure from login, register or provider login to a session error.
func classify(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	switch {
	case api.IsUnauthorized(err):
		msg := "Invalid email or password"
		var status *api.StatusError
		if errors.As(err, &status) && status.Message != "" {
			msg = status.Message
		}
		return &Error{Kind: KindInvalidCredentials, Message: msg, Err: err}
	case api.IsNetworkFailure(err):
		return &Error{Kind: KindNetworkFailure, Message: "Unable to reach the server. Please try again.", Err: err}
	}
	var status *api.StatusError
	if errors.As(err, &status) && status.Message != "" {
		return &Error{Kind: KindUnknown, Message: status.Message, Err: err}
	}
	return &Error{Kind: KindUnknown, Message: "Something went wrong. Please try again.", Err: err}
}

func sessionExpired(cause error) *Error {
	return &Error{Kind: KindSessionExpired, Message: "Your session has expired. Please sign in again.", Err: cause}
}
