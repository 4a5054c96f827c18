// Package session owns the process-wide authentication session: a closed state machine, the
// one-shot initialization protocol, and the login/logout operations that drive it.
package session

import (
	"github.com/jrsteele09/go-auth-session/users"
)

// Status is the session's lifecycle state.
type Status int

const (
	Uninitialized Status = iota
	Initializing
	Authenticated
	Unauthenticated
	Refreshing
	Failed
)

func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initializing:
		return "Initializing"
	case Authenticated:
		return "Authenticated"
	case Unauthenticated:
		return "Unauthenticated"
	case Refreshing:
		return "Refreshing"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// EventType names an input to the state machine.
type EventType int

const (
	EventStartInit EventType = iota
	EventInitSuccess
	EventInitNeedsRefresh
	EventInitFailure
	EventRefreshSuccess
	EventRefreshFailure
	EventLoginStart
	EventLoginSuccess
	EventLoginFailure
	EventLoginCancelled // provider login ended in a pre-registration prompt
	EventLogout
	EventUpdateUser
	EventClearError
)

var eventNames = map[EventType]string{
	EventStartInit:        "START_INIT",
	EventInitSuccess:      "INIT_SUCCESS",
	EventInitNeedsRefresh: "INIT_NEEDS_REFRESH",
	EventInitFailure:      "INIT_FAILURE",
	EventRefreshSuccess:   "REFRESH_SUCCESS",
	EventRefreshFailure:   "REFRESH_FAILURE",
	EventLoginStart:       "LOGIN_START",
	EventLoginSuccess:     "LOGIN_SUCCESS",
	EventLoginFailure:     "LOGIN_FAILURE",
	EventLoginCancelled:   "LOGIN_CANCELLED",
	EventLogout:           "LOGOUT",
	EventUpdateUser:       "UPDATE_USER",
	EventClearError:       "CLEAR_ERROR",
}

func (e EventType) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return "UNKNOWN"
}

// Event is a state machine input. Only the fields relevant to Type are read.
type Event struct {
	Type         EventType
	User         *users.User
	AccessToken  string
	RefreshToken string
	Err          *Error
	Update       users.UserUpdate
	Forced       bool // LOGOUT raised by a lower-level component rather than the user
}

// State is the full session record, tokens included. It never leaves the package except
// through Snapshot.
type State struct {
	Status       Status
	User         *users.User
	AccessToken  string
	RefreshToken string
	LastError    *Error
	Initialized  bool
	Busy         bool
}

func (s State) settled() bool {
	return s.Status == Authenticated || s.Status == Unauthenticated
}

func (s State) withSession(u *users.User, access, refresh string) State {
	s.Status = Authenticated
	s.User = u.Clone()
	s.AccessToken = access
	if refresh != "" {
		s.RefreshToken = refresh
	}
	s.Initialized = true
	s.Busy = false
	return s
}

func (s State) withoutSession() State {
	s.Status = Unauthenticated
	s.User = nil
	s.AccessToken = ""
	s.RefreshToken = ""
	s.Initialized = true
	s.Busy = false
	return s
}

// Reduce applies e to s. It is pure: the returned State shares nothing mutable with s.
// ok is false when e is not legal in s, in which case s is returned unchanged.
//
// REFRESH_FAILURE yields Failed; callers normalise it with Normalize.
func Reduce(s State, e Event) (next State, ok bool) {
	s.User = s.User.Clone()
	s.LastError = s.LastError.clone()

	switch e.Type {
	case EventStartInit:
		if s.Status != Uninitialized {
			return s, false
		}
		s.Status = Initializing
		return s, true

	case EventInitSuccess:
		if s.Status != Initializing || e.User == nil || e.AccessToken == "" {
			return s, false
		}
		return s.withSession(e.User, e.AccessToken, e.RefreshToken), true

	case EventInitNeedsRefresh:
		if s.Status != Initializing {
			return s, false
		}
		s.Status = Refreshing
		return s, true

	case EventInitFailure:
		if s.Status != Initializing {
			return s, false
		}
		s = s.withoutSession()
		if e.Err != nil {
			s.LastError = e.Err.clone()
		}
		return s, true

	case EventRefreshSuccess:
		if s.Status != Refreshing || e.User == nil || e.AccessToken == "" {
			return s, false
		}
		return s.withSession(e.User, e.AccessToken, e.RefreshToken), true

	case EventRefreshFailure:
		if s.Status != Refreshing {
			return s, false
		}
		s.Status = Failed
		s.User = nil
		s.AccessToken = ""
		s.RefreshToken = ""
		s.LastError = e.Err.clone()
		if s.LastError == nil {
			s.LastError = &Error{Kind: KindSessionExpired, Message: "Your session has expired. Please sign in again."}
		}
		return s, true

	case EventLoginStart:
		if !s.Initialized || !s.settled() || s.Busy {
			return s, false
		}
		s.Busy = true
		return s, true

	case EventLoginSuccess:
		if !s.Busy || !s.settled() || e.User == nil || e.AccessToken == "" {
			return s, false
		}
		s = s.withSession(e.User, e.AccessToken, e.RefreshToken)
		s.RefreshToken = e.RefreshToken
		s.LastError = nil
		return s, true

	case EventLoginFailure:
		if !s.Busy || !s.settled() {
			return s, false
		}
		// An existing session survives a failed login attempt.
		s.Busy = false
		s.LastError = e.Err.clone()
		return s, true

	case EventLoginCancelled:
		if !s.Busy {
			return s, false
		}
		s.Busy = false
		return s, true

	case EventLogout:
		s = s.withoutSession()
		if e.Err != nil {
			s.LastError = e.Err.clone()
		}
		return s, true

	case EventUpdateUser:
		if s.Status != Authenticated || s.User == nil {
			return s, false
		}
		s.User = s.User.Apply(e.Update)
		return s, true

	case EventClearError:
		s.LastError = nil
		return s, true
	}
	return s, false
}

// Normalize resolves transient terminal states. Failed becomes Unauthenticated and keeps its error.
func Normalize(s State) State {
	if s.Status != Failed {
		return s
	}
	lastErr := s.LastError
	s = s.withoutSession()
	s.LastError = lastErr
	return s
}
