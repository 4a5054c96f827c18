package session

import (
	"github.com/jrsteele09/go-auth-session/users"
)

// Snapshot is an immutable read-model of the session handed to the rest of the application.
type Snapshot struct {
	Status      Status
	User        *users.User
	LastError   *Error
	Initialized bool
	Busy        bool

	accessToken string
}

func (s State) Snapshot() Snapshot {
	return Snapshot{
		Status:      s.Status,
		User:        s.User.Clone(),
		LastError:   s.LastError.clone(),
		Initialized: s.Initialized,
		Busy:        s.Busy,
		accessToken: s.AccessToken,
	}
}

func (s Snapshot) IsAuthenticated() bool {
	return s.Status == Authenticated && s.User != nil
}

// AccessToken is the bearer credential of an authenticated session, empty otherwise.
func (s Snapshot) AccessToken() string {
	if !s.IsAuthenticated() {
		return ""
	}
	return s.accessToken
}

func (s Snapshot) HasRole(role string) bool {
	return s.IsAuthenticated() && s.User.HasRole(role)
}

func (s Snapshot) HasAnyRole(roles ...string) bool {
	return s.IsAuthenticated() && s.User.HasAnyRole(roles...)
}

// Transition is delivered to OnTransition subscribers after every applied event.
type Transition struct {
	Event  EventType
	Forced bool
	From   Snapshot
	To     Snapshot
}
