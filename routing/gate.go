package routing

import (
	"github.com/jrsteele09/go-auth-session/session"
)

// DecisionKind is what the router should do with a protected route.
type DecisionKind int

const (
	Wait DecisionKind = iota
	RedirectToLogin
	RedirectToDashboard
	Render
)

func (k DecisionKind) String() string {
	switch k {
	case Wait:
		return "Wait"
	case RedirectToLogin:
		return "RedirectToLogin"
	case RedirectToDashboard:
		return "RedirectToDashboard"
	case Render:
		return "Render"
	}
	return "Unknown"
}

// Decision is the gate's verdict. Path is the redirect target for the redirect kinds; for
// RedirectToLogin it is the path to come back to after signing in.
type Decision struct {
	Kind DecisionKind
	Path string
}

// Gate decides whether a route requiring any of requiredRoles may render for snap. With no
// required roles any authenticated user passes. Nothing redirects until the session has
// initialized and no login or logout is in flight.
func Gate(snap session.Snapshot, returnPath string, requiredRoles ...string) Decision {
	if !snap.Initialized || snap.Busy || !settled(snap.Status) {
		return Decision{Kind: Wait}
	}
	if !snap.IsAuthenticated() {
		if p, ok := cleanLocalPath(returnPath); ok {
			returnPath = p
		} else {
			returnPath = ""
		}
		return Decision{Kind: RedirectToLogin, Path: returnPath}
	}

	var roles []string
	for _, r := range requiredRoles {
		if r != "" {
			roles = append(roles, r)
		}
	}
	if len(roles) > 0 && !snap.HasAnyRole(roles...) {
		return Decision{Kind: RedirectToDashboard, Path: DashboardPath}
	}
	return Decision{Kind: Render}
}

func settled(s session.Status) bool {
	return s == session.Authenticated || s == session.Unauthenticated
}
