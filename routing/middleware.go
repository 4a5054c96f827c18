package routing

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/users"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeyUser stores the authenticated *users.User
const ContextKeyUser ContextKey = "user"

// SnapshotSource is anything that can report the current session, normally *session.Manager.
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

// RequireSession applies Gate to every request. Waiting answers 503 with Retry-After so
// clients poll instead of being redirected mid-initialization.
func RequireSession(src SnapshotSource, requiredRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := src.Snapshot()
			decision := Gate(snap, r.URL.RequestURI(), requiredRoles...)

			switch decision.Kind {
			case Wait:
				w.Header().Set("Retry-After", "1")
				http.Error(w, "session is initializing", http.StatusServiceUnavailable)
			case RedirectToLogin:
				target := LoginPath
				if decision.Path != "" {
					target += "?returnTo=" + url.QueryEscape(decision.Path)
				}
				http.Redirect(w, r, target, http.StatusSeeOther)
			case RedirectToDashboard:
				http.Redirect(w, r, decision.Path, http.StatusSeeOther)
			default:
				ctx := context.WithValue(r.Context(), ContextKeyUser, snap.User)
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		})
	}
}

// UserFromContext returns the user RequireSession attached to the request.
func UserFromContext(ctx context.Context) (*users.User, bool) {
	u, ok := ctx.Value(ContextKeyUser).(*users.User)
	return u, ok && u != nil
}
