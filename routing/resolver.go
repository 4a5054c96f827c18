// Package routing maps sessions to landing pages and decides whether a protected route may render.
package routing

import (
	"path"
	"strings"

	"github.com/jrsteele09/go-auth-session/users"
)

const (
	OrganizerPath   = "/organizer"
	JudgePath       = "/judge"
	ParticipantPath = "/participant"
	DashboardPath   = "/dashboard"
	LoginPath       = "/login"
)

// rolePaths is ordered by precedence.
var rolePaths = []struct {
	role users.RoleType
	path string
}{
	{users.RoleOrganizer, OrganizerPath},
	{users.RoleJudge, JudgePath},
	{users.RoleParticipant, ParticipantPath},
}

// ResolveLandingPath returns where user should land after signing in. Precedence is
// organizer, judge, participant, then the generic dashboard. intendedPath is used only
// when it lies under the resolved path.
func ResolveLandingPath(user *users.User, intendedPath string) string {
	resolved := DashboardPath
	for _, rp := range rolePaths {
		if user.HasRole(string(rp.role)) {
			resolved = rp.path
			break
		}
	}

	if intended, ok := cleanLocalPath(intendedPath); ok && underPrefix(intended, resolved) {
		return intended
	}
	return resolved
}

// cleanLocalPath accepts only absolute in-app paths, rejecting anything a browser would treat
// as another origin.
func cleanLocalPath(p string) (string, bool) {
	p = strings.TrimSpace(p)
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, `\`) {
		return "", false
	}
	query := ""
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p, query = p[:i], p[i:]
	}
	return path.Clean(p) + query, true
}

func underPrefix(p, prefix string) bool {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// RequiredRoles returns the role that owns the area p lies in, or nil outside the role areas.
func RequiredRoles(p string) []string {
	clean, ok := cleanLocalPath(p)
	if !ok {
		return nil
	}
	for _, rp := range rolePaths {
		if underPrefix(clean, rp.path) {
			return []string{string(rp.role)}
		}
	}
	return nil
}
