package routing_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-auth-session/routing"
	"github.com/jrsteele09/go-auth-session/users"
)

func userWithRoles(roles ...users.RoleType) *users.User {
	return &users.User{ID: "1", Roles: roles}
}

func TestResolveLandingPath_Precedence(t *testing.T) {
	tests := map[string]struct {
		user *users.User
		want string
	}{
		"organizer beats participant": {userWithRoles(users.RoleParticipant, users.RoleOrganizer), routing.OrganizerPath},
		"judge beats participant":     {userWithRoles(users.RoleParticipant, users.RoleJudge), routing.JudgePath},
		"organizer beats judge":       {userWithRoles(users.RoleJudge, users.RoleOrganizer), routing.OrganizerPath},
		"participant only":            {userWithRoles(users.RoleParticipant), routing.ParticipantPath},
		"no roles":                    {userWithRoles(), routing.DashboardPath},
		"unknown role":                {userWithRoles("sponsor"), routing.DashboardPath},
		"mixed case role":             {userWithRoles("Judge"), routing.JudgePath},
		"nil user":                    {nil, routing.DashboardPath},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				require.Equal(t, tt.want, routing.ResolveLandingPath(tt.user, ""))
			}
		})
	}
}

func TestResolveLandingPath_IntendedPath(t *testing.T) {
	organizer := userWithRoles(users.RoleOrganizer, users.RoleParticipant)

	tests := map[string]struct {
		intended string
		want     string
	}{
		"under resolved prefix": {"/organizer/events/7", "/organizer/events/7"},
		"resolved path itself":  {"/organizer", "/organizer"},
		"keeps query":           {"/organizer/events?tab=judges", "/organizer/events?tab=judges"},
		"other role's area":     {"/participant/events", routing.OrganizerPath},
		"prefix lookalike":      {"/organizers", routing.OrganizerPath},
		"traversal out":         {"/organizer/../admin", routing.OrganizerPath},
		"protocol relative":     {"//evil.example.com/organizer", routing.OrganizerPath},
		"absolute url":          {"https://evil.example.com/organizer", routing.OrganizerPath},
		"relative path":         {"organizer/events", routing.OrganizerPath},
		"backslash":             {`/organizer\..\admin`, routing.OrganizerPath},
		"dot segments inside":   {"/organizer/./events/", "/organizer/events"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.want, routing.ResolveLandingPath(organizer, tt.intended))
		})
	}
}

func TestResolveLandingPath_LoginScenario(t *testing.T) {
	require.Equal(t, "/organizer", routing.ResolveLandingPath(userWithRoles(users.RoleOrganizer), ""))
	require.Equal(t, "/dashboard/settings", routing.ResolveLandingPath(userWithRoles(), "/dashboard/settings"))
}

func TestRequiredRoles(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{path: "/organizer", want: []string{"organizer"}},
		{path: "/organizer/events/7?tab=1", want: []string{"organizer"}},
		{path: "/judge/round/2", want: []string{"judge"}},
		{path: "/participant", want: []string{"participant"}},
		{path: "/organizers"},
		{path: "/judgement/x"},
		{path: "/dashboard"},
		{path: "//organizer"},
		{path: "organizer"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			require.Equal(t, tt.want, routing.RequiredRoles(tt.path))
		})
	}
}
