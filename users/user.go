package users

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// RoleType is a tag on a user used for landing-page resolution and route gating.
// A user may hold several roles at once.
type RoleType string

const (
	RoleOrganizer   RoleType = "organizer"
	RoleJudge       RoleType = "judge"
	RoleParticipant RoleType = "participant"
)

// ID is the user's identifier. The API sends it either as a JSON string or a number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id must be a string or number: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("user id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

type User struct {
	ID          ID         `json:"id"`                    // Unique identifier for the user
	DisplayName string     `json:"displayName,omitempty"` // Name shown in the UI
	Email       string     `json:"email,omitempty"`       // User's email address
	Roles       []RoleType `json:"roles,omitempty"`       // Role set, order is not significant
}

// UnmarshalJSON accepts the legacy single "role" field alongside "roles".
func (u *User) UnmarshalJSON(b []byte) error {
	type plain User
	var raw struct {
		plain
		Role RoleType `json:"role,omitempty"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*u = User(raw.plain)
	if raw.Role != "" && !u.HasRole(string(raw.Role)) {
		u.Roles = append(u.Roles, raw.Role)
	}
	return nil
}

// UserUpdate is a partial profile edit. Nil fields are left untouched; Roles are only
// replaced when the update carries them.
type UserUpdate struct {
	DisplayName *string     `json:"displayName,omitempty"`
	Email       *string     `json:"email,omitempty"`
	Roles       *[]RoleType `json:"roles,omitempty"`
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// HasRole reports whether the user holds role. Matching is case-insensitive and exact.
func (u *User) HasRole(role string) bool {
	if u == nil {
		return false
	}
	want := normaliseRole(role)
	if want == "" {
		return false
	}
	for _, r := range u.Roles {
		if normaliseRole(string(r)) == want {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the user holds at least one of roles.
func (u *User) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if u.HasRole(r) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so snapshots handed out never alias session state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = slices.Clone(u.Roles)
	return &c
}

// Apply returns a copy of u with the update shallow-merged in.
func (u *User) Apply(update UserUpdate) *User {
	c := u.Clone()
	if c == nil {
		return nil
	}
	if update.DisplayName != nil {
		c.DisplayName = *update.DisplayName
	}
	if update.Email != nil {
		c.Email = *update.Email
	}
	if update.Roles != nil {
		c.Roles = slices.Clone(*update.Roles)
	}
	return c
}
