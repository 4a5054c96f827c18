package api

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/users"
)

// API is the subset of the backend the session core consumes. Implementations must honour ctx
// cancellation; the session manager bounds login and refresh calls with it.
type API interface {
	Login(ctx context.Context, credentials Credentials) (*AuthResponse, error)
	LoginWithProvider(ctx context.Context, providerToken string) (*ProviderResponse, error)
	Register(ctx context.Context, profile Profile) (*AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error)
	Me(ctx context.Context, accessToken string) (*users.User, error)
	Logout(ctx context.Context, accessToken string) error
}

// Credentials is the body of POST /login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Profile is the body of POST /register.
type Profile struct {
	Email         string           `json:"email"`
	Password      string           `json:"password,omitempty"`
	DisplayName   string           `json:"displayName,omitempty"`
	Roles         []users.RoleType `json:"roles,omitempty"`
	ProviderToken string           `json:"providerToken,omitempty"` // set when completing a provider pre-registration
}

// AuthResponse is returned by /login, /register and a completed /login/oauth exchange.
type AuthResponse struct {
	// User is the authenticated user record.
	User *users.User `json:"user"`

	// AccessToken is the short-lived bearer credential.
	// Usage: "Authorization: Bearer <accessToken>" and the realtime handshake.
	AccessToken string `json:"accessToken"`

	// RefreshToken is the long-lived credential exchanged at /token/refresh.
	RefreshToken string `json:"refreshToken"`
}

func (r *AuthResponse) Validate() error {
	if r == nil || r.User == nil || r.AccessToken == "" {
		return fmt.Errorf("auth response missing user or access token: %w", errors.ErrMalformedResponse)
	}
	return nil
}

// ProviderResponse is returned by /login/oauth. Exactly one of the two shapes is populated:
// a completed exchange (embedded AuthResponse) or a pre-registration prompt.
type ProviderResponse struct {
	AuthResponse

	// RequiresRegistration is set when the provider identity has no account yet.
	RequiresRegistration bool `json:"requiresRegistration,omitempty"`

	// PrefillData carries profile fields from the provider for the registration form.
	PrefillData map[string]string `json:"prefillData,omitempty"`
}

func (r *ProviderResponse) Validate() error {
	if r == nil {
		return fmt.Errorf("empty provider response: %w", errors.ErrMalformedResponse)
	}
	if r.RequiresRegistration {
		return nil
	}
	return r.AuthResponse.Validate()
}

// RefreshResponse is returned by /token/refresh.
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`

	// RefreshToken is only present when the server rotates refresh tokens.
	RefreshToken string `json:"refreshToken,omitempty"`
}

func (r *RefreshResponse) Validate() error {
	if r == nil || r.AccessToken == "" {
		return fmt.Errorf("refresh response missing access token: %w", errors.ErrMalformedResponse)
	}
	return nil
}

type meResponse struct {
	User *users.User `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type providerRequest struct {
	ProviderToken string `json:"providerToken"`
}

// errorBody is the JSON error envelope the backend returns on non-2xx responses.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
