package config

import "time"

type SessionConfig interface {
	GetClockSkew() time.Duration
	GetOIDCIssuer() string
	GetOIDCClientID() string
}

type sessionValues struct {
	ClockSkew time.Duration
}

type oidcValues struct {
	Issuer   string
	ClientID string
}

var _ SessionConfig = mainConfig{}

// GetClockSkew is subtracted from a token's expiry when checking it locally.
func (c mainConfig) GetClockSkew() time.Duration {
	return c.v.Session.ClockSkew
}

// GetOIDCIssuer returns the identity provider issuer. Empty disables provider token pre-verification.
func (c mainConfig) GetOIDCIssuer() string {
	return c.v.OIDC.Issuer
}

func (c mainConfig) GetOIDCClientID() string {
	return c.v.OIDC.ClientID
}
