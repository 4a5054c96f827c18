package config

import "time"

type APIConfig interface {
	GetAPIBaseURL() string
	GetAPITimeout() time.Duration
	GetLoginTimeout() time.Duration
	GetRefreshTimeout() time.Duration
}

type apiValues struct {
	BaseURL        string
	Timeout        time.Duration
	LoginTimeout   time.Duration
	RefreshTimeout time.Duration
}

var _ APIConfig = mainConfig{}

func (c mainConfig) GetAPIBaseURL() string {
	return c.v.API.BaseURL
}

func (c mainConfig) GetAPITimeout() time.Duration {
	return c.v.API.Timeout
}

// GetLoginTimeout bounds login, provider login and register calls.
func (c mainConfig) GetLoginTimeout() time.Duration {
	return c.v.API.LoginTimeout
}

// GetRefreshTimeout bounds a single refresh attempt. A timed out refresh counts as a failed one.
func (c mainConfig) GetRefreshTimeout() time.Duration {
	return c.v.API.RefreshTimeout
}
