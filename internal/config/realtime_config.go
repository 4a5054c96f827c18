package config

import "time"

type RealtimeConfig interface {
	GetRealtimeURL() string
	GetRealtimeSubprotocol() string
	GetHandshakeTimeout() time.Duration
	GetBackoffInitial() time.Duration
	GetBackoffMax() time.Duration
	GetBackoffMultiplier() float64
}

type realtimeValues struct {
	URL              string
	Subprotocol      string
	HandshakeTimeout time.Duration
	Backoff          backoffValues
}

type backoffValues struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

var _ RealtimeConfig = mainConfig{}

// GetRealtimeURL returns the websocket endpoint. Empty disables the realtime channel.
func (c mainConfig) GetRealtimeURL() string {
	return c.v.Realtime.URL
}

func (c mainConfig) GetRealtimeSubprotocol() string {
	return c.v.Realtime.Subprotocol
}

func (c mainConfig) GetHandshakeTimeout() time.Duration {
	return c.v.Realtime.HandshakeTimeout
}

func (c mainConfig) GetBackoffInitial() time.Duration {
	return c.v.Realtime.Backoff.Initial
}

func (c mainConfig) GetBackoffMax() time.Duration {
	return c.v.Realtime.Backoff.Max
}

func (c mainConfig) GetBackoffMultiplier() float64 {
	if c.v.Realtime.Backoff.Multiplier < 1 {
		return 2
	}
	return c.v.Realtime.Backoff.Multiplier
}
