// Package client wires the session core together from configuration.
package client

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-session/api"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/realtime"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/tokenstore"
	faketokenstore "github.com/jrsteele09/go-auth-session/tokenstore/repofake"
)

// Store drivers accepted by store.driver.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Client is the assembled session core.
type Client struct {
	Config   config.Config
	Store    tokenstore.Store
	API      api.API
	Session  *session.Manager
	Realtime *realtime.Manager

	// Metrics and Registry are nil unless metrics.enabled is set.
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	closers []func() error
	log     zerolog.Logger
}

type options struct {
	api      api.API
	store    tokenstore.Store
	dialer   realtime.Dialer
	verifier session.ProviderVerifier
	log      zerolog.Logger
}

// Option overrides a component that would otherwise be built from configuration.
type Option func(*options)

func WithAPI(a api.API) Option {
	return func(o *options) {
		o.api = a
	}
}

func WithStore(s tokenstore.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

func WithDialer(d realtime.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

func WithProviderVerifier(v session.ProviderVerifier) Option {
	return func(o *options) {
		o.verifier = v
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// New builds every component. The session is not initialized and the realtime manager is not
// running until Start is called.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Client, error) {
	o := options{log: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{Config: cfg, log: o.log}

	c.Store = o.store
	if c.Store == nil {
		store, closer, err := OpenStore(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("[client.New] open token store: %w", err)
		}
		c.Store = store
		if closer != nil {
			c.closers = append(c.closers, closer)
		}
	}

	c.API = o.api
	if c.API == nil {
		c.API = api.NewHTTPClient(cfg.GetAPIBaseURL(), cfg.GetAPITimeout(), api.WithLogger(o.log))
	}

	verifier := o.verifier
	if verifier == nil && cfg.GetOIDCIssuer() != "" {
		v, err := session.NewOIDCVerifier(ctx, cfg.GetOIDCIssuer(), cfg.GetOIDCClientID())
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("[client.New] %w", err)
		}
		verifier = v
	}

	sessionOpts := []session.ManagerOption{
		session.WithValidator(token.NewInspector(token.WithClockSkew(cfg.GetClockSkew()))),
		session.WithLoginTimeout(cfg.GetLoginTimeout()),
		session.WithRefreshTimeout(cfg.GetRefreshTimeout()),
		session.WithLogger(o.log),
	}
	if verifier != nil {
		sessionOpts = append(sessionOpts, session.WithProviderVerifier(verifier))
	}
	sm, err := session.New(c.Store, c.API, sessionOpts...)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("[client.New] %w", err)
	}
	c.Session = sm

	dialer := o.dialer
	if dialer == nil {
		dialer = realtime.NewWebsocketDialer(cfg.GetRealtimeURL(),
			realtime.WithSubprotocol(cfg.GetRealtimeSubprotocol()),
			realtime.WithHandshakeTimeout(cfg.GetHandshakeTimeout()),
			realtime.WithDialerLogger(o.log),
		)
	}
	rm, err := realtime.NewManager(sm, dialer,
		realtime.WithBackoff(cfg.GetBackoffInitial(), cfg.GetBackoffMax(), cfg.GetBackoffMultiplier()),
		realtime.WithLogger(o.log),
	)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("[client.New] %w", err)
	}
	c.Realtime = rm

	if cfg.GetMetricsEnabled() {
		c.Registry, c.Metrics = metrics.NewRegistry()
		c.observe()
	}
	return c, nil
}

// observe feeds session and connection changes into the metrics.
func (c *Client) observe() {
	c.Session.OnTransition(func(tr session.Transition) {
		c.Metrics.RecordTransition(tr.From.Status.String(), tr.To.Status.String(), tr.Forced)
		if tr.Event == session.EventLoginFailure && tr.To.LastError != nil {
			c.Metrics.RecordLoginFailure(string(tr.To.LastError.Kind))
		}
	})

	states := make([]string, 0, len(realtime.States))
	for _, s := range realtime.States {
		states = append(states, s.String())
	}
	c.Metrics.SetRealtimeState(states, realtime.Disconnected.String())
	c.Realtime.OnStateChange(func(sc realtime.StateChange) {
		c.Metrics.SetRealtimeState(states, sc.To.String())
		if sc.To == realtime.Connecting && sc.Attempt > 0 {
			c.Metrics.RecordReconnect()
		}
	})
}

// Run initializes the session and keeps the realtime channel bound to it until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- c.Realtime.Run(ctx) }()

	if err := c.Session.Initialize(ctx); err != nil {
		c.log.Warn().Err(err).Msg("client.initialize")
	}
	return <-done
}

// Close releases the token store.
func (c *Client) Close() error {
	var firstErr error
	for _, closer := range c.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

// OpenStore builds the token store selected by store.driver. The returned closer may be nil.
func OpenStore(ctx context.Context, cfg config.Config) (tokenstore.Store, func() error, error) {
	switch strings.ToLower(cfg.GetStoreDriver()) {
	case DriverFile, "":
		var fileOpts []tokenstore.FileOption
		if hexKey := cfg.GetStoreEncryptionKey(); hexKey != "" {
			key, err := tokenstore.ParseKeyHex(hexKey)
			if err != nil {
				return nil, nil, fmt.Errorf("[client.OpenStore] %w", err)
			}
			fileOpts = append(fileOpts, tokenstore.WithEncryptionKey(key))
		}
		return tokenstore.NewFileStore(cfg.GetStorePath(), fileOpts...), nil, nil

	case DriverSQLite:
		path := cfg.GetStorePath()
		if filepath.Ext(path) == ".json" {
			path = strings.TrimSuffix(path, ".json") + ".db"
		}
		s, err := tokenstore.OpenSQLite(path)
		if err != nil {
			return nil, nil, fmt.Errorf("[client.OpenStore] %w", err)
		}
		return s, s.Close, nil

	case DriverRedis:
		rc, err := tokenstore.NewRedisClient(ctx, cfg.GetRedisAddr(), cfg.GetRedisPassword(), cfg.GetRedisDB())
		if err != nil {
			return nil, nil, fmt.Errorf("[client.OpenStore] %w", err)
		}
		s := tokenstore.NewRedisStore(rc, cfg.GetRedisPrefix())
		return s, s.Close, nil

	case DriverMemory:
		return faketokenstore.NewFakeTokenStore(), nil, nil
	}
	return nil, nil, fmt.Errorf("[client.OpenStore] unknown store driver %q", cfg.GetStoreDriver())
}
