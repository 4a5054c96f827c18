package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-session/api"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/tokenstore"
	"github.com/jrsteele09/go-auth-session/users"
)

const (
	defaultLoginTimeout   = 15 * time.Second
	defaultRefreshTimeout = 10 * time.Second
	defaultLogoutTimeout  = 5 * time.Second
)

// Manager is the single owner of the session. Login, provider login, register and
// initialization are serialized; Logout and ForceLogout never wait behind them and instead
// invalidate whatever is in flight.
type Manager struct {
	machine   *Machine
	store     tokenstore.Store
	api       api.API
	validator token.Validator
	provider  ProviderVerifier

	loginTimeout   time.Duration
	refreshTimeout time.Duration
	logoutTimeout  time.Duration

	started atomic.Bool
	sem     chan struct{} // one session-mutating call at a time

	// commitLock guards generation and makes "check generation, touch the store, apply the
	// event" atomic with respect to Logout.
	commitLock sync.Mutex
	generation uint64

	log zerolog.Logger
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithValidator replaces the local access-token check run during initialization.
func WithValidator(v token.Validator) ManagerOption {
	return func(m *Manager) {
		m.validator = v
	}
}

// WithProviderVerifier verifies provider ID tokens locally before they are sent to /login/oauth.
func WithProviderVerifier(v ProviderVerifier) ManagerOption {
	return func(m *Manager) {
		m.provider = v
	}
}

func WithLoginTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.loginTimeout = d
	}
}

// WithRefreshTimeout bounds the refresh call and the user fetches made during initialization.
func WithRefreshTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refreshTimeout = d
	}
}

func WithLogoutTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.logoutTimeout = d
	}
}

func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = l
	}
}

// New builds a Manager in the Uninitialized state. Call Initialize once before anything else.
func New(store tokenstore.Store, backend api.API, options ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("[session.New] token store is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("[session.New] api is required")
	}

	m := &Manager{
		store:          store,
		api:            backend,
		loginTimeout:   defaultLoginTimeout,
		refreshTimeout: defaultRefreshTimeout,
		logoutTimeout:  defaultLogoutTimeout,
		sem:            make(chan struct{}, 1),
		log:            log.Logger,
	}
	for _, opt := range options {
		opt(m)
	}
	if m.validator == nil {
		m.validator = token.NewInspector()
	}
	m.machine = NewMachine(WithMachineLogger(m.log))
	return m, nil
}

// Snapshot returns the current read-model.
func (m *Manager) Snapshot() Snapshot {
	return m.machine.Snapshot()
}

// AccessToken returns the current access token, or "" when not authenticated.
func (m *Manager) AccessToken() string {
	return m.machine.Snapshot().AccessToken()
}

func (m *Manager) HasRole(role string) bool {
	return m.machine.Snapshot().HasRole(role)
}

func (m *Manager) HasAnyRole(roles ...string) bool {
	return m.machine.Snapshot().HasAnyRole(roles...)
}

// OnTransition subscribes fn to every applied transition, in order.
func (m *Manager) OnTransition(fn func(Transition)) (unsubscribe func()) {
	return m.machine.OnTransition(fn)
}

// UpdateUser merges update into the current user. It reports false when not authenticated.
func (m *Manager) UpdateUser(update users.UserUpdate) bool {
	return m.machine.Dispatch(Event{Type: EventUpdateUser, Update: update})
}

// ClearError drops the last error. Errors are never cleared implicitly.
func (m *Manager) ClearError() {
	m.machine.Dispatch(Event{Type: EventClearError})
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errors.ErrBusy, ctx.Err())
	}
}

func (m *Manager) release() {
	<-m.sem
}

func (m *Manager) currentGeneration() uint64 {
	m.commitLock.Lock()
	defer m.commitLock.Unlock()
	return m.generation
}

// commit runs fn only if no Logout happened since gen was read. fn runs with commitLock held
// and must only touch the store and apply events; delivery happens after the lock is released.
func (m *Manager) commit(gen uint64, fn func()) bool {
	m.commitLock.Lock()
	if gen != m.generation {
		m.commitLock.Unlock()
		m.log.Debug().Uint64("generation", gen).Msg("session.result.stale")
		return false
	}
	fn()
	m.commitLock.Unlock()
	m.machine.flush()
	return true
}

// persist mirrors tokens into the store. A failed write leaves the in-memory session intact;
// the next process start simply won't find it.
func (m *Manager) persist(ctx context.Context, access, refresh string) {
	err := tokenstore.Save(context.WithoutCancel(ctx), m.store, tokenstore.Tokens{Access: access, Refresh: refresh})
	if err != nil {
		m.log.Warn().Err(err).Msg("session.persist.failed")
	}
}

func (m *Manager) purge(ctx context.Context) error {
	if err := tokenstore.Purge(context.WithoutCancel(ctx), m.store); err != nil {
		m.log.Warn().Err(err).Msg("session.purge.failed")
		return err
	}
	return nil
}
