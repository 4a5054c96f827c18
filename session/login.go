package session

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-auth-session/api"
	"github.com/jrsteele09/go-auth-session/internal/errors"
)

// ProviderResult is the outcome of LoginWithProvider. When RequiresRegistration is set the
// session is unchanged and Prefill carries the provider's profile fields for Register.
type ProviderResult struct {
	Authenticated        bool
	RequiresRegistration bool
	Prefill              map[string]string
}

// Login authenticates with email and password. On failure the error is returned and stored as
// LastError; an already-authenticated session is left in place.
func (m *Manager) Login(ctx context.Context, credentials api.Credentials) error {
	return m.authenticate(ctx, "Login", func(ctx context.Context) (*api.AuthResponse, error) {
		return m.api.Login(ctx, credentials)
	})
}

// Register creates an account and signs it in, exactly like a successful Login.
func (m *Manager) Register(ctx context.Context, profile api.Profile) error {
	return m.authenticate(ctx, "Register", func(ctx context.Context) (*api.AuthResponse, error) {
		return m.api.Register(ctx, profile)
	})
}

// LoginWithProvider exchanges an identity-provider token for a session. A provider identity
// without an account yields RequiresRegistration, which is not an error.
func (m *Manager) LoginWithProvider(ctx context.Context, providerToken string) (ProviderResult, error) {
	var result ProviderResult
	err := m.authenticate(ctx, "LoginWithProvider", func(ctx context.Context) (*api.AuthResponse, error) {
		if m.provider != nil {
			if err := m.provider.Verify(ctx, providerToken); err != nil {
				return nil, &Error{Kind: KindInvalidCredentials, Message: "The identity provider token was rejected", Err: err}
			}
		}
		resp, err := m.api.LoginWithProvider(ctx, providerToken)
		if err != nil {
			return nil, err
		}
		if err := resp.Validate(); err != nil {
			return nil, err
		}
		if resp.RequiresRegistration {
			result.RequiresRegistration = true
			result.Prefill = resp.PrefillData
			return nil, nil
		}
		return &resp.AuthResponse, nil
	})
	if err != nil {
		return ProviderResult{}, err
	}
	result.Authenticated = !result.RequiresRegistration
	return result, nil
}

// authenticate runs call with the login timeout and applies its outcome. A nil response
// with a nil error ends the attempt without changing the session.
func (m *Manager) authenticate(ctx context.Context, op string, call func(ctx context.Context) (*api.AuthResponse, error)) error {
	if err := m.acquire(ctx); err != nil {
		return fmt.Errorf("[session.%s] %w", op, err)
	}
	defer m.release()

	gen := m.currentGeneration()
	started := false
	m.commit(gen, func() { started = m.machine.apply(Event{Type: EventLoginStart}) })
	if !started {
		if !m.Snapshot().Initialized {
			return fmt.Errorf("[session.%s] %w", op, errors.ErrNotInitialized)
		}
		return fmt.Errorf("[session.%s] %w", op, errors.ErrBusy)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.loginTimeout)
	resp, err := call(callCtx)
	cancel()
	if err == nil && resp != nil {
		err = resp.Validate()
	}

	if err != nil {
		sessionErr := classify(err)
		if !m.commit(gen, func() { m.machine.apply(Event{Type: EventLoginFailure, Err: sessionErr}) }) {
			return fmt.Errorf("[session.%s] %w", op, errors.ErrStaleResult)
		}
		m.log.Info().Str("op", op).Str("kind", string(sessionErr.Kind)).Msg("session.login.failed")
		return sessionErr
	}

	if resp == nil {
		if !m.commit(gen, func() { m.machine.apply(Event{Type: EventLoginCancelled}) }) {
			return fmt.Errorf("[session.%s] %w", op, errors.ErrStaleResult)
		}
		return nil
	}

	ok := m.commit(gen, func() {
		// Replace rather than merge so a response without a refresh token drops the old one.
		_ = m.purge(ctx)
		m.persist(ctx, resp.AccessToken, resp.RefreshToken)
		m.machine.apply(Event{Type: EventLoginSuccess, User: resp.User, AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken})
	})
	if !ok {
		return fmt.Errorf("[session.%s] %w", op, errors.ErrStaleResult)
	}
	m.log.Info().Str("op", op).Str("user_id", string(resp.User.ID)).Msg("session.login")
	return nil
}

// Logout ends the session. Local state and the token store are cleared unconditionally and
// before the best-effort remote /logout, whose failure is only logged. Any login, register or
// initialization still in flight is invalidated.
func (m *Manager) Logout(ctx context.Context) error {
	m.commitLock.Lock()
	m.generation++
	access := m.machine.current().AccessToken
	m.machine.apply(Event{Type: EventLogout})
	purgeErr := m.purge(ctx)
	m.commitLock.Unlock()
	m.machine.flush()

	m.log.Info().Msg("session.logout")

	if access != "" {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.logoutTimeout)
		if err := m.api.Logout(rctx, access); err != nil {
			m.log.Debug().Err(err).Msg("session.logout.remote_failed")
		}
		cancel()
	}

	if purgeErr != nil {
		return fmt.Errorf("[session.Logout] purge token store: %w", purgeErr)
	}
	return nil
}

// ForceLogout is Logout raised by a lower-level component after the server rejected
// rejectedToken. It does nothing unless the session is authenticated with that token, so a
// late rejection of a token already replaced, or one arriving after the logout it caused,
// cannot cascade. An empty rejectedToken matches any authenticated session. It reports
// whether the session was ended.
func (m *Manager) ForceLogout(ctx context.Context, rejectedToken string, cause error) bool {
	m.commitLock.Lock()
	current := m.machine.current()
	if current.Status != Authenticated || (rejectedToken != "" && rejectedToken != current.AccessToken) {
		m.commitLock.Unlock()
		m.log.Debug().Msg("session.force_logout.ignored")
		return false
	}
	m.generation++
	m.machine.apply(Event{
		Type:   EventLogout,
		Forced: true,
		Err:    &Error{Kind: KindChannelAuthRejected, Message: "Your session was ended by the server. Please sign in again.", Err: cause},
	})
	_ = m.purge(ctx)
	m.commitLock.Unlock()
	m.machine.flush()

	m.log.Warn().Err(cause).Msg("session.force_logout")
	return true
}
