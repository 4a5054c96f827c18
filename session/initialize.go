package session

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/tokenstore"
	"github.com/jrsteele09/go-auth-session/users"
)

// Initialize rehydrates the session from the token store. It runs once per Manager; later calls
// return errors.ErrAlreadyInitialized. Whatever happens, the session is settled (Authenticated
// or Unauthenticated, Initialized) when it returns, and at most one refresh is attempted.
//
// The outcome is read from Snapshot; an error is only returned when the call itself was
// refused or its result was discarded because of a concurrent Logout.
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("[session.Initialize] %w", errors.ErrAlreadyInitialized)
	}

	// Nothing else may hold the slot for long before initialization: every other mutating
	// call refuses to run until the session is initialized.
	m.sem <- struct{}{}
	defer m.release()

	gen := m.currentGeneration()
	started := false
	m.commit(gen, func() { started = m.machine.apply(Event{Type: EventStartInit}) })
	if !started {
		// A Logout already settled the session.
		return fmt.Errorf("[session.Initialize] %w", errors.ErrStaleResult)
	}

	tokens, err := tokenstore.Load(ctx, m.store)
	if err != nil {
		m.log.Warn().Err(err).Msg("session.init.load_failed")
		return m.settle(gen, Event{Type: EventInitFailure, Err: &Error{Kind: KindUnknown, Message: "Stored session could not be read", Err: err}})
	}
	if tokens.Empty() {
		m.log.Debug().Msg("session.init.no_tokens")
		return m.settle(gen, Event{Type: EventInitFailure})
	}

	if tokens.Access != "" && m.validator.Valid(tokens.Access) {
		user, err := m.fetchUser(ctx, tokens.Access)
		if err == nil {
			ok := m.commit(gen, func() {
				m.machine.apply(Event{Type: EventInitSuccess, User: user, AccessToken: tokens.Access, RefreshToken: tokens.Refresh})
			})
			if !ok {
				return fmt.Errorf("[session.Initialize] %w", errors.ErrStaleResult)
			}
			m.log.Info().Str("user_id", string(user.ID)).Msg("session.init.restored")
			return nil
		}
		m.log.Debug().Err(err).Msg("session.init.access_rejected")
	}

	if !m.commit(gen, func() { m.machine.apply(Event{Type: EventInitNeedsRefresh}) }) {
		return fmt.Errorf("[session.Initialize] %w", errors.ErrStaleResult)
	}

	user, access, refresh, err := m.refresh(ctx, tokens.Refresh)
	if err != nil {
		m.log.Info().Err(err).Msg("session.init.refresh_failed")
		cause := sessionExpired(err)
		if ctx.Err() != nil {
			// The caller went away; the stored session may still be good next time.
			cause = &Error{Kind: KindNetworkFailure, Message: "Session restore was interrupted", Err: err}
		}
		ok := m.commit(gen, func() {
			if cause.Kind == KindSessionExpired {
				_ = m.purge(ctx)
			} else {
				m.log.Debug().Msg("session.init.cancelled")
			}
			m.machine.apply(Event{Type: EventRefreshFailure, Err: cause})
		})
		if !ok {
			return fmt.Errorf("[session.Initialize] %w", errors.ErrStaleResult)
		}
		return nil
	}

	ok := m.commit(gen, func() {
		m.persist(ctx, access, refresh)
		m.machine.apply(Event{Type: EventRefreshSuccess, User: user, AccessToken: access, RefreshToken: nonEmpty(refresh, tokens.Refresh)})
	})
	if !ok {
		return fmt.Errorf("[session.Initialize] %w", errors.ErrStaleResult)
	}
	m.log.Info().Str("user_id", string(user.ID)).Msg("session.init.refreshed")
	return nil
}

func (m *Manager) settle(gen uint64, e Event) error {
	if !m.commit(gen, func() { m.machine.apply(e) }) {
		return fmt.Errorf("[session.Initialize] %w", errors.ErrStaleResult)
	}
	return nil
}

func (m *Manager) fetchUser(ctx context.Context, access string) (*users.User, error) {
	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()
	user, err := m.api.Me(ctx, access)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("[session.fetchUser] %w", errors.ErrMalformedResponse)
	}
	return user, nil
}

// refresh exchanges refreshToken for a new access token and fetches the user with it. The
// whole exchange is bounded by the refresh timeout; a timeout counts as a failure.
func (m *Manager) refresh(ctx context.Context, refreshToken string) (user *users.User, access, refresh string, err error) {
	if refreshToken == "" {
		return nil, "", "", fmt.Errorf("[session.refresh] no refresh token stored: %w", errors.ErrSessionExpired)
	}

	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	resp, err := m.api.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, "", "", fmt.Errorf("[session.refresh] %w", err)
	}
	if err := resp.Validate(); err != nil {
		return nil, "", "", fmt.Errorf("[session.refresh] %w", err)
	}

	user, err = m.api.Me(ctx, resp.AccessToken)
	if err != nil {
		return nil, "", "", fmt.Errorf("[session.refresh] fetch user: %w", err)
	}
	if user == nil {
		return nil, "", "", fmt.Errorf("[session.refresh] fetch user: %w", errors.ErrMalformedResponse)
	}
	return user, resp.AccessToken, resp.RefreshToken, nil
}

func nonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
