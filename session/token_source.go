package session

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-auth-session/internal/errors"
)

type expiryReader interface {
	ExpiresAt(rawToken string) (time.Time, bool)
}

type tokenSource struct {
	m *Manager
}

// TokenSource exposes the session's access token to oauth2-aware HTTP clients. Token fails
// with errors.ErrNotAuthenticated while the session is not authenticated.
func (m *Manager) TokenSource() oauth2.TokenSource {
	return tokenSource{m: m}
}

// HTTPClient returns a client that sends the current access token as a Bearer header. The
// token is read on every request, so a logout takes effect immediately. base may be nil.
func (m *Manager) HTTPClient(base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &oauth2.Transport{Source: m.TokenSource(), Base: base}}
}

func (ts tokenSource) Token() (*oauth2.Token, error) {
	snap := ts.m.Snapshot()
	if !snap.IsAuthenticated() {
		return nil, fmt.Errorf("[session.TokenSource] %w", errors.ErrNotAuthenticated)
	}
	tok := &oauth2.Token{AccessToken: snap.AccessToken(), TokenType: "Bearer"}
	if r, ok := ts.m.validator.(expiryReader); ok {
		if exp, ok := r.ExpiresAt(tok.AccessToken); ok {
			tok.Expiry = exp
		}
	}
	return tok, nil
}
