package session

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// ProviderVerifier checks an identity-provider token before it is exchanged at /login/oauth.
type ProviderVerifier interface {
	Verify(ctx context.Context, rawIDToken string) error
}

// OIDCVerifier verifies provider ID tokens against an OpenID Connect issuer: signature,
// issuer, audience and expiry.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

var _ ProviderVerifier = (*OIDCVerifier)(nil)

// NewOIDCVerifier discovers issuer's keys via its /.well-known/openid-configuration.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("[session.NewOIDCVerifier] discover %s: %w", issuer, err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// NewOIDCVerifierWithKeySet verifies against a fixed key set without discovery. now may be nil.
func NewOIDCVerifierWithKeySet(issuer, clientID string, keySet oidc.KeySet, now func() time.Time) *OIDCVerifier {
	return &OIDCVerifier{verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID, Now: now})}
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) error {
	if _, err := v.verifier.Verify(ctx, rawIDToken); err != nil {
		return fmt.Errorf("[OIDCVerifier.Verify] %w", err)
	}
	return nil
}
