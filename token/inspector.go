package token

import (
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Validator performs the cheap, local validity check on an access token before any network call.
type Validator interface {
	Valid(rawToken string) bool
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(rawToken string) bool

func (f ValidatorFunc) Valid(rawToken string) bool { return f(rawToken) }

// Inspector checks a token's expiry without verifying its signature; the server stays the
// authority and a token that passes here can still be rejected by /me.
type Inspector struct {
	clockSkew time.Duration
	nowFunc   func() time.Time
}

var _ Validator = (*Inspector)(nil)

type InspectorOption func(*Inspector)

// WithClockSkew treats tokens expiring within d as already expired.
func WithClockSkew(d time.Duration) InspectorOption {
	return func(i *Inspector) {
		i.clockSkew = d
	}
}

func WithNowFunc(now func() time.Time) InspectorOption {
	return func(i *Inspector) {
		i.nowFunc = now
	}
}

func NewInspector(options ...InspectorOption) *Inspector {
	i := &Inspector{}
	for _, opt := range options {
		opt(i)
	}
	if i.nowFunc == nil {
		i.nowFunc = func() time.Time { return NowTimeFunc() }
	}
	return i
}

// Valid reports whether rawToken is worth presenting to the server.
//
// Opaque (non-JWT) tokens cannot be inspected locally and are reported valid; a token shaped
// like a JWT that does not parse, or whose exp has passed, is invalid.
func (i *Inspector) Valid(rawToken string) bool {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return false
	}
	if strings.Count(rawToken, ".") != 2 {
		return true
	}

	exp, ok, err := i.expiry(rawToken)
	if err != nil {
		return false
	}
	if !ok {
		return true
	}
	return i.nowFunc().Add(i.clockSkew).Before(exp)
}

// ExpiresAt returns the exp claim of a JWT access token, if it has one.
func (i *Inspector) ExpiresAt(rawToken string) (time.Time, bool) {
	exp, ok, err := i.expiry(strings.TrimSpace(rawToken))
	if err != nil {
		return time.Time{}, false
	}
	return exp, ok
}

func (i *Inspector) expiry(rawToken string) (time.Time, bool, error) {
	unverified, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return time.Time{}, false, err
	}
	exp, err := unverified.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, err
	}
	if exp == nil {
		return time.Time{}, false, nil
	}
	return exp.Time, true, nil
}
