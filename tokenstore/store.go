// Package tokenstore persists the session's access and refresh tokens across process restarts.
//
// A missing key is the normal "no session" case and is never reported as an error.
package tokenstore

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-auth-session/internal/errors"
)

// Key names a persisted value. The names match the keys the web client used in local storage.
type Key string

const (
	KeyAccess  Key = "token"
	KeyRefresh Key = "refreshToken"
)

// Keys lists every key the session owns.
var Keys = []Key{KeyAccess, KeyRefresh}

// Store is a small durable key-value store. Set and Remove either fully apply or return an error.
type Store interface {
	Get(ctx context.Context, key Key) (value string, ok bool, err error)
	Set(ctx context.Context, key Key, value string) error
	Remove(ctx context.Context, key Key) error
}

// Tokens is the pair of credentials persisted for a session.
type Tokens struct {
	Access  string
	Refresh string
}

func (t Tokens) Empty() bool {
	return t.Access == "" && t.Refresh == ""
}

// Load reads both tokens. Absent keys come back as empty strings.
func Load(ctx context.Context, s Store) (Tokens, error) {
	var t Tokens
	access, _, err := s.Get(ctx, KeyAccess)
	if err != nil {
		return Tokens{}, fmt.Errorf("[tokenstore.Load] get %s: %w", KeyAccess, err)
	}
	refresh, _, err := s.Get(ctx, KeyRefresh)
	if err != nil {
		return Tokens{}, fmt.Errorf("[tokenstore.Load] get %s: %w", KeyRefresh, err)
	}
	t.Access, t.Refresh = access, refresh
	return t, nil
}

// Save writes the access token and, when non-empty, the refresh token. An empty refresh
// token keeps whatever is stored, which is how a non-rotating refresh response is persisted.
func Save(ctx context.Context, s Store, t Tokens) error {
	if t.Access != "" {
		if err := s.Set(ctx, KeyAccess, t.Access); err != nil {
			return fmt.Errorf("[tokenstore.Save] set %s: %w", KeyAccess, err)
		}
	}
	if t.Refresh != "" {
		if err := s.Set(ctx, KeyRefresh, t.Refresh); err != nil {
			return fmt.Errorf("[tokenstore.Save] set %s: %w", KeyRefresh, err)
		}
	}
	return nil
}

// Purge removes every session key. It attempts all removals even when one fails.
func Purge(ctx context.Context, s Store) error {
	var errs []error
	for _, k := range Keys {
		if err := s.Remove(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}
