// Package apifake provides an in-memory backend for tests and the CLI's offline mode.
package apifake

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-auth-session/api"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/users"
)

// Operation names used by SetError, Block and CallCount.
const (
	OpLogin    = "login"
	OpProvider = "login/oauth"
	OpRegister = "register"
	OpRefresh  = "token/refresh"
	OpMe       = "me"
	OpLogout   = "logout"
)

var _ api.API = (*FakeAPI)(nil)

type account struct {
	user         *users.User
	passwordHash string
}

type providerIdentity struct {
	userID  users.ID
	prefill map[string]string
}

type FakeAPI struct {
	accounts  map[users.ID]*account
	emailIDs  map[string]users.ID // email to user id
	access    map[string]users.ID
	refresh   map[string]users.ID
	providers map[string]providerIdentity

	errs   map[string]error
	blocks map[string]chan struct{}
	calls  map[string]int

	nextAccess []string

	// RotateRefresh makes /token/refresh issue a new refresh token as well.
	RotateRefresh bool

	lock sync.Mutex
}

func New() *FakeAPI {
	return &FakeAPI{
		accounts:  make(map[users.ID]*account),
		emailIDs:  make(map[string]users.ID),
		access:    make(map[string]users.ID),
		refresh:   make(map[string]users.ID),
		providers: make(map[string]providerIdentity),
		errs:      make(map[string]error),
		blocks:    make(map[string]chan struct{}),
		calls:     make(map[string]int),
	}
}

// AddUser registers a user that can log in with password. A missing ID is generated.
func (f *FakeAPI) AddUser(u users.User, password string) *users.User {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.addUserLocked(u, password)
}

func (f *FakeAPI) addUserLocked(u users.User, password string) *users.User {
	if u.ID == "" {
		u.ID = users.ID(uuid.NewString())
	}
	hash := ""
	if password != "" {
		var err error
		if hash, err = users.HashPassword(password); err != nil {
			panic(fmt.Sprintf("apifake: hash password: %v", err))
		}
	}
	stored := u.Clone()
	f.accounts[u.ID] = &account{user: stored, passwordHash: hash}
	f.emailIDs[strings.ToLower(u.Email)] = u.ID
	return stored.Clone()
}

// IssueTokens makes access and refresh valid for userID. Either may be empty.
func (f *FakeAPI) IssueTokens(userID users.ID, access, refresh string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if access != "" {
		f.access[access] = userID
	}
	if refresh != "" {
		f.refresh[refresh] = userID
	}
}

// QueueAccessToken fixes the values of the next access tokens issued by login or refresh.
func (f *FakeAPI) QueueAccessToken(tokens ...string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.nextAccess = append(f.nextAccess, tokens...)
}

func (f *FakeAPI) newAccessLocked() string {
	if len(f.nextAccess) > 0 {
		tok := f.nextAccess[0]
		f.nextAccess = f.nextAccess[1:]
		return tok
	}
	return "access-" + uuid.NewString()
}

// RevokeAccess invalidates an access token server-side.
func (f *FakeAPI) RevokeAccess(access string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	delete(f.access, access)
}

// AccessTokenValid reports whether the server still honours access.
func (f *FakeAPI) AccessTokenValid(access string) bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	_, ok := f.access[access]
	return ok
}

// AddProviderIdentity makes providerToken exchange directly for userID's session.
func (f *FakeAPI) AddProviderIdentity(providerToken string, userID users.ID) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.providers[providerToken] = providerIdentity{userID: userID}
}

// AddProviderPrefill makes providerToken answer with requiresRegistration and prefill.
func (f *FakeAPI) AddProviderPrefill(providerToken string, prefill map[string]string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.providers[providerToken] = providerIdentity{prefill: prefill}
}

// SetError makes every call to op fail with err until cleared with a nil err.
func (f *FakeAPI) SetError(op string, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// Block makes calls to op wait until the returned release func is called or the caller's
// context ends.
func (f *FakeAPI) Block(op string) (release func()) {
	f.lock.Lock()
	defer f.lock.Unlock()
	ch := make(chan struct{})
	f.blocks[op] = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			f.lock.Lock()
			if f.blocks[op] == ch {
				delete(f.blocks, op)
			}
			f.lock.Unlock()
			close(ch)
		})
	}
}

// CallCount returns how many times op was invoked.
func (f *FakeAPI) CallCount(op string) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls[op]
}

func unauthorized(op, msg string) error {
	return &api.StatusError{Method: http.MethodPost, Path: "/" + op, StatusCode: http.StatusUnauthorized, Message: msg}
}

// enter records the call, waits on any block and returns an injected error.
func (f *FakeAPI) enter(ctx context.Context, op string) error {
	f.lock.Lock()
	f.calls[op]++
	ch := f.blocks[op]
	f.lock.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("/%s: %w: %w", op, errors.ErrNetworkFailure, ctx.Err())
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("/%s: %w: %w", op, errors.ErrNetworkFailure, err)
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	return f.errs[op]
}

func (f *FakeAPI) issueLocked(userID users.ID) *api.AuthResponse {
	access := f.newAccessLocked()
	refresh := "refresh-" + uuid.NewString()
	f.access[access] = userID
	f.refresh[refresh] = userID
	return &api.AuthResponse{
		User:         f.accounts[userID].user.Clone(),
		AccessToken:  access,
		RefreshToken: refresh,
	}
}

func (f *FakeAPI) Login(ctx context.Context, credentials api.Credentials) (*api.AuthResponse, error) {
	if err := f.enter(ctx, OpLogin); err != nil {
		return nil, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()

	id, ok := f.emailIDs[strings.ToLower(credentials.Email)]
	if !ok {
		return nil, unauthorized(OpLogin, "Invalid email or password")
	}
	acc := f.accounts[id]
	if users.VerifyPassword(acc.passwordHash, credentials.Password) != nil {
		return nil, unauthorized(OpLogin, "Invalid email or password")
	}
	return f.issueLocked(id), nil
}

func (f *FakeAPI) LoginWithProvider(ctx context.Context, providerToken string) (*api.ProviderResponse, error) {
	if err := f.enter(ctx, OpProvider); err != nil {
		return nil, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()

	identity, ok := f.providers[providerToken]
	if !ok {
		return nil, unauthorized(OpProvider, "Invalid provider token")
	}
	if identity.userID == "" {
		return &api.ProviderResponse{RequiresRegistration: true, PrefillData: identity.prefill}, nil
	}
	return &api.ProviderResponse{AuthResponse: *f.issueLocked(identity.userID)}, nil
}

func (f *FakeAPI) Register(ctx context.Context, profile api.Profile) (*api.AuthResponse, error) {
	if err := f.enter(ctx, OpRegister); err != nil {
		return nil, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()

	if _, exists := f.emailIDs[strings.ToLower(profile.Email)]; exists {
		return nil, &api.StatusError{Method: http.MethodPost, Path: "/" + OpRegister, StatusCode: http.StatusConflict, Message: "Email already registered"}
	}
	u := f.addUserLocked(users.User{
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		Roles:       profile.Roles,
	}, profile.Password)
	if profile.ProviderToken != "" {
		f.providers[profile.ProviderToken] = providerIdentity{userID: u.ID}
	}
	return f.issueLocked(u.ID), nil
}

func (f *FakeAPI) Refresh(ctx context.Context, refreshToken string) (*api.RefreshResponse, error) {
	if err := f.enter(ctx, OpRefresh); err != nil {
		return nil, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()

	id, ok := f.refresh[refreshToken]
	if !ok {
		return nil, unauthorized(OpRefresh, "Invalid refresh token")
	}

	resp := &api.RefreshResponse{AccessToken: f.newAccessLocked()}
	f.access[resp.AccessToken] = id
	if f.RotateRefresh {
		delete(f.refresh, refreshToken)
		resp.RefreshToken = "refresh-" + uuid.NewString()
		f.refresh[resp.RefreshToken] = id
	}
	return resp, nil
}

func (f *FakeAPI) Me(ctx context.Context, accessToken string) (*users.User, error) {
	if err := f.enter(ctx, OpMe); err != nil {
		return nil, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()

	id, ok := f.access[accessToken]
	if !ok {
		return nil, &api.StatusError{Method: http.MethodGet, Path: "/" + OpMe, StatusCode: http.StatusUnauthorized}
	}
	acc, ok := f.accounts[id]
	if !ok {
		return nil, &api.StatusError{Method: http.MethodGet, Path: "/" + OpMe, StatusCode: http.StatusUnauthorized}
	}
	return acc.user.Clone(), nil
}

func (f *FakeAPI) Logout(ctx context.Context, accessToken string) error {
	if err := f.enter(ctx, OpLogout); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	delete(f.access, accessToken)
	return nil
}
