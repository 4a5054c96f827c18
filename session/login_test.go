package session_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-auth-session/api"
	"github.com/jrsteele09/go-auth-session/api/apifake"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/tokenstore"
	"github.com/jrsteele09/go-auth-session/users"
)

func TestLogin(t *testing.T) {
	t.Run("success persists tokens", func(t *testing.T) {
		f := setupTestFixture(t, "", "").initialized(t).login(t)

		snap := f.manager.Snapshot()
		require.Equal(t, session.Authenticated, snap.Status)
		require.False(t, snap.Busy)
		require.Equal(t, users.ID(testUserID), snap.User.ID)
		require.Equal(t, snap.AccessToken(), f.store.Values()[tokenstore.KeyAccess])
		require.NotEmpty(t, f.store.Values()[tokenstore.KeyRefresh])
	})

	t.Run("wrong password", func(t *testing.T) {
		f := setupTestFixture(t, "", "").initialized(t)

		err := f.manager.Login(context.Background(), api.Credentials{Email: testUserEmail, Password: "nope"})
		require.ErrorIs(t, err, errors.ErrInvalidCredentials)

		snap := f.manager.Snapshot()
		require.Equal(t, session.Unauthenticated, snap.Status)
		require.False(t, snap.Busy)
		require.Equal(t, session.KindInvalidCredentials, snap.LastError.Kind)
		require.Equal(t, "Invalid email or password", snap.LastError.Message)
	})

	t.Run("network failure", func(t *testing.T) {
		f := setupTestFixture(t, "", "").initialized(t)
		f.api.SetError(apifake.OpLogin, errors.Wrapf(errors.ErrNetworkFailure, "dial"))

		err := f.manager.Login(context.Background(), api.Credentials{Email: testUserEmail, Password: testUserPassword})
		require.ErrorIs(t, err, errors.ErrNetworkFailure)
		require.Equal(t, session.KindNetworkFailure, f.manager.Snapshot().LastError.Kind)
	})

	t.Run("failure keeps an existing session", func(t *testing.T) {
		f := setupTestFixture(t, "", "").initialized(t).login(t)
		before := f.manager.Snapshot()

		err := f.manager.Login(context.Background(), api.Credentials{Email: testUserEmail, Password: "nope"})
		require.Error(t, err)

		after := f.manager.Snapshot()
		require.Equal(t, session.Authenticated, after.Status)
		require.Equal(t, before.AccessToken(), after.AccessToken())
		require.Equal(t, before.User, after.User)
		require.Equal(t, before.AccessToken(), f.store.Values()[tokenstore.KeyAccess])
		require.NotNil(t, after.LastError)

		f.manager.ClearError()
		require.Nil(t, f.manager.Snapshot().LastError)
	})

	t.Run("refused before initialization", func(t *testing.T) {
		f := setupTestFixture(t, "", "")

		err := f.manager.Login(context.Background(), api.Credentials{Email: testUserEmail, Password: testUserPassword})
		require.ErrorIs(t, err, errors.ErrNotInitialized)
		require.Zero(t, f.api.CallCount(apifake.OpLogin))
	})

	t.Run("login timeout", func(t *testing.T) {
		f := setupTestFixture(t, "", "", session.WithLoginTimeout(20*time.Millisecond)).initialized(t)
		release := f.api.Block(apifake.OpLogin)
		defer release()

		err := f.manager.Login(context.Background(), api.Credentials{Email: testUserEmail, Password: testUserPassword})
		require.ErrorIs(t, err, errors.ErrNetworkFailure)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.False(t, f.manager.Snapshot().Busy)
	})
}

func TestLogin_Serialized(t *testing.T) {
	f := setupTestFixture(t, "", "").initialized(t)
	release := f.api.Block(apifake.OpLogin)

	done := make(chan error, 1)
	go func() {
		done <- f.manager.Login(context.Background(), api.Credentials{Email: testUserEmail, Password: testUserPassword})
	}()
	require.Eventually(t, func() bool { return f.api.CallCount(apifake.OpLogin) == 1 }, time.Second, time.Millisecond)
	require.True(t, f.manager.Snapshot().Busy)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.manager.Login(ctx, api.Credentials{Email: testUserEmail, Password: testUserPassword})
	require.ErrorIs(t, err, errors.ErrBusy)
	require.Equal(t, 1, f.api.CallCount(apifake.OpLogin))

	release()
	require.NoError(t, <-done)
	require.Equal(t, session.Authenticated, f.manager.Snapshot().Status)
}

func TestLogout(t *testing.T) {
	t.Run("clears state, store and server session", func(t *testing.T) {
		f := setupTestFixture(t, "", "").initialized(t).login(t)
		access := f.manager.AccessToken()

		require.NoError(t, f.manager.Logout(context.Background()))

		snap := f.manager.Snapshot()
		require.Equal(t, session.Unauthenticated, snap.Status)
		require.Nil(t, snap.User)
		requireStoreEmpty(t, f.store)
		require.False(t, f.api.AccessTokenValid(access))
	})

	t.Run("remote failure is ignored", func(t *testing.T) {
		f := setupTestFixture(t, "", "").initialized(t).login(t)
		f.api.SetError(apifake.OpLogout, errors.Wrapf(errors.ErrNetworkFailure, "dial"))

		require.NoError(t, f.manager.Logout(context.Background()))
		require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
		requireStoreEmpty(t, f.store)
	})

	t.Run("remote timeout is bounded", func(t *testing.T) {
		f := setupTestFixture(t, "", "", session.WithLogoutTimeout(20*time.Millisecond)).initialized(t).login(t)
		release := f.api.Block(apifake.OpLogout)
		defer release()

		start := time.Now()
		require.NoError(t, f.manager.Logout(context.Background()))
		require.Less(t, time.Since(start), time.Second)
		require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
		requireStoreEmpty(t, f.store)
	})

	t.Run("cancelled context still purges", func(t *testing.T) {
		f := setupTestFixture(t, "", "").initialized(t).login(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		require.NoError(t, f.manager.Logout(ctx))
		requireStoreEmpty(t, f.store)
	})

	t.Run("store failure is reported after local logout", func(t *testing.T) {
		f := setupTestFixture(t, "", "").initialized(t).login(t)
		f.store.FailRemove = errors.ErrClosed

		err := f.manager.Logout(context.Background())
		require.ErrorIs(t, err, errors.ErrClosed)
		require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
	})

	t.Run("discards an in-flight login", func(t *testing.T) {
		f := setupTestFixture(t, "", "").initialized(t)
		release := f.api.Block(apifake.OpLogin)

		done := make(chan error, 1)
		go func() {
			done <- f.manager.Login(context.Background(), api.Credentials{Email: testUserEmail, Password: testUserPassword})
		}()
		require.Eventually(t, func() bool { return f.api.CallCount(apifake.OpLogin) == 1 }, time.Second, time.Millisecond)

		require.NoError(t, f.manager.Logout(context.Background()))
		release()

		require.ErrorIs(t, <-done, errors.ErrStaleResult)
		require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
		requireStoreEmpty(t, f.store)
	})
}

func TestForceLogout(t *testing.T) {
	f := setupTestFixture(t, "", "").initialized(t).login(t)
	access := f.manager.AccessToken()

	require.False(t, f.manager.ForceLogout(context.Background(), "some-older-token", errors.ErrChannelAuthRejected))
	require.Equal(t, session.Authenticated, f.manager.Snapshot().Status)

	require.True(t, f.manager.ForceLogout(context.Background(), access, errors.ErrChannelAuthRejected))
	snap := f.manager.Snapshot()
	require.Equal(t, session.Unauthenticated, snap.Status)
	require.Equal(t, session.KindChannelAuthRejected, snap.LastError.Kind)
	require.ErrorIs(t, snap.LastError, errors.ErrChannelAuthRejected)
	requireStoreEmpty(t, f.store)

	require.False(t, f.manager.ForceLogout(context.Background(), access, errors.ErrChannelAuthRejected), "no cascade")

	forced := 0
	for _, tr := range f.transitions {
		if tr.Forced {
			forced++
		}
	}
	require.Equal(t, 1, forced)
}

func TestUpdateUser(t *testing.T) {
	f := setupTestFixture(t, "", "").initialized(t)
	name := "Ada L."
	require.False(t, f.manager.UpdateUser(users.UserUpdate{DisplayName: &name}))

	f.login(t)
	require.True(t, f.manager.UpdateUser(users.UserUpdate{DisplayName: &name}))
	snap := f.manager.Snapshot()
	require.Equal(t, "Ada L.", snap.User.DisplayName)
	require.True(t, f.manager.HasRole("participant"))
	require.False(t, f.manager.HasAnyRole("organizer", "judge"))
}

func TestRegister(t *testing.T) {
	f := setupTestFixture(t, "", "").initialized(t)

	err := f.manager.Register(context.Background(), api.Profile{
		Email:       "grace@example.com",
		Password:    "hopper123",
		DisplayName: "Grace",
		Roles:       []users.RoleType{users.RoleOrganizer},
	})
	require.NoError(t, err)
	snap := f.manager.Snapshot()
	require.Equal(t, session.Authenticated, snap.Status)
	require.True(t, snap.HasRole("organizer"))

	require.NoError(t, f.manager.Logout(context.Background()))
	err = f.manager.Register(context.Background(), api.Profile{Email: "grace@example.com", Password: "x"})
	require.Error(t, err)
	require.Equal(t, session.KindUnknown, f.manager.Snapshot().LastError.Kind)
	require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
}

func TestLoginWithProvider(t *testing.T) {
	t.Run("pre-registration then exchange", func(t *testing.T) {
		f := setupTestFixture(t, "", "").initialized(t)
		f.api.AddProviderPrefill("provider-new", map[string]string{"email": "lin@example.com", "displayName": "Lin"})

		result, err := f.manager.LoginWithProvider(context.Background(), "provider-new")
		require.NoError(t, err)
		require.True(t, result.RequiresRegistration)
		require.False(t, result.Authenticated)
		require.Equal(t, "lin@example.com", result.Prefill["email"])

		snap := f.manager.Snapshot()
		require.Equal(t, session.Unauthenticated, snap.Status)
		require.False(t, snap.Busy)
		require.Nil(t, snap.LastError)

		require.NoError(t, f.manager.Register(context.Background(), api.Profile{
			Email:         result.Prefill["email"],
			DisplayName:   result.Prefill["displayName"],
			Roles:         []users.RoleType{users.RoleJudge},
			ProviderToken: "provider-new",
		}))
		require.NoError(t, f.manager.Logout(context.Background()))

		result, err = f.manager.LoginWithProvider(context.Background(), "provider-new")
		require.NoError(t, err)
		require.True(t, result.Authenticated)
		require.True(t, f.manager.HasRole("judge"))
	})

	t.Run("unknown provider token", func(t *testing.T) {
		f := setupTestFixture(t, "", "").initialized(t)

		_, err := f.manager.LoginWithProvider(context.Background(), "forged")
		require.ErrorIs(t, err, errors.ErrInvalidCredentials)
		require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
	})
}

const (
	testIssuer   = "https://accounts.example.com"
	testClientID = "authclient"
)

func signIDToken(t *testing.T, key *rsa.PrivateKey, expiresAt time.Time) string {
	t.Helper()
	claims := jwtlib.RegisteredClaims{
		Issuer:    testIssuer,
		Subject:   "provider-user-1",
		Audience:  jwtlib.ClaimStrings{testClientID},
		IssuedAt:  jwtlib.NewNumericDate(expiresAt.Add(-time.Hour)),
		ExpiresAt: jwtlib.NewNumericDate(expiresAt),
	}
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return raw
}

func TestLoginWithProvider_OIDCVerification(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	verifier := session.NewOIDCVerifierWithKeySet(testIssuer, testClientID, keySet, nil)

	t.Run("valid token is exchanged", func(t *testing.T) {
		f := setupTestFixture(t, "", "", session.WithProviderVerifier(verifier)).initialized(t)
		raw := signIDToken(t, key, time.Now().Add(time.Hour))
		f.api.AddProviderIdentity(raw, testUserID)

		result, err := f.manager.LoginWithProvider(context.Background(), raw)
		require.NoError(t, err)
		require.True(t, result.Authenticated)
		require.Equal(t, session.Authenticated, f.manager.Snapshot().Status)
	})

	t.Run("expired token never reaches the server", func(t *testing.T) {
		f := setupTestFixture(t, "", "", session.WithProviderVerifier(verifier)).initialized(t)
		raw := signIDToken(t, key, time.Now().Add(-time.Hour))
		f.api.AddProviderIdentity(raw, testUserID)

		_, err := f.manager.LoginWithProvider(context.Background(), raw)
		require.ErrorIs(t, err, errors.ErrInvalidCredentials)
		require.Zero(t, f.api.CallCount(apifake.OpProvider))
		require.Equal(t, session.KindInvalidCredentials, f.manager.Snapshot().LastError.Kind)
	})

	t.Run("token signed by another key", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		f := setupTestFixture(t, "", "", session.WithProviderVerifier(verifier)).initialized(t)

		_, err = f.manager.LoginWithProvider(context.Background(), signIDToken(t, other, time.Now().Add(time.Hour)))
		require.ErrorIs(t, err, errors.ErrInvalidCredentials)
	})
}

func TestTokenSource(t *testing.T) {
	f := setupTestFixture(t, "", "").initialized(t)

	_, err := f.manager.TokenSource().Token()
	require.ErrorIs(t, err, errors.ErrNotAuthenticated)

	f.login(t)
	tok, err := f.manager.TokenSource().Token()
	require.NoError(t, err)
	require.Equal(t, f.manager.AccessToken(), tok.AccessToken)
	require.Equal(t, "Bearer", tok.TokenType)

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	client := f.manager.HTTPClient(nil)
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, "Bearer "+f.manager.AccessToken(), gotAuth)

	require.NoError(t, f.manager.Logout(context.Background()))
	_, err = client.Get(srv.URL)
	require.ErrorIs(t, err, errors.ErrNotAuthenticated)
}
