package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-auth-session/api"
	"github.com/jrsteele09/go-auth-session/api/apifake"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/tokenstore"
	faketokenstore "github.com/jrsteele09/go-auth-session/tokenstore/repofake"
	"github.com/jrsteele09/go-auth-session/users"
)

const (
	testUserID       = "1"
	testUserEmail    = "ada@example.com"
	testUserPassword = "password123"
)

// testFixture holds all test dependencies
type testFixture struct {
	store   *faketokenstore.FakeTokenStore
	api     *apifake.FakeAPI
	manager *session.Manager
	user    *users.User

	lock        sync.Mutex
	transitions []session.Transition
}

// notExpired treats the literal token "expired" as failing the local check.
var notExpired = token.ValidatorFunc(func(raw string) bool { return raw != "" && raw != "expired" })

func setupTestFixture(t *testing.T, access, refresh string, options ...session.ManagerOption) *testFixture {
	t.Helper()

	f := &testFixture{
		store: faketokenstore.NewFakeTokenStoreWith(access, refresh),
		api:   apifake.New(),
	}
	f.user = f.api.AddUser(users.User{
		ID:          testUserID,
		DisplayName: "Ada",
		Email:       testUserEmail,
		Roles:       []users.RoleType{users.RoleParticipant},
	}, testUserPassword)

	opts := append([]session.ManagerOption{session.WithValidator(notExpired)}, options...)
	m, err := session.New(f.store, f.api, opts...)
	require.NoError(t, err)
	f.manager = m

	m.OnTransition(func(tr session.Transition) {
		f.lock.Lock()
		defer f.lock.Unlock()
		f.transitions = append(f.transitions, tr)
	})
	return f
}

func (f *testFixture) statuses() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	var out []string
	for _, tr := range f.transitions {
		out = append(out, tr.From.Status.String()+"->"+tr.To.Status.String())
	}
	return out
}

func (f *testFixture) initialized(t *testing.T) *testFixture {
	t.Helper()
	require.NoError(t, f.manager.Initialize(context.Background()))
	return f
}

func (f *testFixture) login(t *testing.T) *testFixture {
	t.Helper()
	require.NoError(t, f.manager.Login(context.Background(), api.Credentials{Email: testUserEmail, Password: testUserPassword}))
	return f
}

func requireStoreEmpty(t *testing.T, s *faketokenstore.FakeTokenStore) {
	t.Helper()
	require.False(t, s.Has(tokenstore.KeyAccess), "access token still stored")
	require.False(t, s.Has(tokenstore.KeyRefresh), "refresh token still stored")
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := session.New(nil, apifake.New())
	require.Error(t, err)
	_, err = session.New(faketokenstore.NewFakeTokenStore(), nil)
	require.Error(t, err)
}

func TestInitialize_StoredAccessTokenIsValid(t *testing.T) {
	f := setupTestFixture(t, "t1", "r1")
	f.api.IssueTokens(testUserID, "t1", "r1")

	require.NoError(t, f.manager.Initialize(context.Background()))

	snap := f.manager.Snapshot()
	require.Equal(t, session.Authenticated, snap.Status)
	require.True(t, snap.Initialized)
	require.Equal(t, users.ID("1"), snap.User.ID)
	require.True(t, snap.HasRole("participant"))
	require.Equal(t, "t1", f.manager.AccessToken())
	require.Zero(t, f.api.CallCount(apifake.OpRefresh))
	require.Equal(t, []string{"Uninitialized->Initializing", "Initializing->Authenticated"}, f.statuses())
}

func TestInitialize_ExpiredAccessTokenIsRefreshed(t *testing.T) {
	f := setupTestFixture(t, "expired", "r1")
	f.api.IssueTokens(testUserID, "", "r1")
	f.api.QueueAccessToken("t2")

	require.NoError(t, f.manager.Initialize(context.Background()))

	snap := f.manager.Snapshot()
	require.Equal(t, session.Authenticated, snap.Status)
	require.Equal(t, "t2", snap.AccessToken())
	require.Equal(t, "t2", f.store.Values()[tokenstore.KeyAccess])
	require.Equal(t, "r1", f.store.Values()[tokenstore.KeyRefresh], "non-rotating refresh keeps the stored refresh token")
	require.Equal(t, 1, f.api.CallCount(apifake.OpMe), "only the post-refresh user fetch")
	require.Equal(t, []string{
		"Uninitialized->Initializing",
		"Initializing->Refreshing",
		"Refreshing->Authenticated",
	}, f.statuses())
}

func TestInitialize_RotatedRefreshTokenIsPersisted(t *testing.T) {
	f := setupTestFixture(t, "expired", "r1")
	f.api.RotateRefresh = true
	f.api.IssueTokens(testUserID, "", "r1")

	require.NoError(t, f.manager.Initialize(context.Background()))

	require.Equal(t, session.Authenticated, f.manager.Snapshot().Status)
	stored := f.store.Values()[tokenstore.KeyRefresh]
	require.NotEmpty(t, stored)
	require.NotEqual(t, "r1", stored)
}

func TestInitialize_RevokedAccessTokenFallsThroughToRefresh(t *testing.T) {
	f := setupTestFixture(t, "revoked", "r1")
	f.api.IssueTokens(testUserID, "", "r1")

	require.NoError(t, f.manager.Initialize(context.Background()))

	require.Equal(t, session.Authenticated, f.manager.Snapshot().Status)
	require.Equal(t, 1, f.api.CallCount(apifake.OpRefresh))
	require.NotEqual(t, "revoked", f.manager.AccessToken())
}

func TestInitialize_RefreshRejected(t *testing.T) {
	f := setupTestFixture(t, "expired", "bad")

	require.NoError(t, f.manager.Initialize(context.Background()))

	snap := f.manager.Snapshot()
	require.Equal(t, session.Unauthenticated, snap.Status)
	require.True(t, snap.Initialized)
	require.NotNil(t, snap.LastError)
	require.Equal(t, session.KindSessionExpired, snap.LastError.Kind)
	require.ErrorIs(t, snap.LastError, errors.ErrSessionExpired)
	requireStoreEmpty(t, f.store)
	require.Equal(t, []string{
		"Uninitialized->Initializing",
		"Initializing->Refreshing",
		"Refreshing->Failed",
		"Failed->Unauthenticated",
	}, f.statuses())
}

func TestInitialize_NoStoredTokens(t *testing.T) {
	f := setupTestFixture(t, "", "")

	require.NoError(t, f.manager.Initialize(context.Background()))

	snap := f.manager.Snapshot()
	require.Equal(t, session.Unauthenticated, snap.Status)
	require.True(t, snap.Initialized)
	require.Nil(t, snap.LastError)
	require.Zero(t, f.api.CallCount(apifake.OpMe))
	require.Zero(t, f.api.CallCount(apifake.OpRefresh))
}

func TestInitialize_AlwaysSettles(t *testing.T) {
	type tc struct {
		access, refresh string
		refreshErr      error
		want            session.Status
	}
	tests := map[string]tc{
		"nothing stored":        {want: session.Unauthenticated},
		"valid access":          {access: "t1", refresh: "r1", want: session.Authenticated},
		"valid access only":     {access: "t1", want: session.Authenticated},
		"expired access only":   {access: "expired", want: session.Unauthenticated},
		"refresh only":          {refresh: "r1", want: session.Authenticated},
		"unknown refresh only":  {refresh: "nope", want: session.Unauthenticated},
		"expired and r1":        {access: "expired", refresh: "r1", want: session.Authenticated},
		"expired, refresh down": {access: "expired", refresh: "r1", refreshErr: fmt.Errorf("dial: %w", errors.ErrNetworkFailure), want: session.Unauthenticated},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := setupTestFixture(t, tt.access, tt.refresh)
			f.api.IssueTokens(testUserID, "t1", "r1")
			f.api.SetError(apifake.OpRefresh, tt.refreshErr)

			require.NoError(t, f.manager.Initialize(context.Background()))

			snap := f.manager.Snapshot()
			require.True(t, snap.Initialized)
			require.Equal(t, tt.want, snap.Status)
			require.False(t, snap.Busy)
			require.LessOrEqual(t, f.api.CallCount(apifake.OpRefresh), 1)
			if tt.want == session.Unauthenticated {
				requireStoreEmpty(t, f.store)
			}
		})
	}
}

func TestInitialize_RefreshAlwaysFailingIsTriedOnce(t *testing.T) {
	f := setupTestFixture(t, "expired", "r1")
	f.api.IssueTokens(testUserID, "", "r1")
	f.api.SetError(apifake.OpRefresh, &api.StatusError{StatusCode: 500, Message: "boom"})

	require.NoError(t, f.manager.Initialize(context.Background()))

	require.Equal(t, 1, f.api.CallCount(apifake.OpRefresh))
	require.Equal(t, session.Unauthenticated, f.manager.Snapshot().Status)
}

func TestInitialize_RefreshTimeoutIsAFailure(t *testing.T) {
	f := setupTestFixture(t, "expired", "r1", session.WithRefreshTimeout(30*time.Millisecond))
	f.api.IssueTokens(testUserID, "", "r1")
	release := f.api.Block(apifake.OpRefresh)
	defer release()

	start := time.Now()
	require.NoError(t, f.manager.Initialize(context.Background()))
	require.Less(t, time.Since(start), 2*time.Second)

	snap := f.manager.Snapshot()
	require.Equal(t, session.Unauthenticated, snap.Status)
	require.Equal(t, session.KindSessionExpired, snap.LastError.Kind)
	requireStoreEmpty(t, f.store)
}

func TestInitialize_CallerCancellationKeepsStoredTokens(t *testing.T) {
	f := setupTestFixture(t, "expired", "r1")
	f.api.IssueTokens(testUserID, "", "r1")
	release := f.api.Block(apifake.OpRefresh)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for f.api.CallCount(apifake.OpRefresh) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	require.NoError(t, f.manager.Initialize(ctx))
	snap := f.manager.Snapshot()
	require.Equal(t, session.Unauthenticated, snap.Status)
	require.True(t, snap.Initialized)
	require.NotNil(t, snap.LastError)
	require.Equal(t, session.KindNetworkFailure, snap.LastError.Kind)
	require.ErrorIs(t, snap.LastError, errors.ErrNetworkFailure)
	require.NotErrorIs(t, snap.LastError, errors.ErrSessionExpired)
	require.Equal(t, "r1", f.store.Values()[tokenstore.KeyRefresh])
}

func TestInitialize_RunsOnce(t *testing.T) {
	f := setupTestFixture(t, "", "").initialized(t)

	err := f.manager.Initialize(context.Background())
	require.ErrorIs(t, err, errors.ErrAlreadyInitialized)
}

func TestInitialize_LogoutDiscardsInFlightResult(t *testing.T) {
	f := setupTestFixture(t, "t1", "r1")
	f.api.IssueTokens(testUserID, "t1", "r1")
	release := f.api.Block(apifake.OpMe)

	done := make(chan error, 1)
	go func() { done <- f.manager.Initialize(context.Background()) }()

	require.Eventually(t, func() bool { return f.api.CallCount(apifake.OpMe) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, f.manager.Logout(context.Background()))
	release()

	err := <-done
	require.ErrorIs(t, err, errors.ErrStaleResult)

	snap := f.manager.Snapshot()
	require.Equal(t, session.Unauthenticated, snap.Status)
	require.True(t, snap.Initialized)
	requireStoreEmpty(t, f.store)
}

func TestInitialize_UnreadableStoreSettles(t *testing.T) {
	f := setupTestFixture(t, "t1", "r1")
	f.store.FailGet = fmt.Errorf("disk on fire")

	require.NoError(t, f.manager.Initialize(context.Background()))

	snap := f.manager.Snapshot()
	require.Equal(t, session.Unauthenticated, snap.Status)
	require.True(t, snap.Initialized)
	require.Equal(t, session.KindUnknown, snap.LastError.Kind)
}
