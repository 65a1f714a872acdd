package auth_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/authapi"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/monitor"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "jane.doe@example.com"
	testPassword = "password123"
)

type fakeAPI struct {
	loginSession session.Session
	loginUser    *authapi.User
	loginErr     error
	logoutErr    error
	logoutBlocks bool
	logins       atomic.Int32
	logouts      atomic.Int32
}

func (f *fakeAPI) Login(_ context.Context, creds authapi.Credentials) (session.Session, *authapi.User, error) {
	f.logins.Add(1)
	if f.loginErr != nil {
		return session.Session{}, nil, f.loginErr
	}
	return f.loginSession, f.loginUser, nil
}

func (f *fakeAPI) Logout(ctx context.Context, _ *session.Session) error {
	f.logouts.Add(1)
	if f.logoutBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.logoutErr
}

type noopRefresher struct{}

func (noopRefresher) Refresh(context.Context) (session.Session, error) {
	return session.Session{}, errors.New("not used")
}

type fakeUsers struct {
	user authapi.User
	path string
}

func (f *fakeUsers) GetJSON(_ context.Context, path string, v any) error {
	f.path = path
	*(v.(*authapi.User)) = f.user
	return nil
}

type testFixture struct {
	api       *fakeAPI
	store     *session.InMemoryStore
	service   *auth.Service
	mu        sync.Mutex
	redirects []string
}

func setupTestFixture(t *testing.T, options ...auth.ServiceOption) *testFixture {
	t.Helper()
	f := &testFixture{
		api: &fakeAPI{
			loginSession: session.Session{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)},
			loginUser:    &authapi.User{ID: 1, Email: testEmail},
		},
		store: session.NewInMemoryStore(),
	}
	store := f.store
	opts := []auth.ServiceOption{
		auth.WithRedirect(func(loginURL string) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.redirects = append(f.redirects, loginURL)
		}),
		auth.WithCurrentPath(func() string { return "/cases/12?tab=notes" }),
		auth.WithMonitorFactory(func(a monitor.Authenticator) (*monitor.Monitor, error) {
			return monitor.New(store, noopRefresher{}, a)
		}),
	}
	var err error
	f.service, err = auth.NewService(f.api, f.store, append(opts, options...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if m := f.service.Monitor(); m != nil {
			m.Stop()
		}
	})
	return f
}

func (f *testFixture) Redirects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.redirects...)
}

func login(t *testing.T, f *testFixture) {
	t.Helper()
	_, err := f.service.Login(context.Background(), authapi.Credentials{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
}

func TestLoginStoresSessionAndStartsMonitor(t *testing.T) {
	f := setupTestFixture(t)

	s, err := f.service.Login(context.Background(), authapi.Credentials{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	require.Equal(t, "a1", s.AccessToken)

	stored, err := f.store.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, f.api.loginSession, stored)
	require.NotNil(t, f.service.Monitor())
	require.Equal(t, testEmail, f.service.User().Email)
}

func TestLoginReplacesPreviousMonitor(t *testing.T) {
	f := setupTestFixture(t)
	login(t, f)
	first := f.service.Monitor()
	login(t, f)

	require.NotSame(t, first, f.service.Monitor())
	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("previous monitor was not stopped")
	}
}

func TestLoginInvalidCredentialsLeavesStoreUntouched(t *testing.T) {
	f := setupTestFixture(t)
	existing := session.Session{AccessToken: "keep", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, f.store.Set(context.Background(), existing))
	f.api.loginErr = fmt.Errorf("%w: No active account found", autherrors.ErrInvalidCredentials)

	_, err := f.service.Login(context.Background(), authapi.Credentials{Email: testEmail, Password: "wrong"})
	require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
	require.Contains(t, err.Error(), "No active account found")

	stored, err := f.store.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, existing, stored)
	require.Nil(t, f.service.Monitor())
}

func TestLoginRequiresCredentials(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.Login(context.Background(), authapi.Credentials{Email: testEmail})
	require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
	require.ErrorIs(t, err, auth.MissingCredentialsErr)
	require.EqualValues(t, 0, f.api.logins.Load())
}

func TestLogoutClearsLocalStateWhenServerFails(t *testing.T) {
	f := setupTestFixture(t)
	login(t, f)
	m := f.service.Monitor()
	f.api.logoutErr = errors.New("500 internal server error")

	require.NoError(t, f.service.Logout(context.Background()))

	_, err := f.store.Get(context.Background())
	require.ErrorIs(t, err, autherrors.ErrNoSession)
	require.Nil(t, f.service.Monitor())
	require.Nil(t, f.service.User())
	<-m.Done()
	require.Empty(t, f.Redirects())
}

func TestLogoutIsBoundedByTimeout(t *testing.T) {
	f := setupTestFixture(t, auth.WithLogoutTimeout(20*time.Millisecond))
	login(t, f)
	f.api.logoutBlocks = true

	start := time.Now()
	require.NoError(t, f.service.Logout(context.Background()))
	require.Less(t, time.Since(start), time.Second)

	_, err := f.store.Get(context.Background())
	require.ErrorIs(t, err, autherrors.ErrNoSession)
}

func TestLogoutProceedsWithCancelledContext(t *testing.T) {
	f := setupTestFixture(t)
	login(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.service.Logout(ctx))
	require.EqualValues(t, 1, f.api.logouts.Load())

	_, err := f.store.Get(context.Background())
	require.ErrorIs(t, err, autherrors.ErrNoSession)
}

func TestEndSessionIsOneShot(t *testing.T) {
	f := setupTestFixture(t)
	login(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.service.EndSession(context.Background(), session.EndRefreshFailed)
		}()
	}
	wg.Wait()

	require.Equal(t, []string{"/login?redirect=%2Fcases%2F12%3Ftab%3Dnotes"}, f.Redirects())
	require.EqualValues(t, 1, f.api.logouts.Load())
	_, err := f.store.Get(context.Background())
	require.ErrorIs(t, err, autherrors.ErrNoSession)

	login(t, f)
	f.service.EndSession(context.Background(), session.EndExpired)
	require.Len(t, f.Redirects(), 2)
}

func TestEndSessionAfterLogoutDoesNotRedirect(t *testing.T) {
	f := setupTestFixture(t)
	login(t, f)

	require.NoError(t, f.service.Logout(context.Background()))
	f.service.EndSession(context.Background(), session.EndRefreshFailed)
	require.Empty(t, f.Redirects())
	require.EqualValues(t, 1, f.api.logouts.Load())
}

func TestLoginURL(t *testing.T) {
	require.Equal(t, "/login", auth.LoginURL(""))
	require.Equal(t, "/login", auth.LoginURL("/"))
	require.Equal(t, "/login?redirect=%2Fcases%2F", auth.LoginURL("/cases/"))
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	f := setupTestFixture(t)
	restored, err := f.service.Restore(ctx)
	require.NoError(t, err)
	require.False(t, restored)

	require.NoError(t, f.store.Set(ctx, session.Session{AccessToken: "a", Expiry: time.Now().Add(time.Hour)}))
	restored, err = f.service.Restore(ctx)
	require.NoError(t, err)
	require.True(t, restored)
	require.NotNil(t, f.service.Monitor())

	g := setupTestFixture(t)
	require.NoError(t, g.store.Set(ctx, session.Session{AccessToken: "a", Expiry: time.Now().Add(-time.Minute)}))
	restored, err = g.service.Restore(ctx)
	require.NoError(t, err)
	require.False(t, restored)
	_, err = g.store.Get(ctx)
	require.ErrorIs(t, err, autherrors.ErrNoSession)
}

func TestCurrentUser(t *testing.T) {
	users := &fakeUsers{user: authapi.User{ID: 9, FirstName: "Jane", Permissions: []string{"api.view_fall"}}}
	f := setupTestFixture(t, auth.WithUserFetcher(users))

	u, err := f.service.CurrentUser(context.Background())
	require.NoError(t, err)
	require.Equal(t, authapi.PathUser, users.path)
	require.Equal(t, 9, u.ID)
	require.True(t, f.service.User().HasPermission("api.view_fall"))

	g := setupTestFixture(t)
	_, err = g.service.CurrentUser(context.Background())
	require.ErrorIs(t, err, auth.NoUserFetcherErr)
}

func TestNewServiceValidates(t *testing.T) {
	_, err := auth.NewService(nil, session.NewInMemoryStore())
	require.Error(t, err)
	_, err = auth.NewService(&fakeAPI{}, nil)
	require.Error(t, err)
}

func TestRestoreTwiceStopsPreviousMonitor(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	require.NoError(t, f.store.Set(ctx, session.Session{AccessToken: "a", Expiry: time.Now().Add(time.Hour)}))

	restored, err := f.service.Restore(ctx)
	require.NoError(t, err)
	require.True(t, restored)
	first := f.service.Monitor()

	restored, err = f.service.Restore(ctx)
	require.NoError(t, err)
	require.True(t, restored)
	require.NotSame(t, first, f.service.Monitor())

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("first monitor still running after second Restore")
	}
}

// failingStore rejects writes once setErr is set.
type failingStore struct {
	*session.InMemoryStore
	setErr error
}

func (f *failingStore) Set(ctx context.Context, s session.Session) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.InMemoryStore.Set(ctx, s)
}

func TestLoginStoreFailureKeepsCurrentMonitor(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{InMemoryStore: session.NewInMemoryStore()}
	api := &fakeAPI{loginSession: session.Session{AccessToken: "a1", Expiry: time.Now().Add(time.Hour)}}
	service, err := auth.NewService(api, store, auth.WithMonitorFactory(func(a monitor.Authenticator) (*monitor.Monitor, error) {
		return monitor.New(store, noopRefresher{}, a)
	}))
	require.NoError(t, err)
	t.Cleanup(func() {
		if m := service.Monitor(); m != nil {
			m.Stop()
		}
	})

	_, err = service.Login(ctx, authapi.Credentials{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	current := service.Monitor()
	require.NotNil(t, current)

	store.setErr = errors.New("disk full")
	_, err = service.Login(ctx, authapi.Credentials{Email: testEmail, Password: testPassword})
	require.Error(t, err)

	require.Same(t, current, service.Monitor())
	select {
	case <-current.Done():
		t.Fatal("monitor of the stored session was stopped")
	default:
	}
	stored, err := store.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "a1", stored.AccessToken)
}
