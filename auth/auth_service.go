package auth

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/authapi"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/metrics"
	"github.com/jrsteele09/go-auth-session/monitor"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoginPath is where the user is sent when the session ends.
const LoginPath = "/login"

// API is the subset of the backend the auth service talks to directly.
type API interface {
	Login(ctx context.Context, creds authapi.Credentials) (session.Session, *authapi.User, error)
	Logout(ctx context.Context, s *session.Session) error
}

// UserFetcher loads JSON through the request gateway.
type UserFetcher interface {
	GetJSON(ctx context.Context, path string, v any) error
}

// MonitorFactory builds a fresh expiry monitor for a new session.
type MonitorFactory func(auth monitor.Authenticator) (*monitor.Monitor, error)

// Redirect sends the user to loginURL, which carries the page they were on.
type Redirect func(loginURL string)

// Service logs users in and out. Together with the refresh coordinator it is
// the only writer of the token store.
type Service struct {
	api           API
	store         session.Store
	users         UserFetcher
	newMonitor    MonitorFactory
	redirect      Redirect
	currentPath   func() string
	logoutTimeout time.Duration
	nowTime       func() time.Time
	logger        zerolog.Logger
	metrics       *metrics.Recorder

	mu      sync.Mutex
	monitor *monitor.Monitor
	ended   bool // set once the current session has been ended; cleared by Login/Restore
	user    *authapi.User
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

func WithMetrics(m *metrics.Recorder) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithMonitorFactory starts a monitor for every session that becomes active.
func WithMonitorFactory(f MonitorFactory) ServiceOption {
	return func(s *Service) {
		s.newMonitor = f
	}
}

// WithRedirect sets what happens after a forced logout.
func WithRedirect(r Redirect) ServiceOption {
	return func(s *Service) {
		s.redirect = r
	}
}

// WithCurrentPath reports the page the user is on, so they can return to it
// after logging in again.
func WithCurrentPath(f func() string) ServiceOption {
	return func(s *Service) {
		s.currentPath = f
	}
}

// WithLogoutTimeout bounds the best-effort server logout call.
func WithLogoutTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.logoutTimeout = d
	}
}

// WithUserFetcher enables CurrentUser.
func WithUserFetcher(f UserFetcher) ServiceOption {
	return func(s *Service) {
		s.users = f
	}
}

// NewService initializes a new Service with required dependencies.
func NewService(api API, store session.Store, options ...ServiceOption) (*Service, error) {
	if api == nil {
		return nil, errors.New("[NewService] auth API is required")
	}
	if store == nil {
		return nil, errors.New("[NewService] token store is required")
	}

	s := &Service{
		api:           api,
		store:         store,
		redirect:      func(string) {},
		currentPath:   func() string { return "/" },
		logoutTimeout: 3 * time.Second,
		nowTime:       time.Now,
		logger:        log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Login exchanges credentials for a session. A rejection returns an error
// matching ErrInvalidCredentials and leaves the token store untouched.
func (s *Service) Login(ctx context.Context, creds authapi.Credentials) (session.Session, error) {
	if creds.Email == "" || creds.Password == "" {
		return session.Session{}, autherrors.Join(autherrors.ErrInvalidCredentials, MissingCredentialsErr)
	}

	sess, user, err := s.api.Login(ctx, creds)
	if err != nil {
		s.logger.Info().Err(err).Msg("Login failed")
		return session.Session{}, err
	}

	if err := s.store.Set(ctx, sess); err != nil {
		return session.Session{}, autherrors.Wrapf(err, "[Login] store session")
	}
	s.stopMonitor()

	s.mu.Lock()
	s.ended = false
	s.user = user
	s.mu.Unlock()

	if err := s.startMonitor(ctx); err != nil {
		return session.Session{}, err
	}
	s.logger.Info().Time("expiry", sess.Expiry).Msg("Logged in")
	return sess, nil
}

// Restore resumes a session persisted by an earlier run. It reports whether
// an unexpired session was found; an expired one is cleared.
func (s *Service) Restore(ctx context.Context) (bool, error) {
	sess, err := s.store.Get(ctx)
	if errors.Is(err, autherrors.ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, autherrors.Wrapf(err, "[Restore] read session")
	}
	if sess.Expired(s.nowTime()) {
		return false, s.store.Clear(ctx)
	}

	s.stopMonitor()
	s.mu.Lock()
	s.ended = false
	s.mu.Unlock()

	if err := s.startMonitor(ctx); err != nil {
		return false, err
	}
	s.logger.Info().Time("expiry", sess.Expiry).Msg("Session restored")
	return true, nil
}

// Logout tells the server (best effort, bounded by the logout timeout) and
// then always clears local state. Only a failure to clear the local store is
// reported.
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	return s.logout(ctx)
}

// EndSession logs out and redirects to the login page, once per session no
// matter how many callers report the same failure.
func (s *Service) EndSession(ctx context.Context, reason session.EndReason) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()

	s.metrics.SessionEnded(string(reason))
	s.logger.Warn().Str("reason", string(reason)).Msg("Session ended")
	if err := s.logout(ctx); err != nil {
		s.logger.Err(err).Msg("Failed to clear session")
	}
	s.redirect(LoginURL(s.currentPath()))
}

// CurrentUser loads the authenticated user through the request gateway.
func (s *Service) CurrentUser(ctx context.Context) (*authapi.User, error) {
	if s.users == nil {
		return nil, NoUserFetcherErr
	}
	var u authapi.User
	if err := s.users.GetJSON(ctx, authapi.PathUser, &u); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()
	return &u, nil
}

// User returns the last known user, or nil.
func (s *Service) User() *authapi.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Monitor returns the active session's expiry monitor, or nil.
func (s *Service) Monitor() *monitor.Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitor
}

// LoginURL builds the login redirect, carrying returnPath unless it is the root.
func LoginURL(returnPath string) string {
	if returnPath == "" || returnPath == "/" {
		return LoginPath
	}
	return LoginPath + "?redirect=" + url.QueryEscape(returnPath)
}

func (s *Service) logout(ctx context.Context) error {
	s.stopMonitor()

	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	var current *session.Session
	if sess, err := s.store.Get(ctx); err == nil {
		current = &sess
	}

	lctx, cancel := context.WithTimeout(ctx, s.logoutTimeout)
	if err := s.api.Logout(lctx, current); err != nil {
		s.logger.Warn().Err(err).Msg("Server logout failed; clearing local session anyway")
	}
	cancel()

	if err := s.store.Clear(ctx); err != nil {
		return autherrors.Wrapf(err, "[Logout] clear session")
	}
	return nil
}

func (s *Service) startMonitor(ctx context.Context) error {
	if s.newMonitor == nil {
		return nil
	}
	m, err := s.newMonitor(s)
	if err != nil {
		return autherrors.Wrapf(err, "[startMonitor] create monitor")
	}

	s.mu.Lock()
	s.monitor = m
	s.mu.Unlock()

	m.Start(context.WithoutCancel(ctx))
	return nil
}

func (s *Service) stopMonitor() {
	s.mu.Lock()
	m := s.monitor
	s.monitor = nil
	s.mu.Unlock()

	if m != nil {
		m.Stop()
	}
}

var (
	_ API                   = (*authapi.Client)(nil)
	_ monitor.Authenticator = (*Service)(nil)
)
