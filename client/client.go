package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/authapi"
	"github.com/jrsteele09/go-auth-session/gateway"
	"github.com/jrsteele09/go-auth-session/internal/config"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/metrics"
	"github.com/jrsteele09/go-auth-session/monitor"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/session/boltrepo"
	"github.com/jrsteele09/go-auth-session/session/redisrepo"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Client wires the session coordinator together: one token store, one
// refresh coordinator, one request gateway and one auth service shared by
// every caller.
type Client struct {
	config  config.Config
	api     *authapi.Client
	store   session.Store
	refresh *refresh.Coordinator
	gateway *gateway.Gateway
	auth    *auth.Service
	metrics *metrics.Recorder
	closers []io.Closer

	// Options
	registerer  prometheus.Registerer
	httpClient  *http.Client
	redirect    auth.Redirect
	currentPath func() string
	listeners   []monitor.Listener
	nowTime     func() time.Time
	logger      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithStore replaces the configured store backend.
func WithStore(s session.Store) Option {
	return func(c *Client) {
		c.store = s
	}
}

// WithRegisterer enables prometheus metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.registerer = reg
	}
}

// WithHTTPClient replaces the default client. A cookie jar is added when the
// client has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithRedirect(r auth.Redirect) Option {
	return func(c *Client) {
		c.redirect = r
	}
}

func WithCurrentPath(f func() string) Option {
	return func(c *Client) {
		c.currentPath = f
	}
}

// WithListener receives every monitor state change.
func WithListener(l monitor.Listener) Option {
	return func(c *Client) {
		c.listeners = append(c.listeners, l)
	}
}

func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Client) {
		c.nowTime = nowFunc
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New builds a Client from configuration.
func New(cfg config.Config, options ...Option) (*Client, error) {
	c := &Client{
		config:  cfg,
		nowTime: time.Now,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}

	hc, err := c.buildHTTPClient()
	if err != nil {
		return nil, err
	}

	c.api, err = authapi.NewClient(cfg.GetAPIBaseURL(),
		authapi.WithHTTPClient(hc),
		authapi.WithDefaultLifetime(cfg.GetDefaultSessionLifetime()),
		authapi.WithNowTime(c.nowTime),
	)
	if err != nil {
		return nil, fmt.Errorf("[client New] %w", err)
	}

	if c.store == nil {
		if c.store, err = c.openStore(); err != nil {
			return nil, err
		}
	}
	store := session.NewCookieMirror(c.store, hc.Jar, c.api.BaseURL())

	if c.registerer != nil {
		if c.metrics, err = metrics.New(c.registerer); err != nil {
			c.Close()
			return nil, fmt.Errorf("[client New] %w", err)
		}
	}

	c.refresh, err = refresh.NewCoordinator(c.api, store,
		refresh.WithTimeout(cfg.GetRefreshTimeout()),
		refresh.WithLogger(c.logger),
		refresh.WithMetrics(c.metrics),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("[client New] %w", err)
	}

	c.gateway, err = gateway.New(c.api, store, c.refresh,
		gateway.WithLogger(c.logger),
		gateway.WithMetrics(c.metrics),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("[client New] %w", err)
	}

	authOptions := []auth.ServiceOption{
		auth.WithUserFetcher(c.gateway),
		auth.WithMonitorFactory(c.newMonitor(store)),
		auth.WithLogoutTimeout(cfg.GetLogoutTimeout()),
		auth.WithNowTime(c.nowTime),
		auth.WithLogger(c.logger),
		auth.WithMetrics(c.metrics),
	}
	if c.redirect != nil {
		authOptions = append(authOptions, auth.WithRedirect(c.redirect))
	}
	if c.currentPath != nil {
		authOptions = append(authOptions, auth.WithCurrentPath(c.currentPath))
	}
	c.auth, err = auth.NewService(c.api, store, authOptions...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("[client New] %w", err)
	}
	c.gateway.SetSessionEnder(c.auth)

	return c, nil
}

// Login authenticates and starts monitoring the new session.
func (c *Client) Login(ctx context.Context, email, password string) (session.Session, error) {
	return c.auth.Login(ctx, authapi.Credentials{Email: email, Password: password})
}

// Auth returns the login/logout service.
func (c *Client) Auth() *auth.Service {
	return c.auth
}

// Gateway returns the request gateway all API calls must go through.
func (c *Client) Gateway() *gateway.Gateway {
	return c.gateway
}

// Refresher returns the shared refresh coordinator.
func (c *Client) Refresher() *refresh.Coordinator {
	return c.refresh
}

// Store returns a read-only view of the token store.
func (c *Client) Store() session.Reader {
	return c.store
}

// Close stops the monitor and releases the store backend. The persisted
// session is kept so the next run can restore it.
func (c *Client) Close() error {
	if c.auth != nil {
		if m := c.auth.Monitor(); m != nil {
			m.Stop()
		}
	}
	var firstErr error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

func (c *Client) buildHTTPClient() (*http.Client, error) {
	hc := c.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: c.config.GetRequestTimeout()}
	}
	hc.Transport = authapi.ChainTransport(hc.Transport, authapi.RecoverTransport, authapi.LoggingTransport(c.logger))
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("[client New] cookie jar: %w", err)
		}
		hc.Jar = jar
	}
	return hc, nil
}

func (c *Client) openStore() (session.Store, error) {
	switch backend := c.config.GetStoreBackend(); backend {
	case config.StoreBackendMemory:
		return session.NewInMemoryStore(), nil
	case config.StoreBackendBolt:
		r, err := boltrepo.Open(c.config.GetStorePath(), c.config.GetStoreKey())
		if err != nil {
			return nil, fmt.Errorf("[client New] %w", err)
		}
		c.closers = append(c.closers, r)
		return r, nil
	case config.StoreBackendRedis:
		r, err := redisrepo.NewFromURL(c.config.GetRedisURL(), c.config.GetStoreKey(), redisrepo.WithNowTime(c.nowTime))
		if err != nil {
			return nil, fmt.Errorf("[client New] %w", err)
		}
		c.closers = append(c.closers, r)
		return r, nil
	default:
		return nil, autherrors.Wrapf(autherrors.ErrInvalidConfig, "[client New] unknown store backend %q", backend)
	}
}

func (c *Client) newMonitor(store session.Reader) auth.MonitorFactory {
	thresholds := monitor.Thresholds{
		Warning:          c.config.GetWarningThreshold(),
		AutoExtend:       c.config.GetAutoExtendThreshold(),
		ActivityDebounce: c.config.GetActivityDebounce(),
		Tick:             c.config.GetTickInterval(),
	}
	return func(a monitor.Authenticator) (*monitor.Monitor, error) {
		opts := []monitor.MonitorOption{
			monitor.WithThresholds(thresholds),
			monitor.WithNowTime(c.nowTime),
			monitor.WithLogger(c.logger),
			monitor.WithMetrics(c.metrics),
		}
		for _, l := range c.listeners {
			opts = append(opts, monitor.WithListener(l))
		}
		return monitor.New(store, c.refresh, a, opts...)
	}
}
