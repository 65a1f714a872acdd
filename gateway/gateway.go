package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/authapi"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/metrics"
	"github.com/jrsteele09/go-auth-session/session"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport resolves paths and attaches credentials. *authapi.Client implements it.
type Transport interface {
	URL(path string) string
	IsRefreshURL(u *url.URL) bool
	AttachCredentials(req *http.Request, s *session.Session)
	HTTPClient() *http.Client
}

// Refresher is the single-flight refresh. *refresh.Coordinator implements it.
type Refresher interface {
	Refresh(ctx context.Context) (session.Session, error)
	Wait(ctx context.Context) (bool, error)
}

// SessionEnder performs the global logout and redirect. Implementations must
// be idempotent per session: however many requests fail in one cycle, the
// user is logged out and redirected once.
type SessionEnder interface {
	EndSession(ctx context.Context, reason session.EndReason)
}

var _ Transport = (*authapi.Client)(nil)

// Gateway issues API calls on behalf of the UI and owns all 401 handling, so
// callers never retry on their own.
type Gateway struct {
	transport Transport
	store     session.Reader
	refresher Refresher
	ender     SessionEnder
	logger    zerolog.Logger
	metrics   *metrics.Recorder
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

func WithLogger(l zerolog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = l
	}
}

func WithMetrics(m *metrics.Recorder) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithSessionEnder sets who is told when a session cannot be recovered.
// It can be set after construction with SetSessionEnder to break the
// construction cycle with the auth service.
func WithSessionEnder(e SessionEnder) GatewayOption {
	return func(g *Gateway) {
		g.ender = e
	}
}

// New creates a request gateway. The store is only read.
func New(transport Transport, store session.Reader, refresher Refresher, options ...GatewayOption) (*Gateway, error) {
	if transport == nil {
		return nil, pkgerrors.New("[gateway New] transport is required")
	}
	if store == nil {
		return nil, pkgerrors.New("[gateway New] token store is required")
	}
	if refresher == nil {
		return nil, pkgerrors.New("[gateway New] refresher is required")
	}

	g := &Gateway{
		transport: transport,
		store:     store,
		refresher: refresher,
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// SetSessionEnder installs the session ender. Call before serving requests.
func (g *Gateway) SetSessionEnder(e SessionEnder) {
	g.ender = e
}

// Execute issues r with the current credentials. On 401 it drives one
// coordinated refresh and replays r exactly once. Responses other than 401,
// and transport errors, are returned untouched.
//
// Errors matching ErrAuthExpired mean the session is gone and the global
// logout has been triggered.
func (g *Gateway) Execute(ctx context.Context, r *Request) (*http.Response, error) {
	if r == nil {
		return nil, pkgerrors.New("[gateway Execute] request is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	logger := g.logger.With().Str("request_id", r.ID).Str("method", r.Method).Str("path", r.Path).Logger()

	retried := false
	for {
		// Never send the stale token while a refresh is outstanding; join it.
		if joined, err := g.refresher.Wait(ctx); joined && err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			g.endSession(ctx, session.EndRefreshFailed)
			return nil, authExpired(err)
		}

		resp, sent, err := g.issue(ctx, r)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		if g.transport.IsRefreshURL(resp.Request.URL) {
			discard(resp)
			logger.Warn().Msg("Refresh endpoint rejected credentials")
			g.endSession(ctx, session.EndRefreshRejected)
			return nil, fmt.Errorf("%w: refresh endpoint returned 401", autherrors.ErrAuthExpired)
		}

		if retried {
			logger.Warn().Msg("Request still unauthorized after refresh; not retrying again")
			return resp, nil
		}
		discard(resp)

		current, storeErr := g.store.Get(ctx)
		switch {
		case storeErr == nil && (sent == nil || !sameSession(current, *sent)):
			// A refresh finished after this request went out: replay with the new session.
			retried = true
			g.metrics.Replay()
			logger.Debug().Msg("Session changed while request was in flight; replaying")
			continue
		case sent != nil && errors.Is(storeErr, autherrors.ErrNoSession):
			// The session it was sent with is gone: a refresh cycle failed or the user logged out.
			logger.Debug().Msg("Session cleared while request was in flight")
			g.endSession(ctx, session.EndRefreshFailed)
			return nil, fmt.Errorf("%w: session cleared while request was in flight", autherrors.ErrAuthExpired)
		}

		logger.Debug().Msg("Request unauthorized; refreshing session")
		if _, err := g.refresher.Refresh(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return nil, ctxErr
			}
			g.endSession(ctx, session.EndRefreshFailed)
			return nil, authExpired(err)
		}

		retried = true
		g.metrics.Replay()
		logger.Debug().Msg("Replaying request after refresh")
	}
}

// GetJSON executes a GET of path and decodes the JSON response into v.
func (g *Gateway) GetJSON(ctx context.Context, path string, v any) error {
	resp, err := g.Execute(ctx, Get(path))
	if err != nil {
		return err
	}
	return DecodeJSON(resp, v)
}

// issue sends r once and reports the session its credentials came from (nil when none).
func (g *Gateway) issue(ctx context.Context, r *Request) (*http.Response, *session.Session, error) {
	req, err := r.build(ctx, g.transport.URL(r.Path))
	if err != nil {
		return nil, nil, fmt.Errorf("[gateway issue] build request: %w", err)
	}
	req.Header.Set(authapi.RequestIDHeader, r.ID)

	var sent *session.Session
	if s, err := g.store.Get(ctx); err == nil {
		sent = &s
	}
	g.transport.AttachCredentials(req, sent)

	resp, err := g.transport.HTTPClient().Do(req)
	if err != nil {
		return nil, nil, err
	}
	return resp, sent, nil
}

// authExpired classifies err as ErrAuthExpired unless it already is.
func authExpired(err error) error {
	if autherrors.Is(err, autherrors.ErrAuthExpired) {
		return err
	}
	return autherrors.Join(autherrors.ErrAuthExpired, err)
}

func sameSession(a, b session.Session) bool {
	return a.AccessToken == b.AccessToken && a.RefreshToken == b.RefreshToken && a.Expiry.Equal(b.Expiry)
}

func (g *Gateway) endSession(ctx context.Context, reason session.EndReason) {
	if g.ender == nil {
		return
	}
	g.ender.EndSession(ctx, reason)
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
