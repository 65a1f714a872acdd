package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/metrics"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// operation is one refresh cycle shared by every caller that asks for a
// refresh while it is outstanding. session and err are written once, before
// done is closed.
type operation struct {
	cycle   uint64
	done    chan struct{}
	waiters int
	session session.Session
	err     error
}

// Coordinator guarantees at most one refresh round-trip in flight per client.
// It is one of the two writers of the token store.
type Coordinator struct {
	api     API
	store   session.Store
	timeout time.Duration
	logger  zerolog.Logger
	metrics *metrics.Recorder

	mu      sync.Mutex
	pending *operation
	cycles  uint64
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithTimeout bounds the refresh round-trip. It applies independently of the
// callers' contexts because the result is shared.
func WithTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

func WithLogger(l zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

func WithMetrics(m *metrics.Recorder) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator creates a refresh coordinator writing to store.
func NewCoordinator(api API, store session.Store, options ...CoordinatorOption) (*Coordinator, error) {
	if api == nil {
		return nil, errors.New("[NewCoordinator] refresh API is required")
	}
	if store == nil {
		return nil, errors.New("[NewCoordinator] token store is required")
	}

	c := &Coordinator{
		api:     api,
		store:   store,
		timeout: 10 * time.Second,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Refresh obtains a new session. If a refresh is already outstanding the
// caller joins it and no further network call is made. On failure the store
// is cleared and the error matches ErrAuthExpired (and ErrNetworkFailure
// when the round-trip itself failed).
//
// Cancelling ctx only stops this caller from waiting; the shared round-trip
// carries on for the others.
func (c *Coordinator) Refresh(ctx context.Context) (session.Session, error) {
	c.mu.Lock()
	op := c.pending
	if op != nil {
		op.waiters++
		c.mu.Unlock()
		c.metrics.RefreshJoined()
		return c.await(ctx, op)
	}

	c.cycles++
	op = &operation{cycle: c.cycles, done: make(chan struct{}), waiters: 1}
	c.pending = op
	c.mu.Unlock()

	go c.run(context.WithoutCancel(ctx), op)
	return c.await(ctx, op)
}

// InFlight reports whether a refresh cycle is outstanding.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Wait blocks until the outstanding refresh, if any, completes. It reports
// whether there was one to wait for, and its error.
func (c *Coordinator) Wait(ctx context.Context) (bool, error) {
	c.mu.Lock()
	op := c.pending
	if op != nil {
		op.waiters++
	}
	c.mu.Unlock()

	if op == nil {
		return false, nil
	}
	_, err := c.await(ctx, op)
	return true, err
}

// Cycles returns how many refresh round-trips have been started.
func (c *Coordinator) Cycles() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles
}

// TokenSource exposes the coordinator as an oauth2.TokenSource: the stored
// token while it is valid, a coordinated refresh otherwise.
func (c *Coordinator) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, c: c}
}

func (c *Coordinator) await(ctx context.Context, op *operation) (session.Session, error) {
	select {
	case <-op.done:
		return op.session, op.err
	case <-ctx.Done():
		return session.Session{}, ctx.Err()
	}
}

func (c *Coordinator) run(ctx context.Context, op *operation) {
	logger := c.logger.With().Uint64("cycle", op.cycle).Logger()

	defer func() {
		if r := recover(); r != nil {
			op.session = session.Session{}
			op.err = fmt.Errorf("%w: refresh panicked: %v", autherrors.ErrAuthExpired, r)
			if err := c.store.Clear(context.Background()); err != nil {
				logger.Err(err).Msg("Failed to clear token store after refresh panic")
			}
			c.metrics.Refresh(metrics.OutcomeFailure)
		}

		// Clear the marker and release the waiters in one critical section so a
		// caller arriving now either saw this cycle or starts the next one.
		c.mu.Lock()
		if c.pending == op {
			c.pending = nil
		}
		waiters := op.waiters
		close(op.done)
		c.mu.Unlock()

		logger.Debug().Int("waiters", waiters).Bool("ok", op.err == nil).Msg("Refresh cycle finished")
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var refreshToken string
	if current, err := c.store.Get(ctx); err == nil {
		refreshToken = current.RefreshToken
	}

	s, err := c.api.Refresh(ctx, refreshToken)
	if err == nil {
		if err = c.store.Set(ctx, s); err != nil {
			err = autherrors.Join(autherrors.ErrAuthExpired, fmt.Errorf("persist refreshed session: %w", err))
		}
	}
	if err != nil {
		if !autherrors.Is(err, autherrors.ErrAuthExpired) {
			err = autherrors.Join(autherrors.ErrAuthExpired, err)
		}
		if clearErr := c.store.Clear(ctx); clearErr != nil {
			logger.Err(clearErr).Msg("Failed to clear token store after refresh failure")
		}
		c.metrics.Refresh(metrics.OutcomeFailure)
		logger.Warn().Err(err).Msg("Session refresh failed")
		op.err = err
		return
	}

	c.metrics.Refresh(metrics.OutcomeSuccess)
	logger.Info().Time("expiry", s.Expiry).Msg("Session refreshed")
	op.session = s
}

type tokenSource struct {
	ctx context.Context
	c   *Coordinator
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	if s, err := ts.c.store.Get(ts.ctx); err == nil {
		if tok := s.OAuth2Token(); tok.Valid() {
			return tok, nil
		}
	}
	s, err := ts.c.Refresh(ts.ctx)
	if err != nil {
		return nil, err
	}
	return s.OAuth2Token(), nil
}
