package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/metrics"
	"github.com/jrsteele09/go-auth-session/session"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Refresher is the single-flight refresh. *refresh.Coordinator implements it.
type Refresher interface {
	Refresh(ctx context.Context) (session.Session, error)
}

// Authenticator ends sessions. *auth.Service implements it.
type Authenticator interface {
	EndSession(ctx context.Context, reason session.EndReason)
	Logout(ctx context.Context) error
}

// Thresholds tune the monitor.
type Thresholds struct {
	Warning          time.Duration // Show the warning below this remaining time
	AutoExtend       time.Duration // Activity below this remaining time refreshes silently
	ActivityDebounce time.Duration // At most one activity evaluation per interval
	Tick             time.Duration // Countdown recomputation interval
}

// DefaultThresholds are 5m warning, 30m auto-extend, 30s debounce and a 1s tick.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning:          5 * time.Minute,
		AutoExtend:       30 * time.Minute,
		ActivityDebounce: 30 * time.Second,
		Tick:             time.Second,
	}
}

// Monitor counts down one session against the absolute expiry held in the
// token store. It never keeps its own counter, so a suspended process picks
// up the true remaining time on its next tick.
type Monitor struct {
	id         string
	store      session.Reader
	refresher  Refresher
	auth       Authenticator
	thresholds Thresholds
	nowTime    func() time.Time
	logger     zerolog.Logger
	metrics    *metrics.Recorder
	listeners  []Listener

	mu                sync.Mutex
	state             State
	stopped           bool
	started           bool
	lastActivityCheck time.Time

	activity chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

func WithThresholds(t Thresholds) MonitorOption {
	return func(m *Monitor) {
		m.thresholds = t
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) MonitorOption {
	return func(m *Monitor) {
		m.nowTime = nowFunc
	}
}

func WithLogger(l zerolog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = l
	}
}

func WithMetrics(r *metrics.Recorder) MonitorOption {
	return func(m *Monitor) {
		m.metrics = r
	}
}

// WithListener adds a transition listener.
func WithListener(l Listener) MonitorOption {
	return func(m *Monitor) {
		if l != nil {
			m.listeners = append(m.listeners, l)
		}
	}
}

// New creates a monitor in the Active state. Start runs its countdown.
func New(store session.Reader, refresher Refresher, auth Authenticator, options ...MonitorOption) (*Monitor, error) {
	if store == nil {
		return nil, pkgerrors.New("[monitor New] token store is required")
	}
	if refresher == nil {
		return nil, pkgerrors.New("[monitor New] refresher is required")
	}
	if auth == nil {
		return nil, pkgerrors.New("[monitor New] authenticator is required")
	}

	m := &Monitor{
		id:         uuid.NewString(),
		store:      store,
		refresher:  refresher,
		auth:       auth,
		thresholds: DefaultThresholds(),
		nowTime:    time.Now,
		logger:     log.Logger,
		state:      Active,
		activity:   make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range options {
		opt(m)
	}
	if m.thresholds.Tick <= 0 {
		return nil, pkgerrors.New("[monitor New] tick interval must be positive")
	}
	m.logger = m.logger.With().Str("monitor_id", m.id).Logger()
	return m, nil
}

// Start runs the countdown and activity handling until Stop, ctx
// cancellation, or expiry. Calling Start more than once has no effect.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.loop(ctx)
}

// Stop tears down the ticker and activity subscription. It does not wait for
// the loop to exit; use Done for that. Safe to call from a listener.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		started := m.started
		m.mu.Unlock()

		close(m.stop)
		if !started {
			close(m.done)
		}
	})
}

// Done is closed once the monitor's loop has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Remaining reads the time left from the store.
func (m *Monitor) Remaining(ctx context.Context) (time.Duration, error) {
	s, err := m.store.Get(ctx)
	if err != nil {
		return 0, err
	}
	return s.Remaining(m.nowTime()), nil
}

// Activity records a user input event. It never blocks; events arriving
// faster than the loop drains them coalesce.
func (m *Monitor) Activity() {
	select {
	case m.activity <- struct{}{}:
	default:
	}
}

// Evaluate recomputes the state from the stored expiry. Entering Expired
// ends the session exactly once; Expired is terminal.
func (m *Monitor) Evaluate(ctx context.Context) State {
	m.mu.Lock()
	if m.stopped || m.state == Expired {
		state := m.state
		m.mu.Unlock()
		return state
	}

	now := m.nowTime()
	prev := m.state
	next := prev
	var remaining time.Duration

	s, err := m.store.Get(ctx)
	switch {
	case errors.Is(err, autherrors.ErrNoSession):
		next = Expired
	case err != nil:
		m.logger.Err(err).Msg("Failed to read session; keeping state")
	default:
		remaining = s.Remaining(now)
		switch {
		case remaining <= 0:
			next = Expired
		case remaining < m.thresholds.Warning:
			next = WarningShown
		default:
			next = Active
		}
	}
	m.state = next
	m.mu.Unlock()

	if next == prev {
		return next
	}

	m.metrics.MonitorState(int(next))
	m.logger.Info().Str("from", prev.String()).Str("to", next.String()).Dur("remaining", remaining).Msg("Session state changed")
	m.notify(Transition{From: prev, To: next, Remaining: remaining, At: now})

	if next == Expired {
		m.Stop()
		m.auth.EndSession(ctx, session.EndExpired)
	}
	return next
}

// HandleActivity applies the auto-extension rule for one activity event:
// at most once per debounce interval, and only while 0 < remaining < AutoExtend,
// issue a silent refresh. It reports whether a refresh was attempted.
func (m *Monitor) HandleActivity(ctx context.Context) bool {
	m.mu.Lock()
	now := m.nowTime()
	if m.stopped || m.state == Expired {
		m.mu.Unlock()
		return false
	}
	if !m.lastActivityCheck.IsZero() && now.Sub(m.lastActivityCheck) < m.thresholds.ActivityDebounce {
		m.mu.Unlock()
		return false
	}
	m.lastActivityCheck = now
	m.mu.Unlock()

	s, err := m.store.Get(ctx)
	if err != nil {
		return false
	}
	remaining := s.Remaining(now)
	if remaining <= 0 || remaining >= m.thresholds.AutoExtend {
		return false
	}

	m.logger.Debug().Dur("remaining", remaining).Msg("Auto-extending session after activity")
	if _, err := m.refresher.Refresh(ctx); err != nil {
		m.failedRefresh(ctx, err)
		return true
	}
	m.Evaluate(ctx)
	return true
}

// StayLoggedIn is the warning dialog's "stay logged in" action.
func (m *Monitor) StayLoggedIn(ctx context.Context) error {
	if m.State() == Expired {
		return autherrors.ErrSessionExpired
	}
	if _, err := m.refresher.Refresh(ctx); err != nil {
		m.failedRefresh(ctx, err)
		return err
	}
	m.Evaluate(ctx)
	return nil
}

// LogoutNow is the warning dialog's "logout" action.
func (m *Monitor) LogoutNow(ctx context.Context) error {
	return m.auth.Logout(ctx)
}

func (m *Monitor) failedRefresh(ctx context.Context, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return
	}
	m.logger.Warn().Err(err).Msg("Session extension failed")
	m.auth.EndSession(ctx, session.EndRefreshFailed)
}

func (m *Monitor) notify(t Transition) {
	for _, l := range m.listeners {
		l(t)
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.thresholds.Tick)
	defer ticker.Stop()

	if m.Evaluate(ctx) == Expired {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			if m.Evaluate(ctx) == Expired {
				return
			}
		case <-m.activity:
			m.HandleActivity(ctx)
		}
	}
}
