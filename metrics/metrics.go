package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Refresh outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder holds the coordinator's counters. A nil *Recorder is valid and
// records nothing, so components can take one optionally.
type Recorder struct {
	refreshes    *prometheus.CounterVec
	refreshJoins prometheus.Counter
	retries      prometheus.Counter
	sessionEnds  *prometheus.CounterVec
	monitorState prometheus.Gauge
}

// New creates the collectors and registers them with reg (skipped when reg is nil).
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authsession",
			Name:      "refresh_total",
			Help:      "Refresh round-trips by outcome.",
		}, []string{"outcome"}),
		refreshJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authsession",
			Name:      "refresh_joined_total",
			Help:      "Callers that joined an already outstanding refresh.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authsession",
			Name:      "request_replay_total",
			Help:      "Requests re-issued after a successful refresh.",
		}),
		sessionEnds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authsession",
			Name:      "session_end_total",
			Help:      "Forced logouts with redirect, by reason.",
		}, []string{"reason"}),
		monitorState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "authsession",
			Name:      "monitor_state",
			Help:      "Expiry monitor state (0 active, 1 warning shown, 2 expired).",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{r.refreshes, r.refreshJoins, r.retries, r.sessionEnds, r.monitorState} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *Recorder) Refresh(outcome string) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RefreshJoined() {
	if r == nil {
		return
	}
	r.refreshJoins.Inc()
}

func (r *Recorder) Replay() {
	if r == nil {
		return
	}
	r.retries.Inc()
}

func (r *Recorder) SessionEnded(reason string) {
	if r == nil {
		return
	}
	r.sessionEnds.WithLabelValues(reason).Inc()
}

func (r *Recorder) MonitorState(state int) {
	if r == nil {
		return
	}
	r.monitorState.Set(float64(state))
}
