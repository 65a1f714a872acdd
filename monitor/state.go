package monitor

import "time"

// State of the expiry monitor for one session.
type State int

const (
	Active State = iota
	WarningShown
	Expired
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case WarningShown:
		return "warning_shown"
	case Expired:
		return "expired"
	}
	return "unknown"
}

// Transition is delivered to listeners on every state change. Remaining is
// what a "session expires in" dialog displays.
type Transition struct {
	From      State
	To        State
	Remaining time.Duration
	At        time.Time
}

// Listener observes state transitions. It runs on the monitor's goroutine
// (or the caller's, for StayLoggedIn) and must not block.
type Listener func(Transition)
