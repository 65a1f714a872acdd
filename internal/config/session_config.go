package config

import "time"

type SessionConfig interface {
	GetWarningThreshold() time.Duration
	GetAutoExtendThreshold() time.Duration
	GetActivityDebounce() time.Duration
	GetTickInterval() time.Duration
	GetDefaultSessionLifetime() time.Duration
	GetRefreshTimeout() time.Duration
	GetLogoutTimeout() time.Duration
	GetRequestTimeout() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

// GetWarningThreshold is how long before expiry the "stay logged in" warning is shown.
func (Session) GetWarningThreshold() time.Duration {
	return GetDurationEnv("SESSION_WARNING", 5*time.Minute)
}

// GetAutoExtendThreshold is the remaining lifetime below which user activity
// silently extends the session.
func (Session) GetAutoExtendThreshold() time.Duration {
	return GetDurationEnv("SESSION_AUTO_EXTEND", 30*time.Minute)
}

func (Session) GetActivityDebounce() time.Duration {
	return GetDurationEnv("ACTIVITY_DEBOUNCE", 30*time.Second)
}

func (Session) GetTickInterval() time.Duration {
	return GetDurationEnv("MONITOR_TICK", time.Second)
}

// GetDefaultSessionLifetime applies when the server reports no expiry at all.
func (Session) GetDefaultSessionLifetime() time.Duration {
	return GetDurationEnv("SESSION_DEFAULT_LIFETIME", 2*time.Hour)
}

func (Session) GetRefreshTimeout() time.Duration {
	return GetDurationEnv("REFRESH_TIMEOUT", 10*time.Second)
}

func (Session) GetLogoutTimeout() time.Duration {
	return GetDurationEnv("LOGOUT_TIMEOUT", 3*time.Second)
}

func (Session) GetRequestTimeout() time.Duration {
	return GetDurationEnv("REQUEST_TIMEOUT", 30*time.Second)
}
