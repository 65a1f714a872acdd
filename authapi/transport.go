package authapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Middleware wraps a RoundTripper.
type Middleware func(http.RoundTripper) http.RoundTripper

// ChainTransport wraps base so that mw[0] sees the request first.
func ChainTransport(base http.RoundTripper, mw ...Middleware) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	chained := base
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chained = mw[i](chained)
	}
	return chained
}

// LoggingTransport logs every round-trip at debug level. Credentials are never logged.
func LoggingTransport(logger zerolog.Logger) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(r)
			event := logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("request_id", r.Header.Get(RequestIDHeader)).
				Dur("elapsed", time.Since(start))
			if err != nil {
				event.Err(err).Msg("API call failed")
				return nil, err
			}
			event.Int("status", resp.StatusCode).Msg("API call")
			return resp, nil
		})
	}
}

// RecoverTransport turns a panic in the wrapped transport into an error.
func RecoverTransport(next http.RoundTripper) http.RoundTripper {
	return RoundTripperFunc(func(r *http.Request) (resp *http.Response, err error) {
		defer func() {
			if p := recover(); p != nil {
				resp, err = nil, fmt.Errorf("[RecoverTransport] %s %s: panic: %v", r.Method, r.URL.Path, p)
			}
		}()
		return next.RoundTrip(r)
	})
}
