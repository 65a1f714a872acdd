package authapi_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-auth-session/authapi"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestChainTransportOrder(t *testing.T) {
	var order []string
	mark := func(name string) authapi.Middleware {
		return func(next http.RoundTripper) http.RoundTripper {
			return authapi.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
				order = append(order, name)
				return next.RoundTrip(r)
			})
		}
	}
	base := authapi.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		order = append(order, "base")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: r}, nil
	})

	rt := authapi.ChainTransport(base, mark("first"), mark("second"))
	_, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://localhost/api/x", nil))
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second", "base"}, order)
}

func TestLoggingTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	hc := &http.Client{Transport: authapi.ChainTransport(nil, authapi.LoggingTransport(logger))}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/cases/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set(authapi.RequestIDHeader, "req-1")
	resp, err := hc.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	out := buf.String()
	require.Contains(t, out, `"status":418`)
	require.Contains(t, out, `"path":"/api/cases/"`)
	require.Contains(t, out, `"request_id":"req-1"`)
	require.NotContains(t, out, "secret-token")
}

func TestRecoverTransport(t *testing.T) {
	rt := authapi.RecoverTransport(authapi.RoundTripperFunc(func(*http.Request) (*http.Response, error) {
		panic("broken transport")
	}))

	_, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://localhost/api/x", nil))
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken transport")
}
