package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/pkg/errors"
)

// maxErrorBody caps how much of an error response is read for its message.
const maxErrorBody = 64 << 10

// Client speaks to the backend's auth endpoints. It owns the HTTP client and
// therefore the cookie jar that carries the session and anti-forgery cookies.
type Client struct {
	baseURL         *url.URL
	http            *http.Client
	defaultLifetime time.Duration
	nowTime         func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client. Its Jar is used for cookies.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithDefaultLifetime sets the session lifetime assumed when the server reports none.
func WithDefaultLifetime(d time.Duration) ClientOption {
	return func(c *Client) {
		c.defaultLifetime = d
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowTime = nowFunc
	}
}

// NewClient creates a client for the API rooted at baseURL (e.g. "http://localhost:8000/api").
func NewClient(baseURL string, options ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "[NewClient] invalid base URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("[NewClient] base URL %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:         u,
		http:            &http.Client{Timeout: 30 * time.Second},
		defaultLifetime: 2 * time.Hour,
		nowTime:         time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.http == nil {
		return nil, errors.New("[NewClient] http client is required")
	}
	return c, nil
}

// BaseURL returns the parsed API root.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// HTTPClient returns the client used for every call, including gateway traffic.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// URL resolves an API path such as "/auth/user/" against the base URL.
func (c *Client) URL(path string) string {
	return c.baseURL.String() + "/" + strings.TrimLeft(path, "/")
}

// IsRefreshURL reports whether u addresses the refresh endpoint.
func (c *Client) IsRefreshURL(u *url.URL) bool {
	return u != nil && strings.TrimRight(u.Path, "/") == strings.TrimRight(c.baseURL.Path+PathRefresh, "/")
}

// CSRFToken returns the anti-forgery token from the jar, if any.
func (c *Client) CSRFToken() string {
	if c.http.Jar == nil {
		return ""
	}
	for _, ck := range c.http.Jar.Cookies(c.baseURL) {
		if ck.Name == CSRFCookieName {
			return ck.Value
		}
	}
	return ""
}

// AttachCredentials adds the bearer token (when the session holds one) and,
// for mutating verbs, the anti-forgery header. Cookies come from the jar.
func (c *Client) AttachCredentials(req *http.Request, s *session.Session) {
	if s != nil && s.AccessToken != "" {
		s.OAuth2Token().SetAuthHeader(req)
	}
	if IsMutating(req.Method) {
		if token := c.CSRFToken(); token != "" {
			req.Header.Set(CSRFHeaderName, token)
		}
	}
}

// IsMutating reports whether method needs an anti-forgery token.
func IsMutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Login exchanges credentials for a session. A rejected login returns
// ErrInvalidCredentials carrying the server's message.
func (c *Client) Login(ctx context.Context, creds Credentials) (session.Session, *User, error) {
	resp, err := c.postJSON(ctx, PathLogin, creds, nil)
	if err != nil {
		return session.Session{}, nil, autherrors.Join(autherrors.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorMessage(resp)
		if msg == "" {
			msg = "login failed"
		}
		return session.Session{}, nil, fmt.Errorf("%w: %s", autherrors.ErrInvalidCredentials, msg)
	}

	var tr TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil && err != io.EOF {
		return session.Session{}, nil, autherrors.Join(autherrors.ErrUnexpectedBody, err)
	}
	return c.SessionFrom(tr, ""), tr.User, nil
}

// Refresh performs one round-trip to the refresh endpoint. An empty
// refreshToken sends an empty body so the server falls back to its cookie.
// The previous refresh token is kept when the server does not rotate it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (session.Session, error) {
	body := map[string]string{}
	if refreshToken != "" {
		body["refresh"] = refreshToken
	}
	resp, err := c.postJSON(ctx, PathRefresh, body, nil)
	if err != nil {
		return session.Session{}, autherrors.Join(autherrors.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return session.Session{}, fmt.Errorf("%w: refresh rejected with status %d", autherrors.ErrAuthExpired, resp.StatusCode)
	}

	var tr TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil && err != io.EOF {
		return session.Session{}, autherrors.Join(autherrors.ErrUnexpectedBody, err)
	}
	return c.SessionFrom(tr, refreshToken), nil
}

// Logout tells the server to end the session. Callers treat failure as advisory.
func (c *Client) Logout(ctx context.Context, s *session.Session) error {
	resp, err := c.postJSON(ctx, PathLogout, struct{}{}, s)
	if err != nil {
		return autherrors.Join(autherrors.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("[Logout] server returned status %d", resp.StatusCode)
	}
	return nil
}

// SessionFrom builds a session from a token response. Expiry is taken from
// access_expiration, then expires_in, then the access token's exp claim, and
// finally the default lifetime.
func (c *Client) SessionFrom(tr TokenResponse, previousRefresh string) session.Session {
	now := c.nowTime()
	s := session.Session{
		AccessToken:  utils.Value(tr.Access),
		RefreshToken: utils.Value(tr.Refresh),
	}
	if s.RefreshToken == "" {
		s.RefreshToken = previousRefresh
	}

	expiresIn := utils.ValueOr(tr.ExpiresIn, 0)
	switch {
	case !utils.Value(tr.AccessExpiration).IsZero():
		s.Expiry = *tr.AccessExpiration
	case expiresIn > 0:
		s.Expiry = now.Add(time.Duration(expiresIn) * time.Second)
	default:
		if exp, ok := session.ExpiryFromJWT(s.AccessToken); ok {
			s.Expiry = exp
		} else {
			s.Expiry = now.Add(c.defaultLifetime)
		}
	}
	return s
}

func (c *Client) postJSON(ctx context.Context, path string, body any, s *session.Session) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.AttachCredentials(req, s)
	return c.http.Do(req)
}

func readErrorMessage(resp *http.Response) string {
	var er errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&er); err != nil {
		return ""
	}
	return er.message()
}
