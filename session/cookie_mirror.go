package session

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

const (
	// AccessCookieName is the cookie server-rendered checks look for.
	AccessCookieName = "app-auth"
	// RefreshCookieName mirrors the refresh token when one is held client-side.
	RefreshCookieName = "app-refresh-token"
)

var _ Store = (*CookieMirror)(nil)

// CookieMirror writes through to the wrapped Store and mirrors the tokens into
// a cookie jar so that server-rendered pages see the same session. Reads never
// consult the jar: the wrapped Store stays authoritative.
type CookieMirror struct {
	Store
	jar     http.CookieJar
	baseURL *url.URL
	now     func() time.Time
}

// NewCookieMirror wraps store, mirroring into jar for cookies scoped to baseURL.
func NewCookieMirror(store Store, jar http.CookieJar, baseURL *url.URL) *CookieMirror {
	return &CookieMirror{
		Store:   store,
		jar:     jar,
		baseURL: baseURL,
		now:     time.Now,
	}
}

func (c *CookieMirror) Set(ctx context.Context, s Session) error {
	if err := c.Store.Set(ctx, s); err != nil {
		return err
	}

	maxAge := int(s.Remaining(c.now()) / time.Second)
	if maxAge <= 0 {
		maxAge = -1
	}
	var cookies []*http.Cookie
	if s.AccessToken != "" {
		cookies = append(cookies, c.cookie(AccessCookieName, s.AccessToken, maxAge))
	}
	if s.RefreshToken != "" {
		cookies = append(cookies, c.cookie(RefreshCookieName, s.RefreshToken, maxAge))
	}
	if len(cookies) > 0 {
		c.jar.SetCookies(c.baseURL, cookies)
	}
	return nil
}

func (c *CookieMirror) Clear(ctx context.Context) error {
	err := c.Store.Clear(ctx)
	c.jar.SetCookies(c.baseURL, []*http.Cookie{
		c.cookie(AccessCookieName, "", -1),
		c.cookie(RefreshCookieName, "", -1),
	})
	return err
}

func (c *CookieMirror) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   c.baseURL.Scheme == "https",
		SameSite: http.SameSiteLaxMode,
	}
}
