package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Session is the client's belief about its authenticated identity and the
// window it is valid for. Expiry is always an absolute instant so that a
// suspended process or clock drift cannot desynchronise it from the server.
type Session struct {
	AccessToken  string    `json:"access_token,omitempty"`  // Bearer token; empty when identity rides on the app-auth cookie
	RefreshToken string    `json:"refresh_token,omitempty"` // Empty when the refresh token is an httpOnly cookie
	Expiry       time.Time `json:"expiry"`
}

// Remaining returns the time left until Expiry, negative once expired.
func (s Session) Remaining(now time.Time) time.Duration {
	return s.Expiry.Sub(now)
}

// Expired reports whether the session window has closed at now.
func (s Session) Expired(now time.Time) bool {
	return s.Remaining(now) <= 0
}

// OAuth2Token exposes the session as a bearer token for oauth2-aware callers.
func (s Session) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
		Expiry:       s.Expiry,
	}
}

// ExpiryFromJWT reads the exp claim of an access token without verifying it.
// Verification is the server's job; the client only needs the deadline.
func ExpiryFromJWT(accessToken string) (time.Time, bool) {
	if accessToken == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// FormatRemaining renders a countdown as HH:MM:SS, clamping at zero.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// EndReason says why a session was ended from the client side.
type EndReason string

const (
	// EndRefreshFailed: a refresh cycle failed (rejected token or network failure).
	EndRefreshFailed EndReason = "refresh_failed"
	// EndRefreshRejected: the refresh endpoint itself answered 401.
	EndRefreshRejected EndReason = "refresh_rejected"
	// EndExpired: the expiry monitor saw the deadline pass.
	EndExpired EndReason = "expired"
)
