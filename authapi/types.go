package authapi

import "time"

// Endpoint paths relative to the API base URL.
const (
	PathLogin   = "/auth/login/"
	PathLogout  = "/auth/logout/"
	PathRefresh = "/auth/token/refresh/"
	PathUser    = "/auth/user/"
)

const (
	// CSRFCookieName is the client-readable cookie carrying the anti-forgery token.
	CSRFCookieName = "csrftoken"
	// CSRFHeaderName is the header mutating requests echo the token in.
	CSRFHeaderName = "X-CSRFToken"
	// RequestIDHeader correlates a request with its replay.
	RequestIDHeader = "X-Request-ID"
)

// Credentials are exchanged for a session at the login endpoint.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is the body returned by the login and refresh endpoints.
// Only Access is guaranteed; cookie-based deployments may omit both tokens.
type TokenResponse struct {
	// Access is the bearer access token (JWT).
	Access *string `json:"access,omitempty"`

	// Refresh is the rotated refresh token. Absent when the server keeps it in
	// an httpOnly cookie or does not rotate.
	Refresh *string `json:"refresh,omitempty"`

	// AccessExpiration is the absolute expiry, when the server reports it.
	AccessExpiration *time.Time `json:"access_expiration,omitempty"`

	// ExpiresIn is the lifetime in seconds, the relative alternative to AccessExpiration.
	ExpiresIn *int `json:"expires_in,omitempty"`

	// User is included by the login endpoint on some deployments.
	User *User `json:"user,omitempty"`
}

// User is the authenticated account as returned by /auth/user/.
type User struct {
	ID          int      `json:"id"`
	FirstName   string   `json:"vorname_mb"`
	LastName    string   `json:"nachname_mb"`
	Email       string   `json:"mail_mb"`
	Role        string   `json:"rolle_mb"`
	Groups      []string `json:"groups,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// HasPermission reports whether perm (e.g. "api.delete_fall") was granted.
func (u *User) HasPermission(perm string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// errorResponse covers the error shapes the backend uses.
type errorResponse struct {
	Detail         string   `json:"detail"`
	NonFieldErrors []string `json:"non_field_errors"`
}

func (e errorResponse) message() string {
	if e.Detail != "" {
		return e.Detail
	}
	if len(e.NonFieldErrors) > 0 {
		return e.NonFieldErrors[0]
	}
	return ""
}
