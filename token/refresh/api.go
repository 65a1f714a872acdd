package refresh

import (
	"context"

	"github.com/jrsteele09/go-auth-session/session"
)

// API performs the network round-trip to the refresh endpoint.
// An empty refreshToken means the server reads it from its own cookie.
type API interface {
	Refresh(ctx context.Context, refreshToken string) (session.Session, error)
}

// APIFunc adapts a function to API.
type APIFunc func(ctx context.Context, refreshToken string) (session.Session, error)

func (f APIFunc) Refresh(ctx context.Context, refreshToken string) (session.Session, error) {
	return f(ctx, refreshToken)
}
