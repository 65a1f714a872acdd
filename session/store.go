package session

import "context"

// Reader is the read-only view of the token store. Everything except the
// refresh coordinator and the auth service gets a Reader.
type Reader interface {
	// Get returns the live session or ErrNoSession.
	Get(ctx context.Context) (Session, error)
}

// Store is the durable single source of truth for the session.
// Only the refresh coordinator and the auth service hold a Store.
type Store interface {
	Reader
	Set(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
}
