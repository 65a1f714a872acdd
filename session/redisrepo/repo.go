package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "authsession:"

var _ session.Store = (*Repo)(nil)

// Repo keeps the session in Redis. The record's TTL tracks the session's
// remaining lifetime so an abandoned session disappears on its own.
type Repo struct {
	client redis.UniversalClient
	key    string
	now    func() time.Time
}

// Option configures a Repo.
type Option func(*Repo)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(now func() time.Time) Option {
	return func(r *Repo) {
		r.now = now
	}
}

// New creates a Redis-backed store for the session named key.
func New(client redis.UniversalClient, key string, opts ...Option) (*Repo, error) {
	if client == nil {
		return nil, fmt.Errorf("[redisrepo New] client is required")
	}
	if key == "" {
		return nil, fmt.Errorf("[redisrepo New] key is required")
	}
	r := &Repo{
		client: client,
		key:    keyPrefix + key,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// NewFromURL parses a redis:// URL and creates the store on a fresh client.
func NewFromURL(url, key string, opts ...Option) (*Repo, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("[redisrepo NewFromURL] parse url: %w", err)
	}
	return New(redis.NewClient(o), key, opts...)
}

func (r *Repo) Get(ctx context.Context) (session.Session, error) {
	raw, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Session{}, autherrors.ErrNoSession
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("[redisrepo Get] %w", err)
	}

	var s session.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return session.Session{}, fmt.Errorf("[redisrepo Get] decode: %w", err)
	}
	return s, nil
}

func (r *Repo) Set(ctx context.Context, s session.Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("[redisrepo Set] marshal: %w", err)
	}
	ttl := s.Remaining(r.now())
	if ttl <= 0 {
		return r.Clear(ctx)
	}
	if err := r.client.Set(ctx, r.key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("[redisrepo Set] %w", err)
	}
	return nil
}

func (r *Repo) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("[redisrepo Clear] %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *Repo) Close() error {
	return r.client.Close()
}
