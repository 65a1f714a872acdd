package boltrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/session"
	bolt "go.etcd.io/bbolt"
)

const defaultBucket = "session"

var _ session.Store = (*Repo)(nil)

// Repo persists the session in a BoltDB file so it survives restarts.
type Repo struct {
	db     *bolt.DB
	bucket []byte
	key    []byte
}

// Open initializes the BoltDB file and ensures the bucket exists.
// key names the session record, allowing several clients to share a file.
func Open(path, key string) (*Repo, error) {
	if key == "" {
		return nil, fmt.Errorf("[boltrepo Open] key is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("[boltrepo Open] create dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("[boltrepo Open] open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(defaultBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("[boltrepo Open] create bucket: %w", err)
	}

	return &Repo{
		db:     db,
		bucket: []byte(defaultBucket),
		key:    []byte(key),
	}, nil
}

func (r *Repo) Get(_ context.Context) (session.Session, error) {
	var s session.Session
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(r.bucket).Get(r.key)
		if v == nil {
			return autherrors.ErrNoSession
		}
		return json.Unmarshal(v, &s)
	})
	if err != nil {
		return session.Session{}, err
	}
	return s, nil
}

func (r *Repo) Set(_ context.Context, s session.Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("[boltrepo Set] marshal: %w", err)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(r.bucket).Put(r.key, payload)
	})
}

func (r *Repo) Clear(_ context.Context) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(r.bucket).Delete(r.key)
	})
}

// Close releases the database file lock.
func (r *Repo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
