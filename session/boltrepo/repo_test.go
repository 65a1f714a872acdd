package boltrepo_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/session/boltrepo"
	"github.com/stretchr/testify/require"
)

func TestRepoRoundTripAndClear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.db")

	repo, err := boltrepo.Open(path, "default")
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.Get(ctx)
	require.ErrorIs(t, err, autherrors.ErrNoSession)

	want := session.Session{AccessToken: "a", RefreshToken: "r", Expiry: time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)}
	require.NoError(t, repo.Set(ctx, want))

	got, err := repo.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, want.AccessToken, got.AccessToken)
	require.Equal(t, want.RefreshToken, got.RefreshToken)
	require.True(t, want.Expiry.Equal(got.Expiry))

	require.NoError(t, repo.Clear(ctx))
	_, err = repo.Get(ctx)
	require.ErrorIs(t, err, autherrors.ErrNoSession)
}

func TestRepoSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")
	want := session.Session{AccessToken: "a", Expiry: time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)}

	repo, err := boltrepo.Open(path, "default")
	require.NoError(t, err)
	require.NoError(t, repo.Set(ctx, want))
	require.NoError(t, repo.Close())

	repo, err = boltrepo.Open(path, "default")
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", got.AccessToken)
}

func TestRepoKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	repo, err := boltrepo.Open(path, "one")
	require.NoError(t, err)
	require.NoError(t, repo.Set(ctx, session.Session{AccessToken: "a", Expiry: time.Now().Add(time.Hour)}))
	require.NoError(t, repo.Close())

	other, err := boltrepo.Open(path, "two")
	require.NoError(t, err)
	defer other.Close()
	_, err = other.Get(ctx)
	require.ErrorIs(t, err, autherrors.ErrNoSession)
}

func TestOpenRequiresKey(t *testing.T) {
	_, err := boltrepo.Open(filepath.Join(t.TempDir(), "session.db"), "")
	require.Error(t, err)
}
