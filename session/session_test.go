package session_test

import (
	"context"
	"net/http/cookiejar"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/stretchr/testify/require"
)

func TestSessionRemaining(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := session.Session{Expiry: now.Add(20 * time.Minute)}

	require.Equal(t, 20*time.Minute, s.Remaining(now))
	require.False(t, s.Expired(now))
	require.True(t, s.Expired(now.Add(20*time.Minute)))
	require.Less(t, s.Remaining(now.Add(time.Hour)), time.Duration(0))
}

func TestFormatRemaining(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{-5 * time.Second, "00:00:00"},
		{4*time.Minute + 59*time.Second, "00:04:59"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "02:03:04"},
		{1500 * time.Millisecond, "00:00:01"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, session.FormatRemaining(tc.in), tc.in.String())
	}
}

func TestExpiryFromJWT(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})
	signed, err := tok.SignedString([]byte("any-key"))
	require.NoError(t, err)

	got, ok := session.ExpiryFromJWT(signed)
	require.True(t, ok)
	require.True(t, exp.Equal(got))

	_, ok = session.ExpiryFromJWT("")
	require.False(t, ok)
	_, ok = session.ExpiryFromJWT("not-a-jwt")
	require.False(t, ok)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, ok = session.ExpiryFromJWT(noExp)
	require.False(t, ok)
}

func TestOAuth2Token(t *testing.T) {
	s := session.Session{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}
	tok := s.OAuth2Token()
	require.Equal(t, "Bearer", tok.Type())
	require.Equal(t, "a", tok.AccessToken)
	require.True(t, tok.Valid())
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()

	_, err := store.Get(ctx)
	require.ErrorIs(t, err, autherrors.ErrNoSession)

	want := session.Session{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, store.Set(ctx, want))
	got, err := store.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Get(ctx)
	require.ErrorIs(t, err, autherrors.ErrNoSession)
}

func TestCookieMirror(t *testing.T) {
	ctx := context.Background()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	base, err := url.Parse("http://localhost:8000/api")
	require.NoError(t, err)

	inner := session.NewInMemoryStore()
	mirror := session.NewCookieMirror(inner, jar, base)

	s := session.Session{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, mirror.Set(ctx, s))

	got, err := inner.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, s, got)

	cookies := map[string]string{}
	for _, c := range jar.Cookies(base) {
		cookies[c.Name] = c.Value
	}
	require.Equal(t, "access-1", cookies[session.AccessCookieName])
	require.Equal(t, "refresh-1", cookies[session.RefreshCookieName])

	require.NoError(t, mirror.Clear(ctx))
	require.Empty(t, jar.Cookies(base))
	_, err = mirror.Get(ctx)
	require.ErrorIs(t, err, autherrors.ErrNoSession)
}
