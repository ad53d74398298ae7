package session_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waabox/stockdeck/internal/session"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestFileStore_LoadMissingFileIsEmpty(t *testing.T) {
	store := session.NewFileStore(filepath.Join(t.TempDir(), "session.toml"))
	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, session.State{}, st)
}

func TestFileStore_SaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.toml")
	store := session.NewFileStore(path)

	want := session.State{AccessToken: "a", RefreshToken: "r", UserEmail: "ops@example.com"}
	require.NoError(t, store.Save(want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear(), "clearing twice must not fail")
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSession_BeginPersistsCredentials(t *testing.T) {
	store := session.NewFileStore(filepath.Join(t.TempDir(), "session.toml"))
	sess, err := session.New(store, nil)
	require.NoError(t, err)
	assert.False(t, sess.Authenticated())

	require.NoError(t, sess.Begin(session.Credentials{AccessToken: "acc", RefreshToken: "ref"}, "ops@example.com"))

	reloaded, err := session.New(store, nil)
	require.NoError(t, err)
	assert.Equal(t, "acc", reloaded.AccessToken())
	assert.Equal(t, "ref", reloaded.RefreshToken())
	assert.Equal(t, "ops@example.com", reloaded.UserEmail())
	assert.True(t, reloaded.HasRefreshToken())
}

func TestSession_UpdateAccessKeepsRefreshUnlessRotated(t *testing.T) {
	sess, err := session.New(session.NewMemoryStore(session.State{AccessToken: "old", RefreshToken: "r1"}), nil)
	require.NoError(t, err)

	require.NoError(t, sess.UpdateAccess("new", ""))
	assert.Equal(t, session.Credentials{AccessToken: "new", RefreshToken: "r1"}, sess.Credentials())

	require.NoError(t, sess.UpdateAccess("newer", "r2"))
	assert.Equal(t, session.Credentials{AccessToken: "newer", RefreshToken: "r2"}, sess.Credentials())
}

func TestSession_EndKeepsRememberedEmail(t *testing.T) {
	store := session.NewMemoryStore(session.State{
		AccessToken:     "a",
		RefreshToken:    "r",
		UserEmail:       "ops@example.com",
		RememberedEmail: "ops@example.com",
	})
	sess, err := session.New(store, nil)
	require.NoError(t, err)

	var reasons []session.EndReason
	sess.OnEnd(func(reason session.EndReason, cause error) {
		reasons = append(reasons, reason)
		assert.NoError(t, cause)
	})

	sess.End()
	sess.End()

	assert.False(t, sess.Authenticated())
	assert.Empty(t, sess.UserEmail())
	assert.Equal(t, "ops@example.com", sess.RememberedEmail())
	assert.Equal(t, []session.EndReason{session.EndLoggedOut, session.EndLoggedOut}, reasons)

	persisted, _ := store.Load()
	assert.Equal(t, session.State{RememberedEmail: "ops@example.com"}, persisted)
}

func TestSession_ExpireWipesEverything(t *testing.T) {
	store := session.NewMemoryStore(session.State{
		AccessToken:     "a",
		RefreshToken:    "r",
		RememberedEmail: "ops@example.com",
	})
	sess, err := session.New(store, nil)
	require.NoError(t, err)

	cause := errors.New("refresh rejected")
	var gotReason session.EndReason
	var gotCause error
	sess.OnEnd(func(reason session.EndReason, c error) {
		gotReason, gotCause = reason, c
	})

	sess.Expire(cause)

	assert.Equal(t, session.EndExpired, gotReason)
	assert.Equal(t, cause, gotCause)
	assert.Equal(t, session.Credentials{}, sess.Credentials())
	assert.Empty(t, sess.RememberedEmail())
	persisted, _ := store.Load()
	assert.Equal(t, session.State{}, persisted)
}

func TestSession_AccessTokenValid(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name  string
		token string
		want  bool
	}{
		{"absent", "", false},
		{"garbage", "not.a.jwt", false},
		{"no exp", signedToken(t, jwt.MapClaims{"user_id": 1}), false},
		{"expired", signedToken(t, jwt.MapClaims{"exp": now.Add(-time.Minute).Unix()}), false},
		{"valid", signedToken(t, jwt.MapClaims{"exp": now.Add(5 * time.Minute).Unix()}), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			sess, err := session.New(session.NewMemoryStore(session.State{AccessToken: c.token}), nil)
			require.NoError(t, err)
			assert.Equal(t, c.want, sess.AccessTokenValid(now))
		})
	}
}

func TestTokenExpiry_ReadsExpClaim(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, ok := session.TokenExpiry(signedToken(t, jwt.MapClaims{"exp": exp.Unix()}))
	require.True(t, ok)
	assert.True(t, got.Equal(exp), "want %v, got %v", exp, got)
}
