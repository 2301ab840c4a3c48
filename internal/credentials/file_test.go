package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termchat/internal/session"
	"termchat/internal/user"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.yaml")
	s := NewFileStore(path)

	creds, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, creds)

	require.NoError(t, s.Save(session.TokenPair{AccessToken: "a1", RefreshToken: "r1"}))
	require.NoError(t, s.SaveUser(user.User{ID: "42", Username: "alice"}))
	require.NoError(t, s.Save(session.TokenPair{AccessToken: "a2", RefreshToken: "r2"}))

	creds, err = NewFileStore(path).Load()
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, session.TokenPair{AccessToken: "a2", RefreshToken: "r2"}, creds.Tokens)
	assert.Equal(t, user.User{ID: "42", Username: "alice"}, creds.User)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreDelete(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "credentials.yaml"))
	require.NoError(t, s.Save(session.TokenPair{AccessToken: "a", RefreshToken: "r"}))

	require.NoError(t, s.Delete())
	require.NoError(t, s.Delete())

	creds, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestFileStoreMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tokens: [unclosed"), 0o600))

	_, err := NewFileStore(path).Load()
	assert.Error(t, err)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Save(session.TokenPair{AccessToken: "a", RefreshToken: "r"}))

	creds, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "a", creds.Tokens.AccessToken)

	require.NoError(t, m.Delete())
	creds, _ = m.Load()
	assert.Nil(t, creds)
	assert.Equal(t, 1, m.Deletes())
}
