package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/proconnect/config"
)

// exerciseStore checks the contract every Store implementation shares.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, KeyToken)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, KeyToken, "abc"))
	require.NoError(t, s.Set(ctx, KeyRole, "provider"))
	v, err := s.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	require.NoError(t, s.Set(ctx, KeyToken, "def"))
	v, err = s.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "def", v)

	require.NoError(t, s.Remove(ctx, KeyToken))
	_, err = s.Get(ctx, KeyToken)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Remove(ctx, KeyToken), "removing a missing key is not an error")

	v, err = s.Get(ctx, KeyRole)
	require.NoError(t, err)
	assert.Equal(t, "provider", v)
	require.NoError(t, s.Remove(ctx, KeyRole))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.yaml")
	s := NewFileStore(path)
	exerciseStore(t, s)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "an empty session removes the file")
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.yaml")

	require.NoError(t, NewFileStore(path).Set(ctx, KeyToken, "persisted"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	v, err := NewFileStore(path).Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "persisted", v)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte("token: [unclosed"), 0600))

	_, err := NewFileStore(path).Get(context.Background(), KeyToken)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.SessionConfig{Store: config.StoreMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	path := filepath.Join(t.TempDir(), "s.yaml")
	s, err = Open(ctx, config.SessionConfig{Store: config.StoreFile, File: path})
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, s)
	assert.Equal(t, path, s.(*FileStore).Path())

	_, err = Open(ctx, config.SessionConfig{Store: "etcd"})
	assert.Error(t, err)
}
