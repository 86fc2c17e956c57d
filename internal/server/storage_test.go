package server

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VinMeld/go-dm/internal/config"
)

func TestLocalBlobStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalBlobStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "abc", []byte("hello"), "text/plain"))
	got, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	require.NoError(t, s.Delete(ctx, "abc"))
	require.NoError(t, s.Delete(ctx, "abc"), "deleting twice succeeds")
	_, err = s.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestLocalBlobStoreRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "..", "../etc/passwd", `a\b`} {
		assert.Error(t, s.Save(ctx, key, []byte("x"), ""), key)
		_, err := s.Get(ctx, key)
		assert.ErrorIs(t, err, ErrBlobNotFound, key)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dm.db")
	st, err := OpenStore(ctx, config.Store{Driver: "sqlite", SQLitePath: path}, 0, slog.Default())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = OpenStore(ctx, config.Store{Driver: "postgres"}, 0, slog.Default())
	assert.Error(t, err)
}
