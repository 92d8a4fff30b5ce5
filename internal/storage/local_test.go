package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_SaveExistsDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(Config{BasePath: dir, BaseURL: "/files/"})
	require.NoError(t, err)
	ctx := context.Background()

	key := "chat/1/2024/01/a.png"
	require.NoError(t, s.Save(ctx, key, strings.NewReader("pixels"), "image/png"))

	data, err := os.ReadFile(filepath.Join(dir, "chat", "1", "2024", "01", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/files/chat/1/2024/01/a.png", s.URL(key))
	assert.Equal(t, "local", s.Provider())

	require.NoError(t, s.Delete(ctx, key))
	ok, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting a missing blob is not an error.
	assert.NoError(t, s.Delete(ctx, key))
}

func TestLocalStorage_KeysStayInsideBasePath(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(Config{BasePath: filepath.Join(dir, "uploads")})
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), "../../escape.txt", strings.NewReader("x"), "text/plain"))
	assert.FileExists(t, filepath.Join(dir, "uploads", "escape.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "escape.txt"))

	assert.Error(t, s.Save(context.Background(), "/", strings.NewReader("x"), "text/plain"))
}

func TestNewStorage(t *testing.T) {
	s, err := NewStorage(Config{Type: "", BasePath: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "local", s.Provider())

	_, err = NewStorage(Config{Type: "ftp"})
	assert.ErrorContains(t, err, "unsupported storage type")
}
