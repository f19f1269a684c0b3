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

func TestKey(t *testing.T) {
	t.Parallel()

	k1 := Key("results/abc", []byte("image"), ".jpg")
	k2 := Key("results/abc", []byte("image"), "jpg")
	k3 := Key("results/abc", []byte("other"), ".jpg")

	assert.Equal(t, k1, k2, "extension dot is optional")
	assert.NotEqual(t, k1, k3)
	assert.True(t, strings.HasPrefix(k1, "results/abc/"))
	assert.True(t, strings.HasSuffix(k1, ".jpg"))
	// 32-byte digest in hex
	assert.Len(t, strings.TrimSuffix(strings.TrimPrefix(k1, "results/abc/"), ".jpg"), 64)
}

func TestExtensionFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".jpg", ExtensionFor("image/jpeg"))
	assert.Equal(t, ".png", ExtensionFor("image/png"))
	assert.Equal(t, "", ExtensionFor("application/pdf"))
}

func TestPublicURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://cdn.test/a/b.jpg", publicURL("https://cdn.test/", "/a/b.jpg"))
	assert.Equal(t, "https://cdn.test/a/b.jpg", publicURL("https://cdn.test", "a/b.jpg"))
}

func TestLocalUploader(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	u, err := NewLocalUploader(dir, "http://localhost:8080/files")
	require.NoError(t, err)

	url, err := u.Upload(context.Background(), []byte("jpeg-bytes"), "results/t1/abc.jpg", "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/results/t1/abc.jpg", url)

	data, err := os.ReadFile(filepath.Join(dir, "results", "t1", "abc.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)

	entries, err := os.ReadDir(filepath.Join(dir, "results", "t1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLocalUploader_Rejects(t *testing.T) {
	t.Parallel()

	u, err := NewLocalUploader(t.TempDir(), "http://localhost/files")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = u.Upload(ctx, nil, "a.jpg", "image/jpeg")
	assert.ErrorIs(t, err, ErrEmptyObject)

	_, err = u.Upload(ctx, []byte("x"), "../escape.jpg", "image/jpeg")
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = u.Upload(cancelled, []byte("x"), "a.jpg", "image/jpeg")
	assert.ErrorIs(t, err, context.Canceled)
}
