package modelpath_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/hntm-service/internal/modelpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0o750))

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte{0}, 0o600))

	return path
}

// Tests that change the environment cannot run in parallel.

func TestCacheDir_WithOverride(t *testing.T) {
	t.Setenv("CACHE_DIR", "/custom/cache/dir")

	assert.Equal(t, "/custom/cache/dir", modelpath.CacheDir())
}

func TestCacheDir_Default(t *testing.T) {
	t.Setenv("CACHE_DIR", "")

	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Skipping test: could not determine user home directory")
	}

	assert.Equal(t, filepath.Join(homeDir, ".cache", "hntm-service"), modelpath.CacheDir())
}

func TestResolve_InCacheDir(t *testing.T) {
	cacheDir := t.TempDir()
	t.Setenv("CACHE_DIR", cacheDir)

	want := touch(t, filepath.Join(cacheDir, "models"), "cached.gmm")

	got, err := modelpath.Resolve("cached.gmm", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolve_InModelsDir(t *testing.T) {
	t.Parallel()

	modelsDir := t.TempDir()
	want := touch(t, modelsDir, "voice.gmm")

	got, err := modelpath.Resolve("voice.gmm", modelsDir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolve_AbsolutePath(t *testing.T) {
	t.Parallel()

	want := touch(t, t.TempDir(), "frames.hntm")

	got, err := modelpath.Resolve(want, "")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolve_NotFound(t *testing.T) {
	t.Parallel()

	_, err := modelpath.Resolve("definitely-missing-7f3c.gmm", t.TempDir())
	require.ErrorIs(t, err, modelpath.ErrNotFound)
}

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	testPath := filepath.Join(t.TempDir(), "new", "dir")

	require.NoError(t, modelpath.EnsureDir(testPath))

	info, err := os.Stat(testPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, modelpath.EnsureDir(testPath))
}

func TestFileKinds(t *testing.T) {
	t.Parallel()

	assert.True(t, modelpath.IsModelFile("speaker.GMM"))
	assert.False(t, modelpath.IsModelFile("speaker.hntm"))
	assert.True(t, modelpath.IsSequenceFile("a/b/c.hntm"))
	assert.False(t, modelpath.IsSequenceFile("c.wav"))
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "45.2s", modelpath.FormatDuration(45.2))
	assert.Equal(t, "5m 30.5s", modelpath.FormatDuration(330.5))
	assert.Equal(t, "1h 15m", modelpath.FormatDuration(4500))
}

func TestFormatFileSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "12 B", modelpath.FormatFileSize(12))
	assert.Equal(t, "3.0 KB", modelpath.FormatFileSize(3*1024))
	assert.Equal(t, "1.5 MB", modelpath.FormatFileSize(3*512*1024))
	assert.Equal(t, "2.0 GB", modelpath.FormatFileSize(2*1024*1024*1024))
}
