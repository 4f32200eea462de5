package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutObjectWritesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "job-1/quizhub/abc.html", "text/html", []byte("<html>snapshot</html>"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "job-1/quizhub/abc.html"), uri)

	data, err := os.ReadFile(filepath.Join(dir, "job-1/quizhub/abc.html"))
	require.NoError(t, err)
	require.Equal(t, "<html>snapshot</html>", string(data))
}

func TestPutObjectRejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../outside.html", "text/html", []byte("x"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "  ", "text/html", []byte("x"))
	require.Error(t, err)
}

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "snapshots")
	_, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
