package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/comicfeed/internal/feed"
	"github.com/JakeFAU/comicfeed/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("CreatesMissingDir", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "nested", "cache")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{})
		require.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.Error(t, err)
	})
}

func TestPutAndGetObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "mangadex/abcd/00000.jpg", "image/jpeg", []byte("page"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "mangadex", "abcd", "00000.jpg"), uri)

	data, err := store.GetObject(ctx, "mangadex/abcd/00000.jpg")
	require.NoError(t, err)
	require.Equal(t, []byte("page"), data)

	_, err = store.PutObject(ctx, "mangadex/abcd/00000.jpg", "image/jpeg", []byte("again"))
	require.NoError(t, err)
	data, err = store.GetObject(ctx, "mangadex/abcd/00000.jpg")
	require.NoError(t, err)
	require.Equal(t, []byte("again"), data)

	entries, err := os.ReadDir(filepath.Join(dir, "mangadex", "abcd"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestGetObjectMissing(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	_, err = store.GetObject(context.Background(), "nope/00000.png")
	require.ErrorIs(t, err, feed.ErrNotFound)
}

func TestPathTraversalRejected(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "../escape", "", []byte("x"))
	require.Error(t, err)
	_, err = store.GetObject(context.Background(), "../../etc/passwd")
	require.Error(t, err)
	_, err = store.PutObject(context.Background(), " ", "", nil)
	require.Error(t, err)
}
