package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "comicfeed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMigrationsReachLatestVersion(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	version, dirty, err := SchemaVersion(store.db)
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(2), version)

	require.NoError(t, MigrateUp(store.db), "re-running migrations is a no-op")
}

func TestSubscriptionLifecycle(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	for _, sub := range []feed.Subscription{
		{TitleURL: "https://comick.io/comic/b", RecipientID: "1"},
		{TitleURL: "https://comick.io/comic/a", RecipientID: "2"},
		{TitleURL: "https://comick.io/comic/a", RecipientID: "1"},
		{TitleURL: "https://comick.io/comic/a", RecipientID: "1"},
	} {
		require.NoError(t, store.AddSubscription(ctx, sub))
	}

	subs, err := store.Subscriptions(ctx)
	require.NoError(t, err)
	require.Equal(t, []feed.Subscription{
		{TitleURL: "https://comick.io/comic/a", RecipientID: "1"},
		{TitleURL: "https://comick.io/comic/a", RecipientID: "2"},
		{TitleURL: "https://comick.io/comic/b", RecipientID: "1"},
	}, subs)

	mine, err := store.SubscriptionsOf(ctx, "1")
	require.NoError(t, err)
	require.Len(t, mine, 2)

	require.NoError(t, store.DeleteSubscription(ctx, feed.Subscription{TitleURL: "https://comick.io/comic/a", RecipientID: "2"}))
	n, err := store.DeleteSubscriptions(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	subs, err = store.Subscriptions(ctx)
	require.NoError(t, err)
	require.Empty(t, subs)
}

func TestWatermarksAndNames(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.LastChapter(ctx, "t1")
	require.ErrorIs(t, err, feed.ErrNotFound)

	require.NoError(t, store.PutLastChapter(ctx, feed.LastChapter{TitleURL: "t1", ChapterURL: "c1"}))
	require.NoError(t, store.PutLastChapter(ctx, feed.LastChapter{TitleURL: "t1", ChapterURL: "c2"}))
	lc, err := store.LastChapter(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "c2", lc.ChapterURL)

	all, err := store.LastChapters(ctx)
	require.NoError(t, err)
	require.Equal(t, []feed.LastChapter{{TitleURL: "t1", ChapterURL: "c2"}}, all)

	require.NoError(t, store.PutTitleName(ctx, feed.TitleName{TitleURL: "t1", Name: "Old"}))
	require.NoError(t, store.PutTitleName(ctx, feed.TitleName{TitleURL: "t1", Name: "Solo"}))
	names, err := store.TitleNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []feed.TitleName{{TitleURL: "t1", Name: "Solo"}}, names)
}

func TestDeliveredFilesMerge(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.DeliveredFile(ctx, "c1")
	require.ErrorIs(t, err, feed.ErrNotFound)

	first := feed.DeliveredFile{ChapterURL: "c1"}
	first.SetHandle(feed.FormatPDF, "pdf-1")
	require.NoError(t, store.PutDeliveredFile(ctx, first))

	second := feed.DeliveredFile{ChapterURL: "c1"}
	second.SetHandle(feed.FormatCBZ, "cbz-1")
	require.NoError(t, store.PutDeliveredFile(ctx, second))

	got, err := store.DeliveredFile(ctx, "c1")
	require.NoError(t, err)
	pdf, ok := got.Handle(feed.FormatPDF)
	require.True(t, ok)
	require.Equal(t, "pdf-1", pdf)
	cbz, ok := got.Handle(feed.FormatCBZ)
	require.True(t, ok)
	require.Equal(t, "cbz-1", cbz)
	_, ok = got.Handle(feed.FormatEPUB)
	require.False(t, ok)
}

func TestPreferences(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Preference(ctx, "42")
	require.ErrorIs(t, err, feed.ErrNotFound)

	require.NoError(t, store.PutPreference(ctx, feed.Preference{RecipientID: "42", Formats: feed.FormatCBZ | feed.FormatEPUB}))
	pref, err := store.Preference(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, feed.FormatCBZ|feed.FormatEPUB, pref.Formats)
}
