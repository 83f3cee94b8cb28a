package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

func TestPublisherGroupsEventsByTopic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pub := New()
	id1, err := pub.Publish(ctx, "chapters", feed.ChapterEvent{Source: "comick", ChapterURL: "c1"})
	require.NoError(t, err)
	require.Equal(t, "chapters-1", id1)
	id2, err := pub.Publish(ctx, "audit", &feed.ChapterEvent{Source: "asura"})
	require.NoError(t, err)
	require.Equal(t, "audit-2", id2)

	events := pub.Events("chapters")
	require.Len(t, events, 1)
	require.Equal(t, "c1", events[0].ChapterURL)
	require.Equal(t, 2, pub.Count())
	require.Empty(t, pub.Events("missing"))

	events[0].ChapterURL = "modified"
	require.Equal(t, "c1", pub.Events("chapters")[0].ChapterURL, "Events must return a copy")
}

func TestPublisherRejectsForeignPayloads(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "chapters", "payload")
	require.ErrorContains(t, err, "unsupported payload string")
	var nilEvent *feed.ChapterEvent
	_, err = pub.Publish(context.Background(), "chapters", nilEvent)
	require.ErrorContains(t, err, "nil event")
	require.Zero(t, pub.Count())
}
