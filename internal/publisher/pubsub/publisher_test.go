package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/comicfeed/internal/feed"
	publisher "github.com/JakeFAU/comicfeed/internal/publisher/pubsub"
)

func TestPublishChapterEvent(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "comicfeed-test", option.WithGRPCConn(conn))
	require.NoError(t, err)

	topic, err := client.CreateTopic(ctx, "chapters")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "chapters-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub := publisher.New(client, nil)
	event := feed.ChapterEvent{
		Pass:        3,
		Source:      "mangadex",
		TitleURL:    "https://api.mangadex.org/manga/m1/feed",
		ChapterURL:  "https://api.mangadex.org/at-home/server/c1?forcePort443=false",
		ChapterName: "1",
		Recipients:  2,
	}
	id, err := pub.Publish(ctx, "chapters", event)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	received := make(chan *pubsub.Message, 1)
	recvCtx, stop := context.WithCancel(ctx)
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			select {
			case received <- msg:
			default:
			}
		})
	}()
	defer stop()

	select {
	case msg := <-received:
		var got feed.ChapterEvent
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		require.Equal(t, event, got)
		require.Equal(t, "mangadex", msg.Attributes["source"])
		require.Equal(t, "chapter.new", msg.Attributes["event"])
	case <-ctx.Done():
		t.Fatal("message not received")
	}

	require.NoError(t, pub.Close())
}

func TestPublishWithoutClient(t *testing.T) {
	t.Parallel()

	pub := publisher.New(nil, nil)
	_, err := pub.Publish(context.Background(), "chapters", map[string]string{"a": "b"})
	require.Error(t, err)
	require.NoError(t, pub.Close())
}
