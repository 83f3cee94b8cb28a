package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

func floodError(seconds int) error {
	return &tgbotapi.Error{
		Code:               http.StatusTooManyRequests,
		Message:            "Too Many Requests",
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: seconds},
	}
}

func TestSenderWaitsOutFloodControl(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.sendErrs = []error{floodError(3), floodError(1), nil}
	clock := &fakeClock{}
	sender := NewSender(api, clock, 5, zap.NewNop())

	handle, err := sender.SendDocument(context.Background(), "42", feed.Document{FileName: "c1.pdf", Data: []byte("pdf")})
	require.NoError(t, err)
	require.NotEmpty(t, handle)
	require.Equal(t, []time.Duration{3 * time.Second, time.Second}, clock.slept())
}

func TestSenderGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.sendErrs = []error{floodError(1), floodError(1), floodError(1)}
	clock := &fakeClock{}
	sender := NewSender(api, clock, 2, zap.NewNop())

	err := sender.SendText(context.Background(), "42", "hello")
	require.Error(t, err)
	require.Len(t, clock.slept(), 1)
}

func TestSenderMapsBlockedRecipients(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"blocked":        &tgbotapi.Error{Code: http.StatusForbidden, Message: "Forbidden: bot was blocked by the user"},
		"chat not found": &tgbotapi.Error{Code: http.StatusBadRequest, Message: "Bad Request: chat not found"},
	}
	for name, apiErr := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			api := newFakeAPI()
			api.sendErrs = []error{apiErr}
			sender := NewSender(api, &fakeClock{}, 5, zap.NewNop())

			err := sender.SendText(context.Background(), "42", "hello")
			require.ErrorIs(t, err, feed.ErrRecipientUnreachable)
		})
	}
}

func TestSenderRejectsBadRecipientID(t *testing.T) {
	t.Parallel()

	sender := NewSender(newFakeAPI(), &fakeClock{}, 5, zap.NewNop())
	_, err := sender.SendDocument(context.Background(), "not-a-chat", feed.Document{})
	require.Error(t, err)
}

func TestSenderCachedDocumentUsesFileID(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	sender := NewSender(api, &fakeClock{}, 5, zap.NewNop())
	require.NoError(t, sender.SendCachedDocument(context.Background(), "7", feed.Document{Caption: "Solo - 1"}, "FILE"))

	require.Len(t, api.sent, 1)
	doc, ok := api.sent[0].(tgbotapi.DocumentConfig)
	require.True(t, ok)
	require.Equal(t, tgbotapi.FileID("FILE"), doc.File)
	require.Equal(t, "Solo - 1", doc.Caption)
	require.Equal(t, int64(7), doc.ChatID)
}

// TestSenderOverBotAPI drives a real BotAPI client against a local server
// that rate limits the first upload.
func TestSenderOverBotAPI(t *testing.T) {
	t.Parallel()

	var uploads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok":     true,
				"result": map[string]any{"id": 1, "is_bot": true, "first_name": "feed", "username": "feedbot"},
			})
		case strings.HasSuffix(r.URL.Path, "/sendDocument"):
			if uploads.Add(1) == 1 {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"ok":          false,
					"error_code":  429,
					"description": "Too Many Requests: retry after 2",
					"parameters":  map[string]any{"retry_after": 2},
				})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"result": map[string]any{
					"message_id": 10,
					"date":       0,
					"chat":       map[string]any{"id": 42, "type": "private"},
					"document":   map[string]any{"file_id": "FILE-1", "file_unique_id": "U1"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	bot, err := Connect("token", srv.URL+"/bot%s/%s", false)
	require.NoError(t, err)

	clock := &fakeClock{}
	sender := NewSender(bot, clock, 5, zap.NewNop())
	handle, err := sender.SendDocument(context.Background(), "42", feed.Document{FileName: "c1.cbz", Data: []byte("zip")})
	require.NoError(t, err)
	require.Equal(t, "FILE-1", handle)
	require.Equal(t, int32(2), uploads.Load())
	require.Equal(t, []time.Duration{2 * time.Second}, clock.slept())
}

func TestConnectRequiresToken(t *testing.T) {
	t.Parallel()

	_, err := Connect(" ", "", false)
	require.Error(t, err)
}

func TestAsAPIErrorMatchesValueAndPointer(t *testing.T) {
	t.Parallel()

	_, ok := asAPIError(fmt.Errorf("wrapped: %w", &tgbotapi.Error{Code: 400}))
	require.True(t, ok)
	_, ok = asAPIError(tgbotapi.Error{Code: 400})
	require.True(t, ok)
	_, ok = asAPIError(errors.New("plain"))
	require.False(t, ok)
}
