package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErrs []error
	nextID   int
	updates  chan tgbotapi.Update
	stopped  bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.sent = append(f.sent, c)
	f.nextID++
	msg := tgbotapi.Message{MessageID: f.nextID}
	if _, ok := c.(tgbotapi.DocumentConfig); ok {
		msg.Document = &tgbotapi.Document{FileID: fmt.Sprintf("file-%d", f.nextID)}
	}
	return msg, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeAPI) lastMessage(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	msgs := f.messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func (f *fakeAPI) answers() []tgbotapi.CallbackConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.CallbackConfig
	for _, c := range f.requests {
		if cb, ok := c.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb)
		}
	}
	return out
}

func (f *fakeAPI) lastAnswer(t *testing.T) tgbotapi.CallbackConfig {
	t.Helper()
	answers := f.answers()
	require.NotEmpty(t, answers)
	return answers[len(answers)-1]
}

func (f *fakeAPI) edits() []tgbotapi.EditMessageReplyMarkupConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.EditMessageReplyMarkupConfig
	for _, c := range f.requests {
		if e, ok := c.(tgbotapi.EditMessageReplyMarkupConfig); ok {
			out = append(out, e)
		}
	}
	return out
}

func keyboardOf(t *testing.T, msg tgbotapi.MessageConfig) tgbotapi.InlineKeyboardMarkup {
	t.Helper()
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok, "message has no inline keyboard")
	return kb
}

// buttons flattens a keyboard into label -> callback data.
func buttons(kb tgbotapi.InlineKeyboardMarkup) map[string]string {
	out := make(map[string]string)
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			if b.CallbackData != nil {
				out[b.Text] = *b.CallbackData
			}
		}
	}
	return out
}

type fakeSource struct {
	name     string
	prefix   string
	pageSize int
	chapters []feed.Chapter
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Search(context.Context, string, int) ([]feed.Title, error) { return nil, nil }

func (s *fakeSource) Chapters(_ context.Context, _ feed.Title, page int) ([]feed.Chapter, error) {
	start := (page - 1) * s.pageSize
	if start >= len(s.chapters) {
		return nil, nil
	}
	end := min(start+s.pageSize, len(s.chapters))
	return append([]feed.Chapter(nil), s.chapters[start:end]...), nil
}

func (s *fakeSource) IterChapters(context.Context, string, string) feed.ChapterIterator {
	return feed.NewSliceIterator(s.chapters)
}

func (s *fakeSource) ContainsURL(url string) bool { return strings.HasPrefix(url, s.prefix) }

func (s *fakeSource) Pictures(context.Context, feed.Chapter) ([]string, error) { return nil, nil }

type fakeSearcher struct {
	titles []feed.Title
	src    *fakeSource
}

func (f *fakeSearcher) Search(context.Context, string) ([]feed.Title, error) {
	return f.titles, nil
}

func (f *fakeSearcher) SourceFor(url string) (feed.Source, bool) {
	if f.src.ContainsURL(url) {
		return f.src, true
	}
	return nil, false
}

type recordingEnqueuer struct {
	mu         sync.Mutex
	deliveries []feed.Delivery
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, d feed.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
	return nil
}

type fakeRefresher struct {
	calls []string
}

func (f *fakeRefresher) Refresh(_ context.Context, titleURL string) (feed.LastChapter, error) {
	f.calls = append(f.calls, titleURL)
	return feed.LastChapter{TitleURL: titleURL, ChapterURL: titleURL + "/c9"}, nil
}

type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return time.Unix(1_700_000_000, 0).UTC() }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func textMessage(chatID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: chatID}, Text: text}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{UpdateID: 1, Message: msg}
}

func press(chatID int64, messageID int, data string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 2,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb",
			Data:    data,
			Message: &tgbotapi.Message{MessageID: messageID, Chat: &tgbotapi.Chat{ID: chatID}},
		},
	}
}
