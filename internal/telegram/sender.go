package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/comicfeed/internal/feed"
	"github.com/JakeFAU/comicfeed/internal/metrics"
)

// API is the subset of *tgbotapi.BotAPI the package uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Connect authenticates token against endpoint, which defaults to the public
// Bot API. The endpoint takes two %s verbs, token then method.
func Connect(token, endpoint string, debug bool) (*tgbotapi.BotAPI, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: 2 * time.Minute})
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	bot.Debug = debug
	return bot, nil
}

// Sender implements feed.Sender. Flood waits are slept off and retried.
type Sender struct {
	api         API
	clock       feed.Clock
	maxAttempts int
	logger      *zap.Logger
}

// NewSender wraps api. maxAttempts bounds flood retries per call.
func NewSender(api API, clock feed.Clock, maxAttempts int, logger *zap.Logger) *Sender {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{api: api, clock: clock, maxAttempts: maxAttempts, logger: logger}
}

// SendDocument uploads doc and returns the platform file handle.
func (s *Sender) SendDocument(ctx context.Context, recipientID string, doc feed.Document) (string, error) {
	chatID, err := parseChatID(recipientID)
	if err != nil {
		return "", err
	}
	cfg := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: doc.FileName, Bytes: doc.Data})
	cfg.Caption = doc.Caption
	msg, err := s.send(ctx, cfg)
	if err != nil {
		return "", err
	}
	if msg.Document == nil {
		return "", nil
	}
	return msg.Document.FileID, nil
}

// SendCachedDocument re-sends a previously uploaded file by handle.
func (s *Sender) SendCachedDocument(ctx context.Context, recipientID string, doc feed.Document, handle string) error {
	chatID, err := parseChatID(recipientID)
	if err != nil {
		return err
	}
	cfg := tgbotapi.NewDocument(chatID, tgbotapi.FileID(handle))
	cfg.Caption = doc.Caption
	_, err = s.send(ctx, cfg)
	return err
}

// SendText sends a plain text message.
func (s *Sender) SendText(ctx context.Context, recipientID string, text string) error {
	chatID, err := parseChatID(recipientID)
	if err != nil {
		return err
	}
	_, err = s.send(ctx, tgbotapi.NewMessage(chatID, text))
	return err
}

func (s *Sender) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	var msg tgbotapi.Message
	err := s.retry(ctx, func() error {
		var err error
		msg, err = s.api.Send(c)
		return err
	})
	return msg, err
}

func (s *Sender) request(ctx context.Context, c tgbotapi.Chattable) error {
	return s.retry(ctx, func() error {
		_, err := s.api.Request(c)
		return err
	})
}

func (s *Sender) retry(ctx context.Context, call func() error) error {
	for attempt := 1; ; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		apiErr, ok := asAPIError(err)
		if !ok {
			return fmt.Errorf("telegram: %w", err)
		}
		if unreachable(apiErr) {
			return fmt.Errorf("telegram %d %s: %w", apiErr.Code, apiErr.Message, feed.ErrRecipientUnreachable)
		}
		if apiErr.RetryAfter <= 0 || attempt >= s.maxAttempts {
			return fmt.Errorf("telegram %d: %w", apiErr.Code, err)
		}
		wait := time.Duration(apiErr.RetryAfter) * time.Second
		metrics.ObserveFloodWait()
		s.logger.Warn("flood wait", zap.Duration("retry_after", wait), zap.Int("attempt", attempt))
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func asAPIError(err error) (tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val, true
	}
	return tgbotapi.Error{}, false
}

// unreachable matches the errors Telegram returns once a user blocked the bot
// or the chat no longer exists. Upload errors carry no code, only the text.
func unreachable(err tgbotapi.Error) bool {
	msg := strings.ToLower(err.Message)
	switch {
	case err.Code == http.StatusForbidden, strings.HasPrefix(msg, "forbidden:"):
		return true
	case strings.Contains(msg, "chat not found"):
		return true
	case strings.Contains(msg, "user is deactivated"):
		return true
	default:
		return false
	}
}

func parseChatID(recipientID string) (int64, error) {
	id, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid recipient id %q: %w", recipientID, err)
	}
	return id, nil
}
