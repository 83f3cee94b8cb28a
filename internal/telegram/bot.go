package telegram

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

const (
	staleButton = "old button, redo the search"
	helpText    = "Send me a title to search for it.\n\n" +
		"/subs - your subscriptions\n" +
		"/options - output formats\n" +
		"/refresh <title url> - reset a title's last seen chapter\n" +
		"/help - this message"
)

// Searcher finds titles across adapters and resolves the adapter for a URL.
type Searcher interface {
	Search(ctx context.Context, query string) ([]feed.Title, error)
	SourceFor(url string) (feed.Source, bool)
}

// Refresher resets a title's watermark to its current newest chapter.
type Refresher interface {
	Refresh(ctx context.Context, titleURL string) (feed.LastChapter, error)
}

// Config controls Bot behavior.
type Config struct {
	// Concurrency bounds how many updates are handled at once.
	Concurrency int
	// MaxResults caps the search results offered as buttons.
	MaxResults int
	// PollTimeout is the long-poll timeout for getUpdates, in seconds.
	PollTimeout int
	// Admins may use /refresh. Empty allows everyone.
	Admins []string
}

// Bot handles incoming chat updates.
type Bot struct {
	api       API
	sender    *Sender
	sources   Searcher
	store     feed.Store
	enqueuer  feed.Enqueuer
	refresher Refresher
	sessions  *Sessions
	clock     feed.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewBot wires a Bot. refresher may be nil, which disables /refresh.
func NewBot(
	api API,
	sender *Sender,
	sources Searcher,
	store feed.Store,
	enqueuer feed.Enqueuer,
	refresher Refresher,
	sessions *Sessions,
	clock feed.Clock,
	cfg Config,
	logger *zap.Logger,
) *Bot {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 60
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		api:       api,
		sender:    sender,
		sources:   sources,
		store:     store,
		enqueuer:  enqueuer,
		refresher: refresher,
		sessions:  sessions,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run long-polls for updates until ctx is cancelled, then waits for
// in-flight handlers.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollTimeout
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	var g errgroup.Group
	g.SetLimit(b.cfg.Concurrency)
	b.logger.Info("bot started", zap.Int("concurrency", b.cfg.Concurrency))
	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			b.logger.Info("bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				_ = g.Wait()
				return errors.New("telegram update channel closed")
			}
			g.Go(func() error {
				b.Handle(ctx, update)
				return nil
			})
		}
	}
}

// Handle processes a single update. Panics are logged and swallowed.
func (b *Bot) Handle(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("update handler panic", zap.Any("panic", r), zap.Int("update_id", update.UpdateID))
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.Chat != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	recipient := strconv.FormatInt(chatID, 10)
	logger := b.logger.With(zap.String("recipient", recipient))

	var err error
	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "help":
			err = b.reply(ctx, chatID, helpText, nil)
		case "subs":
			err = b.listSubscriptions(ctx, chatID, recipient)
		case "options":
			err = b.showOptions(ctx, chatID, recipient)
		case "refresh":
			err = b.refresh(ctx, chatID, recipient, strings.TrimSpace(msg.CommandArguments()))
		default:
			err = b.reply(ctx, chatID, "Unknown command. Try /help.", nil)
		}
	} else if query := strings.TrimSpace(msg.Text); query != "" {
		err = b.search(ctx, chatID, query)
	}
	if err != nil {
		logger.Error("message handler failed", zap.Error(err))
		_ = b.reply(ctx, chatID, "Something went wrong, try again later.", nil)
	}
}

func (b *Bot) search(ctx context.Context, chatID int64, query string) error {
	titles, err := b.sources.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("search %q: %w", query, err)
	}
	if len(titles) == 0 {
		return b.reply(ctx, chatID, fmt.Sprintf("No results for %q.", query), nil)
	}
	if len(titles) > b.cfg.MaxResults {
		titles = titles[:b.cfg.MaxResults]
	}
	kb := searchKeyboard(b.sessions, titles)
	return b.reply(ctx, chatID, fmt.Sprintf("Results for %q:", query), &kb)
}

func (b *Bot) listSubscriptions(ctx context.Context, chatID int64, recipient string) error {
	subs, err := b.store.SubscriptionsOf(ctx, recipient)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return b.reply(ctx, chatID, "You have no subscriptions.", nil)
	}
	names, err := b.titleNames(ctx)
	if err != nil {
		return err
	}

	titles := make([]feed.Title, 0, len(subs))
	var text strings.Builder
	text.WriteString("Your subscriptions:\n")
	for _, sub := range subs {
		name := names[sub.TitleURL]
		if name == "" {
			name = sub.TitleURL
		}
		fmt.Fprintf(&text, "\n- %s", name)
		titles = append(titles, feed.Title{Name: name, URL: sub.TitleURL})
	}
	kb := subscriptionsKeyboard(b.sessions, titles)
	return b.reply(ctx, chatID, text.String(), &kb)
}

func (b *Bot) titleNames(ctx context.Context) (map[string]string, error) {
	names, err := b.store.TitleNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("load title names: %w", err)
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n.TitleURL] = n.Name
	}
	return out, nil
}

func (b *Bot) showOptions(ctx context.Context, chatID int64, recipient string) error {
	formats, err := b.formats(ctx, recipient)
	if err != nil {
		return err
	}
	kb := formatsKeyboard(formats)
	return b.reply(ctx, chatID, "Choose the formats chapters are sent in:", &kb)
}

func (b *Bot) formats(ctx context.Context, recipient string) (feed.Format, error) {
	pref, err := b.store.Preference(ctx, recipient)
	switch {
	case errors.Is(err, feed.ErrNotFound):
		return feed.DefaultFormats, nil
	case err != nil:
		return 0, fmt.Errorf("load preference: %w", err)
	case pref.Formats == 0:
		return feed.DefaultFormats, nil
	default:
		return pref.Formats, nil
	}
}

func (b *Bot) refresh(ctx context.Context, chatID int64, recipient, titleURL string) error {
	if b.refresher == nil || (len(b.cfg.Admins) > 0 && !slices.Contains(b.cfg.Admins, recipient)) {
		return b.reply(ctx, chatID, "You are not allowed to do that.", nil)
	}
	if titleURL == "" {
		return b.reply(ctx, chatID, "Usage: /refresh <title url>", nil)
	}
	last, err := b.refresher.Refresh(ctx, titleURL)
	if err != nil {
		b.logger.Warn("refresh failed", zap.String("title_url", titleURL), zap.Error(err))
		return b.reply(ctx, chatID, fmt.Sprintf("Could not refresh %s: %v", titleURL, err), nil)
	}
	return b.reply(ctx, chatID, fmt.Sprintf("Last chapter of %s is now %s", titleURL, last.ChapterURL), nil)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	recipient := strconv.FormatInt(chatID, 10)
	logger := b.logger.With(zap.String("recipient", recipient), zap.String("callback", cb.Data))

	data, err := parseCallback(cb.Data)
	if err != nil {
		b.answer(ctx, cb.ID, staleButton, true)
		return
	}

	var answer string
	switch data.Action {
	case actionTitle:
		answer, err = b.openTitle(ctx, chatID, recipient, data.Arg)
	case actionPage:
		answer, err = b.turnPage(ctx, cb.Message, recipient, data.Arg, data.Page)
	case actionChapter:
		answer, err = b.requestChapter(ctx, recipient, data.Arg)
	case actionSubscribe:
		answer, err = b.toggleSubscription(ctx, cb.Message, recipient, data.Arg)
	case actionUnsubscribe:
		answer, err = b.unsubscribe(ctx, recipient, data.Arg)
	case actionFormat:
		answer, err = b.toggleFormat(ctx, cb.Message, recipient, data.Arg)
	default:
		answer = staleButton
	}

	switch {
	case errors.Is(err, errStale):
		b.answer(ctx, cb.ID, staleButton, true)
	case err != nil:
		logger.Error("callback handler failed", zap.Error(err))
		b.answer(ctx, cb.ID, "Something went wrong, try again later.", true)
	default:
		b.answer(ctx, cb.ID, answer, answer == staleButton)
	}
}

var errStale = errors.New("stale callback")

func (b *Bot) openTitle(ctx context.Context, chatID int64, recipient, tok string) (string, error) {
	title, ok := b.sessions.Title(tok)
	if !ok {
		return "", errStale
	}
	id, err := b.sessions.OpenPages(title)
	if err != nil {
		return "", err
	}
	page, err := b.loadPage(ctx, title, 1)
	if err != nil {
		return "", err
	}
	b.sessions.savePages(id, page)
	subscribed, err := b.subscribed(ctx, recipient, title.URL)
	if err != nil {
		return "", err
	}
	kb := chaptersKeyboard(b.sessions, id, page, subscribed)
	return "", b.reply(ctx, chatID, titleText(title), &kb)
}

func (b *Bot) turnPage(ctx context.Context, msg *tgbotapi.Message, recipient, id string, n int) (string, error) {
	session, ok := b.sessions.pageSession(id)
	if !ok {
		return "", errStale
	}
	page, err := b.loadPage(ctx, session.Title, n)
	if err != nil {
		return "", err
	}
	if len(page.Chapters) == 0 && n > 1 {
		return "No more chapters.", nil
	}
	b.sessions.savePages(id, page)
	subscribed, err := b.subscribed(ctx, recipient, session.Title.URL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Page %d", n), b.editKeyboard(ctx, msg, chaptersKeyboard(b.sessions, id, page, subscribed))
}

func (b *Bot) loadPage(ctx context.Context, title feed.Title, n int) (pageSession, error) {
	src, ok := b.sources.SourceFor(title.URL)
	if !ok {
		return pageSession{}, fmt.Errorf("%s: %w", title.URL, feed.ErrUnknownSource)
	}
	chapters, err := src.Chapters(ctx, title, n)
	if err != nil {
		return pageSession{}, fmt.Errorf("list chapters of %s page %d: %w", title.URL, n, err)
	}
	for i := range chapters {
		if chapters[i].Title.URL == "" {
			chapters[i].Title = title
		}
		if chapters[i].Source == "" {
			chapters[i].Source = src.Name()
		}
	}
	return pageSession{Title: title, Page: n, Chapters: chapters}, nil
}

func (b *Bot) requestChapter(ctx context.Context, recipient, tok string) (string, error) {
	chapter, ok := b.sessions.Chapter(tok)
	if !ok {
		return "", errStale
	}
	err := b.enqueuer.Enqueue(ctx, feed.Delivery{
		Chapter:     chapter,
		RecipientID: recipient,
		Origin:      feed.OriginManual,
		Enqueued:    b.clock.Now(),
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", chapter.URL, err)
	}
	return "Queued " + chapter.Name, nil
}

func (b *Bot) toggleSubscription(ctx context.Context, msg *tgbotapi.Message, recipient, id string) (string, error) {
	session, ok := b.sessions.pageSession(id)
	if !ok {
		return "", errStale
	}
	title := session.Title
	subscribed, err := b.subscribed(ctx, recipient, title.URL)
	if err != nil {
		return "", err
	}
	sub := feed.Subscription{TitleURL: title.URL, RecipientID: recipient}

	var answer string
	if subscribed {
		if err := b.store.DeleteSubscription(ctx, sub); err != nil {
			return "", fmt.Errorf("unsubscribe %s: %w", title.URL, err)
		}
		answer = "Unsubscribed from " + title.Name
	} else {
		if err := b.store.PutTitleName(ctx, feed.TitleName{TitleURL: title.URL, Name: title.Name}); err != nil {
			return "", fmt.Errorf("store title name %s: %w", title.URL, err)
		}
		if err := b.store.AddSubscription(ctx, sub); err != nil {
			return "", fmt.Errorf("subscribe %s: %w", title.URL, err)
		}
		answer = "Subscribed to " + title.Name
	}
	return answer, b.editKeyboard(ctx, msg, chaptersKeyboard(b.sessions, id, session, !subscribed))
}

func (b *Bot) unsubscribe(ctx context.Context, recipient, tok string) (string, error) {
	title, ok := b.sessions.Title(tok)
	if !ok {
		return "", errStale
	}
	if err := b.store.DeleteSubscription(ctx, feed.Subscription{TitleURL: title.URL, RecipientID: recipient}); err != nil {
		return "", fmt.Errorf("unsubscribe %s: %w", title.URL, err)
	}
	return "Unsubscribed from " + title.Name, nil
}

func (b *Bot) toggleFormat(ctx context.Context, msg *tgbotapi.Message, recipient, name string) (string, error) {
	format, err := feed.ParseFormat(name)
	if err != nil {
		return "", errStale
	}
	current, err := b.formats(ctx, recipient)
	if err != nil {
		return "", err
	}
	next := current.Toggle(format)
	if next == 0 {
		return "At least one format must stay enabled.", nil
	}
	if err := b.store.PutPreference(ctx, feed.Preference{RecipientID: recipient, Formats: next}); err != nil {
		return "", fmt.Errorf("store preference: %w", err)
	}
	return "Formats: " + next.String(), b.editKeyboard(ctx, msg, formatsKeyboard(next))
}

func (b *Bot) subscribed(ctx context.Context, recipient, titleURL string) (bool, error) {
	subs, err := b.store.SubscriptionsOf(ctx, recipient)
	if err != nil {
		return false, fmt.Errorf("list subscriptions: %w", err)
	}
	for _, s := range subs {
		if s.TitleURL == titleURL {
			return true, nil
		}
	}
	return false, nil
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	_, err := b.sender.send(ctx, msg)
	return err
}

func (b *Bot) editKeyboard(ctx context.Context, msg *tgbotapi.Message, kb tgbotapi.InlineKeyboardMarkup) error {
	return b.sender.request(ctx, tgbotapi.NewEditMessageReplyMarkup(msg.Chat.ID, msg.MessageID, kb))
}

func (b *Bot) answer(ctx context.Context, callbackID, text string, alert bool) {
	cfg := tgbotapi.NewCallback(callbackID, text)
	cfg.ShowAlert = alert
	if err := b.sender.request(ctx, cfg); err != nil {
		b.logger.Debug("answer callback failed", zap.Error(err))
	}
}

func titleText(title feed.Title) string {
	if title.Source == "" {
		return title.Name
	}
	return fmt.Sprintf("%s\n%s (%s)", title.Name, title.URL, title.Source)
}
