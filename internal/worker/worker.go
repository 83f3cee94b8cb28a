// Package worker implements the delivery loop: take a delivery off the
// dispatch queue, render the chapter in every requested format, send it and
// release the recipient key.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/comicfeed/internal/feed"
	"github.com/JakeFAU/comicfeed/internal/metrics"
	"github.com/JakeFAU/comicfeed/internal/progress"
)

// Delivery outcomes reported to metrics and logs.
const (
	statusSent        = "sent"
	statusFailed      = "failed"
	statusSuppressed  = "suppressed"
	statusUnreachable = "unreachable"
	statusPanic       = "panic"
)

var errSuppressed = errors.New("recipient suppressed for this pass")

// Config controls Worker behavior.
type Config struct {
	ID string
	// ChapterDelay is waited after each delivery while the recipient key is still held.
	ChapterDelay  time.Duration
	ArchivePrefix string
	// Events receives delivery lifecycle events. Nil discards them.
	Events progress.Emitter
}

// Worker consumes deliveries from the dispatch queue.
type Worker struct {
	queue        feed.Queue
	store        feed.Store
	pages        feed.PageFetcher
	renderer     feed.Renderer
	sender       feed.Sender
	archive      feed.BlobStore
	hasher       feed.Hasher
	clock        feed.Clock
	suppressions *feed.Suppressions
	cfg          Config
	logger       *zap.Logger
}

// New constructs a Worker. archive may be nil.
func New(
	queue feed.Queue,
	store feed.Store,
	pages feed.PageFetcher,
	renderer feed.Renderer,
	sender feed.Sender,
	archive feed.BlobStore,
	hasher feed.Hasher,
	clock feed.Clock,
	suppressions *feed.Suppressions,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ID == "" {
		cfg.ID = "worker"
	}
	if suppressions == nil {
		suppressions = feed.NewSuppressions()
	}
	if cfg.Events == nil {
		cfg.Events = progress.Discard
	}
	return &Worker{
		queue:        queue,
		store:        store,
		pages:        pages,
		renderer:     renderer,
		sender:       sender,
		archive:      archive,
		hasher:       hasher,
		clock:        clock,
		suppressions: suppressions,
		cfg:          cfg,
		logger:       logger.With(zap.String("worker_id", cfg.ID)),
	}
}

// Run blocks, consuming deliveries until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, key, err := w.queue.Get(ctx, w.cfg.ID)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, feed.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue get failed", zap.Error(err))
			continue
		}
		metrics.SetQueueDepth(w.queue.Len())
		w.process(ctx, item, key)
	}
}

// process handles one delivery. The key is released on every path, including panics.
func (w *Worker) process(ctx context.Context, item feed.Delivery, key string) {
	defer w.queue.Release(key)
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(
		zap.String("recipient", key),
		zap.String("chapter_url", item.Chapter.URL),
		zap.String("source", item.Chapter.Source),
		zap.Uint64("pass", item.Pass),
	)
	started := w.now()
	evt := progress.Event{
		DeliveryID: uuid.NewString(),
		Origin:     string(item.Origin),
		Recipient:  key,
		Source:     item.Chapter.Source,
		ChapterURL: item.Chapter.URL,
		Chapter:    item.Chapter.DisplayName(),
	}
	w.cfg.Events.Emit(evt.At(progress.StageStart, started))
	finish := func(stage progress.Stage, note string) {
		done := evt.At(stage, w.now())
		done.Dur = done.TS.Sub(started)
		done.Note = note
		w.cfg.Events.Emit(done)
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveDelivery(string(item.Origin), statusPanic)
			finish(progress.StageFailed, statusPanic)
			logger.Error("delivery panicked", zap.Any("panic", r))
		}
	}()

	err := w.deliver(ctx, item, evt, logger)
	switch {
	case err == nil:
		metrics.ObserveDelivery(string(item.Origin), statusSent)
		finish(progress.StageSent, "")
		logger.Info("chapter delivered", zap.String("chapter", item.Chapter.DisplayName()))
	case errors.Is(err, errSuppressed):
		metrics.ObserveDelivery(string(item.Origin), statusSuppressed)
		finish(progress.StageSkipped, statusSuppressed)
		logger.Debug("delivery skipped for suppressed recipient")
		return
	case errors.Is(err, feed.ErrRecipientUnreachable):
		metrics.ObserveDelivery(string(item.Origin), statusUnreachable)
		finish(progress.StageSkipped, statusUnreachable)
		w.dropRecipient(ctx, item, logger)
		return
	default:
		metrics.ObserveDelivery(string(item.Origin), statusFailed)
		finish(progress.StageFailed, err.Error())
		logger.Error("delivery failed", zap.Error(err))
		w.notifyFailure(ctx, item, logger)
	}

	if w.clock != nil && w.cfg.ChapterDelay > 0 {
		if err := w.clock.Sleep(ctx, w.cfg.ChapterDelay); err != nil {
			logger.Debug("chapter pacing interrupted", zap.Error(err))
		}
	}
}

func (w *Worker) now() time.Time {
	if w.clock != nil {
		return w.clock.Now()
	}
	return time.Now()
}

// formatSent reports one document handed to the sender.
func (w *Worker) formatSent(evt progress.Event, doc feed.Document, cached bool, since time.Time) {
	sent := evt.At(progress.StageFormatSent, w.now())
	sent.Format = doc.Format.String()
	sent.Bytes = int64(len(doc.Data))
	sent.Cached = cached
	sent.Dur = sent.TS.Sub(since)
	w.cfg.Events.Emit(sent)
}

func (w *Worker) deliver(ctx context.Context, item feed.Delivery, evt progress.Event, logger *zap.Logger) error {
	if w.suppressions.Suppressed(item.RecipientID, item.Pass) {
		return errSuppressed
	}
	formats := w.formats(ctx, item.RecipientID, logger)

	delivered, err := w.store.DeliveredFile(ctx, item.Chapter.URL)
	switch {
	case errors.Is(err, feed.ErrNotFound):
		delivered = feed.DeliveredFile{}
	case err != nil:
		logger.Warn("delivered file lookup failed", zap.Error(err))
		delivered = feed.DeliveredFile{}
	}
	delivered.ChapterURL = item.Chapter.URL

	var (
		pages   []feed.Page
		changed bool
	)
	for _, format := range formats.Formats() {
		doc := feed.Document{
			FileName: FileName(item.Chapter, format),
			Caption:  item.Chapter.DisplayName(),
			Format:   format,
		}
		since := w.now()
		if handle, ok := delivered.Handle(format); ok {
			err := w.sender.SendCachedDocument(ctx, item.RecipientID, doc, handle)
			if err == nil {
				w.formatSent(evt, doc, true, since)
				continue
			}
			if errors.Is(err, feed.ErrRecipientUnreachable) {
				return err
			}
			logger.Warn("cached file rejected, rendering again",
				zap.String("format", format.String()), zap.Error(err))
		}

		if pages == nil {
			pages, err = w.pages.Fetch(ctx, item.Chapter)
			if err != nil {
				return fmt.Errorf("fetch pages: %w", err)
			}
			if len(pages) == 0 {
				return fmt.Errorf("fetch pages: chapter %s has no pages", item.Chapter.URL)
			}
		}
		doc.Data, err = w.renderer.Render(ctx, format, item.Chapter.DisplayName(), pages)
		if err != nil {
			return fmt.Errorf("render %s: %w", format, err)
		}
		handle, err := w.sender.SendDocument(ctx, item.RecipientID, doc)
		if err != nil {
			return fmt.Errorf("send %s: %w", format, err)
		}
		w.formatSent(evt, doc, false, since)
		if handle != "" {
			delivered.SetHandle(format, handle)
			changed = true
		}
		w.archiveDocument(ctx, item.Chapter, doc, logger)
	}

	if changed {
		if err := w.store.PutDeliveredFile(ctx, delivered); err != nil {
			logger.Warn("store delivered file failed", zap.Error(err))
		}
	}
	return nil
}

func (w *Worker) formats(ctx context.Context, recipientID string, logger *zap.Logger) feed.Format {
	pref, err := w.store.Preference(ctx, recipientID)
	if err != nil {
		if !errors.Is(err, feed.ErrNotFound) {
			logger.Warn("preference lookup failed", zap.Error(err))
		}
		return feed.DefaultFormats
	}
	if pref.Formats == 0 {
		return feed.DefaultFormats
	}
	return pref.Formats
}

// dropRecipient removes every subscription of an unreachable recipient and
// suppresses them for the rest of the pass.
func (w *Worker) dropRecipient(ctx context.Context, item feed.Delivery, logger *zap.Logger) {
	w.suppressions.Suppress(item.RecipientID, item.Pass)
	removed, err := w.store.DeleteSubscriptions(ctx, item.RecipientID)
	if err != nil {
		logger.Error("unsubscribe unreachable recipient failed", zap.Error(err))
		return
	}
	logger.Warn("recipient unreachable, subscriptions removed", zap.Int("removed", removed))
}

// notifyFailure tells the recipient about a failed manual request. Failed
// update deliveries stay silent.
func (w *Worker) notifyFailure(ctx context.Context, item feed.Delivery, logger *zap.Logger) {
	if item.Origin != feed.OriginManual {
		return
	}
	text := fmt.Sprintf("Could not deliver %s. Please try again later.", item.Chapter.DisplayName())
	if err := w.sender.SendText(ctx, item.RecipientID, text); err != nil {
		logger.Debug("failure notice not sent", zap.Error(err))
	}
}

func (w *Worker) archiveDocument(ctx context.Context, chapter feed.Chapter, doc feed.Document, logger *zap.Logger) {
	if w.archive == nil || w.hasher == nil {
		return
	}
	digest, err := w.hasher.Hash([]byte(chapter.URL))
	if err != nil {
		logger.Warn("hash chapter url", zap.Error(err))
		return
	}
	objectPath := w.buildArchivePath(chapter.Source, digest, doc.FileName)
	uri, err := w.archive.PutObject(ctx, objectPath, doc.Format.ContentType(), doc.Data)
	if err != nil {
		logger.Warn("archive document failed", zap.String("path", objectPath), zap.Error(err))
		return
	}
	logger.Debug("document archived", zap.String("uri", uri))
}

func (w *Worker) buildArchivePath(source, digest, fileName string) string {
	if len(digest) > 16 {
		digest = digest[:16]
	}
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if source == "" {
		source = "unknown"
	}
	return path.Join(prefix, source, digest, fileName)
}

var unsafeFileChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]+`)

// FileName builds a filesystem-safe document name for a chapter.
func FileName(chapter feed.Chapter, format feed.Format) string {
	name := unsafeFileChars.ReplaceAllString(chapter.DisplayName(), "_")
	name = strings.TrimSpace(name)
	if name == "" {
		name = "chapter"
	}
	if runes := []rune(name); len(runes) > 120 {
		name = string(runes[:120])
	}
	return name + format.Extension()
}
