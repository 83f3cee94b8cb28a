// Package scanner implements one update pass: find subscribed titles with new
// chapters, advance their watermarks and enqueue a delivery per chapter and
// subscriber.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/comicfeed/internal/feed"
	"github.com/JakeFAU/comicfeed/internal/metrics"
)

// DefaultMaxNewChapters caps how many chapters one title may yield per pass.
const DefaultMaxNewChapters = 20

// Resolver routes a title URL to the source that owns it.
type Resolver interface {
	SourceFor(url string) (feed.Source, bool)
}

// Config controls Scanner behavior.
type Config struct {
	MaxNewChapters int
	// FullWalkEvery skips the bulk fast path on every Nth pass. Zero never skips.
	FullWalkEvery uint64
	// DryRun reports what would happen without writing watermarks, enqueuing or publishing.
	DryRun bool
	Topic  string
}

// Scanner runs update passes. Scan is not meant to be called concurrently.
type Scanner struct {
	store        feed.Store
	sources      Resolver
	enqueuer     feed.Enqueuer
	publisher    feed.Publisher
	clock        feed.Clock
	suppressions *feed.Suppressions
	cfg          Config
	logger       *zap.Logger

	pass   atomic.Uint64
	mu     sync.RWMutex
	latest *Report
}

// New constructs a Scanner. publisher may be nil.
func New(
	store feed.Store,
	sources Resolver,
	enqueuer feed.Enqueuer,
	publisher feed.Publisher,
	clock feed.Clock,
	suppressions *feed.Suppressions,
	cfg Config,
	logger *zap.Logger,
) *Scanner {
	if cfg.MaxNewChapters <= 0 {
		cfg.MaxNewChapters = DefaultMaxNewChapters
	}
	if suppressions == nil {
		suppressions = feed.NewSuppressions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		store:        store,
		sources:      sources,
		enqueuer:     enqueuer,
		publisher:    publisher,
		clock:        clock,
		suppressions: suppressions,
		cfg:          cfg,
		logger:       logger,
	}
}

// title is the per-pass working state of one subscribed title.
type title struct {
	url        string
	name       string
	recipients []string
	last       *feed.LastChapter
	source     feed.Source
}

type batch struct {
	source feed.Source
	titles []*title
}

// Scan runs one pass. The returned error is non-nil only when the pass could
// not start; per-title and per-source failures are collected in Report.Err.
func (s *Scanner) Scan(ctx context.Context) (Report, error) {
	pass := s.pass.Add(1)
	report := Report{Pass: pass, DryRun: s.cfg.DryRun, Started: s.clock.Now()}
	logger := s.logger.With(zap.Uint64("pass", pass))
	if pass > 1 {
		s.suppressions.Forget(pass - 1)
	}

	titles, err := s.collect(ctx)
	if err != nil {
		report.Err = err
		s.finish(&report, logger)
		return report, err
	}
	report.Titles = len(titles)

	batches := s.route(titles, &report, logger)
	for _, b := range batches {
		pending := s.bulkCheck(ctx, b, pass, &report, logger)
		for _, t := range pending {
			if ctx.Err() != nil {
				report.Err = multierr.Append(report.Err, ctx.Err())
				s.finish(&report, logger)
				return report, nil
			}
			s.processTitle(ctx, t, pass, &report, logger)
		}
	}

	s.finish(&report, logger)
	return report, nil
}

// LastReport returns the most recent finished pass, if any.
func (s *Scanner) LastReport() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Report{}, false
	}
	return *s.latest, true
}

func (s *Scanner) finish(report *Report, logger *zap.Logger) {
	report.Duration = s.clock.Now().Sub(report.Started)
	metrics.ObserveScanPass(report.Err != nil, report.Duration)
	for outcome, n := range map[string]int{
		OutcomeUnrouted:     report.Unrouted,
		OutcomeNotUpdated:   report.NotUpdated,
		OutcomeBootstrapped: report.Bootstrapped,
		OutcomeUpdated:      report.Updated,
		OutcomeUnchanged:    report.Unchanged,
		OutcomeFailed:       report.Failed,
	} {
		metrics.ObserveTitles(outcome, n)
	}

	stored := *report
	s.mu.Lock()
	s.latest = &stored
	s.mu.Unlock()

	fields := []zap.Field{
		zap.Int("titles", report.Titles),
		zap.Int("updated", report.Updated),
		zap.Int("bootstrapped", report.Bootstrapped),
		zap.Int("not_updated", report.NotUpdated),
		zap.Int("failed", report.Failed),
		zap.Int("new_chapters", report.NewChapters),
		zap.Int("deliveries", report.Deliveries),
		zap.Duration("duration", report.Duration),
		zap.Bool("dry_run", report.DryRun),
	}
	if report.Err != nil {
		fields = append(fields, zap.Error(report.Err))
		logger.Warn("scan pass finished with errors", fields...)
		return
	}
	logger.Info("scan pass finished", fields...)
}

// collect loads subscriptions, watermarks and names and groups recipients by title.
func (s *Scanner) collect(ctx context.Context) ([]*title, error) {
	subs, err := s.store.Subscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	lasts, err := s.store.LastChapters(ctx)
	if err != nil {
		return nil, fmt.Errorf("load last chapters: %w", err)
	}
	names, err := s.store.TitleNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("load title names: %w", err)
	}

	lastByURL := make(map[string]feed.LastChapter, len(lasts))
	for _, lc := range lasts {
		lastByURL[lc.TitleURL] = lc
	}
	nameByURL := make(map[string]string, len(names))
	for _, n := range names {
		nameByURL[n.TitleURL] = n.Name
	}

	byURL := make(map[string]*title)
	for _, sub := range subs {
		t, ok := byURL[sub.TitleURL]
		if !ok {
			t = &title{url: sub.TitleURL, name: nameByURL[sub.TitleURL]}
			if lc, found := lastByURL[sub.TitleURL]; found {
				t.last = &lc
			}
			byURL[sub.TitleURL] = t
		}
		t.recipients = append(t.recipients, sub.RecipientID)
	}

	out := make([]*title, 0, len(byURL))
	for _, t := range byURL {
		sort.Strings(t.recipients)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].url < out[j].url })
	return out, nil
}

// route assigns every title to its owning source. Unowned titles are dropped for this pass.
func (s *Scanner) route(titles []*title, report *Report, logger *zap.Logger) []*batch {
	bySource := make(map[string]*batch)
	for _, t := range titles {
		src, ok := s.sources.SourceFor(t.url)
		if !ok {
			report.count(OutcomeUnrouted)
			logger.Warn("no source owns subscribed title", zap.String("title_url", t.url))
			continue
		}
		t.source = src
		b, ok := bySource[src.Name()]
		if !ok {
			b = &batch{source: src}
			bySource[src.Name()] = b
		}
		b.titles = append(b.titles, t)
	}

	out := make([]*batch, 0, len(bySource))
	for _, b := range bySource {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].source.Name() < out[j].source.Name() })
	return out
}

// bulkCheck asks a source which watermarked titles changed and returns the
// titles that still need a walk.
func (s *Scanner) bulkCheck(ctx context.Context, b *batch, pass uint64, report *Report, logger *zap.Logger) []*title {
	checker, ok := b.source.(feed.UpdateChecker)
	if !ok {
		return b.titles
	}
	if s.cfg.FullWalkEvery > 0 && pass%s.cfg.FullWalkEvery == 0 {
		logger.Debug("full walk pass, bulk check skipped", zap.String("source", b.source.Name()))
		return b.titles
	}

	var lasts []feed.LastChapter
	for _, t := range b.titles {
		if t.last != nil {
			lasts = append(lasts, *t.last)
		}
	}
	if len(lasts) == 0 {
		return b.titles
	}

	notUpdated, err := s.checkUpdated(ctx, checker, lasts)
	if err != nil {
		metrics.ObserveSourceError(b.source.Name(), "check_updated")
		report.Err = multierr.Append(report.Err, fmt.Errorf("bulk check %s: %w", b.source.Name(), err))
		logger.Warn("bulk update check failed, walking every title",
			zap.String("source", b.source.Name()), zap.Error(err))
		return b.titles
	}

	pending := make([]*title, 0, len(b.titles))
	for _, t := range b.titles {
		if _, skip := notUpdated[t.url]; skip && t.last != nil {
			report.count(OutcomeNotUpdated)
			continue
		}
		pending = append(pending, t)
	}
	logger.Debug("bulk update check done",
		zap.String("source", b.source.Name()),
		zap.Int("checked", len(lasts)),
		zap.Int("pending", len(pending)),
	)
	return pending
}

func (s *Scanner) checkUpdated(
	ctx context.Context,
	checker feed.UpdateChecker,
	lasts []feed.LastChapter,
) (notUpdated map[string]struct{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check updated panicked: %v", r)
		}
	}()
	_, skipped, err := checker.CheckUpdated(ctx, lasts)
	if err != nil {
		return nil, err
	}
	notUpdated = make(map[string]struct{}, len(skipped))
	for _, u := range skipped {
		notUpdated[u] = struct{}{}
	}
	return notUpdated, nil
}

// processTitle walks one title and enqueues its new chapters. Failures are
// contained to the title.
func (s *Scanner) processTitle(ctx context.Context, t *title, pass uint64, report *Report, logger *zap.Logger) {
	logger = logger.With(zap.String("title_url", t.url), zap.String("source", t.source.Name()))
	defer func() {
		if r := recover(); r != nil {
			report.count(OutcomeFailed)
			report.Err = multierr.Append(report.Err, fmt.Errorf("title %s: panic: %v", t.url, r))
			metrics.ObserveSourceError(t.source.Name(), "walk")
			logger.Error("title walk panicked", zap.Any("panic", r))
		}
	}()

	if t.last == nil {
		outcome, err := s.bootstrap(ctx, t)
		if err != nil {
			report.count(OutcomeFailed)
			report.Err = multierr.Append(report.Err, fmt.Errorf("title %s: %w", t.url, err))
			metrics.ObserveSourceError(t.source.Name(), "bootstrap")
			logger.Warn("bootstrap failed, retrying next pass", zap.Error(err))
			return
		}
		report.count(outcome)
		return
	}

	chapters, err := s.walk(ctx, t)
	if err != nil {
		report.count(OutcomeFailed)
		report.Err = multierr.Append(report.Err, fmt.Errorf("title %s: %w", t.url, err))
		metrics.ObserveSourceError(t.source.Name(), "walk")
		logger.Warn("chapter walk failed, retrying next pass", zap.Error(err))
		return
	}
	if len(chapters) == 0 {
		report.count(OutcomeUnchanged)
		return
	}

	newest := chapters[len(chapters)-1]
	if !s.cfg.DryRun {
		if err := s.store.PutLastChapter(ctx, feed.LastChapter{TitleURL: t.url, ChapterURL: newest.URL}); err != nil {
			report.count(OutcomeFailed)
			report.Err = multierr.Append(report.Err, fmt.Errorf("title %s: persist watermark: %w", t.url, err))
			logger.Error("persist watermark failed, nothing enqueued", zap.Error(err))
			return
		}
	}

	report.count(OutcomeUpdated)
	report.NewChapters += len(chapters)
	metrics.ObserveNewChapters(t.source.Name(), len(chapters))
	report.Updates = append(report.Updates, TitleUpdate{
		Title:      chapters[0].Title,
		Chapters:   chapters,
		Recipients: append([]string(nil), t.recipients...),
	})
	logger.Info("new chapters found",
		zap.Int("chapters", len(chapters)),
		zap.String("newest", newest.URL),
		zap.Int("recipients", len(t.recipients)),
	)

	if s.cfg.DryRun {
		return
	}
	s.publish(ctx, t, chapters, pass, logger)
	s.enqueue(ctx, t, chapters, pass, report, logger)
}

// bootstrap records the current newest chapter as the watermark without delivering anything.
func (s *Scanner) bootstrap(ctx context.Context, t *title) (string, error) {
	it := t.source.IterChapters(ctx, t.url, t.name)
	first, err := it.Next(ctx)
	if errors.Is(err, feed.ErrIterDone) {
		return OutcomeUnchanged, nil
	}
	if err != nil {
		return "", fmt.Errorf("first chapter: %w", err)
	}
	if s.cfg.DryRun {
		return OutcomeBootstrapped, nil
	}
	if err := s.store.PutLastChapter(ctx, feed.LastChapter{TitleURL: t.url, ChapterURL: first.URL}); err != nil {
		return "", fmt.Errorf("persist watermark: %w", err)
	}
	return OutcomeBootstrapped, nil
}

// walk collects chapters newer than the watermark, capped, and returns them oldest first.
func (s *Scanner) walk(ctx context.Context, t *title) ([]feed.Chapter, error) {
	it := t.source.IterChapters(ctx, t.url, t.name)
	var collected []feed.Chapter
	for len(collected) < s.cfg.MaxNewChapters {
		ch, err := it.Next(ctx)
		if errors.Is(err, feed.ErrIterDone) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate chapters: %w", err)
		}
		if ch.URL == t.last.ChapterURL {
			break
		}
		collected = append(collected, s.fillChapter(ch, t))
	}
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected, nil
}

func (s *Scanner) fillChapter(ch feed.Chapter, t *title) feed.Chapter {
	if ch.Source == "" {
		ch.Source = t.source.Name()
	}
	if ch.Title.URL == "" {
		ch.Title.URL = t.url
	}
	if ch.Title.Name == "" {
		ch.Title.Name = t.name
	}
	if ch.Title.Source == "" {
		ch.Title.Source = t.source.Name()
	}
	return ch
}

func (s *Scanner) enqueue(ctx context.Context, t *title, chapters []feed.Chapter, pass uint64, report *Report, logger *zap.Logger) {
	now := s.clock.Now()
	for _, ch := range chapters {
		for _, recipient := range t.recipients {
			if s.suppressions.Suppressed(recipient, pass) {
				continue
			}
			err := s.enqueuer.Enqueue(ctx, feed.Delivery{
				Chapter:     ch,
				RecipientID: recipient,
				Origin:      feed.OriginUpdate,
				Pass:        pass,
				Enqueued:    now,
			})
			if err != nil {
				report.Err = multierr.Append(report.Err, fmt.Errorf("enqueue %s for %s: %w", ch.URL, recipient, err))
				logger.Error("enqueue delivery failed",
					zap.String("chapter_url", ch.URL), zap.String("recipient", recipient), zap.Error(err))
				continue
			}
			report.Deliveries++
		}
	}
}

func (s *Scanner) publish(ctx context.Context, t *title, chapters []feed.Chapter, pass uint64, logger *zap.Logger) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	now := s.clock.Now()
	for _, ch := range chapters {
		event := feed.ChapterEvent{
			Pass:        pass,
			Source:      ch.Source,
			TitleURL:    t.url,
			TitleName:   ch.Title.Name,
			ChapterURL:  ch.URL,
			ChapterName: ch.Name,
			Recipients:  len(t.recipients),
			Discovered:  now,
		}
		if _, err := s.publisher.Publish(ctx, s.cfg.Topic, event); err != nil {
			logger.Warn("publish chapter event failed", zap.String("chapter_url", ch.URL), zap.Error(err))
		}
	}
}
