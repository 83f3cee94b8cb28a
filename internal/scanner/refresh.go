package scanner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

// ErrNoChapters is returned by Refresh when the title lists no chapters.
var ErrNoChapters = errors.New("title has no chapters")

// Refresh resets a title's watermark to its current newest chapter without
// delivering anything. It recovers titles a source misreported as not updated.
func (s *Scanner) Refresh(ctx context.Context, titleURL string) (feed.LastChapter, error) {
	src, ok := s.sources.SourceFor(titleURL)
	if !ok {
		return feed.LastChapter{}, fmt.Errorf("refresh %s: %w", titleURL, feed.ErrUnknownSource)
	}
	name := ""
	names, err := s.store.TitleNames(ctx)
	if err == nil {
		for _, n := range names {
			if n.TitleURL == titleURL {
				name = n.Name
				break
			}
		}
	}

	first, err := src.IterChapters(ctx, titleURL, name).Next(ctx)
	if errors.Is(err, feed.ErrIterDone) {
		return feed.LastChapter{}, fmt.Errorf("refresh %s: %w", titleURL, ErrNoChapters)
	}
	if err != nil {
		return feed.LastChapter{}, fmt.Errorf("refresh %s: %w", titleURL, err)
	}
	last := feed.LastChapter{TitleURL: titleURL, ChapterURL: first.URL}
	if err := s.store.PutLastChapter(ctx, last); err != nil {
		return feed.LastChapter{}, fmt.Errorf("refresh %s: persist watermark: %w", titleURL, err)
	}
	s.logger.Info("watermark refreshed",
		zap.String("title_url", titleURL), zap.String("chapter_url", first.URL))
	return last, nil
}
