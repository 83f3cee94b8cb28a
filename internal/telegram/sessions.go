package telegram

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

// Tokener derives short stable tokens for inline button payloads.
type Tokener interface {
	Token(s string) string
}

// pageSession backs the prev/next buttons of one chapter listing.
type pageSession struct {
	Title    feed.Title
	Page     int
	Chapters []feed.Chapter
}

// Sessions maps callback payloads back to the titles, chapters and listings
// they were built from. Entries expire, so old buttons eventually go stale.
type Sessions struct {
	titles   *expirable.LRU[string, feed.Title]
	chapters *expirable.LRU[string, feed.Chapter]
	pages    *expirable.LRU[string, pageSession]
	tokens   Tokener
	ids      feed.IDGenerator
}

// NewSessions creates caches holding up to size entries each for ttl.
func NewSessions(size int, ttl time.Duration, tokens Tokener, ids feed.IDGenerator) *Sessions {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{
		titles:   expirable.NewLRU[string, feed.Title](size, nil, ttl),
		chapters: expirable.NewLRU[string, feed.Chapter](size*4, nil, ttl),
		pages:    expirable.NewLRU[string, pageSession](size, nil, ttl),
		tokens:   tokens,
		ids:      ids,
	}
}

// PutTitle caches title and returns its token.
func (s *Sessions) PutTitle(title feed.Title) string {
	tok := s.tokens.Token(title.URL)
	s.titles.Add(tok, title)
	return tok
}

// Title resolves a title token.
func (s *Sessions) Title(tok string) (feed.Title, bool) {
	return s.titles.Get(tok)
}

// PutChapter caches chapter and returns its token.
func (s *Sessions) PutChapter(chapter feed.Chapter) string {
	tok := s.tokens.Token(chapter.URL)
	s.chapters.Add(tok, chapter)
	return tok
}

// Chapter resolves a chapter token.
func (s *Sessions) Chapter(tok string) (feed.Chapter, bool) {
	return s.chapters.Get(tok)
}

// OpenPages starts a listing session for title.
func (s *Sessions) OpenPages(title feed.Title) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("open page session: %w", err)
	}
	s.pages.Add(id, pageSession{Title: title, Page: 1})
	return id, nil
}

func (s *Sessions) pageSession(id string) (pageSession, bool) {
	return s.pages.Get(id)
}

func (s *Sessions) savePages(id string, session pageSession) {
	s.pages.Add(id, session)
}
