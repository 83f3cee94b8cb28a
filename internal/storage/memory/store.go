package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

// Store implements feed.Store in memory. It is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	subs        map[feed.Subscription]struct{}
	last        map[string]feed.LastChapter
	names       map[string]feed.TitleName
	delivered   map[string]feed.DeliveredFile
	preferences map[string]feed.Preference
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		subs:        make(map[feed.Subscription]struct{}),
		last:        make(map[string]feed.LastChapter),
		names:       make(map[string]feed.TitleName),
		delivered:   make(map[string]feed.DeliveredFile),
		preferences: make(map[string]feed.Preference),
	}
}

// Subscriptions returns every subscription ordered by title then recipient.
func (s *Store) Subscriptions(_ context.Context) ([]feed.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]feed.Subscription, 0, len(s.subs))
	for sub := range s.subs {
		out = append(out, sub)
	}
	sortSubscriptions(out)
	return out, nil
}

// SubscriptionsOf returns the subscriptions of one recipient.
func (s *Store) SubscriptionsOf(_ context.Context, recipientID string) ([]feed.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []feed.Subscription
	for sub := range s.subs {
		if sub.RecipientID == recipientID {
			out = append(out, sub)
		}
	}
	sortSubscriptions(out)
	return out, nil
}

// AddSubscription upserts a subscription.
func (s *Store) AddSubscription(_ context.Context, sub feed.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub] = struct{}{}
	return nil
}

// DeleteSubscription removes one subscription. Missing rows are ignored.
func (s *Store) DeleteSubscription(_ context.Context, sub feed.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
	return nil
}

// DeleteSubscriptions removes every subscription of a recipient.
func (s *Store) DeleteSubscriptions(_ context.Context, recipientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for sub := range s.subs {
		if sub.RecipientID == recipientID {
			delete(s.subs, sub)
			removed++
		}
	}
	return removed, nil
}

// LastChapters returns every watermark ordered by title URL.
func (s *Store) LastChapters(_ context.Context) ([]feed.LastChapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]feed.LastChapter, 0, len(s.last))
	for _, lc := range s.last {
		out = append(out, lc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TitleURL < out[j].TitleURL })
	return out, nil
}

// LastChapter returns the watermark of one title.
func (s *Store) LastChapter(_ context.Context, titleURL string) (feed.LastChapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lc, ok := s.last[titleURL]
	if !ok {
		return feed.LastChapter{}, feed.ErrNotFound
	}
	return lc, nil
}

// PutLastChapter upserts a watermark.
func (s *Store) PutLastChapter(_ context.Context, last feed.LastChapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[last.TitleURL] = last
	return nil
}

// TitleNames returns every cached title name ordered by URL.
func (s *Store) TitleNames(_ context.Context) ([]feed.TitleName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]feed.TitleName, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TitleURL < out[j].TitleURL })
	return out, nil
}

// PutTitleName upserts a title name.
func (s *Store) PutTitleName(_ context.Context, name feed.TitleName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[name.TitleURL] = name
	return nil
}

// DeliveredFile returns a copy of the stored handles for a chapter.
func (s *Store) DeliveredFile(_ context.Context, chapterURL string) (feed.DeliveredFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	file, ok := s.delivered[chapterURL]
	if !ok {
		return feed.DeliveredFile{}, feed.ErrNotFound
	}
	return copyDelivered(file), nil
}

// PutDeliveredFile merges the handles into the stored record.
func (s *Store) PutDeliveredFile(_ context.Context, file feed.DeliveredFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := copyDelivered(s.delivered[file.ChapterURL])
	merged.ChapterURL = file.ChapterURL
	for format, handle := range file.Handles {
		merged.SetHandle(format, handle)
	}
	s.delivered[file.ChapterURL] = merged
	return nil
}

// Preference returns a recipient's format preference.
func (s *Store) Preference(_ context.Context, recipientID string) (feed.Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pref, ok := s.preferences[recipientID]
	if !ok {
		return feed.Preference{}, feed.ErrNotFound
	}
	return pref, nil
}

// PutPreference upserts a recipient's format preference.
func (s *Store) PutPreference(_ context.Context, pref feed.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[pref.RecipientID] = pref
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func copyDelivered(file feed.DeliveredFile) feed.DeliveredFile {
	out := feed.DeliveredFile{ChapterURL: file.ChapterURL}
	for format, handle := range file.Handles {
		out.SetHandle(format, handle)
	}
	return out
}

func sortSubscriptions(subs []feed.Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].TitleURL != subs[j].TitleURL {
			return subs[i].TitleURL < subs[j].TitleURL
		}
		return subs[i].RecipientID < subs[j].RecipientID
	})
}
