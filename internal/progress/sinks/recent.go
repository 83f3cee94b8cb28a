package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/comicfeed/internal/progress"
)

const defaultRecentSize = 100

// RecentSink folds events into one Record per delivery and keeps the last
// size finished records in a ring.
type RecentSink struct {
	mu      sync.Mutex
	size    int
	ring    []progress.Record
	next    int
	full    bool
	pending map[string]*progress.Record
}

// NewRecentSink keeps up to size finished deliveries (default 100).
func NewRecentSink(size int) *RecentSink {
	if size <= 0 {
		size = defaultRecentSize
	}
	return &RecentSink{
		size:    size,
		ring:    make([]progress.Record, size),
		pending: make(map[string]*progress.Record),
	}
}

// Consume implements progress.Sink.
func (s *RecentSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		rec := s.pending[evt.DeliveryID]
		if rec == nil {
			rec = &progress.Record{
				DeliveryID: evt.DeliveryID,
				Origin:     evt.Origin,
				Recipient:  evt.Recipient,
				Source:     evt.Source,
				Chapter:    evt.Chapter,
				ChapterURL: evt.ChapterURL,
				Started:    evt.TS,
			}
			s.pending[evt.DeliveryID] = rec
		}
		switch {
		case evt.Stage == progress.StageFormatSent:
			rec.Formats = append(rec.Formats, evt.Format)
			rec.Bytes += evt.Bytes
			if evt.Cached {
				rec.Cached++
			}
		case evt.Terminal():
			rec.Result = progress.Result(evt.Stage)
			rec.Note = evt.Note
			rec.Finished = evt.TS
			rec.Duration = evt.Dur
			s.push(*rec)
			delete(s.pending, evt.DeliveryID)
		}
	}
	s.evictPending()
	return nil
}

func (s *RecentSink) push(rec progress.Record) {
	s.ring[s.next] = rec
	s.next = (s.next + 1) % s.size
	if s.next == 0 {
		s.full = true
	}
}

// evictPending forgets the oldest unfinished deliveries once their terminal
// events have evidently been lost.
func (s *RecentSink) evictPending() {
	for len(s.pending) > s.size {
		var oldest string
		for id, rec := range s.pending {
			if oldest == "" || rec.Started.Before(s.pending[oldest].Started) {
				oldest = id
			}
		}
		delete(s.pending, oldest)
	}
}

// Recent returns up to limit finished deliveries, newest first. A limit of
// zero or less returns everything kept.
func (s *RecentSink) Recent(limit int) []progress.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.next
	if s.full {
		n = s.size
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]progress.Record, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + s.size) % s.size
		rec := s.ring[idx]
		rec.Formats = append([]string(nil), rec.Formats...)
		out = append(out, rec)
	}
	return out
}

// Close implements progress.Sink.
func (s *RecentSink) Close(context.Context) error {
	return nil
}
