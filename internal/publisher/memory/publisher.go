// Package memory keeps chapter events in process. It backs scanner tests and
// local runs without a Pub/Sub project.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

// Publisher implements feed.Publisher over a slice per topic.
type Publisher struct {
	mu     sync.RWMutex
	seq    int
	topics map[string][]feed.ChapterEvent
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{topics: make(map[string][]feed.ChapterEvent)}
}

// Publish records a chapter event under topic. Other payloads are rejected so
// a wiring mistake shows up the same way a schema mismatch would on Pub/Sub.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	var event feed.ChapterEvent
	switch v := payload.(type) {
	case feed.ChapterEvent:
		event = v
	case *feed.ChapterEvent:
		if v == nil {
			return "", fmt.Errorf("publish to %q: nil event", topic)
		}
		event = *v
	default:
		return "", fmt.Errorf("publish to %q: unsupported payload %T", topic, payload)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.topics[topic] = append(p.topics[topic], event)
	return fmt.Sprintf("%s-%d", topic, p.seq), nil
}

// Events returns a copy of the events published to topic, oldest first.
func (p *Publisher) Events(topic string) []feed.ChapterEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]feed.ChapterEvent(nil), p.topics[topic]...)
}

// Count reports how many events were published across all topics.
func (p *Publisher) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seq
}
