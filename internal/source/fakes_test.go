package source

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

type fetchCall struct {
	request feed.FetchRequest
}

// scriptedFetcher replays responses by URL; entries are consumed in order.
type scriptedFetcher struct {
	mu        sync.Mutex
	responses map[string][]fetchResult
	calls     []fetchCall
}

type fetchResult struct {
	resp feed.FetchResponse
	err  error
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{responses: make(map[string][]fetchResult)}
}

func (f *scriptedFetcher) on(url string, results ...fetchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = append(f.responses[url], results...)
}

func (f *scriptedFetcher) Fetch(_ context.Context, request feed.FetchRequest) (feed.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{request: request})
	queue := f.responses[request.URL]
	if len(queue) == 0 {
		return feed.FetchResponse{}, &feed.StatusError{URL: request.URL, StatusCode: http.StatusNotFound}
	}
	next := queue[0]
	if len(queue) > 1 {
		f.responses[request.URL] = queue[1:]
	}
	return next.resp, next.err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func ok(body string) fetchResult {
	return fetchResult{resp: feed.FetchResponse{StatusCode: http.StatusOK, Body: []byte(body)}}
}

func status(code int, retryAfter string) fetchResult {
	return fetchResult{err: &feed.StatusError{StatusCode: code, RetryAfter: retryAfter}}
}

type stubDetector struct{ promote bool }

func (d stubDetector) ShouldPromote(feed.FetchResponse) bool { return d.promote }

type recordingLimiter struct {
	mu        sync.Mutex
	waits     int
	penalties []time.Duration
}

func (l *recordingLimiter) Wait(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits++
	return nil
}

func (l *recordingLimiter) Penalize(_ string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.penalties = append(l.penalties, d)
}

func noSleep(c *Client) *Client {
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c
}

type stubSource struct {
	name     string
	prefix   string
	titles   []feed.Title
	err      error
	pictures []string
	headers  http.Header
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Search(context.Context, string, int) ([]feed.Title, error) {
	return s.titles, s.err
}

func (s *stubSource) Chapters(context.Context, feed.Title, int) ([]feed.Chapter, error) {
	return nil, nil
}

func (s *stubSource) IterChapters(context.Context, string, string) feed.ChapterIterator {
	return feed.NewSliceIterator(nil)
}

func (s *stubSource) ContainsURL(url string) bool {
	return len(url) >= len(s.prefix) && url[:len(s.prefix)] == s.prefix
}

func (s *stubSource) Pictures(context.Context, feed.Chapter) ([]string, error) {
	return s.pictures, s.err
}

type headerSource struct {
	*stubSource
}

func (s headerSource) ImageHeaders(feed.Chapter) http.Header { return s.headers }

type plainHasher struct{}

func (plainHasher) Hash(data []byte) (string, error) {
	return "digest-" + string(data), nil
}
