package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/comicfeed/internal/feed"
	"github.com/JakeFAU/comicfeed/internal/metrics"
)

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
	Penalize(rawURL string, d time.Duration)
}

// Client is the request plumbing every adapter shares.
type Client struct {
	probe    feed.Fetcher
	headless feed.Fetcher
	detector feed.HeadlessDetector
	limiter  Limiter
	retry    *RetryPolicy
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHeadless enables headless promotion through fetcher, gated by detector.
// A nil detector only promotes requests that ask for it.
func WithHeadless(fetcher feed.Fetcher, detector feed.HeadlessDetector) ClientOption {
	return func(c *Client) {
		c.headless = fetcher
		c.detector = detector
	}
}

// WithLimiter paces requests per host.
func WithLimiter(l Limiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

// WithRetry overrides the retry policy.
func WithRetry(p *RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient wraps the probe fetcher, usually colly.
func NewClient(probe feed.Fetcher, opts ...ClientOption) *Client {
	c := &Client{
		probe:  probe,
		retry:  NewRetryPolicy(0, 0, 0),
		logger: zap.NewNop(),
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs request with rate limiting, retries and headless promotion.
func (c *Client) Do(ctx context.Context, request feed.FetchRequest) (feed.FetchResponse, error) {
	if request.UseHeadless && c.headless != nil {
		return c.attempt(ctx, c.headless, request)
	}
	resp, err := c.attempt(ctx, c.probe, request)
	if c.headless == nil || c.detector == nil {
		return resp, err
	}
	probe := resp
	if err != nil {
		// A challenge page arrives as a status error; judge it by its code.
		var statusErr *feed.StatusError
		if !errors.As(err, &statusErr) {
			return resp, err
		}
		probe = feed.FetchResponse{StatusCode: statusErr.StatusCode}
	}
	if !c.detector.ShouldPromote(probe) {
		return resp, err
	}
	c.logger.Debug("promoting request to headless", zap.String("url", request.URL))
	promoted, headlessErr := c.attempt(ctx, c.headless, request)
	if headlessErr != nil {
		c.logger.Warn("headless promotion failed", zap.String("url", request.URL), zap.Error(headlessErr))
		return resp, err
	}
	return promoted, nil
}

func (c *Client) attempt(ctx context.Context, fetcher feed.Fetcher, request feed.FetchRequest) (feed.FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, request.URL); err != nil {
				return feed.FetchResponse{}, err
			}
		}
		resp, err := fetcher.Fetch(ctx, request)
		if err == nil {
			metrics.ObserveFetch(request.URL, statusLabel(resp.StatusCode), len(resp.Body))
			return resp, nil
		}
		metrics.ObserveFetch(request.URL, "error", 0)
		if !c.retry.ShouldRetry(err, attempt) {
			return feed.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
		}
		wait := c.retry.Backoff(attempt)
		if after, ok := RetryAfter(err); ok {
			if c.limiter != nil {
				c.limiter.Penalize(request.URL, after)
			}
			if after > wait {
				wait = after
			}
		}
		c.logger.Debug("retrying request",
			zap.String("url", request.URL), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		if err := c.sleep(ctx, wait); err != nil {
			return feed.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
		}
	}
}

// Get returns the body of a GET request.
func (c *Client) Get(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	resp, err := c.Do(ctx, feed.FetchRequest{URL: url, Method: http.MethodGet, Headers: headers})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetJSON decodes a JSON response into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	body, err := c.Get(ctx, url, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// GetDocument parses an HTML response.
func (c *Client) GetDocument(ctx context.Context, request feed.FetchRequest) (*goquery.Document, error) {
	if request.Method == "" {
		request.Method = http.MethodGet
	}
	resp, err := c.Do(ctx, request)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", request.URL, err)
	}
	return doc, nil
}

// PostForm submits a form and returns the body.
func (c *Client) PostForm(ctx context.Context, url string, form map[string]string, headers http.Header) ([]byte, error) {
	resp, err := c.Do(ctx, feed.FetchRequest{URL: url, Method: http.MethodPost, Form: form, Headers: headers})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
