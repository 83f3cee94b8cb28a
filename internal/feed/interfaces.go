package feed

import (
	"context"
	"time"
)

// Source is one site-specific adapter. Adapters keep no scan progress; the
// watermark lives in the Store.
type Source interface {
	Name() string
	Search(ctx context.Context, query string, page int) ([]Title, error)
	Chapters(ctx context.Context, title Title, page int) ([]Chapter, error)
	// IterChapters yields the title's chapters newest first. Every call starts over.
	IterChapters(ctx context.Context, titleURL, titleName string) ChapterIterator
	// ContainsURL reports ownership without touching the network.
	ContainsURL(url string) bool
	Pictures(ctx context.Context, chapter Chapter) ([]string, error)
}

// UpdateChecker is the optional bulk fast path of a Source. URLs reported in
// neither slice are unresolved and get a full walk.
type UpdateChecker interface {
	CheckUpdated(ctx context.Context, last []LastChapter) (updated, notUpdated []string, err error)
}

// ChapterIterator is a lazy pull iterator. Next returns ErrIterDone once exhausted.
type ChapterIterator interface {
	Next(ctx context.Context) (Chapter, error)
}

// Store persists subscriptions, watermarks and delivery caches.
type Store interface {
	Subscriptions(ctx context.Context) ([]Subscription, error)
	SubscriptionsOf(ctx context.Context, recipientID string) ([]Subscription, error)
	AddSubscription(ctx context.Context, sub Subscription) error
	DeleteSubscription(ctx context.Context, sub Subscription) error
	DeleteSubscriptions(ctx context.Context, recipientID string) (int, error)

	LastChapters(ctx context.Context) ([]LastChapter, error)
	LastChapter(ctx context.Context, titleURL string) (LastChapter, error)
	PutLastChapter(ctx context.Context, last LastChapter) error

	TitleNames(ctx context.Context) ([]TitleName, error)
	PutTitleName(ctx context.Context, name TitleName) error

	DeliveredFile(ctx context.Context, chapterURL string) (DeliveredFile, error)
	PutDeliveredFile(ctx context.Context, file DeliveredFile) error

	Preference(ctx context.Context, recipientID string) (Preference, error)
	PutPreference(ctx context.Context, pref Preference) error

	Close() error
}

// Queue hands out deliveries with at most one checked-out item per key.
type Queue interface {
	Put(ctx context.Context, item Delivery, key string) error
	Get(ctx context.Context, workerID string) (Delivery, string, error)
	Release(key string)
	Len() int
}

// Enqueuer accepts deliveries for the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, delivery Delivery) error
}

// Sender delivers documents and text to a recipient on the chat platform.
type Sender interface {
	SendDocument(ctx context.Context, recipientID string, doc Document) (string, error)
	SendCachedDocument(ctx context.Context, recipientID string, doc Document, handle string) error
	SendText(ctx context.Context, recipientID string, text string) error
}

// PageFetcher downloads every page of a chapter, materializing pictures when needed.
type PageFetcher interface {
	Fetch(ctx context.Context, chapter Chapter) ([]Page, error)
}

// Renderer packs chapter pages into a single-format document.
type Renderer interface {
	Render(ctx context.Context, format Format, title string, pages []Page) ([]byte, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes chapter events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Hasher computes digests used for cache keys and callback tokens.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time and sleeps (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// ChapterEvent is published for every newly discovered chapter.
type ChapterEvent struct {
	Pass        uint64    `json:"pass"`
	Source      string    `json:"source"`
	TitleURL    string    `json:"title_url"`
	TitleName   string    `json:"title_name"`
	ChapterURL  string    `json:"chapter_url"`
	ChapterName string    `json:"chapter_name"`
	Recipients  int       `json:"recipients"`
	Discovered  time.Time `json:"discovered"`
}
