package feed

import (
	"fmt"
	"net/http"
	"time"
)

// Title is a tracked comic series, identified by its canonical source URL.
type Title struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	CoverURL string `json:"cover_url,omitempty"`
	Source   string `json:"source"`
}

// Chapter is one releasable unit of a Title. Pictures stays empty until the
// page list is materialized by the owning source.
type Chapter struct {
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Title    Title    `json:"title"`
	Source   string   `json:"source"`
	Pictures []string `json:"pictures,omitempty"`
}

// NeedsPictures reports whether the page list still has to be fetched.
func (c Chapter) NeedsPictures() bool {
	return len(c.Pictures) == 0
}

// DisplayName renders "<title> - <chapter>" for captions and file names.
func (c Chapter) DisplayName() string {
	if c.Title.Name == "" {
		return c.Name
	}
	return fmt.Sprintf("%s - %s", c.Title.Name, c.Name)
}

// Subscription records that a recipient wants new chapters of a title pushed to them.
type Subscription struct {
	TitleURL    string `json:"title_url"`
	RecipientID string `json:"recipient_id"`
}

// LastChapter is the scan watermark of a title: the newest chapter already seen.
type LastChapter struct {
	TitleURL   string `json:"title_url"`
	ChapterURL string `json:"chapter_url"`
}

// TitleName caches the display name of a subscribed title across restarts.
type TitleName struct {
	TitleURL string `json:"title_url"`
	Name     string `json:"name"`
}

// DeliveredFile maps a chapter to the platform file handles it was already sent as.
type DeliveredFile struct {
	ChapterURL string            `json:"chapter_url"`
	Handles    map[Format]string `json:"handles"`
}

// Handle returns the stored handle for a format, if any.
func (d DeliveredFile) Handle(format Format) (string, bool) {
	if d.Handles == nil {
		return "", false
	}
	h, ok := d.Handles[format]
	return h, ok && h != ""
}

// SetHandle stores the platform handle for one format.
func (d *DeliveredFile) SetHandle(format Format, handle string) {
	if d.Handles == nil {
		d.Handles = make(map[Format]string)
	}
	d.Handles[format] = handle
}

// Preference holds the output formats a recipient asked for.
type Preference struct {
	RecipientID string `json:"recipient_id"`
	Formats     Format `json:"formats"`
}

// Origin tells where a delivery request came from.
type Origin string

// Delivery origins.
const (
	OriginUpdate Origin = "update"
	OriginManual Origin = "manual"
)

// Delivery is one unit of work on the dispatch queue: send Chapter to RecipientID.
// Pass is the update pass that produced it, zero for manual requests.
type Delivery struct {
	Chapter     Chapter
	RecipientID string
	Origin      Origin
	Pass        uint64
	Enqueued    time.Time
}

// Page is one downloaded chapter image.
type Page struct {
	Name string
	Data []byte
}

// Document is a rendered chapter ready to be sent.
type Document struct {
	FileName string
	Caption  string
	Format   Format
	Data     []byte
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	Method      string
	Form        map[string]string
	Headers     http.Header
	UseHeadless bool
	// WaitSelector is awaited by headless fetches before the DOM is captured.
	WaitSelector string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
