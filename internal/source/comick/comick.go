// Package comick scrapes comick's HTML catalogue.
package comick

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/comicfeed/internal/feed"
	"github.com/JakeFAU/comicfeed/internal/source"
)

// Name is the adapter name.
const Name = "comick"

const chaptersPerPage = 20

// Config points the adapter at a site root.
type Config struct {
	BaseURL string
}

// Source implements feed.Source and feed.UpdateChecker.
//
// The front page lists every title updated recently, so a subscribed title
// missing from it is reported as not updated; the periodic full walk of the
// scanner recovers anything this misses.
type Source struct {
	client  *source.Client
	baseURL string
}

// New builds the adapter.
func New(client *source.Client, cfg Config) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://comick.io/"
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	return &Source{client: client, baseURL: cfg.BaseURL}
}

// Name implements feed.Source.
func (s *Source) Name() string { return Name }

// ContainsURL implements feed.Source.
func (s *Source) ContainsURL(u string) bool { return strings.HasPrefix(u, s.baseURL) }

// ImageHeaders makes the image host accept hotlinked requests.
func (s *Source) ImageHeaders(feed.Chapter) http.Header {
	return http.Header{"Referer": {s.baseURL}}
}

// Search implements feed.Source. The autosearch endpoint has no paging, so
// every page past the first is empty.
func (s *Source) Search(ctx context.Context, query string, page int) ([]feed.Title, error) {
	if page > 1 {
		return []feed.Title{}, nil
	}
	doc, err := s.client.GetDocument(ctx, feed.FetchRequest{
		URL:    s.baseURL + "search/autosearch",
		Method: http.MethodPost,
		Form:   map[string]string{"key": query},
	})
	if err != nil {
		return nil, fmt.Errorf("comick search: %w", err)
	}
	var titles []feed.Title
	doc.Find("li").Each(func(_ int, li *goquery.Selection) {
		a := li.Find("a").First()
		href, ok := a.Attr("href")
		name := strings.TrimSpace(a.Find("span.name").Text())
		if !ok || name == "" {
			return
		}
		cover, _ := a.Find("img").Attr("src")
		titles = append(titles, feed.Title{
			Name:     name,
			URL:      source.Resolve(s.baseURL, href),
			CoverURL: strings.TrimSpace(cover),
			Source:   Name,
		})
	})
	return titles, nil
}

// Chapters implements feed.Source by slicing the full chapter table.
func (s *Source) Chapters(ctx context.Context, title feed.Title, page int) ([]feed.Chapter, error) {
	all, err := s.chapters(ctx, title)
	if err != nil {
		return nil, err
	}
	return source.PageSlice(all, page, chaptersPerPage), nil
}

// IterChapters implements feed.Source. The title page lists every chapter,
// so one request serves the whole iteration.
func (s *Source) IterChapters(_ context.Context, titleURL, titleName string) feed.ChapterIterator {
	title := feed.Title{Name: titleName, URL: titleURL, Source: Name}
	return feed.NewPagedIterator(1, func(ctx context.Context, page int) ([]feed.Chapter, error) {
		if page > 1 {
			return nil, nil
		}
		return s.chapters(ctx, title)
	})
}

func (s *Source) chapters(ctx context.Context, title feed.Title) ([]feed.Chapter, error) {
	doc, err := s.client.GetDocument(ctx, feed.FetchRequest{URL: title.URL})
	if err != nil {
		return nil, fmt.Errorf("comick chapters: %w", err)
	}
	var chapters []feed.Chapter
	doc.Find("div.list-chapter tr").Each(func(_ int, tr *goquery.Selection) {
		a := tr.Find("a").First()
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		name := strings.TrimSpace(a.Text())
		if title.Name != "" && strings.HasPrefix(name, title.Name) {
			name = strings.TrimSpace(strings.TrimPrefix(name, title.Name))
		}
		chapters = append(chapters, feed.Chapter{
			Name:   name,
			URL:    source.Resolve(s.baseURL, href),
			Title:  title,
			Source: Name,
		})
	})
	return chapters, nil
}

// Pictures implements feed.Source.
func (s *Source) Pictures(ctx context.Context, chapter feed.Chapter) ([]string, error) {
	doc, err := s.client.GetDocument(ctx, feed.FetchRequest{URL: chapter.URL})
	if err != nil {
		return nil, fmt.Errorf("comick pictures: %w", err)
	}
	var pictures []string
	doc.Find("div.img img").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && strings.TrimSpace(src) != "" {
			pictures = append(pictures, source.Resolve(chapter.URL, src))
		}
	})
	return pictures, nil
}

// CheckUpdated implements feed.UpdateChecker from the front page feed.
func (s *Source) CheckUpdated(ctx context.Context, last []feed.LastChapter) ([]string, []string, error) {
	doc, err := s.client.GetDocument(ctx, feed.FetchRequest{URL: s.baseURL})
	if err != nil {
		return nil, nil, fmt.Errorf("comick updates: %w", err)
	}
	latest := make(map[string]string)
	doc.Find("div.st_content div.info-manga").Each(func(_ int, item *goquery.Selection) {
		titleHref, ok := item.Find("a.name-manga").Attr("href")
		if !ok {
			return
		}
		chapterHref, ok := item.Find("a.name-chapter").Attr("href")
		if !ok {
			return
		}
		latest[source.Resolve(s.baseURL, titleHref)] = source.Resolve(s.baseURL, chapterHref)
	})
	updated, notUpdated := source.Partition(last, latest, true)
	return updated, notUpdated, nil
}
