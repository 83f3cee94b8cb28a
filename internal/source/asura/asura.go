// Package asura scrapes Asura Scans. Chapter pages are embedded in the Next.js
// flight payload rather than in img tags.
package asura

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/comicfeed/internal/feed"
	"github.com/JakeFAU/comicfeed/internal/source"
)

// Name is the adapter name.
const Name = "asura"

const chaptersPerPage = 20

var pagesPattern = regexp.MustCompile(`\\"pages\\":(\[.*?\])`)

// Config points the adapter at a site root.
type Config struct {
	BaseURL string
}

// Source implements feed.Source and feed.UpdateChecker. The front page only
// shows a handful of titles, so titles missing from it stay unresolved.
type Source struct {
	client  *source.Client
	baseURL string
}

// New builds the adapter.
func New(client *source.Client, cfg Config) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://asuracomic.net/"
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

// Search implements feed.Source.
func (s *Source) Search(ctx context.Context, query string, page int) ([]feed.Title, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{}
	params.Set("page", fmt.Sprint(page))
	params.Set("name", query)
	doc, err := s.client.GetDocument(ctx, feed.FetchRequest{URL: s.baseURL + "series?" + params.Encode()})
	if err != nil {
		return nil, fmt.Errorf("asura search: %w", err)
	}
	var titles []feed.Title
	doc.Find("div.grid > a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		name := strings.TrimSpace(a.Find("span.font-bold").First().Text())
		if !ok || name == "" {
			return
		}
		cover, _ := a.Find("img").First().Attr("src")
		titles = append(titles, feed.Title{
			Name:     name,
			URL:      source.Resolve(s.baseURL, href),
			CoverURL: cover,
			Source:   Name,
		})
	})
	return titles, nil
}

// Chapters implements feed.Source.
func (s *Source) Chapters(ctx context.Context, title feed.Title, page int) ([]feed.Chapter, error) {
	all, err := s.chapters(ctx, title)
	if err != nil {
		return nil, err
	}
	return source.PageSlice(all, page, chaptersPerPage), nil
}

// IterChapters implements feed.Source with a single title page fetch.
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
		return nil, fmt.Errorf("asura chapters: %w", err)
	}
	seriesBase := s.baseURL + "series/"
	var chapters []feed.Chapter
	doc.Find("div.scrollbar-thin div.group").Each(func(_ int, row *goquery.Selection) {
		a := row.Find("a").First()
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return
		}
		name := strings.Join(strings.Fields(a.Find("h3").First().Text()), " ")
		if name == "" {
			return
		}
		chapters = append(chapters, feed.Chapter{
			Name:   name,
			URL:    source.Resolve(seriesBase, href),
			Title:  title,
			Source: Name,
		})
	})
	return chapters, nil
}

// Pictures implements feed.Source by decoding the flight payload pushed
// through self.__next_f.push.
func (s *Source) Pictures(ctx context.Context, chapter feed.Chapter) ([]string, error) {
	doc, err := s.client.GetDocument(ctx, feed.FetchRequest{URL: chapter.URL})
	if err != nil {
		return nil, fmt.Errorf("asura pictures: %w", err)
	}
	var pictures []string
	var parseErr error
	doc.Find("script").EachWithBreak(func(_ int, script *goquery.Selection) bool {
		text := script.Text()
		if !strings.Contains(text, "self.__next_f.push") || !strings.Contains(text, `\"pages\"`) {
			return true
		}
		pictures, parseErr = parsePages(text)
		return parseErr != nil || len(pictures) == 0
	})
	if len(pictures) == 0 {
		if parseErr != nil {
			return nil, fmt.Errorf("asura pictures of %s: %w", chapter.URL, parseErr)
		}
		return nil, fmt.Errorf("asura pictures of %s: no page list found", chapter.URL)
	}
	return pictures, nil
}

func parsePages(script string) ([]string, error) {
	match := pagesPattern.FindStringSubmatch(script)
	if match == nil {
		return nil, nil
	}
	raw := strings.ReplaceAll(match[1], `\"`, `"`)
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode pages: %w", err)
	}
	pictures := make([]string, 0, len(entries))
	for _, entry := range entries {
		var page struct {
			URL string `json:"url"`
		}
		if json.Unmarshal(entry, &page) == nil && page.URL != "" {
			pictures = append(pictures, page.URL)
		}
	}
	return pictures, nil
}

// CheckUpdated implements feed.UpdateChecker from the front page.
func (s *Source) CheckUpdated(ctx context.Context, last []feed.LastChapter) ([]string, []string, error) {
	doc, err := s.client.GetDocument(ctx, feed.FetchRequest{URL: s.baseURL})
	if err != nil {
		return nil, nil, fmt.Errorf("asura updates: %w", err)
	}
	latest := make(map[string]string)
	doc.Find(`span[class*="hover:text-themecolor"]`).Each(func(_ int, span *goquery.Selection) {
		item := span.Parent()
		titleHref, ok := span.Find("a").First().Attr("href")
		if !ok {
			return
		}
		titleURL := source.Resolve(s.baseURL, titleHref)
		if _, seen := latest[titleURL]; seen {
			return
		}
		item.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			if !strings.Contains(href, "/chapter/") {
				return true
			}
			latest[titleURL] = source.Resolve(s.baseURL, href)
			return false
		})
	})
	updated, notUpdated := source.Partition(last, latest, false)
	return updated, notUpdated, nil
}
