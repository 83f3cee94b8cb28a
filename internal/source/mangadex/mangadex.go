// Package mangadex adapts the MangaDex JSON API.
package mangadex

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/JakeFAU/comicfeed/internal/feed"
	"github.com/JakeFAU/comicfeed/internal/source"
)

// Name is the adapter name used for routing and cache paths.
const Name = "mangadex"

const (
	searchPageSize = 20
	iterPageSize   = 500
	listPageSize   = 10
)

// Config points the adapter at the API. Zero values use the public hosts.
type Config struct {
	APIBase   string
	CoverBase string
	Language  string
}

// Source implements feed.Source for MangaDex.
type Source struct {
	client    *source.Client
	apiBase   string
	coverBase string
	language  string
}

// New builds the adapter.
func New(client *source.Client, cfg Config) *Source {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.mangadex.org"
	}
	if cfg.CoverBase == "" {
		cfg.CoverBase = "https://uploads.mangadex.org/covers"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &Source{
		client:    client,
		apiBase:   strings.TrimRight(cfg.APIBase, "/"),
		coverBase: strings.TrimRight(cfg.CoverBase, "/"),
		language:  cfg.Language,
	}
}

// Name implements feed.Source.
func (s *Source) Name() string { return Name }

// ContainsURL implements feed.Source.
func (s *Source) ContainsURL(u string) bool {
	return strings.HasPrefix(u, s.apiBase+"/")
}

type mangaList struct {
	Data []manga `json:"data"`
}

type manga struct {
	ID         string `json:"id"`
	Attributes struct {
		Title map[string]string `json:"title"`
	} `json:"attributes"`
	Relationships []struct {
		Type       string `json:"type"`
		Attributes struct {
			FileName string `json:"fileName"`
		} `json:"attributes"`
	} `json:"relationships"`
}

type chapterList struct {
	Data []chapter `json:"data"`
}

type chapter struct {
	ID         string `json:"id"`
	Attributes struct {
		Title   string `json:"title"`
		Chapter string `json:"chapter"`
		Volume  string `json:"volume"`
	} `json:"attributes"`
}

type atHome struct {
	BaseURL string `json:"baseUrl"`
	Chapter struct {
		Hash string   `json:"hash"`
		Data []string `json:"data"`
	} `json:"chapter"`
}

// Search implements feed.Source.
func (s *Source) Search(ctx context.Context, query string, page int) ([]feed.Title, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(searchPageSize))
	params.Set("offset", strconv.Itoa((page-1)*searchPageSize))
	params.Add("includes[]", "cover_art")
	for _, rating := range []string{"safe", "suggestive", "erotica"} {
		params.Add("contentRating[]", rating)
	}
	params.Set("title", query)
	params.Set("order[relevance]", "desc")

	var list mangaList
	if err := s.client.GetJSON(ctx, s.apiBase+"/manga?"+params.Encode(), &list); err != nil {
		return nil, fmt.Errorf("mangadex search: %w", err)
	}
	titles := make([]feed.Title, 0, len(list.Data))
	for _, m := range list.Data {
		title := feed.Title{
			Name:   titleName(m.Attributes.Title),
			URL:    fmt.Sprintf("%s/manga/%s/feed", s.apiBase, m.ID),
			Source: Name,
		}
		for _, rel := range m.Relationships {
			if rel.Type == "cover_art" && rel.Attributes.FileName != "" {
				title.CoverURL = fmt.Sprintf("%s/%s/%s.512.jpg", s.coverBase, m.ID, rel.Attributes.FileName)
				break
			}
		}
		titles = append(titles, title)
	}
	return titles, nil
}

// Chapters implements feed.Source with ten chapters per page.
func (s *Source) Chapters(ctx context.Context, title feed.Title, page int) ([]feed.Chapter, error) {
	chapters, _, err := s.feedPage(ctx, title, page, listPageSize, make(map[string]struct{}))
	return chapters, err
}

// IterChapters implements feed.Source. Chapter numbers repeated by several
// scanlation groups are yielded once.
func (s *Source) IterChapters(_ context.Context, titleURL, titleName string) feed.ChapterIterator {
	title := feed.Title{Name: titleName, URL: titleURL, Source: Name}
	seen := make(map[string]struct{})
	next := 1
	// A full page made only of repeats must not end iteration, so the
	// offset is tracked here rather than taken from the iterator.
	return feed.NewPagedIterator(1, func(ctx context.Context, _ int) ([]feed.Chapter, error) {
		for {
			chapters, raw, err := s.feedPage(ctx, title, next, iterPageSize, seen)
			if err != nil {
				return nil, err
			}
			next++
			if len(chapters) > 0 || raw < iterPageSize {
				return chapters, nil
			}
		}
	})
}

func (s *Source) feedPage(ctx context.Context, title feed.Title, page, count int, seen map[string]struct{}) ([]feed.Chapter, int, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(count))
	params.Set("offset", strconv.Itoa((page-1)*count))
	params.Add("includes[]", "scanlation_group")
	params.Set("order[volume]", "desc")
	params.Set("order[chapter]", "desc")
	for _, rating := range []string{"safe", "suggestive", "erotica", "pornographic"} {
		params.Add("contentRating[]", rating)
	}
	params.Add("translatedLanguage[]", s.language)

	var list chapterList
	if err := s.client.GetJSON(ctx, title.URL+"?"+params.Encode(), &list); err != nil {
		return nil, 0, fmt.Errorf("mangadex chapters: %w", err)
	}
	chapters := make([]feed.Chapter, 0, len(list.Data))
	for _, c := range list.Data {
		if _, dup := seen[c.Attributes.Chapter]; dup {
			continue
		}
		seen[c.Attributes.Chapter] = struct{}{}
		name := c.Attributes.Chapter
		if c.Attributes.Title != "" {
			name = fmt.Sprintf("%s - %s", c.Attributes.Chapter, c.Attributes.Title)
		}
		chapters = append(chapters, feed.Chapter{
			Name:   name,
			URL:    fmt.Sprintf("%s/at-home/server/%s?forcePort443=false", s.apiBase, c.ID),
			Title:  title,
			Source: Name,
		})
	}
	return chapters, len(list.Data), nil
}

// Pictures implements feed.Source by asking the at-home server for the page list.
func (s *Source) Pictures(ctx context.Context, ch feed.Chapter) ([]string, error) {
	var home atHome
	if err := s.client.GetJSON(ctx, ch.URL, &home); err != nil {
		return nil, fmt.Errorf("mangadex at-home: %w", err)
	}
	pictures := make([]string, 0, len(home.Chapter.Data))
	for _, file := range home.Chapter.Data {
		pictures = append(pictures, fmt.Sprintf("%s/data/%s/%s", home.BaseURL, home.Chapter.Hash, file))
	}
	return pictures, nil
}

func titleName(titles map[string]string) string {
	if name, ok := titles["en"]; ok {
		return name
	}
	keys := make([]string, 0, len(titles))
	for k := range titles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return titles[keys[0]]
}
