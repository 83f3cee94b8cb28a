package source

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

// Resolve joins ref onto base, returning ref unchanged when either fails to parse.
func Resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// PageSlice returns the 1-based page of size n from chapters.
func PageSlice(chapters []feed.Chapter, page, n int) []feed.Chapter {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * n
	if start >= len(chapters) {
		return []feed.Chapter{}
	}
	end := min(start+n, len(chapters))
	return chapters[start:end]
}

// Partition splits last into updated and not-updated title URLs by comparing
// each watermark with the newest chapter a site feed lists for the title.
// Titles missing from latest land in neither slice unless absentNotUpdated.
func Partition(last []feed.LastChapter, latest map[string]string, absentNotUpdated bool) (updated, notUpdated []string) {
	for _, lc := range last {
		newest, listed := latest[lc.TitleURL]
		switch {
		case !listed && absentNotUpdated:
			notUpdated = append(notUpdated, lc.TitleURL)
		case !listed:
		case newest != lc.ChapterURL:
			updated = append(updated, lc.TitleURL)
		default:
			notUpdated = append(notUpdated, lc.TitleURL)
		}
	}
	return updated, notUpdated
}
