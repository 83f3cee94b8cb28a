// Package detector decides when a source page must be re-fetched with a
// headless browser.
package detector

import (
	"bytes"
	"net/http"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

const defaultThreshold = 2048

// Heuristic promotes pages that look like empty client-rendered shells or
// JavaScript challenges.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector. A zero threshold uses 2 KiB.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var (
	shellMarkers = [][]byte{
		[]byte(`id="__next"`),
		[]byte(`id="root"`),
		[]byte(`id="app"`),
		[]byte("data-reactroot"),
	}
	// Pages carrying these already hold their data inline.
	inlineDataMarkers = [][]byte{
		[]byte("self.__next_f.push"),
		[]byte(`id="__NEXT_DATA__"`),
	}
	challengeMarkers = [][]byte{
		[]byte("cf-browser-verification"),
		[]byte("challenge-platform"),
		[]byte("<title>Just a moment...</title>"),
	}
)

// ShouldPromote implements feed.HeadlessDetector.
func (h *Heuristic) ShouldPromote(resp feed.FetchResponse) bool {
	body := resp.Body
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusServiceUnavailable:
		return containsAny(body, challengeMarkers)
	default:
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if containsAny(body, challengeMarkers) {
		return true
	}
	if containsAny(body, inlineDataMarkers) {
		return false
	}
	if len(body) < h.BodyLengthThreshold && scriptShare(body) >= 25 {
		return true
	}
	return containsAny(body, shellMarkers)
}

func containsAny(body []byte, markers [][]byte) bool {
	for _, marker := range markers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of body bytes inside <script> elements.
// An unterminated element counts to the end of the body.
func scriptShare(body []byte) int {
	lower := bytes.ToLower(body)
	total := len(lower)
	if total == 0 {
		return 0
	}
	covered := 0
	rest := lower
	for {
		start := bytes.Index(rest, []byte("<script"))
		if start < 0 {
			break
		}
		end := bytes.Index(rest[start:], []byte("</script>"))
		if end < 0 {
			covered += len(rest) - start
			break
		}
		end += start + len("</script>")
		covered += end - start
		rest = rest[end:]
	}
	return covered * 100 / total
}
