package source

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/comicfeed/internal/feed"
	"github.com/JakeFAU/comicfeed/internal/metrics"
)

// Registry owns the enabled adapters in routing order.
type Registry struct {
	sources []feed.Source
	byName  map[string]feed.Source
	logger  *zap.Logger
}

// NewRegistry registers sources. Duplicate names are rejected.
func NewRegistry(logger *zap.Logger, sources ...feed.Source) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{byName: make(map[string]feed.Source, len(sources)), logger: logger}
	for _, s := range sources {
		if _, dup := r.byName[s.Name()]; dup {
			return nil, fmt.Errorf("register source %q: duplicate name", s.Name())
		}
		r.byName[s.Name()] = s
		r.sources = append(r.sources, s)
	}
	return r, nil
}

// SourceFor returns the first adapter claiming url.
func (r *Registry) SourceFor(url string) (feed.Source, bool) {
	for _, s := range r.sources {
		if s.ContainsURL(url) {
			return s, true
		}
	}
	return nil, false
}

// ByName looks an adapter up by its name.
func (r *Registry) ByName(name string) (feed.Source, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("source %q: %w", name, feed.ErrUnknownSource)
	}
	return s, nil
}

// Names lists adapter names in routing order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for _, s := range r.sources {
		names = append(names, s.Name())
	}
	return names
}

// Sources returns the adapters in routing order.
func (r *Registry) Sources() []feed.Source {
	return append([]feed.Source(nil), r.sources...)
}

// Search queries every adapter concurrently and ranks the merged results.
// A failing adapter is logged and skipped; the error is only returned when
// every adapter failed.
func (r *Registry) Search(ctx context.Context, query string) ([]feed.Title, error) {
	var (
		mu      sync.Mutex
		results []feed.Title
		errs    error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range r.sources {
		g.Go(func() error {
			titles, err := s.Search(gctx, query, 1)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.ObserveSourceError(s.Name(), "search")
				r.logger.Warn("search failed", zap.String("source", s.Name()), zap.Error(err))
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				return nil
			}
			results = append(results, titles...)
			return nil
		})
	}
	_ = g.Wait()
	if len(results) == 0 && len(multierr.Errors(errs)) == len(r.sources) && errs != nil {
		return nil, fmt.Errorf("search %q: %w", query, errs)
	}
	return Rank(query, results), nil
}

// Rank orders titles by relevance to query. Matches on whole title words
// outweigh substring matches, and an exact title match wins outright. Ties
// keep their input order.
func Rank(query string, titles []feed.Title) []feed.Title {
	q := normalize(query)
	terms := strings.Fields(q)
	scores := make([]int, len(titles))
	idx := make([]int, len(titles))
	for i, t := range titles {
		idx[i] = i
		scores[i] = score(q, terms, normalize(t.Name))
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	ranked := make([]feed.Title, len(titles))
	for i, j := range idx {
		ranked[i] = titles[j]
	}
	return ranked
}

func score(query string, terms []string, name string) int {
	if query == "" {
		return 0
	}
	total := 0
	if name == query {
		total += 100
	}
	if strings.Contains(name, query) {
		total += 20
	}
	words := make(map[string]struct{})
	for _, w := range strings.Fields(name) {
		words[w] = struct{}{}
	}
	for _, term := range terms {
		if _, ok := words[term]; ok {
			total += 5
		} else if strings.Contains(name, term) {
			total++
		}
	}
	return total
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
