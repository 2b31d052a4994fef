package search

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"deepresearch/config"
	"deepresearch/internal/helpers"
	"deepresearch/internal/research"
)

// WebSearcher is one search backend.
type WebSearcher interface {
	Name() string
	Discover(ctx context.Context, query string, limit int) ([]research.SearchResult, error)
}

// MultiSearcher implements research.Searcher by fanning a query out to
// every configured provider, deduplicating hits on canonical URL and
// keeping the best score per URL. Provider hits are scored by rank
// since the APIs return ordered lists without scores.
type MultiSearcher struct {
	providers []WebSearcher
	logger    *log.Logger
}

// NewMultiSearcher wires up the providers that have API keys. At least
// one provider is required.
func NewMultiSearcher(cfg config.SearchConfig, logger *log.Logger) (*MultiSearcher, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	httpc := NewHTTPClient(cfg.Timeout, 2, 300*time.Millisecond)
	var providers []WebSearcher
	if cfg.BraveAPIKey != "" {
		providers = append(providers, NewBraveClient(cfg.BraveAPIKey, httpc))
	}
	if cfg.SerperAPIKey != "" {
		providers = append(providers, NewSerperClient(cfg.SerperAPIKey, httpc))
	}
	if len(providers) == 0 {
		return nil, errors.New("no search providers configured (search.brave_api_key or search.serper_api_key)")
	}
	return &MultiSearcher{providers: providers, logger: logger}, nil
}

// NewMultiSearcherWith builds a searcher over explicit providers.
// Used by tests and custom wiring.
func NewMultiSearcherWith(logger *log.Logger, providers ...WebSearcher) *MultiSearcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	return &MultiSearcher{providers: providers, logger: logger}
}

func (m *MultiSearcher) Search(ctx context.Context, query string, limit int) ([]research.SearchResult, error) {
	if limit <= 0 {
		limit = 8
	}
	var mu sync.Mutex
	var all []research.SearchResult
	failures := 0

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range m.providers {
		p := p
		g.Go(func() error {
			results, err := p.Discover(gctx, query, limit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.logger.Printf("provider %s failed for %q: %v", p.Name(), query, err)
				failures++
				return nil
			}
			for i, r := range results {
				if r.Score <= 0 {
					r.Score = rankScore(i)
				}
				all = append(all, r)
			}
			return nil
		})
	}
	_ = g.Wait()
	if failures == len(m.providers) {
		return nil, errors.New("all search providers failed")
	}
	return dedupeSorted(all, limit), nil
}

// SearchMany runs several queries concurrently and merges their results.
func (m *MultiSearcher) SearchMany(ctx context.Context, queries []string, limit int) ([]research.SearchResult, error) {
	if limit <= 0 {
		limit = 8
	}
	var mu sync.Mutex
	var all []research.SearchResult
	failures := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, q := range queries {
		q := q
		g.Go(func() error {
			results, err := m.Search(gctx, q, limit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				return nil
			}
			all = append(all, results...)
			return nil
		})
	}
	_ = g.Wait()
	if len(queries) > 0 && failures == len(queries) {
		return nil, errors.New("all seed queries failed")
	}
	return dedupeSorted(all, limit*len(queries)), nil
}

// rankScore maps a provider's result position to a relevance estimate.
func rankScore(position int) float64 {
	s := 0.9 - 0.06*float64(position)
	if s < 0.3 {
		s = 0.3
	}
	return s
}

// dedupeSorted keeps the best-scored hit per canonical URL and returns
// them sorted by score descending, capped at limit.
func dedupeSorted(results []research.SearchResult, limit int) []research.SearchResult {
	best := make(map[string]research.SearchResult, len(results))
	order := make([]string, 0, len(results))
	for _, r := range results {
		key, err := helpers.CanonicalURL(r.URL)
		if err != nil {
			continue
		}
		prev, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = r
		} else if r.Score > prev.Score {
			best[key] = r
		}
	}
	out := make([]research.SearchResult, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
