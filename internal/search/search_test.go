package search

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"

	"deepresearch/internal/research"
)

type fakeProvider struct {
	name    string
	results []research.SearchResult
	err     error
	calls   int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Discover(_ context.Context, _ string, _ int) ([]research.SearchResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.results, f.err
}

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestSearchMergesAndDedupes(t *testing.T) {
	a := &fakeProvider{name: "brave", results: []research.SearchResult{
		{Title: "One", URL: "https://example.com/one", Source: "brave"},
		{Title: "Two", URL: "https://example.com/two", Source: "brave"},
	}}
	b := &fakeProvider{name: "serper", results: []research.SearchResult{
		{Title: "One again", URL: "https://EXAMPLE.com/one?utm_source=x", Source: "serper"},
		{Title: "Three", URL: "https://example.com/three", Source: "serper"},
	}}
	m := NewMultiSearcherWith(testLogger(), a, b)

	got, err := m.Search(context.Background(), "q", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 deduped results, got %d: %+v", len(got), got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Fatalf("results not sorted by score desc: %+v", got)
		}
	}
}

func TestSearchToleratesPartialFailure(t *testing.T) {
	ok := &fakeProvider{name: "brave", results: []research.SearchResult{
		{Title: "Hit", URL: "https://example.com/hit"},
	}}
	bad := &fakeProvider{name: "serper", err: errors.New("quota exceeded")}
	m := NewMultiSearcherWith(testLogger(), ok, bad)

	got, err := m.Search(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("one healthy provider should succeed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
}

func TestSearchAllProvidersFailed(t *testing.T) {
	m := NewMultiSearcherWith(testLogger(),
		&fakeProvider{name: "brave", err: errors.New("down")},
		&fakeProvider{name: "serper", err: errors.New("down")},
	)
	if _, err := m.Search(context.Background(), "q", 5); err == nil {
		t.Fatal("expected error when every provider fails")
	}
}

func TestSearchManyMergesQueries(t *testing.T) {
	p := &fakeProvider{name: "brave", results: []research.SearchResult{
		{Title: "Hit", URL: "https://example.com/hit"},
	}}
	m := NewMultiSearcherWith(testLogger(), p)

	got, err := m.SearchMany(context.Background(), []string{"a", "b", "c"}, 5)
	if err != nil {
		t.Fatalf("SearchMany: %v", err)
	}
	// same URL from every query collapses to one entry
	if len(got) != 1 {
		t.Fatalf("expected 1 deduped result, got %d", len(got))
	}
	if got := atomic.LoadInt32(&p.calls); got != 3 {
		t.Fatalf("expected 3 provider calls, got %d", got)
	}
}

func TestRankScore(t *testing.T) {
	if rankScore(0) != 0.9 {
		t.Fatalf("first hit should score 0.9, got %v", rankScore(0))
	}
	if rankScore(3) >= rankScore(2) {
		t.Fatal("scores must decay with position")
	}
	if rankScore(50) != 0.3 {
		t.Fatalf("deep hits floor at 0.3, got %v", rankScore(50))
	}
}

func TestDedupeSortedLimit(t *testing.T) {
	in := []research.SearchResult{
		{URL: "https://example.com/a", Score: 0.5},
		{URL: "https://example.com/b", Score: 0.9},
		{URL: "https://example.com/c", Score: 0.7},
		{URL: "not a url", Score: 1.0},
	}
	out := dedupeSorted(in, 2)
	if len(out) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(out))
	}
	if out[0].Score != 0.9 || out[1].Score != 0.7 {
		t.Fatalf("unexpected order: %+v", out)
	}
}
