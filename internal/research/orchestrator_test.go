package research

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deepresearch/config"
)

// ---- stubs shared across the package tests ----

type stubOracle struct {
	scoreFn  func(query, content string) (float64, error)
	rankFn   func(cands []LinkCandidate) ([]LinkCandidate, error)
	decideFn func(stats CrawlStats) (Decision, error)
	assessFn func(stats CrawlStats) (Completeness, error)
	synthFn  func(query string, items []ContentItem) (Synthesis, error)

	synthCalls int32
}

func (s *stubOracle) ScoreRelevance(_ context.Context, query, content string) (float64, error) {
	if s.scoreFn != nil {
		return s.scoreFn(query, content)
	}
	return 0.75, nil
}

func (s *stubOracle) RankLinks(_ context.Context, _ string, cands []LinkCandidate, _ string) ([]LinkCandidate, error) {
	if s.rankFn != nil {
		return s.rankFn(cands)
	}
	out := make([]LinkCandidate, len(cands))
	copy(out, cands)
	for i := range out {
		out[i].Score = 0.7
	}
	return out, nil
}

func (s *stubOracle) DecideContinue(_ context.Context, stats CrawlStats) (Decision, error) {
	if s.decideFn != nil {
		return s.decideFn(stats)
	}
	return Decision{Continue: false, Reason: "stub", Confidence: 0.9}, nil
}

func (s *stubOracle) AssessCompleteness(_ context.Context, stats CrawlStats) (Completeness, error) {
	if s.assessFn != nil {
		return s.assessFn(stats)
	}
	return Completeness{IsComplete: false, Confidence: 0.4}, nil
}

func (s *stubOracle) Synthesize(_ context.Context, query string, items []ContentItem) (Synthesis, error) {
	atomic.AddInt32(&s.synthCalls, 1)
	if s.synthFn != nil {
		return s.synthFn(query, items)
	}
	return Synthesis{Answer: fmt.Sprintf("answer from %d sources", len(items)), Confidence: 0.8}, nil
}

type stubFetcher struct {
	delay   time.Duration
	onFetch func(url string)
	pages   map[string]PageRecord

	inflight    int32
	maxInflight int32
	fetched     int32
}

func (f *stubFetcher) Acquire(context.Context) error { return nil }
func (f *stubFetcher) Release()                      {}

func (f *stubFetcher) FetchPage(_ context.Context, url string, depth int) PageRecord {
	cur := atomic.AddInt32(&f.inflight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInflight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInflight, max, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.onFetch != nil {
		f.onFetch(url)
	}
	atomic.AddInt32(&f.inflight, -1)
	atomic.AddInt32(&f.fetched, 1)
	if rec, ok := f.pages[url]; ok {
		rec.URL = url
		rec.Depth = depth
		return rec
	}
	return PageRecord{URL: url, Title: "page " + url, Content: "content of " + url, Depth: depth}
}

func (f *stubFetcher) FetchMany(ctx context.Context, urls []string, depth int) []PageRecord {
	out := make([]PageRecord, 0, len(urls))
	for _, u := range urls {
		out = append(out, f.FetchPage(ctx, u, depth))
	}
	return out
}

type stubSearcher struct {
	results []SearchResult
	err     error
}

func (s *stubSearcher) Search(_ context.Context, _ string, _ int) ([]SearchResult, error) {
	return s.results, s.err
}

func (s *stubSearcher) SearchMany(_ context.Context, _ []string, _ int) ([]SearchResult, error) {
	return s.results, s.err
}

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	pages    map[string][]PageRecord
	history  []*Session
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]*Session{}, pages: map[string][]PageRecord{}}
}

func (m *memStore) SaveSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) SavePage(_ context.Context, sessionID string, p PageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[sessionID] = append(m.pages[sessionID], p)
	return nil
}

func (m *memStore) SaveFinalAnswer(_ context.Context, sessionID, answer, summary string, confidence float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.FinalAnswer = answer
		s.Summary = summary
		s.Confidence = confidence
	}
	return nil
}

func (m *memStore) AppendHistory(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.history = append([]*Session{&cp}, m.history...)
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, errors.New("not found")
}

func (m *memStore) History(_ context.Context, limit int) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	return m.history[:limit], nil
}

func testConfig() *config.Config {
	return &config.Config{
		Crawl: config.CrawlConfig{
			MaxDepth:           4,
			MaxPagesPerDepth:   5,
			MaxTotalPages:      20,
			MaxConcurrentPages: 2,
			SynthesisChunkSize: 20,
			HistoryLimit:       100,
		},
		Search: config.SearchConfig{MaxResults: 5},
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestEngine(cfg *config.Config, o Oracle, f Fetcher, s Searcher, st Storage) *Engine {
	return NewEngine(cfg, o, f, s, st, NopSink{}, nil, quietLogger())
}

// ---- engine tests ----

func TestRunEmptyQuery(t *testing.T) {
	e := newTestEngine(testConfig(), &stubOracle{}, &stubFetcher{}, &stubSearcher{}, newMemStore())
	if _, err := e.Run(context.Background(), "   "); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestRunCompletesAndPersists(t *testing.T) {
	store := newMemStore()
	searcher := &stubSearcher{results: []SearchResult{
		{URL: "https://a.example/1", Score: 0.9, Source: "brave"},
		{URL: "https://b.example/2", Score: 0.6, Source: "serper"},
	}}
	oracle := &stubOracle{
		// no links survive ranking, so the crawl ends after depth 1
		rankFn: func(cands []LinkCandidate) ([]LinkCandidate, error) { return nil, nil },
	}
	e := newTestEngine(testConfig(), oracle, &stubFetcher{}, searcher, store)

	sess, err := e.Run(context.Background(), "test query")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sess.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", sess.Status)
	}
	if sess.TotalPages != 2 {
		t.Fatalf("expected 2 pages, got %d", sess.TotalPages)
	}
	if sess.MaxDepthReached != 1 {
		t.Fatalf("expected max depth 1, got %d", sess.MaxDepthReached)
	}
	if sess.FinalAnswer == "" || sess.Confidence <= 0 {
		t.Fatalf("expected synthesized answer, got %+v", sess)
	}
	if sess.EndTime.IsZero() {
		t.Fatal("expected end time to be set")
	}
	stored, err := store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Fatalf("persisted session status %s", stored.Status)
	}
	if len(store.history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(store.history))
	}
	if len(store.pages[sess.ID]) != 2 {
		t.Fatalf("expected 2 saved pages, got %d", len(store.pages[sess.ID]))
	}
}

func TestRunSeedFailureFinalizesFailed(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(testConfig(), &stubOracle{}, &stubFetcher{}, &stubSearcher{err: errors.New("providers down")}, store)
	sess, err := e.Run(context.Background(), "query")
	if err != nil {
		t.Fatalf("Run should not error on seed failure: %v", err)
	}
	if sess.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", sess.Status)
	}
	if sess.EndTime.IsZero() {
		t.Fatal("failed session must still get an end time")
	}
	if len(store.history) != 1 {
		t.Fatalf("failed session must be appended to history, got %d entries", len(store.history))
	}
}

func TestRunOracleOutageFallsBackEverywhere(t *testing.T) {
	boom := errors.New("oracle unreachable")
	oracle := &stubOracle{
		scoreFn:  func(string, string) (float64, error) { return 0, boom },
		rankFn:   func([]LinkCandidate) ([]LinkCandidate, error) { return nil, boom },
		decideFn: func(CrawlStats) (Decision, error) { return Decision{}, boom },
		assessFn: func(CrawlStats) (Completeness, error) { return Completeness{}, boom },
		synthFn:  func(string, []ContentItem) (Synthesis, error) { return Synthesis{}, boom },
	}
	searcher := &stubSearcher{results: []SearchResult{{URL: "https://a.example/1", Score: 0.9}}}
	store := newMemStore()
	e := newTestEngine(testConfig(), oracle, &stubFetcher{}, searcher, store)

	sess, err := e.Run(context.Background(), "query")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sess.Status != StatusCompleted {
		t.Fatalf("oracle outage must still complete, got %s", sess.Status)
	}
	if sess.Confidence != 0.1 {
		t.Fatalf("expected fallback confidence 0.1, got %v", sess.Confidence)
	}
	pages := store.pages[sess.ID]
	if len(pages) != 1 || pages[0].RelevanceScore != 0.5 {
		t.Fatalf("expected default relevance 0.5 on scored page, got %+v", pages)
	}
}

func TestRunCompletenessOverrideStops(t *testing.T) {
	oracle := &stubOracle{
		assessFn: func(CrawlStats) (Completeness, error) {
			return Completeness{IsComplete: true, Confidence: 0.95}, nil
		},
		decideFn: func(CrawlStats) (Decision, error) {
			t.Fatal("decideContinue must not be consulted when the completeness override fires")
			return Decision{}, nil
		},
	}
	searcher := &stubSearcher{results: []SearchResult{{URL: "https://a.example/1", Score: 0.9}}}
	fetcher := &stubFetcher{pages: map[string]PageRecord{
		"https://a.example/1": {Content: "seed page", ExtractedLinks: []LinkCandidate{
			{URL: "https://a.example/l1"}, {URL: "https://a.example/l2"},
		}},
	}}
	e := newTestEngine(testConfig(), oracle, fetcher, searcher, newMemStore())

	sess, err := e.Run(context.Background(), "query")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sess.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", sess.Status)
	}
	if sess.MaxDepthReached != 1 {
		t.Fatalf("override should have stopped after depth 1, got %d", sess.MaxDepthReached)
	}
}

func TestRunForceContinueOverride(t *testing.T) {
	decided := false
	oracle := &stubOracle{
		decideFn: func(stats CrawlStats) (Decision, error) {
			decided = true
			return Decision{Continue: false}, nil
		},
	}
	// depth 1, one page collected, pending links: the shallow-crawl
	// override must continue without asking the oracle.
	searcher := &stubSearcher{results: []SearchResult{{URL: "https://a.example/1", Score: 0.9}}}
	fetcher := &stubFetcher{pages: map[string]PageRecord{
		"https://a.example/1": {Content: "seed page", ExtractedLinks: []LinkCandidate{
			{URL: "https://a.example/l1"}, {URL: "https://a.example/l2"},
		}},
	}}
	cfg := testConfig()
	cfg.Crawl.MaxDepth = 2
	e := newTestEngine(cfg, oracle, fetcher, searcher, newMemStore())

	sess, err := e.Run(context.Background(), "query")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if decided {
		t.Fatal("oracle decideContinue should have been bypassed by the force-continue override")
	}
	if sess.MaxDepthReached != 2 {
		t.Fatalf("expected crawl to reach depth 2, got %d", sess.MaxDepthReached)
	}
}

func TestRunStopCancelsSession(t *testing.T) {
	store := newMemStore()
	searcher := &stubSearcher{results: []SearchResult{
		{URL: "https://a.example/1", Score: 0.9},
		{URL: "https://a.example/2", Score: 0.8},
		{URL: "https://a.example/3", Score: 0.7},
		{URL: "https://a.example/4", Score: 0.6},
	}}
	cfg := testConfig()
	cfg.Crawl.MaxConcurrentPages = 1
	var e *Engine
	fetcher := &stubFetcher{onFetch: func(string) { e.Stop() }}
	e = newTestEngine(cfg, &stubOracle{}, fetcher, searcher, store)

	sess, err := e.Run(context.Background(), "query")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sess.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", sess.Status)
	}
	if sess.FinalAnswer != "" {
		t.Fatal("cancelled session must not synthesize an answer")
	}
	if got := atomic.LoadInt32(&fetcher.fetched); got != 1 {
		t.Fatalf("stop at sub-batch boundary should leave 1 fetch, got %d", got)
	}
	if len(store.history) != 1 {
		t.Fatalf("cancelled session must land in history, got %d", len(store.history))
	}
}

func TestRunRejectsConcurrentSessions(t *testing.T) {
	searcher := &stubSearcher{results: []SearchResult{{URL: "https://a.example/1", Score: 0.9}}}
	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := &stubFetcher{onFetch: func(string) {
		close(started)
		<-release
	}}
	e := newTestEngine(testConfig(), &stubOracle{}, fetcher, searcher, newMemStore())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := e.Run(context.Background(), "first"); err != nil {
			t.Errorf("first run: %v", err)
		}
	}()
	<-started
	if _, err := e.Run(context.Background(), "second"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	close(release)
	<-done
}

func TestContentItemsFallsBackBelowFloor(t *testing.T) {
	pages := []PageRecord{
		{URL: "a", Content: "x", RelevanceScore: 0.4},
		{URL: "b", Content: "y", RelevanceScore: 0.5},
		{URL: "c", Content: "", RelevanceScore: 0.9},
		{URL: "d", Content: "z", RelevanceScore: 0.3, Error: "timeout"},
	}
	items := contentItems(pages)
	if len(items) != 2 {
		t.Fatalf("expected the 2 successful pages with content, got %d", len(items))
	}
	pages[0].RelevanceScore = 0.8
	items = contentItems(pages)
	if len(items) != 1 || items[0].URL != "a" {
		t.Fatalf("expected only the page above the floor, got %+v", items)
	}
}
