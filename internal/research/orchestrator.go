package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"deepresearch/config"
	"deepresearch/internal/telemetry"
)

var (
	// ErrAlreadyRunning is returned when Run is called while a session
	// is in flight on the same engine.
	ErrAlreadyRunning = errors.New("research session already in progress")
	// ErrEmptyQuery is returned for blank queries.
	ErrEmptyQuery = errors.New("query must not be empty")
)

// Pages below this relevance are excluded from synthesis input.
const contentRelevanceFloor = 0.6

// Pages at or above this relevance count as high quality for
// continuation decisions.
const highQualityRelevance = 0.7

// Engine drives one research session at a time: seed the frontier from
// search, crawl depth by depth under the scheduler, expand links through
// the oracle, decide continuation, synthesize, finalize.
type Engine struct {
	cfg      *config.Config
	logger   *log.Logger
	tele     *telemetry.Telemetry
	oracle   Oracle
	fetcher  Fetcher
	searcher Searcher
	storage  Storage
	sink     Sink
	sched    *FetchScheduler
	synth    *Synthesizer

	running atomic.Bool
	stop    atomic.Bool
	skip    atomic.Bool
}

func NewEngine(cfg *config.Config, oracle Oracle, fetcher Fetcher, searcher Searcher, storage Storage, sink Sink, tele *telemetry.Telemetry, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	if sink == nil {
		sink = NopSink{}
	}
	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		tele:     tele,
		oracle:   oracle,
		fetcher:  fetcher,
		searcher: searcher,
		storage:  storage,
		sink:     sink,
	}
	e.sched = NewFetchScheduler(fetcher, cfg.Crawl.MaxConcurrentPages, cfg.Crawl.PolitenessMin, cfg.Crawl.PolitenessMax,
		log.New(logger.Writer(), "[SCHED] ", log.LstdFlags))
	e.synth = NewSynthesizer(oracle, cfg.Crawl.SynthesisChunkSize,
		log.New(logger.Writer(), "[SYNTH] ", log.LstdFlags), e.oracleFallback)
	return e
}

// Stop requests cancellation. Honored at sub-batch and depth
// boundaries; the session finalizes as cancelled.
func (e *Engine) Stop() { e.stop.Store(true) }

// SkipDepth abandons the rest of the current depth's fetches. Later
// depths are unaffected.
func (e *Engine) SkipDepth() { e.skip.Store(true) }

// Running reports whether a session is in flight.
func (e *Engine) Running() bool { return e.running.Load() }

// Run researches the query to a terminal session. Recoverable failures
// (oracle outages, fetch errors, storage hiccups) degrade the result
// rather than surfacing as errors; the returned error covers only
// rejected invocations.
func (e *Engine) Run(ctx context.Context, query string) (*Session, error) {
	return e.RunSession(ctx, uuid.NewString(), query)
}

// RunSession is Run with a caller-chosen session ID, so an API layer
// can hand the ID out before the session finishes.
func (e *Engine) RunSession(ctx context.Context, id, query string) (sess *Session, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer e.running.Store(false)
	e.stop.Store(false)
	e.skip.Store(false)

	sess = &Session{
		ID:        id,
		Query:     query,
		Status:    StatusRunning,
		StartTime: time.Now(),
	}
	var tokenBase int64
	var costBase float64
	if tr, ok := e.oracle.(TokenReporter); ok {
		tokenBase = tr.TokensUsed()
		costBase = tr.CostAccrued()
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("panic during research session %s: %v", sess.ID, r)
			e.finalize(ctx, sess, StatusFailed, tokenBase, costBase)
			err = nil
		}
	}()

	e.emit("session", fmt.Sprintf("research started: %q", query), map[string]any{"session_id": sess.ID})
	e.persistSession(ctx, sess)

	if acquireErr := e.fetcher.Acquire(ctx); acquireErr != nil {
		e.logger.Printf("fetcher acquire failed: %v", acquireErr)
		sess.Metadata.ErrorCount++
		e.finalize(ctx, sess, StatusFailed, tokenBase, costBase)
		return sess, nil
	}
	defer e.fetcher.Release()

	frontier := NewFrontier()
	if e.seed(ctx, frontier, sess) == 0 {
		e.emit("session", "no seed results, aborting", nil)
		e.finalize(ctx, sess, StatusFailed, tokenBase, costBase)
		return sess, nil
	}

	var pages []PageRecord
	cancelled := false
	for depth := 1; depth <= e.cfg.Crawl.MaxDepth; depth++ {
		if e.stop.Load() {
			cancelled = true
			break
		}
		limit := e.cfg.Crawl.MaxPagesPerDepth
		if budget := e.cfg.Crawl.MaxTotalPages - sess.TotalPages; budget < limit {
			limit = budget
		}
		batch := frontier.DequeueBatch(depth, limit)
		if len(batch) == 0 {
			e.emit("crawl", fmt.Sprintf("no pending links at depth %d, stopping", depth), nil)
			break
		}
		sess.MaxDepthReached = depth
		e.emit("crawl", fmt.Sprintf("depth %d: fetching %d pages", depth, len(batch)), map[string]any{"depth": depth, "batch": len(batch)})

		records := e.sched.FetchBatch(ctx, batch, depth, &e.stop, &e.skip)
		for i := range records {
			pages = append(pages, e.processPage(ctx, sess, frontier, records[i]))
		}
		e.skip.Store(false)

		if e.stop.Load() {
			cancelled = true
			break
		}
		if sess.TotalPages >= e.cfg.Crawl.MaxTotalPages {
			e.emit("crawl", "total page budget reached", nil)
			break
		}
		if frontier.PendingAt(depth+1) == 0 {
			e.emit("crawl", fmt.Sprintf("frontier exhausted after depth %d", depth), nil)
			break
		}
		stats := crawlStats(query, depth, pages, frontier, sess.Metadata.ErrorCount)
		dec := e.decideContinue(ctx, depth, stats)
		e.emit("decision", fmt.Sprintf("depth %d: continue=%v (%s)", depth, dec.Continue, dec.Reason),
			map[string]any{"depth": depth, "continue": dec.Continue, "confidence": dec.Confidence})
		if !dec.Continue {
			break
		}
	}

	if cancelled {
		e.finalize(ctx, sess, StatusCancelled, tokenBase, costBase)
		return sess, nil
	}

	items := contentItems(pages)
	e.emit("synthesis", fmt.Sprintf("synthesizing answer from %d sources", len(items)), map[string]any{"sources": len(items)})
	syn := e.synth.Synthesize(ctx, query, items)
	sess.FinalAnswer = syn.Answer
	sess.Summary = syn.Summary
	sess.Confidence = clamp01(syn.Confidence)
	if saveErr := e.storage.SaveFinalAnswer(ctx, sess.ID, syn.Answer, syn.Summary, sess.Confidence); saveErr != nil {
		e.logger.Printf("save final answer: %v", saveErr)
	}
	e.finalize(ctx, sess, StatusCompleted, tokenBase, costBase)
	return sess, nil
}

// seed fills depth 1 of the frontier from the search providers. Returns
// the number of URLs enqueued.
func (e *Engine) seed(ctx context.Context, frontier *Frontier, sess *Session) int {
	queries := seedQueries(sess.Query)
	results, err := e.searcher.SearchMany(ctx, queries, e.cfg.Search.MaxResults)
	if err != nil {
		e.logger.Printf("seed search failed: %v", err)
		sess.Metadata.ErrorCount++
		return 0
	}
	added := 0
	for _, r := range results {
		score := r.Score
		if score <= 0 {
			score = 0.5
		}
		if frontier.Enqueue(FrontierEntry{URL: r.URL, Relevance: clamp01(score), Depth: 1, Source: "search:" + r.Source}) {
			added++
		}
	}
	sess.Metadata.TotalLinksFound += added
	e.emit("search", fmt.Sprintf("seeded frontier with %d urls from %d queries", added, len(queries)), map[string]any{"seeds": added})
	return added
}

func seedQueries(q string) []string {
	return []string{q, q + " overview", q + " latest developments"}
}

// processPage scores a fetched page and expands its links into the next
// depth. Failed fetches are recorded with floor relevance and counted,
// never propagated.
func (e *Engine) processPage(ctx context.Context, sess *Session, frontier *Frontier, rec PageRecord) PageRecord {
	if rec.Error != "" {
		sess.Metadata.ErrorCount++
		e.tele.RecordPageFetch(true)
		if rec.RelevanceScore == 0 {
			rec.RelevanceScore = 0.1
		}
		e.emit("fetch", fmt.Sprintf("fetch failed: %s (%s)", rec.URL, rec.Error), map[string]any{"url": rec.URL})
	} else {
		e.tele.RecordPageFetch(false)
		rec.RelevanceScore = safeCall(ctx, "scoreRelevance",
			func(ctx context.Context) (float64, error) {
				s, err := e.oracle.ScoreRelevance(ctx, sess.Query, rec.Content)
				if err != nil {
					return 0, err
				}
				return clamp01(s), nil
			},
			func() float64 { return 0.5 },
			e.oracleFallback,
		)
		added := e.expandLinks(ctx, sess.Query, frontier, rec)
		sess.Metadata.TotalLinksFound += added
		e.emit("fetch", fmt.Sprintf("fetched %s (relevance %.2f, %d links queued)", rec.URL, rec.RelevanceScore, added),
			map[string]any{"url": rec.URL, "relevance": rec.RelevanceScore, "links": added})
	}
	sess.TotalPages++
	if err := e.storage.SavePage(ctx, sess.ID, rec); err != nil {
		e.logger.Printf("save page %s: %v", rec.URL, err)
	}
	return rec
}

// expandLinks ranks a page's extracted links, filters them by the
// depth's relevance threshold, truncates to the page's adaptive link
// allowance and enqueues the survivors for the next depth.
func (e *Engine) expandLinks(ctx context.Context, query string, frontier *Frontier, rec PageRecord) int {
	next := rec.Depth + 1
	if len(rec.ExtractedLinks) == 0 || next > e.cfg.Crawl.MaxDepth {
		return 0
	}
	ranked := safeCall(ctx, "rankLinks",
		func(ctx context.Context) ([]LinkCandidate, error) {
			out, err := e.oracle.RankLinks(ctx, query, rec.ExtractedLinks, pageContext(rec))
			if err != nil {
				return nil, err
			}
			for i := range out {
				out[i].Score = clamp01(out[i].Score)
			}
			return out, nil
		},
		func() []LinkCandidate {
			// Candidates pass through unscored; give each the neutral
			// default so threshold filtering stays meaningful.
			out := make([]LinkCandidate, len(rec.ExtractedLinks))
			copy(out, rec.ExtractedLinks)
			for i := range out {
				out[i].Score = 0.5
			}
			return out
		},
		e.oracleFallback,
	)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	threshold := RelevanceThresholdForDepth(rec.Depth)
	limit := LinkLimitForDepth(rec.Depth, rec.RelevanceScore)
	kept := make([]LinkCandidate, 0, limit)
	for _, c := range ranked {
		if c.Score < threshold {
			continue
		}
		kept = append(kept, c)
		if len(kept) >= limit {
			break
		}
	}
	added := 0
	for _, c := range kept {
		if frontier.Enqueue(FrontierEntry{URL: c.URL, Relevance: c.Score, Depth: next, Source: rec.URL}) {
			added++
		}
	}
	return added
}

// decideContinue resolves whether the crawl advances past the given
// depth. Safety overrides trump the oracle in both directions, and an
// oracle failure falls back to the deterministic heuristic.
func (e *Engine) decideContinue(ctx context.Context, depth int, stats CrawlStats) Decision {
	comp := safeCall(ctx, "assessCompleteness",
		func(ctx context.Context) (Completeness, error) {
			c, err := e.oracle.AssessCompleteness(ctx, stats)
			if err != nil {
				return Completeness{}, err
			}
			c.Confidence = clamp01(c.Confidence)
			return c, nil
		},
		func() Completeness {
			return Completeness{IsComplete: stats.PagesCollected >= 10, Confidence: 0.5}
		},
		e.oracleFallback,
	)

	if depth >= maxAdaptiveDepth || comp.Confidence >= completenessStopScore {
		return Decision{
			Continue:   false,
			Reason:     fmt.Sprintf("safety stop: depth=%d completeness=%.2f", depth, comp.Confidence),
			Confidence: 1,
		}
	}
	if depth <= 2 && stats.PagesCollected < 5 && stats.PendingLinks > 0 {
		return Decision{
			Continue:   true,
			Reason:     "safety continue: shallow crawl with thin evidence",
			Confidence: 1,
		}
	}
	return safeCall(ctx, "decideContinue",
		func(ctx context.Context) (Decision, error) {
			d, err := e.oracle.DecideContinue(ctx, stats)
			if err != nil {
				return Decision{}, err
			}
			d.Confidence = clamp01(d.Confidence)
			return d, nil
		},
		func() Decision { return continueHeuristic(stats) },
		e.oracleFallback,
	)
}

// finalize moves the session into a terminal state exactly once and
// persists it plus the history entry.
func (e *Engine) finalize(ctx context.Context, sess *Session, status SessionStatus, tokenBase int64, costBase float64) {
	if sess.Status.Terminal() {
		return
	}
	sess.Status = status
	sess.EndTime = time.Now()
	if tr, ok := e.oracle.(TokenReporter); ok {
		sess.Metadata.AITokensUsed = tr.TokensUsed() - tokenBase
		sess.Metadata.EstimatedCost = tr.CostAccrued() - costBase
	}
	e.persistSession(ctx, sess)
	if err := e.storage.AppendHistory(ctx, sess); err != nil {
		e.logger.Printf("append history: %v", err)
	}
	e.tele.RecordSession(string(status), sess.EndTime.Sub(sess.StartTime))
	e.tele.LogSummary()
	e.emit("session", fmt.Sprintf("research %s: %d pages, max depth %d", status, sess.TotalPages, sess.MaxDepthReached),
		map[string]any{"session_id": sess.ID, "status": string(status)})
}

func (e *Engine) persistSession(ctx context.Context, sess *Session) {
	if err := e.storage.SaveSession(ctx, sess); err != nil {
		e.logger.Printf("save session %s: %v", sess.ID, err)
	}
}

func (e *Engine) oracleFallback(op string, err error) {
	e.logger.Printf("oracle %s failed, substituting default: %v", op, err)
	e.tele.RecordOracleFailure(op)
}

func (e *Engine) emit(category, message string, data map[string]any) {
	e.sink.Emit(Event{Time: time.Now(), Category: category, Message: message, Data: data})
}

func crawlStats(query string, depth int, pages []PageRecord, frontier *Frontier, errorCount int) CrawlStats {
	hq := 0
	for _, p := range pages {
		if p.Error == "" && p.RelevanceScore >= highQualityRelevance {
			hq++
		}
	}
	return CrawlStats{
		Query:            query,
		Depth:            depth,
		PagesCollected:   len(pages),
		HighQualityPages: hq,
		PendingLinks:     frontier.PendingAt(depth + 1),
		ErrorCount:       errorCount,
	}
}

// contentItems selects synthesis input: successful pages at or above
// the relevance floor. When nothing clears the floor, every successful
// page with content is used so the answer is never starved by a strict
// filter.
func contentItems(pages []PageRecord) []ContentItem {
	var items []ContentItem
	for _, p := range pages {
		if p.Error != "" || p.Content == "" || p.RelevanceScore < contentRelevanceFloor {
			continue
		}
		items = append(items, ContentItem{URL: p.URL, Title: p.Title, Content: p.Content, Relevance: p.RelevanceScore})
	}
	if len(items) > 0 {
		return items
	}
	for _, p := range pages {
		if p.Error != "" || p.Content == "" {
			continue
		}
		items = append(items, ContentItem{URL: p.URL, Title: p.Title, Content: p.Content, Relevance: p.RelevanceScore})
	}
	return items
}

func pageContext(rec PageRecord) string {
	if rec.Title != "" {
		return rec.Title
	}
	return rec.URL
}
