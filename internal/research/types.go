package research

import (
	"context"
	"time"
)

// SessionStatus is the lifecycle state of a research session. Sessions
// start running and move exactly once into one of the terminal states.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusCancelled SessionStatus = "cancelled"
	StatusFailed    SessionStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Session is the unit of work: one query researched to completion.
type Session struct {
	ID              string          `json:"id"`
	Query           string          `json:"query"`
	Status          SessionStatus   `json:"status"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time,omitempty"`
	TotalPages      int             `json:"total_pages"`
	MaxDepthReached int             `json:"max_depth_reached"`
	FinalAnswer     string          `json:"final_answer,omitempty"`
	Summary         string          `json:"summary,omitempty"`
	Confidence      float64         `json:"confidence"`
	Metadata        SessionMetadata `json:"metadata"`
}

// SessionMetadata carries crawl counters alongside the session.
type SessionMetadata struct {
	TotalLinksFound int     `json:"total_links_found"`
	ErrorCount      int     `json:"error_count"`
	AITokensUsed    int64   `json:"ai_tokens_used"`
	EstimatedCost   float64 `json:"estimated_cost"`
}

// PageRecord is the outcome of fetching a single URL. Fetch failures are
// carried in Error rather than returned as Go errors, so one bad page
// never aborts a batch.
type PageRecord struct {
	URL              string          `json:"url"`
	Title            string          `json:"title,omitempty"`
	Content          string          `json:"content,omitempty"`
	ExtractedLinks   []LinkCandidate `json:"extracted_links,omitempty"`
	Depth            int             `json:"depth"`
	RelevanceScore   float64         `json:"relevance_score"`
	FetchTimeMs      int64           `json:"fetch_time_ms"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	Error            string          `json:"error,omitempty"`
}

// LinkCandidate is a link harvested from a fetched page, scored by the
// oracle during ranking.
type LinkCandidate struct {
	URL    string  `json:"url"`
	Title  string  `json:"title,omitempty"`
	Reason string  `json:"reason,omitempty"`
	Score  float64 `json:"score"`
}

// FrontierEntry is a URL queued for a future depth.
type FrontierEntry struct {
	URL       string  `json:"url"`
	Relevance float64 `json:"relevance"`
	Depth     int     `json:"depth"`
	Source    string  `json:"source,omitempty"`
}

// SearchResult is one hit from a seed-search provider.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet,omitempty"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score"`
}

// CrawlStats is the snapshot handed to continuation decisions.
type CrawlStats struct {
	Query            string `json:"query"`
	Depth            int    `json:"depth"`
	PagesCollected   int    `json:"pages_collected"`
	HighQualityPages int    `json:"high_quality_pages"`
	PendingLinks     int    `json:"pending_links"`
	ErrorCount       int    `json:"error_count"`
}

// Decision is the oracle's continuation verdict for the current depth.
type Decision struct {
	Continue   bool    `json:"continue"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Completeness estimates how fully the collected content answers the
// query. Confidence doubles as the coverage score in [0,1].
type Completeness struct {
	IsComplete     bool     `json:"is_complete"`
	MissingAspects []string `json:"missing_aspects,omitempty"`
	Confidence     float64  `json:"confidence"`
}

// ContentItem is a relevance-filtered page handed to synthesis.
type ContentItem struct {
	URL       string  `json:"url"`
	Title     string  `json:"title,omitempty"`
	Content   string  `json:"content"`
	Relevance float64 `json:"relevance"`
}

// Synthesis is the final answer produced from collected content.
type Synthesis struct {
	Answer     string  `json:"answer"`
	Summary    string  `json:"summary,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Oracle makes every judgment call the crawl needs. Implementations may
// fail; callers substitute per-operation defaults through safeCall.
type Oracle interface {
	ScoreRelevance(ctx context.Context, query, content string) (float64, error)
	RankLinks(ctx context.Context, query string, cands []LinkCandidate, pageContext string) ([]LinkCandidate, error)
	DecideContinue(ctx context.Context, stats CrawlStats) (Decision, error)
	AssessCompleteness(ctx context.Context, stats CrawlStats) (Completeness, error)
	Synthesize(ctx context.Context, query string, content []ContentItem) (Synthesis, error)
}

// TokenReporter is optionally implemented by oracles that track LLM
// token usage; the engine snapshots it into session metadata.
type TokenReporter interface {
	TokensUsed() int64
	CostAccrued() float64
}

// Fetcher retrieves pages. Acquire/Release bracket a session so the
// implementation can hold a browser or connection pool for its duration.
type Fetcher interface {
	Acquire(ctx context.Context) error
	Release()
	FetchPage(ctx context.Context, url string, depth int) PageRecord
	FetchMany(ctx context.Context, urls []string, depth int) []PageRecord
}

// Searcher seeds the frontier from web search providers.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	SearchMany(ctx context.Context, queries []string, limit int) ([]SearchResult, error)
}

// Storage persists sessions, pages and the bounded session history.
type Storage interface {
	SaveSession(ctx context.Context, s *Session) error
	SavePage(ctx context.Context, sessionID string, p PageRecord) error
	SaveFinalAnswer(ctx context.Context, sessionID, answer, summary string, confidence float64) error
	AppendHistory(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	History(ctx context.Context, limit int) ([]*Session, error)
}

// Event is one progress notification emitted by the engine.
type Event struct {
	Time     time.Time      `json:"time"`
	Category string         `json:"category"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
}

// Sink receives progress events. Emit is called from a single goroutine
// in causal order and must not block.
type Sink interface {
	Emit(Event)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
