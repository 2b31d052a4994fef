package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"deepresearch/config"
	"deepresearch/internal/helpers"
	"deepresearch/internal/research"
	"deepresearch/internal/telemetry"
)

// Prompt payload bounds, in runes.
const (
	maxScoreContent = 6000
	maxSynthContent = 4000
)

// Adapter implements research.Oracle on top of an LLMProvider. Model
// responses are required to be strict JSON; anything unparseable comes
// back as an error so the engine's safe-call defaults take over. All
// scores leaving the adapter are clamped to [0,1].
type Adapter struct {
	llm    LLMProvider
	cfg    config.OracleConfig
	logger *log.Logger
	tele   *telemetry.Telemetry

	tokens atomic.Int64
	costMu sync.Mutex
	cost   float64
}

func NewAdapter(llm LLMProvider, cfg config.OracleConfig, tele *telemetry.Telemetry, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORACLE] ", log.LstdFlags)
	}
	return &Adapter{llm: llm, cfg: cfg, logger: logger, tele: tele}
}

// TokensUsed returns cumulative tokens across the adapter's lifetime.
func (a *Adapter) TokensUsed() int64 { return a.tokens.Load() }

// CostAccrued returns cumulative estimated cost in dollars.
func (a *Adapter) CostAccrued() float64 {
	a.costMu.Lock()
	defer a.costMu.Unlock()
	return a.cost
}

func (a *Adapter) generate(ctx context.Context, class, op, prompt string) (string, error) {
	model := a.cfg.ModelFor(class)
	a.tele.RecordOracleCall(op)
	out, in, outTok, err := a.llm.GenerateWithTokens(ctx, prompt, model)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	cost := a.llm.CalculateCost(in, outTok, model)
	a.tokens.Add(in + outTok)
	a.costMu.Lock()
	a.cost += cost
	a.costMu.Unlock()
	a.tele.RecordTokens(model, in, outTok, cost)
	// models wrap JSON in markdown fences despite instructions
	return helpers.StripCodeFence(out), nil
}

func (a *Adapter) ScoreRelevance(ctx context.Context, query, content string) (float64, error) {
	prompt := fmt.Sprintf(`You are scoring how relevant a web page is to a research query.

Query: %s

Page content:
%s

Respond with JSON only, no prose:
{"score": <number between 0 and 1>}`, query, helpers.Truncate(content, maxScoreContent))

	out, err := a.generate(ctx, "scoring", "scoreRelevance", prompt)
	if err != nil {
		return 0, err
	}
	var parsed struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(extractFirstJSON(out)), &parsed); err != nil {
		return 0, fmt.Errorf("scoreRelevance: unparseable response: %w", err)
	}
	return clamp01(parsed.Score), nil
}

func (a *Adapter) RankLinks(ctx context.Context, query string, cands []research.LinkCandidate, pageContext string) ([]research.LinkCandidate, error) {
	if len(cands) == 0 {
		return nil, nil
	}
	var b strings.Builder
	for i, c := range cands {
		fmt.Fprintf(&b, "%d. %s", i, c.URL)
		if c.Title != "" {
			fmt.Fprintf(&b, " (%s)", helpers.Truncate(c.Title, 120))
		}
		b.WriteByte('\n')
	}
	prompt := fmt.Sprintf(`You are ranking links found on a page for their value to a research query.

Query: %s
Found on: %s

Links:
%s
Respond with JSON only:
{"scores": [{"index": <link number>, "score": <0..1>, "reason": "<short>"}]}
Score every link.`, query, pageContext, b.String())

	out, err := a.generate(ctx, "scoring", "rankLinks", prompt)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Scores []struct {
			Index  int     `json:"index"`
			Score  float64 `json:"score"`
			Reason string  `json:"reason"`
		} `json:"scores"`
	}
	if err := json.Unmarshal([]byte(extractFirstJSON(out)), &parsed); err != nil {
		return nil, fmt.Errorf("rankLinks: unparseable response: %w", err)
	}
	if len(parsed.Scores) == 0 {
		return nil, fmt.Errorf("rankLinks: response scored no links")
	}
	ranked := make([]research.LinkCandidate, len(cands))
	copy(ranked, cands)
	// Links the model skipped keep a conservative score.
	for i := range ranked {
		ranked[i].Score = 0.3
	}
	for _, s := range parsed.Scores {
		if s.Index < 0 || s.Index >= len(ranked) {
			continue
		}
		ranked[s.Index].Score = clamp01(s.Score)
		ranked[s.Index].Reason = s.Reason
	}
	return ranked, nil
}

func (a *Adapter) DecideContinue(ctx context.Context, stats research.CrawlStats) (research.Decision, error) {
	prompt := fmt.Sprintf(`You are deciding whether a research crawl should expand to the next depth.

Query: %s
Current depth: %d
Pages collected: %d (%d high quality)
Fetch errors: %d
Links pending at next depth: %d

Continue only if deeper crawling is likely to add substantial new information.
Respond with JSON only:
{"continue": <true|false>, "reason": "<short>", "confidence": <0..1>}`,
		stats.Query, stats.Depth, stats.PagesCollected, stats.HighQualityPages, stats.ErrorCount, stats.PendingLinks)

	out, err := a.generate(ctx, "decision", "decideContinue", prompt)
	if err != nil {
		return research.Decision{}, err
	}
	var parsed struct {
		Continue   bool    `json:"continue"`
		Reason     string  `json:"reason"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractFirstJSON(out)), &parsed); err != nil {
		return research.Decision{}, fmt.Errorf("decideContinue: unparseable response: %w", err)
	}
	return research.Decision{
		Continue:   parsed.Continue,
		Reason:     parsed.Reason,
		Confidence: clamp01(parsed.Confidence),
	}, nil
}

func (a *Adapter) AssessCompleteness(ctx context.Context, stats research.CrawlStats) (research.Completeness, error) {
	prompt := fmt.Sprintf(`You are assessing how completely the collected research covers a query.

Query: %s
Pages collected: %d (%d high quality) across %d depths

Respond with JSON only; confidence is your coverage estimate:
{"is_complete": <true|false>, "missing_aspects": ["<aspect>", ...], "confidence": <0..1>}`,
		stats.Query, stats.PagesCollected, stats.HighQualityPages, stats.Depth)

	out, err := a.generate(ctx, "decision", "assessCompleteness", prompt)
	if err != nil {
		return research.Completeness{}, err
	}
	var parsed struct {
		IsComplete     bool     `json:"is_complete"`
		MissingAspects []string `json:"missing_aspects"`
		Confidence     float64  `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractFirstJSON(out)), &parsed); err != nil {
		return research.Completeness{}, fmt.Errorf("assessCompleteness: unparseable response: %w", err)
	}
	return research.Completeness{
		IsComplete:     parsed.IsComplete,
		MissingAspects: parsed.MissingAspects,
		Confidence:     clamp01(parsed.Confidence),
	}, nil
}

func (a *Adapter) Synthesize(ctx context.Context, query string, content []research.ContentItem) (research.Synthesis, error) {
	var b strings.Builder
	for i, item := range content {
		b.WriteString(helpers.FormatCitation(helpers.Citation{
			Index: i + 1,
			Title: item.Title,
			URL:   item.URL,
		}))
		b.WriteString("\n")
		b.WriteString(helpers.Truncate(item.Content, maxSynthContent))
		b.WriteString("\n\n")
	}
	prompt := fmt.Sprintf(`You are writing the final answer to a research query from collected sources.

Query: %s

%s
Write a thorough, well-organized answer grounded in the sources, citing them by their [n] marker.
Respond with JSON only:
{"answer": "<the answer>", "summary": "<2-3 sentence summary>", "confidence": <0..1>}`, query, b.String())

	out, err := a.generate(ctx, "synthesis", "synthesize", prompt)
	if err != nil {
		return research.Synthesis{}, err
	}
	var parsed struct {
		Answer     string  `json:"answer"`
		Summary    string  `json:"summary"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractFirstJSON(out)), &parsed); err != nil {
		return research.Synthesis{}, fmt.Errorf("synthesize: unparseable response: %w", err)
	}
	if strings.TrimSpace(parsed.Answer) == "" {
		return research.Synthesis{}, fmt.Errorf("synthesize: empty answer")
	}
	return research.Synthesis{
		Answer:     parsed.Answer,
		Summary:    parsed.Summary,
		Confidence: clamp01(parsed.Confidence),
	}, nil
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
