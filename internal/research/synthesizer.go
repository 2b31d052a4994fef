package research

import (
	"context"
	"fmt"
	"log"
	"sort"

	"deepresearch/internal/helpers"
)

// Synthesizer turns collected content into the final answer. Large
// collections are synthesized in chunks whose partial answers feed a
// second consolidating pass.
type Synthesizer struct {
	oracle    Oracle
	chunkSize int
	logger    *log.Logger
	onErr     func(op string, err error)
}

func NewSynthesizer(oracle Oracle, chunkSize int, logger *log.Logger, onErr func(op string, err error)) *Synthesizer {
	if chunkSize <= 0 {
		chunkSize = 20
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SYNTH] ", log.LstdFlags)
	}
	return &Synthesizer{oracle: oracle, chunkSize: chunkSize, logger: logger, onErr: onErr}
}

// Synthesize produces the final answer for the query. Content is ranked
// by relevance descending first, so when chunking applies the best
// sources land in the earliest chunks. Oracle failures degrade to a
// low-confidence placeholder answer rather than an error.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, items []ContentItem) Synthesis {
	if len(items) == 0 {
		return Synthesis{
			Answer:     "No relevant content was collected for this query.",
			Confidence: 0.1,
		}
	}

	sorted := make([]ContentItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Relevance > sorted[j].Relevance
	})

	// Mirror pages reached through different URLs carry identical text.
	// Sorting first means the duplicate with the highest relevance wins.
	seen := make(map[string]struct{}, len(sorted))
	unique := sorted[:0]
	for _, it := range sorted {
		h := helpers.ContentHash(it.Content)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		unique = append(unique, it)
	}
	if dropped := len(sorted) - len(unique); dropped > 0 {
		s.logger.Printf("dropped %d duplicate sources before synthesis", dropped)
	}
	sorted = unique

	if len(sorted) <= s.chunkSize {
		return s.synthesizeOnce(ctx, query, sorted)
	}

	var partials []ContentItem
	for start := 0; start < len(sorted); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(sorted) {
			end = len(sorted)
		}
		part := s.synthesizeOnce(ctx, query, sorted[start:end])
		partials = append(partials, ContentItem{
			Title:     fmt.Sprintf("partial synthesis %d", len(partials)+1),
			Content:   part.Answer,
			Relevance: part.Confidence,
		})
	}
	s.logger.Printf("consolidating %d partial syntheses for %q", len(partials), query)
	return s.synthesizeOnce(ctx, query, partials)
}

func (s *Synthesizer) synthesizeOnce(ctx context.Context, query string, items []ContentItem) Synthesis {
	return safeCall(ctx, "synthesize",
		func(ctx context.Context) (Synthesis, error) {
			syn, err := s.oracle.Synthesize(ctx, query, items)
			if err != nil {
				return Synthesis{}, err
			}
			syn.Confidence = clamp01(syn.Confidence)
			return syn, nil
		},
		func() Synthesis {
			return Synthesis{
				Answer:     fmt.Sprintf("Synthesis unavailable: collected %d sources for %q but the answer could not be generated.", len(items), query),
				Confidence: 0.1,
			}
		},
		s.onErr,
	)
}
