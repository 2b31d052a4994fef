package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
)

func itemsForTest(n int) []ContentItem {
	out := make([]ContentItem, n)
	for i := range out {
		out[i] = ContentItem{
			URL:       fmt.Sprintf("https://example.com/%d", i),
			Content:   fmt.Sprintf("content %d", i),
			Relevance: float64(i%10) / 10,
		}
	}
	return out
}

func TestSynthesizeEmptyContent(t *testing.T) {
	oracle := &stubOracle{}
	s := NewSynthesizer(oracle, 20, quietLogger(), nil)
	syn := s.Synthesize(context.Background(), "q", nil)
	if syn.Confidence != 0.1 {
		t.Fatalf("empty content must yield confidence 0.1, got %v", syn.Confidence)
	}
	if atomic.LoadInt32(&oracle.synthCalls) != 0 {
		t.Fatal("oracle must not be called for empty content")
	}
}

func TestSynthesizeSingleChunk(t *testing.T) {
	oracle := &stubOracle{}
	s := NewSynthesizer(oracle, 20, quietLogger(), nil)
	syn := s.Synthesize(context.Background(), "q", itemsForTest(20))
	if syn.Answer == "" {
		t.Fatal("expected an answer")
	}
	if got := atomic.LoadInt32(&oracle.synthCalls); got != 1 {
		t.Fatalf("a single chunk takes exactly one oracle call, got %d", got)
	}
}

func TestSynthesizeChunkedTwoPass(t *testing.T) {
	var lastItems int32
	oracle := &stubOracle{synthFn: func(_ string, items []ContentItem) (Synthesis, error) {
		atomic.StoreInt32(&lastItems, int32(len(items)))
		return Synthesis{Answer: "partial", Confidence: 0.7}, nil
	}}
	s := NewSynthesizer(oracle, 20, quietLogger(), nil)
	s.Synthesize(context.Background(), "q", itemsForTest(45))
	// 3 chunk passes (20+20+5) plus one consolidation pass
	if got := atomic.LoadInt32(&oracle.synthCalls); got != 4 {
		t.Fatalf("expected 4 oracle calls for 45 items, got %d", got)
	}
	if got := atomic.LoadInt32(&lastItems); got != 3 {
		t.Fatalf("consolidation pass should see 3 partials, got %d", got)
	}
}

func TestSynthesizeRanksContentFirst(t *testing.T) {
	var seen []float64
	oracle := &stubOracle{synthFn: func(_ string, items []ContentItem) (Synthesis, error) {
		seen = nil
		for _, it := range items {
			seen = append(seen, it.Relevance)
		}
		return Synthesis{Answer: "a", Confidence: 0.5}, nil
	}}
	s := NewSynthesizer(oracle, 20, quietLogger(), nil)
	s.Synthesize(context.Background(), "q", []ContentItem{
		{Content: "low", Relevance: 0.2},
		{Content: "high", Relevance: 0.9},
		{Content: "mid", Relevance: 0.6},
	})
	for i := 1; i < len(seen); i++ {
		if seen[i] > seen[i-1] {
			t.Fatalf("content not sorted by relevance desc: %v", seen)
		}
	}
}

func TestSynthesizeDropsDuplicateContent(t *testing.T) {
	var seen int32
	oracle := &stubOracle{synthFn: func(_ string, items []ContentItem) (Synthesis, error) {
		atomic.StoreInt32(&seen, int32(len(items)))
		return Synthesis{Answer: "a", Confidence: 0.5}, nil
	}}
	s := NewSynthesizer(oracle, 20, quietLogger(), nil)
	s.Synthesize(context.Background(), "q", []ContentItem{
		{URL: "https://a.example", Content: "The Same   Text", Relevance: 0.9},
		{URL: "https://mirror.example", Content: "the same text", Relevance: 0.4},
		{URL: "https://b.example", Content: "different text", Relevance: 0.6},
	})
	if got := atomic.LoadInt32(&seen); got != 2 {
		t.Fatalf("expected 2 unique sources after dedup, got %d", got)
	}
}

func TestSynthesizeOracleFailure(t *testing.T) {
	oracle := &stubOracle{synthFn: func(string, []ContentItem) (Synthesis, error) {
		return Synthesis{}, errors.New("model overloaded")
	}}
	failures := 0
	s := NewSynthesizer(oracle, 20, quietLogger(), func(op string, err error) {
		if op != "synthesize" {
			t.Fatalf("unexpected op %q", op)
		}
		failures++
	})
	syn := s.Synthesize(context.Background(), "q", itemsForTest(3))
	if syn.Confidence != 0.1 {
		t.Fatalf("fallback confidence must be 0.1, got %v", syn.Confidence)
	}
	if !strings.Contains(syn.Answer, "3 sources") {
		t.Fatalf("fallback answer should mention the source count: %q", syn.Answer)
	}
	if failures != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", failures)
	}
}
