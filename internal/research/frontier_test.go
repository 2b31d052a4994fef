package research

import "testing"

func TestFrontierDedupOnCanonicalURL(t *testing.T) {
	t.Parallel()
	f := NewFrontier()
	if !f.Enqueue(FrontierEntry{URL: "https://example.com/a?utm_source=x", Relevance: 0.5, Depth: 1}) {
		t.Fatal("first enqueue should succeed")
	}
	// same page, different spelling
	if f.Enqueue(FrontierEntry{URL: "https://EXAMPLE.com/a", Relevance: 0.9, Depth: 1}) {
		t.Fatal("equivalent URL must be rejected as already seen")
	}
	if f.Enqueue(FrontierEntry{URL: "https://example.com/a", Relevance: 0.5, Depth: 2}) {
		t.Fatal("visited membership spans depths")
	}
	if !f.Seen("https://example.com:443/a") {
		t.Fatal("Seen should match canonical form")
	}
	if f.VisitedCount() != 1 {
		t.Fatalf("expected 1 visited entry, got %d", f.VisitedCount())
	}
}

func TestFrontierPriorityBeforeStandard(t *testing.T) {
	t.Parallel()
	f := NewFrontier()
	// B enqueued first at standard position, A later at priority
	f.Enqueue(FrontierEntry{URL: "https://example.com/b", Relevance: 0.4, Depth: 2})
	f.Enqueue(FrontierEntry{URL: "https://example.com/a", Relevance: 0.9, Depth: 2})

	batch := f.DequeueBatch(2, 10)
	if len(batch) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(batch))
	}
	if batch[0].URL != "https://example.com/a" {
		t.Fatalf("priority entry must dequeue first, got %s", batch[0].URL)
	}
}

func TestFrontierDequeueBatchSortedAndLimited(t *testing.T) {
	t.Parallel()
	f := NewFrontier()
	urls := []struct {
		u string
		r float64
	}{
		{"https://example.com/1", 0.2},
		{"https://example.com/2", 0.7},
		{"https://example.com/3", 0.5},
		{"https://example.com/4", 0.85},
	}
	for _, e := range urls {
		f.Enqueue(FrontierEntry{URL: e.u, Relevance: e.r, Depth: 3})
	}

	batch := f.DequeueBatch(3, 3)
	if len(batch) != 3 {
		t.Fatalf("expected batch of 3, got %d", len(batch))
	}
	for i := 1; i < len(batch); i++ {
		if batch[i].Relevance > batch[i-1].Relevance {
			t.Fatalf("batch not sorted by relevance desc: %+v", batch)
		}
	}
	if batch[0].Relevance != 0.85 {
		t.Fatalf("highest relevance first, got %v", batch[0].Relevance)
	}
	if f.PendingAt(3) != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", f.PendingAt(3))
	}
	rest := f.DequeueBatch(3, 10)
	if len(rest) != 1 || rest[0].Relevance != 0.2 {
		t.Fatalf("unexpected remainder: %+v", rest)
	}
	if f.PendingAt(3) != 0 || f.Pending() != 0 {
		t.Fatal("frontier should be drained")
	}
}

func TestFrontierDequeueEmptyDepth(t *testing.T) {
	t.Parallel()
	f := NewFrontier()
	if got := f.DequeueBatch(1, 5); got != nil {
		t.Fatalf("expected nil for empty depth, got %v", got)
	}
	if got := f.DequeueBatch(1, 0); got != nil {
		t.Fatalf("expected nil for zero limit, got %v", got)
	}
}
