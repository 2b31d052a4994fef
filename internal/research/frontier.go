package research

import (
	"sort"
	"strings"
	"sync"

	"deepresearch/internal/helpers"
)

// PriorityRelevance marks entries queued at the front of their depth.
const PriorityRelevance = 0.8

// Frontier holds pending URLs per depth plus the visited set. The
// visited set keys on canonical URLs, so equivalent spellings of the
// same page enqueue once. Membership is permanent: a URL that has ever
// been enqueued is never enqueued again.
type Frontier struct {
	mu      sync.Mutex
	visited map[string]struct{}
	byDepth map[int][]FrontierEntry
}

func NewFrontier() *Frontier {
	return &Frontier{
		visited: make(map[string]struct{}),
		byDepth: make(map[int][]FrontierEntry),
	}
}

func visitKey(raw string) string {
	if c, err := helpers.CanonicalURL(raw); err == nil {
		return c
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

// Seen reports whether the URL has ever been enqueued.
func (f *Frontier) Seen(url string) bool {
	key := visitKey(url)
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.visited[key]
	return ok
}

// Enqueue adds an entry for its depth unless the URL was already seen.
// Entries at or above PriorityRelevance go to the front of the depth
// queue, the rest append. Returns whether the entry was added.
func (f *Frontier) Enqueue(e FrontierEntry) bool {
	key := visitKey(e.URL)
	if key == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.visited[key]; dup {
		return false
	}
	f.visited[key] = struct{}{}
	if e.Relevance >= PriorityRelevance {
		f.byDepth[e.Depth] = append([]FrontierEntry{e}, f.byDepth[e.Depth]...)
	} else {
		f.byDepth[e.Depth] = append(f.byDepth[e.Depth], e)
	}
	return true
}

// DequeueBatch removes and returns up to limit entries for the depth,
// ordered by relevance descending. Priority entries keep their edge on
// equal relevance because the sort is stable.
func (f *Frontier) DequeueBatch(depth, limit int) []FrontierEntry {
	if limit <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.byDepth[depth]
	if len(queue) == 0 {
		return nil
	}
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Relevance > queue[j].Relevance
	})
	n := limit
	if n > len(queue) {
		n = len(queue)
	}
	batch := make([]FrontierEntry, n)
	copy(batch, queue[:n])
	rest := queue[n:]
	if len(rest) == 0 {
		delete(f.byDepth, depth)
	} else {
		f.byDepth[depth] = rest
	}
	return batch
}

// PendingAt returns how many entries wait at the given depth.
func (f *Frontier) PendingAt(depth int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byDepth[depth])
}

// Pending returns the total queued entry count across depths.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, q := range f.byDepth {
		total += len(q)
	}
	return total
}

// VisitedCount returns how many distinct URLs have been enqueued.
func (f *Frontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}
