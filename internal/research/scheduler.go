package research

import (
	"context"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// FetchScheduler runs a depth's batch in sub-batches of at most
// maxConcurrent pages, waiting for each sub-batch to finish before the
// next starts. A randomized politeness delay separates sub-batches;
// politenessMax of zero disables it.
type FetchScheduler struct {
	fetcher       Fetcher
	maxConcurrent int
	politenessMin time.Duration
	politenessMax time.Duration
	logger        *log.Logger
}

func NewFetchScheduler(fetcher Fetcher, maxConcurrent int, politenessMin, politenessMax time.Duration, logger *log.Logger) *FetchScheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	return &FetchScheduler{
		fetcher:       fetcher,
		maxConcurrent: maxConcurrent,
		politenessMin: politenessMin,
		politenessMax: politenessMax,
		logger:        logger,
	}
}

// FetchBatch fetches the entries for one depth. The stop flag is checked
// at sub-batch boundaries only; an in-flight sub-batch always drains.
// The skip flag abandons the remainder of this batch without touching
// later depths. Individual fetch failures come back as PageRecords with
// Error set, never as an aborted batch.
func (s *FetchScheduler) FetchBatch(ctx context.Context, entries []FrontierEntry, depth int, stop, skip *atomic.Bool) []PageRecord {
	records := make([]PageRecord, 0, len(entries))
	for start := 0; start < len(entries); start += s.maxConcurrent {
		if stop != nil && stop.Load() {
			s.logger.Printf("stop requested, abandoning %d queued fetches at depth %d", len(entries)-start, depth)
			break
		}
		if skip != nil && skip.Load() {
			s.logger.Printf("skip requested, abandoning %d queued fetches at depth %d", len(entries)-start, depth)
			break
		}
		end := start + s.maxConcurrent
		if end > len(entries) {
			end = len(entries)
		}
		sub := entries[start:end]
		recs := make([]PageRecord, len(sub))
		g, gctx := errgroup.WithContext(ctx)
		for i, entry := range sub {
			i, entry := i, entry
			g.Go(func() error {
				recs[i] = s.fetcher.FetchPage(gctx, entry.URL, depth)
				return nil
			})
		}
		_ = g.Wait()
		records = append(records, recs...)
		if end < len(entries) {
			s.politenessDelay(ctx)
		}
	}
	return records
}

func (s *FetchScheduler) politenessDelay(ctx context.Context) {
	if s.politenessMax <= 0 {
		return
	}
	d := s.politenessMin
	if span := s.politenessMax - s.politenessMin; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
