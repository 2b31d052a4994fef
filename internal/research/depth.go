package research

import "math"

// Depth beyond which continuation is never granted.
const maxAdaptiveDepth = 6

// Completeness confidence at which the crawl stops regardless of the
// continuation verdict.
const completenessStopScore = 0.9

// LinkLimitForDepth returns how many ranked links a page may contribute
// to the next depth. The base allowance shrinks with depth down to a
// floor of 3, and pages that scored well earn a multiplier.
func LinkLimitForDepth(depth int, pageRelevance float64) int {
	base := 8 - depth
	if base < 3 {
		base = 3
	}
	mult := 1.0
	switch {
	case pageRelevance >= 0.8:
		mult = 1.5
	case pageRelevance >= 0.6:
		mult = 1.2
	}
	return int(math.Floor(float64(base) * mult))
}

// RelevanceThresholdForDepth returns the minimum ranked score a link
// needs to enter the next depth. Deeper rounds demand more, capped at
// 0.8 so high-value links always have a path in.
func RelevanceThresholdForDepth(depth int) float64 {
	t := 0.3 + float64(depth-1)*0.1
	if t > 0.8 {
		t = 0.8
	}
	return t
}

// continueHeuristic is the deterministic fallback when the oracle cannot
// deliver a continuation verdict. It continues only while the evidence
// base is thin and there is somewhere left to go.
func continueHeuristic(stats CrawlStats) Decision {
	cont := stats.HighQualityPages < 3 &&
		stats.PagesCollected < 8 &&
		stats.Depth < 5 &&
		stats.PendingLinks > 0
	reason := "heuristic: sufficient evidence collected"
	if cont {
		reason = "heuristic: evidence still thin, frontier non-empty"
	}
	return Decision{Continue: cont, Reason: reason, Confidence: 0.5}
}
