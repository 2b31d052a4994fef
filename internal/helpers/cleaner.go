package helpers

import "strings"

// StripCodeFence returns the contents of the first fenced code block in
// s, dropping the fence lines and the optional language tag. Models
// routinely wrap JSON responses in markdown fences even when told not
// to. Input without a fence is returned unchanged.
func StripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	for _, fence := range []string{"```", "~~~"} {
		start := strings.Index(trimmed, fence)
		if start == -1 {
			continue
		}
		rest := trimmed[start+len(fence):]
		// skip the language tag up to the first newline
		if nl := strings.IndexByte(rest, '\n'); nl != -1 {
			rest = rest[nl+1:]
		} else {
			continue
		}
		end := strings.Index(rest, fence)
		if end == -1 {
			continue
		}
		return strings.TrimSpace(rest[:end])
	}
	return trimmed
}
