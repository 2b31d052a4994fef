package helpers

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

// StripHTML removes every HTML tag and unsafe fragment from s and
// unescapes the remaining entities. Search providers return titles and
// snippets with embedded markup; the crawl stores them as plain text.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	strictOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}
