package helpers

import (
	"fmt"
	"net/url"
	"strings"
)

const maxCitationSnippet = 180

// Citation is a numbered reference to a collected source.
type Citation struct {
	Index   int
	Title   string
	URL     string
	Snippet string
}

// FormatCitation renders one source line in a consistent layout:
// [n] Title - "snippet" (host) <url>. Empty fields are omitted.
func FormatCitation(c Citation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d]", c.Index)
	if t := strings.TrimSpace(c.Title); t != "" {
		b.WriteByte(' ')
		b.WriteString(Truncate(t, 120))
	}
	if s := strings.TrimSpace(c.Snippet); s != "" {
		b.WriteString(` - "`)
		b.WriteString(Truncate(s, maxCitationSnippet))
		b.WriteByte('"')
	}
	if host := citationHost(c.URL); host != "" {
		fmt.Fprintf(&b, " (%s)", host)
	}
	if u := strings.TrimSpace(c.URL); u != "" {
		fmt.Fprintf(&b, " <%s>", u)
	}
	return b.String()
}

// FormatCitations renders one line per citation, numbering entries from
// 1 when the caller left Index unset.
func FormatCitations(cs []Citation) string {
	lines := make([]string, 0, len(cs))
	for i, c := range cs {
		if c.Index == 0 {
			c.Index = i + 1
		}
		lines = append(lines, FormatCitation(c))
	}
	return strings.Join(lines, "\n")
}

func citationHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}
