package fetch

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"deepresearch/internal/helpers"
	"deepresearch/internal/research"
)

// plainText strips markup and collapses whitespace. Fallback for pages
// readability cannot treat as an article.
func plainText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// ExtractLinks harvests outbound http(s) anchors from rendered HTML,
// resolved against the page URL, deduplicated on canonical form and
// capped at limit. The page's own URL is excluded.
func ExtractLinks(html string, base *url.URL, limit int) []research.LinkCandidate {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	selfKey := ""
	if base != nil {
		if c, err := helpers.CanonicalURL(base.String()); err == nil {
			selfKey = c
		}
	}
	seen := make(map[string]struct{})
	var out []research.LinkCandidate
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return true
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
			return true
		}
		var u *url.URL
		var perr error
		if base != nil {
			u, perr = base.Parse(href)
		} else {
			u, perr = url.Parse(href)
		}
		if perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return true
		}
		u.Fragment = ""
		abs := u.String()
		key, kerr := helpers.CanonicalURL(abs)
		if kerr != nil || key == selfKey {
			return true
		}
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		out = append(out, research.LinkCandidate{
			URL:   abs,
			Title: helpers.Truncate(strings.Join(strings.Fields(sel.Text()), " "), 200),
		})
		return limit <= 0 || len(out) < limit
	})
	return out
}
