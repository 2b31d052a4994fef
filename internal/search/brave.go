package search

import (
	"context"
	"fmt"
	"net/url"

	"deepresearch/internal/helpers"
	"deepresearch/internal/research"
)

// BraveClient queries the Brave web search API.
// https://api.search.brave.com/app/documentation/web-search
type BraveClient struct {
	apiKey string
	http   *HTTPClient
}

func NewBraveClient(apiKey string, httpc *HTTPClient) *BraveClient {
	return &BraveClient{apiKey: apiKey, http: httpc}
}

func (b *BraveClient) Name() string { return "brave" }

func (b *BraveClient) Discover(ctx context.Context, query string, limit int) ([]research.SearchResult, error) {
	endpoint := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d",
		url.QueryEscape(query), limit)
	headers := map[string]string{
		"Accept":               "application/json",
		"X-Subscription-Token": b.apiKey,
	}
	var raw struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := b.http.DoJSON(ctx, "GET", endpoint, headers, nil, &raw); err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}
	var out []research.SearchResult
	for i, r := range raw.Web.Results {
		if i >= limit {
			break
		}
		// Brave embeds <strong> markers and entities in descriptions.
		out = append(out, research.SearchResult{
			Title:   helpers.StripHTML(r.Title),
			URL:     r.URL,
			Snippet: helpers.StripHTML(r.Description),
			Source:  b.Name(),
		})
	}
	return out, nil
}
