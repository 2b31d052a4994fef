package search

import (
	"context"
	"fmt"

	"deepresearch/internal/helpers"
	"deepresearch/internal/research"
)

// SerperClient queries the Serper google-search API.
type SerperClient struct {
	apiKey string
	http   *HTTPClient
}

func NewSerperClient(apiKey string, httpc *HTTPClient) *SerperClient {
	return &SerperClient{apiKey: apiKey, http: httpc}
}

func (s *SerperClient) Name() string { return "serper" }

func (s *SerperClient) Discover(ctx context.Context, query string, limit int) ([]research.SearchResult, error) {
	headers := map[string]string{"X-API-KEY": s.apiKey}
	body := map[string]any{"q": query, "num": limit}
	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := s.http.DoJSON(ctx, "POST", "https://google.serper.dev/search", headers, body, &raw); err != nil {
		return nil, fmt.Errorf("serper search: %w", err)
	}
	var out []research.SearchResult
	for i, r := range raw.Organic {
		if i >= limit {
			break
		}
		out = append(out, research.SearchResult{
			Title:   helpers.StripHTML(r.Title),
			URL:     r.Link,
			Snippet: helpers.StripHTML(r.Snippet),
			Source:  s.Name(),
		})
	}
	return out, nil
}
