package fetch

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"

	"deepresearch/config"
	"deepresearch/internal/helpers"
	"deepresearch/internal/research"
)

// ChromeFetcher implements research.Fetcher with a headless browser.
// Acquire starts one shared browser for the session; each page renders
// in its own tab. Fetch failures never surface as errors: they come
// back inside the PageRecord with floor relevance, so a dead host costs
// the crawl one record, not the batch.
type ChromeFetcher struct {
	cfg    config.FetchConfig
	robots *Gate
	logger *log.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func NewChromeFetcher(cfg config.FetchConfig, logger *log.Logger) *ChromeFetcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[FETCH] ", log.LstdFlags)
	}
	return &ChromeFetcher{
		cfg:    cfg,
		robots: NewGate(cfg.UserAgent, &http.Client{Timeout: 10 * time.Second}),
		logger: logger,
	}
}

// Acquire starts the shared browser. Idempotent: a second call while
// acquired is a no-op.
func (f *ChromeFetcher) Acquire(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browserCtx != nil {
		return nil
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(f.cfg.UserAgent),
	)
	actx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	bctx, browserCancel := chromedp.NewContext(actx)
	// Start the browser now so a broken chrome install fails Acquire
	// instead of the first page fetch.
	if err := chromedp.Run(bctx); err != nil {
		browserCancel()
		allocCancel()
		return err
	}
	f.allocCancel = allocCancel
	f.browserCtx = bctx
	f.browserCancel = browserCancel
	return ctx.Err()
}

// Release tears the browser down. Safe to call when not acquired.
func (f *ChromeFetcher) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browserCancel != nil {
		f.browserCancel()
		f.browserCancel = nil
	}
	if f.allocCancel != nil {
		f.allocCancel()
		f.allocCancel = nil
	}
	f.browserCtx = nil
}

// FetchPage renders one URL and extracts its article text and links.
func (f *ChromeFetcher) FetchPage(ctx context.Context, rawURL string, depth int) research.PageRecord {
	rec := research.PageRecord{URL: rawURL, Depth: depth, RelevanceScore: 0.1}
	t0 := time.Now()

	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !target.IsAbs() || target.Host == "" {
		rec.Error = "invalid url"
		return rec
	}
	if !f.cfg.Policy.AllowsHost(target.Hostname()) {
		rec.Error = "blocked by crawl policy"
		return rec
	}
	if f.cfg.RespectRobots && !f.robots.Allowed(ctx, target) {
		rec.Error = "disallowed by robots.txt"
		return rec
	}

	html, err := f.renderHTML(ctx, rawURL)
	rec.FetchTimeMs = time.Since(t0).Milliseconds()
	if err != nil {
		rec.Error = err.Error()
		return rec
	}

	p0 := time.Now()
	title, text := extractContent(html, target)
	rec.Title = title
	rec.Content = helpers.Truncate(text, f.cfg.MaxContentChars)
	rec.ExtractedLinks = ExtractLinks(html, target, f.cfg.MaxLinksPerPage)
	rec.ProcessingTimeMs = time.Since(p0).Milliseconds()
	return rec
}

// FetchMany fetches sequentially; concurrency lives in the scheduler.
func (f *ChromeFetcher) FetchMany(ctx context.Context, urls []string, depth int) []research.PageRecord {
	out := make([]research.PageRecord, 0, len(urls))
	for _, u := range urls {
		out = append(out, f.FetchPage(ctx, u, depth))
	}
	return out
}

func (f *ChromeFetcher) renderHTML(ctx context.Context, rawURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	parent := f.browserCtx
	f.mu.Unlock()
	if parent == nil {
		return "", errors.New("fetcher not acquired")
	}

	tabCtx, cancelTab := chromedp.NewContext(parent)
	defer cancelTab()
	timeout := f.cfg.Timeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	runCtx, cancelRun := context.WithTimeout(tabCtx, timeout)
	defer cancelRun()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

// extractContent prefers readability's article extraction and falls back
// to the raw document text for pages that are not article-shaped.
func extractContent(html string, page *url.URL) (title, text string) {
	if page == nil {
		page = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), page)
	if err == nil {
		title = strings.TrimSpace(article.Title)
		text = strings.TrimSpace(article.TextContent)
	}
	if text == "" {
		text = plainText(html)
	}
	return title, text
}
