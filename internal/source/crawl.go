package source

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/farmassist/harvester/internal/catalog"
	"github.com/farmassist/harvester/internal/config"
)

// crawlCursor serializes the breadth-first frontier so a crashed run resumes
// exactly where it stopped.
type crawlCursor struct {
	Queue   []queuedPage `json:"queue"`
	Visited []string     `json:"visited"`
}

type queuedPage struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// CrawlAdapter discovers program pages breadth-first from the configured
// seeds. Each batch pops up to concurrency frontier pages and fetches them
// in parallel, then classifies outbound links, enqueues program links, and
// emits placeholder items for discovered PDFs so the PDF tier picks them up
// later. Frontier and visited-set mutation stays on the calling goroutine,
// so discovery order is deterministic for a given fetch outcome.
type CrawlAdapter struct {
	cfg          config.SourceConfig
	fetcher      catalog.Fetcher
	renderer     catalog.Renderer
	retry        *RetryPolicy
	clock        catalog.Clock
	logger       *zap.Logger
	concurrency  int
	minHTMLBytes int
}

// NewCrawlAdapter constructs the discovery tier. renderer may be nil when
// headless rendering is disabled.
func NewCrawlAdapter(cfg config.SourceConfig, fetcher catalog.Fetcher, renderer catalog.Renderer,
	retry *RetryPolicy, clock catalog.Clock, concurrency, minHTMLBytes int, logger *zap.Logger) *CrawlAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &CrawlAdapter{
		cfg:          cfg,
		fetcher:      fetcher,
		renderer:     renderer,
		retry:        retry,
		clock:        clock,
		logger:       logger,
		concurrency:  concurrency,
		minHTMLBytes: minHTMLBytes,
	}
}

// Type implements SourceAdapter.
func (a *CrawlAdapter) Type() catalog.SourceType { return catalog.SourceCrawl }

// JobType implements SourceAdapter.
func (a *CrawlAdapter) JobType() catalog.JobType { return catalog.JobTypeDiscovery }

// FetchBatch processes the frontier head. Fetch failures are per-item; only
// a malformed cursor is fatal, since it means resumed state is unusable.
func (a *CrawlAdapter) FetchBatch(ctx context.Context, cursor string) (catalog.Batch, []catalog.ItemError, error) {
	state, err := a.loadCursor(cursor)
	if err != nil {
		return catalog.Batch{}, nil, catalog.Fatalf("malformed crawl cursor: %v", err)
	}

	visited := make(map[string]bool, len(state.Visited))
	for _, u := range state.Visited {
		visited[u] = true
	}

	// Pop unvisited in-depth pages until the batch is full or the queue is
	// empty. A popped page counts as visited even if its fetch fails.
	var pages []queuedPage
	for len(pages) < a.concurrency && len(state.Queue) > 0 {
		page := state.Queue[0]
		state.Queue = state.Queue[1:]
		if visited[page.URL] || page.Depth > a.cfg.MaxDepth {
			continue
		}
		visited[page.URL] = true
		state.Visited = append(state.Visited, page.URL)
		pages = append(pages, page)
	}
	if len(pages) == 0 {
		return catalog.Batch{Done: true}, nil, nil
	}

	results := make([]catalog.FetchResult, len(pages))
	fetchErrs := make([]error, len(pages))
	forEachBounded(ctx, a.concurrency, len(pages), func(ctx context.Context, i int) {
		results[i], fetchErrs[i] = a.fetchPage(ctx, pages[i].URL)
	})

	var items []catalog.RawItem
	var itemErrs []catalog.ItemError
	for i, page := range pages {
		if fetchErrs[i] != nil {
			itemErrs = append(itemErrs, catalog.ItemError{
				Item: page.URL, Kind: "fetch_error", Detail: fetchErrs[i].Error(),
			})
			continue
		}
		pageItems, pageErrs := a.processPage(page, results[i], visited, &state)
		items = append(items, pageItems...)
		itemErrs = append(itemErrs, pageErrs...)
	}

	next, err := encodeCursor(state)
	if err != nil {
		return catalog.Batch{}, nil, catalog.Fatalf("encode crawl cursor: %v", err)
	}
	return catalog.Batch{
		Items:      items,
		NextCursor: next,
		Done:       len(state.Queue) == 0,
	}, itemErrs, nil
}

func (a *CrawlAdapter) loadCursor(cursor string) (crawlCursor, error) {
	if cursor == "" {
		state := crawlCursor{}
		for _, seed := range a.cfg.SeedURLs {
			state.Queue = append(state.Queue, queuedPage{URL: seed, Depth: 0})
		}
		return state, nil
	}
	var state crawlCursor
	if err := json.Unmarshal([]byte(cursor), &state); err != nil {
		return crawlCursor{}, err
	}
	return state, nil
}

func encodeCursor(state crawlCursor) (string, error) {
	encoded, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// fetchPage fetches with retry, falling back to the renderer when the plain
// response looks like a JS shell.
func (a *CrawlAdapter) fetchPage(ctx context.Context, pageURL string) (catalog.FetchResult, error) {
	var result catalog.FetchResult
	err := a.retry.Do(ctx, func() error {
		var fetchErr error
		result, fetchErr = a.fetcher.Fetch(ctx, pageURL)
		return fetchErr
	})
	if err != nil {
		return catalog.FetchResult{}, err
	}

	if a.renderer != nil && a.minHTMLBytes > 0 && len(result.Body) < a.minHTMLBytes {
		rendered, renderErr := a.renderer.Render(ctx, pageURL)
		if renderErr == nil && len(rendered.Body) > len(result.Body) {
			a.logger.Debug("used rendered page", zap.String("url", pageURL))
			return rendered, nil
		}
	}
	return result, nil
}

func (a *CrawlAdapter) processPage(page queuedPage, result catalog.FetchResult,
	visited map[string]bool, state *crawlCursor) ([]catalog.RawItem, []catalog.ItemError) {

	var itemErrs []catalog.ItemError
	links, pdfLinks, parseErr := a.extractLinks(page.URL, result.Body)
	if parseErr != nil {
		itemErrs = append(itemErrs, catalog.ItemError{
			Item: page.URL, Kind: "unexpected_structure", Detail: parseErr.Error(),
		})
	}

	for _, link := range links {
		if IsProgramLink(link, a.cfg.AllowHosts) && !visited[link] {
			state.Queue = append(state.Queue, queuedPage{URL: link, Depth: page.Depth + 1})
		}
	}

	now := a.clock.Now()
	pageText := htmlText(result.Body)
	items := []catalog.RawItem{{
		URL:         page.URL,
		SourceType:  catalog.SourceCrawl,
		FetchedAt:   now,
		StatusCode:  result.StatusCode,
		Content:     result.Body,
		Links:       links,
		ProgramPage: IsProgramPage(pageText, page.URL),
		Metadata: map[string]string{
			"depth": strconv.Itoa(page.Depth),
		},
	}}

	for _, pdfURL := range pdfLinks {
		items = append(items, catalog.RawItem{
			URL:        pdfURL,
			SourceType: catalog.SourcePDF,
			FetchedAt:  now,
			Metadata: map[string]string{
				"discovered_from": page.URL,
			},
		})
	}

	a.logger.Info("crawled page",
		zap.String("url", page.URL),
		zap.Int("depth", page.Depth),
		zap.Int("links", len(links)),
		zap.Int("pdfs", len(pdfLinks)),
		zap.Int("frontier", len(state.Queue)))

	return items, itemErrs
}

// extractLinks parses anchors, resolving relative hrefs against the page
// URL. PDF links are returned separately and never enqueued for crawling.
func (a *CrawlAdapter) extractLinks(pageURL string, body []byte) (links, pdfLinks []string, err error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
			return
		}
		resolved, resolveErr := base.Parse(href)
		if resolveErr != nil {
			return
		}
		resolved.Fragment = ""
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		link := resolved.String()
		if seen[link] {
			return
		}
		seen[link] = true

		if IsPDFLink(link) {
			if AllowedHost(link, a.cfg.AllowHosts) {
				pdfLinks = append(pdfLinks, link)
			}
			return
		}
		links = append(links, link)
	})
	return links, pdfLinks, nil
}

func htmlText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return string(body)
	}
	return doc.Text()
}
