package source

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmassist/harvester/internal/catalog"
	"github.com/farmassist/harvester/internal/config"
)

const seedURL = "https://agency.example/programs"

var seedPage = []byte(`<html><body>
<h1>Farm Programs</h1>
<p>Eligibility rules, payment rate tables, and how to apply for each
program are listed below. Enrollment deadline details vary.</p>
<ul>
<li><a href="/programs/crop-loan">Crop Loan Program</a></li>
<li><a href="/programs/disaster-assistance">Disaster Assistance</a></li>
<li><a href="/news/press-release">Press Release</a></li>
<li><a href="https://elsewhere.example/programs/other">Offsite Program</a></li>
<li><a href="/docs/factsheet.pdf">Fact Sheet (PDF)</a></li>
<li><a href="#top">Back to top</a></li>
<li><a href="mailto:help@agency.example">Contact</a></li>
</ul>
</body></html>`)

func crawlConfig() config.SourceConfig {
	return config.SourceConfig{
		SeedURLs:   []string{seedURL},
		AllowHosts: []string{"agency.example"},
		MaxDepth:   2,
	}
}

func newCrawl(fetcher catalog.Fetcher) *CrawlAdapter {
	return NewCrawlAdapter(crawlConfig(), fetcher, nil, fastRetry(), testClock, 1, 0, nil)
}

func TestCrawlSeedPageEnqueuesProgramLinks(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{responses: map[string]catalog.FetchResult{
		seedURL: {URL: seedURL, StatusCode: 200, Body: seedPage},
	}}
	adapter := newCrawl(fetcher)

	batch, itemErrs, err := adapter.FetchBatch(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, itemErrs)
	assert.False(t, batch.Done)

	require.Len(t, batch.Items, 2)
	page := batch.Items[0]
	assert.Equal(t, seedURL, page.URL)
	assert.Equal(t, catalog.SourceCrawl, page.SourceType)
	assert.True(t, page.ProgramPage)
	assert.Equal(t, "0", page.Metadata["depth"])
	// The press release and offsite links are still recorded as outbound
	// links even though only program links enter the frontier.
	assert.Contains(t, page.Links, "https://agency.example/news/press-release")

	pdf := batch.Items[1]
	assert.Equal(t, catalog.SourcePDF, pdf.SourceType)
	assert.Equal(t, "https://agency.example/docs/factsheet.pdf", pdf.URL)
	assert.Equal(t, seedURL, pdf.Metadata["discovered_from"])

	var state crawlCursor
	require.NoError(t, json.Unmarshal([]byte(batch.NextCursor), &state))
	assert.Equal(t, []string{seedURL}, state.Visited)
	require.Len(t, state.Queue, 2)
	assert.Equal(t, "https://agency.example/programs/crop-loan", state.Queue[0].URL)
	assert.Equal(t, 1, state.Queue[0].Depth)
	assert.Equal(t, "https://agency.example/programs/disaster-assistance", state.Queue[1].URL)
}

func TestCrawlResumesFromCursor(t *testing.T) {
	t.Parallel()

	next := "https://agency.example/programs/crop-loan"
	fetcher := &fakeFetcher{responses: map[string]catalog.FetchResult{
		next: {URL: next, StatusCode: 200, Body: []byte("<html><body><h1>Crop Loan</h1></body></html>")},
	}}
	adapter := newCrawl(fetcher)

	cursor, err := encodeCursor(crawlCursor{
		Queue:   []queuedPage{{URL: next, Depth: 1}},
		Visited: []string{seedURL},
	})
	require.NoError(t, err)

	batch, itemErrs, err := adapter.FetchBatch(context.Background(), cursor)
	require.NoError(t, err)
	assert.Empty(t, itemErrs)
	assert.Equal(t, []string{next}, fetcher.calls)
	assert.True(t, batch.Done)

	var state crawlCursor
	require.NoError(t, json.Unmarshal([]byte(batch.NextCursor), &state))
	assert.Equal(t, []string{seedURL, next}, state.Visited)
}

func TestCrawlSkipsVisitedAndDeepPages(t *testing.T) {
	t.Parallel()

	adapter := newCrawl(&fakeFetcher{})
	cursor, err := encodeCursor(crawlCursor{
		Queue: []queuedPage{
			{URL: seedURL, Depth: 1},
			{URL: "https://agency.example/programs/deep", Depth: 5},
		},
		Visited: []string{seedURL},
	})
	require.NoError(t, err)

	batch, itemErrs, err := adapter.FetchBatch(context.Background(), cursor)
	require.NoError(t, err)
	assert.Empty(t, itemErrs)
	assert.True(t, batch.Done)
	assert.Empty(t, batch.Items)
}

func TestCrawlFetchFailureIsPerItem(t *testing.T) {
	t.Parallel()

	adapter := newCrawl(&fakeFetcher{}) // every fetch errors

	batch, itemErrs, err := adapter.FetchBatch(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, itemErrs, 1)
	assert.Equal(t, "fetch_error", itemErrs[0].Kind)
	assert.Equal(t, seedURL, itemErrs[0].Item)
	assert.True(t, batch.Done)

	// The failed page is still marked visited so a resume skips it.
	var state crawlCursor
	require.NoError(t, json.Unmarshal([]byte(batch.NextCursor), &state))
	assert.Equal(t, []string{seedURL}, state.Visited)
}

func TestCrawlMalformedCursorIsFatal(t *testing.T) {
	t.Parallel()

	adapter := newCrawl(&fakeFetcher{})
	_, _, err := adapter.FetchBatch(context.Background(), "{not json")
	require.Error(t, err)
	assert.True(t, catalog.IsFatal(err))
}

func TestCrawlRendererFallback(t *testing.T) {
	t.Parallel()

	shell := []byte("<html></html>")
	rendered := []byte(`<html><body><h1>Loan Program</h1>
<p>Eligibility, payment rate, how to apply.</p>
<a href="/programs/rendered-only">Rendered Program</a></body></html>`)

	fetcher := &fakeFetcher{responses: map[string]catalog.FetchResult{
		seedURL: {URL: seedURL, StatusCode: 200, Body: shell},
	}}
	renderer := &fakeRenderer{result: catalog.FetchResult{URL: seedURL, StatusCode: 200, Body: rendered}}
	adapter := NewCrawlAdapter(crawlConfig(), fetcher, renderer, fastRetry(), testClock, 1, 1024, nil)

	batch, _, err := adapter.FetchBatch(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, batch.Items, 1)
	assert.Contains(t, batch.Items[0].Links, "https://agency.example/programs/rendered-only")
}

func TestCrawlFetchesFrontierInParallel(t *testing.T) {
	t.Parallel()

	loan := "https://agency.example/programs/crop-loan"
	disaster := "https://agency.example/programs/disaster-assistance"
	page := []byte("<html><body><h1>Program</h1></body></html>")
	fetcher := &fakeFetcher{responses: map[string]catalog.FetchResult{
		loan:     {URL: loan, StatusCode: 200, Body: page},
		disaster: {URL: disaster, StatusCode: 200, Body: page},
	}}
	adapter := NewCrawlAdapter(crawlConfig(), fetcher, nil, fastRetry(), testClock, 2, 0, nil)

	cursor, err := encodeCursor(crawlCursor{
		Queue:   []queuedPage{{URL: loan, Depth: 1}, {URL: disaster, Depth: 1}},
		Visited: []string{seedURL},
	})
	require.NoError(t, err)

	batch, itemErrs, err := adapter.FetchBatch(context.Background(), cursor)
	require.NoError(t, err)
	assert.Empty(t, itemErrs)
	assert.True(t, batch.Done)

	// Both frontier pages were handled by the single batch, in pop order.
	require.Len(t, batch.Items, 2)
	assert.Equal(t, loan, batch.Items[0].URL)
	assert.Equal(t, disaster, batch.Items[1].URL)
	assert.ElementsMatch(t, []string{loan, disaster}, fetcher.fetched())

	var state crawlCursor
	require.NoError(t, json.Unmarshal([]byte(batch.NextCursor), &state))
	assert.Equal(t, []string{seedURL, loan, disaster}, state.Visited)
}

type fakeRenderer struct {
	result catalog.FetchResult
}

func (r *fakeRenderer) Render(_ context.Context, url string) (catalog.FetchResult, error) {
	res := r.result
	res.URL = url
	return res, nil
}
