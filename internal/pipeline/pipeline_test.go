package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmassist/harvester/internal/catalog"
	"github.com/farmassist/harvester/internal/extract"
	"github.com/farmassist/harvester/internal/merge"
	pubmem "github.com/farmassist/harvester/internal/publisher/memory"
	storemem "github.com/farmassist/harvester/internal/store/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testClock = fixedClock{now: time.Unix(1700000000, 0).UTC()}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("job-%d", s.n), nil
}

// fakeAdapter replays a scripted batch sequence; the cursor is the index of
// the next batch.
type fakeAdapter struct {
	source   catalog.SourceType
	jobType  catalog.JobType
	batches  []catalog.Batch
	itemErrs [][]catalog.ItemError
	fatal    error
}

func (a *fakeAdapter) Type() catalog.SourceType { return a.source }
func (a *fakeAdapter) JobType() catalog.JobType { return a.jobType }

func (a *fakeAdapter) FetchBatch(_ context.Context, cursor string) (catalog.Batch, []catalog.ItemError, error) {
	if a.fatal != nil {
		return catalog.Batch{}, nil, a.fatal
	}
	idx := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &idx)
	}
	if idx >= len(a.batches) {
		return catalog.Batch{Done: true}, nil, nil
	}
	batch := a.batches[idx]
	batch.NextCursor = fmt.Sprintf("%d", idx+1)
	batch.Done = idx+1 >= len(a.batches)
	var errs []catalog.ItemError
	if idx < len(a.itemErrs) {
		errs = a.itemErrs[idx]
	}
	return batch, errs, nil
}

type fixture struct {
	deps Deps
	pub  *pubmem.Publisher
	raw  *storemem.RawStore
	jobs *storemem.JobStore
}

func newFixture(adapters ...catalog.SourceAdapter) *fixture {
	pub := pubmem.New()
	raw := storemem.NewRawStore()
	jobs := storemem.NewJobStore()
	ids := &seqIDs{}
	return &fixture{
		pub:  pub,
		raw:  raw,
		jobs: jobs,
		deps: Deps{
			Adapters:   adapters,
			Raw:        raw,
			Documents:  storemem.NewDocumentStore(),
			Candidates: storemem.NewCandidateStore(),
			Programs:   storemem.NewProgramStore(),
			Gaps:       storemem.NewGapStore(),
			Jobs:       jobs,
			Engine:     extract.NewEngine(ids, testClock, nil),
			Merger:     merge.New(testClock, nil),
			Publisher:  pub,
			IDs:        ids,
			Clock:      testClock,
		},
	}
}

func newPipeline(f *fixture) *Pipeline {
	return New(f.deps, Config{
		ExtractionConcurrency: 4,
		MinConfidence:         0.3,
	}, nil)
}

const loanPage = `<html><head><title>Crop Loan Program</title>
<meta name="description" content="The Crop Loan Program provides marketing assistance loans to wheat and corn producers who need operating capital between harvest and sale.">
</head><body><h1>Crop Loan Program (CLP)</h1>
<h2>Eligibility</h2>
<p>Producers of eligible commodities who maintain beneficial interest in
the crop are eligible for marketing assistance loans under this program.</p>
<p>Payment rate is $3.50 per bushel. Applications are due by March 31, 2026.</p>
</body></html>`

func crawlBatch(url string) catalog.Batch {
	return catalog.Batch{Items: []catalog.RawItem{{
		URL:        url,
		SourceType: catalog.SourceCrawl,
		FetchedAt:  testClock.Now(),
		StatusCode: 200,
		Content:    []byte(loanPage),
	}}}
}

func TestRunHarvestsExtractsAndMerges(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		source:  catalog.SourceCrawl,
		jobType: catalog.JobTypeDiscovery,
		batches: []catalog.Batch{crawlBatch("https://agency.example/programs/crop-loan")},
	}
	f := newFixture(adapter)
	p := newPipeline(f)

	require.NoError(t, p.Run(context.Background()))

	// Discovery and extraction jobs both completed.
	jobs, err := f.jobs.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		assert.Equal(t, catalog.JobStatusCompleted, job.Status, string(job.Type))
		require.NotNil(t, job.Finished)
	}

	// The harvested page became a canonical program with provenance.
	programs, err := f.deps.Programs.ListPrograms(context.Background())
	require.NoError(t, err)
	require.Len(t, programs, 1)
	program := programs[0]
	assert.Equal(t, "clp", program.LogicalID)
	assert.Equal(t, "Crop Loan Program (CLP)", program.ProgramName)
	require.NotNil(t, program.PaymentMin)
	assert.InDelta(t, 3.5, *program.PaymentMin, 0.001)

	// The crawl row was consumed by extraction.
	unprocessed, err := f.raw.ListUnprocessed(context.Background(), catalog.SourceCrawl)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)

	// One event per merged program, decodable back into the canonical form.
	published, err := f.pub.Programs("program-updated")
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "clp", published[0].LogicalID)
}

func TestPerItemFailuresDoNotFailTheJob(t *testing.T) {
	t.Parallel()

	var batches []catalog.Batch
	var itemErrs [][]catalog.ItemError
	for i := 0; i < 10; i++ {
		batches = append(batches, crawlBatch(fmt.Sprintf("https://agency.example/programs/p%d", i)))
		if i < 2 {
			itemErrs = append(itemErrs, []catalog.ItemError{{
				Item: fmt.Sprintf("https://agency.example/broken/%d", i),
				Kind: "fetch_error", Detail: "connection reset",
			}})
		} else {
			itemErrs = append(itemErrs, nil)
		}
	}
	adapter := &fakeAdapter{
		source:   catalog.SourceCrawl,
		jobType:  catalog.JobTypeDiscovery,
		batches:  batches,
		itemErrs: itemErrs,
	}
	f := newFixture(adapter)
	p := newPipeline(f)

	require.NoError(t, p.Run(context.Background()))

	jobs, err := f.jobs.ListJobs(context.Background())
	require.NoError(t, err)
	var discovery catalog.Job
	for _, job := range jobs {
		if job.Type == catalog.JobTypeDiscovery {
			discovery = job
		}
	}
	assert.Equal(t, catalog.JobStatusCompleted, discovery.Status)
	// Failed items count toward processed: 10 pages plus 2 broken links.
	assert.Equal(t, 12, discovery.Counters.ProcessedItems)
	assert.Equal(t, 2, discovery.Counters.FailedItems)
	require.Len(t, discovery.Errors, 2)
	assert.Equal(t, "fetch_error", discovery.Errors[0].Kind)
}

func TestExtractionCountsFailedDocumentsAsProcessed(t *testing.T) {
	t.Parallel()

	f := newFixture()
	for i := 0; i < 10; i++ {
		doc := catalog.Document{
			URL:       fmt.Sprintf("https://agency.example/docs/sheet-%d.pdf", i),
			FetchedAt: testClock.Now(),
		}
		// Two scans without a text layer; the rest extracted cleanly.
		if i >= 2 {
			doc.TextExtracted = true
			doc.Text = "Payment rate is $3.50 per bushel for eligible producers."
		}
		require.NoError(t, f.deps.Documents.UpsertDocument(context.Background(), doc))
	}

	p := newPipeline(f)
	require.NoError(t, p.RunExtraction(context.Background()))

	jobs, err := f.jobs.ListJobs(context.Background())
	require.NoError(t, err)
	var extraction catalog.Job
	for _, job := range jobs {
		if job.Type == catalog.JobTypeExtraction {
			extraction = job
		}
	}
	assert.Equal(t, catalog.JobStatusCompleted, extraction.Status)
	assert.Equal(t, 10, extraction.Counters.TotalItems)
	assert.Equal(t, 10, extraction.Counters.ProcessedItems)
	assert.Equal(t, 2, extraction.Counters.FailedItems)

	kinds := map[string]int{}
	for _, jobErr := range extraction.Errors {
		kinds[jobErr.Kind]++
	}
	assert.Equal(t, 2, kinds["no_text_layer"])
}

func TestFatalTierFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	broken := &fakeAdapter{
		source:  catalog.SourceAPI,
		jobType: catalog.JobTypeAPI,
		fatal:   catalog.Fatalf("api key rejected"),
	}
	healthy := &fakeAdapter{
		source:  catalog.SourceCrawl,
		jobType: catalog.JobTypeDiscovery,
		batches: []catalog.Batch{crawlBatch("https://agency.example/programs/crop-loan")},
	}
	f := newFixture(broken, healthy)
	p := newPipeline(f)

	err := p.Run(context.Background())
	require.Error(t, err)

	byType := map[catalog.JobType]catalog.Job{}
	jobs, listErr := f.jobs.ListJobs(context.Background())
	require.NoError(t, listErr)
	for _, job := range jobs {
		byType[job.Type] = job
	}
	assert.Equal(t, catalog.JobStatusFailed, byType[catalog.JobTypeAPI].Status)
	assert.Contains(t, byType[catalog.JobTypeAPI].ErrorText, "api key rejected")
	assert.Equal(t, catalog.JobStatusCompleted, byType[catalog.JobTypeDiscovery].Status)

	// The healthy tier's output still reached the canonical table.
	programs, progErr := f.deps.Programs.ListPrograms(context.Background())
	require.NoError(t, progErr)
	assert.Len(t, programs, 1)
}

func TestPDFTierRunsAfterDiscovery(t *testing.T) {
	t.Parallel()

	var order []string
	discovery := &orderedAdapter{
		fakeAdapter: fakeAdapter{
			source:  catalog.SourceCrawl,
			jobType: catalog.JobTypeDiscovery,
			batches: []catalog.Batch{crawlBatch("https://agency.example/programs/crop-loan")},
		},
		order: &order,
	}
	pdf := &orderedAdapter{
		fakeAdapter: fakeAdapter{
			source:  catalog.SourcePDF,
			jobType: catalog.JobTypePDF,
		},
		order: &order,
	}
	f := newFixture(discovery, pdf)
	p := newPipeline(f)

	require.NoError(t, p.Run(context.Background()))
	require.NotEmpty(t, order)
	assert.Equal(t, "discovery", order[0])
	assert.Equal(t, "pdf", order[len(order)-1])
}

func TestMergeGatesLowConfidenceCriteria(t *testing.T) {
	t.Parallel()

	f := newFixture()
	weak := catalog.ProgramCandidate{
		ID:          "cand-1",
		SourceURL:   "https://agency.example/weak",
		SourceType:  catalog.SourceCrawl,
		ProgramName: "Weak Program",
		Criteria:    catalog.CriteriaSet{catalog.FlagCropFarming: catalog.True},
		Confidence:  0.1,
		ExtractedAt: testClock.Now(),
	}
	require.NoError(t, f.deps.Candidates.PutCandidate(context.Background(), weak))

	p := newPipeline(f)
	require.NoError(t, p.RunMerge(context.Background()))

	programs, err := f.deps.Programs.ListPrograms(context.Background())
	require.NoError(t, err)
	require.Len(t, programs, 1)
	assert.Empty(t, programs[0].Criteria.KnownTrue())
	// The candidate's non-criteria fields still merged.
	assert.Equal(t, "Weak Program", programs[0].ProgramName)
}

func TestMergeWritesGapsForIncompletePrograms(t *testing.T) {
	t.Parallel()

	f := newFixture()
	candidate := catalog.ProgramCandidate{
		ID:          "cand-1",
		SourceURL:   "https://agency.example/sparse",
		SourceType:  catalog.SourceCrawl,
		ProgramName: "Sparse Program",
		Confidence:  0.6,
		ExtractedAt: testClock.Now(),
	}
	require.NoError(t, f.deps.Candidates.PutCandidate(context.Background(), candidate))

	p := newPipeline(f)
	require.NoError(t, p.RunMerge(context.Background()))

	gaps, err := f.deps.Gaps.ListGaps(context.Background(), "sparse program")
	require.NoError(t, err)
	require.NotEmpty(t, gaps)

	kinds := map[string]catalog.GapImportance{}
	for _, gap := range gaps {
		kinds[gap.MissingField] = gap.Importance
	}
	assert.Equal(t, catalog.GapCritical, kinds["payment_info"])
	assert.Equal(t, catalog.GapImportant, kinds["eligibility"])
}

type orderedAdapter struct {
	fakeAdapter
	order *[]string
}

func (a *orderedAdapter) FetchBatch(ctx context.Context, cursor string) (catalog.Batch, []catalog.ItemError, error) {
	if cursor == "" {
		*a.order = append(*a.order, string(a.jobType))
	}
	return a.fakeAdapter.FetchBatch(ctx, cursor)
}
