// Package pipeline supervises the harvest, extraction, and merge stages as
// persisted jobs.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/farmassist/harvester/internal/catalog"
	"github.com/farmassist/harvester/internal/extract"
	"github.com/farmassist/harvester/internal/gaps"
	"github.com/farmassist/harvester/internal/merge"
	"github.com/farmassist/harvester/internal/metrics"
	"github.com/farmassist/harvester/internal/store"
)

// Jobs keep at most this many structured item errors; the failed counter
// still reflects the true total.
const maxJobErrors = 50

// Config controls orchestration behavior. Fetch concurrency is an adapter
// concern; the orchestrator only bounds extraction.
type Config struct {
	ExtractionConcurrency int
	MinConfidence         float64
	Topic                 string
}

// Deps collects the stores and stages the orchestrator drives.
type Deps struct {
	Adapters   []catalog.SourceAdapter
	Raw        store.RawStore
	Documents  store.DocumentStore
	Candidates store.CandidateStore
	Programs   store.ProgramStore
	Gaps       store.GapStore
	Jobs       store.JobStore
	Engine     *extract.Engine
	Merger     *merge.Merger
	Publisher  catalog.Publisher
	IDs        catalog.IDGenerator
	Clock      catalog.Clock
}

// Pipeline runs source tiers to completion, extracts candidates from the
// harvested rows, and publishes merged canonical programs.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ExtractionConcurrency <= 0 {
		cfg.ExtractionConcurrency = 1
	}
	if cfg.Topic == "" {
		cfg.Topic = "program-updated"
	}
	metrics.Init()
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}
}

// Run executes one full pipeline pass. A failed tier never blocks the
// others; the error reports how many stages failed.
func (p *Pipeline) Run(ctx context.Context) error {
	failed := 0

	// The PDF backlog is produced by discovery, so that tier waits for the
	// others. Everything ahead of it runs concurrently.
	var concurrent []catalog.SourceAdapter
	var deferred []catalog.SourceAdapter
	for _, adapter := range p.deps.Adapters {
		if adapter.Type() == catalog.SourcePDF {
			deferred = append(deferred, adapter)
			continue
		}
		concurrent = append(concurrent, adapter)
	}

	// Tiers are independent, so their jobs run side by side; each adapter
	// bounds its own item fetches.
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, adapter := range concurrent {
		wg.Add(1)
		go func(adapter catalog.SourceAdapter) {
			defer wg.Done()
			if err := p.runHarvestJob(ctx, adapter); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(adapter)
	}
	wg.Wait()

	for _, adapter := range deferred {
		if err := p.runHarvestJob(ctx, adapter); err != nil {
			failed++
		}
	}

	if err := p.RunExtraction(ctx); err != nil {
		p.logger.Error("extraction stage failed", zap.Error(err))
		failed++
	} else if err := p.RunMerge(ctx); err != nil {
		p.logger.Error("merge stage failed", zap.Error(err))
		failed++
	}

	if failed > 0 {
		return fmt.Errorf("%d pipeline stage(s) failed", failed)
	}
	return nil
}

// runHarvestJob drives one adapter from its empty cursor to Done under a
// supervised job. Per-item failures are logged on the job; only a fatal
// adapter error fails it.
func (p *Pipeline) runHarvestJob(ctx context.Context, adapter catalog.SourceAdapter) error {
	job, err := p.startJob(ctx, adapter.JobType())
	if err != nil {
		return err
	}
	tier := string(adapter.JobType())

	cursor := ""
	for {
		if ctx.Err() != nil {
			return p.failJob(ctx, job, ctx.Err())
		}
		batch, itemErrs, err := adapter.FetchBatch(ctx, cursor)
		if err != nil {
			return p.failJob(ctx, job, err)
		}

		// Every item the job touches counts as processed; failed_items is
		// the subset that errored.
		for _, itemErr := range itemErrs {
			job.Counters.TotalItems++
			job.Counters.ProcessedItems++
			p.recordItemError(&job, itemErr)
			metrics.ObserveItem(tier, "error", 0, itemErr.Item)
		}
		for _, item := range batch.Items {
			job.Counters.TotalItems++
			job.Counters.ProcessedItems++
			if _, err := p.deps.Raw.UpsertRawItem(ctx, item); err != nil {
				p.recordItemError(&job, catalog.ItemError{
					Item: item.URL, Kind: "store_error", Detail: err.Error(),
				})
				metrics.ObserveItem(tier, "error", 0, item.URL)
				continue
			}
			// API and PDF rows are fully handled at harvest time; only
			// crawl pages wait for the extraction stage.
			if item.SourceType != catalog.SourceCrawl && len(item.Content) > 0 {
				if err := p.deps.Raw.MarkProcessed(ctx, item.URL, p.deps.Clock.Now()); err != nil {
					p.logger.Warn("mark processed failed",
						zap.String("url", item.URL), zap.Error(err))
				}
			}
			metrics.ObserveItem(tier, "success", len(item.Content), item.URL)
		}

		cursor = batch.NextCursor
		job.Cursor = cursor
		if err := p.deps.Jobs.UpdateJob(ctx, job); err != nil {
			p.logger.Warn("job checkpoint failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		if batch.Done {
			break
		}
	}

	return p.completeJob(ctx, job)
}

// RunExtraction turns unprocessed crawl pages and extracted documents into
// program candidates under a supervised job.
func (p *Pipeline) RunExtraction(ctx context.Context) error {
	job, err := p.startJob(ctx, catalog.JobTypeExtraction)
	if err != nil {
		return err
	}

	pages, err := p.deps.Raw.ListUnprocessed(ctx, catalog.SourceCrawl)
	if err != nil {
		return p.failJob(ctx, job, err)
	}
	docs, err := p.deps.Documents.ListUnprocessedDocuments(ctx)
	if err != nil {
		return p.failJob(ctx, job, err)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.cfg.ExtractionConcurrency)

	process := func(fn func() *catalog.ItemError) {
		defer wg.Done()
		sem <- struct{}{}
		defer func() { <-sem }()
		itemErr := fn()
		mu.Lock()
		defer mu.Unlock()
		job.Counters.TotalItems++
		job.Counters.ProcessedItems++
		if itemErr != nil {
			p.recordItemError(&job, *itemErr)
			metrics.ObserveItem("extraction", "error", 0, itemErr.Item)
		}
	}

	for _, page := range pages {
		wg.Add(1)
		page := page
		go process(func() *catalog.ItemError {
			return p.extractPage(ctx, page)
		})
	}
	for _, doc := range docs {
		wg.Add(1)
		doc := doc
		go process(func() *catalog.ItemError {
			return p.extractDocument(ctx, doc)
		})
	}
	wg.Wait()

	return p.completeJob(ctx, job)
}

func (p *Pipeline) extractPage(ctx context.Context, page catalog.RawItem) *catalog.ItemError {
	if len(page.Content) == 0 {
		// Nothing fetched; leave the row for a later harvest pass.
		return &catalog.ItemError{Item: page.URL, Kind: "empty_content", Detail: "no page body"}
	}
	candidate := p.deps.Engine.FromHTML(page)
	if err := p.deps.Candidates.PutCandidate(ctx, candidate); err != nil {
		return &catalog.ItemError{Item: page.URL, Kind: "store_error", Detail: err.Error()}
	}
	metrics.ObserveConfidence(candidate.Confidence)
	if err := p.deps.Raw.MarkProcessed(ctx, page.URL, p.deps.Clock.Now()); err != nil {
		return &catalog.ItemError{Item: page.URL, Kind: "store_error", Detail: err.Error()}
	}
	return nil
}

func (p *Pipeline) extractDocument(ctx context.Context, doc catalog.Document) *catalog.ItemError {
	if !doc.TextExtracted {
		// Scanned documents stay in the backlog for a better extractor.
		return &catalog.ItemError{Item: doc.URL, Kind: "no_text_layer", Detail: "document has no extracted text"}
	}
	candidate := p.deps.Engine.FromText(doc.Text, doc.URL, catalog.SourcePDF)
	if err := p.deps.Candidates.PutCandidate(ctx, candidate); err != nil {
		return &catalog.ItemError{Item: doc.URL, Kind: "store_error", Detail: err.Error()}
	}
	metrics.ObserveConfidence(candidate.Confidence)
	if err := p.deps.Documents.MarkDocumentProcessed(ctx, doc.URL, p.deps.Clock.Now()); err != nil {
		return &catalog.ItemError{Item: doc.URL, Kind: "store_error", Detail: err.Error()}
	}
	return nil
}

// RunMerge folds all stored candidates into canonical programs, refreshes
// gap analysis, and publishes one event per updated program.
func (p *Pipeline) RunMerge(ctx context.Context) error {
	candidates, err := p.deps.Candidates.ListCandidates(ctx)
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}

	// Criteria parsed from low-confidence extractions are too noisy to
	// merge; the candidates still contribute their other fields.
	gated := make([]catalog.ProgramCandidate, len(candidates))
	copy(gated, candidates)
	for i := range gated {
		if gated[i].Confidence < p.cfg.MinConfidence {
			gated[i].Criteria = nil
		}
	}

	programs := p.deps.Merger.Merge(gated)
	allGaps := gaps.Analyze(programs)
	gapsByProgram := make(map[string][]catalog.DataGap)
	for _, gap := range allGaps {
		gapsByProgram[gap.LogicalID] = append(gapsByProgram[gap.LogicalID], gap)
	}

	for _, program := range programs {
		if err := p.deps.Programs.UpsertProgram(ctx, program); err != nil {
			return fmt.Errorf("upsert program %s: %w", program.LogicalID, err)
		}
		if err := p.deps.Gaps.ReplaceGaps(ctx, program.LogicalID, gapsByProgram[program.LogicalID]); err != nil {
			return fmt.Errorf("replace gaps for %s: %w", program.LogicalID, err)
		}
		if p.deps.Publisher != nil {
			if _, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, program); err != nil {
				p.logger.Warn("publish program event failed",
					zap.String("logical_id", program.LogicalID), zap.Error(err))
			}
		}
	}

	metrics.SetPrograms(len(programs))
	byImportance := map[catalog.GapImportance]int{}
	for _, gap := range allGaps {
		byImportance[gap.Importance]++
	}
	for importance, count := range byImportance {
		metrics.SetGaps(string(importance), count)
	}

	summary := gaps.Summarize(programs)
	p.logger.Info("merge completed",
		zap.Int("candidates", len(candidates)),
		zap.Int("programs", len(programs)),
		zap.Int("gaps", len(allGaps)),
		zap.Float64("avg_confidence", summary.AvgConfidence))
	return nil
}

func (p *Pipeline) startJob(ctx context.Context, jobType catalog.JobType) (catalog.Job, error) {
	id, err := p.deps.IDs.NewID()
	if err != nil {
		return catalog.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	now := p.deps.Clock.Now()
	job := catalog.Job{
		ID:        id,
		Type:      jobType,
		Status:    catalog.JobStatusPending,
		Submitted: now,
	}
	if err := p.deps.Jobs.CreateJob(ctx, job); err != nil {
		return catalog.Job{}, fmt.Errorf("create job: %w", err)
	}

	started := p.deps.Clock.Now()
	job.Status = catalog.JobStatusRunning
	job.Started = &started
	if err := p.deps.Jobs.UpdateJob(ctx, job); err != nil {
		return catalog.Job{}, fmt.Errorf("start job: %w", err)
	}
	p.logger.Info("job started", zap.String("job_id", job.ID), zap.String("type", string(jobType)))
	return job, nil
}

func (p *Pipeline) completeJob(ctx context.Context, job catalog.Job) error {
	finished := p.deps.Clock.Now()
	job.Status = catalog.JobStatusCompleted
	job.Finished = &finished
	if err := p.deps.Jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	p.observeJob(job)
	p.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.Int("processed", job.Counters.ProcessedItems),
		zap.Int("failed", job.Counters.FailedItems))
	return nil
}

func (p *Pipeline) failJob(ctx context.Context, job catalog.Job, cause error) error {
	finished := p.deps.Clock.Now()
	job.Status = catalog.JobStatusFailed
	job.Finished = &finished
	job.ErrorText = cause.Error()
	if err := p.deps.Jobs.UpdateJob(ctx, job); err != nil {
		p.logger.Error("record job failure failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	p.observeJob(job)
	p.logger.Error("job failed",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.Bool("fatal", catalog.IsFatal(cause)),
		zap.Error(cause))
	return cause
}

func (p *Pipeline) observeJob(job catalog.Job) {
	duration := job.Finished.Sub(job.Submitted)
	metrics.ObserveJob(string(job.Type), string(job.Status), duration)
}

// recordItemError bumps the failure counter and keeps the first maxJobErrors
// structured errors. Callers count the item as processed themselves.
func (p *Pipeline) recordItemError(job *catalog.Job, itemErr catalog.ItemError) {
	job.Counters.FailedItems++
	if len(job.Errors) < maxJobErrors {
		job.Errors = append(job.Errors, catalog.JobError{
			Item:   itemErr.Item,
			Kind:   itemErr.Kind,
			Detail: itemErr.Detail,
		})
	}
}
