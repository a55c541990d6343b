// Package app assembles the harvester's services from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/farmassist/harvester/internal/blob"
	blobgcs "github.com/farmassist/harvester/internal/blob/gcs"
	bloblocal "github.com/farmassist/harvester/internal/blob/local"
	blobmem "github.com/farmassist/harvester/internal/blob/memory"
	"github.com/farmassist/harvester/internal/catalog"
	"github.com/farmassist/harvester/internal/config"
	"github.com/farmassist/harvester/internal/extract"
	"github.com/farmassist/harvester/internal/fetch"
	"github.com/farmassist/harvester/internal/ident"
	"github.com/farmassist/harvester/internal/logging"
	"github.com/farmassist/harvester/internal/merge"
	"github.com/farmassist/harvester/internal/pipeline"
	pubsubpub "github.com/farmassist/harvester/internal/publisher/pubsub"
	"github.com/farmassist/harvester/internal/source"
	"github.com/farmassist/harvester/internal/store"
	storemem "github.com/farmassist/harvester/internal/store/memory"
	storepg "github.com/farmassist/harvester/internal/store/postgres"
)

// Stores groups the persistence interfaces the rest of the app consumes.
type Stores struct {
	Raw        store.RawStore
	Documents  store.DocumentStore
	Candidates store.CandidateStore
	Programs   store.ProgramStore
	Gaps       store.GapStore
	Jobs       store.JobStore
	Payments   store.PaymentStore
}

// App owns the wired service graph and its shutdown order.
type App struct {
	Cfg      config.Config
	Logger   *zap.Logger
	Stores   Stores
	Blobs    blob.Store
	Pipeline *pipeline.Pipeline

	closers []func()
}

// New builds the full service graph. Pass an empty cfgPath to run on
// defaults and environment variables only.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &App{Cfg: cfg, Logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	if err := a.buildStores(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildBlobStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildPipeline(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases resources in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) buildStores(ctx context.Context) error {
	if a.Cfg.DB.DSN == "" {
		a.Logger.Info("no database configured, using in-memory stores")
		a.Stores = Stores{
			Raw:        storemem.NewRawStore(),
			Documents:  storemem.NewDocumentStore(),
			Candidates: storemem.NewCandidateStore(),
			Programs:   storemem.NewProgramStore(),
			Gaps:       storemem.NewGapStore(),
			Jobs:       storemem.NewJobStore(),
			Payments:   storemem.NewPaymentStore(),
		}
		return nil
	}

	if a.Cfg.DB.Migrate {
		version, err := storepg.RunMigrations(a.Cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		a.Logger.Info("migrations applied", zap.Uint("version", version))
	}

	pg, err := storepg.New(ctx, storepg.Config{
		DSN:      a.Cfg.DB.DSN,
		MaxConns: a.Cfg.DB.MaxConns,
		MinConns: a.Cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, pg.Close)
	a.Stores = Stores{
		Raw:        pg,
		Documents:  pg,
		Candidates: pg,
		Programs:   pg,
		Gaps:       pg,
		Jobs:       pg,
		Payments:   pg,
	}
	return nil
}

func (a *App) buildBlobStore(ctx context.Context) error {
	switch a.Cfg.Storage.Provider {
	case "memory":
		a.Blobs = blobmem.NewBlobStore()
	case "local":
		local, err := bloblocal.New(bloblocal.Config{BaseDir: a.Cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store: %w", err)
		}
		a.Blobs = local
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		gcs, err := blobgcs.New(client, blobgcs.Config{Bucket: a.Cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store: %w", err)
		}
		a.Blobs = gcs
	default:
		return fmt.Errorf("unknown storage provider %q", a.Cfg.Storage.Provider)
	}
	return nil
}

func (a *App) buildPipeline(ctx context.Context) error {
	cfg := a.Cfg

	fetcher, err := fetch.NewCollyFetcher(fetch.CollyConfig{
		UserAgent:      cfg.Source.UserAgent,
		AllowedHosts:   nil, // the crawl adapter enforces the allow list
		Concurrency:    cfg.Pipeline.FetchConcurrency,
		RequestTimeout: cfg.RequestTimeout(),
		Delay:          cfg.CrawlDelay(),
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("build fetcher: %w", err)
	}

	var renderer catalog.Renderer
	if cfg.Render.Enabled {
		chrome, err := fetch.NewChromedpRenderer(fetch.RenderConfig{
			UserAgent:   cfg.Source.UserAgent,
			MaxParallel: cfg.Render.MaxParallel,
			NavTimeout:  time.Duration(cfg.Render.NavTimeoutSec) * time.Second,
			DomainQPS:   cfg.Render.DomainQPS,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("build renderer: %w", err)
		}
		a.closers = append(a.closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = chrome.Close(closeCtx)
		})
		renderer = chrome
	}

	retry := source.NewRetryPolicy(cfg.HTTP.MaxRetries, cfg.BackoffInitial(), cfg.BackoffMax())
	clock := catalog.SystemClock{}
	ids := ident.New()

	fetchConcurrency := cfg.Pipeline.FetchConcurrency
	var adapters []catalog.SourceAdapter
	if cfg.Pipeline.EnableAPI {
		adapters = append(adapters, source.NewAPIAdapter(
			cfg.Source, fetcher, retry, a.Stores.Payments, clock, fetchConcurrency, a.Logger))
	}
	if cfg.Pipeline.EnableCrawl {
		adapters = append(adapters, source.NewCrawlAdapter(
			cfg.Source, fetcher, renderer, retry, clock, fetchConcurrency,
			cfg.Render.MinHTMLBytes, a.Logger))
	}
	if cfg.Pipeline.EnablePDF {
		adapters = append(adapters, source.NewPDFAdapter(
			a.Stores.Raw, a.Stores.Documents, a.Blobs, fetcher,
			fetch.NewPDFExtractor(), retry, clock, fetchConcurrency,
			cfg.Storage.Prefix, a.Logger))
	}

	var publisher catalog.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		topic := client.Topic(cfg.PubSub.TopicName)
		a.closers = append(a.closers, topic.Stop)
		publisher = pubsubpub.New(topic)
	}

	a.Pipeline = pipeline.New(pipeline.Deps{
		Adapters:   adapters,
		Raw:        a.Stores.Raw,
		Documents:  a.Stores.Documents,
		Candidates: a.Stores.Candidates,
		Programs:   a.Stores.Programs,
		Gaps:       a.Stores.Gaps,
		Jobs:       a.Stores.Jobs,
		Engine:     extract.NewEngine(ids, clock, a.Logger),
		Merger:     merge.New(clock, a.Logger),
		Publisher:  publisher,
		IDs:        ids,
		Clock:      clock,
	}, pipeline.Config{
		ExtractionConcurrency: cfg.Pipeline.ExtractionConcurrency,
		MinConfidence:         cfg.Pipeline.MinConfidence,
		Topic:                 cfg.PubSub.TopicName,
	}, a.Logger)
	return nil
}
