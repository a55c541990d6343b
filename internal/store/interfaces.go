// Package store defines persistence contracts for pipeline entities.
package store

import (
	"context"
	"time"

	"github.com/farmassist/harvester/internal/catalog"
)

// UpsertResult reports what an idempotent upsert actually did.
type UpsertResult struct {
	Created bool
	Changed bool
}

// RawStore owns RawItem rows, keyed by origin URL. Rows are never deleted;
// re-fetches replace content and timestamp on the existing identity row.
type RawStore interface {
	UpsertRawItem(ctx context.Context, item catalog.RawItem) (UpsertResult, error)
	GetRawItem(ctx context.Context, url string) (catalog.RawItem, error)
	ListUnprocessed(ctx context.Context, source catalog.SourceType) ([]catalog.RawItem, error)
	MarkProcessed(ctx context.Context, url string, at time.Time) error
	CountRawItems(ctx context.Context) (int, error)
}

// DocumentStore owns Document rows, keyed by origin URL and mutated in place
// as extraction stages complete.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, doc catalog.Document) error
	GetDocument(ctx context.Context, url string) (catalog.Document, error)
	ListUnprocessedDocuments(ctx context.Context) ([]catalog.Document, error)
	MarkDocumentProcessed(ctx context.Context, url string, at time.Time) error
}

// CandidateStore owns ProgramCandidate rows, unique on
// (program_code, source_url). Re-extraction supersedes the prior candidate
// for the same key; candidates are otherwise immutable.
type CandidateStore interface {
	PutCandidate(ctx context.Context, c catalog.ProgramCandidate) error
	ListCandidates(ctx context.Context) ([]catalog.ProgramCandidate, error)
}

// ProgramStore owns canonical Program rows keyed by logical identity. Merge
// & Normalization is the sole writer.
type ProgramStore interface {
	UpsertProgram(ctx context.Context, p catalog.Program) error
	GetProgram(ctx context.Context, logicalID string) (catalog.Program, error)
	ListPrograms(ctx context.Context) ([]catalog.Program, error)
}

// GapStore owns DataGap rows. Each analysis run replaces a program's prior
// gap set wholesale.
type GapStore interface {
	ReplaceGaps(ctx context.Context, logicalID string, gaps []catalog.DataGap) error
	ListGaps(ctx context.Context, logicalID string) ([]catalog.DataGap, error)
}

// JobStore persists supervised job records. Only the orchestrator writes.
type JobStore interface {
	CreateJob(ctx context.Context, job catalog.Job) error
	UpdateJob(ctx context.Context, job catalog.Job) error
	GetJob(ctx context.Context, id string) (catalog.Job, error)
	ListJobs(ctx context.Context) ([]catalog.Job, error)
}

// PaymentStore owns historical-payment reconciliation rows, unique on
// (program_name, year, state, county, source).
type PaymentStore interface {
	UpsertHistoricalPayment(ctx context.Context, p catalog.HistoricalPayment) error
	ListHistoricalPayments(ctx context.Context, programName string) ([]catalog.HistoricalPayment, error)
}
