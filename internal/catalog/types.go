// Package catalog defines core types shared across subsystems.
package catalog

import (
	"time"
)

// SourceType identifies the harvesting tier a record came from.
type SourceType string

// Source tiers handled by their own adapters.
const (
	SourceAPI   SourceType = "api"
	SourceCrawl SourceType = "crawl"
	SourcePDF   SourceType = "pdf"
)

// JobType identifies the kind of supervised pipeline work a Job tracks.
type JobType string

// Job types persisted in the job store.
const (
	JobTypeAPI        JobType = "api"
	JobTypeDiscovery  JobType = "discovery"
	JobTypeExtraction JobType = "extraction"
	JobTypePDF        JobType = "pdf"
)

// JobStatus represents the lifecycle state of a pipeline job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// RawItem is one fetched artifact keyed by origin URL. Re-fetching the same
// URL replaces content and timestamp but reuses the identity row.
type RawItem struct {
	URL         string            `json:"url"`
	SourceType  SourceType        `json:"source_type"`
	FetchedAt   time.Time         `json:"fetched_at"`
	StatusCode  int               `json:"status_code"`
	Content     []byte            `json:"content"`
	ContentHash string            `json:"content_hash"`
	Links       []string          `json:"links,omitempty"`
	ProgramPage bool              `json:"program_page"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ProcessedAt *time.Time        `json:"processed_at,omitempty"`
}

// Document is a binary artifact (PDF) referenced by origin URL. Rows are
// mutated in place as extraction stages complete, never re-created.
type Document struct {
	URL             string     `json:"url"`
	BlobURI         string     `json:"blob_uri"`
	FetchedAt       time.Time  `json:"fetched_at"`
	TextExtracted   bool       `json:"text_extracted"`
	TablesExtracted bool       `json:"tables_extracted"`
	Method          string     `json:"extraction_method,omitempty"`
	Text            string     `json:"text,omitempty"`
	Tables          []Table    `json:"tables,omitempty"`
	PageCount       int        `json:"page_count"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

// Table is an extracted table as rows of cells.
type Table [][]string

// WarningKind classifies an extraction warning.
type WarningKind string

// Extraction warning kinds.
const (
	WarnNotFound         WarningKind = "not_found"
	WarnAmbiguous        WarningKind = "ambiguous"
	WarnUnparsableNumber WarningKind = "unparsable_number"
	WarnUnparsableDate   WarningKind = "unparsable_date"
	WarnInvariant        WarningKind = "invariant_violation"
	WarnStructure        WarningKind = "unexpected_structure"
)

// Warning records a single extraction failure or ambiguity.
type Warning struct {
	Field  string      `json:"field"`
	Kind   WarningKind `json:"kind"`
	Detail string      `json:"detail,omitempty"`
}

// ProgramCandidate is one extraction attempt's output. Candidates are never
// mutated after creation; corrections happen by superseding merge.
type ProgramCandidate struct {
	ID               string      `json:"id"`
	SourceURL        string      `json:"source_url"`
	SourceType       SourceType  `json:"source_type"`
	ProgramName      string      `json:"program_name"`
	ProgramCode      string      `json:"program_code,omitempty"`
	Description      string      `json:"description,omitempty"`
	EligibilityRaw   string      `json:"eligibility_raw,omitempty"`
	Criteria         CriteriaSet `json:"eligibility_parsed,omitempty"`
	PaymentInfoRaw   string      `json:"payment_info_raw,omitempty"`
	PaymentFormula   string      `json:"payment_formula,omitempty"`
	PaymentMin       *float64    `json:"payment_min,omitempty"`
	PaymentMax       *float64    `json:"payment_max,omitempty"`
	PaymentUnit      string      `json:"payment_unit,omitempty"`
	PaymentRangeText string      `json:"payment_range_text,omitempty"`
	ApplicationStart *time.Time  `json:"application_start,omitempty"`
	ApplicationEnd   *time.Time  `json:"application_end,omitempty"`
	DeadlineText     string      `json:"deadline_text,omitempty"`
	Confidence       float64     `json:"confidence_score"`
	Warnings         []Warning   `json:"extraction_warnings,omitempty"`
	ExtractedAt      time.Time   `json:"extracted_at"`
}

// Flagged reports whether the candidate violates a data invariant. Flagged
// candidates are retained but excluded from the "complete" classification.
func (c ProgramCandidate) Flagged() bool {
	if c.PaymentMin != nil && c.PaymentMax != nil && *c.PaymentMin > *c.PaymentMax {
		return true
	}
	if c.ApplicationStart != nil && c.ApplicationEnd != nil && c.ApplicationStart.After(*c.ApplicationEnd) {
		return true
	}
	return false
}

// FieldProvenance records which candidate contributed a canonical field value.
type FieldProvenance struct {
	SourceURL   string    `json:"source_url"`
	Confidence  float64   `json:"confidence"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Program is the merged, externally visible entity. It logically represents
// one real-world program across sources; LogicalID is the program code when
// present, else the normalized program name.
type Program struct {
	LogicalID        string                     `json:"logical_id"`
	ProgramName      string                     `json:"program_name"`
	ProgramCode      string                     `json:"program_code,omitempty"`
	SourceURL        string                     `json:"source_url"`
	Description      string                     `json:"description,omitempty"`
	EligibilityRaw   string                     `json:"eligibility_raw,omitempty"`
	Criteria         CriteriaSet                `json:"eligibility_parsed,omitempty"`
	PaymentInfoRaw   string                     `json:"payment_info_raw,omitempty"`
	PaymentFormula   string                     `json:"payment_formula,omitempty"`
	PaymentMin       *float64                   `json:"payment_min,omitempty"`
	PaymentMax       *float64                   `json:"payment_max,omitempty"`
	PaymentUnit      string                     `json:"payment_unit,omitempty"`
	PaymentRangeText string                     `json:"payment_range_text,omitempty"`
	ApplicationStart *time.Time                 `json:"application_start,omitempty"`
	ApplicationEnd   *time.Time                 `json:"application_end,omitempty"`
	DeadlineText     string                     `json:"deadline_text,omitempty"`
	Confidence       float64                    `json:"confidence_score"`
	Flagged          bool                       `json:"flagged"`
	FieldSources     map[string]FieldProvenance `json:"field_sources,omitempty"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

// GapImportance classifies how badly a missing field hurts a program record.
type GapImportance string

// Gap importance classes.
const (
	GapCritical   GapImportance = "critical"
	GapImportant  GapImportance = "important"
	GapNiceToHave GapImportance = "nice_to_have"
)

// DataGap records a missing high-value field on a canonical Program. Gap sets
// are recomputed per analysis run, not incrementally patched.
type DataGap struct {
	LogicalID    string        `json:"logical_id"`
	ProgramName  string        `json:"program_name"`
	MissingField string        `json:"missing_field"`
	Importance   GapImportance `json:"importance"`
	Note         string        `json:"note,omitempty"`
}

// JobError is one entry in a job's structured error log.
type JobError struct {
	Item   string `json:"item"`
	Kind   string `json:"error_kind"`
	Detail string `json:"detail"`
}

// JobCounters tracks per-job item stats. ProcessedItems counts every item
// the job attempted; FailedItems is the subset that errored.
type JobCounters struct {
	TotalItems     int `json:"total_items"`
	ProcessedItems int `json:"processed_items"`
	FailedItems    int `json:"failed_items"`
}

// Job is a supervised unit of pipeline work. It is exclusively owned and
// mutated by the orchestrator.
type Job struct {
	ID        string      `json:"id"`
	Type      JobType     `json:"type"`
	Status    JobStatus   `json:"status"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	Cursor    string      `json:"cursor,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Counters  JobCounters `json:"counters"`
	Errors    []JobError  `json:"errors,omitempty"`
}

// HistoricalPayment is an externally supplied subsidy reconciliation row,
// unique on (program_name, year, state, county, source).
type HistoricalPayment struct {
	ProgramName string    `json:"program_name"`
	Year        int       `json:"year"`
	State       string    `json:"state"`
	County      string    `json:"county"`
	Source      string    `json:"source"`
	Amount      *float64  `json:"amount,omitempty"`
	Unit        string    `json:"unit,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}
