// Package postgres provides pgx-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/farmassist/harvester/internal/catalog"
	"github.com/farmassist/harvester/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements the store interfaces over Postgres. Uniqueness is
// enforced by the schema: raw_items(url), documents(url),
// program_candidates(program_code, source_url), programs(logical_id),
// historical_payments(program_name, year, state, county, source).
type Store struct {
	db DB
}

// New creates a pooled Store from the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{db: pool}, nil
}

// NewWithDB constructs a Store from an existing DB (primarily for testing).
func NewWithDB(db DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// UpsertRawItem inserts or refreshes the row for item.URL. Identical content
// only refreshes the fetch timestamp; changed content clears processed_at so
// the extraction engine revisits the row.
func (s *Store) UpsertRawItem(ctx context.Context, item catalog.RawItem) (store.UpsertResult, error) {
	if item.URL == "" {
		return store.UpsertResult{}, fmt.Errorf("raw item url is required")
	}
	linksJSON, err := json.Marshal(item.Links)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("marshal links: %w", err)
	}
	metaJSON, err := json.Marshal(item.Metadata)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("marshal metadata: %w", err)
	}

	// The CTE reads the pre-statement row, so the hash comparison in
	// RETURNING sees the old value rather than the one just written.
	var created, changed bool
	err = s.db.QueryRow(ctx, `
WITH previous AS (
	SELECT content_hash FROM raw_items WHERE url = $1
)
INSERT INTO raw_items (
	url, source_type, fetched_at, status_code, content, content_hash,
	links, program_page, metadata, processed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULL)
ON CONFLICT (url) DO UPDATE SET
	fetched_at = EXCLUDED.fetched_at,
	status_code = EXCLUDED.status_code,
	content = CASE WHEN raw_items.content_hash = EXCLUDED.content_hash
		THEN raw_items.content ELSE EXCLUDED.content END,
	links = CASE WHEN raw_items.content_hash = EXCLUDED.content_hash
		THEN raw_items.links ELSE EXCLUDED.links END,
	program_page = EXCLUDED.program_page,
	metadata = EXCLUDED.metadata,
	processed_at = CASE WHEN raw_items.content_hash = EXCLUDED.content_hash
		THEN raw_items.processed_at ELSE NULL END,
	content_hash = EXCLUDED.content_hash
RETURNING (xmax = 0),
	(xmax = 0) OR (SELECT content_hash FROM previous) IS DISTINCT FROM $6`,
		item.URL, item.SourceType, item.FetchedAt, item.StatusCode,
		item.Content, item.ContentHash, linksJSON, item.ProgramPage, metaJSON,
	).Scan(&created, &changed)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("upsert raw item: %w", err)
	}
	return store.UpsertResult{Created: created, Changed: changed}, nil
}

// GetRawItem returns the row for url.
func (s *Store) GetRawItem(ctx context.Context, url string) (catalog.RawItem, error) {
	row := s.db.QueryRow(ctx, `
SELECT url, source_type, fetched_at, status_code, content, content_hash,
	links, program_page, metadata, processed_at
FROM raw_items WHERE url = $1`, url)
	item, err := scanRawItem(row)
	if err == pgx.ErrNoRows {
		return catalog.RawItem{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.RawItem{}, fmt.Errorf("get raw item: %w", err)
	}
	return item, nil
}

// ListUnprocessed returns backlog rows for one source type, ordered by URL.
func (s *Store) ListUnprocessed(ctx context.Context, source catalog.SourceType) ([]catalog.RawItem, error) {
	rows, err := s.db.Query(ctx, `
SELECT url, source_type, fetched_at, status_code, content, content_hash,
	links, program_page, metadata, processed_at
FROM raw_items
WHERE source_type = $1 AND processed_at IS NULL
ORDER BY url`, source)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed: %w", err)
	}
	defer rows.Close()

	var out []catalog.RawItem
	for rows.Next() {
		item, err := scanRawItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan raw item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// MarkProcessed stamps the row for url.
func (s *Store) MarkProcessed(ctx context.Context, url string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE raw_items SET processed_at = $2 WHERE url = $1`, url, at)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// CountRawItems returns the raw_items row count.
func (s *Store) CountRawItems(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM raw_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count raw items: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRawItem(row rowScanner) (catalog.RawItem, error) {
	var (
		item               catalog.RawItem
		linksJSON, metaRaw []byte
	)
	err := row.Scan(&item.URL, &item.SourceType, &item.FetchedAt,
		&item.StatusCode, &item.Content, &item.ContentHash,
		&linksJSON, &item.ProgramPage, &metaRaw, &item.ProcessedAt)
	if err != nil {
		return catalog.RawItem{}, err
	}
	if len(linksJSON) > 0 {
		if err := json.Unmarshal(linksJSON, &item.Links); err != nil {
			return catalog.RawItem{}, fmt.Errorf("unmarshal links: %w", err)
		}
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &item.Metadata); err != nil {
			return catalog.RawItem{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return item, nil
}

// UpsertDocument inserts or mutates the document row in place.
func (s *Store) UpsertDocument(ctx context.Context, doc catalog.Document) error {
	if doc.URL == "" {
		return fmt.Errorf("document url is required")
	}
	tablesJSON, err := json.Marshal(doc.Tables)
	if err != nil {
		return fmt.Errorf("marshal tables: %w", err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO documents (
	url, blob_uri, fetched_at, text_extracted, tables_extracted,
	extraction_method, doc_text, tables, page_count, processed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (url) DO UPDATE SET
	blob_uri = EXCLUDED.blob_uri,
	fetched_at = EXCLUDED.fetched_at,
	text_extracted = EXCLUDED.text_extracted,
	tables_extracted = EXCLUDED.tables_extracted,
	extraction_method = EXCLUDED.extraction_method,
	doc_text = EXCLUDED.doc_text,
	tables = EXCLUDED.tables,
	page_count = EXCLUDED.page_count,
	processed_at = EXCLUDED.processed_at`,
		doc.URL, doc.BlobURI, doc.FetchedAt, doc.TextExtracted,
		doc.TablesExtracted, doc.Method, doc.Text, tablesJSON,
		doc.PageCount, doc.ProcessedAt)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// GetDocument returns the document row for url.
func (s *Store) GetDocument(ctx context.Context, url string) (catalog.Document, error) {
	row := s.db.QueryRow(ctx, `
SELECT url, blob_uri, fetched_at, text_extracted, tables_extracted,
	extraction_method, doc_text, tables, page_count, processed_at
FROM documents WHERE url = $1`, url)
	doc, err := scanDocument(row)
	if err == pgx.ErrNoRows {
		return catalog.Document{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListUnprocessedDocuments returns documents with no processed marker.
func (s *Store) ListUnprocessedDocuments(ctx context.Context) ([]catalog.Document, error) {
	rows, err := s.db.Query(ctx, `
SELECT url, blob_uri, fetched_at, text_extracted, tables_extracted,
	extraction_method, doc_text, tables, page_count, processed_at
FROM documents WHERE processed_at IS NULL ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed documents: %w", err)
	}
	defer rows.Close()

	var out []catalog.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// MarkDocumentProcessed stamps the document row for url.
func (s *Store) MarkDocumentProcessed(ctx context.Context, url string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE documents SET processed_at = $2 WHERE url = $1`, url, at)
	if err != nil {
		return fmt.Errorf("mark document processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func scanDocument(row rowScanner) (catalog.Document, error) {
	var (
		doc        catalog.Document
		tablesJSON []byte
	)
	err := row.Scan(&doc.URL, &doc.BlobURI, &doc.FetchedAt,
		&doc.TextExtracted, &doc.TablesExtracted, &doc.Method,
		&doc.Text, &tablesJSON, &doc.PageCount, &doc.ProcessedAt)
	if err != nil {
		return catalog.Document{}, err
	}
	if len(tablesJSON) > 0 {
		if err := json.Unmarshal(tablesJSON, &doc.Tables); err != nil {
			return catalog.Document{}, fmt.Errorf("unmarshal tables: %w", err)
		}
	}
	return doc, nil
}

// PutCandidate stores a candidate, superseding the prior extraction for the
// same (program_code, source_url).
func (s *Store) PutCandidate(ctx context.Context, c catalog.ProgramCandidate) error {
	if c.SourceURL == "" {
		return fmt.Errorf("candidate source url is required")
	}
	criteriaJSON, err := json.Marshal(c.Criteria)
	if err != nil {
		return fmt.Errorf("marshal criteria: %w", err)
	}
	warningsJSON, err := json.Marshal(c.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO program_candidates (
	program_code, source_url, id, source_type, program_name, description,
	eligibility_raw, eligibility_parsed, payment_info_raw, payment_formula,
	payment_min, payment_max, payment_unit, payment_range_text,
	application_start, application_end, deadline_text, confidence_score,
	extraction_warnings, extracted_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
ON CONFLICT (program_code, source_url) DO UPDATE SET
	id = EXCLUDED.id,
	source_type = EXCLUDED.source_type,
	program_name = EXCLUDED.program_name,
	description = EXCLUDED.description,
	eligibility_raw = EXCLUDED.eligibility_raw,
	eligibility_parsed = EXCLUDED.eligibility_parsed,
	payment_info_raw = EXCLUDED.payment_info_raw,
	payment_formula = EXCLUDED.payment_formula,
	payment_min = EXCLUDED.payment_min,
	payment_max = EXCLUDED.payment_max,
	payment_unit = EXCLUDED.payment_unit,
	payment_range_text = EXCLUDED.payment_range_text,
	application_start = EXCLUDED.application_start,
	application_end = EXCLUDED.application_end,
	deadline_text = EXCLUDED.deadline_text,
	confidence_score = EXCLUDED.confidence_score,
	extraction_warnings = EXCLUDED.extraction_warnings,
	extracted_at = EXCLUDED.extracted_at`,
		c.ProgramCode, c.SourceURL, c.ID, c.SourceType, c.ProgramName,
		c.Description, c.EligibilityRaw, criteriaJSON, c.PaymentInfoRaw,
		c.PaymentFormula, c.PaymentMin, c.PaymentMax, c.PaymentUnit,
		c.PaymentRangeText, c.ApplicationStart, c.ApplicationEnd,
		c.DeadlineText, c.Confidence, warningsJSON, c.ExtractedAt)
	if err != nil {
		return fmt.Errorf("put candidate: %w", err)
	}
	return nil
}

// ListCandidates returns all candidates ordered by source URL.
func (s *Store) ListCandidates(ctx context.Context) ([]catalog.ProgramCandidate, error) {
	rows, err := s.db.Query(ctx, `
SELECT program_code, source_url, id, source_type, program_name, description,
	eligibility_raw, eligibility_parsed, payment_info_raw, payment_formula,
	payment_min, payment_max, payment_unit, payment_range_text,
	application_start, application_end, deadline_text, confidence_score,
	extraction_warnings, extracted_at
FROM program_candidates ORDER BY source_url, program_code`)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []catalog.ProgramCandidate
	for rows.Next() {
		var (
			c                          catalog.ProgramCandidate
			criteriaJSON, warningsJSON []byte
		)
		err := rows.Scan(&c.ProgramCode, &c.SourceURL, &c.ID, &c.SourceType,
			&c.ProgramName, &c.Description, &c.EligibilityRaw, &criteriaJSON,
			&c.PaymentInfoRaw, &c.PaymentFormula, &c.PaymentMin, &c.PaymentMax,
			&c.PaymentUnit, &c.PaymentRangeText, &c.ApplicationStart,
			&c.ApplicationEnd, &c.DeadlineText, &c.Confidence, &warningsJSON,
			&c.ExtractedAt)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if len(criteriaJSON) > 0 {
			if err := json.Unmarshal(criteriaJSON, &c.Criteria); err != nil {
				return nil, fmt.Errorf("unmarshal criteria: %w", err)
			}
		}
		if len(warningsJSON) > 0 {
			if err := json.Unmarshal(warningsJSON, &c.Warnings); err != nil {
				return nil, fmt.Errorf("unmarshal warnings: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertProgram writes the canonical row for p.LogicalID.
func (s *Store) UpsertProgram(ctx context.Context, p catalog.Program) error {
	if p.LogicalID == "" {
		return fmt.Errorf("program logical id is required")
	}
	criteriaJSON, err := json.Marshal(p.Criteria)
	if err != nil {
		return fmt.Errorf("marshal criteria: %w", err)
	}
	sourcesJSON, err := json.Marshal(p.FieldSources)
	if err != nil {
		return fmt.Errorf("marshal field sources: %w", err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO programs (
	logical_id, program_name, program_code, source_url, description,
	eligibility_raw, eligibility_parsed, payment_info_raw, payment_formula,
	payment_min, payment_max, payment_unit, payment_range_text,
	application_start, application_end, deadline_text, confidence_score,
	flagged, field_sources, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
ON CONFLICT (logical_id) DO UPDATE SET
	program_name = EXCLUDED.program_name,
	program_code = EXCLUDED.program_code,
	source_url = EXCLUDED.source_url,
	description = EXCLUDED.description,
	eligibility_raw = EXCLUDED.eligibility_raw,
	eligibility_parsed = EXCLUDED.eligibility_parsed,
	payment_info_raw = EXCLUDED.payment_info_raw,
	payment_formula = EXCLUDED.payment_formula,
	payment_min = EXCLUDED.payment_min,
	payment_max = EXCLUDED.payment_max,
	payment_unit = EXCLUDED.payment_unit,
	payment_range_text = EXCLUDED.payment_range_text,
	application_start = EXCLUDED.application_start,
	application_end = EXCLUDED.application_end,
	deadline_text = EXCLUDED.deadline_text,
	confidence_score = EXCLUDED.confidence_score,
	flagged = EXCLUDED.flagged,
	field_sources = EXCLUDED.field_sources,
	updated_at = EXCLUDED.updated_at`,
		p.LogicalID, p.ProgramName, p.ProgramCode, p.SourceURL, p.Description,
		p.EligibilityRaw, criteriaJSON, p.PaymentInfoRaw, p.PaymentFormula,
		p.PaymentMin, p.PaymentMax, p.PaymentUnit, p.PaymentRangeText,
		p.ApplicationStart, p.ApplicationEnd, p.DeadlineText, p.Confidence,
		p.Flagged, sourcesJSON, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert program: %w", err)
	}
	return nil
}

// GetProgram returns the canonical row for logicalID.
func (s *Store) GetProgram(ctx context.Context, logicalID string) (catalog.Program, error) {
	row := s.db.QueryRow(ctx, programSelect+` WHERE logical_id = $1`, logicalID)
	p, err := scanProgram(row)
	if err == pgx.ErrNoRows {
		return catalog.Program{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Program{}, fmt.Errorf("get program: %w", err)
	}
	return p, nil
}

// ListPrograms returns all canonical programs ordered by logical ID.
func (s *Store) ListPrograms(ctx context.Context) ([]catalog.Program, error) {
	rows, err := s.db.Query(ctx, programSelect+` ORDER BY logical_id`)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	defer rows.Close()

	var out []catalog.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, fmt.Errorf("scan program: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const programSelect = `
SELECT logical_id, program_name, program_code, source_url, description,
	eligibility_raw, eligibility_parsed, payment_info_raw, payment_formula,
	payment_min, payment_max, payment_unit, payment_range_text,
	application_start, application_end, deadline_text, confidence_score,
	flagged, field_sources, updated_at
FROM programs`

func scanProgram(row rowScanner) (catalog.Program, error) {
	var (
		p                         catalog.Program
		criteriaJSON, sourcesJSON []byte
	)
	err := row.Scan(&p.LogicalID, &p.ProgramName, &p.ProgramCode, &p.SourceURL,
		&p.Description, &p.EligibilityRaw, &criteriaJSON, &p.PaymentInfoRaw,
		&p.PaymentFormula, &p.PaymentMin, &p.PaymentMax, &p.PaymentUnit,
		&p.PaymentRangeText, &p.ApplicationStart, &p.ApplicationEnd,
		&p.DeadlineText, &p.Confidence, &p.Flagged, &sourcesJSON, &p.UpdatedAt)
	if err != nil {
		return catalog.Program{}, err
	}
	if len(criteriaJSON) > 0 {
		if err := json.Unmarshal(criteriaJSON, &p.Criteria); err != nil {
			return catalog.Program{}, fmt.Errorf("unmarshal criteria: %w", err)
		}
	}
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &p.FieldSources); err != nil {
			return catalog.Program{}, fmt.Errorf("unmarshal field sources: %w", err)
		}
	}
	return p, nil
}

// ReplaceGaps swaps the program's gap set in one transaction.
func (s *Store) ReplaceGaps(ctx context.Context, logicalID string, gaps []catalog.DataGap) error {
	if logicalID == "" {
		return fmt.Errorf("logical id is required")
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace gaps: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM data_gaps WHERE logical_id = $1`, logicalID); err != nil {
		return fmt.Errorf("clear gaps: %w", err)
	}
	for _, gap := range gaps {
		_, err := tx.Exec(ctx, `
INSERT INTO data_gaps (logical_id, program_name, missing_field, importance, note)
VALUES ($1,$2,$3,$4,$5)`,
			gap.LogicalID, gap.ProgramName, gap.MissingField, gap.Importance, gap.Note)
		if err != nil {
			return fmt.Errorf("insert gap: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace gaps: %w", err)
	}
	return nil
}

// ListGaps returns one program's gaps, or all gaps when logicalID is empty.
func (s *Store) ListGaps(ctx context.Context, logicalID string) ([]catalog.DataGap, error) {
	query := `
SELECT logical_id, program_name, missing_field, importance, note
FROM data_gaps`
	var (
		rows pgx.Rows
		err  error
	)
	if logicalID != "" {
		rows, err = s.db.Query(ctx, query+` WHERE logical_id = $1 ORDER BY missing_field`, logicalID)
	} else {
		rows, err = s.db.Query(ctx, query+` ORDER BY logical_id, missing_field`)
	}
	if err != nil {
		return nil, fmt.Errorf("list gaps: %w", err)
	}
	defer rows.Close()

	var out []catalog.DataGap
	for rows.Next() {
		var gap catalog.DataGap
		if err := rows.Scan(&gap.LogicalID, &gap.ProgramName, &gap.MissingField,
			&gap.Importance, &gap.Note); err != nil {
			return nil, fmt.Errorf("scan gap: %w", err)
		}
		out = append(out, gap)
	}
	return out, rows.Err()
}

// CreateJob inserts a new job record.
func (s *Store) CreateJob(ctx context.Context, job catalog.Job) error {
	countersJSON, errorsJSON, err := marshalJobExtras(job)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO jobs (
	id, job_type, status, submitted_at, started_at, finished_at,
	cursor_position, error_text, counters, error_log
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		job.ID, job.Type, job.Status, job.Submitted, job.Started, job.Finished,
		job.Cursor, job.ErrorText, countersJSON, errorsJSON)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// UpdateJob replaces the persisted job state.
func (s *Store) UpdateJob(ctx context.Context, job catalog.Job) error {
	countersJSON, errorsJSON, err := marshalJobExtras(job)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
UPDATE jobs SET
	status = $2, started_at = $3, finished_at = $4, cursor_position = $5,
	error_text = $6, counters = $7, error_log = $8
WHERE id = $1`,
		job.ID, job.Status, job.Started, job.Finished, job.Cursor,
		job.ErrorText, countersJSON, errorsJSON)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// GetJob returns the job for id.
func (s *Store) GetJob(ctx context.Context, id string) (catalog.Job, error) {
	row := s.db.QueryRow(ctx, jobSelect+` WHERE id = $1`, id)
	job, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return catalog.Job{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns all jobs in submission order.
func (s *Store) ListJobs(ctx context.Context) ([]catalog.Job, error) {
	rows, err := s.db.Query(ctx, jobSelect+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []catalog.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

const jobSelect = `
SELECT id, job_type, status, submitted_at, started_at, finished_at,
	cursor_position, error_text, counters, error_log
FROM jobs`

func marshalJobExtras(job catalog.Job) ([]byte, []byte, error) {
	countersJSON, err := json.Marshal(job.Counters)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal counters: %w", err)
	}
	errorsJSON, err := json.Marshal(job.Errors)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal error log: %w", err)
	}
	return countersJSON, errorsJSON, nil
}

func scanJob(row rowScanner) (catalog.Job, error) {
	var (
		job                      catalog.Job
		countersJSON, errorsJSON []byte
	)
	err := row.Scan(&job.ID, &job.Type, &job.Status, &job.Submitted,
		&job.Started, &job.Finished, &job.Cursor, &job.ErrorText,
		&countersJSON, &errorsJSON)
	if err != nil {
		return catalog.Job{}, err
	}
	if len(countersJSON) > 0 {
		if err := json.Unmarshal(countersJSON, &job.Counters); err != nil {
			return catalog.Job{}, fmt.Errorf("unmarshal counters: %w", err)
		}
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &job.Errors); err != nil {
			return catalog.Job{}, fmt.Errorf("unmarshal error log: %w", err)
		}
	}
	return job, nil
}

// UpsertHistoricalPayment inserts or refreshes a reconciliation row.
func (s *Store) UpsertHistoricalPayment(ctx context.Context, p catalog.HistoricalPayment) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO historical_payments (
	program_name, year, state, county, source, amount, unit, fetched_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (program_name, year, state, county, source) DO UPDATE SET
	amount = EXCLUDED.amount,
	unit = EXCLUDED.unit,
	fetched_at = EXCLUDED.fetched_at`,
		p.ProgramName, p.Year, p.State, p.County, p.Source, p.Amount, p.Unit, p.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert historical payment: %w", err)
	}
	return nil
}

// ListHistoricalPayments returns rows for one program, or all when the name
// is empty.
func (s *Store) ListHistoricalPayments(ctx context.Context, programName string) ([]catalog.HistoricalPayment, error) {
	query := `
SELECT program_name, year, state, county, source, amount, unit, fetched_at
FROM historical_payments`
	var (
		rows pgx.Rows
		err  error
	)
	if programName != "" {
		rows, err = s.db.Query(ctx, query+` WHERE program_name = $1 ORDER BY year, county`, programName)
	} else {
		rows, err = s.db.Query(ctx, query+` ORDER BY program_name, year, county`)
	}
	if err != nil {
		return nil, fmt.Errorf("list historical payments: %w", err)
	}
	defer rows.Close()

	var out []catalog.HistoricalPayment
	for rows.Next() {
		var p catalog.HistoricalPayment
		if err := rows.Scan(&p.ProgramName, &p.Year, &p.State, &p.County,
			&p.Source, &p.Amount, &p.Unit, &p.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan historical payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
