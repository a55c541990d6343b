// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/farmassist/harvester/internal/catalog"
	"github.com/farmassist/harvester/internal/store"
)

// RawStore implements store.RawStore backed by a map.
type RawStore struct {
	mu    sync.RWMutex
	items map[string]catalog.RawItem
}

// NewRawStore constructs a RawStore.
func NewRawStore() *RawStore {
	return &RawStore{items: make(map[string]catalog.RawItem)}
}

// UpsertRawItem inserts or refreshes the row for item.URL. A re-fetch with
// identical content updates only the fetch timestamp.
func (s *RawStore) UpsertRawItem(_ context.Context, item catalog.RawItem) (store.UpsertResult, error) {
	if item.URL == "" {
		return store.UpsertResult{}, errors.New("raw item url is required")
	}
	if item.ContentHash == "" {
		item.ContentHash = HashContent(item.Content)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.URL]
	if !ok {
		s.items[item.URL] = item
		return store.UpsertResult{Created: true, Changed: true}, nil
	}
	if existing.ContentHash == item.ContentHash {
		existing.FetchedAt = item.FetchedAt
		existing.StatusCode = item.StatusCode
		s.items[item.URL] = existing
		return store.UpsertResult{}, nil
	}
	// Content changed: replace and clear the processed marker so the
	// extraction engine picks the row up again.
	item.ProcessedAt = nil
	s.items[item.URL] = item
	return store.UpsertResult{Changed: true}, nil
}

// GetRawItem returns the row for url.
func (s *RawStore) GetRawItem(_ context.Context, url string) (catalog.RawItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[url]
	if !ok {
		return catalog.RawItem{}, catalog.ErrNotFound
	}
	return item, nil
}

// ListUnprocessed returns rows of the given source type with no processed
// marker, ordered by URL for determinism.
func (s *RawStore) ListUnprocessed(_ context.Context, source catalog.SourceType) ([]catalog.RawItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.RawItem
	for _, item := range s.items {
		if item.SourceType == source && item.ProcessedAt == nil {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// MarkProcessed stamps the row for url.
func (s *RawStore) MarkProcessed(_ context.Context, url string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[url]
	if !ok {
		return catalog.ErrNotFound
	}
	item.ProcessedAt = &at
	s.items[url] = item
	return nil
}

// CountRawItems returns the row count.
func (s *RawStore) CountRawItems(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}

// HashContent returns the hex SHA-256 digest used for no-op detection.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DocumentStore implements store.DocumentStore backed by a map.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string]catalog.Document
}

// NewDocumentStore constructs a DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]catalog.Document)}
}

// UpsertDocument inserts or mutates the row for doc.URL in place.
func (s *DocumentStore) UpsertDocument(_ context.Context, doc catalog.Document) error {
	if doc.URL == "" {
		return errors.New("document url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.URL] = doc
	return nil
}

// GetDocument returns the row for url.
func (s *DocumentStore) GetDocument(_ context.Context, url string) (catalog.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[url]
	if !ok {
		return catalog.Document{}, catalog.ErrNotFound
	}
	return doc, nil
}

// ListUnprocessedDocuments returns rows with no processed marker.
func (s *DocumentStore) ListUnprocessedDocuments(_ context.Context) ([]catalog.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Document
	for _, doc := range s.docs {
		if doc.ProcessedAt == nil {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// MarkDocumentProcessed stamps the row for url.
func (s *DocumentStore) MarkDocumentProcessed(_ context.Context, url string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[url]
	if !ok {
		return catalog.ErrNotFound
	}
	doc.ProcessedAt = &at
	s.docs[url] = doc
	return nil
}

// CandidateStore implements store.CandidateStore backed by a map keyed on
// (program_code, source_url).
type CandidateStore struct {
	mu         sync.RWMutex
	candidates map[string]catalog.ProgramCandidate
}

// NewCandidateStore constructs a CandidateStore.
func NewCandidateStore() *CandidateStore {
	return &CandidateStore{candidates: make(map[string]catalog.ProgramCandidate)}
}

// PutCandidate stores the candidate, superseding a prior extraction for the
// same (program_code, source_url).
func (s *CandidateStore) PutCandidate(_ context.Context, c catalog.ProgramCandidate) error {
	if c.SourceURL == "" {
		return errors.New("candidate source url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[c.ProgramCode+"|"+c.SourceURL] = c
	return nil
}

// ListCandidates returns all candidates ordered by source URL.
func (s *CandidateStore) ListCandidates(_ context.Context) ([]catalog.ProgramCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.ProgramCandidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceURL != out[j].SourceURL {
			return out[i].SourceURL < out[j].SourceURL
		}
		return out[i].ProgramCode < out[j].ProgramCode
	})
	return out, nil
}

// ProgramStore implements store.ProgramStore backed by a map.
type ProgramStore struct {
	mu       sync.RWMutex
	programs map[string]catalog.Program
}

// NewProgramStore constructs a ProgramStore.
func NewProgramStore() *ProgramStore {
	return &ProgramStore{programs: make(map[string]catalog.Program)}
}

// UpsertProgram writes the canonical row for p.LogicalID.
func (s *ProgramStore) UpsertProgram(_ context.Context, p catalog.Program) error {
	if p.LogicalID == "" {
		return errors.New("program logical id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programs[p.LogicalID] = p
	return nil
}

// GetProgram returns the row for logicalID.
func (s *ProgramStore) GetProgram(_ context.Context, logicalID string) (catalog.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.programs[logicalID]
	if !ok {
		return catalog.Program{}, catalog.ErrNotFound
	}
	return p, nil
}

// ListPrograms returns all canonical programs ordered by logical ID.
func (s *ProgramStore) ListPrograms(_ context.Context) ([]catalog.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Program, 0, len(s.programs))
	for _, p := range s.programs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LogicalID < out[j].LogicalID })
	return out, nil
}

// GapStore implements store.GapStore backed by a map of gap sets.
type GapStore struct {
	mu   sync.RWMutex
	gaps map[string][]catalog.DataGap
}

// NewGapStore constructs a GapStore.
func NewGapStore() *GapStore {
	return &GapStore{gaps: make(map[string][]catalog.DataGap)}
}

// ReplaceGaps swaps the program's gap set wholesale.
func (s *GapStore) ReplaceGaps(_ context.Context, logicalID string, gaps []catalog.DataGap) error {
	if logicalID == "" {
		return errors.New("logical id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(gaps) == 0 {
		delete(s.gaps, logicalID)
		return nil
	}
	s.gaps[logicalID] = append([]catalog.DataGap(nil), gaps...)
	return nil
}

// ListGaps returns the gap set for one program, or all gaps when logicalID
// is empty.
func (s *GapStore) ListGaps(_ context.Context, logicalID string) ([]catalog.DataGap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if logicalID != "" {
		return append([]catalog.DataGap(nil), s.gaps[logicalID]...), nil
	}
	ids := make([]string, 0, len(s.gaps))
	for id := range s.gaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []catalog.DataGap
	for _, id := range ids {
		out = append(out, s.gaps[id]...)
	}
	return out, nil
}

// JobStore implements store.JobStore backed by a map.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]catalog.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]catalog.Job)}
}

// CreateJob stores a new job record.
func (s *JobStore) CreateJob(_ context.Context, job catalog.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob replaces the persisted job state.
func (s *JobStore) UpdateJob(_ context.Context, job catalog.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return catalog.ErrNotFound
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob returns the job for id.
func (s *JobStore) GetJob(_ context.Context, id string) (catalog.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return catalog.Job{}, catalog.ErrNotFound
	}
	return job, nil
}

// ListJobs returns all jobs ordered by ID (UUIDv7 IDs sort by submission).
func (s *JobStore) ListJobs(_ context.Context) ([]catalog.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PaymentStore implements store.PaymentStore backed by a map keyed on the
// (program_name, year, state, county, source) tuple.
type PaymentStore struct {
	mu       sync.RWMutex
	payments map[paymentKey]catalog.HistoricalPayment
}

type paymentKey struct {
	name   string
	year   int
	state  string
	county string
	source string
}

// NewPaymentStore constructs a PaymentStore.
func NewPaymentStore() *PaymentStore {
	return &PaymentStore{payments: make(map[paymentKey]catalog.HistoricalPayment)}
}

// UpsertHistoricalPayment inserts or refreshes a reconciliation row.
func (s *PaymentStore) UpsertHistoricalPayment(_ context.Context, p catalog.HistoricalPayment) error {
	if p.ProgramName == "" {
		return errors.New("payment program name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[paymentKey{p.ProgramName, p.Year, p.State, p.County, p.Source}] = p
	return nil
}

// ListHistoricalPayments returns rows for programName, or all rows when the
// name is empty.
func (s *PaymentStore) ListHistoricalPayments(_ context.Context, programName string) ([]catalog.HistoricalPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.HistoricalPayment
	for _, p := range s.payments {
		if programName == "" || p.ProgramName == programName {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProgramName != out[j].ProgramName {
			return out[i].ProgramName < out[j].ProgramName
		}
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].County < out[j].County
	})
	return out, nil
}
