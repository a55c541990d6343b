package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/farmassist/harvester/internal/blob"
	"github.com/farmassist/harvester/internal/catalog"
	"github.com/farmassist/harvester/internal/store"
)

// Number of documents handled per batch.
const pdfBatchSize = 5

// PDFAdapter works through the PDF backlog left behind by discovery:
// download the document, archive the bytes in the blob store, run text
// extraction, and record the Document row. The cursor is the offset into
// the sorted backlog.
type PDFAdapter struct {
	raw         store.RawStore
	documents   store.DocumentStore
	blobs       blob.Store
	fetcher     catalog.Fetcher
	extractor   catalog.DocumentExtractor
	retry       *RetryPolicy
	clock       catalog.Clock
	logger      *zap.Logger
	concurrency int
	prefix      string
}

// NewPDFAdapter constructs the PDF tier.
func NewPDFAdapter(raw store.RawStore, documents store.DocumentStore, blobs blob.Store,
	fetcher catalog.Fetcher, extractor catalog.DocumentExtractor, retry *RetryPolicy,
	clock catalog.Clock, concurrency int, prefix string, logger *zap.Logger) *PDFAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if prefix == "" {
		prefix = "documents"
	}
	return &PDFAdapter{
		raw:         raw,
		documents:   documents,
		blobs:       blobs,
		fetcher:     fetcher,
		extractor:   extractor,
		retry:       retry,
		clock:       clock,
		logger:      logger,
		concurrency: concurrency,
		prefix:      prefix,
	}
}

// Type implements SourceAdapter.
func (a *PDFAdapter) Type() catalog.SourceType { return catalog.SourcePDF }

// JobType implements SourceAdapter.
func (a *PDFAdapter) JobType() catalog.JobType { return catalog.JobTypePDF }

// FetchBatch processes up to pdfBatchSize backlog documents. A store read
// failure is fatal; per-document download and extraction failures are not.
func (a *PDFAdapter) FetchBatch(ctx context.Context, cursor string) (catalog.Batch, []catalog.ItemError, error) {
	offset := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return catalog.Batch{}, nil, catalog.Fatalf("malformed pdf cursor %q: %v", cursor, err)
		}
		offset = parsed
	}

	backlog, err := a.raw.ListUnprocessed(ctx, catalog.SourcePDF)
	if err != nil {
		return catalog.Batch{}, nil, catalog.Fatalf("list pdf backlog: %v", err)
	}
	if offset >= len(backlog) {
		return catalog.Batch{Done: true}, nil, nil
	}

	end := offset + pdfBatchSize
	if end > len(backlog) {
		end = len(backlog)
	}

	// Documents in the batch download and extract in parallel; results keep
	// backlog order.
	entries := backlog[offset:end]
	batchItems := make([]*catalog.RawItem, len(entries))
	batchErrs := make([]*catalog.ItemError, len(entries))
	forEachBounded(ctx, a.concurrency, len(entries), func(ctx context.Context, i int) {
		item, itemErr := a.processDocument(ctx, entries[i].URL)
		if itemErr != nil {
			batchErrs[i] = itemErr
			return
		}
		batchItems[i] = &item
	})

	var items []catalog.RawItem
	var itemErrs []catalog.ItemError
	for i := range entries {
		if batchErrs[i] != nil {
			itemErrs = append(itemErrs, *batchErrs[i])
			continue
		}
		items = append(items, *batchItems[i])
	}

	return catalog.Batch{
		Items:      items,
		NextCursor: strconv.Itoa(end),
		Done:       end >= len(backlog),
	}, itemErrs, nil
}

func (a *PDFAdapter) processDocument(ctx context.Context, docURL string) (catalog.RawItem, *catalog.ItemError) {
	var result catalog.FetchResult
	err := a.retry.Do(ctx, func() error {
		var fetchErr error
		result, fetchErr = a.fetcher.Fetch(ctx, docURL)
		return fetchErr
	})
	if err != nil {
		return catalog.RawItem{}, &catalog.ItemError{
			Item: docURL, Kind: "fetch_error", Detail: err.Error(),
		}
	}
	if result.StatusCode != 200 {
		return catalog.RawItem{}, &catalog.ItemError{
			Item: docURL, Kind: "fetch_error",
			Detail: fmt.Sprintf("status %d", result.StatusCode),
		}
	}

	now := a.clock.Now()
	uri, err := a.blobs.PutObject(ctx, a.objectPath(docURL), "application/pdf", bytes.NewReader(result.Body))
	if err != nil {
		return catalog.RawItem{}, &catalog.ItemError{
			Item: docURL, Kind: "store_error", Detail: err.Error(),
		}
	}

	doc := catalog.Document{
		URL:       docURL,
		BlobURI:   uri,
		FetchedAt: now,
	}

	content, extractErr := a.extractor.Extract(ctx, result.Body)
	if extractErr != nil {
		a.logger.Warn("pdf extraction failed", zap.String("url", docURL), zap.Error(extractErr))
	} else {
		doc.TextExtracted = content.Text != ""
		doc.TablesExtracted = len(content.Tables) > 0
		doc.Method = content.Method
		doc.Text = content.Text
		doc.Tables = content.Tables
		doc.PageCount = content.PageCount
	}

	if err := a.documents.UpsertDocument(ctx, doc); err != nil {
		return catalog.RawItem{}, &catalog.ItemError{
			Item: docURL, Kind: "store_error", Detail: err.Error(),
		}
	}
	if extractErr != nil {
		// The blob and the Document row are kept for a later re-run with a
		// better extractor.
		return catalog.RawItem{}, &catalog.ItemError{
			Item: docURL, Kind: "pdf_extract_error", Detail: extractErr.Error(),
		}
	}

	a.logger.Info("pdf processed",
		zap.String("url", docURL),
		zap.Int("pages", doc.PageCount),
		zap.Bool("text", doc.TextExtracted))

	return catalog.RawItem{
		URL:        docURL,
		SourceType: catalog.SourcePDF,
		FetchedAt:  now,
		StatusCode: result.StatusCode,
		Content:    result.Body,
		Metadata: map[string]string{
			"blob_uri": uri,
		},
	}, nil
}

// objectPath derives a stable blob key from the document URL: the original
// file name prefixed with a short content-independent hash of the full URL
// to avoid collisions between same-named files.
func (a *PDFAdapter) objectPath(docURL string) string {
	sum := sha256.Sum256([]byte(docURL))
	name := "document.pdf"
	if parsed, err := url.Parse(docURL); err == nil {
		if base := path.Base(parsed.Path); base != "." && base != "/" && base != "" {
			name = base
		}
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return path.Join(a.prefix, hex.EncodeToString(sum[:8]), name)
}
