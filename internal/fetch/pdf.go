package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/farmassist/harvester/internal/catalog"
)

// PDFExtractor implements catalog.DocumentExtractor using ledongthuc/pdf.
// It extracts plain text per page; table detection is not supported by this
// method, so callers see TablesExtracted=false and fall back to text rules.
type PDFExtractor struct{}

// NewPDFExtractor creates a PDFExtractor.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract parses PDF bytes and returns the concatenated page text.
func (PDFExtractor) Extract(ctx context.Context, data []byte) (catalog.DocumentContent, error) {
	if err := ctx.Err(); err != nil {
		return catalog.DocumentContent{}, err
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return catalog.DocumentContent{}, fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	textReader, err := reader.GetPlainText()
	if err != nil {
		return catalog.DocumentContent{}, fmt.Errorf("extract pdf text: %w", err)
	}
	if _, err := io.Copy(&sb, textReader); err != nil {
		return catalog.DocumentContent{}, fmt.Errorf("read pdf text: %w", err)
	}

	return catalog.DocumentContent{
		Text:      sb.String(),
		PageCount: reader.NumPage(),
		Method:    "pdf_text",
	}, nil
}
