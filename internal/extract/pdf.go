package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor extracts text from PDF documents page by page.
type PDFExtractor struct{}

// NewPDFExtractor returns a PDF extractor.
func NewPDFExtractor() *PDFExtractor { return &PDFExtractor{} }

// Format implements Extractor.
func (e *PDFExtractor) Format() string { return "pdf" }

// Extract pulls plain text out of every page. Each page's text is
// prefixed with a "[Page N]" marker so the chunker can attribute chunks
// to pages. Pages that fail to decode are skipped rather than failing
// the whole document.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (Result, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "[Page %d]\n%s\n\n", i, text)
	}

	return Result{
		Text:     strings.TrimSpace(sb.String()),
		Metadata: Metadata{Pages: total},
	}, nil
}
