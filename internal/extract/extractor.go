// Package extract turns course documents into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/canvaslabs/canvas-sync/internal/logging"
)

// ErrUnsupportedType is returned when no extractor matches a document.
var ErrUnsupportedType = errors.New("extract: unsupported document type")

// ErrEmptyDocument is returned when extraction yields no usable text.
var ErrEmptyDocument = errors.New("extract: document contains no text")

// Metadata describes what an extractor found inside a document.
type Metadata struct {
	Format    string `json:"format"`
	Pages     int    `json:"pages,omitempty"`
	Slides    int    `json:"slides,omitempty"`
	WordCount int    `json:"word_count"`
}

// Result is extracted text plus metadata about the source document.
type Result struct {
	Text     string
	Metadata Metadata
}

// Extractor converts one document format into plain text.
type Extractor interface {
	Format() string
	Extract(ctx context.Context, data []byte) (Result, error)
}

// Registry dispatches documents to the extractor for their format.
// Dispatch tries the file extension first and falls back to sniffing
// the content type.
type Registry struct {
	byFormat map[string]Extractor
	log      *zap.Logger
}

// NewRegistry builds a registry with all built-in extractors installed.
func NewRegistry() *Registry {
	r := &Registry{
		byFormat: make(map[string]Extractor),
		log:      logging.L.Named("extract"),
	}
	r.Register(NewPDFExtractor())
	r.Register(NewDOCXExtractor())
	r.Register(NewPPTXExtractor())
	r.Register(NewHTMLExtractor())
	return r
}

// Register installs an extractor, replacing any previous one for the format.
func (r *Registry) Register(e Extractor) {
	r.byFormat[e.Format()] = e
}

// Supported reports whether the format has an extractor installed.
func (r *Registry) Supported(format string) bool {
	_, ok := r.byFormat[normalizeFormat(format)]
	return ok
}

// Formats lists the installed formats.
func (r *Registry) Formats() []string {
	formats := make([]string, 0, len(r.byFormat))
	for f := range r.byFormat {
		formats = append(formats, f)
	}
	return formats
}

// Extract picks an extractor for the document and runs it. The filename
// extension wins; if it is missing or unknown the content is sniffed.
func (r *Registry) Extract(ctx context.Context, filename string, data []byte) (Result, error) {
	format := normalizeFormat(strings.TrimPrefix(path.Ext(filename), "."))
	e, ok := r.byFormat[format]
	if !ok {
		format = formatFromContent(data)
		e, ok = r.byFormat[format]
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedType, filename)
	}

	res, err := e.Extract(ctx, data)
	if err != nil {
		return Result{}, fmt.Errorf("extract %s: %w", filename, err)
	}
	if strings.TrimSpace(res.Text) == "" {
		return Result{}, fmt.Errorf("%w: %s", ErrEmptyDocument, filename)
	}
	res.Metadata.Format = format
	res.Metadata.WordCount = len(strings.Fields(res.Text))
	r.log.Debug("extracted document",
		zap.String("file", filename),
		zap.String("format", format),
		zap.Int("words", res.Metadata.WordCount))
	return res, nil
}

func normalizeFormat(format string) string {
	format = strings.ToLower(format)
	switch format {
	case "htm":
		return "html"
	}
	return format
}

// formatFromContent sniffs the payload when the extension is unhelpful.
func formatFromContent(data []byte) string {
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("application/pdf"):
		return "pdf"
	case mt.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document"):
		return "docx"
	case mt.Is("application/vnd.openxmlformats-officedocument.presentationml.presentation"):
		return "pptx"
	case mt.Is("text/html"):
		return "html"
	}
	return ""
}
