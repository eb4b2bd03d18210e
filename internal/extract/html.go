package extract

import (
	"context"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/microcosm-cc/bluemonday"
)

// HTMLExtractor converts HTML bodies (Canvas pages, assignment
// descriptions) into markdown text.
type HTMLExtractor struct {
	policy    *bluemonday.Policy
	converter *md.Converter
}

// NewHTMLExtractor returns an HTML extractor.
func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{
		policy:    bluemonday.UGCPolicy(),
		converter: md.NewConverter("", true, nil),
	}
}

// Format implements Extractor.
func (e *HTMLExtractor) Format() string { return "html" }

// Extract sanitizes the HTML and converts it to markdown, preserving
// heading structure for the chunker.
func (e *HTMLExtractor) Extract(ctx context.Context, data []byte) (Result, error) {
	clean := e.policy.Sanitize(string(data))
	text, err := e.converter.ConvertString(clean)
	if err != nil {
		return Result{}, fmt.Errorf("convert html: %w", err)
	}
	return Result{Text: strings.TrimSpace(text)}, nil
}
