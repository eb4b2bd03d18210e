package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DOCXExtractor extracts paragraph text from Word documents.
type DOCXExtractor struct{}

// NewDOCXExtractor returns a DOCX extractor.
func NewDOCXExtractor() *DOCXExtractor { return &DOCXExtractor{} }

// Format implements Extractor.
func (e *DOCXExtractor) Format() string { return "docx" }

// Extract reads word/document.xml from the OOXML archive and walks its
// runs, emitting one line per paragraph.
func (e *DOCXExtractor) Extract(ctx context.Context, data []byte) (Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("open docx: %w", err)
	}

	doc, err := readZipFile(zr, "word/document.xml")
	if err != nil {
		return Result{}, err
	}

	paragraphs, err := ooxmlParagraphs(doc, "p", "t")
	if err != nil {
		return Result{}, fmt.Errorf("parse docx: %w", err)
	}

	return Result{Text: strings.Join(paragraphs, "\n")}, nil
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: missing %s", ErrUnsupportedType, name)
}

// ooxmlParagraphs streams an OOXML part and collects text runs grouped
// by paragraph element. paraLocal and textLocal are the local names of
// the paragraph and text elements ("p"/"t" for Word, "p"/"t" in the
// drawing namespace for slides).
func ooxmlParagraphs(doc []byte, paraLocal, textLocal string) ([]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(doc))

	var paragraphs []string
	var current strings.Builder
	inParagraph := false

	flush := func() {
		if text := strings.TrimSpace(current.String()); text != "" {
			paragraphs = append(paragraphs, text)
		}
		current.Reset()
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == paraLocal {
				if inParagraph {
					flush()
				}
				inParagraph = true
			}
			if t.Name.Local == textLocal && inParagraph {
				var text string
				if err := decoder.DecodeElement(&text, &t); err != nil {
					return nil, err
				}
				current.WriteString(text)
			}
		case xml.EndElement:
			if t.Name.Local == paraLocal && inParagraph {
				flush()
				inParagraph = false
			}
		}
	}
	if inParagraph {
		flush()
	}
	return paragraphs, nil
}
