package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	slidePartRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	notesPartRe = regexp.MustCompile(`^ppt/notesSlides/notesSlide(\d+)\.xml$`)
)

// PPTXExtractor extracts slide and speaker-note text from PowerPoint files.
type PPTXExtractor struct{}

// NewPPTXExtractor returns a PPTX extractor.
func NewPPTXExtractor() *PPTXExtractor { return &PPTXExtractor{} }

// Format implements Extractor.
func (e *PPTXExtractor) Format() string { return "pptx" }

// Extract walks every slide part in slide order, emitting a
// "Slide N:" header followed by the slide's text runs, then any
// speaker notes under a "Notes:" line.
func (e *PPTXExtractor) Extract(ctx context.Context, data []byte) (Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("open pptx: %w", err)
	}

	slides := map[int][]byte{}
	notes := map[int][]byte{}
	for _, f := range zr.File {
		if m := slidePartRe.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			content, err := readZipFile(zr, f.Name)
			if err != nil {
				return Result{}, err
			}
			slides[n] = content
		} else if m := notesPartRe.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			content, err := readZipFile(zr, f.Name)
			if err != nil {
				return Result{}, err
			}
			notes[n] = content
		}
	}
	if len(slides) == 0 {
		return Result{}, fmt.Errorf("%w: no slides found", ErrUnsupportedType)
	}

	order := make([]int, 0, len(slides))
	for n := range slides {
		order = append(order, n)
	}
	sort.Ints(order)

	var sb strings.Builder
	for _, n := range order {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		paragraphs, err := ooxmlParagraphs(slides[n], "p", "t")
		if err != nil {
			return Result{}, fmt.Errorf("parse slide %d: %w", n, err)
		}

		fmt.Fprintf(&sb, "Slide %d:\n", n)
		if len(paragraphs) > 0 {
			sb.WriteString(strings.Join(paragraphs, "\n"))
			sb.WriteString("\n")
		}
		if noteDoc, ok := notes[n]; ok {
			noteParas, err := ooxmlParagraphs(noteDoc, "p", "t")
			if err == nil && len(noteParas) > 0 {
				sb.WriteString("Notes:\n")
				sb.WriteString(strings.Join(noteParas, "\n"))
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}

	return Result{
		Text:     strings.TrimSpace(sb.String()),
		Metadata: Metadata{Slides: len(slides)},
	}, nil
}
