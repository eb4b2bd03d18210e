// Package chunker splits extracted text into overlapping chunks that
// respect document structure.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	pageMarkerRe  = regexp.MustCompile(`^\[Page (\d+)\]$`)
	slideMarkerRe = regexp.MustCompile(`^Slide (\d+):$`)
)

// Chunk is one piece of a document, sized for retrieval.
type Chunk struct {
	Index      int    `json:"index"`
	Heading    string `json:"heading,omitempty"`
	Level      int    `json:"level,omitempty"`
	Text       string `json:"text"`
	Hash       string `json:"hash"`
	Page       int    `json:"page,omitempty"`
	Slide      int    `json:"slide,omitempty"`
	TokenCount int    `json:"token_count"`
}

// Chunker splits text by headings first, then by size with overlap.
type Chunker struct {
	chunkSize int
	overlap   int
	minSize   int
}

// New builds a Chunker. Sizes are in characters; zero values get the
// defaults (1000/200/100).
func New(chunkSize, overlap, minSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 200
	}
	if minSize <= 0 {
		minSize = 100
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap, minSize: minSize}
}

type section struct {
	heading string
	level   int
	body    []string
	page    int
	slide   int
}

// Chunk splits the text into chunks. Sections are cut at detected
// headings; oversized sections are split at sentence boundaries with a
// tail overlap; adjacent small chunks of the same section are merged.
func (c *Chunker) Chunk(text string) []Chunk {
	sections := c.sections(text)

	var chunks []Chunk
	for _, sec := range sections {
		body := strings.TrimSpace(strings.Join(sec.body, "\n"))
		if body == "" && sec.heading == "" {
			continue
		}
		for _, piece := range c.split(body) {
			chunks = append(chunks, Chunk{
				Heading: sec.heading,
				Level:   sec.level,
				Text:    piece,
				Page:    sec.page,
				Slide:   sec.slide,
			})
		}
	}

	chunks = c.merge(chunks)

	for i := range chunks {
		chunks[i].Index = i
		chunks[i].Hash = hashText(chunks[i].Text)
		chunks[i].TokenCount = EstimateTokens(chunks[i].Text)
	}
	return chunks
}

// sections walks the text line by line, starting a new section at every
// heading and tracking page/slide markers.
func (c *Chunker) sections(text string) []section {
	var sections []section
	current := section{}
	page, slide := 0, 0

	flush := func() {
		if current.heading != "" || len(current.body) > 0 {
			sections = append(sections, current)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if m := pageMarkerRe.FindStringSubmatch(trimmed); m != nil {
			page, _ = strconv.Atoi(m[1])
			flush()
			current = section{page: page, slide: slide}
			continue
		}
		if m := slideMarkerRe.FindStringSubmatch(trimmed); m != nil {
			slide, _ = strconv.Atoi(m[1])
			flush()
			current = section{heading: trimmed, level: 1, page: page, slide: slide}
			continue
		}
		if IsHeading(trimmed) {
			flush()
			current = section{
				heading: strings.TrimLeft(trimmed, "# "),
				level:   headingLevel(trimmed),
				page:    page,
				slide:   slide,
			}
			continue
		}
		current.body = append(current.body, line)
		current.page = pickNonZero(current.page, page)
		current.slide = pickNonZero(current.slide, slide)
	}
	flush()
	return sections
}

func pickNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

// headingLevel maps a heading line to a depth: markdown headings keep
// their marker count, everything else counts as a top-level section.
func headingLevel(line string) int {
	if !strings.HasPrefix(line, "#") {
		return 1
	}
	return len(line) - len(strings.TrimLeft(line, "#"))
}

// IsHeading applies the heading heuristics to a single line.
func IsHeading(line string) bool {
	if line == "" || len(line) >= 100 {
		return false
	}
	if strings.HasPrefix(line, "#") {
		return true
	}
	if line == strings.ToUpper(line) && strings.ContainsFunc(line, unicode.IsLetter) {
		return true
	}
	if strings.HasSuffix(line, ":") {
		return true
	}
	if len(line) < 80 && !strings.HasSuffix(line, ".") && isTitleCase(line) {
		return true
	}
	return false
}

// isTitleCase reports whether every significant word starts uppercase.
func isTitleCase(line string) bool {
	words := strings.Fields(line)
	if len(words) < 2 || len(words) > 10 {
		return false
	}
	minor := map[string]bool{
		"a": true, "an": true, "the": true, "of": true, "in": true,
		"on": true, "to": true, "and": true, "or": true, "for": true,
	}
	for i, w := range words {
		r := []rune(w)[0]
		if unicode.IsUpper(r) || unicode.IsDigit(r) {
			continue
		}
		if i > 0 && minor[w] {
			continue
		}
		return false
	}
	return true
}

// split cuts an oversized body into chunkSize pieces at sentence
// boundaries, carrying overlap characters into the next piece.
func (c *Chunker) split(body string) []string {
	if body == "" {
		return nil
	}
	if len(body) <= c.chunkSize {
		return []string{body}
	}

	sentences := splitSentences(body)
	var pieces []string
	var current strings.Builder

	for _, sentence := range sentences {
		if current.Len() > 0 && current.Len()+len(sentence)+1 > c.chunkSize {
			piece := strings.TrimSpace(current.String())
			pieces = append(pieces, piece)
			current.Reset()
			current.WriteString(overlapTail(piece, c.overlap))
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}
	if tail := strings.TrimSpace(current.String()); tail != "" {
		pieces = append(pieces, tail)
	}
	return pieces
}

// overlapTail returns the last n characters of s, extended left to the
// nearest word boundary.
func overlapTail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return ""
	}
	tail := s[len(s)-n:]
	if idx := strings.IndexAny(tail, " \n"); idx >= 0 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}

var sentenceEndRe = regexp.MustCompile(`([.!?])\s+`)

func splitSentences(text string) []string {
	marked := sentenceEndRe.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// merge folds undersized chunks into their successor when the pair
// stays within 120% of the chunk size.
func (c *Chunker) merge(chunks []Chunk) []Chunk {
	limit := c.chunkSize + c.chunkSize/5
	var merged []Chunk
	for _, ch := range chunks {
		if n := len(merged); n > 0 {
			prev := &merged[n-1]
			if len(prev.Text) < c.minSize && len(prev.Text)+len(ch.Text) <= limit {
				if ch.Heading != "" && ch.Heading != prev.Heading {
					prev.Text += "\n\n" + ch.Heading + "\n" + ch.Text
				} else {
					prev.Text += "\n\n" + ch.Text
				}
				prev.Page = pickNonZero(prev.Page, ch.Page)
				prev.Slide = pickNonZero(prev.Slide, ch.Slide)
				continue
			}
		}
		merged = append(merged, ch)
	}
	return merged
}

// hashText fingerprints a chunk over its whitespace-normalized text so
// equal content hashes equal regardless of line breaks.
func hashText(text string) string {
	sum := sha256.Sum256([]byte(strings.Join(strings.Fields(text), " ")))
	return hex.EncodeToString(sum[:])
}

// EstimateTokens approximates the token count of text for sizing
// purposes. English text runs roughly 1.3 tokens per word.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(float64(words) * 1.3)
}
