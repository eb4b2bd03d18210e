// Package fingerprint computes stable SHA-256 identities for Canvas
// entities so unchanged content can be skipped on later runs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/canvaslabs/canvas-sync/internal/canvas"
)

// hash serializes v as canonical JSON and returns the hex SHA-256 digest.
// encoding/json emits map keys in sorted order, which keeps the digest
// stable across runs.
func hash(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// only reachable with unmarshalable types, which we never pass
		data = []byte(err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func timestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Text fingerprints extracted text with whitespace collapsed, so
// formatting-only differences do not count as changes.
func Text(s string) string {
	normalized := strings.Join(strings.Fields(s), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Course fingerprints the identity of a course record.
func Course(c canvas.Course) string {
	return hash(map[string]any{
		"id":          c.ID,
		"name":        c.Name,
		"course_code": c.CourseCode,
		"updated_at":  timestamp(c.UpdatedAt),
	})
}

// File fingerprints a file record without downloading its content.
// Canvas bumps updated_at and size on re-upload, so this is enough to
// detect replaced files.
func File(f canvas.File) string {
	return hash(map[string]any{
		"id":           f.ID,
		"size":         f.Size,
		"updated_at":   timestamp(f.UpdatedAt),
		"content_type": f.ContentType,
		"display_name": f.DisplayName,
	})
}

// Item fingerprints a single module item.
func Item(it canvas.ModuleItem) string {
	return hash(map[string]any{
		"id":         it.ID,
		"type":       it.Type,
		"content_id": it.ContentID,
		"updated_at": timestamp(it.UpdatedAt),
		"title":      it.Title,
	})
}

// Module fingerprints a module together with its items. Item hashes are
// sorted so ordering changes inside the slice do not flip the digest.
func Module(m canvas.Module, items []canvas.ModuleItem) string {
	itemHashes := make([]string, 0, len(items))
	for _, it := range items {
		itemHashes = append(itemHashes, Item(it))
	}
	sort.Strings(itemHashes)
	return hash(map[string]any{
		"id":          m.ID,
		"name":        m.Name,
		"items_count": m.ItemsCount,
		"updated_at":  timestamp(m.UpdatedAt),
		"items":       itemHashes,
	})
}

// Page fingerprints a wiki page including its body content.
func Page(p canvas.Page) string {
	return hash(map[string]any{
		"url":        p.URL,
		"title":      p.Title,
		"updated_at": timestamp(p.UpdatedAt),
		"content":    Text(p.Body),
	})
}

// Assignment fingerprints an assignment's sync-relevant fields.
func Assignment(a canvas.Assignment) string {
	return hash(map[string]any{
		"id":         a.ID,
		"name":       a.Name,
		"due_at":     timestamp(a.DueAt),
		"points":     a.PointsPossible,
		"updated_at": timestamp(a.UpdatedAt),
		"content":    Text(a.Description),
	})
}

// Quiz fingerprints a quiz's sync-relevant fields.
func Quiz(q canvas.Quiz) string {
	return hash(map[string]any{
		"id":             q.ID,
		"title":          q.Title,
		"due_at":         timestamp(q.DueAt),
		"points":         q.PointsPossible,
		"question_count": q.QuestionCount,
		"content":        Text(q.Description),
	})
}
