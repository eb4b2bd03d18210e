// Package memory provides in-memory store implementations for tests
// and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/canvaslabs/canvas-sync/internal/chunker"
	"github.com/canvaslabs/canvas-sync/internal/store"
)

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	mu      sync.Mutex
	courses map[int64]store.Course
	docs    map[string]store.Document
	chunks  map[string][]chunker.Chunk
	states  map[string]store.SyncState
	runs    []store.SyncRun
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		courses: make(map[int64]store.Course),
		docs:    make(map[string]store.Document),
		chunks:  make(map[string][]chunker.Chunk),
		states:  make(map[string]store.SyncState),
	}
}

// UpsertCourse implements store.CourseStore.
func (s *Store) UpsertCourse(_ context.Context, course store.Course) error {
	if course.CanvasID == 0 {
		return fmt.Errorf("course canvas_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[course.CanvasID] = course
	return nil
}

// GetCourse implements store.CourseStore.
func (s *Store) GetCourse(_ context.Context, canvasID int64) (store.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	course, ok := s.courses[canvasID]
	if !ok {
		return store.Course{}, fmt.Errorf("course %d: %w", canvasID, store.ErrNotFound)
	}
	return course, nil
}

// ListCourses implements store.CourseStore.
func (s *Store) ListCourses(_ context.Context) ([]store.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	courses := make([]store.Course, 0, len(s.courses))
	for _, c := range s.courses {
		courses = append(courses, c)
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].CanvasID < courses[j].CanvasID })
	return courses, nil
}

// UpsertDocument implements store.DocumentStore.
func (s *Store) UpsertDocument(_ context.Context, doc store.Document, chunks []chunker.Chunk) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	s.chunks[doc.ID] = append([]chunker.Chunk(nil), chunks...)
	return nil
}

// GetDocument implements store.DocumentStore.
func (s *Store) GetDocument(_ context.Context, id string) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return store.Document{}, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	return doc, nil
}

// ListDocuments implements store.DocumentStore.
func (s *Store) ListDocuments(_ context.Context, courseID int64) ([]store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var docs []store.Document
	for _, d := range s.docs {
		if d.CourseID == courseID {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].SyncedAt.After(docs[j].SyncedAt) })
	return docs, nil
}

// DeleteDocument implements store.DocumentStore.
func (s *Store) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	delete(s.docs, id)
	delete(s.chunks, id)
	return nil
}

// CourseStats implements store.DocumentStore.
func (s *Store) CourseStats(_ context.Context, courseID int64) (store.CourseStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := store.CourseStats{CourseID: courseID}
	for id, d := range s.docs {
		if d.CourseID != courseID {
			continue
		}
		stats.Documents++
		stats.Chunks += len(s.chunks[id])
		stats.Words += d.WordCount
		if stats.LastSynced == nil || d.SyncedAt.After(*stats.LastSynced) {
			t := d.SyncedAt
			stats.LastSynced = &t
		}
	}
	return stats, nil
}

// DeleteStaleDocuments implements store.DocumentStore.
func (s *Store) DeleteStaleDocuments(_ context.Context, courseID int64, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, d := range s.docs {
		if d.CourseID == courseID && d.SyncedAt.Before(before) {
			delete(s.docs, id)
			delete(s.chunks, id)
			removed++
		}
	}
	return removed, nil
}

// GetState implements store.StateStore.
func (s *Store) GetState(_ context.Context, entityKey string) (store.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[entityKey]
	if !ok {
		return store.SyncState{}, fmt.Errorf("state %s: %w", entityKey, store.ErrNotFound)
	}
	return st, nil
}

// PutState implements store.StateStore.
func (s *Store) PutState(_ context.Context, st store.SyncState) error {
	if st.EntityKey == "" {
		return fmt.Errorf("state entity_key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.EntityKey] = st
	return nil
}

// ListStates implements store.StateStore.
func (s *Store) ListStates(_ context.Context, entityType string) ([]store.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var states []store.SyncState
	for _, st := range s.states {
		if entityType == "" || st.EntityType == entityType {
			states = append(states, st)
		}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].UpdatedAt.After(states[j].UpdatedAt) })
	return states, nil
}

// StartRun implements store.RunStore.
func (s *Store) StartRun(_ context.Context, run store.SyncRun) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

// FinishRun implements store.RunStore.
func (s *Store) FinishRun(_ context.Context, run store.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = run
			return nil
		}
	}
	return fmt.Errorf("run %s: %w", run.ID, store.ErrNotFound)
}

// ListRuns implements store.RunStore.
func (s *Store) ListRuns(_ context.Context, limit int) ([]store.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := append([]store.SyncRun(nil), s.runs...)
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Search implements store.SearchStore with a naive substring match.
func (s *Store) Search(_ context.Context, query string, courseID int64, limit int) ([]store.SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(query)
	var results []store.SearchResult
	for id, chunks := range s.chunks {
		doc := s.docs[id]
		if courseID != 0 && doc.CourseID != courseID {
			continue
		}
		for _, ch := range chunks {
			if !strings.Contains(strings.ToLower(ch.Text), needle) {
				continue
			}
			results = append(results, store.SearchResult{
				DocumentID: id,
				CourseID:   doc.CourseID,
				Title:      doc.Title,
				Kind:       doc.Kind,
				Heading:    ch.Heading,
				Snippet:    snippet(ch.Text, needle),
				Rank:       1,
			})
			if len(results) >= limit {
				return results, nil
			}
			break
		}
	}
	return results, nil
}

func snippet(text, needle string) string {
	idx := strings.Index(strings.ToLower(text), needle)
	start := idx - 60
	if start < 0 {
		start = 0
	}
	end := idx + len(needle) + 60
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}
