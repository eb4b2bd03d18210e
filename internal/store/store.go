// Package store defines the persistence model and interfaces for
// synced course content.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/canvaslabs/canvas-sync/internal/chunker"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Course is a synced Canvas course.
type Course struct {
	CanvasID     int64      `json:"canvas_id"`
	Name         string     `json:"name"`
	CourseCode   string     `json:"course_code"`
	TermName     string     `json:"term_name,omitempty"`
	Fingerprint  string     `json:"fingerprint"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// Document kinds.
const (
	KindFile       = "file"
	KindPage       = "page"
	KindAssignment = "assignment"
	KindQuiz       = "quiz"
)

// Document is one piece of synced course content with its extracted text
// summarized by chunks.
type Document struct {
	ID          string     `json:"id"`
	CanvasID    int64      `json:"canvas_id"`
	CourseID    int64      `json:"course_id"`
	ModuleID    int64      `json:"module_id,omitempty"`
	Kind        string     `json:"kind"`
	Title       string     `json:"title"`
	Format      string     `json:"format,omitempty"`
	Fingerprint string     `json:"fingerprint"`
	WordCount   int        `json:"word_count"`
	Pages       int        `json:"pages,omitempty"`
	Slides      int        `json:"slides,omitempty"`
	SizeBytes   int64      `json:"size_bytes,omitempty"`
	SourceURL   string     `json:"source_url,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	SyncedAt    time.Time  `json:"synced_at"`
}

// Sync state statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// SyncState tracks per-entity processing progress across runs.
type SyncState struct {
	EntityKey   string    `json:"entity_key"`
	EntityType  string    `json:"entity_type"`
	Fingerprint string    `json:"fingerprint"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SyncRun is one recorded execution of the sync engine.
type SyncRun struct {
	ID         string     `json:"id"`
	Trigger    string     `json:"trigger"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Stats      RunStats   `json:"stats"`
	Error      string     `json:"error,omitempty"`
}

// RunStats summarizes what one sync run did.
type RunStats struct {
	Courses    int `json:"courses"`
	Documents  int `json:"documents"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Chunks     int `json:"chunks"`
	BytesFetch int `json:"bytes_fetched"`
}

// CourseStats aggregates stored content for one course.
type CourseStats struct {
	CourseID   int64      `json:"course_id"`
	Documents  int        `json:"documents"`
	Chunks     int        `json:"chunks"`
	Words      int        `json:"words"`
	LastSynced *time.Time `json:"last_synced,omitempty"`
}

// SearchResult is one full-text search hit.
type SearchResult struct {
	DocumentID string  `json:"document_id"`
	CourseID   int64   `json:"course_id"`
	Title      string  `json:"title"`
	Kind       string  `json:"kind"`
	Heading    string  `json:"heading,omitempty"`
	Snippet    string  `json:"snippet"`
	Rank       float64 `json:"rank"`
}

// CourseStore persists course records.
type CourseStore interface {
	UpsertCourse(ctx context.Context, course Course) error
	GetCourse(ctx context.Context, canvasID int64) (Course, error)
	ListCourses(ctx context.Context) ([]Course, error)
}

// DocumentStore persists documents and their chunks. Replacing a
// document's chunks happens atomically with the document upsert.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, doc Document, chunks []chunker.Chunk) error
	GetDocument(ctx context.Context, id string) (Document, error)
	ListDocuments(ctx context.Context, courseID int64) ([]Document, error)
	DeleteDocument(ctx context.Context, id string) error
	CourseStats(ctx context.Context, courseID int64) (CourseStats, error)
	DeleteStaleDocuments(ctx context.Context, courseID int64, before time.Time) (int64, error)
}

// StateStore persists per-entity sync state.
type StateStore interface {
	GetState(ctx context.Context, entityKey string) (SyncState, error)
	PutState(ctx context.Context, state SyncState) error
	ListStates(ctx context.Context, entityType string) ([]SyncState, error)
}

// RunStore records sync run history.
type RunStore interface {
	StartRun(ctx context.Context, run SyncRun) error
	FinishRun(ctx context.Context, run SyncRun) error
	ListRuns(ctx context.Context, limit int) ([]SyncRun, error)
}

// SearchStore answers full-text queries over chunk content.
type SearchStore interface {
	Search(ctx context.Context, query string, courseID int64, limit int) ([]SearchResult, error)
}
