// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/canvaslabs/canvas-sync/internal/chunker"
	"github.com/canvaslabs/canvas-sync/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type db interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store implements the store interfaces on top of Postgres.
type Store struct {
	pool db
}

// NewStore connects a pool and returns a Store.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for testing).
func NewStoreWithPool(pool db) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertCourse inserts or updates a course keyed on its Canvas ID.
func (s *Store) UpsertCourse(ctx context.Context, course store.Course) error {
	if course.CanvasID == 0 {
		return fmt.Errorf("course canvas_id is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO courses (canvas_id, name, course_code, term_name, fingerprint, last_synced_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (canvas_id) DO UPDATE SET
	name = EXCLUDED.name,
	course_code = EXCLUDED.course_code,
	term_name = EXCLUDED.term_name,
	fingerprint = EXCLUDED.fingerprint,
	last_synced_at = EXCLUDED.last_synced_at`,
		course.CanvasID, course.Name, course.CourseCode, course.TermName,
		course.Fingerprint, course.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("upsert course %d: %w", course.CanvasID, err)
	}
	return nil
}

// GetCourse fetches a course by Canvas ID.
func (s *Store) GetCourse(ctx context.Context, canvasID int64) (store.Course, error) {
	var c store.Course
	err := s.pool.QueryRow(ctx, `
SELECT canvas_id, name, course_code, term_name, fingerprint, last_synced_at
FROM courses WHERE canvas_id = $1`, canvasID).
		Scan(&c.CanvasID, &c.Name, &c.CourseCode, &c.TermName, &c.Fingerprint, &c.LastSyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Course{}, fmt.Errorf("course %d: %w", canvasID, store.ErrNotFound)
	}
	if err != nil {
		return store.Course{}, fmt.Errorf("get course %d: %w", canvasID, err)
	}
	return c, nil
}

// ListCourses returns all stored courses ordered by Canvas ID.
func (s *Store) ListCourses(ctx context.Context) ([]store.Course, error) {
	rows, err := s.pool.Query(ctx, `
SELECT canvas_id, name, course_code, term_name, fingerprint, last_synced_at
FROM courses ORDER BY canvas_id`)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	var courses []store.Course
	for rows.Next() {
		var c store.Course
		if err := rows.Scan(&c.CanvasID, &c.Name, &c.CourseCode, &c.TermName,
			&c.Fingerprint, &c.LastSyncedAt); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// UpsertDocument writes the document and replaces its chunks in one
// transaction, keyed on the document ID.
func (s *Store) UpsertDocument(ctx context.Context, doc store.Document, chunks []chunker.Chunk) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
INSERT INTO documents (
	id, canvas_id, course_id, module_id, kind, title, format, fingerprint,
	word_count, pages, slides, size_bytes, source_url, due_at, updated_at, synced_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	format = EXCLUDED.format,
	fingerprint = EXCLUDED.fingerprint,
	word_count = EXCLUDED.word_count,
	pages = EXCLUDED.pages,
	slides = EXCLUDED.slides,
	size_bytes = EXCLUDED.size_bytes,
	source_url = EXCLUDED.source_url,
	due_at = EXCLUDED.due_at,
	updated_at = EXCLUDED.updated_at,
	synced_at = EXCLUDED.synced_at`,
		doc.ID, doc.CanvasID, doc.CourseID, doc.ModuleID, doc.Kind, doc.Title,
		doc.Format, doc.Fingerprint, doc.WordCount, doc.Pages, doc.Slides,
		doc.SizeBytes, doc.SourceURL, doc.DueAt, doc.UpdatedAt, doc.SyncedAt)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("clear chunks for %s: %w", doc.ID, err)
	}
	for _, ch := range chunks {
		_, err = tx.Exec(ctx, `
INSERT INTO chunks (document_id, chunk_index, heading, heading_level, content, content_hash, page, slide, token_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			doc.ID, ch.Index, ch.Heading, ch.Level, ch.Text, ch.Hash, ch.Page, ch.Slide, ch.TokenCount)
		if err != nil {
			return fmt.Errorf("insert chunk %d for %s: %w", ch.Index, doc.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit document %s: %w", doc.ID, err)
	}
	return nil
}

const documentColumns = `
id, canvas_id, course_id, module_id, kind, title, format, fingerprint,
word_count, pages, slides, size_bytes, source_url, due_at, updated_at, synced_at`

func scanDocument(row pgx.Row) (store.Document, error) {
	var d store.Document
	err := row.Scan(&d.ID, &d.CanvasID, &d.CourseID, &d.ModuleID, &d.Kind,
		&d.Title, &d.Format, &d.Fingerprint, &d.WordCount, &d.Pages, &d.Slides,
		&d.SizeBytes, &d.SourceURL, &d.DueAt, &d.UpdatedAt, &d.SyncedAt)
	return d, err
}

// GetDocument fetches one document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (store.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Document{}, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

// ListDocuments returns a course's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, courseID int64) ([]store.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE course_id = $1 ORDER BY synced_at DESC`,
		courseID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document. Chunks go with it via ON DELETE CASCADE.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// CourseStats aggregates document and chunk counts for a course.
func (s *Store) CourseStats(ctx context.Context, courseID int64) (store.CourseStats, error) {
	stats := store.CourseStats{CourseID: courseID}
	err := s.pool.QueryRow(ctx, `
SELECT
	(SELECT COUNT(*) FROM documents WHERE course_id = $1),
	(SELECT COUNT(*) FROM chunks c JOIN documents d ON d.id = c.document_id WHERE d.course_id = $1),
	(SELECT COALESCE(SUM(word_count), 0) FROM documents WHERE course_id = $1),
	(SELECT MAX(synced_at) FROM documents WHERE course_id = $1)`, courseID).
		Scan(&stats.Documents, &stats.Chunks, &stats.Words, &stats.LastSynced)
	if err != nil {
		return store.CourseStats{}, fmt.Errorf("course stats %d: %w", courseID, err)
	}
	return stats, nil
}

// DeleteStaleDocuments removes documents for a course not synced since
// the cutoff and reports how many went away.
func (s *Store) DeleteStaleDocuments(ctx context.Context, courseID int64, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE course_id = $1 AND synced_at < $2`, courseID, before)
	if err != nil {
		return 0, fmt.Errorf("delete stale documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetState fetches the sync state for an entity key.
func (s *Store) GetState(ctx context.Context, entityKey string) (store.SyncState, error) {
	var st store.SyncState
	err := s.pool.QueryRow(ctx, `
SELECT entity_key, entity_type, fingerprint, status, attempts, last_error, updated_at
FROM sync_state WHERE entity_key = $1`, entityKey).
		Scan(&st.EntityKey, &st.EntityType, &st.Fingerprint, &st.Status,
			&st.Attempts, &st.LastError, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.SyncState{}, fmt.Errorf("state %s: %w", entityKey, store.ErrNotFound)
	}
	if err != nil {
		return store.SyncState{}, fmt.Errorf("get state %s: %w", entityKey, err)
	}
	return st, nil
}

// PutState inserts or updates an entity's sync state.
func (s *Store) PutState(ctx context.Context, st store.SyncState) error {
	if st.EntityKey == "" {
		return fmt.Errorf("state entity_key is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO sync_state (entity_key, entity_type, fingerprint, status, attempts, last_error, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (entity_key) DO UPDATE SET
	entity_type = EXCLUDED.entity_type,
	fingerprint = EXCLUDED.fingerprint,
	status = EXCLUDED.status,
	attempts = EXCLUDED.attempts,
	last_error = EXCLUDED.last_error,
	updated_at = EXCLUDED.updated_at`,
		st.EntityKey, st.EntityType, st.Fingerprint, st.Status,
		st.Attempts, st.LastError, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put state %s: %w", st.EntityKey, err)
	}
	return nil
}

// ListStates returns sync states, optionally filtered by entity type.
func (s *Store) ListStates(ctx context.Context, entityType string) ([]store.SyncState, error) {
	query := `
SELECT entity_key, entity_type, fingerprint, status, attempts, last_error, updated_at
FROM sync_state`
	args := []any{}
	if entityType != "" {
		query += ` WHERE entity_type = $1`
		args = append(args, entityType)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()

	var states []store.SyncState
	for rows.Next() {
		var st store.SyncState
		if err := rows.Scan(&st.EntityKey, &st.EntityType, &st.Fingerprint,
			&st.Status, &st.Attempts, &st.LastError, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// StartRun records the beginning of a sync run.
func (s *Store) StartRun(ctx context.Context, run store.SyncRun) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO sync_runs (id, trigger_kind, status, started_at)
VALUES ($1, $2, $3, $4)`,
		run.ID, run.Trigger, run.Status, run.StartedAt)
	if err != nil {
		return fmt.Errorf("start run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun records results for a completed or failed sync run.
func (s *Store) FinishRun(ctx context.Context, run store.SyncRun) error {
	_, err := s.pool.Exec(ctx, `
UPDATE sync_runs SET
	status = $2,
	finished_at = $3,
	courses = $4,
	documents = $5,
	skipped = $6,
	failed = $7,
	chunks = $8,
	bytes_fetched = $9,
	error = $10
WHERE id = $1`,
		run.ID, run.Status, run.FinishedAt, run.Stats.Courses, run.Stats.Documents,
		run.Stats.Skipped, run.Stats.Failed, run.Stats.Chunks, run.Stats.BytesFetch,
		run.Error)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the most recent sync runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]store.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, trigger_kind, status, started_at, finished_at,
	courses, documents, skipped, failed, chunks, bytes_fetched, error
FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.SyncRun
	for rows.Next() {
		var r store.SyncRun
		if err := rows.Scan(&r.ID, &r.Trigger, &r.Status, &r.StartedAt, &r.FinishedAt,
			&r.Stats.Courses, &r.Stats.Documents, &r.Stats.Skipped, &r.Stats.Failed,
			&r.Stats.Chunks, &r.Stats.BytesFetch, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Search runs a websearch full-text query over chunk content, most
// relevant first. courseID of zero searches all courses.
func (s *Store) Search(ctx context.Context, query string, courseID int64, limit int) ([]store.SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
SELECT d.id, d.course_id, d.title, d.kind, c.heading,
	ts_headline('english', c.content, websearch_to_tsquery('english', $1)),
	ts_rank(to_tsvector('english', c.content), websearch_to_tsquery('english', $1)) AS rank
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE to_tsvector('english', c.content) @@ websearch_to_tsquery('english', $1)
	AND ($2 = 0 OR d.course_id = $2)
ORDER BY rank DESC
LIMIT $3`, query, courseID, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var results []store.SearchResult
	for rows.Next() {
		var r store.SearchResult
		if err := rows.Scan(&r.DocumentID, &r.CourseID, &r.Title, &r.Kind,
			&r.Heading, &r.Snippet, &r.Rank); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
