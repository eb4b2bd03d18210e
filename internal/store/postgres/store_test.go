package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/canvaslabs/canvas-sync/internal/chunker"
	"github.com/canvaslabs/canvas-sync/internal/store"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func TestUpsertCourse(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	course := store.Course{
		CanvasID:     12345,
		Name:         "Algorithms",
		CourseCode:   "COMP30026",
		TermName:     "Semester 2 2026",
		Fingerprint:  "abc123",
		LastSyncedAt: &now,
	}

	mock.ExpectExec("INSERT INTO courses").
		WithArgs(course.CanvasID, course.Name, course.CourseCode, course.TermName,
			course.Fingerprint, course.LastSyncedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertCourse(context.Background(), course))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCourseRequiresID(t *testing.T) {
	t.Parallel()

	s, _ := newMockStore(t)
	require.Error(t, s.UpsertCourse(context.Background(), store.Course{Name: "x"}))
}

func TestGetCourseNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT canvas_id, name").
		WithArgs(int64(99)).
		WillReturnRows(pgxmock.NewRows([]string{
			"canvas_id", "name", "course_code", "term_name", "fingerprint", "last_synced_at",
		}))

	_, err := s.GetCourse(context.Background(), 99)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDocumentReplacesChunks(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	doc := store.Document{
		ID:          "doc-1",
		CanvasID:    42,
		CourseID:    12345,
		ModuleID:    7,
		Kind:        store.KindFile,
		Title:       "lecture01.pdf",
		Format:      "pdf",
		Fingerprint: "fp1",
		WordCount:   120,
		Pages:       4,
		SizeBytes:   2048,
		SyncedAt:    now,
	}
	chunks := []chunker.Chunk{
		{Index: 0, Heading: "Intro", Text: "first chunk", Page: 1, TokenCount: 3},
		{Index: 1, Text: "second chunk", Page: 2, TokenCount: 3},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO documents").
		WithArgs(doc.ID, doc.CanvasID, doc.CourseID, doc.ModuleID, doc.Kind,
			doc.Title, doc.Format, doc.Fingerprint, doc.WordCount, doc.Pages,
			doc.Slides, doc.SizeBytes, doc.SourceURL, doc.DueAt, doc.UpdatedAt,
			doc.SyncedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM chunks").
		WithArgs(doc.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	for _, ch := range chunks {
		mock.ExpectExec("INSERT INTO chunks").
			WithArgs(doc.ID, ch.Index, ch.Heading, ch.Level, ch.Text, ch.Hash, ch.Page, ch.Slide, ch.TokenCount).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, s.UpsertDocument(context.Background(), doc, chunks))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDocumentNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM documents").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.DeleteDocument(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPutAndGetState(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	st := store.SyncState{
		EntityKey:   "file:42",
		EntityType:  "file",
		Fingerprint: "fp1",
		Status:      store.StatusCompleted,
		Attempts:    1,
		UpdatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO sync_state").
		WithArgs(st.EntityKey, st.EntityType, st.Fingerprint, st.Status,
			st.Attempts, st.LastError, st.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.PutState(context.Background(), st))

	mock.ExpectQuery("SELECT entity_key").
		WithArgs(st.EntityKey).
		WillReturnRows(pgxmock.NewRows([]string{
			"entity_key", "entity_type", "fingerprint", "status", "attempts", "last_error", "updated_at",
		}).AddRow(st.EntityKey, st.EntityType, st.Fingerprint, st.Status, st.Attempts, "", now))

	got, err := s.GetState(context.Background(), st.EntityKey)
	require.NoError(t, err)
	require.Equal(t, st, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseStats(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT").
		WithArgs(int64(12345)).
		WillReturnRows(pgxmock.NewRows([]string{"documents", "chunks", "words", "last_synced"}).
			AddRow(10, 80, 42000, &now))

	stats, err := s.CourseStats(context.Background(), 12345)
	require.NoError(t, err)
	require.Equal(t, 10, stats.Documents)
	require.Equal(t, 80, stats.Chunks)
	require.Equal(t, 42000, stats.Words)
	require.Equal(t, now, *stats.LastSynced)
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(5 * time.Minute)

	mock.ExpectQuery("SELECT id, trigger_kind").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "trigger_kind", "status", "started_at", "finished_at",
			"courses", "documents", "skipped", "failed", "chunks", "bytes_fetched", "error",
		}).AddRow("run-1", "scheduled", "completed", started, &finished, 3, 12, 40, 1, 90, 100000, ""))

	runs, err := s.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "run-1", runs[0].ID)
	require.Equal(t, 12, runs[0].Stats.Documents)
	require.Equal(t, finished, *runs[0].FinishedAt)
}

func TestSearch(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("websearch_to_tsquery").
		WithArgs("binary trees", int64(0), 20).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "course_id", "title", "kind", "heading", "snippet", "rank",
		}).AddRow("doc-1", int64(12345), "lecture05.pdf", "file", "Trees", "<b>binary trees</b> rotate", 0.9))

	results, err := s.Search(context.Background(), "binary trees", 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "doc-1", results[0].DocumentID)
	require.InDelta(t, 0.9, results[0].Rank, 1e-9)
}

func TestSearchRequiresQuery(t *testing.T) {
	t.Parallel()

	s, _ := newMockStore(t)
	_, err := s.Search(context.Background(), "", 0, 10)
	require.Error(t, err)
}
