package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/canvaslabs/canvas-sync/internal/canvas"
	"github.com/canvaslabs/canvas-sync/internal/chunker"
	"github.com/canvaslabs/canvas-sync/internal/config"
	"github.com/canvaslabs/canvas-sync/internal/metrics"
	"github.com/canvaslabs/canvas-sync/internal/store"
	"github.com/canvaslabs/canvas-sync/internal/store/memory"
)

func init() {
	metrics.Init()
}

type fakeEngine struct {
	running bool
	last    *store.SyncRun
	due     []canvas.DueItem
	runs    chan string
}

func (f *fakeEngine) Run(_ context.Context, trigger string) (store.SyncRun, error) {
	if f.runs != nil {
		f.runs <- trigger
	}
	return store.SyncRun{ID: "run-1", Trigger: trigger}, nil
}

func (f *fakeEngine) Status() (bool, *store.SyncRun) { return f.running, f.last }

func (f *fakeEngine) DueSoon(context.Context, int64, time.Duration) ([]canvas.DueItem, error) {
	return f.due, nil
}

type fixedIDs struct{}

func (fixedIDs) NewID() string { return "req-1" }

func newTestServer(t *testing.T, engine *fakeEngine, cfg config.Config) (*httptest.Server, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	srv := NewServer(engine, Stores{Courses: st, Docs: st, Runs: st, Search: st}, fixedIDs{}, cfg, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, &fakeEngine{}, config.Config{})
	var body map[string]string
	resp := getJSON(t, ts.URL+"/healthz", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "req-1", resp.Header.Get("X-Request-ID"))
}

func TestStartSync(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{runs: make(chan string, 1)}
	ts, _ := newTestServer(t, engine, config.Config{})

	resp, err := http.Post(ts.URL+"/v1/sync", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case trigger := <-engine.runs:
		require.Equal(t, "manual", trigger)
	case <-time.After(time.Second):
		t.Fatal("engine run was not triggered")
	}
}

func TestStartSyncConflict(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, &fakeEngine{running: true}, config.Config{})
	resp, err := http.Post(ts.URL+"/v1/sync", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSyncStatus(t *testing.T) {
	t.Parallel()

	last := &store.SyncRun{ID: "run-9", Status: "completed"}
	ts, _ := newTestServer(t, &fakeEngine{last: last}, config.Config{})

	var body struct {
		Running   bool           `json:"running"`
		LastRun   *store.SyncRun `json:"last_run"`
		Scheduler struct {
			Enabled bool `json:"enabled"`
		} `json:"scheduler"`
	}
	resp := getJSON(t, ts.URL+"/v1/sync/status", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, body.Running)
	require.Equal(t, "run-9", body.LastRun.ID)
	require.False(t, body.Scheduler.Enabled)
}

type fixedSchedule struct{ next []time.Time }

func (f fixedSchedule) NextRuns() []time.Time { return f.next }

func TestSyncStatusReportsSchedule(t *testing.T) {
	t.Parallel()

	st := memory.NewStore()
	next := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	srv := NewServer(&fakeEngine{}, Stores{Courses: st, Docs: st, Runs: st, Search: st},
		fixedIDs{}, config.Config{}, fixedSchedule{next: []time.Time{next}})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	var body struct {
		Scheduler struct {
			Enabled  bool        `json:"enabled"`
			NextRuns []time.Time `json:"next_runs"`
		} `json:"scheduler"`
	}
	resp := getJSON(t, ts.URL+"/v1/sync/status", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, body.Scheduler.Enabled)
	require.Equal(t, []time.Time{next}, body.Scheduler.NextRuns)
}

func TestCourseEndpoints(t *testing.T) {
	t.Parallel()

	ts, st := newTestServer(t, &fakeEngine{}, config.Config{})
	ctx := context.Background()

	require.NoError(t, st.UpsertCourse(ctx, store.Course{CanvasID: 100, Name: "Algorithms"}))
	require.NoError(t, st.UpsertDocument(ctx, store.Document{
		ID: "page:100:syllabus", CourseID: 100, Kind: store.KindPage,
		Title: "Syllabus", WordCount: 50, SyncedAt: time.Now(),
	}, nil))

	var courses struct {
		Courses []store.Course `json:"courses"`
	}
	resp := getJSON(t, ts.URL+"/v1/courses/", &courses)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, courses.Courses, 1)

	var stats store.CourseStats
	resp = getJSON(t, ts.URL+"/v1/courses/100/stats", &stats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, stats.Documents)
	require.Equal(t, 50, stats.Words)

	var docs struct {
		Documents []store.Document `json:"documents"`
	}
	resp = getJSON(t, ts.URL+"/v1/courses/100/documents", &docs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, docs.Documents, 1)

	resp = getJSON(t, ts.URL+"/v1/courses/abc/stats", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchEndpoint(t *testing.T) {
	t.Parallel()

	ts, st := newTestServer(t, &fakeEngine{}, config.Config{})
	require.NoError(t, st.UpsertDocument(context.Background(), store.Document{
		ID: "d1", CourseID: 100, Kind: store.KindFile, Title: "lec.pdf", SyncedAt: time.Now(),
	}, []chunker.Chunk{{Index: 0, Text: "binary heaps support logarithmic operations"}}))

	var body struct {
		Results []store.SearchResult `json:"results"`
	}
	resp := getJSON(t, ts.URL+"/v1/search?q=heaps", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Results, 1)

	resp = getJSON(t, ts.URL+"/v1/search", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDueEndpoint(t *testing.T) {
	t.Parallel()

	due := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	engine := &fakeEngine{due: []canvas.DueItem{
		{CourseID: 100, Kind: "assignment", ID: 5, Title: "Essay", DueAt: due},
	}}
	ts, _ := newTestServer(t, engine, config.Config{})

	var body struct {
		Due []canvas.DueItem `json:"due"`
	}
	resp := getJSON(t, ts.URL+"/v1/courses/100/due?days=30", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Due, 1)
	require.Equal(t, "Essay", body.Due[0].Title)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	ts, _ := newTestServer(t, &fakeEngine{}, cfg)

	// health endpoints stay open
	resp := getJSON(t, ts.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = getJSON(t, ts.URL+"/v1/runs", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/runs", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	require.Equal(t, http.StatusOK, authed.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, &fakeEngine{}, config.Config{})
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
