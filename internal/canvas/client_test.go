package canvas

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Options{
		BaseURL: srv.URL,
		Token:   "test-token",
		RateRPS: 1000,
	})
	require.NoError(t, err)
	return client, srv
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Options{Token: "t"})
	require.Error(t, err)

	_, err = NewClient(Options{BaseURL: "https://canvas.example.edu"})
	require.Error(t, err)
}

func TestListActiveCoursesFiltersAndPaginates(t *testing.T) {
	t.Parallel()

	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"id":3,"name":"Networks","course_code":"NET1",
				"enrollments":[{"enrollment_state":"active"}]}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/api/v1/courses?page=2>; rel="next"`, r.Host))
		fmt.Fprint(w, `[
			{"id":2,"name":"Old","course_code":"OLD1","enrollments":[{"enrollment_state":"completed"}]},
			{"id":1,"name":"Algorithms","course_code":"ALG1","enrollments":[{"enrollment_state":"active"}]},
			{"id":4,"name":"No Enrollment","course_code":"NE1"},
			{"id":5,"name":"Dropped","course_code":"DR1",
				"enrollments":[{"enrollment_state":"completed"},{"enrollment_state":"active"}]}
		]`)
	})

	client, _ := newTestClient(t, mux)
	courses, err := client.ListActiveCourses(context.Background())
	require.NoError(t, err)

	require.Equal(t, "Bearer test-token", gotAuth)
	require.Len(t, courses, 2)
	require.Equal(t, int64(1), courses[0].ID)
	require.Equal(t, int64(3), courses[1].ID)
}

func TestGetPageNotFound(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := client.GetPage(context.Background(), 1, "missing-page")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetFile(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/files/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":42,"display_name":"lecture.pdf","content-type":"application/pdf","size":1234,"url":"http://example/dl"}`)
	})

	client, _ := newTestClient(t, mux)
	file, err := client.GetFile(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, "lecture.pdf", file.DisplayName)
	require.Equal(t, "application/pdf", file.ContentType)
	require.Equal(t, int64(1234), file.Size)
}

func TestDownloadFile(t *testing.T) {
	t.Parallel()

	payload := []byte("%PDF-1.4 fake body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// pre-signed URLs must not carry the API token
		require.Empty(t, r.Header.Get("Authorization"))
		w.Write(payload)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, http.NotFoundHandler())

	var buf bytes.Buffer
	n, err := client.DownloadFile(context.Background(), srv.URL, &buf)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)
	require.Equal(t, payload, buf.Bytes())
}

func TestUpcomingDueDates(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	soon := now.Add(24 * time.Hour).Format(time.RFC3339)
	past := now.Add(-24 * time.Hour).Format(time.RFC3339)
	far := now.Add(60 * 24 * time.Hour).Format(time.RFC3339)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses/7/assignments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[
			{"id":1,"name":"Essay","due_at":%q,"points_possible":20},
			{"id":2,"name":"Late","due_at":%q},
			{"id":3,"name":"Distant","due_at":%q},
			{"id":4,"name":"No due date"}
		]`, soon, past, far)
	})
	mux.HandleFunc("/api/v1/courses/7/quizzes", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"id":9,"title":"Week 3 quiz","due_at":%q,"points_possible":10}]`, now.Add(2*time.Hour).Format(time.RFC3339))
	})

	client, _ := newTestClient(t, mux)
	due, err := client.UpcomingDueDates(context.Background(), 7, now, 14*24*time.Hour)
	require.NoError(t, err)

	require.Len(t, due, 2)
	require.Equal(t, "quiz", due[0].Kind)
	require.Equal(t, "Week 3 quiz", due[0].Title)
	require.Equal(t, "assignment", due[1].Kind)
	require.Equal(t, "Essay", due[1].Title)
}

func TestNextLink(t *testing.T) {
	t.Parallel()

	header := `<https://c.edu/api/v1/courses?page=2>; rel="current",` +
		`<https://c.edu/api/v1/courses?page=3>; rel="next",` +
		`<https://c.edu/api/v1/courses?page=1>; rel="first"`
	require.Equal(t, "https://c.edu/api/v1/courses?page=3", nextLink(header))
	require.Empty(t, nextLink(`<https://c.edu/x>; rel="last"`))
	require.Empty(t, nextLink(""))
}

func TestRetryOnServerError(t *testing.T) {
	t.Parallel()

	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses/5", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"id":5,"name":"Databases","course_code":"DB1"}`)
	})

	client, _ := newTestClient(t, mux)
	course, err := client.GetCourse(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, "Databases", course.Name)
	require.Equal(t, 2, calls)
}

func TestEmbeddedFileIDs(t *testing.T) {
	t.Parallel()

	body := `<div>
		<a href="/courses/100/files/42?wrap=1">Lecture slides</a>
		<a data-api-endpoint="https://c.edu/api/v1/courses/100/files/77" href="#">Notes</a>
		<img src="/courses/100/files/42/preview">
		<a href="https://example.com/other">external</a>
	</div>`

	require.Equal(t, []int64{42, 77}, EmbeddedFileIDs(body))
	require.Empty(t, EmbeddedFileIDs("<p>no links here</p>"))
	require.Empty(t, EmbeddedFileIDs(""))
}
