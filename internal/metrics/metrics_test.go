package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	// Exercising the observers after a double Init must not panic.
	ObserveCanvasRequest("courses", 200, 50*time.Millisecond)
	ObserveDocument("pdf", "success")
	AddChunks(3)
	ObserveDuplicateSkip("file")
	ObserveExtractionFailure("pptx")
	ObserveSyncRun("manual", "succeeded", 2*time.Second)
	ObserveHTTPRequest("GET", "/v1/search", 200, 10*time.Millisecond)
	IncActiveWorkers()
	DecActiveWorkers()
	AddBytesDownloaded(1024)
	ObserveRateLimitDelay("canvas.example.edu", 100*time.Millisecond)
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	ObserveDocument("docx", "success")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "canvassync_documents_processed_total")
}
