// Package worker processes content jobs: download, extract, chunk, store.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/canvaslabs/canvas-sync/internal/blob/local"
	"github.com/canvaslabs/canvas-sync/internal/canvas"
	"github.com/canvaslabs/canvas-sync/internal/chunker"
	"github.com/canvaslabs/canvas-sync/internal/extract"
	"github.com/canvaslabs/canvas-sync/internal/logging"
	"github.com/canvaslabs/canvas-sync/internal/metrics"
	"github.com/canvaslabs/canvas-sync/internal/state"
	"github.com/canvaslabs/canvas-sync/internal/store"
)

// Downloader fetches file content from Canvas.
type Downloader interface {
	DownloadFile(ctx context.Context, downloadURL string, w io.Writer) (int64, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Worker pulls jobs from the queue and runs the extraction pipeline.
type Worker struct {
	queue      Queue
	downloader Downloader
	registry   *extract.Registry
	chunks     *chunker.Chunker
	docs       store.DocumentStore
	states     *state.Manager
	cache      *local.Cache
	clock      Clock
	reporter   Reporter
	log        *zap.Logger
}

// New builds a Worker. The cache may be nil to disable download caching.
func New(
	queue Queue,
	downloader Downloader,
	registry *extract.Registry,
	chunks *chunker.Chunker,
	docs store.DocumentStore,
	states *state.Manager,
	cache *local.Cache,
	clock Clock,
	reporter Reporter,
) *Worker {
	return &Worker{
		queue:      queue,
		downloader: downloader,
		registry:   registry,
		chunks:     chunks,
		docs:       docs,
		states:     states,
		cache:      cache,
		clock:      clock,
		reporter:   reporter,
		log:        logging.L.Named("worker"),
	}
}

// Run dequeues jobs until the queue closes or the context ends.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		w.reporter.Report(w.processJob(ctx, job))
	}
}

func (w *Worker) processJob(ctx context.Context, job Job) Outcome {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	outcome, err := w.process(ctx, job)
	if err != nil {
		w.log.Warn("job failed",
			zap.String("entity", job.EntityKey),
			zap.String("title", job.Title),
			zap.Error(err))
		if serr := w.states.MarkFailed(ctx, job.EntityKey, job.Kind, job.Fingerprint, err); serr != nil {
			w.log.Error("record failure state", zap.String("entity", job.EntityKey), zap.Error(serr))
		}
		return Outcome{Status: OutcomeFailed}
	}
	return outcome
}

func (w *Worker) process(ctx context.Context, job Job) (Outcome, error) {
	if err := w.states.MarkProcessing(ctx, job.EntityKey, job.Kind, job.Fingerprint); err != nil {
		return Outcome{}, fmt.Errorf("claim entity: %w", err)
	}

	var (
		res      extract.Result
		err      error
		bytesIn  int64
		doc      store.Document
		skipping bool
	)

	switch job.Kind {
	case store.KindFile:
		res, bytesIn, skipping, err = w.processFile(ctx, job)
		doc = store.Document{
			CanvasID:  job.File.ID,
			SizeBytes: job.File.Size,
			SourceURL: job.File.URL,
			UpdatedAt: job.File.UpdatedAt,
		}
	case store.KindPage:
		res, err = w.registry.Extract(ctx, job.Page.URL+".html", []byte(job.Page.Body))
		doc = store.Document{
			CanvasID:  job.Page.PageID,
			SourceURL: job.Page.URL,
			UpdatedAt: job.Page.UpdatedAt,
		}
	case store.KindAssignment:
		res, err = w.extractHTML(ctx, job.Assignment.Name, job.Assignment.Description)
		doc = store.Document{
			CanvasID:  job.Assignment.ID,
			SourceURL: job.Assignment.HTMLURL,
			DueAt:     job.Assignment.DueAt,
			UpdatedAt: job.Assignment.UpdatedAt,
		}
	case store.KindQuiz:
		res, err = w.extractHTML(ctx, job.Quiz.Title, job.Quiz.Description)
		doc = store.Document{
			CanvasID:  job.Quiz.ID,
			SourceURL: job.Quiz.HTMLURL,
			DueAt:     job.Quiz.DueAt,
		}
	default:
		return Outcome{}, fmt.Errorf("unknown job kind %q", job.Kind)
	}

	if skipping {
		if serr := w.states.MarkCompleted(ctx, job.EntityKey, job.Kind, job.Fingerprint); serr != nil {
			return Outcome{}, serr
		}
		metrics.ObserveDocument(res.Metadata.Format, "skipped")
		return Outcome{Status: OutcomeSkipped}, nil
	}
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedType) || errors.Is(err, extract.ErrEmptyDocument) {
			// never retryable, record as done so later runs skip it
			if serr := w.states.MarkCompleted(ctx, job.EntityKey, job.Kind, job.Fingerprint); serr != nil {
				return Outcome{}, serr
			}
			// the blob will never be read again, drop it
			if job.Kind == store.KindFile && w.cache != nil {
				if cerr := w.cache.Remove(cacheKey(job)); cerr != nil {
					w.log.Warn("cache remove failed", zap.Error(cerr))
				}
			}
			metrics.ObserveDocument(res.Metadata.Format, "unsupported")
			return Outcome{Status: OutcomeSkipped, Bytes: bytesIn}, nil
		}
		metrics.ObserveExtractionFailure(res.Metadata.Format)
		return Outcome{}, err
	}

	chunks := w.chunks.Chunk(res.Text)

	doc.ID = job.EntityKey
	doc.CourseID = job.CourseID
	doc.ModuleID = job.ModuleID
	doc.Kind = job.Kind
	doc.Title = job.Title
	doc.Format = res.Metadata.Format
	doc.Fingerprint = job.Fingerprint
	doc.WordCount = res.Metadata.WordCount
	doc.Pages = res.Metadata.Pages
	doc.Slides = res.Metadata.Slides
	doc.SyncedAt = w.clock.Now()

	if err := w.docs.UpsertDocument(ctx, doc, chunks); err != nil {
		return Outcome{}, fmt.Errorf("store document: %w", err)
	}
	if err := w.states.MarkCompleted(ctx, job.EntityKey, job.Kind, job.Fingerprint); err != nil {
		return Outcome{}, err
	}

	metrics.ObserveDocument(doc.Format, "processed")
	metrics.AddChunks(len(chunks))
	w.log.Info("processed document",
		zap.String("entity", job.EntityKey),
		zap.String("title", job.Title),
		zap.Int("chunks", len(chunks)),
		zap.Int("words", doc.WordCount))
	return Outcome{Status: OutcomeProcessed, Chunks: len(chunks), Bytes: bytesIn}, nil
}

// processFile downloads (or reuses) the file content and extracts it.
// Files over the size cap or with an unsupported extension are skipped.
func (w *Worker) processFile(ctx context.Context, job Job) (extract.Result, int64, bool, error) {
	file := job.File
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(file.DisplayName), "."))
	if !w.registry.Supported(ext) {
		return extract.Result{}, 0, true, nil
	}
	if job.MaxBytes > 0 && file.Size > job.MaxBytes {
		w.log.Info("skipping oversized file",
			zap.String("file", file.DisplayName),
			zap.Int64("size", file.Size),
			zap.Int64("limit", job.MaxBytes))
		return extract.Result{}, 0, true, nil
	}

	data, fetched, err := w.fetchFile(ctx, job)
	if err != nil {
		return extract.Result{}, 0, false, err
	}

	res, err := w.registry.Extract(ctx, file.DisplayName, data)
	return res, fetched, false, err
}

// fetchFile returns file content from the cache or downloads it.
// Fetched bytes are only counted for actual downloads.
func (w *Worker) fetchFile(ctx context.Context, job Job) ([]byte, int64, error) {
	key := cacheKey(job)
	if w.cache != nil {
		if data, ok, err := w.cache.Get(key); err == nil && ok {
			return data, 0, nil
		}
	}

	var buf bytes.Buffer
	n, err := w.downloader.DownloadFile(ctx, job.File.URL, &buf)
	if err != nil {
		return nil, 0, fmt.Errorf("download %s: %w", job.File.DisplayName, err)
	}
	if w.cache != nil {
		if _, err := w.cache.Put(key, buf.Bytes()); err != nil {
			w.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return buf.Bytes(), n, nil
}

func cacheKey(job Job) string {
	return fmt.Sprintf("%d/files/%d_%s%s",
		job.CourseID, job.File.ID, shortFingerprint(job.Fingerprint), path.Ext(job.File.DisplayName))
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func (w *Worker) extractHTML(ctx context.Context, title, body string) (extract.Result, error) {
	if strings.TrimSpace(body) == "" {
		return extract.Result{}, fmt.Errorf("%w: %s", extract.ErrEmptyDocument, title)
	}
	return w.registry.Extract(ctx, title+".html", []byte(body))
}

var _ Downloader = (*canvas.Client)(nil)
