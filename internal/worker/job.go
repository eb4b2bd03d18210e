package worker

import (
	"context"

	"github.com/canvaslabs/canvas-sync/internal/canvas"
)

// Job is one unit of content to process: a file to download and
// extract, or a page/assignment/quiz body to convert.
type Job struct {
	Kind        string
	CourseID    int64
	ModuleID    int64
	Title       string
	EntityKey   string
	Fingerprint string
	MaxBytes    int64

	File       canvas.File
	Page       canvas.Page
	Assignment canvas.Assignment
	Quiz       canvas.Quiz
}

// Queue hands jobs from the sync engine to the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
	Close()
}

// Outcome statuses reported by workers.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Outcome summarizes what processing one job did.
type Outcome struct {
	Status string
	Chunks int
	Bytes  int64
}

// Reporter receives per-job outcomes for run accounting.
type Reporter interface {
	Report(Outcome)
}
