// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"sync"

	"github.com/canvaslabs/canvas-sync/internal/worker"
)

// Runner is anything that processes jobs until its queue drains.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher runs a pool of workers and blocks until they finish.
type Dispatcher struct {
	workers []Runner
}

// New creates a Dispatcher over the given workers.
func New(workers ...Runner) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Run starts all workers and blocks until every one returns, which
// happens when the queue is closed and drained or the context ends.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	wg.Wait()
}

var _ Runner = (*worker.Worker)(nil)
