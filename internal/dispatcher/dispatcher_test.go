package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingRunner struct{ runs *atomic.Int32 }

func (r *countingRunner) Run(context.Context) { r.runs.Add(1) }

func TestRunWaitsForAllWorkers(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	d := New(&countingRunner{&runs}, &countingRunner{&runs}, &countingRunner{&runs})
	d.Run(context.Background())
	require.EqualValues(t, 3, runs.Load())
}

func TestRunWithNoWorkers(t *testing.T) {
	t.Parallel()

	New().Run(context.Background())
}
