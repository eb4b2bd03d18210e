package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/canvaslabs/canvas-sync/internal/worker"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, worker.Job{EntityKey: "file:1"}))
	require.NoError(t, q.Enqueue(ctx, worker.Job{EntityKey: "file:2"}))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "file:1", job.EntityKey)
}

func TestDequeueAfterClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, worker.Job{EntityKey: "file:1"}))
	q.Close()
	q.Close() // idempotent

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "file:1", job.EntityKey)

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, ErrClosed)
}

func TestDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnqueueBlocksWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, worker.Job{}))

	full, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, q.Enqueue(full, worker.Job{}))
}
