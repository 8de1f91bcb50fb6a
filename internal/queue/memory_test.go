package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_FIFO(t *testing.T) {
	q := NewMemory(4)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, JobRef{ProjectID: 1, JobID: 10}))
	require.NoError(t, q.Enqueue(ctx, JobRef{ProjectID: 1, JobID: 20}))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	ref, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, JobRef{ProjectID: 1, JobID: 10}, ref)

	ref, ok, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 20, ref.JobID)
}

func TestMemoryQueue_Bounded(t *testing.T) {
	q := NewMemory(1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, JobRef{JobID: 1}))
	err := q.Enqueue(ctx, JobRef{JobID: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full")
}

func TestMemoryQueue_DequeueTimeout(t *testing.T) {
	q := NewMemory(1)

	start := time.Now()
	_, ok, err := q.Dequeue(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMemoryQueue_DequeueCancelled(t *testing.T) {
	q := NewMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := q.Dequeue(ctx, time.Minute)
	require.Error(t, err)
	assert.False(t, ok)
}
