package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process bounded FIFO. Used when no NATS server is
// configured, and throughout the tests. References do not survive a process
// restart; jobs still resume correctly because the resumption offset lives
// on the persisted job, not in the queue.
type Memory struct {
	ch        chan JobRef
	closeOnce sync.Once
}

func NewMemory(size int) *Memory {
	return &Memory{ch: make(chan JobRef, size)}
}

func (m *Memory) Enqueue(_ context.Context, ref JobRef) error {
	select {
	case m.ch <- ref:
		return nil
	default:
		return fmt.Errorf("job queue full (%d waiting)", cap(m.ch))
	}
}

func (m *Memory) Dequeue(ctx context.Context, wait time.Duration) (JobRef, bool, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ref, ok := <-m.ch:
		if !ok {
			return JobRef{}, false, fmt.Errorf("queue closed")
		}
		return ref, true, nil
	case <-timer.C:
		return JobRef{}, false, nil
	case <-ctx.Done():
		return JobRef{}, false, ctx.Err()
	}
}

func (m *Memory) Depth(context.Context) (int, error) {
	return len(m.ch), nil
}

func (m *Memory) Close() {
	m.closeOnce.Do(func() { close(m.ch) })
}
