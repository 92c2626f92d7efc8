// Package memory provides the bounded in-process task queue used by scrape runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/rivalwatch/internal/monitor"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch     chan monitor.Task
	mu     sync.RWMutex
	closed bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan monitor.Task, capacity),
	}
}

// Enqueue pushes a task into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, task monitor.Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return monitor.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation. Buffered tasks are still
// delivered after Close; ErrQueueClosed is returned once the queue is drained.
func (q *Queue) Dequeue(ctx context.Context) (monitor.Task, error) {
	select {
	case <-ctx.Done():
		return monitor.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return monitor.Task{}, monitor.ErrQueueClosed
		}
		return task, nil
	}
}

// Len reports the number of buffered tasks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel. Closing twice is a no-op.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
