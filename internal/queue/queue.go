// Package queue hands pending task identifiers from submitters to workers.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned once the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded many-producer/many-consumer hand-off of task ids.
// Ordering is best-effort FIFO; every enqueued id is dequeued exactly once
// under normal operation. The queue does not redeliver — recovery of
// abandoned tasks is the reaper's job.
type Queue struct {
	ch        chan string
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Queue with the given buffer capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{
		ch:   make(chan string, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue appends a task id. It fails with ErrClosed during shutdown and
// blocks while the buffer is full.
func (q *Queue) Enqueue(ctx context.Context, taskID string) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.ch <- taskID:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a task id is available, the context is cancelled, or
// the queue is closed. Buffered ids are still handed out after Close so that
// accepted work drains; ErrClosed is returned once the buffer is empty.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	select {
	case taskID := <-q.ch:
		return taskID, nil
	case <-q.done:
		// Drain whatever was admitted before shutdown.
		select {
		case taskID := <-q.ch:
			return taskID, nil
		default:
			return "", ErrClosed
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len reports the number of buffered task ids.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops admission and unblocks waiting consumers.
// Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
