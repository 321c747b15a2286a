// queue package

package queue

import "context"

const (
	// DefaultQueueSize is the capacity used when a non-positive size is requested.
	DefaultQueueSize = 1024
)

// InMemoryQueue implements Queue with a buffered channel.
// A full queue applies backpressure to the producer instead of dropping items.
type InMemoryQueue[T any] struct {
	ch chan T
}

// NewInMemoryQueue creates a new queue holding at most size items.
func NewInMemoryQueue[T any](size int) *InMemoryQueue[T] {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &InMemoryQueue[T]{
		ch: make(chan T, size),
	}
}

// Enqueue adds an item to the end of the queue.
func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes and returns the item from the front of the queue.
func (q *InMemoryQueue[T]) Dequeue(ctx context.Context) (T, error) {
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (q *InMemoryQueue[T]) TryDequeue() (T, bool) {
	select {
	case item := <-q.ch:
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Drain reads pending items in the queue.
func (q *InMemoryQueue[T]) Drain(max int) []T {
	var items []T
	for max <= 0 || len(items) < max {
		item, ok := q.TryDequeue()
		if !ok {
			break
		}
		items = append(items, item)
	}
	return items
}

// Size returns the current size of the queue.
func (q *InMemoryQueue[T]) Size() int {
	return len(q.ch)
}

func (q *InMemoryQueue[T]) Cap() int {
	return cap(q.ch)
}

var _ Queue[int] = (*InMemoryQueue[int])(nil)
