package queue

import "context"

// Queue represents a bounded queue between one producer and one consumer.
type Queue[T any] interface {
	// Enqueue adds an item to the end of the queue, blocking while the queue is full.
	Enqueue(ctx context.Context, item T) error
	// Dequeue blocks until an item is available.
	Dequeue(ctx context.Context) (T, error)
	// TryDequeue returns the front item without blocking.
	TryDequeue() (T, bool)
	// Drain removes up to max pending items without blocking. max <= 0 drains everything.
	Drain(max int) []T
	Size() int
	Cap() int
}
