package queue

import "github.com/pkg/errors"

var ErrQueueEmpty = errors.New("queue is empty")

// Queue is a first-in first-out queue.
type Queue[T any] interface {
	// Enqueue reports false when the queue can't take more elements.
	Enqueue(v T) (success bool)
	Dequeue() (T, error)
	Peek() (T, error)
	Len() uint
}
