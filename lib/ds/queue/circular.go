package queue

import "hermes/lib/ds/internal"

// Ring is a fixed-size [Queue] backed by a circular buffer.
type Ring[T any] struct {
	buf        []T
	head, tail uint
	count      uint
}

var _ Queue[int] = (*Ring[int])(nil)

// NewCircular creates a ring holding at most size elements.
func NewCircular[T any](size uint) *Ring[T] {
	return &Ring[T]{buf: make([]T, size)}
}

// Enqueue adds v at the tail. It reports false when the ring is full.
func (r *Ring[T]) Enqueue(v T) bool {
	if r.Full() {
		return false
	}
	r.push(v)
	return true
}

// Push adds v at the tail, evicting the head when the ring is full.
// The evicted element is returned with ok set.
// A ring of size 0 evicts v itself.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	if r.Size() == 0 {
		return v, true
	}
	if r.Full() {
		evicted, _ = r.Dequeue()
		ok = true
	}
	r.push(v)
	return evicted, ok
}

func (r *Ring[T]) push(v T) {
	r.buf[r.tail] = v
	r.tail = r.advance(r.tail)
	r.count++
}

// Dequeue removes and returns the head.
// [ErrQueueEmpty] is returned when there is nothing to remove.
func (r *Ring[T]) Dequeue() (T, error) {
	if r.count == 0 {
		return internal.Zero[T](), ErrQueueEmpty
	}

	v := r.buf[r.head]
	// Drop the reference so the slot doesn't keep v alive.
	r.buf[r.head] = internal.Zero[T]()
	r.head = r.advance(r.head)
	r.count--

	return v, nil
}

// Drain removes every element, head first.
func (r *Ring[T]) Drain() []T {
	out := make([]T, 0, r.count)
	for r.count > 0 {
		v, _ := r.Dequeue()
		out = append(out, v)
	}
	return out
}

func (r *Ring[T]) Peek() (T, error) {
	if r.count == 0 {
		return internal.Zero[T](), ErrQueueEmpty
	}
	return r.buf[r.head], nil
}

func (r *Ring[T]) Len() uint  { return r.count }
func (r *Ring[T]) Size() uint { return uint(len(r.buf)) }
func (r *Ring[T]) Full() bool { return r.count == r.Size() }

func (r *Ring[T]) advance(n uint) uint {
	return (n + 1) % uint(len(r.buf))
}
