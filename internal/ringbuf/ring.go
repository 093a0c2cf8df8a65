// Package ringbuf provides a fixed-capacity FIFO queue that evicts its
// oldest entries on overflow.
package ringbuf

// Ring is a bounded queue. When full, Push drops the oldest element.
// Surviving elements keep their insertion order. Ring is not safe for
// concurrent use; callers serialize access.
type Ring[T any] struct {
	buf   []T
	head  int // index of the oldest element
	size  int
	total uint64
}

// New returns an empty ring holding at most capacity elements.
// A capacity below 1 is raised to 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// From builds a ring from items, keeping only the newest capacity elements.
func From[T any](capacity int, items []T) *Ring[T] {
	r := New[T](capacity)
	for _, it := range items {
		r.Push(it)
	}
	return r
}

// Push appends v. It returns the evicted element and true when the ring was full.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	r.total++
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = v
		r.size++
		return evicted, false
	}
	evicted = r.buf[r.head]
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	return evicted, true
}

// Items returns a copy of the contents, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Pushed returns the number of Push calls over the ring's lifetime,
// including elements that have since been evicted.
func (r *Ring[T]) Pushed() uint64 { return r.total }
