// Package stream provides the two event-stream shapes used across the voice
// core: an unbounded ordered queue and a coalescing latest-value stream.
package stream

import "sync"

// Queue delivers every pushed value, in order, to whoever reads C.
// Push never blocks on a slow consumer; the backlog grows instead.
type Queue[T any] struct {
	in   chan T
	out  chan T
	done chan struct{}
	once sync.Once
}

func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		in:   make(chan T),
		out:  make(chan T),
		done: make(chan struct{}),
	}
	go q.pump()
	return q
}

// Push enqueues v. It is a no-op after Close.
func (q *Queue[T]) Push(v T) {
	select {
	case q.in <- v:
	case <-q.done:
	}
}

// C is closed once the queue is closed; any undelivered backlog is dropped.
func (q *Queue[T]) C() <-chan T {
	return q.out
}

func (q *Queue[T]) Close() {
	q.once.Do(func() { close(q.done) })
}

func (q *Queue[T]) pump() {
	defer close(q.out)

	var backlog []T
	for {
		var (
			out  chan T
			head T
		)
		if len(backlog) > 0 {
			out = q.out
			head = backlog[0]
		}

		select {
		case v := <-q.in:
			backlog = append(backlog, v)
		case out <- head:
			var zero T
			backlog[0] = zero
			backlog = backlog[1:]
		case <-q.done:
			return
		}
	}
}

// Latest holds a current value and delivers only the most recent unread value to C.
type Latest[T any] struct {
	mu      sync.Mutex
	current T

	in   chan T
	out  chan T
	done chan struct{}
	once sync.Once
}

func NewLatest[T any](initial T) *Latest[T] {
	l := &Latest[T]{
		current: initial,
		in:      make(chan T),
		out:     make(chan T),
		done:    make(chan struct{}),
	}
	go l.pump(initial)
	return l
}

// Publish replaces the current value. It is a no-op after Close.
func (l *Latest[T]) Publish(v T) {
	select {
	case <-l.done:
		return
	default:
	}

	l.mu.Lock()
	l.current = v
	l.mu.Unlock()

	select {
	case l.in <- v:
	case <-l.done:
	}
}

// Value returns the most recently published value.
func (l *Latest[T]) Value() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *Latest[T]) C() <-chan T {
	return l.out
}

func (l *Latest[T]) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *Latest[T]) pump(initial T) {
	defer close(l.out)

	pending := initial
	hasPending := true
	for {
		var out chan T
		if hasPending {
			out = l.out
		}

		select {
		case v := <-l.in:
			pending = v
			hasPending = true
		case out <- pending:
			hasPending = false
		case <-l.done:
			return
		}
	}
}
