package queue

import "context"

// Holder wraps a Queue[T] with a single-producer/single-consumer
// notification primitive so a consumer can block until an item is
// enqueued, matching the session/link ordering guarantee that frames of
// one endpoint are always read in submission order.
type Holder[T any] struct {
	q       *Queue[T]
	signal  chan struct{}
}

// NewHolder wraps q for blocking consumption.
func NewHolder[T any](q *Queue[T]) *Holder[T] {
	return &Holder[T]{
		q:      q,
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds item and wakes a waiting Wait/Dequeue caller, if any.
func (h *Holder[T]) Enqueue(item T) {
	h.q.Enqueue(item)
	select {
	case h.signal <- struct{}{}:
	default:
	}
}

// Dequeue returns the next item without blocking, or nil if empty.
func (h *Holder[T]) Dequeue() *T {
	return h.q.Dequeue()
}

// Len returns the total count of enqueued items.
func (h *Holder[T]) Len() int {
	return h.q.Len()
}

// Wait blocks until an item is available or ctx is done, then returns it.
// A nil, ctx.Err() result means the wait was cancelled.
func (h *Holder[T]) Wait(ctx context.Context) (*T, error) {
	for {
		if item := h.q.Dequeue(); item != nil {
			return item, nil
		}
		select {
		case <-h.signal:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Signal returns the channel woken on every Enqueue, for callers that
// need to select on this queue alongside other channels (e.g. a parent
// session's shutdown signal) rather than using Wait directly.
func (h *Holder[T]) Signal() <-chan struct{} {
	return h.signal
}
