package listener

import "context"

// Queue is a bounded multi-producer multi-consumer FIFO. When full, Push
// evicts the oldest item instead of blocking the producer.
type Queue[T any] struct {
	items  chan T
	onDrop func()
}

// NewQueue creates a queue holding at most capacity items. onDrop, if set, is
// called once per evicted item.
func NewQueue[T any](capacity int, onDrop func()) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{items: make(chan T, capacity), onDrop: onDrop}
}

// Push enqueues v, evicting older items until it fits. It reports how many
// items were dropped.
func (q *Queue[T]) Push(v T) int {
	dropped := 0
	for {
		select {
		case q.items <- v:
			return dropped
		default:
		}
		select {
		case <-q.items:
			dropped++
			if q.onDrop != nil {
				q.onDrop()
			}
		default:
		}
	}
}

// Pop blocks until an item is available or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	select {
	case v := <-q.items:
		return v, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// C exposes the receive side for select loops.
func (q *Queue[T]) C() <-chan T { return q.items }

func (q *Queue[T]) Len() int { return len(q.items) }

func (q *Queue[T]) Cap() int { return cap(q.items) }
