package relay

import "sync"

// queue decouples the receive loop from slow consumers. push never blocks;
// items are delivered on out in push order.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	wake    chan struct{}
	aborted chan struct{}
	abort   sync.Once
	out     chan T
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{
		wake:    make(chan struct{}, 1),
		aborted: make(chan struct{}),
		out:     make(chan T),
	}
	go q.pump()
	return q
}

func (q *queue[T]) push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
	return true
}

// close delivers what is queued, then closes out.
func (q *queue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// drop discards what is queued and closes out as soon as possible.
func (q *queue[T]) drop() {
	q.close()
	q.abort.Do(func() { close(q.aborted) })
}

func (q *queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue[T]) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.wake:
			case <-q.aborted:
				return
			}
			continue
		}
		v := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- v:
		case <-q.aborted:
			return
		}
	}
}
