package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned when publishing to a closed Queue.
var ErrQueueClosed = errors.New("event queue closed")

// Queue is an unbounded multi-producer, single-consumer event channel.
// Publish never waits for the consumer, so a reader goroutine keeps
// draining its socket while the consumer is busy writing. Events from one
// producer are received in the order that producer published them.
type Queue struct {
	mu      sync.Mutex
	pending []Event
	wake    chan struct{}
	out     chan Event
	done    chan struct{}
	closed  atomic.Bool
}

// NewQueue starts the goroutine that forwards pending events to Events.
// It exits on Close.
func NewQueue() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	go q.forward()
	return q
}

// Publish appends ev and returns at once. It fails only when the queue
// is closed or ctx is already done.
func (q *Queue) Publish(ctx context.Context, ev Event) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) forward() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		ev := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		select {
		case q.out <- ev:
		case <-q.done:
			return
		}
	}
}

// Len is the number of events published but not yet received.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Next returns the next event. ok is false once the queue is closed or
// ctx is done.
func (q *Queue) Next(ctx context.Context) (Event, bool) {
	select {
	case ev := <-q.out:
		return ev, true
	case <-q.done:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Events exposes the receive side for consumers that select on it
// themselves, such as a bubbletea command.
func (q *Queue) Events() <-chan Event {
	return q.out
}

// Done is closed when the queue is closed.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Close drops undelivered events and releases the consumer.
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.done)
		q.mu.Lock()
		q.pending = nil
		q.mu.Unlock()
	}
}
