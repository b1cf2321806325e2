package broker

import (
	"context"
	"sync"
	"time"
)

// Offer is a raw offer as received from signaling.
type Offer struct {
	Room       string
	SDP        string
	Type       string
	ReceivedAt time.Time
}

// Queue is the offer intake FIFO. Enqueue never blocks; a single consumer
// drains it with Dequeue. A positive limit bounds the number of waiting
// offers.
type Queue struct {
	mu     sync.Mutex
	items  []Offer
	limit  int
	closed bool
	ready  chan struct{}
}

// NewQueue creates a queue holding at most limit offers, or unbounded when
// limit is zero.
func NewQueue(limit int) *Queue {
	return &Queue{limit: limit, ready: make(chan struct{}, 1)}
}

// Enqueue appends o. It fails with ErrBackpressure when the queue is full
// and ErrQueueClosed after Close.
func (q *Queue) Enqueue(o Offer) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		return ErrBackpressure
	}
	q.items = append(q.items, o)

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue removes the oldest offer, waiting for one if the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (Offer, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Offer{}, ErrQueueClosed
		}
		if len(q.items) > 0 {
			o := q.items[0]
			q.items[0] = Offer{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return o, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Offer{}, ctx.Err()
		case <-q.ready:
		}
	}
}

// Len reports the number of waiting offers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close discards every waiting offer without processing it and returns
// them. Later calls return nil.
func (q *Queue) Close() []Offer {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	dropped := q.items
	q.items = nil

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped
}
