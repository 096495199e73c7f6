package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/janelia-flyem/limbs/limbs"
)

// ErrQueueClosed is returned when enqueueing into a closed queue.
var ErrQueueClosed = errors.New("shuffle queue closed")

// QueueConfig sizes a ShuffleQueue.
type QueueConfig struct {
	Capacity        int
	MinAfterDequeue int

	// AllowSmallerFinalBatch lets the last dequeue after Close return fewer items
	// than requested instead of dropping them.
	AllowSmallerFinalBatch bool
}

// ShuffleQueue is a bounded buffer that hands out items in random order.  While
// open, a dequeue of n items waits until at least MinAfterDequeue+n items are
// buffered so every draw is made from a well mixed window.  Close lifts that
// gate and lets the remaining items drain.
//
// Any number of goroutines may enqueue; dequeues are expected from one consumer.
type ShuffleQueue[T any] struct {
	cfg QueueConfig
	rng *rand.Rand

	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// NewShuffleQueue returns an open queue.  The capacity must exceed the minimum
// fill or no dequeue could ever proceed.
func NewShuffleQueue[T any](cfg QueueConfig, rng *rand.Rand) (*ShuffleQueue[T], error) {
	if cfg.MinAfterDequeue < 0 {
		return nil, limbs.NewConfigError("min_after_dequeue", "cannot be negative, got %d", cfg.MinAfterDequeue)
	}
	if cfg.Capacity <= cfg.MinAfterDequeue {
		return nil, limbs.NewConfigError("capacity", "capacity %d must exceed min_after_dequeue %d",
			cfg.Capacity, cfg.MinAfterDequeue)
	}
	if rng == nil {
		return nil, errors.New("shuffle queue needs a random source")
	}
	q := &ShuffleQueue[T]{
		cfg:   cfg,
		rng:   rng,
		items: make([]T, 0, cfg.Capacity),
	}
	q.cond = sync.NewCond(&q.mu)
	return q, nil
}

// wait blocks on the condition until signaled or ctx is done.  The lock must be
// held.
func (q *ShuffleQueue[T]) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	q.cond.Wait()
	stop()
	return ctx.Err()
}

// Enqueue adds an item, blocking while the queue is full.
func (q *ShuffleQueue[T]) Enqueue(ctx context.Context, item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && len(q.items) >= q.cfg.Capacity {
		if err := q.wait(ctx); err != nil {
			return err
		}
	}
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, item)
	q.cond.Broadcast()
	return nil
}

// DequeueMany removes n randomly chosen items.  After Close it returns full
// batches until fewer than n items remain, then either the remainder (if
// AllowSmallerFinalBatch) or limbs.ErrEndOfStream.
func (q *ShuffleQueue[T]) DequeueMany(ctx context.Context, n int) ([]T, error) {
	if n <= 0 {
		return nil, limbs.NewConfigError("batch_size", "must be positive, got %d", n)
	}
	if n > q.cfg.Capacity-q.cfg.MinAfterDequeue {
		return nil, limbs.NewConfigError("batch_size", "batch of %d can never fill with capacity %d and min_after_dequeue %d",
			n, q.cfg.Capacity, q.cfg.MinAfterDequeue)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		switch {
		case !q.closed && len(q.items) >= q.cfg.MinAfterDequeue+n:
			return q.take(n), nil
		case q.closed && len(q.items) >= n:
			return q.take(n), nil
		case q.closed && len(q.items) > 0 && q.cfg.AllowSmallerFinalBatch:
			return q.take(len(q.items)), nil
		case q.closed:
			return nil, limbs.ErrEndOfStream
		}
		if err := q.wait(ctx); err != nil {
			return nil, err
		}
	}
}

// take removes n random items without replacement.  The lock must be held.
func (q *ShuffleQueue[T]) take(n int) []T {
	var zero T
	out := make([]T, n)
	for i := range out {
		last := len(q.items) - 1
		j := q.rng.Intn(last + 1)
		out[i] = q.items[j]
		q.items[j] = q.items[last]
		q.items[last] = zero
		q.items = q.items[:last]
	}
	q.cond.Broadcast()
	return out
}

// Close stops further enqueues and lets the consumer drain what remains.
func (q *ShuffleQueue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Len returns the number of buffered items.
func (q *ShuffleQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed returns true once Close has been called.
func (q *ShuffleQueue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
