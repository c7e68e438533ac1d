package engagement

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueClosed is returned when publishing to a closed queue.
	ErrQueueClosed = errors.New("engagement queue closed")
	// ErrQueueFull is returned instead of blocking the publisher.
	ErrQueueFull = errors.New("engagement queue full")
)

// MemoryQueue is a channel-backed queue for development and tests.
type MemoryQueue struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue creates a queue buffering up to size events.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{ch: make(chan Event, size)}
}

// Publish implements Producer. It never blocks.
func (q *MemoryQueue) Publish(ctx context.Context, ev Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Consume implements Consumer.
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-q.ch:
					if !ok {
						return
					}
					_ = handler(ctx, ev)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Len reports how many events are waiting.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close implements Producer and Consumer.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}
