package broker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBrokerClosed is returned by operations on a closed MemoryBroker.
var ErrBrokerClosed = errors.New("broker: closed")

const memoryQueueCapacity = 1024

// MemoryBroker is an in-process core.Broker for tests and examples. It
// keeps one buffered channel per kind and supports publish-failure
// injection so dispatcher behavior under broker outages can be exercised.
type MemoryBroker struct {
	mu         sync.Mutex
	queues     map[string]chan []byte
	publishErr error
	closed     bool
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[string]chan []byte),
	}
}

// FailPublish makes every subsequent Publish return err until called again
// with nil.
func (b *MemoryBroker) FailPublish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

func (b *MemoryBroker) queue(kind string) chan []byte {
	q, ok := b.queues[kind]
	if !ok {
		q = make(chan []byte, memoryQueueCapacity)
		b.queues[kind] = q
	}
	return q
}

// Publish appends the payload to the kind's queue.
func (b *MemoryBroker) Publish(ctx context.Context, kind string, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}
	q := b.queue(kind)
	b.mu.Unlock()

	select {
	case q <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume blocks up to timeout for the next message on the kind's queue.
func (b *MemoryBroker) Consume(ctx context.Context, kind string, timeout time.Duration) ([]byte, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	q := b.queue(kind)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-q:
		return payload, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of undelivered messages for a kind.
func (b *MemoryBroker) Len(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[kind]; ok {
		return len(q)
	}
	return 0
}

// Close marks the broker closed; queued messages are discarded.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
