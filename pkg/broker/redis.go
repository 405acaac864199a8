package broker

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// queuePrefix namespaces the per-kind lists inside a shared Redis.
const queuePrefix = "taskforge:queue:"

// QueueName returns the broker destination for a task kind. The mapping is
// stable and deterministic: one queue per kind.
func QueueName(kind string) string {
	return queuePrefix + kind
}

// RedisBroker implements core.Broker over Redis lists. LPush is the publish
// side and reports success synchronously; workers BRPop the other end.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker connects to Redis and verifies the connection with a ping.
func NewRedisBroker(ctx context.Context, addr string) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisBroker{client: client}, nil
}

// NewRedisBrokerWithClient wraps an existing client, for callers that manage
// their own connection options.
func NewRedisBrokerWithClient(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Publish appends the payload to the kind's queue.
func (b *RedisBroker) Publish(ctx context.Context, kind string, payload []byte) error {
	return b.client.LPush(ctx, QueueName(kind), payload).Err()
}

// Consume blocks up to timeout for the next message on the kind's queue.
// Returns nil payload and nil error when the timeout elapses.
func (b *RedisBroker) Consume(ctx context.Context, kind string, timeout time.Duration) ([]byte, error) {
	vals, err := b.client.BRPop(ctx, timeout, QueueName(kind)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPop returns [key, value].
	if len(vals) != 2 {
		return nil, nil
	}
	return []byte(vals[1]), nil
}

// QueueLength reports the number of undelivered messages for a kind.
func (b *RedisBroker) QueueLength(ctx context.Context, kind string) (int64, error) {
	return b.client.LLen(ctx, QueueName(kind)).Result()
}

// Close releases the underlying Redis connection.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
