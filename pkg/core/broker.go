package core

import (
	"context"
	"encoding/json"
	"time"
)

// Broker is the transport between the coordinator and its workers. Delivery
// is at-least-once per queue: messages may be duplicated or delayed, never
// silently dropped. Publish reports success or failure synchronously so the
// dispatcher can decide whether to mark a task queued.
type Broker interface {
	// Publish appends a message to the kind's queue.
	Publish(ctx context.Context, kind string, payload []byte) error
	// Consume blocks up to timeout for the next message on the kind's
	// queue. A nil payload with nil error means the timeout elapsed.
	Consume(ctx context.Context, kind string, timeout time.Duration) ([]byte, error)
	Close() error
}

// TaskMessage is the payload published to a kind's queue at dispatch time.
// Input is opaque bytes, not necessarily JSON; the envelope base64-encodes
// it so any submitted payload survives the wire.
type TaskMessage struct {
	TaskID     string    `json:"task_id"`
	Kind       string    `json:"kind"`
	WorkerID   string    `json:"worker_id"`
	Input      []byte    `json:"input,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// EncodeTaskMessage serializes a task message for publishing.
func EncodeTaskMessage(m *TaskMessage) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeTaskMessage deserializes a task message received from a queue.
func DecodeTaskMessage(payload []byte) (*TaskMessage, error) {
	var m TaskMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
