// Package bus carries experiment events between the runner and its subscribers.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type (e.g., "run.completed").
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created, in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// CorrelationID links related events, e.g. every run of one batch.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload contains the JSON encoded event data.
	Payload json.RawMessage `json:"payload"`
}

// NewEvent creates an event with a fresh ID and the payload encoded as JSON.
func NewEvent(eventType, source string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
		Payload:   data,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Topics for different event types.
const (
	// TopicRunCompleted carries a store.Run for every finished experiment run.
	TopicRunCompleted = "experiment.run.completed"

	// TopicRunFailed carries a RunFailure.
	TopicRunFailed = "experiment.run.failed"

	// TopicQrelsSynthesized carries a QrelsSynthesized summary.
	TopicQrelsSynthesized = "judgment.qrels.synthesized"
)

// RunFailure is the payload of TopicRunFailed.
type RunFailure struct {
	Dataset string `json:"dataset"`
	Model   string `json:"model"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// QrelsSynthesized is the payload of TopicQrelsSynthesized.
type QrelsSynthesized struct {
	Dataset   string  `json:"dataset"`
	Queries   int     `json:"queries"`
	Documents int     `json:"documents"`
	Judgments int     `json:"judgments"`
	Threshold float64 `json:"threshold"`
	TopK      int     `json:"top_k"`
	Seconds   float64 `json:"seconds"`
	Output    string  `json:"output,omitempty"`
}
