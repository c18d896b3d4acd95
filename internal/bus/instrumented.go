package bus

import (
	"context"
	"time"
)

// MetricsRecorder observes publishes.
type MetricsRecorder interface {
	RecordBusPublish(topic string, d time.Duration, err error)
}

// InstrumentedBus reports publish latency and failures to a MetricsRecorder.
type InstrumentedBus struct {
	Bus
	recorder MetricsRecorder
}

// NewInstrumentedBus wraps inner. A nil recorder disables reporting.
func NewInstrumentedBus(inner Bus, recorder MetricsRecorder) *InstrumentedBus {
	return &InstrumentedBus{Bus: inner, recorder: recorder}
}

// Publish times the inner publish.
func (b *InstrumentedBus) Publish(ctx context.Context, topic string, event Event) error {
	start := time.Now()
	err := b.Bus.Publish(ctx, topic, event)
	if b.recorder != nil {
		b.recorder.RecordBusPublish(topic, time.Since(start), err)
	}
	return err
}
