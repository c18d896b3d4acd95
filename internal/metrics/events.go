package metrics

import (
	"context"
	"time"

	"github.com/ricesearch/greeneval/internal/bus"
	"github.com/ricesearch/greeneval/internal/store"
)

// EventSubscriber updates metrics from experiment events.
type EventSubscriber struct {
	metrics *Metrics
	bus     bus.Bus
}

// NewEventSubscriber creates a new event subscriber.
func NewEventSubscriber(metrics *Metrics, eventBus bus.Bus) *EventSubscriber {
	return &EventSubscriber{
		metrics: metrics,
		bus:     eventBus,
	}
}

// SubscribeToEvents subscribes to all relevant events and updates metrics.
func (es *EventSubscriber) SubscribeToEvents(ctx context.Context) error {
	if err := es.bus.Subscribe(ctx, bus.TopicRunCompleted, es.handleRunCompleted); err != nil {
		return err
	}
	if err := es.bus.Subscribe(ctx, bus.TopicRunFailed, es.handleRunFailed); err != nil {
		return err
	}
	return es.bus.Subscribe(ctx, bus.TopicQrelsSynthesized, es.handleQrelsSynthesized)
}

func (es *EventSubscriber) handleRunCompleted(ctx context.Context, event bus.Event) error {
	var run store.Run
	if err := event.Decode(&run); err != nil {
		return err
	}
	es.metrics.RecordRun(&run)
	return nil
}

func (es *EventSubscriber) handleRunFailed(ctx context.Context, event bus.Event) error {
	var failure bus.RunFailure
	if err := event.Decode(&failure); err != nil {
		return err
	}
	es.metrics.RecordRunFailure(failure.Dataset)
	return nil
}

func (es *EventSubscriber) handleQrelsSynthesized(ctx context.Context, event bus.Event) error {
	var summary bus.QrelsSynthesized
	if err := event.Decode(&summary); err != nil {
		return err
	}
	es.metrics.RecordSynthesis(summary.Dataset, summary.Judgments, time.Duration(summary.Seconds*float64(time.Second)))
	return nil
}
