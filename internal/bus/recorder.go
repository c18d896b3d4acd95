package bus

import (
	"context"
	"fmt"

	"github.com/ricesearch/greeneval/internal/pkg/logger"
	"github.com/ricesearch/greeneval/internal/store"
)

// Recorder persists completed runs published on the bus.
type Recorder struct {
	storage store.Storage
	log     *logger.Logger
}

// NewRecorder creates a recorder writing to storage.
func NewRecorder(storage store.Storage, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.Default()
	}
	return &Recorder{storage: storage, log: log}
}

// Attach subscribes the recorder to run completion events.
func (r *Recorder) Attach(ctx context.Context, b Bus) error {
	return b.Subscribe(ctx, TopicRunCompleted, r.Handle)
}

// Handle stores the run carried by event.
func (r *Recorder) Handle(ctx context.Context, event Event) error {
	var run store.Run
	if err := event.Decode(&run); err != nil {
		return fmt.Errorf("decode run event %s: %w", event.ID, err)
	}
	if err := r.storage.Save(ctx, &run); err != nil {
		return err
	}
	r.log.WithRun(run.ID).Debug("Recorded run", "dataset", run.Dataset, "model", run.Model)
	return nil
}
