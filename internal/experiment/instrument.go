package experiment

import (
	"context"
	"time"

	"github.com/ricesearch/greeneval/internal/engine"
	"github.com/ricesearch/greeneval/internal/evaluation"
)

// SearchRecorder receives the outcome of every engine search.
type SearchRecorder interface {
	RecordSearch(model string, d time.Duration, err error)
}

// InstrumentedEngine times every search and reports it to a recorder.
// It keeps the Indexer capability of the wrapped engine.
type InstrumentedEngine struct {
	inner    engine.Engine
	recorder SearchRecorder
}

// NewInstrumentedEngine wraps inner.
func NewInstrumentedEngine(inner engine.Engine, recorder SearchRecorder) *InstrumentedEngine {
	return &InstrumentedEngine{inner: inner, recorder: recorder}
}

// Search implements engine.Engine.
func (e *InstrumentedEngine) Search(ctx context.Context, index string, model engine.RankingModel, query string, topK int) ([]evaluation.Hit, error) {
	start := time.Now()
	hits, err := e.inner.Search(ctx, index, model, query, topK)
	e.recorder.RecordSearch(model.Name(), time.Since(start), err)
	return hits, err
}

// BuildIndex implements engine.Indexer when the wrapped engine does.
func (e *InstrumentedEngine) BuildIndex(ctx context.Context, corpusDir, index string) error {
	indexer, ok := e.inner.(engine.Indexer)
	if !ok {
		return errNoIndexer
	}
	return indexer.BuildIndex(ctx, corpusDir, index)
}
