package experiment

import (
	"context"
	"time"

	"github.com/ricesearch/greeneval/internal/bus"
	"github.com/ricesearch/greeneval/internal/dataset"
	"github.com/ricesearch/greeneval/internal/evaluation"
	"github.com/ricesearch/greeneval/internal/judgment"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
)

// QrelsRequest describes one qrels synthesis. Paths left empty resolve
// through the dataset registry, in which case Dataset is required.
type QrelsRequest struct {
	Dataset   string
	Documents string
	Queries   string
	Output    string

	// QueryIDStart is used when Dataset is empty.
	QueryIDStart int
}

// QrelsPipeline loads a collection and its queries, synthesizes judgments
// and writes them as a qrels file.
type QrelsPipeline struct {
	cfg      judgment.Config
	index    judgment.VectorIndex
	registry *dataset.Registry
	bus      bus.Bus
	log      *logger.Logger
}

// NewQrelsPipeline creates a pipeline. index is used in projected mode and
// may be nil; b may be nil.
func NewQrelsPipeline(cfg judgment.Config, index judgment.VectorIndex, registry *dataset.Registry, b bus.Bus, log *logger.Logger) (*QrelsPipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	return &QrelsPipeline{cfg: cfg, index: index, registry: registry, bus: b, log: log}, nil
}

// Synthesize runs the pipeline and returns the judgments together with the
// summary published on the bus.
func (p *QrelsPipeline) Synthesize(ctx context.Context, req QrelsRequest) ([]evaluation.RelevanceJudgment, bus.QrelsSynthesized, error) {
	var summary bus.QrelsSynthesized

	req, err := p.resolve(req)
	if err != nil {
		return nil, summary, err
	}

	start := time.Now()
	docs, err := dataset.LoadDocuments(req.Documents)
	if err != nil {
		return nil, summary, err
	}
	queries, err := dataset.LoadQueries(req.Queries)
	if err != nil {
		return nil, summary, err
	}

	cfg := p.cfg
	cfg.QueryIDStart = req.QueryIDStart
	opts := []judgment.Option{judgment.WithLogger(p.log)}
	if p.index != nil {
		opts = append(opts, judgment.WithIndex(p.index))
	}
	synth, err := judgment.NewSynthesizer(cfg, opts...)
	if err != nil {
		return nil, summary, err
	}

	judgments, err := synth.Synthesize(ctx, docs, queries)
	if err != nil {
		return nil, summary, err
	}
	if req.Output != "" {
		if err := dataset.SaveQrels(req.Output, judgments); err != nil {
			return nil, summary, err
		}
	}

	summary = bus.QrelsSynthesized{
		Dataset:   req.Dataset,
		Queries:   len(queries),
		Documents: docs.Len(),
		Judgments: len(judgments),
		Threshold: cfg.Threshold,
		TopK:      cfg.TopK,
		Seconds:   time.Since(start).Seconds(),
		Output:    req.Output,
	}
	p.publish(ctx, summary)
	return judgments, summary, nil
}

func (p *QrelsPipeline) resolve(req QrelsRequest) (QrelsRequest, error) {
	if req.Dataset == "" {
		if req.Documents == "" || req.Queries == "" {
			return req, apperrors.ValidationError("documents and queries are required without a dataset")
		}
		if req.QueryIDStart < 0 {
			return req, apperrors.ValidationError("query id start must be non-negative")
		}
		return req, nil
	}

	if p.registry == nil {
		return req, apperrors.ConfigurationError("no dataset registry configured")
	}
	ds, err := p.registry.Get(req.Dataset)
	if err != nil {
		return req, err
	}
	paths := p.registry.Paths(ds)
	if req.Documents == "" {
		req.Documents = paths.Processed
	}
	if req.Queries == "" {
		req.Queries = paths.Queries
	}
	if req.Output == "" {
		req.Output = paths.Qrels
	}
	req.QueryIDStart = ds.QueryIDStart
	return req, nil
}

func (p *QrelsPipeline) publish(ctx context.Context, summary bus.QrelsSynthesized) {
	if p.bus == nil {
		return
	}
	event, err := bus.NewEvent(bus.TopicQrelsSynthesized, "judgment", summary)
	if err == nil {
		err = p.bus.Publish(ctx, bus.TopicQrelsSynthesized, event)
	}
	if err != nil {
		p.log.WithError(err).Error("Failed to publish qrels event")
	}
}
