// Package experiment drives retrieval experiments: it searches a dataset's
// queries, scores the rankings, prices the job in carbon and announces the
// resulting run on the event bus.
package experiment

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ricesearch/greeneval/internal/bus"
	"github.com/ricesearch/greeneval/internal/dataset"
	"github.com/ricesearch/greeneval/internal/engine"
	"github.com/ricesearch/greeneval/internal/evaluation"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
	"github.com/ricesearch/greeneval/internal/store"
	"github.com/ricesearch/greeneval/internal/sustainability"
)

// eventSource identifies runner events on the bus.
const eventSource = "experiment"

// minJobDuration is the shortest duration a finished run is priced at.
const minJobDuration = time.Microsecond

// Request describes one run.
type Request struct {
	Dataset string              `json:"dataset"`
	Model   engine.RankingModel `json:"-"`
	Metric  evaluation.Metric   `json:"metric"`
	K       int                 `json:"k"`
	TopK    int                 `json:"top_k"`

	// BuildIndex asks the engine to index the processed corpus first.
	BuildIndex bool `json:"build_index"`

	// SaveResults writes the ranked results next to the metric value.
	SaveResults bool `json:"save_results"`
}

func (r *Request) normalize() error {
	if r.Metric == "" {
		r.Metric = evaluation.MetricNDCG
	}
	if r.K == 0 {
		r.K = 10
	}
	if r.TopK == 0 {
		r.TopK = engine.DefaultTopK
	}
	if r.Dataset == "" {
		return apperrors.ValidationError("dataset is required")
	}
	if r.K < 0 || r.TopK < 0 {
		return apperrors.ValidationError("k and top_k must be positive")
	}
	if _, err := evaluation.ParseMetric(string(r.Metric)); err != nil {
		return apperrors.ValidationError(err.Error())
	}
	if err := engine.Validate(r.Model); err != nil {
		return apperrors.ValidationError(err.Error())
	}
	return nil
}

// Runner executes experiment runs.
type Runner struct {
	engine     engine.Engine
	registry   *dataset.Registry
	evaluator  *evaluation.Evaluator
	accountant *sustainability.Accountant
	mix        sustainability.EnergyMix
	hardware   sustainability.Hardware
	bus        bus.Bus
	resultsDir string
	compress   bool
	parallel   int
	now        func() time.Time
	log        *logger.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithBus publishes run events to b.
func WithBus(b bus.Bus) Option {
	return func(r *Runner) { r.bus = b }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithEnergyMix sets the mix used to price runs.
func WithEnergyMix(mix sustainability.EnergyMix) Option {
	return func(r *Runner) { r.mix = mix }
}

// WithHardware sets the machine profile used to price runs.
func WithHardware(h sustainability.Hardware) Option {
	return func(r *Runner) { r.hardware = h }
}

// WithResultsDir sets where results dumps are written. Compressed dumps get a .zst suffix.
func WithResultsDir(dir string, compress bool) Option {
	return func(r *Runner) {
		r.resultsDir = dir
		r.compress = compress
	}
}

// WithParallelism bounds how many runs RunAll executes at once.
func WithParallelism(n int) Option {
	return func(r *Runner) { r.parallel = n }
}

// WithClock replaces the wall clock used to time runs.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a runner.
func NewRunner(eng engine.Engine, registry *dataset.Registry, accountant *sustainability.Accountant, opts ...Option) *Runner {
	r := &Runner{
		engine:     eng,
		registry:   registry,
		accountant: accountant,
		mix:        sustainability.DefaultEnergyMix(),
		hardware:   sustainability.DefaultHardware(),
		resultsDir: ".",
		parallel:   4,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Discard()
	}
	r.evaluator = evaluation.NewEvaluator(r.log)
	return r
}

// Run executes one run and publishes its outcome. The timed job covers
// indexing, loading, searching, scoring and writing the results dump.
func (r *Runner) Run(ctx context.Context, req Request) (*store.Run, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	run, err := r.run(ctx, req)
	if err != nil {
		r.publishFailure(ctx, req, err)
		return nil, err
	}
	r.publish(ctx, bus.TopicRunCompleted, run)
	return run, nil
}

func (r *Runner) run(ctx context.Context, req Request) (*store.Run, error) {
	ds, err := r.registry.Get(req.Dataset)
	if err != nil {
		return nil, err
	}
	paths := r.registry.Paths(ds)
	log := r.log.WithDataset(ds.Name)

	start := r.now()

	if req.BuildIndex {
		indexer, ok := r.engine.(engine.Indexer)
		if !ok {
			return nil, errNoIndexer
		}
		if err := indexer.BuildIndex(ctx, paths.Processed, paths.Index); err != nil {
			return nil, err
		}
	}

	queries, err := dataset.LoadQueries(paths.Queries)
	if err != nil {
		return nil, err
	}
	qrels, err := dataset.LoadQrels(paths.Qrels)
	if err != nil {
		return nil, err
	}

	results, err := engine.SearchAll(ctx, r.engine, engine.SearchRequest{
		Index:        paths.Index,
		Model:        req.Model,
		Queries:      queries,
		TopK:         req.TopK,
		QueryIDStart: ds.QueryIDStart,
	}, log)
	if err != nil {
		return nil, err
	}

	report, err := r.evaluator.Evaluate(req.Metric, results, qrels, req.K)
	if err != nil {
		return nil, err
	}

	if req.SaveResults {
		path := filepath.Join(r.resultsDir, paths.Results)
		if r.compress {
			path += ".zst"
		}
		dump := dataset.ResultsDump{
			Results: results,
			Metrics: map[string]float64{string(req.Metric): report.Value},
		}
		if err := dataset.SaveResults(path, dump); err != nil {
			return nil, err
		}
		log.Info("Results saved", "path", path)
	}

	elapsed := r.now().Sub(start)
	if elapsed < minJobDuration {
		// A coarse or stepped-back clock reads zero for a finished job.
		log.Debug("Job duration below clock resolution", "elapsed", elapsed, "assumed", minJobDuration)
		elapsed = minJobDuration
	}
	assessment, err := r.accountant.Assess(sustainability.Job{
		Duration: elapsed,
		Mix:      r.mix,
		Hardware: r.hardware,
	})
	if err != nil {
		return nil, err
	}

	run := store.NewRun(ds.Name, engine.Describe(req.Model))
	run.Metric = string(req.Metric)
	run.K = req.K
	run.Value = report.Value
	run.Evaluated = report.Evaluated()
	run.ApplyAssessment(assessment)

	log.WithRun(run.ID).Info("Run complete",
		"model", run.Model,
		"metric", req.Metric.Label(req.K),
		"value", run.Value,
		"seconds", run.Seconds,
		"kilojoules", run.Kilojoules,
		"jsc_min", run.JSC.Min,
		"jsc_max", run.JSC.Max,
	)
	return run, nil
}

// RunAll executes the requests concurrently. Runs come back in request
// order; the first failure cancels the runs still in flight.
func (r *Runner) RunAll(ctx context.Context, reqs []Request) ([]*store.Run, error) {
	runs := make([]*store.Run, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	if r.parallel > 0 {
		g.SetLimit(r.parallel)
	}
	for i, req := range reqs {
		g.Go(func() error {
			run, err := r.Run(ctx, req)
			if err != nil {
				return fmt.Errorf("%s: %w", req.Dataset, err)
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *Runner) publish(ctx context.Context, topic string, payload any) {
	if r.bus == nil {
		return
	}
	event, err := bus.NewEvent(topic, eventSource, payload)
	if err == nil {
		err = r.bus.Publish(ctx, topic, event)
	}
	if err != nil {
		r.log.WithError(err).Error("Failed to publish run event", "topic", topic)
	}
}

func (r *Runner) publishFailure(ctx context.Context, req Request, err error) {
	r.log.WithDataset(req.Dataset).WithError(err).Error("Run failed")

	failure := bus.RunFailure{
		Dataset: req.Dataset,
		Model:   engine.Describe(req.Model),
		Code:    apperrors.CodeOf(err),
		Message: err.Error(),
	}
	if failure.Code == "" {
		failure.Code = apperrors.CodeInternal
	}
	r.publish(context.WithoutCancel(ctx), bus.TopicRunFailed, failure)
}
