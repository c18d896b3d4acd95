package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/greeneval/internal/bus"
	"github.com/ricesearch/greeneval/internal/config"
	"github.com/ricesearch/greeneval/internal/dataset"
	"github.com/ricesearch/greeneval/internal/engine"
	"github.com/ricesearch/greeneval/internal/experiment"
	"github.com/ricesearch/greeneval/internal/judgment"
	"github.com/ricesearch/greeneval/internal/metrics"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
	"github.com/ricesearch/greeneval/internal/qdrant"
	"github.com/ricesearch/greeneval/internal/store"
	"github.com/ricesearch/greeneval/internal/sustainability"
)

// app holds the services shared by the subcommands.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	out     io.Writer
	jsonOut bool
	metrics *metrics.Metrics
	bus     bus.Bus

	registry   *dataset.Registry
	accountant *sustainability.Accountant
	mix        sustainability.EnergyMix
	hardware   sustainability.Hardware

	runs    store.Storage
	closers []func() error
}

// newApp loads configuration and builds the always-needed services: the
// registry, the accountant, metrics and the event bus.
func newApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	format, _ := cmd.Flags().GetString("format")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	a := &app{
		cfg:     cfg,
		log:     logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format),
		out:     cmd.OutOrStdout(),
		jsonOut: strings.EqualFold(format, "json"),
		metrics: metrics.New(),
	}

	extra := make([]dataset.Dataset, 0, len(cfg.Data.Datasets))
	for _, d := range cfg.Data.Datasets {
		extra = append(extra, dataset.Dataset{
			Name:         d.Name,
			QueryIDStart: d.QueryIDStart,
			BaseDir:      d.BaseDir,
			CorpusDir:    d.CorpusDir,
			IndexDir:     d.IndexDir,
		})
	}
	a.registry, err = dataset.NewRegistry(dataset.RegistryConfig{
		DataDir:      cfg.Data.Dir,
		ProcessedDir: cfg.Data.ProcessedDir,
		IndexDir:     cfg.Data.IndexDir,
	}, extra...)
	if err != nil {
		return nil, err
	}

	if err := a.setupAccounting(); err != nil {
		return nil, err
	}

	inner, err := bus.NewBus(cfg.Bus, a.log)
	if err != nil {
		return nil, err
	}
	a.bus = bus.NewInstrumentedBus(inner, a.metrics)
	a.closers = append(a.closers, a.bus.Close)
	if err := metrics.NewEventSubscriber(a.metrics, a.bus).SubscribeToEvents(cmd.Context()); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) setupAccounting() error {
	sc := a.cfg.Sustainability

	table := sustainability.DefaultIntensityTable()
	if sc.IntensityFile != "" {
		t, err := sustainability.LoadIntensityTable(sc.IntensityFile)
		if err != nil {
			return err
		}
		table = t
	}
	a.accountant = sustainability.NewAccountant(table, sustainability.WithLossFactor(sc.LossFactor))

	a.mix = sustainability.DefaultEnergyMix()
	if len(sc.Mix) > 0 {
		a.mix = sustainability.EnergyMix(sc.Mix)
	}
	a.hardware = sustainability.Hardware{
		Watts:         sc.Watts,
		LifetimeYears: sc.LifetimeYears,
		EmbodiedCost:  sc.EmbodiedCost,
	}
	return nil
}

// openRuns opens the run history store.
func (a *app) openRuns(ctx context.Context) (store.Storage, error) {
	if a.runs != nil {
		return a.runs, nil
	}
	runs, err := store.Open(ctx, a.cfg.Store, a.log)
	if err != nil {
		return nil, err
	}
	a.runs = runs
	a.closers = append(a.closers, runs.Close)
	return runs, nil
}

// newEngine builds the instrumented engine client.
func (a *app) newEngine() engine.Engine {
	ec := a.cfg.Engine
	return experiment.NewInstrumentedEngine(engine.NewHTTPEngine(engine.Config{
		BaseURL:           ec.URL,
		Timeout:           ec.Timeout,
		RequestsPerSecond: ec.RateLimit,
		Burst:             ec.Burst,
	}), a.metrics)
}

// newRunner builds an experiment runner publishing to the app bus.
func (a *app) newRunner(compress bool) *experiment.Runner {
	return experiment.NewRunner(a.newEngine(), a.registry, a.accountant,
		experiment.WithBus(a.bus),
		experiment.WithLogger(a.log),
		experiment.WithEnergyMix(a.mix),
		experiment.WithHardware(a.hardware),
		experiment.WithResultsDir(a.cfg.Data.ResultsDir, compress),
	)
}

// judgmentConfig returns the configured synthesis parameters.
func (a *app) judgmentConfig() (judgment.Config, error) {
	mode, err := judgment.ParseMode(a.cfg.Judgment.Mode)
	if err != nil {
		return judgment.Config{}, apperrors.ValidationError(err.Error())
	}
	return judgment.Config{
		Threshold: a.cfg.Judgment.Threshold,
		TopK:      a.cfg.Judgment.TopK,
		Mode:      mode,
	}, nil
}

// vectorIndex returns the projected-mode index: Qdrant when configured,
// otherwise nil so the synthesizer falls back to memory.
func (a *app) vectorIndex(ctx context.Context, collection string) (judgment.VectorIndex, error) {
	vc := a.cfg.Vector
	if !strings.EqualFold(vc.Type, "qdrant") {
		return nil, nil
	}

	client, err := qdrant.NewClient(qdrant.ClientConfig{
		Host:      vc.QdrantHost,
		Port:      vc.QdrantPort,
		APIKey:    vc.QdrantAPIKey,
		UseTLS:    vc.QdrantTLS,
		UserAgent: "greeneval/" + version,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	serverVersion, err := client.HealthCheck(healthCtx)
	if err != nil {
		return nil, err
	}
	a.log.Info("Connected to Qdrant", "host", vc.QdrantHost, "port", vc.QdrantPort,
		"version", serverVersion, "collection", collection)
	return qdrant.NewIndex(client, qdrant.DefaultCollectionConfig(collection)), nil
}

// close releases every service in reverse order and writes the metrics
// textfile when configured.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("Close failed")
		}
	}
	a.closers = nil

	if path := a.cfg.Metrics.TextfilePath; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.log.WithError(err).Warn("Failed to write metrics textfile", "path", path)
		}
	}
}

// printJSON writes v as indented JSON.
func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
