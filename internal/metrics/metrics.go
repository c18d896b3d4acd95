// Package metrics exposes Prometheus instrumentation for experiment runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/store"
)

const namespace = "greeneval"

// Metrics holds all application metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Engine metrics
	EngineSearches       *prometheus.CounterVec   // labels: model, outcome
	EngineSearchDuration *prometheus.HistogramVec // labels: model

	// Judgment metrics
	QrelsJudgments    *prometheus.CounterVec // labels: dataset
	SynthesisDuration prometheus.Histogram

	// Run metrics
	Runs            *prometheus.CounterVec   // labels: dataset, outcome
	RunDuration     *prometheus.HistogramVec // labels: dataset
	RunScore        *prometheus.GaugeVec     // labels: dataset, model, metric
	RunKilojoules   *prometheus.CounterVec   // labels: dataset
	RunCarbonGrams  *prometheus.GaugeVec     // labels: dataset, measure, bound
	CarbonEmissions *prometheus.CounterVec   // labels: dataset

	// Bus metrics
	BusEventsPublished *prometheus.CounterVec   // labels: topic
	BusEventLatency    *prometheus.HistogramVec // labels: topic
	BusErrors          *prometheus.CounterVec   // labels: topic

	// HTTP metrics
	HTTPRequests         *prometheus.CounterVec   // labels: method, path, status
	HTTPDuration         *prometheus.HistogramVec // labels: method, path
	HTTPRequestsInFlight prometheus.Gauge
	HTTPRequestSize      *prometheus.HistogramVec // labels: method, path
}

// New creates a metrics instance with every collector registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EngineSearches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_searches_total",
			Help:      "Engine search calls by ranking model and outcome",
		}, []string{"model", "outcome"}),
		EngineSearchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_search_duration_seconds",
			Help:      "Latency of one engine search call",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"model"}),

		QrelsJudgments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qrels_judgments_total",
			Help:      "Relevance judgments synthesized",
		}, []string{"dataset"}),
		SynthesisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "qrels_synthesis_duration_seconds",
			Help:      "Wall time of one qrels synthesis",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),

		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Experiment runs by dataset and outcome",
		}, []string{"dataset", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Measured job time of an experiment run",
			Buckets:   prometheus.ExponentialBuckets(0.1, 3, 10),
		}, []string{"dataset"}),
		RunScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_score",
			Help:      "Metric value of the latest run",
		}, []string{"dataset", "model", "metric"}),
		RunKilojoules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "energy_kilojoules_total",
			Help:      "Energy drawn by experiment runs",
		}, []string{"dataset"}),
		RunCarbonGrams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_carbon",
			Help:      "Sustainability cost bounds of the latest run (JSC and ASC in gCO2e, SCR in gCO2e/s)",
		}, []string{"dataset", "measure", "bound"}),
		CarbonEmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carbon_grams_max_total",
			Help:      "Upper bound of job sustainability cost accumulated over runs",
		}, []string{"dataset"}),

		BusEventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_published_total",
			Help:      "Events published on the bus",
		}, []string{"topic"}),
		BusEventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_publish_duration_seconds",
			Help:      "Bus publish latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
		BusErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_errors_total",
			Help:      "Failed bus publishes",
		}, []string{"topic"}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests being served",
		}),
		HTTPRequestSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request body size",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"method", "path"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EngineSearches, m.EngineSearchDuration,
		m.QrelsJudgments, m.SynthesisDuration,
		m.Runs, m.RunDuration, m.RunScore, m.RunKilojoules, m.RunCarbonGrams, m.CarbonEmissions,
		m.BusEventsPublished, m.BusEventLatency, m.BusErrors,
		m.HTTPRequests, m.HTTPDuration, m.HTTPRequestsInFlight, m.HTTPRequestSize,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler that serves the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile dumps the metrics in text format for a node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "write metrics textfile", err)
	}
	return nil
}

// RecordSearch records one engine search call.
func (m *Metrics) RecordSearch(model string, d time.Duration, err error) {
	m.EngineSearches.WithLabelValues(model, outcome(err)).Inc()
	m.EngineSearchDuration.WithLabelValues(model).Observe(d.Seconds())
}

// RecordSynthesis records one qrels synthesis.
func (m *Metrics) RecordSynthesis(dataset string, judgments int, d time.Duration) {
	m.QrelsJudgments.WithLabelValues(dataset).Add(float64(judgments))
	m.SynthesisDuration.Observe(d.Seconds())
}

// RecordRun records a completed run.
func (m *Metrics) RecordRun(run *store.Run) {
	m.Runs.WithLabelValues(run.Dataset, "success").Inc()
	m.RunDuration.WithLabelValues(run.Dataset).Observe(run.Seconds)
	m.RunScore.WithLabelValues(run.Dataset, run.Model, run.Metric).Set(run.Value)
	m.RunKilojoules.WithLabelValues(run.Dataset).Add(run.Kilojoules)
	m.CarbonEmissions.WithLabelValues(run.Dataset).Add(run.JSC.Max)

	for measure, r := range map[string][2]float64{
		"jsc": {run.JSC.Min, run.JSC.Max},
		"asc": {run.ASC.Min, run.ASC.Max},
		"scr": {run.SCR.Min, run.SCR.Max},
	} {
		m.RunCarbonGrams.WithLabelValues(run.Dataset, measure, "min").Set(r[0])
		m.RunCarbonGrams.WithLabelValues(run.Dataset, measure, "max").Set(r[1])
	}
}

// RecordRunFailure records a failed run.
func (m *Metrics) RecordRunFailure(dataset string) {
	m.Runs.WithLabelValues(dataset, "failure").Inc()
}

// RecordBusPublish records one event bus publish.
func (m *Metrics) RecordBusPublish(topic string, d time.Duration, err error) {
	m.BusEventsPublished.WithLabelValues(topic).Inc()
	m.BusEventLatency.WithLabelValues(topic).Observe(d.Seconds())
	if err != nil {
		m.BusErrors.WithLabelValues(topic).Inc()
	}
}

// RecordHTTP records HTTP request metrics.
// This is called by the HTTP middleware.
func (m *Metrics) RecordHTTP(method, path string, status int, durationSeconds float64, sizeBytes int64) {
	normalizedPath := normalizePath(path)

	m.HTTPRequests.WithLabelValues(method, normalizedPath, statusLabel(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, normalizedPath).Observe(durationSeconds)
	if sizeBytes > 0 {
		m.HTTPRequestSize.WithLabelValues(method, normalizedPath).Observe(float64(sizeBytes))
	}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if code := apperrors.CodeOf(err); code != "" {
		return code
	}
	return "error"
}
