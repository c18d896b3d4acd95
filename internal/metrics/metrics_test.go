package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ricesearch/greeneval/internal/bus"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
	"github.com/ricesearch/greeneval/internal/store"
	"github.com/ricesearch/greeneval/internal/sustainability"
)

func sampleRun() *store.Run {
	return &store.Run{
		ID:         "r1",
		Dataset:    "cranfield",
		Model:      "bm25",
		Metric:     "ndcg@10",
		K:          10,
		Value:      0.37,
		Seconds:    4,
		Kilojoules: 3.2,
		JSC:        sustainability.Range{Min: 0.5, Max: 1.5},
		ASC:        sustainability.Range{Min: 0.6, Max: 1.6},
		SCR:        sustainability.Range{Min: 0.125, Max: 0.375},
		CreatedAt:  time.Now(),
	}
}

func TestRecordRun(t *testing.T) {
	m := New()
	m.RecordRun(sampleRun())
	m.RecordRun(sampleRun())
	m.RecordRunFailure("cranfield")

	if got := testutil.ToFloat64(m.Runs.WithLabelValues("cranfield", "success")); got != 2 {
		t.Errorf("successful runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Runs.WithLabelValues("cranfield", "failure")); got != 1 {
		t.Errorf("failed runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RunKilojoules.WithLabelValues("cranfield")); got != 6.4 {
		t.Errorf("kilojoules = %v, want 6.4", got)
	}
	if got := testutil.ToFloat64(m.RunCarbonGrams.WithLabelValues("cranfield", "scr", "max")); got != 0.375 {
		t.Errorf("scr max = %v, want 0.375", got)
	}
	if got := testutil.ToFloat64(m.RunScore.WithLabelValues("cranfield", "bm25", "ndcg@10")); got != 0.37 {
		t.Errorf("score = %v, want 0.37", got)
	}
}

func TestRecordSearch(t *testing.T) {
	m := New()
	m.RecordSearch("bm25", 20*time.Millisecond, nil)
	m.RecordSearch("bm25", 5*time.Millisecond, apperrors.EngineError("down", nil))
	m.RecordSearch("bm25", 5*time.Millisecond, errors.New("plain"))

	if got := testutil.ToFloat64(m.EngineSearches.WithLabelValues("bm25", "success")); got != 1 {
		t.Errorf("success = %v", got)
	}
	if got := testutil.ToFloat64(m.EngineSearches.WithLabelValues("bm25", apperrors.CodeEngineError)); got != 1 {
		t.Errorf("engine errors = %v", got)
	}
	if got := testutil.ToFloat64(m.EngineSearches.WithLabelValues("bm25", "error")); got != 1 {
		t.Errorf("plain errors = %v", got)
	}
}

func TestRecordBusPublish(t *testing.T) {
	m := New()
	m.RecordBusPublish(bus.TopicRunCompleted, 3*time.Millisecond, nil)
	m.RecordBusPublish(bus.TopicRunCompleted, 3*time.Millisecond, errors.New("down"))

	if got := testutil.ToFloat64(m.BusEventsPublished.WithLabelValues(bus.TopicRunCompleted)); got != 2 {
		t.Errorf("published = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.BusErrors.WithLabelValues(bus.TopicRunCompleted)); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordSynthesis("apnews", 12, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `greeneval_qrels_judgments_total{dataset="apnews"} 12`) {
		t.Errorf("metrics output missing judgments counter:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("metrics output missing go collector")
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.RecordRun(sampleRun())

	path := filepath.Join(t.TempDir(), "greeneval.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "greeneval_energy_kilojoules_total") {
		t.Errorf("textfile missing energy counter")
	}
}

func TestEventSubscriber(t *testing.T) {
	m := New()
	b := bus.NewMemoryBus(logger.Discard())

	if err := NewEventSubscriber(m, b).SubscribeToEvents(context.Background()); err != nil {
		t.Fatal(err)
	}

	completed, _ := bus.NewEvent("run.completed", "test", sampleRun())
	failed, _ := bus.NewEvent("run.failed", "test", bus.RunFailure{Dataset: "apnews", Code: "ENGINE_ERROR"})
	synth, _ := bus.NewEvent("qrels.synthesized", "test", bus.QrelsSynthesized{Dataset: "apnews", Judgments: 4})

	ctx := context.Background()
	b.Publish(ctx, bus.TopicRunCompleted, completed)
	b.Publish(ctx, bus.TopicRunFailed, failed)
	b.Publish(ctx, bus.TopicQrelsSynthesized, synth)
	b.Close()

	if got := testutil.ToFloat64(m.Runs.WithLabelValues("cranfield", "success")); got != 1 {
		t.Errorf("completed runs = %v", got)
	}
	if got := testutil.ToFloat64(m.Runs.WithLabelValues("apnews", "failure")); got != 1 {
		t.Errorf("failed runs = %v", got)
	}
	if got := testutil.ToFloat64(m.QrelsJudgments.WithLabelValues("apnews")); got != 4 {
		t.Errorf("judgments = %v", got)
	}
}
