package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ricesearch/greeneval/internal/dataset"
	"github.com/ricesearch/greeneval/internal/engine"
	"github.com/ricesearch/greeneval/internal/evaluation"
	"github.com/ricesearch/greeneval/internal/experiment"
	"github.com/ricesearch/greeneval/internal/metrics"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
	"github.com/ricesearch/greeneval/internal/store"
	"github.com/ricesearch/greeneval/internal/sustainability"
)

func newTestServer(t *testing.T, cfg Config, deps Deps) http.Handler {
	t.Helper()
	s := New(cfg, deps, logger.Discard())
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "192.0.2.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// decodeData unwraps a {"data": ...} response into v.
func decodeData(t *testing.T, w *httptest.ResponseRecorder, v any) ResponseMeta {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
		Meta ResponseMeta    `json:"meta"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, w.Body.String())
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return env.Meta
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp apperrors.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v (body %s)", err, w.Body.String())
	}
	return resp.Code
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Host != "0.0.0.0" || cfg.Port != 8080 || cfg.MetricsPath != "/metrics" {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, Config{Version: "1.2.3"}, Deps{})

	w := do(t, h, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Version != "1.2.3" {
		t.Errorf("health = %+v", resp)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestQrels(t *testing.T) {
	h := newTestServer(t, Config{}, Deps{})

	w := do(t, h, http.MethodPost, "/v1/qrels", QrelsRequest{
		Documents: []dataset.Document{
			{ID: "d1", Contents: "solar panels energy"},
			{ID: "d2", Contents: "wind turbines farm"},
		},
		Queries: []string{"solar energy panels", "wind farm"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp QrelsResponse
	meta := decodeData(t, w, &resp)
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
	qrels := evaluation.QrelsFromJudgments(resp.Judgments)
	if qrels["0"]["d1"] != 1 || qrels["1"]["d2"] != 1 {
		t.Errorf("judgments = %v", resp.Judgments)
	}
	if meta.RequestID == "" || meta.RequestID != w.Header().Get("X-Request-ID") {
		t.Errorf("meta request id = %q, header %q", meta.RequestID, w.Header().Get("X-Request-ID"))
	}
}

func TestQrels_Errors(t *testing.T) {
	h := newTestServer(t, Config{}, Deps{})

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"empty collection", QrelsRequest{Queries: []string{"q"}}, http.StatusUnprocessableEntity, apperrors.CodeConfiguration},
		{"bad mode", QrelsRequest{Mode: "sideways"}, http.StatusBadRequest, apperrors.CodeValidation},
		{"duplicate ids", QrelsRequest{Documents: []dataset.Document{{ID: "a", Contents: "x"}, {ID: "a", Contents: "y"}}}, http.StatusBadRequest, apperrors.CodeFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/v1/qrels", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if code := errorCode(t, w); code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/qrels", strings.NewReader("{"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != apperrors.CodeInvalidRequest {
		t.Errorf("invalid JSON: status = %d body %s", w.Code, w.Body.String())
	}
}

func TestEvaluate(t *testing.T) {
	h := newTestServer(t, Config{}, Deps{})

	w := do(t, h, http.MethodPost, "/v1/evaluate", evaluation.EvaluateRequest{
		Metric: "ndcg",
		K:      10,
		Results: evaluation.Results{
			"0": {{DocID: "A", Score: 2}, {DocID: "B", Score: 1}},
		},
		Judgments: []evaluation.RelevanceJudgment{{QueryID: "0", DocID: "A", Relevance: 1}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var report evaluation.Report
	decodeData(t, w, &report)
	if report.Value != 1 {
		t.Errorf("NDCG@10 = %v, want 1", report.Value)
	}
}

func TestEvaluate_Validation(t *testing.T) {
	h := newTestServer(t, Config{}, Deps{})
	results := evaluation.Results{"0": {{DocID: "A", Score: 1}}}

	tests := []struct {
		name string
		req  evaluation.EvaluateRequest
	}{
		{"unknown metric", evaluation.EvaluateRequest{Metric: "map", Results: results}},
		{"negative k", evaluation.EvaluateRequest{Metric: "ndcg", K: -1, Results: results}},
		{"no results", evaluation.EvaluateRequest{Metric: "precision"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/v1/evaluate", tt.req)
			if w.Code != http.StatusBadRequest || errorCode(t, w) != apperrors.CodeValidation {
				t.Errorf("status = %d, body %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestCost(t *testing.T) {
	h := newTestServer(t, Config{}, Deps{})

	w := do(t, h, http.MethodPost, "/v1/cost", CostRequest{Seconds: 5})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var a sustainability.Assessment
	decodeData(t, w, &a)
	if a.Kilojoules != 4 || a.Seconds != 5 {
		t.Errorf("assessment = %+v", a)
	}
	if a.JSC.Min > a.JSC.Max || a.ASC.Min < a.JSC.Min {
		t.Errorf("inconsistent ranges: %+v", a)
	}

	w = do(t, h, http.MethodPost, "/v1/cost", CostRequest{Seconds: 5, Mix: sustainability.EnergyMix{"wind": 1}})
	decodeData(t, w, &a)
	if math.Abs(a.JSC.Min-a.JSC.Max) > 1e-12 {
		t.Errorf("wind-only JSC should be a point range, got %+v", a.JSC)
	}

	bad := []CostRequest{
		{Seconds: 0},
		{Seconds: 5, Mix: sustainability.EnergyMix{"plutonium": 1}},
		{Seconds: 5, Watts: -1},
		{Seconds: 5, LifetimeYears: -3},
	}
	for _, req := range bad {
		w := do(t, h, http.MethodPost, "/v1/cost", req)
		if w.Code != http.StatusBadRequest || errorCode(t, w) != apperrors.CodeValidation {
			t.Errorf("cost(%+v): status = %d body %s", req, w.Code, w.Body.String())
		}
	}
}

func TestRuns(t *testing.T) {
	runs := store.NewMemoryStorage()
	ctx := context.Background()
	older := store.NewRun("cranfield", "bm25(k1=1.2,b=0.75)")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	newer := store.NewRun("apnews", "query-likelihood(mu=1000)")
	for _, r := range []*store.Run{older, newer} {
		if err := runs.Save(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	h := newTestServer(t, Config{}, Deps{Runs: runs})

	w := do(t, h, http.MethodGet, "/v1/runs", nil)
	var list RunsResponse
	decodeData(t, w, &list)
	if list.Count != 2 || list.Runs[0].ID != newer.ID {
		t.Errorf("list = %+v", list)
	}

	w = do(t, h, http.MethodGet, "/v1/runs?dataset=cranfield&limit=5", nil)
	decodeData(t, w, &list)
	if list.Count != 1 || list.Runs[0].ID != older.ID {
		t.Errorf("filtered list = %+v", list)
	}

	w = do(t, h, http.MethodGet, "/v1/runs?limit=-1", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/v1/runs/"+older.ID, nil)
	var got store.Run
	decodeData(t, w, &got)
	if got.Dataset != "cranfield" {
		t.Errorf("get = %+v", got)
	}

	if w := do(t, h, http.MethodDelete, "/v1/runs/"+older.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/v1/runs/"+older.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d", w.Code)
	}
}

func TestRuns_Unavailable(t *testing.T) {
	h := newTestServer(t, Config{}, Deps{})
	w := do(t, h, http.MethodGet, "/v1/runs", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestDatasets(t *testing.T) {
	reg, err := dataset.NewRegistry(dataset.RegistryConfig{DataDir: "data"})
	if err != nil {
		t.Fatal(err)
	}
	h := newTestServer(t, Config{}, Deps{Registry: reg})

	w := do(t, h, http.MethodGet, "/v1/datasets", nil)
	var list struct {
		Datasets []DatasetInfo `json:"datasets"`
	}
	decodeData(t, w, &list)
	if len(list.Datasets) != 4 {
		t.Errorf("datasets = %d, want 4", len(list.Datasets))
	}

	w = do(t, h, http.MethodGet, "/v1/datasets/cranfield", nil)
	var info DatasetInfo
	decodeData(t, w, &info)
	if info.QueryIDStart != 1 || info.Paths.Qrels != filepath.Join("data", "cranfield", "cranfield-qrels.txt") {
		t.Errorf("info = %+v", info)
	}

	if w := do(t, h, http.MethodGet, "/v1/datasets/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown dataset status = %d", w.Code)
	}
}

type fixedEngine struct{}

func (fixedEngine) Search(context.Context, string, engine.RankingModel, string, int) ([]evaluation.Hit, error) {
	return []evaluation.Hit{{DocID: "d1", Score: 1}}, nil
}

func TestExperiments(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"toy-queries.txt": "anything\n",
		"toy-qrels.txt":   "0 d1 1\n",
	} {
		if err := os.MkdirAll(filepath.Join(dir, "toy"), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "toy", name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	reg, err := dataset.NewRegistry(dataset.RegistryConfig{DataDir: dir}, dataset.Dataset{Name: "toy"})
	if err != nil {
		t.Fatal(err)
	}
	runner := experiment.NewRunner(fixedEngine{}, reg, sustainability.NewAccountant(sustainability.DefaultIntensityTable()))
	h := newTestServer(t, Config{}, Deps{Registry: reg, Runner: runner})

	w := do(t, h, http.MethodPost, "/v1/experiments", ExperimentRequest{
		Datasets: []string{"toy"},
		Model:    "bm25",
		Params:   Params{"k1": 0.9},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp ExperimentResponse
	decodeData(t, w, &resp)
	if len(resp.Runs) != 1 || resp.Runs[0].Value != 1 || resp.Runs[0].Model != "bm25(k1=0.9,b=0.75)" {
		t.Errorf("runs = %+v", resp.Runs)
	}

	bad := []ExperimentRequest{
		{Model: "bm25"},
		{Datasets: []string{"toy"}, Model: "tf-idf"},
		{Datasets: []string{"toy"}, Model: "bm25", Params: Params{"b": 3}},
		{Datasets: []string{"toy"}, Model: "bm25", Metric: "map"},
	}
	for _, req := range bad {
		if w := do(t, h, http.MethodPost, "/v1/experiments", req); w.Code != http.StatusBadRequest {
			t.Errorf("experiment(%+v) status = %d", req, w.Code)
		}
	}

	if w := do(t, h, http.MethodPost, "/v1/experiments", ExperimentRequest{Datasets: []string{"missing"}}); w.Code != http.StatusNotFound {
		t.Errorf("unknown dataset status = %d", w.Code)
	}
}

func TestExperiments_Unavailable(t *testing.T) {
	h := newTestServer(t, Config{}, Deps{})
	w := do(t, h, http.MethodPost, "/v1/experiments", ExperimentRequest{Datasets: []string{"toy"}})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	h := newTestServer(t, Config{}, Deps{Metrics: m})

	do(t, h, http.MethodGet, "/healthz", nil)
	w := do(t, h, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	want := `greeneval_http_requests_total{method="GET",path="/healthz",status="200"} 1`
	if !strings.Contains(w.Body.String(), want) {
		t.Errorf("metrics output missing %q", want)
	}
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, Config{RateLimit: 1}, Deps{})

	for i := 0; i < 2; i++ {
		if w := do(t, h, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
	w := do(t, h, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusTooManyRequests || errorCode(t, w) != apperrors.CodeRateLimited {
		t.Errorf("status = %d body %s", w.Code, w.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(t, Config{}, Deps{})
	if w := do(t, h, http.MethodGet, "/v1/qrels", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestResponseWrapper_PassesErrorsThrough(t *testing.T) {
	h := ResponseWrapperMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apperrors.WriteError(w, apperrors.NotFoundError("thing"))
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/things/1", nil))
	if w.Code != http.StatusNotFound || errorCode(t, w) != apperrors.CodeNotFound {
		t.Errorf("status = %d body %s", w.Code, w.Body.String())
	}
}

func TestStartStop(t *testing.T) {
	s := New(Config{Host: "127.0.0.1", Port: 18931}, Deps{}, logger.Discard())
	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://127.0.0.1:18931/healthz")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Skipf("server did not come up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := <-errc; err != nil {
		t.Errorf("Start() error = %v", err)
	}
}
