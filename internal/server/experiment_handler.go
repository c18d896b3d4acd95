package server

import (
	"net/http"

	"github.com/ricesearch/greeneval/internal/dataset"
	"github.com/ricesearch/greeneval/internal/engine"
	"github.com/ricesearch/greeneval/internal/evaluation"
	"github.com/ricesearch/greeneval/internal/experiment"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
	"github.com/ricesearch/greeneval/internal/store"
)

// ExperimentHandler serves the dataset registry and starts experiment runs.
type ExperimentHandler struct {
	registry *dataset.Registry
	runner   *experiment.Runner
	log      *logger.Logger
}

// NewExperimentHandler creates the handler. A nil registry or runner answers 503.
func NewExperimentHandler(registry *dataset.Registry, runner *experiment.Runner, log *logger.Logger) *ExperimentHandler {
	return &ExperimentHandler{registry: registry, runner: runner, log: log}
}

// RegisterRoutes registers dataset and experiment routes.
func (h *ExperimentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/datasets", h.handleListDatasets)
	mux.HandleFunc("GET /v1/datasets/{name}", h.handleGetDataset)
	mux.HandleFunc("POST /v1/experiments", h.handleRun)
}

// DatasetInfo describes a registered dataset and where its files live.
type DatasetInfo struct {
	dataset.Dataset
	Paths dataset.Paths `json:"paths"`
}

func (h *ExperimentHandler) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		apperrors.WriteError(w, apperrors.ServiceUnavailableError("dataset registry"))
		return
	}
	infos := make([]DatasetInfo, 0)
	for _, name := range h.registry.Names() {
		d, _ := h.registry.Get(name)
		infos = append(infos, DatasetInfo{Dataset: d, Paths: h.registry.Paths(d)})
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"datasets": infos})
}

func (h *ExperimentHandler) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		apperrors.WriteError(w, apperrors.ServiceUnavailableError("dataset registry"))
		return
	}
	d, err := h.registry.Get(r.PathValue("name"))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, DatasetInfo{Dataset: d, Paths: h.registry.Paths(d)})
}

// ExperimentRequest runs one model over one or more datasets.
type ExperimentRequest struct {
	Datasets    []string `json:"datasets"`
	Model       string   `json:"model"`
	Params      Params   `json:"params,omitempty"`
	Metric      string   `json:"metric,omitempty"`
	K           int      `json:"k,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	BuildIndex  bool     `json:"build_index,omitempty"`
	SaveResults bool     `json:"save_results,omitempty"`
}

// Params overrides the default parameters of the requested model.
type Params map[string]float64

// ExperimentResponse carries the completed runs in request order.
type ExperimentResponse struct {
	Runs []*store.Run `json:"runs"`
}

func (h *ExperimentHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		apperrors.WriteError(w, apperrors.ServiceUnavailableError("experiment runner"))
		return
	}

	var req ExperimentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Datasets) == 0 {
		apperrors.WriteError(w, apperrors.ValidationError("at least one dataset is required"))
		return
	}

	model, err := modelWithParams(req.Model, req.Params)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	metric := evaluation.MetricNDCG
	if req.Metric != "" {
		if metric, err = evaluation.ParseMetric(req.Metric); err != nil {
			apperrors.WriteError(w, apperrors.ValidationError(err.Error()))
			return
		}
	}

	reqs := make([]experiment.Request, len(req.Datasets))
	for i, name := range req.Datasets {
		reqs[i] = experiment.Request{
			Dataset:     name,
			Model:       model,
			Metric:      metric,
			K:           req.K,
			TopK:        req.TopK,
			BuildIndex:  req.BuildIndex,
			SaveResults: req.SaveResults,
		}
	}

	h.log.WithContext(r.Context()).Info("Starting experiment",
		"datasets", req.Datasets, "model", engine.Describe(model))
	runs, err := h.runner.RunAll(r.Context(), reqs)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, ExperimentResponse{Runs: runs})
}

// modelWithParams parses a model name and applies parameter overrides.
func modelWithParams(name string, params Params) (engine.RankingModel, error) {
	m, err := engine.ParseRankingModel(name)
	if err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}

	switch model := m.(type) {
	case engine.BM25:
		if v, ok := params["k1"]; ok {
			model.K1 = v
		}
		if v, ok := params["b"]; ok {
			model.B = v
		}
		m = model
	case engine.RM3:
		if v, ok := params["fb_terms"]; ok {
			model.FBTerms = int(v)
		}
		if v, ok := params["fb_docs"]; ok {
			model.FBDocs = int(v)
		}
		if v, ok := params["original_query_weight"]; ok {
			model.OriginalQueryWeight = v
		}
		m = model
	case engine.QueryLikelihood:
		if v, ok := params["mu"]; ok {
			model.Mu = v
		}
		m = model
	}
	if err := engine.Validate(m); err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}
	return m, nil
}
