package evaluation

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

// DefaultK is the cutoff used when a request leaves k unset.
const DefaultK = 10

// EvaluateRequest scores a results set against judgments.
type EvaluateRequest struct {
	Metric    string              `json:"metric"`
	K         int                 `json:"k"`
	Results   Results             `json:"results"`
	Judgments []RelevanceJudgment `json:"judgments"`
}

// Handler serves POST /v1/evaluate.
type Handler struct {
	evaluator *Evaluator
	maxBody   int64
}

// NewHandler wraps e. Request bodies larger than maxBody bytes are rejected;
// zero disables the limit.
func NewHandler(e *Evaluator, maxBody int64) *Handler {
	return &Handler{evaluator: e, maxBody: maxBody}
}

// RegisterRoutes mounts the handler on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /v1/evaluate", h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.InvalidRequestError("invalid JSON body: "+err.Error()))
		return
	}
	report, err := h.evaluate(req)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) evaluate(req EvaluateRequest) (Report, error) {
	metric, err := ParseMetric(req.Metric)
	if err != nil {
		return Report{}, apperrors.ValidationError(err.Error()).WithDetail("field", "metric")
	}
	switch {
	case req.K == 0:
		req.K = DefaultK
	case req.K < 0:
		return Report{}, apperrors.ValidationError("k must be positive").WithDetail("field", "k")
	}
	if len(req.Results) == 0 {
		return Report{}, apperrors.ValidationError("results cannot be empty").WithDetail("field", "results")
	}
	return h.evaluator.Evaluate(metric, req.Results, QrelsFromJudgments(req.Judgments), req.K)
}
