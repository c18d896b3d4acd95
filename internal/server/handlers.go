package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ricesearch/greeneval/internal/bus"
	"github.com/ricesearch/greeneval/internal/dataset"
	"github.com/ricesearch/greeneval/internal/evaluation"
	"github.com/ricesearch/greeneval/internal/judgment"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/security"
	"github.com/ricesearch/greeneval/internal/sustainability"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apperrors.WriteError(w, apperrors.InvalidRequestError("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: s.cfg.Version})
}

// QrelsRequest synthesizes judgments for an inline collection. Unset
// parameters fall back to the server configuration.
type QrelsRequest struct {
	Documents    []dataset.Document `json:"documents"`
	Queries      []string           `json:"queries"`
	Threshold    *float64           `json:"threshold,omitempty"`
	TopK         int                `json:"top_k,omitempty"`
	Mode         string             `json:"mode,omitempty"`
	QueryIDStart int                `json:"query_id_start,omitempty"`
}

// QrelsResponse carries the synthesized judgments.
type QrelsResponse struct {
	Judgments []evaluation.RelevanceJudgment `json:"judgments"`
	Count     int                            `json:"count"`
}

func (s *Server) handleQrels(w http.ResponseWriter, r *http.Request) {
	var req QrelsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cfg := s.deps.Judgment
	if cfg.TopK == 0 {
		cfg = judgment.DefaultConfig()
	}
	if req.Threshold != nil {
		cfg.Threshold = *req.Threshold
	}
	if req.TopK != 0 {
		cfg.TopK = req.TopK
	}
	if req.Mode != "" {
		mode, err := judgment.ParseMode(req.Mode)
		if err != nil {
			apperrors.WriteError(w, apperrors.ValidationError(err.Error()))
			return
		}
		cfg.Mode = mode
	}
	cfg.QueryIDStart = req.QueryIDStart

	if err := validateQrelsText(req); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	docs, err := dataset.NewCollection(req.Documents)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	opts := []judgment.Option{judgment.WithLogger(s.log.WithContext(r.Context()))}
	if s.deps.Index != nil {
		opts = append(opts, judgment.WithIndex(s.deps.Index))
	}
	synth, err := judgment.NewSynthesizer(cfg, opts...)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	start := time.Now()
	judgments, err := synth.Synthesize(r.Context(), docs, req.Queries)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	if judgments == nil {
		judgments = []evaluation.RelevanceJudgment{}
	}

	s.publishQrels(r, bus.QrelsSynthesized{
		Queries:   len(req.Queries),
		Documents: docs.Len(),
		Judgments: len(judgments),
		Threshold: cfg.Threshold,
		TopK:      cfg.TopK,
		Seconds:   time.Since(start).Seconds(),
	})
	apperrors.WriteJSON(w, http.StatusOK, QrelsResponse{Judgments: judgments, Count: len(judgments)})
}

func validateQrelsText(req QrelsRequest) error {
	for _, d := range req.Documents {
		if err := security.ValidateText("document "+security.SanitizeForLog(d.ID), d.Contents, security.MaxTextSize); err != nil {
			return err
		}
	}
	for i, q := range req.Queries {
		if err := security.ValidateText(fmt.Sprintf("query %d", i), q, security.MaxTextSize); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) publishQrels(r *http.Request, summary bus.QrelsSynthesized) {
	if s.deps.Bus == nil {
		return
	}
	event, err := bus.NewEvent(bus.TopicQrelsSynthesized, "api", summary)
	if err == nil {
		err = s.deps.Bus.Publish(r.Context(), bus.TopicQrelsSynthesized, event)
	}
	if err != nil {
		s.log.WithContext(r.Context()).WithError(err).Warn("Failed to publish qrels event")
	}
}

// CostRequest prices a job. Seconds is required; the other fields default
// to the server's energy mix and hardware profile.
type CostRequest struct {
	Seconds       float64                  `json:"seconds"`
	Mix           sustainability.EnergyMix `json:"mix,omitempty"`
	Watts         float64                  `json:"watts,omitempty"`
	LifetimeYears float64                  `json:"lifetime_years,omitempty"`
	EmbodiedCost  *float64                 `json:"embodied_cost,omitempty"`
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	var req CostRequest
	if !decodeBody(w, r, &req) {
		return
	}

	job := sustainability.Job{
		Duration: time.Duration(req.Seconds * float64(time.Second)),
		Mix:      s.deps.Mix,
		Hardware: s.deps.Hardware,
	}
	if len(req.Mix) > 0 {
		job.Mix = req.Mix
	}
	if req.Watts != 0 {
		job.Hardware.Watts = req.Watts
	}
	if req.LifetimeYears != 0 {
		job.Hardware.LifetimeYears = req.LifetimeYears
	}
	if req.EmbodiedCost != nil {
		job.Hardware.EmbodiedCost = *req.EmbodiedCost
	}
	if job.Hardware.Watts < 0 {
		apperrors.WriteError(w, apperrors.ValidationError("watts must be non-negative"))
		return
	}

	assessment, err := s.deps.Accountant.Assess(job)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, assessment)
}
