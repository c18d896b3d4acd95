package server

import (
	"net/http"
	"strconv"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/store"
)

// RunsHandler serves the run history.
type RunsHandler struct {
	runs store.Storage
}

// NewRunsHandler creates a runs handler. A nil storage answers 503.
func NewRunsHandler(runs store.Storage) *RunsHandler {
	return &RunsHandler{runs: runs}
}

// RegisterRoutes registers run history routes.
func (h *RunsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/runs", h.handleList)
	mux.HandleFunc("GET /v1/runs/{id}", h.handleGet)
	mux.HandleFunc("DELETE /v1/runs/{id}", h.handleDelete)
}

// RunsResponse lists runs newest first.
type RunsResponse struct {
	Runs  []*store.Run `json:"runs"`
	Count int          `json:"count"`
}

func (h *RunsHandler) available(w http.ResponseWriter) bool {
	if h.runs == nil {
		apperrors.WriteError(w, apperrors.ServiceUnavailableError("run store"))
		return false
	}
	return true
}

// handleList handles GET /v1/runs?dataset=&limit=
func (h *RunsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	opts := store.ListOptions{Dataset: r.URL.Query().Get("dataset")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			apperrors.WriteError(w, apperrors.ValidationError("limit must be a non-negative integer"))
			return
		}
		opts.Limit = n
	}

	runs, err := h.runs.List(r.Context(), opts)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	apperrors.WriteJSON(w, http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

// handleGet handles GET /v1/runs/{id}
func (h *RunsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	run, err := h.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, run)
}

// handleDelete handles DELETE /v1/runs/{id}
func (h *RunsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	if err := h.runs.Delete(r.Context(), r.PathValue("id")); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
