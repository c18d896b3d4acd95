// Package store persists experiment run reports.
// A run is one search and evaluate job together with its sustainability cost.
package store

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/sustainability"
)

// Run is the persisted report of one experiment job.
type Run struct {
	ID      string `json:"id"`
	Dataset string `json:"dataset"`

	// Model is the ranking model description, e.g. "bm25(k1=1.2,b=0.75)".
	Model string `json:"model"`

	Metric string  `json:"metric"`
	K      int     `json:"k"`
	Value  float64 `json:"value"`

	// Evaluated is the number of queries that contributed to Value.
	Evaluated int `json:"evaluated"`

	Seconds    float64              `json:"seconds"`
	Kilojoules float64              `json:"kilojoules"`
	JSC        sustainability.Range `json:"jsc"`
	ASC        sustainability.Range `json:"asc"`
	SCR        sustainability.Range `json:"scr"`

	CreatedAt time.Time `json:"created_at"`
}

// NewRun creates a run with a fresh ID and creation time.
func NewRun(dataset, model string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Dataset:   dataset,
		Model:     model,
		CreatedAt: time.Now().UTC(),
	}
}

// ApplyAssessment copies a cost assessment onto the run.
func (r *Run) ApplyAssessment(a sustainability.Assessment) {
	r.Seconds = a.Seconds
	r.Kilojoules = a.Kilojoules
	r.JSC = a.JSC
	r.ASC = a.ASC
	r.SCR = a.SCR
}

// Validate checks that the run can be stored.
func (r *Run) Validate() error {
	if r.ID == "" {
		return apperrors.ValidationError("run id is required")
	}
	if r.Dataset == "" {
		return apperrors.ValidationError("run dataset is required")
	}
	if r.K < 0 {
		return apperrors.ValidationError("run k must be non-negative")
	}
	if r.CreatedAt.IsZero() {
		return apperrors.ValidationError("run created_at is required")
	}
	return nil
}

// ListOptions filters List results.
type ListOptions struct {
	// Dataset restricts results to one dataset when set.
	Dataset string

	// Limit caps the number of runs returned. Zero means no limit.
	Limit int
}

func (o ListOptions) matches(r *Run) bool {
	return o.Dataset == "" || r.Dataset == o.Dataset
}
