// Package judgment synthesizes pseudo relevance judgments from TF-IDF
// cosine similarity between queries and documents.
package judgment

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ricesearch/greeneval/internal/dataset"
	"github.com/ricesearch/greeneval/internal/evaluation"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
)

// Mode selects how the term space is built.
type Mode string

const (
	// ModeJoint fits one space over documents and queries together.
	ModeJoint Mode = "joint"

	// ModeProjected fits the space on documents only, stores the document
	// vectors in a VectorIndex and projects queries into it.
	ModeProjected Mode = "projected"
)

// ParseMode parses a mode name. Empty selects ModeJoint.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeJoint, nil
	case ModeJoint, ModeProjected:
		return m, nil
	default:
		return "", fmt.Errorf("unknown judgment mode %q (must be joint or projected)", s)
	}
}

// Defaults.
const (
	DefaultThreshold = 0.3
	DefaultTopK      = 5

	upsertBatchSize = 256
)

// Config holds synthesis parameters.
type Config struct {
	Threshold float64
	TopK      int
	Mode      Mode

	// QueryIDStart is added to a query's position to form its ID.
	QueryIDStart int
}

// DefaultConfig returns the default synthesis parameters.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		TopK:      DefaultTopK,
		Mode:      ModeJoint,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
		return apperrors.ValidationError(fmt.Sprintf("threshold must be a finite number, got %v", c.Threshold))
	}
	if c.TopK < 1 {
		return apperrors.ValidationError(fmt.Sprintf("top_k must be at least 1, got %d", c.TopK))
	}
	if c.QueryIDStart < 0 {
		return apperrors.ValidationError(fmt.Sprintf("query id start must be non-negative, got %d", c.QueryIDStart))
	}
	switch c.Mode {
	case ModeJoint, ModeProjected:
	default:
		return apperrors.ValidationError(fmt.Sprintf("unknown judgment mode %q", c.Mode))
	}
	return nil
}

// Synthesizer produces relevance judgments.
type Synthesizer struct {
	cfg   Config
	index VectorIndex
	log   *logger.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithIndex sets the vector index used in projected mode.
func WithIndex(idx VectorIndex) Option {
	return func(s *Synthesizer) {
		s.index = idx
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Synthesizer) {
		s.log = log
	}
}

// NewSynthesizer creates a synthesizer. Projected mode without an explicit
// index uses a MemoryIndex.
func NewSynthesizer(cfg Config, opts ...Option) (*Synthesizer, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeJoint
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Synthesizer{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Discard()
	}
	if s.cfg.Mode == ModeProjected && s.index == nil {
		s.index = NewMemoryIndex()
	}
	return s, nil
}

// Config returns the synthesizer configuration.
func (s *Synthesizer) Config() Config {
	return s.cfg
}

// Synthesize judges every query against the collection. Judgments are
// ordered query-major, then by similarity descending with collection order
// breaking ties. Every judgment has relevance 1.
func (s *Synthesizer) Synthesize(ctx context.Context, docs *dataset.Collection, queries []string) ([]evaluation.RelevanceJudgment, error) {
	if docs.Len() == 0 {
		return nil, apperrors.ConfigurationError("document collection is empty")
	}

	start := time.Now()
	var (
		ranked [][]ScoredDoc
		err    error
	)
	switch s.cfg.Mode {
	case ModeProjected:
		ranked, err = s.rankProjected(ctx, docs, queries)
	default:
		ranked, err = s.rankJoint(ctx, docs, queries)
	}
	if err != nil {
		return nil, err
	}

	var (
		judgments []evaluation.RelevanceJudgment
		empty     int
	)
	for qi, hits := range ranked {
		qid := strconv.Itoa(qi + s.cfg.QueryIDStart)
		before := len(judgments)
		for _, h := range hits {
			if h.Score >= s.cfg.Threshold {
				judgments = append(judgments, evaluation.RelevanceJudgment{
					QueryID:   qid,
					DocID:     h.DocID,
					Relevance: 1,
				})
			}
		}
		if len(judgments) == before {
			empty++
		}
	}

	if empty > 0 {
		s.log.Debug("Queries without judgments", "count", empty)
	}
	s.log.Info("Judgments synthesized",
		"mode", s.cfg.Mode,
		"documents", docs.Len(),
		"queries", len(queries),
		"judgments", len(judgments),
		"threshold", s.cfg.Threshold,
		"top_k", s.cfg.TopK,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return judgments, nil
}

// rankJoint returns the top_k documents per query in one joint space.
func (s *Synthesizer) rankJoint(ctx context.Context, docs *dataset.Collection, queries []string) ([][]ScoredDoc, error) {
	texts := make([]string, 0, docs.Len()+len(queries))
	texts = append(texts, docs.Texts()...)
	texts = append(texts, queries...)

	space, ok := Fit(texts)
	if !ok {
		return nil, apperrors.ConfigurationError("vocabulary is empty after stop-word removal")
	}

	vectors := space.TransformAll(texts)
	docVecs, queryVecs := vectors[:docs.Len()], vectors[docs.Len():]

	ranked := make([][]ScoredDoc, len(queryVecs))
	for qi, qv := range queryVecs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits := make([]ScoredDoc, len(docVecs))
		for di, dv := range docVecs {
			hits[di] = ScoredDoc{DocID: docs.At(di).ID, Ordinal: di, Score: ClampUnit(Dot(qv, dv))}
		}
		SortScored(hits)
		if len(hits) > s.cfg.TopK {
			hits = hits[:s.cfg.TopK]
		}
		ranked[qi] = hits
	}
	return ranked, nil
}

// rankProjected fits on documents only and answers queries from the index.
func (s *Synthesizer) rankProjected(ctx context.Context, docs *dataset.Collection, queries []string) ([][]ScoredDoc, error) {
	space, ok := Fit(docs.Texts())
	if !ok {
		return nil, apperrors.ConfigurationError("vocabulary is empty after stop-word removal")
	}

	// A shared index holds one collection at a time.
	s.index.Lock()
	defer s.index.Unlock()

	if err := s.index.Reset(ctx, space.Dim()); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnavailable, "reset vector index", err)
	}

	batch := make([]IndexedVector, 0, upsertBatchSize)
	for i := 0; i < docs.Len(); i++ {
		d := docs.At(i)
		batch = append(batch, IndexedVector{DocID: d.ID, Ordinal: i, Vector: space.Transform(d.Contents)})
		if len(batch) == upsertBatchSize || i == docs.Len()-1 {
			if err := s.index.Upsert(ctx, batch); err != nil {
				return nil, apperrors.Wrap(apperrors.CodeUnavailable, "upsert document vectors", err)
			}
			batch = batch[:0]
		}
	}

	ranked := make([][]ScoredDoc, len(queries))
	for qi, q := range queries {
		hits, err := s.index.Search(ctx, space.Transform(q), s.cfg.TopK)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeUnavailable, "search vector index", err)
		}
		SortScored(hits)
		ranked[qi] = hits
	}
	return ranked, nil
}
