// Package engine talks to the external search engine that produces the
// ranked lists under evaluation.
package engine

import (
	"fmt"
	"strings"
)

// RankingModel is one of BM25, RM3 or QueryLikelihood. The set is closed:
// the unexported marker method keeps other packages from adding variants.
type RankingModel interface {
	// Name returns the model's wire name.
	Name() string

	rankingModel()
}

// BM25 is Okapi BM25.
type BM25 struct {
	K1 float64 `json:"k1"`
	B  float64 `json:"b"`
}

// RM3 is BM25 with RM3 pseudo-relevance feedback query expansion.
type RM3 struct {
	FBTerms             int     `json:"fb_terms"`
	FBDocs              int     `json:"fb_docs"`
	OriginalQueryWeight float64 `json:"original_query_weight"`
}

// QueryLikelihood is query likelihood with Dirichlet smoothing.
type QueryLikelihood struct {
	Mu float64 `json:"mu"`
}

func (BM25) Name() string            { return "bm25" }
func (RM3) Name() string             { return "rm3-pseudo-relevance" }
func (QueryLikelihood) Name() string { return "query-likelihood" }

func (BM25) rankingModel()            {}
func (RM3) rankingModel()             {}
func (QueryLikelihood) rankingModel() {}

// DefaultBM25 returns k1=1.2, b=0.75.
func DefaultBM25() BM25 {
	return BM25{K1: 1.2, B: 0.75}
}

// DefaultRM3 returns 10 feedback terms from 10 feedback documents at weight 0.5.
func DefaultRM3() RM3 {
	return RM3{FBTerms: 10, FBDocs: 10, OriginalQueryWeight: 0.5}
}

// DefaultQueryLikelihood returns mu=1000.
func DefaultQueryLikelihood() QueryLikelihood {
	return QueryLikelihood{Mu: 1000}
}

// ModelNames lists the accepted model names.
func ModelNames() []string {
	return []string{BM25{}.Name(), RM3{}.Name(), QueryLikelihood{}.Name()}
}

// ParseRankingModel returns the default-parameter model for name.
// "rm3" and "qld" are accepted as short forms.
func ParseRankingModel(name string) (RankingModel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bm25", "":
		return DefaultBM25(), nil
	case "rm3-pseudo-relevance", "rm3":
		return DefaultRM3(), nil
	case "query-likelihood", "qld":
		return DefaultQueryLikelihood(), nil
	default:
		return nil, fmt.Errorf("unknown ranking model %q (must be one of %s)", name, strings.Join(ModelNames(), ", "))
	}
}

// Validate checks model parameters.
func Validate(m RankingModel) error {
	switch m := m.(type) {
	case BM25:
		if m.K1 < 0 || m.B < 0 || m.B > 1 {
			return fmt.Errorf("bm25: k1 must be >= 0 and b within [0,1], got k1=%v b=%v", m.K1, m.B)
		}
	case RM3:
		if m.FBTerms < 1 || m.FBDocs < 1 {
			return fmt.Errorf("rm3: fb_terms and fb_docs must be positive")
		}
		if m.OriginalQueryWeight < 0 || m.OriginalQueryWeight > 1 {
			return fmt.Errorf("rm3: original_query_weight must be within [0,1], got %v", m.OriginalQueryWeight)
		}
	case QueryLikelihood:
		if m.Mu <= 0 {
			return fmt.Errorf("query-likelihood: mu must be positive, got %v", m.Mu)
		}
	case nil:
		return fmt.Errorf("ranking model is required")
	default:
		panic(fmt.Sprintf("engine: unhandled ranking model %T", m))
	}
	return nil
}

// Params returns the model parameters as sent on the wire.
func Params(m RankingModel) map[string]float64 {
	switch m := m.(type) {
	case BM25:
		return map[string]float64{"k1": m.K1, "b": m.B}
	case RM3:
		return map[string]float64{
			"fb_terms":              float64(m.FBTerms),
			"fb_docs":               float64(m.FBDocs),
			"original_query_weight": m.OriginalQueryWeight,
		}
	case QueryLikelihood:
		return map[string]float64{"mu": m.Mu}
	default:
		panic(fmt.Sprintf("engine: unhandled ranking model %T", m))
	}
}

// Describe renders a model with its parameters, e.g. "bm25(k1=1.2,b=0.75)".
func Describe(m RankingModel) string {
	switch m := m.(type) {
	case BM25:
		return fmt.Sprintf("%s(k1=%g,b=%g)", m.Name(), m.K1, m.B)
	case RM3:
		return fmt.Sprintf("%s(fb_terms=%d,fb_docs=%d,original_query_weight=%g)", m.Name(), m.FBTerms, m.FBDocs, m.OriginalQueryWeight)
	case QueryLikelihood:
		return fmt.Sprintf("%s(mu=%g)", m.Name(), m.Mu)
	default:
		panic(fmt.Sprintf("engine: unhandled ranking model %T", m))
	}
}
