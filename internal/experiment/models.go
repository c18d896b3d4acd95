package experiment

import (
	"github.com/ricesearch/greeneval/internal/config"
	"github.com/ricesearch/greeneval/internal/engine"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

var errNoIndexer = apperrors.ValidationError("engine cannot build indexes")

// ModelFromConfig returns the ranking model named by name, or by cfg.Model
// when name is empty, with the parameters configured for that model.
func ModelFromConfig(cfg config.EngineConfig, name string) (engine.RankingModel, error) {
	if name == "" {
		name = cfg.Model
	}
	m, err := engine.ParseRankingModel(name)
	if err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}

	switch m.(type) {
	case engine.BM25:
		m = engine.BM25{K1: cfg.BM25K1, B: cfg.BM25B}
	case engine.RM3:
		m = engine.RM3{
			FBTerms:             cfg.RM3FBTerms,
			FBDocs:              cfg.RM3FBDocs,
			OriginalQueryWeight: cfg.RM3OriginalQueryWeight,
		}
	case engine.QueryLikelihood:
		m = engine.QueryLikelihood{Mu: cfg.QLDMu}
	}
	if err := engine.Validate(m); err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}
	return m, nil
}
