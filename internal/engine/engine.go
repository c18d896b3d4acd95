package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/ricesearch/greeneval/internal/evaluation"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
)

// DefaultTopK is the number of hits requested per query.
const DefaultTopK = 10

// Engine produces ranked lists. Hits come back sorted by descending score
// and are never re-ranked by the caller.
type Engine interface {
	Search(ctx context.Context, index string, model RankingModel, query string, topK int) ([]evaluation.Hit, error)
}

// Indexer builds an engine index from a directory of JSON documents.
type Indexer interface {
	BuildIndex(ctx context.Context, corpusDir, index string) error
}

// SearchRequest describes one batch of queries against an index.
type SearchRequest struct {
	Index        string
	Model        RankingModel
	Queries      []string
	TopK         int
	QueryIDStart int
}

// SearchAll runs every query in order and keys the hits by query ID
// (position + QueryIDStart). The first failure aborts the batch.
func SearchAll(ctx context.Context, eng Engine, req SearchRequest, log *logger.Logger) (evaluation.Results, error) {
	if log == nil {
		log = logger.Discard()
	}
	if err := Validate(req.Model); err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	start := time.Now()
	results := make(evaluation.Results, len(req.Queries))
	for i, q := range req.Queries {
		qid := strconv.Itoa(i + req.QueryIDStart)
		hits, err := eng.Search(ctx, req.Index, req.Model, q, topK)
		if err != nil {
			return nil, err
		}
		if len(hits) > topK {
			hits = hits[:topK]
		}
		results[qid] = hits
	}

	log.Info("Search complete",
		"index", req.Index,
		"model", Describe(req.Model),
		"queries", len(req.Queries),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}
