package qdrant

import (
	"context"

	"github.com/qdrant/go-client/qdrant"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

// SparseSearch returns up to req.Limit points ranked by dot product with the
// query vector.
func (c *Client) SparseSearch(ctx context.Context, collection string, req SearchRequest) ([]SearchResult, error) {
	if len(req.Indices) == 0 || len(req.Indices) != len(req.Values) {
		return nil, apperrors.ValidationError("sparse query needs matching, non-empty indices and values")
	}
	limit := req.Limit
	if limit == 0 {
		limit = 20
	}

	ctx, done, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	points, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collectionName(collection),
		Query:          qdrant.NewQuerySparse(req.Indices, req.Values),
		Using:          qdrant.PtrOf(SparseVectorName),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, unavailable("sparse search", err)
	}

	results := make([]SearchResult, len(points))
	for i, p := range points {
		results[i] = SearchResult{
			DocID:   p.Payload["doc_id"].GetStringValue(),
			Ordinal: int(p.Payload["ordinal"].GetIntegerValue()),
			Score:   p.Score,
		}
	}
	return results, nil
}
