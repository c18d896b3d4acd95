package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// pointNamespace scopes the name-based UUIDs derived from document IDs.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("greeneval/documents"))

// PointID returns the deterministic point UUID for a document ID.
func PointID(docID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(docID)).String()
}

// UpsertPoints writes points in batches of batchSize and waits for each
// batch to be indexed.
func (c *Client) UpsertPoints(ctx context.Context, collection string, points []Point, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 256
	}
	for start := 0; start < len(points); start += batchSize {
		end := min(start+batchSize, len(points))
		if err := c.upsertBatch(ctx, collection, points[start:end]); err != nil {
			return fmt.Errorf("points %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (c *Client) upsertBatch(ctx context.Context, collection string, points []Point) error {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = pointToQdrant(p)
	}
	_, err = c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName(collection),
		Points:         structs,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return unavailable("upsert", err)
	}
	return nil
}

// CountPoints returns the exact number of points in a collection.
func (c *Client) CountPoints(ctx context.Context, collection string) (uint64, error) {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer done()

	n, err := c.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collectionName(collection),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

func pointToQdrant(p Point) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id: qdrant.NewIDUUID(PointID(p.DocID)),
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vectors{
				Vectors: &qdrant.NamedVectors{
					Vectors: map[string]*qdrant.Vector{
						SparseVectorName: {
							Data:    p.Values,
							Indices: &qdrant.SparseIndices{Data: p.Indices},
						},
					},
				},
			},
		},
		Payload: qdrant.NewValueMap(map[string]any{
			"doc_id":  p.DocID,
			"ordinal": int64(p.Ordinal),
		}),
	}
}
