package qdrant

import (
	"context"
	"sort"
	"sync"

	"github.com/ricesearch/greeneval/internal/judgment"
)

// tieMargin widens each search so equal scores at the cutoff can be
// re-ordered by ordinal before truncation.
const tieMargin = 2

// pointStore is the part of Client used by Index.
type pointStore interface {
	ResetCollection(ctx context.Context, cfg CollectionConfig) error
	UpsertPoints(ctx context.Context, collection string, points []Point, batchSize int) error
	SparseSearch(ctx context.Context, collection string, req SearchRequest) ([]SearchResult, error)
}

type docRef struct {
	id      string
	ordinal int
}

// Index is a judgment.VectorIndex backed by one Qdrant collection.
//
// Vectors are stored as float32, so scores carry float32 precision. Qdrant
// only returns points sharing a term with the query; the index fills the
// rest of each result with score 0 documents in ordinal order, the same
// ranking an exhaustive scan gives.
type Index struct {
	store     pointStore
	cfg       CollectionConfig
	batchSize int

	pass sync.Mutex

	mu     sync.Mutex
	docs   map[string]int
	sorted []docRef
}

// NewIndex creates an index over the named collection.
func NewIndex(client *Client, cfg CollectionConfig) *Index {
	return newIndex(client, cfg)
}

func newIndex(store pointStore, cfg CollectionConfig) *Index {
	return &Index{store: store, cfg: cfg, batchSize: 256, docs: make(map[string]int)}
}

// Lock reserves the collection for one synthesis pass.
func (ix *Index) Lock() { ix.pass.Lock() }

// Unlock releases the collection.
func (ix *Index) Unlock() { ix.pass.Unlock() }

// Reset empties the collection. Sparse vectors need no fixed dimension.
func (ix *Index) Reset(ctx context.Context, dim int) error {
	ix.mu.Lock()
	ix.docs = make(map[string]int)
	ix.sorted = nil
	ix.mu.Unlock()
	return ix.store.ResetCollection(ctx, ix.cfg)
}

// Upsert stores document vectors.
func (ix *Index) Upsert(ctx context.Context, vectors []judgment.IndexedVector) error {
	points := make([]Point, len(vectors))
	for i, v := range vectors {
		points[i] = toPoint(v)
	}
	if err := ix.store.UpsertPoints(ctx, ix.cfg.Name, points, ix.batchSize); err != nil {
		return err
	}

	ix.mu.Lock()
	for _, v := range vectors {
		ix.docs[v.DocID] = v.Ordinal
	}
	ix.sorted = nil
	ix.mu.Unlock()
	return nil
}

// Search returns up to limit documents by descending dot product, clamped
// to [0, 1].
func (ix *Index) Search(ctx context.Context, query judgment.SparseVector, limit int) ([]judgment.ScoredDoc, error) {
	if limit <= 0 {
		return nil, nil
	}

	var hits []judgment.ScoredDoc
	if query.Len() > 0 {
		values := make([]float32, len(query.Values))
		for i, v := range query.Values {
			values[i] = float32(v)
		}
		results, err := ix.store.SparseSearch(ctx, ix.cfg.Name, SearchRequest{
			Indices: query.Indices,
			Values:  values,
			Limit:   uint64(limit * tieMargin),
		})
		if err != nil {
			return nil, err
		}
		hits = make([]judgment.ScoredDoc, 0, len(results))
		for _, r := range results {
			hits = append(hits, judgment.ScoredDoc{
				DocID:   r.DocID,
				Ordinal: r.Ordinal,
				Score:   judgment.ClampUnit(float64(r.Score)),
			})
		}
		judgment.SortScored(hits)
	}

	return ix.fill(hits, limit), nil
}

// fill cuts hits to limit, or tops them up with score 0 documents in
// ordinal order. Hits scoring 0 are re-added by ordinal like the rest.
func (ix *Index) fill(hits []judgment.ScoredDoc, limit int) []judgment.ScoredDoc {
	seen := make(map[string]bool, len(hits))
	n := 0
	for _, h := range hits {
		if h.Score > 0 {
			hits[n] = h
			n++
			seen[h.DocID] = true
		}
	}
	hits = hits[:n]
	if len(hits) >= limit {
		return hits[:limit]
	}

	for _, d := range ix.byOrdinal() {
		if len(hits) >= limit {
			break
		}
		if !seen[d.id] {
			hits = append(hits, judgment.ScoredDoc{DocID: d.id, Ordinal: d.ordinal})
		}
	}
	return hits
}

func (ix *Index) byOrdinal() []docRef {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.sorted == nil {
		ix.sorted = make([]docRef, 0, len(ix.docs))
		for id, ord := range ix.docs {
			ix.sorted = append(ix.sorted, docRef{id: id, ordinal: ord})
		}
		sort.Slice(ix.sorted, func(i, j int) bool { return ix.sorted[i].ordinal < ix.sorted[j].ordinal })
	}
	return ix.sorted
}

func toPoint(v judgment.IndexedVector) Point {
	values := make([]float32, len(v.Vector.Values))
	for i, x := range v.Vector.Values {
		values[i] = float32(x)
	}
	return Point{
		DocID:   v.DocID,
		Ordinal: v.Ordinal,
		Indices: v.Vector.Indices,
		Values:  values,
	}
}
