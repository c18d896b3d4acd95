package qdrant

import (
	"context"
	"math"
	"sort"
	"testing"

	"github.com/ricesearch/greeneval/internal/judgment"
)

// fakeStore scores points the way Qdrant does for sparse vectors: float32
// dot products over shared indices, overlapping points only.
type fakeStore struct {
	points map[string]Point
	// override replaces search results when set.
	override []SearchResult
}

func newFakeStore() *fakeStore {
	return &fakeStore{points: make(map[string]Point)}
}

func (f *fakeStore) ResetCollection(ctx context.Context, cfg CollectionConfig) error {
	f.points = make(map[string]Point)
	return nil
}

func (f *fakeStore) UpsertPoints(ctx context.Context, collection string, points []Point, batchSize int) error {
	for _, p := range points {
		f.points[p.DocID] = p
	}
	return nil
}

func (f *fakeStore) SparseSearch(ctx context.Context, collection string, req SearchRequest) ([]SearchResult, error) {
	if f.override != nil {
		return f.override, nil
	}
	var out []SearchResult
	for _, p := range f.points {
		var score float32
		overlap := false
		for qi, idx := range req.Indices {
			for pi, pidx := range p.Indices {
				if idx == pidx {
					score += req.Values[qi] * p.Values[pi]
					overlap = true
				}
			}
		}
		if overlap {
			out = append(out, SearchResult{DocID: p.DocID, Ordinal: p.Ordinal, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocID > out[j].DocID
	})
	if uint64(len(out)) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func vec(pairs ...float64) judgment.SparseVector {
	var v judgment.SparseVector
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Indices = append(v.Indices, uint32(pairs[i]))
		v.Values = append(v.Values, pairs[i+1])
	}
	return v
}

func TestIndex_MatchesMemoryIndex(t *testing.T) {
	ctx := context.Background()
	vectors := []judgment.IndexedVector{
		{DocID: "a", Ordinal: 0, Vector: vec(0, 1)},
		{DocID: "b", Ordinal: 1, Vector: vec(1, 1)},
		{DocID: "c", Ordinal: 2, Vector: vec(0, 0.6, 1, 0.8)},
		{DocID: "d", Ordinal: 3, Vector: vec(2, 1)},
		{DocID: "e", Ordinal: 4, Vector: vec(3, 1)},
	}

	mem := judgment.NewMemoryIndex()
	ix := newIndex(newFakeStore(), DefaultCollectionConfig("test"))
	for _, index := range []judgment.VectorIndex{mem, ix} {
		if err := index.Reset(ctx, 4); err != nil {
			t.Fatal(err)
		}
		if err := index.Upsert(ctx, vectors); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		query judgment.SparseVector
		limit int
	}{
		{"single term", vec(0, 1), 5},
		{"cut inside zeros", vec(1, 1), 3},
		{"cut inside positives", vec(0, 0.6, 1, 0.8), 1},
		{"empty query", judgment.SparseVector{}, 2},
		{"unknown term", vec(9, 1), 5},
		{"limit beyond size", vec(2, 1), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, err := mem.Search(ctx, tt.query, tt.limit)
			if err != nil {
				t.Fatal(err)
			}
			got, err := ix.Search(ctx, tt.query, tt.limit)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(want) {
				t.Fatalf("Search() = %+v, want %+v", got, want)
			}
			for i := range got {
				if got[i].DocID != want[i].DocID || math.Abs(got[i].Score-want[i].Score) > 1e-6 {
					t.Errorf("hit %d = %+v, want %+v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestIndex_ClampsScores(t *testing.T) {
	store := newFakeStore()
	ix := newIndex(store, DefaultCollectionConfig("test"))
	ctx := context.Background()
	ix.Upsert(ctx, []judgment.IndexedVector{
		{DocID: "a", Ordinal: 0, Vector: vec(0, 1)},
		{DocID: "b", Ordinal: 1, Vector: vec(0, 1)},
	})
	store.override = []SearchResult{
		{DocID: "b", Ordinal: 1, Score: 1.0000001},
		{DocID: "a", Ordinal: 0, Score: 1.0000001},
	}

	hits, err := ix.Search(ctx, vec(0, 1), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].DocID != "a" || hits[0].Score != 1 || hits[1].Score != 1 {
		t.Errorf("Search() = %+v, want both clamped to 1 in ordinal order", hits)
	}
}

func TestIndex_ResetForgetsDocuments(t *testing.T) {
	ix := newIndex(newFakeStore(), DefaultCollectionConfig("test"))
	ctx := context.Background()
	ix.Upsert(ctx, []judgment.IndexedVector{{DocID: "old", Ordinal: 0, Vector: vec(0, 1)}})
	ix.Reset(ctx, 1)
	ix.Upsert(ctx, []judgment.IndexedVector{{DocID: "new", Ordinal: 0, Vector: vec(1, 1)}})

	hits, _ := ix.Search(ctx, vec(0, 1), 5)
	if len(hits) != 1 || hits[0].DocID != "new" || hits[0].Score != 0 {
		t.Errorf("Search() = %+v, want only new with score 0", hits)
	}
}
