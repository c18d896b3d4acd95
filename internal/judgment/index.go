package judgment

import (
	"context"
	"sort"
	"sync"
)

// IndexedVector is a document vector stored in a VectorIndex.
// Ordinal is the document's position in its collection.
type IndexedVector struct {
	DocID   string
	Ordinal int
	Vector  SparseVector
}

// ScoredDoc is a similarity hit returned by a VectorIndex.
type ScoredDoc struct {
	DocID   string
	Ordinal int
	Score   float64
}

// VectorIndex stores document vectors of one fitted space and answers
// nearest-neighbour queries by inner product.
type VectorIndex interface {
	// Reset drops any stored vectors and prepares for a space of dim terms.
	Reset(ctx context.Context, dim int) error

	// Upsert stores document vectors.
	Upsert(ctx context.Context, vectors []IndexedVector) error

	// Search returns up to limit documents ordered by score descending,
	// equal scores by ordinal. Scores lie in [0, 1]. Documents sharing no
	// term with the query are returned with score 0 after all others.
	Search(ctx context.Context, query SparseVector, limit int) ([]ScoredDoc, error)

	// Lock reserves the index for one Reset, Upsert, Search pass. Calls
	// from other passes block until Unlock.
	Lock()
	Unlock()
}

// MemoryIndex is an in-process VectorIndex with exhaustive scoring.
type MemoryIndex struct {
	pass sync.Mutex

	mu      sync.RWMutex
	vectors []IndexedVector
	pos     map[string]int
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{pos: make(map[string]int)}
}

// Lock implements VectorIndex.
func (m *MemoryIndex) Lock() { m.pass.Lock() }

// Unlock implements VectorIndex.
func (m *MemoryIndex) Unlock() { m.pass.Unlock() }

// Reset implements VectorIndex.
func (m *MemoryIndex) Reset(ctx context.Context, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors = nil
	m.pos = make(map[string]int)
	return nil
}

// Upsert implements VectorIndex.
func (m *MemoryIndex) Upsert(ctx context.Context, vectors []IndexedVector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range vectors {
		if i, ok := m.pos[v.DocID]; ok {
			m.vectors[i] = v
			continue
		}
		m.pos[v.DocID] = len(m.vectors)
		m.vectors = append(m.vectors, v)
	}
	return nil
}

// Search implements VectorIndex.
func (m *MemoryIndex) Search(ctx context.Context, query SparseVector, limit int) ([]ScoredDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	hits := make([]ScoredDoc, len(m.vectors))
	for i, v := range m.vectors {
		hits[i] = ScoredDoc{DocID: v.DocID, Ordinal: v.Ordinal, Score: ClampUnit(Dot(query, v.Vector))}
	}
	m.mu.RUnlock()

	SortScored(hits)
	if limit >= 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Len returns the number of stored vectors.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// SortScored orders hits by score descending, then ordinal ascending.
func SortScored(hits []ScoredDoc) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Ordinal < hits[j].Ordinal
	})
}
