// Package qdrant stores TF-IDF document vectors in Qdrant sparse-vector
// collections and answers nearest-neighbour queries against them.
package qdrant

// SparseVectorName is the named sparse vector every collection carries.
const SparseVectorName = "tfidf"

// CollectionConfig defines the configuration for creating a Qdrant collection.
type CollectionConfig struct {
	// Name is the collection name (will be prefixed with CollectionPrefix).
	Name string

	// OnDiskPayload stores payload on disk to save RAM.
	OnDiskPayload bool

	// FullScanThreshold is the collection size below which the sparse index is
	// bypassed for an exact scan.
	FullScanThreshold uint64
}

// DefaultCollectionConfig returns sensible defaults for a document collection.
func DefaultCollectionConfig(name string) CollectionConfig {
	return CollectionConfig{
		Name:              name,
		OnDiskPayload:     false,
		FullScanThreshold: 10000,
	}
}

// Point is one document vector to upsert.
type Point struct {
	// DocID is the collection document ID; the point ID is derived from it.
	DocID string

	// Ordinal is the document's load position, kept for tie-breaking.
	Ordinal int

	// Indices are term IDs in increasing order.
	Indices []uint32

	// Values are the term weights.
	Values []float32
}

// SearchRequest defines parameters for a sparse search.
type SearchRequest struct {
	Indices []uint32
	Values  []float32

	// Limit is the maximum number of results to return.
	Limit uint64
}

// SearchResult represents a single search hit.
type SearchResult struct {
	DocID   string
	Ordinal int
	Score   float32
}
