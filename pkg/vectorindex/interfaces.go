// Package vectorindex adapts KATO to a pluggable nearest-neighbor
// vector service (spec §4.2). The core never computes embeddings and
// never mixes vectors across kb_id namespaces; this package is the
// only place that talks to the ANN backend.
package vectorindex

import "context"

// SearchResult is one hit from Search, ordered by descending Score.
type SearchResult struct {
	Symbol string
	Score  float64
}

// Client is the Vector Index Client contract. Implementations own
// collection-per-kb_id isolation internally.
type Client interface {
	// Upsert writes vector under synthetic symbol within kb_id's
	// namespace, creating the namespace on first use.
	Upsert(ctx context.Context, kbID, symbol string, vector []float64) error

	// Search returns up to k nearest neighbors to vector within
	// kb_id's namespace, ordered by descending score.
	Search(ctx context.Context, kbID string, vector []float64, k int) ([]SearchResult, error)

	// DropCollection deletes kb_id's entire namespace.
	DropCollection(ctx context.Context, kbID string) error
}
