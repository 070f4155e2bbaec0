package vectorindex

import (
	"context"
	"sync"

	"github.com/coder/hnsw"
	"github.com/sirupsen/logrus"

	"github.com/sevakavakians/kato/internal/katoerr"
)

// HNSWClient is the blessed Vector Index Client implementation: one
// HNSW approximate-nearest-neighbor graph per kb_id namespace. Each
// graph is independent, so a drop_collection on one kb_id never
// touches another's index.
type HNSWClient struct {
	logger *logrus.Logger

	mu        sync.RWMutex
	graphs    map[string]*hnsw.Graph[string]
	dimension map[string]int
}

// NewHNSWClient constructs an empty HNSW-backed vector index.
func NewHNSWClient(logger *logrus.Logger) *HNSWClient {
	return &HNSWClient{
		logger:    logger,
		graphs:    make(map[string]*hnsw.Graph[string]),
		dimension: make(map[string]int),
	}
}

func (c *HNSWClient) graphFor(kbID string, dim int) (*hnsw.Graph[string], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.dimension[kbID]; ok && existing != dim {
		return nil, katoerr.New(katoerr.InvalidInput, "vector dimension mismatch for kb", map[string]interface{}{
			"kb_id": kbID, "expected": existing, "got": dim,
		})
	}
	g, ok := c.graphs[kbID]
	if !ok {
		g = hnsw.NewGraph[string]()
		c.graphs[kbID] = g
		c.dimension[kbID] = dim
	}
	return g, nil
}

func (c *HNSWClient) Upsert(_ context.Context, kbID, symbol string, vector []float64) error {
	if symbol == "" {
		return katoerr.New(katoerr.InvalidInput, "synthetic symbol cannot be empty", nil)
	}
	if len(vector) == 0 {
		return katoerr.New(katoerr.InvalidInput, "vector cannot be empty", nil)
	}
	g, err := c.graphFor(kbID, len(vector))
	if err != nil {
		return err
	}
	g.Add(hnsw.Node[string]{Key: symbol, Value: toFloat32(vector)})
	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{"kb_id": kbID, "symbol": symbol}).Debug("vector upserted into hnsw graph")
	}
	return nil
}

func (c *HNSWClient) Search(_ context.Context, kbID string, vector []float64, k int) ([]SearchResult, error) {
	if len(vector) == 0 {
		return nil, katoerr.New(katoerr.InvalidInput, "query vector cannot be empty", nil)
	}
	if k <= 0 {
		return nil, katoerr.New(katoerr.InvalidInput, "k must be positive", map[string]interface{}{"k": k})
	}

	c.mu.RLock()
	g, ok := c.graphs[kbID]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	hits := g.Search(toFloat32(vector), k)
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, SearchResult{Symbol: h.Key, Score: cosineSimilarity32(toFloat32(vector), h.Value)})
	}
	return results, nil
}

func (c *HNSWClient) DropCollection(_ context.Context, kbID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.graphs, kbID)
	delete(c.dimension, kbID)
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func cosineSimilarity32(a, b []float32) float64 {
	af := make([]float64, len(a))
	bf := make([]float64, len(b))
	for i := range a {
		af[i] = float64(a[i])
	}
	for i := range b {
		bf[i] = float64(b[i])
	}
	return cosineSimilarity(af, bf)
}
