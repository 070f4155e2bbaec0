package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sevakavakians/kato/internal/katoerr"
)

// MemoryClient is the in-memory test double for Client: a flat
// per-kb_id map with brute-force cosine similarity search. It is the
// reference implementation new backend implementations are tested
// against and the default for unit tests that don't need HNSW's
// approximate-search behavior.
type MemoryClient struct {
	logger *logrus.Logger

	mu         sync.RWMutex
	namespaces map[string]map[string][]float64
	dimension  map[string]int
}

// NewMemoryClient constructs an empty in-memory vector index.
func NewMemoryClient(logger *logrus.Logger) *MemoryClient {
	return &MemoryClient{
		logger:     logger,
		namespaces: make(map[string]map[string][]float64),
		dimension:  make(map[string]int),
	}
}

func (m *MemoryClient) Upsert(_ context.Context, kbID, symbol string, vector []float64) error {
	if symbol == "" {
		return katoerr.New(katoerr.InvalidInput, "synthetic symbol cannot be empty", nil)
	}
	if len(vector) == 0 {
		return katoerr.New(katoerr.InvalidInput, "vector cannot be empty", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if dim, ok := m.dimension[kbID]; ok && dim != len(vector) {
		return katoerr.New(katoerr.InvalidInput, "vector dimension mismatch for kb", map[string]interface{}{
			"kb_id": kbID, "expected": dim, "got": len(vector),
		})
	}
	m.dimension[kbID] = len(vector)

	ns, ok := m.namespaces[kbID]
	if !ok {
		ns = make(map[string][]float64)
		m.namespaces[kbID] = ns
	}
	cp := append([]float64(nil), vector...)
	ns[symbol] = cp

	if m.logger != nil {
		m.logger.WithFields(logrus.Fields{"kb_id": kbID, "symbol": symbol}).Debug("vector upserted")
	}
	return nil
}

func (m *MemoryClient) Search(_ context.Context, kbID string, vector []float64, k int) ([]SearchResult, error) {
	if len(vector) == 0 {
		return nil, katoerr.New(katoerr.InvalidInput, "query vector cannot be empty", nil)
	}
	if k <= 0 {
		return nil, katoerr.New(katoerr.InvalidInput, "k must be positive", map[string]interface{}{"k": k})
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ns := m.namespaces[kbID]
	results := make([]SearchResult, 0, len(ns))
	for symbol, v := range ns {
		if len(v) != len(vector) {
			continue
		}
		results = append(results, SearchResult{Symbol: symbol, Score: cosineSimilarity(vector, v)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Symbol < results[j].Symbol
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (m *MemoryClient) DropCollection(_ context.Context, kbID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, kbID)
	delete(m.dimension, kbID)
	return nil
}

// PatternCount reports the number of vectors stored for kbID, for
// test assertions.
func (m *MemoryClient) PatternCount(kbID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.namespaces[kbID])
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
