package candidatefilter

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// MemoryIndex is the in-process Index implementation: per-kb_id
// symbol inverted index plus per-pattern n-gram/bloom metadata, all
// guarded by one index-wide RWMutex shared by every kb_id: a write for
// one kb_id blocks reads and writes for all others while it runs. The
// lock never blocks on the Pattern Store or Vector Index.
type MemoryIndex struct {
	mu sync.RWMutex

	bySymbol  map[string]map[string]map[string]struct{} // kbID -> symbol -> pattern names
	meta      map[string]map[string]PatternMeta         // kbID -> name -> meta
	maxLength map[string]int
}

// NewMemoryIndex constructs an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		bySymbol:  make(map[string]map[string]map[string]struct{}),
		meta:      make(map[string]map[string]PatternMeta),
		maxLength: make(map[string]int),
	}
}

func (idx *MemoryIndex) SymbolPatterns(_ context.Context, kbID, symbol string) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set := idx.bySymbol[kbID][symbol]
	if len(set) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out, nil
}

func (idx *MemoryIndex) PatternMeta(_ context.Context, kbID, name string) (PatternMeta, bool, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	meta, ok := idx.meta[kbID][name]
	return meta, ok, nil
}

func (idx *MemoryIndex) MaxLength(_ context.Context, kbID string) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.maxLength[kbID], nil
}

func (idx *MemoryIndex) IndexPattern(_ context.Context, kbID, name string, events [][]string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	uniqueSymbols := make(map[string]struct{})
	length := 0
	for _, event := range events {
		length += len(event)
		for _, sym := range event {
			uniqueSymbols[sym] = struct{}{}
		}
	}

	symbols := idx.bySymbol[kbID]
	if symbols == nil {
		symbols = make(map[string]map[string]struct{})
		idx.bySymbol[kbID] = symbols
	}
	for sym := range uniqueSymbols {
		names := symbols[sym]
		if names == nil {
			names = make(map[string]struct{})
			symbols[sym] = names
		}
		names[name] = struct{}{}
	}

	n := len(uniqueSymbols)
	if n < 1 {
		n = 1
	}
	filter := bloom.NewWithEstimates(uint(n), 0.01)
	for sym := range uniqueSymbols {
		filter.AddString(sym)
	}

	patterns := idx.meta[kbID]
	if patterns == nil {
		patterns = make(map[string]PatternMeta)
		idx.meta[kbID] = patterns
	}
	patterns[name] = PatternMeta{
		Length:         length,
		NGramSignature: ngramSignature(events),
		Bloom:          filter,
	}

	if length > idx.maxLength[kbID] {
		idx.maxLength[kbID] = length
	}
	return nil
}
