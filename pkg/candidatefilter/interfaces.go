// Package candidatefilter implements the multi-stage candidate filter
// (spec §4.5): the narrowing pipeline a predict call runs before the
// Pattern Matcher ever sees a candidate, so that a kb with millions of
// patterns never pays full-corpus scoring cost per prediction.
package candidatefilter

import (
	"context"

	"github.com/bits-and-blooms/bloom/v3"
)

// PatternMeta is the pre-computed shape the filter needs per pattern:
// length for bucketing, an n-gram signature for the Jaccard pre-score,
// and a bloom filter over unique symbols for the negative-filter stage.
type PatternMeta struct {
	Length         int
	NGramSignature map[uint64]struct{}
	Bloom          *bloom.BloomFilter
}

// Index is the shared, per-kb_id side structure the filter reads and
// writes: the symbol inverted index, bloom/n-gram signatures, and the
// kb-wide max pattern length. It is distinct from the Pattern Store —
// the Store holds durable records; the Index holds derived structures
// purpose-built for fast candidate narrowing.
type Index interface {
	// SymbolPatterns returns the names of patterns known to contain
	// symbol, or an empty slice if the index is cold for it (not an
	// error — spec §4.5's documented "cold symbol" case).
	SymbolPatterns(ctx context.Context, kbID, symbol string) ([]string, error)

	// PatternMeta returns the precomputed metadata for (kb_id, name).
	// ok is false if the pattern is unknown to the index.
	PatternMeta(ctx context.Context, kbID, name string) (PatternMeta, bool, error)

	// MaxLength returns the longest pattern length known for kb_id (0
	// if the kb is empty).
	MaxLength(ctx context.Context, kbID string) (int, error)

	// IndexPattern (re)computes and stores a pattern's derived
	// structures. Called by the Session/STM manager immediately after
	// a successful Pattern Store write.
	IndexPattern(ctx context.Context, kbID, name string, events [][]string) error
}

// Config carries the per-kb_id tunables spec §4.5 and §6 name.
type Config struct {
	SearchDepth     int
	RecallThreshold float64
}

// Candidate is one surviving pattern name with its stage-3 pre-score.
type Candidate struct {
	Name     string
	PreScore float64
}
