// Package metadatacache implements the Metadata Cache (spec §4.4): a
// fast-path mirror of pattern frequency counters, emotive rolling
// windows, metadata sets, and kb-wide symbol statistics.
package metadatacache

import "context"

// GlobalStats are the kb-wide counters spec §3 defines alongside
// per-symbol statistics.
type GlobalStats struct {
	TotalSymbolsInPatternsFrequencies int64
	TotalUniquePatterns               int64
}

// SymbolStats are the per-symbol counters spec §3 defines.
type SymbolStats struct {
	SymbolFrequency        int64
	PatternMemberFrequency int64
}

// RebuildInput carries the full state needed to repair a drifted
// cache entry from the Pattern Store's durable record (spec §4.4:
// "a repair task is queued to rebuild the cache entry from the store
// on next access").
type RebuildInput struct {
	Frequency      int64
	EmotiveWindows map[string][]float64
	MetadataSets   map[string][]string
}

// Cache is the Metadata Cache contract.
type Cache interface {
	// IncrFrequency increments and returns the new frequency for
	// (kb_id, name).
	IncrFrequency(ctx context.Context, kbID, name string) (int64, error)

	// AppendEmotive pushes one value per key onto that key's FIFO,
	// trimming to persistence entries (oldest dropped first).
	AppendEmotive(ctx context.Context, kbID, name string, emotives map[string]float64, persistence int) error

	// GetEmotiveWindows returns the current FIFO contents per key, in
	// insertion order (oldest first).
	GetEmotiveWindows(ctx context.Context, kbID, name string) (map[string][]float64, error)

	// AppendMetadata unions values into the set stored under key for
	// (kb_id, name).
	AppendMetadata(ctx context.Context, kbID, name, key string, values []string) error

	// GetMetadata returns the current set contents per key.
	GetMetadata(ctx context.Context, kbID, name string) (map[string][]string, error)

	// IncrUniquePatternCount increments kb_id's total_unique_patterns.
	// Callers must only invoke this when a pattern was newly inserted.
	IncrUniquePatternCount(ctx context.Context, kbID string) error

	// IncrSymbolFrequency adds delta to symbol's occurrence count and
	// to the kb-wide total_symbols_in_patterns_frequencies counter.
	IncrSymbolFrequency(ctx context.Context, kbID, symbol string, delta int64) error

	// IncrPatternMemberFrequency adds delta to the count of distinct
	// patterns containing symbol.
	IncrPatternMemberFrequency(ctx context.Context, kbID, symbol string, delta int64) error

	// GetGlobalStats returns kb_id's global counters.
	GetGlobalStats(ctx context.Context, kbID string) (GlobalStats, error)

	// GetSymbolStats returns symbol's per-symbol counters.
	GetSymbolStats(ctx context.Context, kbID, symbol string) (SymbolStats, error)

	// Rebuild overwrites the per-pattern cache entry from a Pattern
	// Store record, used by the repair-task worker.
	Rebuild(ctx context.Context, kbID, name string, in RebuildInput) error

	Close() error
}
