// Package patternstore implements the durable Pattern Store (spec
// §4.3): persistence of patterns keyed by (kb_id, name), with
// insert-or-increment semantics and rolling emotive/metadata
// accumulation.
package patternstore

import "context"

// Record is a persisted pattern (spec §3 Pattern Record). Events is
// the source of truth for reconstruction; Name is a pure function of
// Events per pkg/hashing.
type Record struct {
	KBID           string
	Name           string // bare hex hash, stored form
	Events         [][]string
	Length         int
	Frequency      int
	EmotiveWindows map[string][]float64      // per-emotive bounded FIFO, oldest first
	MetadataSets   map[string]map[string]bool // per-key set of string-coerced values
}

// PutInput describes one learning event's contribution to a pattern.
type PutInput struct {
	Name        string
	Events      [][]string
	Length      int
	Emotives    map[string]float64    // this learning's per-key arithmetic mean
	Metadata    map[string][]string   // this learning's string-coerced values to union in, per key
	Persistence int                   // emotive window size (spec §6 persistence)
}

// Store is the Pattern Store contract (spec §4.3).
type Store interface {
	// Put inserts a new record or increments an existing one's
	// frequency, appending emotive averages and unioning metadata.
	// created reports whether (kb_id, name) was newly inserted.
	Put(ctx context.Context, kbID string, in PutInput) (created bool, err error)

	// Get returns the full record or a NotFound error.
	Get(ctx context.Context, kbID, name string) (*Record, error)

	// GetBatch returns records in the same order as names; a missing
	// name yields a nil entry at that position, not an error.
	GetBatch(ctx context.Context, kbID string, names []string) ([]*Record, error)

	// QueryByLength streams records whose Length falls in
	// [minLength, maxLength]. The returned channel is closed when
	// the stream ends; errs carries at most one terminal error.
	QueryByLength(ctx context.Context, kbID string, minLength, maxLength int) (<-chan *Record, <-chan error)

	Close() error
}
