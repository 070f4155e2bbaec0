// Package testsupport centralizes fixture construction for KATO's test
// suites, mirroring the teacher's pkg/testutil test-data-factory idiom:
// one struct of named Create* builders instead of ad hoc literals
// scattered across _test.go files.
package testsupport

import (
	"github.com/sevakavakians/kato/pkg/hashing"
	"github.com/sevakavakians/kato/pkg/observation"
	"github.com/sevakavakians/kato/pkg/patternstore"
	"github.com/sevakavakians/kato/pkg/session"
)

// Default test values, following the same eliminate-magic-values
// convention the teacher applies to its own fixtures.
const (
	DefaultKBID            = "test-kb"
	DefaultRecallThreshold = 0.1
	DefaultSearchDepth     = 1000
	DefaultPersistence     = 3
)

// Factory builds fixtures for the pattern/memory domain.
type Factory struct{}

// NewFactory constructs a Factory.
func NewFactory() *Factory {
	return &Factory{}
}

// StandardConfig returns a session.Config with deterministic, non-zero
// values set explicitly so tests can assert fields weren't silently
// reset to their zero value. RecallThreshold and SearchDepth equal
// DefaultConfig's; Persistence differs from it.
func (f *Factory) StandardConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.RecallThreshold = DefaultRecallThreshold
	cfg.SearchDepth = DefaultSearchDepth
	cfg.Persistence = DefaultPersistence
	return cfg
}

// RollingConfig returns a session.Config in ROLLING STM mode with the
// given pattern length cap.
func (f *Factory) RollingConfig(maxPatternLength int) session.Config {
	cfg := f.StandardConfig()
	cfg.STMMode = session.STMModeRolling
	cfg.MaxPatternLength = maxPatternLength
	return cfg
}

// StringObservation wraps symbols into a plain string Observation.
func (f *Factory) StringObservation(symbols ...string) observation.Observation {
	return observation.Observation{Strings: symbols}
}

// EmotiveObservation wraps symbols together with a single emotive
// dimension's value, the shape scenario 5's rolling-window tests need.
func (f *Factory) EmotiveObservation(emotiveKey string, value float64, symbols ...string) observation.Observation {
	return observation.Observation{
		Strings:  symbols,
		Emotives: map[string]float64{emotiveKey: value},
	}
}

// VectorObservation wraps a single symbol alongside the vector that
// should resolve to (or mint) its synthetic VCTR|* symbol.
func (f *Factory) VectorObservation(symbol string, vector []float64) observation.Observation {
	return observation.Observation{
		Strings: []string{symbol},
		Vectors: [][]float64{vector},
	}
}

// MetadataObservation wraps symbols together with string-coerced
// key/value metadata.
func (f *Factory) MetadataObservation(metadata map[string]interface{}, symbols ...string) observation.Observation {
	return observation.Observation{
		Strings:  symbols,
		Metadata: metadata,
	}
}

// ThreeEventPattern is the canonical [a,b],[c,d],[e,f] fixture spec.md
// §8's partial-match scenario is built from.
func (f *Factory) ThreeEventPattern() [][]string {
	return [][]string{{"a", "b"}, {"c", "d"}, {"e", "f"}}
}

// PutInputFor builds a patternstore.PutInput for events, with an
// arbitrary but deterministic name derived by the caller (tests that
// exercise the Pattern Store directly, bypassing pkg/session, need a
// name already computed via pkg/hashing).
func (f *Factory) PutInputFor(name string, events [][]string, persistence int) patternstore.PutInput {
	return patternstore.PutInput{
		Name:        name,
		Events:      events,
		Length:      hashing.TotalSymbols(events),
		Persistence: persistence,
	}
}
