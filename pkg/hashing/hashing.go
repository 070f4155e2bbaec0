// Package hashing implements KATO's deterministic canonicalization and
// identifier derivation (spec §4.1). Every function here is pure: same
// input always produces the same output, with no clock, randomness, or
// map-iteration-order dependency anywhere in the call chain.
package hashing

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"
	"strings"

	"github.com/sevakavakians/kato/internal/katoerr"
)

const (
	// eventSeparator joins events within a pattern's serialized form.
	// A control character outside the printable range a symbol could
	// plausibly contain.
	eventSeparator = "\x1e"
	// symbolSeparator joins symbols within a single event's serialized
	// form.
	symbolSeparator = "\x1f"

	// PatternPrefix is the external (wire) form prefix for a pattern
	// identifier; the stored form is the bare hex hash.
	PatternPrefix = "PTRN|"
	// VectorPrefix is the synthetic-symbol prefix produced for an
	// embedded vector.
	VectorPrefix = "VCTR|"
)

// CanonicalizeEvent returns symbols deduplicated and sorted
// lexicographically (byte-wise, case-sensitive). It rejects an empty
// symbol list: an event with no symbols cannot exist in stored data.
func CanonicalizeEvent(symbols []string) ([]string, error) {
	if len(symbols) == 0 {
		return nil, katoerr.New(katoerr.InvalidInput, "event has no symbols", nil)
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// HashPattern serializes already-canonicalized events with fixed
// separators and returns the lowercase hex SHA-1 digest. Callers must
// pass events that have already gone through CanonicalizeEvent; this
// function does not re-sort, so it is a pure function of its input's
// byte content.
func HashPattern(events [][]string) (string, error) {
	if len(events) == 0 {
		return "", katoerr.New(katoerr.InvalidInput, "pattern has no events", nil)
	}
	for _, event := range events {
		if len(event) == 0 {
			return "", katoerr.New(katoerr.InvalidInput, "pattern contains an empty event", nil)
		}
	}
	h := sha1.New()
	for i, event := range events {
		if i > 0 {
			h.Write([]byte(eventSeparator))
		}
		h.Write([]byte(strings.Join(event, symbolSeparator)))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashVector serializes a numeric vector with a fixed IEEE-754 byte
// layout (big-endian float64, dimension order preserved) and returns
// the lowercase hex SHA-1 digest.
func HashVector(v []float64) (string, error) {
	if len(v) == 0 {
		return "", katoerr.New(katoerr.InvalidInput, "vector has zero length", nil)
	}
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.BigEndian.PutUint64(buf[i*8:(i+1)*8], math.Float64bits(f))
	}
	sum := sha1.Sum(buf)
	return hex.EncodeToString(sum[:]), nil
}

// PatternExternalID renders a stored bare-hex pattern hash in its
// wire form, e.g. "PTRN|abc123...".
func PatternExternalID(hash string) string { return PatternPrefix + hash }

// VectorSymbol renders a vector hash as a synthetic symbol, e.g.
// "VCTR|abc123...".
func VectorSymbol(hash string) string { return VectorPrefix + hash }

// TotalSymbols counts symbols across all events (duplicates across
// distinct events count individually; a pattern is valid per spec §3
// only when this is >= 2).
func TotalSymbols(events [][]string) int {
	n := 0
	for _, e := range events {
		n += len(e)
	}
	return n
}
