package candidatefilter

import (
	"hash/fnv"
	"sort"
	"strings"
)

// ngramSize is the event-level n-gram width used for the stage-3
// Jaccard pre-score. Bigrams of consecutive events capture event-order
// information that a flat symbol-set overlap would miss, at a fraction
// of full sequence-alignment cost.
const ngramSize = 2

// ngramSignature builds a set of hashed event-level n-grams from an
// event sequence. A pattern shorter than ngramSize yields a single
// signature covering the whole sequence.
func ngramSignature(events [][]string) map[uint64]struct{} {
	sig := make(map[uint64]struct{})
	if len(events) == 0 {
		return sig
	}
	n := ngramSize
	if len(events) < n {
		n = len(events)
	}
	for i := 0; i+n <= len(events); i++ {
		sig[hashEventWindow(events[i:i+n])] = struct{}{}
	}
	return sig
}

func hashEventWindow(window [][]string) uint64 {
	h := fnv.New64a()
	for i, event := range window {
		if i > 0 {
			_, _ = h.Write([]byte{0x1e})
		}
		symbols := append([]string(nil), event...)
		sort.Strings(symbols)
		_, _ = h.Write([]byte(strings.Join(symbols, "\x1f")))
	}
	return h.Sum64()
}

// jaccard estimates overlap between two n-gram signatures. An empty
// union yields 0, never NaN.
func jaccard(a, b map[uint64]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for k := range small {
		if _, ok := large[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
