package candidatefilter

import (
	"testing"

	"github.com/bits-and-blooms/bloom/v3"
	. "github.com/onsi/gomega"
)

// A candidate passing stage 1 (inverted index) only has to share ONE
// symbol with the observation, so stage 4 has to do real work: most
// observed symbols can miss the candidate's bloom filter and the
// fraction present must still be checked against recall_threshold.
func TestBloomInsufficientOverlap(t *testing.T) {
	g := NewWithT(t)

	filter := bloom.NewWithEstimates(4, 0.01)
	for _, sym := range []string{"a", "b", "c", "d"} {
		filter.AddString(sym)
	}

	// Only "a" is shared; the other three observed symbols are absent
	// from the candidate. 1/4 overlap is well under a 0.5 threshold.
	g.Expect(bloomInsufficientOverlap(filter, []string{"a", "x", "y", "z"}, 0.5)).To(BeTrue())

	// All observed symbols are present: no false negatives, no prune.
	g.Expect(bloomInsufficientOverlap(filter, []string{"a", "b", "c"}, 0.5)).To(BeFalse())

	// Empty observation set never prunes.
	g.Expect(bloomInsufficientOverlap(filter, nil, 0.5)).To(BeFalse())
}
