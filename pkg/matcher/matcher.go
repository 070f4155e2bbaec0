// Package matcher implements the Pattern Matcher (spec §4.6):
// per-candidate scoring of matches, the present segment, missing and
// extra symbols, and an approximate similarity used to drop
// candidates before the Temporal Segmenter and Metric Computer ever
// see them.
package matcher

import "sort"

// recallTolerance absorbs the approximation error in similarity —
// spec §8 explicitly forbids tests from asserting exact decimal
// equality of similarity near the recall_threshold boundary, so the
// comparison against threshold always allows this much slack.
const recallTolerance = 0.02

// Match is the per-candidate scoring result.
type Match struct {
	Name       string
	Events     [][]string
	FirstIndex int
	LastIndex  int
	Matches    []string
	Present    []string
	Missing    []string
	Extras     []string
	Similarity float64
}

// MatchCandidate scores one candidate pattern against the observed events.
// ok is false if the candidate should be dropped (empty matches, or
// similarity below recall_threshold - tolerance).
func MatchCandidate(name string, candidateEvents [][]string, observedEvents [][]string, recallThreshold float64) (Match, bool) {
	observedSet := flattenUnique(observedEvents)

	firstIdx, lastIdx := -1, -1
	for i, event := range candidateEvents {
		if eventIntersects(event, observedSet) {
			if firstIdx == -1 {
				firstIdx = i
			}
			lastIdx = i
		}
	}
	if firstIdx == -1 {
		return Match{}, false
	}

	presentEvents := candidateEvents[firstIdx : lastIdx+1]
	presentSet := flattenUnique(presentEvents)

	matches := intersectSorted(observedSet, presentSet)
	if len(matches) == 0 {
		return Match{}, false
	}

	missing := differenceSorted(presentSet, observedSet)
	extras := differenceSorted(observedSet, presentSet)

	similarity := jaccardSimilarity(observedSet, presentSet)
	if similarity < recallThreshold-recallTolerance {
		return Match{}, false
	}

	return Match{
		Name:       name,
		Events:     candidateEvents,
		FirstIndex: firstIdx,
		LastIndex:  lastIdx,
		Matches:    matches,
		Present:    presentSet,
		Missing:    missing,
		Extras:     extras,
		Similarity: similarity,
	}, true
}

func eventIntersects(event []string, observed map[string]struct{}) bool {
	for _, sym := range event {
		if _, ok := observed[sym]; ok {
			return true
		}
	}
	return false
}

func flattenUnique(events [][]string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, event := range events {
		for _, sym := range event {
			out[sym] = struct{}{}
		}
	}
	return out
}

func intersectSorted(a, b map[string]struct{}) []string {
	out := make([]string, 0)
	for sym := range a {
		if _, ok := b[sym]; ok {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

func differenceSorted(a, b map[string]struct{}) []string {
	out := make([]string, 0)
	for sym := range a {
		if _, ok := b[sym]; !ok {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// jaccardSimilarity is the cheap approximation spec §4.6 calls for:
// multiset-of-symbols Jaccard between observed and present. Flattened
// to unique-symbol sets rather than true multisets: repeats within one
// event are already collapsed by canonicalization (§4.1), and a symbol
// that occurs in several events is also counted once here.
func jaccardSimilarity(observed, present map[string]struct{}) float64 {
	if len(observed) == 0 && len(present) == 0 {
		return 0
	}
	intersection := 0
	for sym := range observed {
		if _, ok := present[sym]; ok {
			intersection++
		}
	}
	union := len(observed) + len(present) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
