// Package segmenter implements the Temporal Segmenter (spec §4.7):
// splitting a matched candidate's events into past, present, and
// future, and deriving the missing/extras symbol sets relative to the
// observed events.
package segmenter

import "sort"

// Segments is the temporal split of one matched candidate.
type Segments struct {
	Past    [][]string
	Present [][]string
	Future  [][]string
	Missing []string
	Extras  []string
}

// Segment splits candidateEvents around [firstIndex, lastIndex] (the
// inclusive span of events containing any observed symbol, as
// produced by pkg/matcher) and derives missing/extras against
// observedEvents.
func Segment(candidateEvents [][]string, firstIndex, lastIndex int, observedEvents [][]string) Segments {
	past := candidateEvents[:firstIndex]
	present := candidateEvents[firstIndex : lastIndex+1]
	future := candidateEvents[lastIndex+1:]

	presentSymbols := uniqueSymbols(present)
	observedSymbols := uniqueSymbols(observedEvents)

	return Segments{
		Past:    past,
		Present: present,
		Future:  future,
		Missing: difference(presentSymbols, observedSymbols),
		Extras:  difference(observedSymbols, presentSymbols),
	}
}

func uniqueSymbols(events [][]string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, event := range events {
		for _, sym := range event {
			out[sym] = struct{}{}
		}
	}
	return out
}

func difference(a, b map[string]struct{}) []string {
	out := make([]string, 0)
	for sym := range a {
		if _, ok := b[sym]; !ok {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}
