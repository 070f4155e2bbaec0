// Package metrics implements the Metric Computer (spec §4.8): the
// evidence/confidence/snr/fragmentation/entropy/itfdf_similarity/
// potential/confluence/tfidf_score formulas used to rank predictions,
// all using total frequencies and stats sourced from the Metadata
// Cache.
package metrics

import (
	"math"
	"sort"

	"github.com/sevakavakians/kato/internal/katoerr"
)

// Result is the full set of computed metrics for one prediction.
type Result struct {
	Evidence                float64
	Confidence              float64
	SNR                     float64
	Fragmentation           int
	NormalizedEntropy       float64
	GlobalNormalizedEntropy float64
	ItfdfSimilarity         float64
	Potential               float64
	Confluence              float64
	TFIDFScore              float64
}

// Input carries everything one candidate's metrics need. PresentEvents
// is the candidate's present segment (full events); PresentEventMatch
// flags, one per PresentEvents entry, whether that event contains any
// observed symbol (used for fragmentation's run count).
type Input struct {
	Matches           []string
	Present           []string // unique symbols in the present segment
	PresentEvents     [][]string
	PresentEventMatch []bool
	Extras            []string

	CandidateFrequency              int64
	TotalEnsemblePatternFrequencies int64

	TotalUniquePatterns int64
	// PatternMemberFrequency maps a symbol to the count of distinct
	// patterns containing it, kb-wide (Metadata Cache's per-symbol
	// stat).
	PatternMemberFrequency map[string]int64
}

// Compute evaluates every formula in spec §4.8 for one candidate.
// A zero denominator surfaces an explicit katoerr.Computation error
// with context, with two exceptions: snr is 0 when matches and extras
// are both empty, and potential is 0 when fragmentation is the -1
// sentinel.
func Compute(in Input) (Result, error) {
	if len(in.Present) == 0 {
		return Result{}, katoerr.New(katoerr.Computation, "present segment has no symbols", map[string]interface{}{"matches": len(in.Matches)})
	}

	evidence := float64(len(in.Matches)) / float64(len(in.Present))

	if len(in.PresentEvents) == 0 {
		return Result{}, katoerr.New(katoerr.Computation, "present segment has no events", nil)
	}
	confidence := float64(len(in.Matches)) / float64(len(in.PresentEvents))

	var snr float64
	if denom := len(in.Matches) + len(in.Extras); denom > 0 {
		snr = float64(len(in.Matches)) / float64(denom)
	}

	fragmentation := fragmentationOf(in.PresentEventMatch)

	localProbs := localSymbolProbabilities(in.PresentEvents)
	normalizedEntropy := shannonEntropy(localProbs)

	globalProbs, err := globalSymbolProbabilities(in.Present, in.PatternMemberFrequency, in.TotalUniquePatterns)
	if err != nil {
		return Result{}, err
	}
	globalNormalizedEntropy := shannonEntropy(globalProbs)

	if in.TotalEnsemblePatternFrequencies == 0 {
		return Result{}, katoerr.New(katoerr.Computation, "total ensemble pattern frequency is zero", map[string]interface{}{"candidate_frequency": in.CandidateFrequency})
	}
	distance := 1 - jaccardOfSlices(in.Matches, in.Present)
	itfdfSimilarity := 1 - distance*(float64(in.CandidateFrequency)/float64(in.TotalEnsemblePatternFrequencies))

	var potential float64
	if fragmentation != -1 {
		potential = (evidence+confidence)*snr + itfdfSimilarity + 1/float64(fragmentation+1)
	}

	conditional := meanProbability(globalProbs)
	confluence := evidence * (1 - conditional)

	tfidfScore, err := tfidfOf(in.Present, localProbs, in.PatternMemberFrequency, in.TotalUniquePatterns)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Evidence:                evidence,
		Confidence:              confidence,
		SNR:                     snr,
		Fragmentation:           fragmentation,
		NormalizedEntropy:       normalizedEntropy,
		GlobalNormalizedEntropy: globalNormalizedEntropy,
		ItfdfSimilarity:         itfdfSimilarity,
		Potential:               potential,
		Confluence:              confluence,
		TFIDFScore:              tfidfScore,
	}, nil
}

// fragmentationOf counts non-contiguous matching runs minus one. The
// sentinel -1 is reserved for an empty match-flag slice (a present
// segment with zero observed events), which spec §4.6 already
// discards before a candidate ever reaches the metric computer — kept
// here only as a defensive guard.
func fragmentationOf(matchFlags []bool) int {
	if len(matchFlags) == 0 {
		return -1
	}
	runs := 0
	inRun := false
	for _, matched := range matchFlags {
		if matched && !inRun {
			runs++
			inRun = true
		} else if !matched {
			inRun = false
		}
	}
	if runs == 0 {
		return 0
	}
	return runs - 1
}

func localSymbolProbabilities(events [][]string) map[string]float64 {
	counts := make(map[string]int)
	total := 0
	for _, event := range events {
		for _, sym := range event {
			counts[sym]++
			total++
		}
	}
	probs := make(map[string]float64, len(counts))
	if total == 0 {
		return probs
	}
	for sym, c := range counts {
		probs[sym] = float64(c) / float64(total)
	}
	return probs
}

// globalSymbolProbabilities renormalizes each present symbol's
// kb-wide symbolProbability (pattern_member_frequency / total_unique_
// patterns, per spec §4.8's definition) so the weights sum to 1 and
// the shared entropy formula applies.
func globalSymbolProbabilities(present []string, memberFreq map[string]int64, totalUniquePatterns int64) (map[string]float64, error) {
	if totalUniquePatterns == 0 {
		return nil, katoerr.New(katoerr.Computation, "total_unique_patterns is zero", nil)
	}
	raw := make(map[string]float64, len(present))
	sum := 0.0
	for _, sym := range present {
		p := float64(memberFreq[sym]) / float64(totalUniquePatterns)
		raw[sym] = p
		sum += p
	}
	if sum == 0 {
		return raw, nil
	}
	out := make(map[string]float64, len(raw))
	for sym, p := range raw {
		out[sym] = p / sum
	}
	return out, nil
}

func shannonEntropy(probs map[string]float64) float64 {
	n := len(probs)
	if n <= 1 {
		return 0
	}
	entropy := 0.0
	for _, p := range probs {
		if p <= 0 {
			continue
		}
		entropy -= p * math.Log2(p)
	}
	return entropy / math.Log2(float64(n))
}

func meanProbability(probs map[string]float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	return sum / float64(len(probs))
}

func jaccardOfSlices(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for sym := range setA {
		if _, ok := setB[sym]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

// tfidfOf aggregates per-symbol tf·log2(total_unique_patterns /
// pattern_member_frequency) + 1 by arithmetic mean over the present
// symbols, per spec §4.8's optional rank metric.
func tfidfOf(present []string, localProbs map[string]float64, memberFreq map[string]int64, totalUniquePatterns int64) (float64, error) {
	if len(present) == 0 {
		return 0, nil
	}
	sum := 0.0
	for _, sym := range present {
		mf := memberFreq[sym]
		if mf == 0 {
			return 0, katoerr.New(katoerr.Computation, "pattern_member_frequency is zero for present symbol", map[string]interface{}{"symbol": sym})
		}
		tf := localProbs[sym]
		sum += tf*math.Log2(float64(totalUniquePatterns)/float64(mf)) + 1
	}
	return sum / float64(len(present)), nil
}

// Rank sorts candidates by a configured metric (default "potential"),
// descending, breaking ties by ascending pattern name.
func Rank(names []string, values map[string]float64) []string {
	out := append([]string(nil), names...)
	sort.Slice(out, func(i, j int) bool {
		vi, vj := values[out[i]], values[out[j]]
		if vi != vj {
			return vi > vj
		}
		return out[i] < out[j]
	})
	return out
}
