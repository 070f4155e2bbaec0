package candidatefilter

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sevakavakians/kato/internal/katoerr"
)

// preScoreTolerance absorbs the n-gram/Jaccard pre-score's estimation
// error against recall_threshold, mirroring the tolerance
// pkg/matcher applies to its own similarity comparison — stage 3 is
// an approximation of the same recall concept, one step earlier in
// the pipeline.
const preScoreTolerance = 0.02

// Run executes the five-stage candidate filter (spec §4.5) against
// observed, the flat sequence of events from the session's current
// STM, and returns the surviving candidates ordered by descending
// pre-score (ties broken by ascending name).
func Run(ctx context.Context, idx Index, kbID string, observed [][]string, cfg Config) ([]Candidate, error) {
	uniqueSymbols := uniqueSortedSymbols(observed)
	if len(uniqueSymbols) == 0 {
		return nil, nil
	}

	candidateNames, err := unionInvertedIndex(ctx, idx, kbID, uniqueSymbols)
	if err != nil {
		return nil, err
	}
	if len(candidateNames) == 0 {
		return nil, nil
	}

	maxLength, err := idx.MaxLength(ctx, kbID)
	if err != nil {
		return nil, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to read kb max pattern length", map[string]interface{}{"kb_id": kbID})
	}
	lo, hi := lengthBounds(len(uniqueSymbols), cfg.RecallThreshold, maxLength)

	observedSignature := ngramSignature(observed)

	survivors := make([]Candidate, 0, len(candidateNames))
	for _, name := range candidateNames {
		meta, ok, err := idx.PatternMeta(ctx, kbID, name)
		if err != nil {
			return nil, katoerr.Wrap(katoerr.CorpusUnavailable, err, "failed to read pattern metadata", map[string]interface{}{"kb_id": kbID, "name": name})
		}
		if !ok {
			continue
		}
		if meta.Length < lo || meta.Length > hi {
			continue
		}
		score := jaccard(observedSignature, meta.NGramSignature)
		if score < cfg.RecallThreshold-preScoreTolerance {
			continue
		}
		if meta.Bloom != nil && bloomInsufficientOverlap(meta.Bloom, uniqueSymbols, cfg.RecallThreshold) {
			continue
		}
		survivors = append(survivors, Candidate{Name: name, PreScore: score})
	}

	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].PreScore != survivors[j].PreScore {
			return survivors[i].PreScore > survivors[j].PreScore
		}
		return survivors[i].Name < survivors[j].Name
	})

	if cfg.SearchDepth > 0 && len(survivors) > cfg.SearchDepth {
		survivors = survivors[:cfg.SearchDepth]
	}
	return survivors, nil
}

// unionInvertedIndex fans the per-symbol inverted-index lookups out
// across goroutines (spec §4.5 stage 1); a cold symbol contributes no
// candidates, a backend failure fails the whole call.
func unionInvertedIndex(ctx context.Context, idx Index, kbID string, symbols []string) ([]string, error) {
	var mu sync.Mutex
	union := make(map[string]struct{})

	g, gctx := errgroup.WithContext(ctx)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			names, err := idx.SymbolPatterns(gctx, kbID, sym)
			if err != nil {
				return katoerr.Wrap(katoerr.CorpusUnavailable, err, "symbol inverted index lookup failed", map[string]interface{}{"kb_id": kbID, "symbol": sym})
			}
			mu.Lock()
			for _, name := range names {
				union[name] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(union))
	for name := range union {
		out = append(out, name)
	}
	return out, nil
}

// lengthBounds enforces spec §4.5 stage 2: a candidate cannot reach
// recall_threshold overlap with the observed symbol set if its length
// falls outside [|S| × recall_threshold, |S| / max(recall_threshold, ε)].
func lengthBounds(observedCount int, recallThreshold float64, maxLength int) (int, int) {
	const epsilon = 1e-6
	lo := int(float64(observedCount) * recallThreshold)
	if lo < 1 {
		lo = 1
	}
	denom := recallThreshold
	if denom < epsilon {
		denom = epsilon
	}
	hi := int(float64(observedCount) / denom)
	if maxLength > 0 && hi > maxLength {
		hi = maxLength
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// bloomInsufficientOverlap reports whether too few observed symbols
// can possibly belong to the candidate to reach recall_threshold
// overlap, per the candidate's own bloom filter. A bloom miss is
// definitive — the symbol is provably absent from the candidate —
// unlike stage 1's inverted-index union, which only guarantees at
// least ONE shared symbol. Checking every symbol individually (rather
// than requiring all of them to miss) is what lets this stage prune
// candidates stage 1 and the n-gram pre-score let through: the
// guaranteed-present symbol from stage 1 will always test positive
// here, so an all-miss test could never fire.
func bloomInsufficientOverlap(filter interface{ TestString(string) bool }, symbols []string, recallThreshold float64) bool {
	if len(symbols) == 0 {
		return false
	}
	maybePresent := 0
	for _, sym := range symbols {
		if filter.TestString(sym) {
			maybePresent++
		}
	}
	return float64(maybePresent)/float64(len(symbols)) < recallThreshold-preScoreTolerance
}

func uniqueSortedSymbols(events [][]string) []string {
	set := make(map[string]struct{})
	for _, event := range events {
		for _, sym := range event {
			set[sym] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
