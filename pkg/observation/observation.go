// Package observation implements observation validation and the
// string/vector canonicalization fan-out that feeds the Session/STM
// manager's observe step (spec §3 Observation, §4.9 steps 1-3).
package observation

import (
	"context"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/sevakavakians/kato/internal/katoerr"
	"github.com/sevakavakians/kato/pkg/hashing"
	"github.com/sevakavakians/kato/pkg/vectorindex"
)

// Observation is the raw per-step input (spec §3). Emotives and
// Metadata are optional.
type Observation struct {
	Strings  []string    `validate:"dive,required"`
	Vectors  [][]float64 `validate:"dive,min=1"`
	Emotives map[string]float64
	Metadata map[string]interface{}
}

var validate = validator.New()

// Validate rejects a malformed observation: empty overall (no strings
// and no vectors), an empty string entry, or a zero-length vector.
func Validate(obs Observation) error {
	if len(obs.Strings) == 0 && len(obs.Vectors) == 0 {
		return katoerr.New(katoerr.InvalidInput, "observation has no strings or vectors", nil)
	}
	if err := validate.Struct(obs); err != nil {
		return katoerr.Wrap(katoerr.InvalidInput, err, "observation failed validation", nil)
	}
	return nil
}

// similarityThreshold is the minimum score (inclusive) a new vector's
// nearest existing synthetic symbol must reach before observe() substitutes the
// existing symbol instead of minting a new one (spec §4.9 step 2:
// "repeated near-identical vectors collapse to the same symbol").
const similarityThreshold = 0.98

// Canonicalize upserts each of obs.Vectors into the vector index
// under kb_id, substituting an existing nearby synthetic symbol when
// one scores at or above similarityThreshold, then returns the canonicalized
// event: user strings plus synthetic vector symbols, deduplicated and
// sorted (spec §4.9 step 3).
func Canonicalize(ctx context.Context, client vectorindex.Client, kbID string, obs Observation) ([]string, error) {
	symbols := append([]string(nil), obs.Strings...)

	for _, vector := range obs.Vectors {
		symbol, err := resolveVectorSymbol(ctx, client, kbID, vector)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, symbol)
	}

	return hashing.CanonicalizeEvent(symbols)
}

// resolveGroup collapses concurrent resolves of byte-identical vectors
// within the same kb_id into a single search-or-upsert round trip:
// two sessions observing the same embedding at the same instant must
// not race to upsert two different synthetic symbols for it.
var resolveGroup singleflight.Group

func resolveVectorSymbol(ctx context.Context, client vectorindex.Client, kbID string, vector []float64) (string, error) {
	hash, err := hashing.HashVector(vector)
	if err != nil {
		return "", err
	}

	result, err, _ := resolveGroup.Do(kbID+"|"+hash, func() (interface{}, error) {
		if hits, err := client.Search(ctx, kbID, vector, 1); err != nil {
			return nil, err
		} else if len(hits) > 0 && hits[0].Score >= similarityThreshold {
			return hits[0].Symbol, nil
		}

		symbol := hashing.VectorSymbol(hash)
		if err := client.Upsert(ctx, kbID, symbol, vector); err != nil {
			return nil, err
		}
		return symbol, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}
