package search

import (
	"sort"

	"github.com/Aman-CERP/scenedex/internal/store"
)

// fused is an intermediate scored candidate before enrichment.
type fused struct {
	id       string
	lexical  float64
	vector   float64
	combined float64
	inBoth   bool
}

// fuse merges the two candidate pools by weighted sum. A missing side
// contributes 0; a hash present in both pools gets the agreement boost.
// Metadata boosts come later, after fusion, so pass normalization is
// unaffected by them.
func fuse(lexical []*store.LexicalResult, vector []*store.VectorResult, wLex, wVec, bothBoost float64) []*fused {
	byID := make(map[string]*fused, len(lexical)+len(vector))

	for _, r := range lexical {
		byID[r.ID] = &fused{id: r.ID, lexical: r.Score}
	}
	for _, r := range vector {
		f, ok := byID[r.ID]
		if !ok {
			f = &fused{id: r.ID}
			byID[r.ID] = f
		}
		f.vector = float64(r.Similarity)
		f.inBoth = ok
	}

	results := make([]*fused, 0, len(byID))
	for _, f := range byID {
		f.combined = wLex*f.lexical + wVec*f.vector
		if f.inBoth {
			f.combined *= bothBoost
		}
		results = append(results, f)
	}
	return results
}

// normalizeVector rescales vector similarities to [0,1] by dividing by the
// maximum observed similarity in the pool.
func normalizeVector(results []*store.VectorResult) {
	var max float32
	for _, r := range results {
		if r.Similarity > max {
			max = r.Similarity
		}
	}
	if max <= 0 {
		return
	}
	for _, r := range results {
		r.Similarity /= max
	}
}

// rank orders enriched results: combined score descending, then document
// ordinal ascending, then content hash ascending. Fully deterministic for
// identical inputs.
func rank(results []*Result) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Ordinal != b.Ordinal {
			return a.Ordinal < b.Ordinal
		}
		return a.ContentHash < b.ContentHash
	})
}
