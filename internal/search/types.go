// Package search implements hybrid retrieval over indexed scenes: a lexical
// full-text pass and a vector similarity pass, fused into one deterministic
// ranking.
package search

import (
	"encoding/json"

	"github.com/Aman-CERP/scenedex/internal/scene"
)

// Default fusion parameters. The weights and boosts are empirical tuning
// knobs; they are configuration, not constants of the algorithm.
const (
	DefaultLexicalWeight       = 0.3
	DefaultVectorWeight        = 0.7
	DefaultBothMatchBoost      = 1.2
	DefaultMetadataBoost       = 1.15
	DefaultSimilarityThreshold = 0.25
	DefaultLimit               = 10

	// candidateMultiplier oversizes the per-pass candidate pools relative
	// to the requested limit, so fusion has enough overlap to work with.
	candidateMultiplier = 4
)

// Options configures one search call.
type Options struct {
	// Limit caps the number of returned results. Defaults to DefaultLimit.
	Limit int

	// LexicalWeight and VectorWeight scale the two passes during fusion.
	// Zero values fall back to the engine defaults.
	LexicalWeight float64
	VectorWeight  float64

	// Filters restricts results by scene structure and metadata.
	Filters Filters
}

// Filters narrows search results. Zero values match everything.
type Filters struct {
	// Character matches scenes whose extracted character list contains the
	// name (case-insensitive).
	Character string

	// Location matches scenes whose heading location contains the value
	// (case-insensitive).
	Location string

	// TimeOfDay matches the heading time-of-day qualifier exactly
	// (case-insensitive).
	TimeOfDay string
}

// empty reports whether no filter is set.
func (f Filters) empty() bool {
	return f.Character == "" && f.Location == "" && f.TimeOfDay == ""
}

// Result is one ranked scene.
type Result struct {
	ContentHash  string
	Score        float64 // Final combined score after boosts
	LexicalScore float64 // Normalized lexical score, 0 if absent from pass
	VectorScore  float64 // Normalized vector score, 0 if absent from pass
	InBoth       bool    // Present in both passes (agreement boost applied)

	Heading      scene.Heading
	Snippet      string // Leading body text of the scene
	DocumentPath string // Primary occurrence
	Ordinal      int    // Position within the primary document
	Metadata     map[string]json.RawMessage
}

// Response is a complete search outcome. Degraded is set when the vector
// pass was unavailable and results are lexical-only.
type Response struct {
	Results  []*Result
	Degraded bool
}
