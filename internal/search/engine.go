package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/scenedex/internal/embed"
	sdxerrors "github.com/Aman-CERP/scenedex/internal/errors"
	"github.com/Aman-CERP/scenedex/internal/scene"
	"github.com/Aman-CERP/scenedex/internal/store"
)

// Config holds the engine's fusion parameters.
type Config struct {
	LexicalWeight       float64
	VectorWeight        float64
	BothMatchBoost      float64
	MetadataBoost       float64
	SimilarityThreshold float64
	MaxResults          int
}

// DefaultConfig returns the default fusion parameters.
func DefaultConfig() Config {
	return Config{
		LexicalWeight:       DefaultLexicalWeight,
		VectorWeight:        DefaultVectorWeight,
		BothMatchBoost:      DefaultBothMatchBoost,
		MetadataBoost:       DefaultMetadataBoost,
		SimilarityThreshold: DefaultSimilarityThreshold,
		MaxResults:          DefaultLimit,
	}
}

// Engine executes hybrid searches: a lexical pass and a vector pass run in
// parallel, fused by weighted sum with an agreement boost. Search is
// read-only and can be cancelled at any point with no side effects.
type Engine struct {
	store    store.IndexStore
	lexical  store.LexicalIndex
	vectors  store.VectorStore
	embedder embed.Embedder
	config   Config
}

// NewEngine creates a search engine. Store and lexical index are required;
// vectors and embedder are optional, and searches run lexical-only (and
// report degradation) without them.
func NewEngine(idx store.IndexStore, lexical store.LexicalIndex, vectors store.VectorStore, embedder embed.Embedder, cfg Config) (*Engine, error) {
	if idx == nil || lexical == nil {
		return nil, sdxerrors.ValidationError("search engine requires index store and lexical index", nil)
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultLimit
	}
	if cfg.BothMatchBoost < 1.0 {
		cfg.BothMatchBoost = 1.0
	}
	if cfg.MetadataBoost < 1.0 {
		cfg.MetadataBoost = 1.0
	}
	return &Engine{
		store:    idx,
		lexical:  lexical,
		vectors:  vectors,
		embedder: embedder,
		config:   cfg,
	}, nil
}

// Search runs a hybrid search. The vector pass failing degrades the search
// to lexical-only, reported via Response.Degraded, never an error. An empty
// query is rejected before any pass runs.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, sdxerrors.New(sdxerrors.ErrCodeQueryEmpty, "search query must not be empty", nil)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = e.config.MaxResults
	}
	wLex, wVec := e.weights(opts)

	lexResults, vecResults, degraded, err := e.parallelSearch(ctx, query, limit*candidateMultiplier, opts.Filters)
	if err != nil {
		return nil, err
	}

	fusedResults := fuse(lexResults, vecResults, wLex, wVec, e.config.BothMatchBoost)

	results, err := e.enrich(ctx, fusedResults)
	if err != nil {
		return nil, err
	}

	// Metadata boosting happens after fusion so pass normalization is
	// unaffected by metadata matches.
	e.applyMetadataBoost(query, results)

	results = applyFilters(results, opts.Filters)

	rank(results)
	if len(results) > limit {
		results = results[:limit]
	}

	return &Response{Results: results, Degraded: degraded}, nil
}

// weights resolves the effective pass weights for one call.
func (e *Engine) weights(opts Options) (wLex, wVec float64) {
	wLex, wVec = e.config.LexicalWeight, e.config.VectorWeight
	if opts.LexicalWeight > 0 || opts.VectorWeight > 0 {
		wLex, wVec = opts.LexicalWeight, opts.VectorWeight
	}
	return wLex, wVec
}

// parallelSearch runs the lexical and vector passes concurrently. A failing
// vector pass degrades to lexical-only; the search errors only when no pass
// produced results.
func (e *Engine) parallelSearch(ctx context.Context, query string, k int, f Filters) (
	lexResults []*store.LexicalResult,
	vecResults []*store.VectorResult,
	degraded bool,
	err error,
) {
	g, gctx := errgroup.WithContext(ctx)
	var lexErr, vecErr error

	g.Go(func() error {
		lexResults, lexErr = e.lexical.Search(gctx, query, k)
		return nil
	})

	g.Go(func() error {
		vecResults, vecErr = e.vectorSearch(gctx, query, k, f)
		return nil
	})

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, false, err
	}

	if vecErr != nil {
		slog.Warn("vector pass unavailable, degrading to lexical-only",
			slog.String("error", vecErr.Error()))
		vecResults = nil
		degraded = true
	}
	if lexErr != nil {
		if vecErr != nil {
			return nil, nil, false, sdxerrors.New(sdxerrors.ErrCodeSearchFailed,
				"both search passes failed", lexErr)
		}
		slog.Warn("lexical pass failed, continuing with vector results",
			slog.String("error", lexErr.Error()))
		lexResults = nil
	}

	return lexResults, vecResults, degraded, nil
}

// vectorSearch embeds the query and runs the similarity pass: metadata
// filters first, then threshold, then normalization by the maximum surviving
// similarity. Filtering before normalization keeps a filtered-out candidate
// from setting the normalization maximum or holding a candidate slot.
func (e *Engine) vectorSearch(ctx context.Context, query string, k int, f Filters) ([]*store.VectorResult, error) {
	if e.vectors == nil || e.embedder == nil {
		return nil, sdxerrors.New(sdxerrors.ErrCodeEmbedderUnavailable,
			"vector search not configured", nil)
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, sdxerrors.New(sdxerrors.ErrCodeEmbedderUnavailable,
			"failed to embed query", err)
	}

	candidates, err := e.vectors.Search(ctx, queryVec, k)
	if err != nil {
		return nil, err
	}
	if !f.empty() {
		candidates, err = e.filterCandidates(ctx, candidates, f)
		if err != nil {
			return nil, err
		}
	}

	results := make([]*store.VectorResult, 0, len(candidates))
	for _, c := range candidates {
		if float64(c.Similarity) >= e.config.SimilarityThreshold {
			results = append(results, c)
		}
	}
	normalizeVector(results)
	return results, nil
}

// filterCandidates drops vector candidates that cannot satisfy the caller's
// filters, looking their headings and metadata up in the index store.
// Candidates unknown to the store are dropped here; enrich would skip them
// anyway.
func (e *Engine) filterCandidates(ctx context.Context, candidates []*store.VectorResult, f Filters) ([]*store.VectorResult, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	hashes := make([]string, len(candidates))
	for i, c := range candidates {
		hashes[i] = c.ID
	}
	records, err := e.store.GetScenes(ctx, hashes)
	if err != nil {
		return nil, err
	}
	metadata, err := e.store.MetadataForHashes(ctx, hashes)
	if err != nil {
		return nil, err
	}

	kept := candidates[:0]
	for _, c := range candidates {
		rec, ok := records[c.ID]
		if !ok {
			continue
		}
		if matchesFilters(f, rec.Heading, metadata[c.ID]) {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// enrich loads scene records, metadata, and primary references for the
// fused candidates.
func (e *Engine) enrich(ctx context.Context, candidates []*fused) ([]*Result, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	hashes := make([]string, len(candidates))
	for i, c := range candidates {
		hashes[i] = c.id
	}

	records, err := e.store.GetScenes(ctx, hashes)
	if err != nil {
		return nil, err
	}
	metadata, err := e.store.MetadataForHashes(ctx, hashes)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(candidates))
	for _, c := range candidates {
		rec, ok := records[c.id]
		if !ok {
			// Index drift: the lexical or vector index knows a hash the
			// relational store does not. Skip rather than fabricate.
			slog.Warn("search hit missing from index store", slog.String("content_hash", c.id))
			continue
		}

		ref, err := e.store.PrimaryRef(ctx, c.id)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			// Unreferenced scenes are not retrievable.
			continue
		}

		results = append(results, &Result{
			ContentHash:  c.id,
			Score:        c.combined,
			LexicalScore: c.lexical,
			VectorScore:  c.vector,
			InBoth:       c.inBoth,
			Heading:      rec.Heading,
			Snippet:      snippet(rec),
			DocumentPath: ref.DocumentPath,
			Ordinal:      ref.Ordinal,
			Metadata:     metadata[c.id],
		})
	}
	return results, nil
}

// applyMetadataBoost multiplies the score of results whose metadata fields
// (character names, location, tags) match the raw query string.
func (e *Engine) applyMetadataBoost(query string, results []*Result) {
	if e.config.MetadataBoost <= 1.0 {
		return
	}
	queryLower := strings.ToLower(query)
	for _, r := range results {
		if metadataMatches(queryLower, r) {
			r.Score *= e.config.MetadataBoost
		}
	}
}

// metadataMatches reports whether the query mentions one of the scene's
// metadata fields: an extracted character name, the heading location, or
// any extracted string tag.
func metadataMatches(queryLower string, r *Result) bool {
	if loc := strings.ToLower(r.Heading.Location); loc != "" && strings.Contains(queryLower, loc) {
		return true
	}
	for _, name := range stringValues(r.Metadata) {
		if name != "" && strings.Contains(queryLower, strings.ToLower(name)) {
			return true
		}
	}
	return false
}

// stringValues flattens string and []string metadata values.
func stringValues(metadata map[string]json.RawMessage) []string {
	var values []string
	for _, raw := range metadata {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			values = append(values, s)
			continue
		}
		var list []string
		if json.Unmarshal(raw, &list) == nil {
			values = append(values, list...)
		}
	}
	return values
}

// applyFilters drops results not matching the caller's filters. The vector
// pass already filters its own candidates; this covers the lexical side.
func applyFilters(results []*Result, f Filters) []*Result {
	if f.empty() {
		return results
	}

	filtered := results[:0]
	for _, r := range results {
		if matchesFilters(f, r.Heading, r.Metadata) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// matchesFilters evaluates the filter predicate against a scene's heading
// and extracted metadata.
func matchesFilters(f Filters, heading scene.Heading, metadata map[string]json.RawMessage) bool {
	if f.Location != "" && !strings.Contains(strings.ToLower(heading.Location), strings.ToLower(f.Location)) {
		return false
	}
	if f.TimeOfDay != "" && !strings.EqualFold(heading.TimeOfDay, f.TimeOfDay) {
		return false
	}
	if f.Character != "" && !hasCharacter(metadata, f.Character) {
		return false
	}
	return true
}

// hasCharacter checks the scene's extracted character list for a name.
func hasCharacter(metadata map[string]json.RawMessage, name string) bool {
	raw, ok := metadata["characters"]
	if !ok {
		return false
	}
	var characters []string
	if err := json.Unmarshal(raw, &characters); err != nil {
		return false
	}
	for _, c := range characters {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// snippet returns the leading body text of a scene for result display.
func snippet(rec *store.SceneRecord) string {
	body := (&scene.Scene{Elements: rec.Elements}).Text()
	const max = 160
	if len(body) <= max {
		return body
	}
	cut := strings.LastIndexByte(body[:max], ' ')
	if cut <= 0 {
		cut = max
	}
	return body[:cut] + "…"
}
