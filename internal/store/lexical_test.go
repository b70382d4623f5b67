package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both backends must satisfy the same contract; run the shared suite
// against each.
func lexicalBackends(t *testing.T) map[string]LexicalIndex {
	t.Helper()

	sqlite, err := NewSQLiteLexicalIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	blv, err := NewBleveLexicalIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = blv.Close() })

	return map[string]LexicalIndex{"sqlite": sqlite, "bleve": blv}
}

func seedLexical(t *testing.T, idx LexicalIndex) {
	t.Helper()
	err := idx.Index(context.Background(), []*LexicalDoc{
		{ID: "h1", Content: "MARA: We need to talk about the confrontation at the docks."},
		{ID: "h2", Content: "Rain hammers the warehouse roof. A confrontation is coming."},
		{ID: "h3", Content: "JOEL: Pass the salt."},
	})
	require.NoError(t, err)
}

func TestLexicalIndex_SearchNormalizedScores(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedLexical(t, idx)

			results, err := idx.Search(context.Background(), "confrontation", 10)
			require.NoError(t, err)
			require.NotEmpty(t, results)

			// Best match is normalized to 1.0; everything is in [0,1].
			assert.InDelta(t, 1.0, results[0].Score, 1e-9)
			for _, r := range results {
				assert.GreaterOrEqual(t, r.Score, 0.0)
				assert.LessOrEqual(t, r.Score, 1.0)
				assert.NotEqual(t, "h3", r.ID)
			}
		})
	}
}

func TestLexicalIndex_NoMatches(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedLexical(t, idx)

			results, err := idx.Search(context.Background(), "zeppelin", 10)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestLexicalIndex_Reindex(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedLexical(t, idx)

			// Replacing a document's content drops its old terms.
			err := idx.Index(context.Background(), []*LexicalDoc{
				{ID: "h3", Content: "JOEL: The docks are compromised."},
			})
			require.NoError(t, err)

			results, err := idx.Search(context.Background(), "docks", 10)
			require.NoError(t, err)

			ids := make([]string, 0, len(results))
			for _, r := range results {
				ids = append(ids, r.ID)
			}
			assert.Contains(t, ids, "h3")

			results, err = idx.Search(context.Background(), "salt", 10)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestLexicalIndex_Delete(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedLexical(t, idx)

			require.NoError(t, idx.Delete(context.Background(), []string{"h1", "h2"}))

			results, err := idx.Search(context.Background(), "confrontation", 10)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestLexicalIndex_AllIDs(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedLexical(t, idx)

			ids, err := idx.AllIDs()
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"h1", "h2", "h3"}, ids)
		})
	}
}

func TestSQLiteLexical_MalformedQueryIsEmpty(t *testing.T) {
	idx, err := NewSQLiteLexicalIndex("")
	require.NoError(t, err)
	defer idx.Close()
	seedLexical(t, idx)

	// Punctuation-only queries tokenize to nothing.
	results, err := idx.Search(context.Background(), `"((*))"`, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNewLexicalIndex_Factory(t *testing.T) {
	idx, err := NewLexicalIndex("", "sqlite")
	require.NoError(t, err)
	assert.IsType(t, &SQLiteLexicalIndex{}, idx)
	_ = idx.Close()

	idx, err = NewLexicalIndex("", "bleve")
	require.NoError(t, err)
	assert.IsType(t, &BleveLexicalIndex{}, idx)
	_ = idx.Close()

	_, err = NewLexicalIndex("", "lucene")
	assert.Error(t, err)
}
