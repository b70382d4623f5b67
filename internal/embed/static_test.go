package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()
	ctx := context.Background()

	v1, err := e.Embed(ctx, "SARAH enters the warehouse, gun drawn.")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "SARAH enters the warehouse, gun drawn.")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
}

func TestStaticEmbedder_Dimensions(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	v, err := e.Embed(context.Background(), "some action line")
	require.NoError(t, err)
	assert.Len(t, v, StaticDimensions)
	assert.Equal(t, StaticDimensions, e.Dimensions())
}

func TestStaticEmbedder_Normalized(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	v, err := e.Embed(context.Background(), "The detective examines the ledger under lamplight.")
	require.NoError(t, err)

	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-5)
}

func TestStaticEmbedder_EmptyInput(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	v, err := e.Embed(context.Background(), "   \n\t  ")
	require.NoError(t, err)
	assert.Len(t, v, StaticDimensions)
	for _, val := range v {
		assert.Zero(t, val)
	}
}

func TestStaticEmbedder_DifferentTexts(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()
	ctx := context.Background()

	v1, err := e.Embed(ctx, "A quiet conversation over coffee.")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "Gunfire erupts across the rooftop.")
	require.NoError(t, err)

	assert.NotEqual(t, v1, v2)
}

func TestStaticEmbedder_EmbedBatch(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()
	ctx := context.Background()

	texts := []string{"first scene", "second scene", "third scene"}
	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))

	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestStaticEmbedder_Closed(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "anything")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestFilterStopWords(t *testing.T) {
	tokens := []string{"int", "warehouse", "the", "night", "sarah"}
	filtered := filterStopWords(tokens)
	assert.Equal(t, []string{"warehouse", "sarah"}, filtered)
}

func TestExtractNgrams(t *testing.T) {
	assert.Equal(t, []string{"war", "are", "reh"}, extractNgrams("wareh", 3))
	assert.Empty(t, extractNgrams("ab", 3))
}
