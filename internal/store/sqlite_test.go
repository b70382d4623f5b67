package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/scenedex/internal/scene"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeScenes(t *testing.T, texts ...string) []*scene.Scene {
	t.Helper()
	scenes := make([]*scene.Scene, len(texts))
	for i, text := range texts {
		scenes[i] = &scene.Scene{
			Heading: scene.Heading{
				Raw:       "INT. LOFT - NIGHT",
				Type:      scene.SceneTypeInterior,
				Location:  "LOFT",
				TimeOfDay: "NIGHT",
			},
			Elements: []*scene.Element{
				{Kind: scene.ElementAction, Text: text},
			},
			Span: scene.Span{Text: "INT. LOFT - NIGHT\n\n" + text},
		}
	}
	scene.ComputeHashes(scenes)
	return scenes
}

func TestApplySync_InsertsAndSequences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	scenes := makeScenes(t, "Rain on the window.", "A phone rings.")
	inserted, err := s.ApplySync(ctx, "pilot.fountain", "Pilot", "rev-1", scenes)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	hashes, err := s.SceneHashes(ctx, "pilot.fountain")
	require.NoError(t, err)
	assert.Equal(t, []string{scenes[0].ContentHash, scenes[1].ContentHash}, hashes)

	doc, err := s.GetDocument(ctx, "pilot.fountain")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "rev-1", doc.RevisionMarker)
}

func TestApplySync_ResyncUnchangedInsertsNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	scenes := makeScenes(t, "Rain on the window.")
	_, err := s.ApplySync(ctx, "pilot.fountain", "Pilot", "rev-1", scenes)
	require.NoError(t, err)

	inserted, err := s.ApplySync(ctx, "pilot.fountain", "Pilot", "rev-1", scenes)
	require.NoError(t, err)
	assert.Zero(t, inserted)
}

func TestApplySync_SharedContentAcrossDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	scenes := makeScenes(t, "Identical cold open.")
	_, err := s.ApplySync(ctx, "a.fountain", "A", "r1", scenes)
	require.NoError(t, err)

	// Same content via a second document: insert-or-ignore, no failure,
	// no second scene row.
	inserted, err := s.ApplySync(ctx, "b.fountain", "B", "r1", scenes)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	ref, err := s.PrimaryRef(ctx, scenes[0].ContentHash)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, 0, ref.Ordinal)
}

func TestApplySync_RemovalUnlinksButKeepsScene(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	scenes := makeScenes(t, "Kept.", "Dropped.")
	_, err := s.ApplySync(ctx, "pilot.fountain", "Pilot", "r1", scenes)
	require.NoError(t, err)

	_, err = s.ApplySync(ctx, "pilot.fountain", "Pilot", "r2", scenes[:1])
	require.NoError(t, err)

	hashes, err := s.SceneHashes(ctx, "pilot.fountain")
	require.NoError(t, err)
	assert.Len(t, hashes, 1)

	// Retired scene row survives: other documents may still reference it.
	rec, err := s.GetScene(ctx, scenes[1].ContentHash)
	require.NoError(t, err)
	require.NotNil(t, rec)

	unref, err := s.UnreferencedHashes(ctx, []string{scenes[0].ContentHash, scenes[1].ContentHash})
	require.NoError(t, err)
	assert.Equal(t, []string{scenes[1].ContentHash}, unref)
}

func TestGetScenes_RoundTripsElements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sc := &scene.Scene{
		Heading: scene.Heading{Type: scene.SceneTypeExterior, Location: "ALLEY", TimeOfDay: "DAY", Raw: "EXT. ALLEY - DAY"},
		Elements: []*scene.Element{
			{Kind: scene.ElementAction, Text: "A cat darts past."},
			{Kind: scene.ElementDialogue, Character: "MARA", Parenthetical: "whispering", Text: "Did you see that?"},
		},
		Span: scene.Span{Text: "EXT. ALLEY - DAY\n\nA cat darts past."},
	}
	scene.ComputeHashes([]*scene.Scene{sc})

	_, err := s.ApplySync(ctx, "x.fountain", "X", "r1", []*scene.Scene{sc})
	require.NoError(t, err)

	rec, err := s.GetScene(ctx, sc.ContentHash)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Len(t, rec.Elements, 2)
	assert.Equal(t, scene.ElementDialogue, rec.Elements[1].Kind)
	assert.Equal(t, "MARA", rec.Elements[1].Character)
	assert.Equal(t, "whispering", rec.Elements[1].Parenthetical)
	assert.Equal(t, scene.SceneTypeExterior, rec.Heading.Type)
}

func TestMetadata_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMetadata(ctx, "hash-1", "themes", json.RawMessage(`["loss","rain"]`), "theme-agent"))
	require.NoError(t, s.SaveMetadata(ctx, "hash-1", "characters", json.RawMessage(`["MARA"]`), "cast-agent"))

	meta, err := s.GetMetadata(ctx, "hash-1")
	require.NoError(t, err)
	assert.JSONEq(t, `["loss","rain"]`, string(meta["themes"]))
	assert.JSONEq(t, `["MARA"]`, string(meta["characters"]))
}

func TestMetadata_RejectsMalformedJSON(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveMetadata(context.Background(), "hash-1", "themes", json.RawMessage(`{not json`), "")
	assert.Error(t, err)
}

func TestMetadata_OverwriteIsVersionedPerProperty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMetadata(ctx, "hash-1", "themes", json.RawMessage(`["v1"]`), ""))
	require.NoError(t, s.SaveMetadata(ctx, "hash-1", "themes", json.RawMessage(`["v2"]`), ""))

	meta, err := s.GetMetadata(ctx, "hash-1")
	require.NoError(t, err)
	assert.JSONEq(t, `["v2"]`, string(meta["themes"]))
}

func TestEmbeddingRefs_FixedDimensionPerModel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveEmbeddingRef(ctx, "h1", "model-a", "blobs/h1", 256))
	require.NoError(t, s.SaveEmbeddingRef(ctx, "h2", "model-a", "blobs/h2", 256))

	// A mismatched dimension for the same model is rejected, not coerced.
	err := s.SaveEmbeddingRef(ctx, "h3", "model-a", "blobs/h3", 128)
	assert.Error(t, err)

	dims, err := s.DimensionsForModel(ctx, "model-a")
	require.NoError(t, err)
	assert.Equal(t, 256, dims)

	refs, err := s.EmbeddingRefs(ctx, "model-a")
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}

func TestState_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	val, err := s.GetState(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, s.SetState(ctx, "last_sync", "2026-08-29"))
	val, err = s.GetState(ctx, "last_sync")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-29", val)
}

func TestMigrations_ReopenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	s1, err := NewSQLiteStore(path)
	require.NoError(t, err)

	scenes := makeScenes(t, "Persisted across reopen.")
	_, err = s1.ApplySync(context.Background(), "p.fountain", "P", "r1", scenes)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Reopening re-runs migrations; existing hash-keyed data is untouched.
	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	hashes, err := s2.SceneHashes(context.Background(), "p.fountain")
	require.NoError(t, err)
	assert.Len(t, hashes, 1)
}
