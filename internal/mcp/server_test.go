package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/scenedex/internal/config"
	"github.com/Aman-CERP/scenedex/internal/embed"
	"github.com/Aman-CERP/scenedex/internal/embedstore"
	sdxerrors "github.com/Aman-CERP/scenedex/internal/errors"
	"github.com/Aman-CERP/scenedex/internal/fountain"
	"github.com/Aman-CERP/scenedex/internal/index"
	"github.com/Aman-CERP/scenedex/internal/search"
	"github.com/Aman-CERP/scenedex/internal/store"
)

const testScript = `Title: Cold Open

INT. WAREHOUSE - NIGHT

Sarah moves between the crates, flashlight low.

SARAH
Anyone here?

EXT. PARKING LOT - DAY

A sedan idles near the loading dock.

MARCUS
You're late.
`

// newTestServer wires a full stack over a temp project containing one script.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, ".scenedex")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pilot.fountain"), []byte(testScript), 0o644))

	idx, err := store.NewSQLiteStore(filepath.Join(dataDir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	lexical, err := store.NewSQLiteLexicalIndex(filepath.Join(dataDir, "lexical.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	embedder := embed.NewStaticEmbedder()
	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	backend, err := embedstore.NewFSBackend(filepath.Join(dataDir, "embeddings"))
	require.NoError(t, err)

	syncer, err := index.NewSyncer(index.SyncerConfig{
		RootPath:   root,
		DataDir:    dataDir,
		Parser:     fountain.New(),
		Store:      idx,
		Lexical:    lexical,
		Vectors:    vectors,
		Embedder:   embedder,
		Embeddings: embedstore.New(backend, 100),
		Title:      fountain.Title,
	})
	require.NoError(t, err)

	engine, err := search.NewEngine(idx, lexical, vectors, embedder, search.DefaultConfig())
	require.NoError(t, err)

	s, err := NewServer(syncer, engine, idx, config.Default(), root)
	require.NoError(t, err)
	return s
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	_, err := NewServer(nil, nil, nil, nil, "")
	assert.Error(t, err)
}

func TestSyncTool_DiscoversAndSyncs(t *testing.T) {
	s := newTestServer(t)

	_, out, err := s.mcpSyncHandler(context.Background(), nil, SyncInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Documents)
	assert.Equal(t, 1, out.Synced)
	assert.Zero(t, out.Failed)
	assert.Equal(t, 2, out.ScenesAdded)
	assert.Empty(t, out.Errors)
}

func TestSyncTool_ExplicitPaths(t *testing.T) {
	s := newTestServer(t)

	_, out, err := s.mcpSyncHandler(context.Background(), nil, SyncInput{
		Paths: []string{"pilot.fountain"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Synced)
}

func TestSyncTool_ReportsPerDocumentFailures(t *testing.T) {
	s := newTestServer(t)

	_, out, err := s.mcpSyncHandler(context.Background(), nil, SyncInput{
		Paths: []string{"pilot.fountain", "missing.fountain"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Synced)
	assert.Equal(t, 1, out.Failed)
	assert.Contains(t, out.Errors, "missing.fountain")
}

func TestSearchTool_ReturnsRankedScenes(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.mcpSyncHandler(context.Background(), nil, SyncInput{})
	require.NoError(t, err)

	_, out, err := s.mcpSearchHandler(context.Background(), nil, SearchInput{
		Query: "flashlight warehouse",
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, "INT. WAREHOUSE - NIGHT", out.Results[0].Heading)
	assert.Equal(t, "pilot.fountain", out.Results[0].DocumentPath)
	assert.Positive(t, out.Results[0].Score)
}

func TestSearchTool_RejectsEmptyQuery(t *testing.T) {
	s := newTestServer(t)

	_, _, err := s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: "   "})
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestIndexStatusTool(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.mcpSyncHandler(context.Background(), nil, SyncInput{})
	require.NoError(t, err)

	_, out, err := s.mcpIndexStatusHandler(context.Background(), nil, IndexStatusInput{})
	require.NoError(t, err)
	require.Len(t, out.Documents, 1)
	assert.Equal(t, "pilot.fountain", out.Documents[0].Path)
	assert.Equal(t, "Cold Open", out.Documents[0].Title)
	assert.NotEmpty(t, out.Documents[0].SyncedAt)
}

func TestMapError_ValidationBecomesInvalidParams(t *testing.T) {
	err := sdxerrors.ValidationError("bad input", nil)
	mapped := MapError(err)
	assert.Equal(t, ErrCodeInvalidParams, mapped.Code)
	assert.Equal(t, "bad input", mapped.Message)
}

func TestMapError_CorruptIndex(t *testing.T) {
	err := sdxerrors.New(sdxerrors.ErrCodeCorruptIndex, "index unreadable", nil)
	mapped := MapError(err)
	assert.Equal(t, ErrCodeIndexNotFound, mapped.Code)
}

func TestMapError_ContextCancellation(t *testing.T) {
	assert.Equal(t, ErrCodeTimeout, MapError(context.Canceled).Code)
	assert.Equal(t, ErrCodeTimeout, MapError(context.DeadlineExceeded).Code)
}

func TestToResultOutput_IncludesMetadata(t *testing.T) {
	r := &search.Result{
		ContentHash: "abc",
		Metadata: map[string]json.RawMessage{
			"characters": json.RawMessage(`["SARAH"]`),
		},
	}
	out := toResultOutput(r)
	assert.Equal(t, "abc", out.ContentHash)
	assert.JSONEq(t, `{"characters":["SARAH"]}`, string(out.Metadata))
}
