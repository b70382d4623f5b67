package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/scenedex/internal/agent"
	"github.com/Aman-CERP/scenedex/internal/config"
	"github.com/Aman-CERP/scenedex/internal/embed"
	"github.com/Aman-CERP/scenedex/internal/embedstore"
	"github.com/Aman-CERP/scenedex/internal/fountain"
	"github.com/Aman-CERP/scenedex/internal/index"
	"github.com/Aman-CERP/scenedex/internal/search"
	"github.com/Aman-CERP/scenedex/internal/store"
)

// app is the fully wired stack behind every command: stores, embedder,
// syncer, and search engine over one project root.
type app struct {
	rootPath string
	dataDir  string
	cfg      *config.Config

	store    *store.SQLiteStore
	lexical  store.LexicalIndex
	vectors  *store.HNSWStore
	embedder embed.Embedder
	syncer   *index.Syncer
	engine   *search.Engine
}

// openApp locates the project root and opens the stack. writeMetadata
// enables boneyard metadata write-back during sync.
func openApp(writeMetadata bool) (*app, error) {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	dataDir := filepath.Join(root, cfg.Paths.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &app{rootPath: root, dataDir: dataDir, cfg: cfg}

	a.store, err = store.NewSQLiteStore(filepath.Join(dataDir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}

	a.lexical, err = store.NewLexicalIndex(filepath.Join(dataDir, "lexical"), cfg.Search.LexicalBackend)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	a.embedder = embed.NewCachedEmbedder(embed.NewStaticEmbedder(), cfg.Embeddings.CacheSize)

	a.vectors, err = store.NewHNSWStore(store.DefaultVectorStoreConfig(a.embedder.Dimensions()))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	if _, statErr := os.Stat(a.vectorsPath()); statErr == nil {
		if loadErr := a.vectors.Load(a.vectorsPath()); loadErr != nil {
			// A stale or corrupt graph is rebuilt by the next sync.
			slog.Warn("vector index load failed, continuing empty",
				slog.String("path", a.vectorsPath()),
				slog.String("error", loadErr.Error()))
		}
	}

	backend, err := embedstore.NewFSBackend(filepath.Join(dataDir, "embeddings"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open embedding store: %w", err)
	}

	agents := agent.NewRegistry()
	if err := agents.Register(agent.CharactersAgent()); err != nil {
		a.Close()
		return nil, err
	}
	if err := agents.Register(agent.LocationAgent()); err != nil {
		a.Close()
		return nil, err
	}

	a.syncer, err = index.NewSyncer(index.SyncerConfig{
		RootPath:      root,
		DataDir:       dataDir,
		Parser:        fountain.New(),
		Store:         a.store,
		Lexical:       a.lexical,
		Vectors:       a.vectors,
		Embedder:      a.embedder,
		Embeddings:    embedstore.New(backend, cfg.Embeddings.CacheSize),
		Agents:        agents,
		Title:         fountain.Title,
		WriteMetadata: writeMetadata,
		Workers:       cfg.Sync.Workers,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.engine, err = search.NewEngine(a.store, a.lexical, a.vectors, a.embedder, search.Config{
		LexicalWeight:       cfg.Search.LexicalWeight,
		VectorWeight:        cfg.Search.VectorWeight,
		BothMatchBoost:      cfg.Search.BothMatchBoost,
		MetadataBoost:       cfg.Search.MetadataBoost,
		SimilarityThreshold: cfg.Search.SimilarityThreshold,
		MaxResults:          cfg.Search.MaxResults,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) vectorsPath() string {
	return filepath.Join(a.dataDir, "vectors.hnsw")
}

// saveVectors persists the in-memory vector graph; call after syncs.
func (a *app) saveVectors() error {
	if a.vectors == nil {
		return nil
	}
	return a.vectors.Save(a.vectorsPath())
}

// discover returns the project's configured documents.
func (a *app) discover() ([]string, error) {
	return index.Discover(a.rootPath, a.cfg.Paths.Include)
}

// Close releases every open resource. Safe on a partially opened app.
func (a *app) Close() {
	if a.vectors != nil {
		_ = a.vectors.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.lexical != nil {
		_ = a.lexical.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
