package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/scenedex/internal/agent"
	"github.com/Aman-CERP/scenedex/internal/embed"
	"github.com/Aman-CERP/scenedex/internal/embedstore"
	sdxerrors "github.com/Aman-CERP/scenedex/internal/errors"
	"github.com/Aman-CERP/scenedex/internal/metawrite"
	"github.com/Aman-CERP/scenedex/internal/scene"
	"github.com/Aman-CERP/scenedex/internal/store"
)

// DefaultMaxFileSize is the largest document the syncer will read (10MB).
// Screenplays run well under 1MB; anything bigger is not a screenplay.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// DefaultWorkers is the default parallelism for batch syncs.
const DefaultWorkers = 4

// SyncerConfig wires the syncer's collaborators.
type SyncerConfig struct {
	// RootPath is the absolute project root; document paths are relative to it.
	RootPath string

	// DataDir holds lock files and other runtime state.
	DataDir string

	Parser     scene.Parser
	Store      store.IndexStore
	Lexical    store.LexicalIndex
	Vectors    store.VectorStore
	Embedder   embed.Embedder
	Embeddings *embedstore.Store

	// Agents is optional; when set, extraction runs for every added scene.
	Agents *agent.Registry

	// Title extracts a document title from raw source, when the format
	// supports one. Optional.
	Title func(src []byte) string

	// WriteMetadata enables boneyard metadata write-back after extraction.
	WriteMetadata bool

	// Workers bounds batch-sync parallelism. Defaults to DefaultWorkers.
	Workers int

	// TxRetry governs retry of failed sync transactions.
	TxRetry sdxerrors.RetryConfig

	// MaxFileSize caps document size in bytes. Defaults to DefaultMaxFileSize.
	MaxFileSize int64
}

// Syncer drives document synchronization end to end. A sync is: acquire the
// document lock, parse, hash, diff against the stored sequence, commit the
// new sequence in one transaction, then update lexical/vector indexes and
// run per-scene enrichment. Scene-level failures degrade, never abort the
// document; document-level failures never abort a batch.
type Syncer struct {
	config SyncerConfig
}

// NewSyncer creates a syncer. Store, Parser, and Lexical are required.
func NewSyncer(cfg SyncerConfig) (*Syncer, error) {
	if cfg.Store == nil || cfg.Parser == nil || cfg.Lexical == nil {
		return nil, sdxerrors.ValidationError("syncer requires store, parser, and lexical index", nil)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.TxRetry.MaxRetries == 0 {
		cfg.TxRetry = sdxerrors.DefaultRetryConfig()
	}
	return &Syncer{config: cfg}, nil
}

// Report summarizes a batch sync.
type Report struct {
	Documents int
	Synced    int
	Failed    int
	Added     int
	Removed   int
	Errors    map[string]error     // Failure reason by document path
	Changes   map[string]ChangeSet // Change set by document path
}

// SyncDocument synchronizes one document and returns its change set.
// Re-syncing an unchanged document yields an empty change set and performs
// zero index writes.
func (s *Syncer) SyncDocument(ctx context.Context, path string) (ChangeSet, error) {
	lock := NewDocLock(s.config.DataDir, path)
	if err := lock.Lock(); err != nil {
		return ChangeSet{}, err
	}
	defer func() { _ = lock.Unlock() }()

	absPath := path
	if !filepath.IsAbs(path) {
		absPath = filepath.Join(s.config.RootPath, path)
	}

	src, err := s.readDocument(absPath)
	if err != nil {
		return ChangeSet{}, err
	}

	scenes, err := s.config.Parser.Parse(ctx, path, src)
	if err != nil {
		// No partial hash set is merged on parse failure.
		return ChangeSet{}, sdxerrors.ParseError(
			fmt.Sprintf("failed to parse %s", path), err)
	}
	newHashes := scene.ComputeHashes(scenes)

	oldHashes, err := s.config.Store.SceneHashes(ctx, path)
	if err != nil {
		return ChangeSet{}, err
	}
	changes := Diff(oldHashes, newHashes)

	doc, err := s.config.Store.GetDocument(ctx, path)
	if err != nil {
		return ChangeSet{}, err
	}

	// Unchanged sequence on a known document: nothing to write.
	if doc != nil && changes.Empty() && slices.Equal(oldHashes, newHashes) {
		slog.Debug("document unchanged", slog.String("path", path))
		return changes, nil
	}

	title := ""
	if s.config.Title != nil {
		title = s.config.Title(src)
	}
	marker := revisionMarker(src)

	err = sdxerrors.Retry(ctx, s.config.TxRetry, func() error {
		_, applyErr := s.config.Store.ApplySync(ctx, path, title, marker, scenes)
		return applyErr
	})
	if err != nil {
		return ChangeSet{}, err
	}

	slog.Info("document synced",
		slog.String("path", path),
		slog.Int("scenes", len(scenes)),
		slog.Int("added", len(changes.Added)),
		slog.Int("removed", len(changes.Removed)))

	if err := s.updateIndexes(ctx, path, absPath, scenes, changes); err != nil {
		return changes, err
	}
	return changes, nil
}

// SyncAll synchronizes many documents in parallel. One document failing
// never aborts the others; failures are collected into the report.
func (s *Syncer) SyncAll(ctx context.Context, paths []string) *Report {
	report := &Report{
		Documents: len(paths),
		Errors:    make(map[string]error),
		Changes:   make(map[string]ChangeSet),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)

	for _, path := range paths {
		g.Go(func() error {
			changes, err := s.SyncDocument(gctx, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.Errors[path] = err
				slog.Warn("document sync failed",
					slog.String("path", path),
					slog.String("error", err.Error()))
				return nil
			}
			report.Synced++
			report.Added += len(changes.Added)
			report.Removed += len(changes.Removed)
			report.Changes[path] = changes
			return nil
		})
	}
	_ = g.Wait()

	return report
}

// readDocument reads a document with size and symlink guards.
func (s *Syncer) readDocument(absPath string) ([]byte, error) {
	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sdxerrors.New(sdxerrors.ErrCodeFileNotFound,
				fmt.Sprintf("document %s not found", absPath), err)
		}
		return nil, fmt.Errorf("failed to stat document: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, sdxerrors.ValidationError(
			fmt.Sprintf("document %s is a symlink", absPath), nil)
	}
	if info.Size() > s.config.MaxFileSize {
		return nil, sdxerrors.ValidationError(
			fmt.Sprintf("document %s exceeds size limit", absPath), nil)
	}

	src, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return src, nil
}

// updateIndexes applies a committed change set to the lexical and vector
// indexes and runs per-scene enrichment for added scenes.
func (s *Syncer) updateIndexes(ctx context.Context, path, absPath string, scenes []*scene.Scene, changes ChangeSet) error {
	byHash := make(map[string]*scene.Scene, len(scenes))
	for _, sc := range scenes {
		if _, ok := byHash[sc.ContentHash]; !ok {
			byHash[sc.ContentHash] = sc
		}
	}

	// Lexical entries for added scenes.
	var docs []*store.LexicalDoc
	for _, h := range changes.Added {
		if sc, ok := byHash[h]; ok {
			docs = append(docs, &store.LexicalDoc{ID: h, Content: searchableText(sc)})
		}
	}
	if len(docs) > 0 {
		if err := s.config.Lexical.Index(ctx, docs); err != nil {
			return err
		}
	}

	// Drop scenes no longer referenced by any document. The relational rows
	// and embedding blobs stay: another document may bring the hash back.
	if len(changes.Removed) > 0 {
		unreferenced, err := s.config.Store.UnreferencedHashes(ctx, changes.Removed)
		if err != nil {
			return err
		}
		if len(unreferenced) > 0 {
			if err := s.config.Lexical.Delete(ctx, unreferenced); err != nil {
				return err
			}
			if s.config.Vectors != nil {
				if err := s.config.Vectors.Delete(ctx, unreferenced); err != nil {
					return err
				}
			}
		}
	}

	// Per-scene enrichment, in document order. Each scene is its own
	// cancellable unit: a failure or cancellation on scene N leaves scenes
	// 1..N-1 fully committed.
	ordered := make([]*scene.Scene, 0, len(changes.Added))
	for _, h := range changes.Added {
		if sc, ok := byHash[h]; ok {
			ordered = append(ordered, sc)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Ordinal < ordered[j].Ordinal })

	for _, sc := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.enrichScene(ctx, absPath, sc)
	}
	return nil
}

// enrichScene embeds one scene, runs extraction agents, and writes the
// metadata block back. Failures are logged and degrade, never propagate.
func (s *Syncer) enrichScene(ctx context.Context, absPath string, sc *scene.Scene) {
	if s.config.Embedder != nil && s.config.Embeddings != nil && s.config.Vectors != nil {
		if err := s.embedScene(ctx, sc); err != nil {
			slog.Warn("scene embedding failed",
				slog.String("content_hash", sc.ContentHash),
				slog.String("error", err.Error()))
		}
	}

	if s.config.Agents == nil {
		return
	}
	properties := make(map[string]json.RawMessage)
	for _, a := range s.config.Agents.Agents() {
		value, err := s.config.Agents.Extract(ctx, a, sc)
		if err != nil {
			slog.Warn("extraction agent failed",
				slog.String("agent", a.ID),
				slog.String("content_hash", sc.ContentHash),
				slog.String("error", err.Error()))
			continue
		}
		if err := s.config.Store.SaveMetadata(ctx, sc.ContentHash, a.Property, value, a.ID); err != nil {
			slog.Warn("metadata save failed",
				slog.String("property", a.Property),
				slog.String("content_hash", sc.ContentHash),
				slog.String("error", err.Error()))
			continue
		}
		properties[a.Property] = value
	}

	if s.config.WriteMetadata && len(properties) > 0 {
		_, err := metawrite.Write(absPath, sc.Span.Text, sc.ContentHash, properties)
		switch {
		case sdxerrors.GetCode(err) == sdxerrors.ErrCodeStaleScene:
			// Document changed under us; the scene keeps its stored
			// metadata and the next sync refreshes the block.
			slog.Info("metadata block skipped, scene text stale",
				slog.String("content_hash", sc.ContentHash))
		case err != nil:
			slog.Warn("metadata write-back failed",
				slog.String("content_hash", sc.ContentHash),
				slog.String("error", err.Error()))
		}
	}
}

// embedScene generates and stores the embedding for one scene, deduplicated
// by (content hash, model). Already-embedded content is never re-embedded.
func (s *Syncer) embedScene(ctx context.Context, sc *scene.Scene) error {
	modelID := s.config.Embedder.ModelName()

	exists, err := s.config.Embeddings.Exists(sc.ContentHash, modelID)
	if err != nil {
		return err
	}

	var vector []float32
	if exists {
		vector, err = s.config.Embeddings.Get(ctx, sc.ContentHash, modelID, s.config.Embedder.Dimensions())
		if err != nil {
			// Corrupt blob: regenerate below.
			slog.Warn("stored embedding unreadable, regenerating",
				slog.String("content_hash", sc.ContentHash),
				slog.String("error", err.Error()))
			vector = nil
		}
	}

	if vector == nil {
		vector, err = s.config.Embedder.Embed(ctx, searchableText(sc))
		if err != nil {
			return sdxerrors.New(sdxerrors.ErrCodeEmbeddingFailed,
				"failed to embed scene", err)
		}
	}

	put, err := s.config.Embeddings.Put(ctx, sc.ContentHash, modelID, vector)
	if err != nil {
		return err
	}
	if err := s.config.Store.SaveEmbeddingRef(ctx, sc.ContentHash, modelID, put.Ref, len(vector)); err != nil {
		return err
	}
	return s.config.Vectors.Add(ctx, []string{sc.ContentHash}, [][]float32{vector})
}

// searchableText is the text submitted to both the lexical index and the
// embedder: heading plus body, so location words are searchable.
func searchableText(sc *scene.Scene) string {
	body := sc.Text()
	if body == "" {
		return sc.Heading.Raw
	}
	return sc.Heading.Raw + "\n" + body
}

// revisionMarker derives the document revision marker from raw content.
func revisionMarker(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}
