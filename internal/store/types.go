// Package store provides the persistence layer for indexed scenes: the
// relational index (SQLite), the full-text lexical index (SQLite FTS5 or
// Bleve), and the vector candidate index (HNSW).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Aman-CERP/scenedex/internal/scene"
)

// CurrentSchemaVersion is the current database schema version.
// Migrations are strictly additive; hash-keyed rows are never rewritten.
const CurrentSchemaVersion = 2

// DocumentRecord is a tracked document and its revision state.
type DocumentRecord struct {
	ID             int64
	Path           string // Stable path key, relative to the project root
	Title          string
	RevisionMarker string
	SyncedAt       time.Time
}

// SceneRecord is a persisted scene keyed by content hash. The same record is
// shared by every document that contains textually identical content.
type SceneRecord struct {
	ContentHash string
	Heading     scene.Heading
	Elements    []*scene.Element
	RawText     string
	CreatedAt   time.Time
}

// SceneRef locates one occurrence of a scene within a document.
type SceneRef struct {
	DocumentPath string
	Ordinal      int
}

// IndexStore is the single source of truth for what is currently indexed.
type IndexStore interface {
	// GetDocument returns the document for path, or nil if never synced.
	GetDocument(ctx context.Context, path string) (*DocumentRecord, error)

	// SceneHashes returns the document's current hash sequence in order.
	SceneHashes(ctx context.Context, path string) ([]string, error)

	// ApplySync atomically replaces a document's scene sequence: inserts
	// new scenes and their element sub-rows (insert-or-ignore, since the
	// same content can arrive concurrently via another document), rewrites
	// the ordered document_scenes sequence, and updates the revision
	// marker. All or nothing.
	ApplySync(ctx context.Context, path, title, revisionMarker string, scenes []*scene.Scene) (inserted int, err error)

	// Scene operations
	GetScene(ctx context.Context, contentHash string) (*SceneRecord, error)
	GetScenes(ctx context.Context, contentHashes []string) (map[string]*SceneRecord, error)

	// PrimaryRef returns the lowest-ordinal occurrence of a scene across
	// all documents, used for deterministic ranking tie-breaks and result
	// display. Returns nil if the hash is unreferenced.
	PrimaryRef(ctx context.Context, contentHash string) (*SceneRef, error)

	// UnreferencedHashes filters the given hashes down to those no longer
	// linked by any document.
	UnreferencedHashes(ctx context.Context, contentHashes []string) ([]string, error)

	// Metadata operations, keyed by (content_hash, property_name).
	// Values are opaque JSON written by extraction agents.
	SaveMetadata(ctx context.Context, contentHash, property string, value json.RawMessage, agentID string) error
	GetMetadata(ctx context.Context, contentHash string) (map[string]json.RawMessage, error)
	MetadataForHashes(ctx context.Context, contentHashes []string) (map[string]map[string]json.RawMessage, error)

	// Embedding reference operations, keyed by (content_hash, model_id).
	SaveEmbeddingRef(ctx context.Context, contentHash, modelID, payloadRef string, dimensions int) error
	EmbeddingRefs(ctx context.Context, modelID string) (map[string]string, error)
	DimensionsForModel(ctx context.Context, modelID string) (int, error)

	// State operations (key-value store for runtime state).
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// ListDocuments returns all tracked documents.
	ListDocuments(ctx context.Context) ([]*DocumentRecord, error)

	// Lifecycle
	Close() error
}

// LexicalDoc is a scene's searchable text submitted to the lexical index.
type LexicalDoc struct {
	ID      string // Content hash
	Content string // Action + dialogue text
}

// LexicalResult is a single lexical search result. Score is rank-normalized
// to [0,1] by the index before it is returned.
type LexicalResult struct {
	ID    string
	Score float64
}

// LexicalIndex provides full-text search over scene text.
type LexicalIndex interface {
	// Index adds or replaces documents in the index.
	Index(ctx context.Context, docs []*LexicalDoc) error

	// Search returns scenes matching query, scores normalized to [0,1].
	Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error)

	// Delete removes documents from the index.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all document IDs (for consistency checks).
	AllIDs() ([]string, error)

	// Close releases resources.
	Close() error
}

// VectorResult is a single vector search result.
type VectorResult struct {
	ID         string  // Content hash
	Similarity float32 // Cosine similarity in [0,1] (1 = identical direction)
}

// VectorStoreConfig configures the vector candidate index.
type VectorStoreConfig struct {
	// Dimensions is the embedding dimensionality; fixed per model.
	Dimensions int

	// M is HNSW max connections per layer (default: 16).
	M int

	// EfSearch is HNSW query-time search width (default: 64).
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for the vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore provides approximate nearest-neighbor search over scene
// embeddings, keyed by content hash.
type VectorStore interface {
	// Add inserts vectors with their content hashes. Existing hashes are replaced.
	Add(ctx context.Context, contentHashes []string, vectors [][]float32) error

	// Search finds the k nearest scenes to the query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by content hash.
	Delete(ctx context.Context, contentHashes []string) error

	// Contains checks if a content hash is indexed.
	Contains(contentHash string) bool

	// Count returns the number of indexed vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates a vector's dimensionality does not match
// the store's configured model dimensionality. Writes are rejected, never
// coerced.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
