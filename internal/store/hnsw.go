package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore implements VectorStore using the coder/hnsw pure Go HNSW graph.
// Content hashes map to uint64 graph keys; deletion is lazy (mappings are
// dropped, the node stays in the graph) because deleting the last node
// breaks the underlying graph.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	hashToKey map[string]uint64
	keyToHash map[uint64]string
	nextKey   uint64

	closed bool
}

// Verify interface implementation at compile time
var _ VectorStore = (*HNSWStore)(nil)

// hnswSidecar stores hash mappings for persistence alongside the graph file.
type hnswSidecar struct {
	HashToKey map[string]uint64
	NextKey   uint64
	Config    VectorStoreConfig
}

// NewHNSWStore creates a new HNSW-based vector store with cosine distance.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWStore{
		graph:     graph,
		config:    cfg,
		hashToKey: make(map[string]uint64),
		keyToHash: make(map[uint64]string),
	}, nil
}

// Add inserts vectors keyed by content hash. Existing hashes are replaced.
func (s *HNSWStore) Add(ctx context.Context, contentHashes []string, vectors [][]float32) error {
	if len(contentHashes) == 0 {
		return nil
	}
	if len(contentHashes) != len(vectors) {
		return fmt.Errorf("hashes and vectors length mismatch: %d vs %d", len(contentHashes), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, hash := range contentHashes {
		if existingKey, exists := s.hashToKey[hash]; exists {
			delete(s.keyToHash, existingKey) // orphan the old node
			delete(s.hashToKey, hash)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.hashToKey[hash] = key
		s.keyToHash[key] = hash
	}

	return nil
}

// Search finds the k nearest scenes to the query vector.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("vector store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := s.graph.Search(normalized, k)

	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		hash, ok := s.keyToHash[node.Key]
		if !ok {
			continue // lazily deleted node
		}
		// Cosine distance ranges 0..2 on normalized vectors; similarity
		// 1 - d/2 maps it to [0,1].
		distance := s.graph.Distance(normalized, node.Value)
		results = append(results, &VectorResult{
			ID:         hash,
			Similarity: 1.0 - distance/2.0,
		})
	}
	return results, nil
}

// Delete removes vectors by content hash (lazy deletion).
func (s *HNSWStore) Delete(ctx context.Context, contentHashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	for _, hash := range contentHashes {
		if key, exists := s.hashToKey[hash]; exists {
			delete(s.keyToHash, key)
			delete(s.hashToKey, hash)
		}
	}
	return nil
}

// Contains checks if a content hash is indexed.
func (s *HNSWStore) Contains(contentHash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.hashToKey[contentHash]
	return exists && !s.closed
}

// Count returns the number of indexed vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.hashToKey)
}

// Save persists the graph and hash mappings atomically (temp file + rename).
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create graph file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close graph file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename graph file: %w", err)
	}

	return s.saveSidecar(path + ".meta")
}

func (s *HNSWStore) saveSidecar(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create sidecar file: %w", err)
	}

	meta := hnswSidecar{
		HashToKey: s.hashToKey,
		NextKey:   s.nextKey,
		Config:    s.config,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to encode sidecar: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close sidecar file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the graph and hash mappings from disk.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	sidecarFile, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("failed to open sidecar: %w", err)
	}
	defer sidecarFile.Close()

	var meta hnswSidecar
	if err := gob.NewDecoder(sidecarFile).Decode(&meta); err != nil {
		return fmt.Errorf("failed to decode sidecar: %w", err)
	}

	s.hashToKey = meta.HashToKey
	s.nextKey = meta.NextKey
	s.config = meta.Config
	s.keyToHash = make(map[uint64]string, len(meta.HashToKey))
	for hash, key := range meta.HashToKey {
		s.keyToHash[key] = hash
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open graph file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

// Close releases resources. Idempotent.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// normalizeInPlace scales a vector to unit length.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
