package embedstore

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	sdxerrors "github.com/Aman-CERP/scenedex/internal/errors"
)

// DefaultReadCacheSize bounds the decoded-vector read cache.
const DefaultReadCacheSize = 1000

// PutResult reports what a Put call did.
type PutResult struct {
	Ref     string
	Created bool // false when a blob for this (hash, model) already existed
}

// Store is a deduplicating embedding store. Vectors are addressed by
// (content hash, model id): a scene appearing in five documents stores
// its embedding exactly once.
type Store struct {
	backend BlobBackend
	cache   *lru.Cache[string, []float32]
}

// New creates an embedding store over the given backend.
func New(backend BlobBackend, cacheSize int) *Store {
	if cacheSize <= 0 {
		cacheSize = DefaultReadCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &Store{backend: backend, cache: cache}
}

// Ref derives the blob reference for a (content hash, model id) pair.
func Ref(contentHash, modelID string) string {
	return contentHash + "-" + modelID
}

// Put stores a vector for (contentHash, modelID). If a readable blob already
// exists for the pair, no write happens and the existing reference is
// returned; an existing blob that fails to decode is overwritten, so a
// caller regenerating after an EmbeddingCorrupt read actually repairs it.
func (s *Store) Put(ctx context.Context, contentHash, modelID string, vector []float32) (PutResult, error) {
	if err := ctx.Err(); err != nil {
		return PutResult{}, err
	}
	if len(vector) == 0 {
		return PutResult{}, sdxerrors.New(sdxerrors.ErrCodeInvalidInput,
			"cannot store empty embedding vector", nil)
	}

	ref := Ref(contentHash, modelID)
	exists, err := s.backend.Exists(ref)
	if err != nil {
		return PutResult{}, err
	}
	if exists && s.blobReadable(ref, len(vector)) {
		return PutResult{Ref: ref, Created: false}, nil
	}

	if err := s.backend.Put(ref, Encode(vector)); err != nil {
		return PutResult{}, err
	}
	s.cache.Add(ref, vector)
	return PutResult{Ref: ref, Created: true}, nil
}

// blobReadable reports whether the stored blob under ref decodes to a vector
// of the expected dimensions. A cached vector counts as readable without
// touching the backend.
func (s *Store) blobReadable(ref string, expectedDims int) bool {
	if vec, ok := s.cache.Get(ref); ok && len(vec) == expectedDims {
		return true
	}
	blob, err := s.backend.Get(ref)
	if err != nil {
		return false
	}
	_, err = Decode(blob, expectedDims)
	return err == nil
}

// PutBatch stores vectors for many content hashes under one model, with the
// same dedup semantics as Put. Results are returned in input order.
func (s *Store) PutBatch(ctx context.Context, contentHashes []string, modelID string, vectors [][]float32) ([]PutResult, error) {
	if len(contentHashes) != len(vectors) {
		return nil, sdxerrors.ValidationError(
			fmt.Sprintf("got %d content hashes but %d vectors", len(contentHashes), len(vectors)), nil)
	}
	results := make([]PutResult, len(contentHashes))
	for i, h := range contentHashes {
		r, err := s.Put(ctx, h, modelID, vectors[i])
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

// Get retrieves the vector for (contentHash, modelID), validating its
// dimensions against expectedDims (0 skips the check).
func (s *Store) Get(ctx context.Context, contentHash, modelID string, expectedDims int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ref := Ref(contentHash, modelID)
	if vec, ok := s.cache.Get(ref); ok {
		if expectedDims > 0 && len(vec) != expectedDims {
			return nil, sdxerrors.New(sdxerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("cached embedding has %d dimensions, expected %d", len(vec), expectedDims), nil)
		}
		return vec, nil
	}

	blob, err := s.backend.Get(ref)
	if err != nil {
		return nil, err
	}
	vec, err := Decode(blob, expectedDims)
	if err != nil {
		return nil, err
	}
	s.cache.Add(ref, vec)
	return vec, nil
}

// GetBatch retrieves vectors for many content hashes under one model.
// Missing blobs are skipped; the result maps content hash to vector.
func (s *Store) GetBatch(ctx context.Context, contentHashes []string, modelID string, expectedDims int) (map[string][]float32, error) {
	result := make(map[string][]float32, len(contentHashes))
	for _, h := range contentHashes {
		vec, err := s.Get(ctx, h, modelID, expectedDims)
		if err != nil {
			if sdxerrors.GetCode(err) == sdxerrors.ErrCodeFileNotFound {
				continue
			}
			return nil, err
		}
		result[h] = vec
	}
	return result, nil
}

// Exists reports whether a blob is stored for (contentHash, modelID).
func (s *Store) Exists(contentHash, modelID string) (bool, error) {
	return s.backend.Exists(Ref(contentHash, modelID))
}

// Delete removes the blob for (contentHash, modelID). Used when a scene
// version becomes unreferenced by every document.
func (s *Store) Delete(contentHash, modelID string) error {
	ref := Ref(contentHash, modelID)
	s.cache.Remove(ref)
	return s.backend.Delete(ref)
}
