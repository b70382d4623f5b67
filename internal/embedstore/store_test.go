package embedstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdxerrors "github.com/Aman-CERP/scenedex/internal/errors"
)

// countingBackend wraps FSBackend and counts Put calls.
type countingBackend struct {
	*FSBackend
	puts int
}

func (b *countingBackend) Put(ref string, data []byte) error {
	b.puts++
	return b.FSBackend.Put(ref, data)
}

func newTestBackend(t *testing.T) *countingBackend {
	t.Helper()
	fs, err := NewFSBackend(t.TempDir())
	require.NoError(t, err)
	return &countingBackend{FSBackend: fs}
}

func TestCodec_RoundTrip(t *testing.T) {
	vec := []float32{0.1, -0.5, 0.25, 1.0}
	decoded, err := Decode(Encode(vec), 4)
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)
}

func TestCodec_DimensionMismatch(t *testing.T) {
	blob := Encode([]float32{0.1, 0.2})
	_, err := Decode(blob, 4)
	require.Error(t, err)
	assert.Equal(t, sdxerrors.ErrCodeEmbeddingCorrupt, sdxerrors.GetCode(err))
}

func TestCodec_GarbageInput(t *testing.T) {
	_, err := Decode([]byte("not a blob at all"), 4)
	require.Error(t, err)
	assert.Equal(t, sdxerrors.ErrCodeEmbeddingCorrupt, sdxerrors.GetCode(err))
}

func TestStore_PutDeduplicates(t *testing.T) {
	backend := newTestBackend(t)
	s := New(backend, 10)
	ctx := context.Background()
	vec := []float32{0.3, 0.7}

	r1, err := s.Put(ctx, "hash1", "static-256", vec)
	require.NoError(t, err)
	assert.True(t, r1.Created)

	// Second put for the same (hash, model) is a no-op.
	r2, err := s.Put(ctx, "hash1", "static-256", vec)
	require.NoError(t, err)
	assert.False(t, r2.Created)
	assert.Equal(t, r1.Ref, r2.Ref)
	assert.Equal(t, 1, backend.puts)

	// Different model stores a separate blob.
	r3, err := s.Put(ctx, "hash1", "other-model", vec)
	require.NoError(t, err)
	assert.True(t, r3.Created)
	assert.Equal(t, 2, backend.puts)
}

func TestStore_PutRepairsCorruptBlob(t *testing.T) {
	backend := newTestBackend(t)
	s := New(backend, 10)
	ctx := context.Background()
	vec := []float32{0.3, 0.7}

	r1, err := s.Put(ctx, "hash1", "m", vec)
	require.NoError(t, err)
	require.True(t, r1.Created)

	// Corrupt the stored blob behind the store's back.
	require.NoError(t, os.WriteFile(backend.path(r1.Ref), []byte("garbage"), 0o644))

	// Fresh store so reads miss the cache and hit the damaged blob.
	s2 := New(backend, 10)
	_, err = s2.Get(ctx, "hash1", "m", 2)
	require.Error(t, err)
	require.Equal(t, sdxerrors.ErrCodeEmbeddingCorrupt, sdxerrors.GetCode(err))

	// Re-putting the regenerated vector overwrites the corrupt blob
	// instead of deduplicating against it.
	r2, err := s2.Put(ctx, "hash1", "m", vec)
	require.NoError(t, err)
	assert.True(t, r2.Created)
	assert.Equal(t, r1.Ref, r2.Ref)

	s3 := New(backend, 10)
	got, err := s3.Get(ctx, "hash1", "m", 2)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestStore_PutBatch(t *testing.T) {
	backend := newTestBackend(t)
	s := New(backend, 10)
	ctx := context.Background()

	results, err := s.PutBatch(ctx,
		[]string{"h1", "h2", "h1"}, "m",
		[][]float32{{1, 0}, {0, 1}, {1, 0}})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Created)
	assert.True(t, results[1].Created)
	assert.False(t, results[2].Created) // dedup against the first put
	assert.Equal(t, results[0].Ref, results[2].Ref)
	assert.Equal(t, 2, backend.puts)

	got, err := s.GetBatch(ctx, []string{"h1", "h2"}, "m", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestStore_PutBatchLengthMismatch(t *testing.T) {
	s := New(newTestBackend(t), 10)

	_, err := s.PutBatch(context.Background(), []string{"h1", "h2"}, "m", [][]float32{{1, 0}})
	require.Error(t, err)
	assert.Equal(t, sdxerrors.ErrCodeInvalidInput, sdxerrors.GetCode(err))
}

func TestStore_GetRoundTrip(t *testing.T) {
	s := New(newTestBackend(t), 10)
	ctx := context.Background()
	vec := []float32{0.1, 0.2, 0.3}

	_, err := s.Put(ctx, "hash1", "m", vec)
	require.NoError(t, err)

	got, err := s.Get(ctx, "hash1", "m", 3)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestStore_GetMissing(t *testing.T) {
	s := New(newTestBackend(t), 10)

	_, err := s.Get(context.Background(), "nope", "m", 3)
	require.Error(t, err)
	assert.Equal(t, sdxerrors.ErrCodeFileNotFound, sdxerrors.GetCode(err))
}

func TestStore_GetWrongDims(t *testing.T) {
	backend := newTestBackend(t)
	s := New(backend, 10)
	ctx := context.Background()

	_, err := s.Put(ctx, "hash1", "m", []float32{0.1, 0.2})
	require.NoError(t, err)

	// Fresh store so the read misses the cache and hits the codec check.
	s2 := New(backend, 10)
	_, err = s2.Get(ctx, "hash1", "m", 4)
	require.Error(t, err)
	assert.Equal(t, sdxerrors.ErrCodeEmbeddingCorrupt, sdxerrors.GetCode(err))
}

func TestStore_PutEmptyVector(t *testing.T) {
	s := New(newTestBackend(t), 10)

	_, err := s.Put(context.Background(), "hash1", "m", nil)
	require.Error(t, err)
	assert.Equal(t, sdxerrors.ErrCodeInvalidInput, sdxerrors.GetCode(err))
}

func TestStore_GetBatchSkipsMissing(t *testing.T) {
	s := New(newTestBackend(t), 10)
	ctx := context.Background()

	_, err := s.Put(ctx, "h1", "m", []float32{1, 0})
	require.NoError(t, err)
	_, err = s.Put(ctx, "h2", "m", []float32{0, 1})
	require.NoError(t, err)

	got, err := s.GetBatch(ctx, []string{"h1", "h2", "missing"}, "m", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "h1")
	assert.Contains(t, got, "h2")
}

func TestStore_Delete(t *testing.T) {
	s := New(newTestBackend(t), 10)
	ctx := context.Background()

	_, err := s.Put(ctx, "h1", "m", []float32{1, 0})
	require.NoError(t, err)
	require.NoError(t, s.Delete("h1", "m"))

	exists, err := s.Exists("h1", "m")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting again is not an error.
	assert.NoError(t, s.Delete("h1", "m"))
}

func TestFSBackend_ShardLayout(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFSBackend(dir)
	require.NoError(t, err)

	require.NoError(t, fs.Put("abcdef", []byte("x")))
	assert.Equal(t, fs.path("abcdef"), fs.path("abcdef"))
	assert.Contains(t, fs.path("abcdef"), "ab")

	exists, err := fs.Exists("abcdef")
	require.NoError(t, err)
	assert.True(t, exists)
}
