package embedstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	sdxerrors "github.com/Aman-CERP/scenedex/internal/errors"
)

// BlobBackend is a narrow blob interface so the store can sit on the local
// filesystem today and object storage later.
type BlobBackend interface {
	// Put writes a blob under ref. Overwrites are allowed but callers
	// should check Exists first to preserve dedup semantics.
	Put(ref string, data []byte) error

	// Get reads the blob stored under ref.
	Get(ref string) ([]byte, error)

	// Exists reports whether a blob is stored under ref.
	Exists(ref string) (bool, error)

	// Delete removes the blob stored under ref. Missing refs are not errors.
	Delete(ref string) error
}

// FSBackend stores blobs as files under a root directory, sharded by the
// first two characters of the ref to keep directories small.
type FSBackend struct {
	root string
}

var _ BlobBackend = (*FSBackend)(nil)

// NewFSBackend creates a filesystem blob backend rooted at dir.
func NewFSBackend(dir string) (*FSBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FSBackend{root: dir}, nil
}

// path maps a ref to its sharded file path.
func (b *FSBackend) path(ref string) string {
	shard := "00"
	if len(ref) >= 2 {
		shard = ref[:2]
	}
	return filepath.Join(b.root, shard, ref+".bin")
}

func (b *FSBackend) Put(ref string, data []byte) error {
	path := b.path(ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create blob shard: %w", err)
	}
	// Atomic write: a crash mid-write never leaves a truncated blob.
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", ref, err)
	}
	return nil
}

func (b *FSBackend) Get(ref string) ([]byte, error) {
	data, err := os.ReadFile(b.path(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sdxerrors.New(sdxerrors.ErrCodeFileNotFound,
				fmt.Sprintf("embedding blob %s not found", ref), err)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", ref, err)
	}
	return data, nil
}

func (b *FSBackend) Exists(ref string) (bool, error) {
	_, err := os.Stat(b.path(ref))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob %s: %w", ref, err)
}

func (b *FSBackend) Delete(ref string) error {
	err := os.Remove(b.path(ref))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", ref, err)
	}
	return nil
}
