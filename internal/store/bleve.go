package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// BleveLexicalIndex implements LexicalIndex using Bleve v2.
// Bleve holds an exclusive BoltDB lock, so this backend is single-process;
// the SQLite backend is the default for shared access.
type BleveLexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ LexicalIndex = (*BleveLexicalIndex)(nil)

// bleveScene is the document structure Bleve indexes.
type bleveScene struct {
	Content string `json:"content"`
}

// NewBleveLexicalIndex opens or creates a Bleve index at path.
// An empty path creates an in-memory index for testing.
func NewBleveLexicalIndex(path string) (*BleveLexicalIndex, error) {
	m := buildBleveMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bleve index: %w", err)
	}

	return &BleveLexicalIndex{index: idx, path: path}, nil
}

func buildBleveMapping() mapping.IndexMapping {
	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	contentField.Store = false
	contentField.IncludeTermVectors = false

	sceneMapping := bleve.NewDocumentMapping()
	sceneMapping.AddFieldMappingsAt("content", contentField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = sceneMapping
	m.DefaultAnalyzer = standard.Name
	return m
}

// Index adds or replaces scene documents via a Bleve batch.
func (b *BleveLexicalIndex) Index(ctx context.Context, docs []*LexicalDoc) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveScene{Content: doc.Content}); err != nil {
			return fmt.Errorf("failed to batch scene %s: %w", doc.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index batch: %w", err)
	}
	return nil
}

// Search returns scenes matching the query with scores normalized to [0,1].
func (b *BleveLexicalIndex) Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("content")

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}

	results := make([]*LexicalResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, &LexicalResult{ID: hit.ID, Score: hit.Score})
	}
	normalizeLexicalScores(results)
	return results, nil
}

// Delete removes scenes from the index.
func (b *BleveLexicalIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// AllIDs returns all indexed content hashes.
func (b *BleveLexicalIndex) AllIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	count, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(count), 0, false)
	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate ids: %w", err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Close closes the index. Idempotent.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
