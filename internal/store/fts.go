package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	_ "modernc.org/sqlite"
)

// SQLiteLexicalIndex implements LexicalIndex using SQLite FTS5.
// WAL mode allows the CLI and a long-running server to share one index.
type SQLiteLexicalIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ LexicalIndex = (*SQLiteLexicalIndex)(nil)

// NewSQLiteLexicalIndex creates a new FTS5-backed lexical index.
// An empty path creates an in-memory index for testing.
func NewSQLiteLexicalIndex(path string) (*SQLiteLexicalIndex, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open lexical index: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_scenes USING fts5(
		content_hash UNINDEXED,
		content,
		tokenize='unicode61'
	);

	-- FTS5 does not expose stored IDs reliably; track them separately.
	CREATE TABLE IF NOT EXISTS scene_ids (
		content_hash TEXT PRIMARY KEY
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize lexical schema: %w", err)
	}

	return &SQLiteLexicalIndex{db: db, path: path}, nil
}

// Index adds or replaces scene documents.
// FTS5 virtual tables have no REPLACE, so existing rows are deleted first.
func (s *SQLiteLexicalIndex) Index(ctx context.Context, docs []*LexicalDoc) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM fts_scenes WHERE content_hash = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, `INSERT INTO fts_scenes (content_hash, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer insertStmt.Close()

	idStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO scene_ids (content_hash) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare id insert: %w", err)
	}
	defer idStmt.Close()

	for _, doc := range docs {
		if _, err := deleteStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to delete scene %s: %w", doc.ID, err)
		}
		if _, err := insertStmt.ExecContext(ctx, doc.ID, doc.Content); err != nil {
			return fmt.Errorf("failed to index scene %s: %w", doc.ID, err)
		}
		if _, err := idStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to track scene %s: %w", doc.ID, err)
		}
	}

	return tx.Commit()
}

// Search returns scenes matching the query with scores normalized to [0,1]
// by dividing by the best score in the result set.
func (s *SQLiteLexicalIndex) Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	match := buildMatchQuery(query)
	if match == "" {
		return []*LexicalResult{}, nil
	}

	// FTS5 bm25() is negative, lower = better; ORDER BY score ascending
	// puts best matches first.
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, bm25(fts_scenes) AS score
		FROM fts_scenes
		WHERE content MATCH ?
		ORDER BY score
		LIMIT ?`, match, limit)
	if err != nil {
		// FTS5 reports malformed match queries as errors; treat as no results.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return []*LexicalResult{}, nil
		}
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	defer rows.Close()

	var results []*LexicalResult
	for rows.Next() {
		var hash string
		var score float64
		if err := rows.Scan(&hash, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, &LexicalResult{ID: hash, Score: -score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	normalizeLexicalScores(results)
	return results, nil
}

// Delete removes scenes from the index.
func (s *SQLiteLexicalIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inClause, args := placeholders(ids)
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM fts_scenes WHERE content_hash IN (%s)", inClause), args...); err != nil {
		return fmt.Errorf("failed to delete from FTS: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM scene_ids WHERE content_hash IN (%s)", inClause), args...); err != nil {
		return fmt.Errorf("failed to delete scene ids: %w", err)
	}

	return tx.Commit()
}

// AllIDs returns all indexed content hashes.
func (s *SQLiteLexicalIndex) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	rows, err := s.db.Query(`SELECT content_hash FROM scene_ids ORDER BY content_hash`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the index, checkpointing the WAL first. Idempotent.
func (s *SQLiteLexicalIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// buildMatchQuery turns a raw query into a safe FTS5 MATCH expression:
// terms are extracted and individually quoted, joined with implicit AND.
func buildMatchQuery(query string) string {
	terms := tokenizeQuery(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

// tokenizeQuery splits a query on non-alphanumeric runes, lowercased.
func tokenizeQuery(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// normalizeLexicalScores rescales scores so the best match is 1.0.
func normalizeLexicalScores(results []*LexicalResult) {
	var max float64
	for _, r := range results {
		if r.Score > max {
			max = r.Score
		}
	}
	if max <= 0 {
		return
	}
	for _, r := range results {
		r.Score /= max
	}
}
