package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	sdxerrors "github.com/Aman-CERP/scenedex/internal/errors"
	"github.com/Aman-CERP/scenedex/internal/scene"
)

// SQLiteStore implements IndexStore on SQLite with WAL mode.
// One connection, single writer: document syncs serialize at the database
// level, while the per-document advisory lock in the sync layer keeps the
// read-diff-write cycle consistent.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ IndexStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the index database at path.
// An empty path creates an in-memory database for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA for modernc.org/sqlite; DSN params may be
	// ignored by the driver.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies additive schema migrations up to CurrentSchemaVersion.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("failed to create version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version < 1 {
		if err := s.applyBaseSchema(); err != nil {
			return err
		}
		version = 1
	}
	if version < 2 {
		// v2: track which agent wrote each metadata property. Nullable so
		// existing hash-keyed rows are untouched.
		if _, err := s.db.Exec(`ALTER TABLE scene_metadata ADD COLUMN agent_id TEXT`); err != nil {
			return fmt.Errorf("migration v2 failed: %w", err)
		}
		version = 2
	}

	_, err = s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, version)
	return err
}

func (s *SQLiteStore) applyBaseSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		path            TEXT NOT NULL UNIQUE,
		title           TEXT NOT NULL DEFAULT '',
		revision_marker TEXT NOT NULL DEFAULT '',
		synced_at       TIMESTAMP
	);

	-- Scenes are content-addressed: the hash is the primary key, and the
	-- same row serves every document containing identical content.
	CREATE TABLE IF NOT EXISTS scenes (
		content_hash TEXT PRIMARY KEY,
		heading_type TEXT NOT NULL,
		location     TEXT NOT NULL,
		time_of_day  TEXT NOT NULL,
		heading_raw  TEXT NOT NULL,
		raw_text     TEXT NOT NULL,
		created_at   TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scene_elements (
		content_hash  TEXT NOT NULL REFERENCES scenes(content_hash),
		ordinal       INTEGER NOT NULL,
		kind          TEXT NOT NULL,
		character     TEXT NOT NULL DEFAULT '',
		parenthetical TEXT NOT NULL DEFAULT '',
		text          TEXT NOT NULL,
		PRIMARY KEY (content_hash, ordinal)
	);

	-- The ordered scene sequence per document revision.
	CREATE TABLE IF NOT EXISTS document_scenes (
		document_id  INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		content_hash TEXT NOT NULL,
		ordinal      INTEGER NOT NULL,
		PRIMARY KEY (document_id, ordinal)
	);
	CREATE INDEX IF NOT EXISTS idx_document_scenes_hash ON document_scenes(content_hash);

	-- Extracted properties, independent of document membership. Retiring a
	-- scene from one document never deletes these rows.
	CREATE TABLE IF NOT EXISTS scene_metadata (
		content_hash  TEXT NOT NULL,
		property_name TEXT NOT NULL,
		value         TEXT NOT NULL,
		updated_at    TIMESTAMP NOT NULL,
		PRIMARY KEY (content_hash, property_name)
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		content_hash TEXT NOT NULL,
		model_id     TEXT NOT NULL,
		payload_ref  TEXT NOT NULL,
		dimensions   INTEGER NOT NULL,
		PRIMARY KEY (content_hash, model_id)
	);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply base schema: %w", err)
	}
	return nil
}

// GetDocument returns the document for path, or nil if it was never synced.
func (s *SQLiteStore) GetDocument(ctx context.Context, path string) (*DocumentRecord, error) {
	var doc DocumentRecord
	var syncedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, path, title, revision_marker, synced_at FROM documents WHERE path = ?`,
		path).Scan(&doc.ID, &doc.Path, &doc.Title, &doc.RevisionMarker, &syncedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	doc.SyncedAt = syncedAt.Time
	return &doc, nil
}

// SceneHashes returns the document's current hash sequence in order.
// A never-synced document yields an empty sequence.
func (s *SQLiteStore) SceneHashes(ctx context.Context, path string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ds.content_hash
		FROM document_scenes ds
		JOIN documents d ON d.id = ds.document_id
		WHERE d.path = ?
		ORDER BY ds.ordinal`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query scene hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// ApplySync atomically replaces a document's scene sequence.
// Returns the number of scenes newly inserted into the global scenes table;
// an unchanged re-sync inserts zero rows.
func (s *SQLiteStore) ApplySync(ctx context.Context, path, title, revisionMarker string, scenes []*scene.Scene) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, sdxerrors.TxError("failed to begin sync transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	// Upsert document row.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (path, title, revision_marker, synced_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title = excluded.title,
			revision_marker = excluded.revision_marker,
			synced_at = excluded.synced_at`,
		path, title, revisionMarker, now); err != nil {
		return 0, sdxerrors.TxError("failed to upsert document", err)
	}

	var docID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE path = ?`, path).Scan(&docID); err != nil {
		return 0, sdxerrors.TxError("failed to resolve document id", err)
	}

	// Insert scenes. INSERT OR IGNORE is load-bearing, not defensive: a
	// concurrent sync of another document can legitimately insert the same
	// content hash first.
	sceneStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO scenes
			(content_hash, heading_type, location, time_of_day, heading_raw, raw_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, sdxerrors.TxError("failed to prepare scene insert", err)
	}
	defer sceneStmt.Close()

	elemStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO scene_elements
			(content_hash, ordinal, kind, character, parenthetical, text)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, sdxerrors.TxError("failed to prepare element insert", err)
	}
	defer elemStmt.Close()

	inserted := 0
	for _, sc := range scenes {
		res, err := sceneStmt.ExecContext(ctx,
			sc.ContentHash, string(sc.Heading.Type), sc.Heading.Location,
			sc.Heading.TimeOfDay, sc.Heading.Raw, sc.Span.Text, now)
		if err != nil {
			return 0, sdxerrors.TxError("failed to insert scene", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			continue // content already known
		}
		inserted++
		for i, el := range sc.Elements {
			if _, err := elemStmt.ExecContext(ctx,
				sc.ContentHash, i, string(el.Kind), el.Character, el.Parenthetical, el.Text); err != nil {
				return 0, sdxerrors.TxError("failed to insert scene element", err)
			}
		}
	}

	// Replace the ordered sequence wholesale. The sequence is authoritative
	// for reconstruction, so partial updates are never acceptable.
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_scenes WHERE document_id = ?`, docID); err != nil {
		return 0, sdxerrors.TxError("failed to clear scene sequence", err)
	}
	seqStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_scenes (document_id, content_hash, ordinal) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, sdxerrors.TxError("failed to prepare sequence insert", err)
	}
	defer seqStmt.Close()

	for i, sc := range scenes {
		if _, err := seqStmt.ExecContext(ctx, docID, sc.ContentHash, i); err != nil {
			return 0, sdxerrors.TxError("failed to insert scene sequence", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, sdxerrors.TxError("failed to commit sync transaction", err)
	}
	return inserted, nil
}

// GetScene returns a scene with its element sub-rows, or nil if unknown.
func (s *SQLiteStore) GetScene(ctx context.Context, contentHash string) (*SceneRecord, error) {
	records, err := s.GetScenes(ctx, []string{contentHash})
	if err != nil {
		return nil, err
	}
	return records[contentHash], nil
}

// GetScenes batch-retrieves scenes with their elements.
func (s *SQLiteStore) GetScenes(ctx context.Context, contentHashes []string) (map[string]*SceneRecord, error) {
	records := make(map[string]*SceneRecord, len(contentHashes))
	if len(contentHashes) == 0 {
		return records, nil
	}

	inClause, args := placeholders(contentHashes)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT content_hash, heading_type, location, time_of_day, heading_raw, raw_text, created_at
		FROM scenes WHERE content_hash IN (%s)`, inClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r SceneRecord
		var headingType string
		if err := rows.Scan(&r.ContentHash, &headingType, &r.Heading.Location,
			&r.Heading.TimeOfDay, &r.Heading.Raw, &r.RawText, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Heading.Type = scene.SceneType(headingType)
		records[r.ContentHash] = &r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	elemRows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT content_hash, kind, character, parenthetical, text
		FROM scene_elements WHERE content_hash IN (%s)
		ORDER BY content_hash, ordinal`, inClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scene elements: %w", err)
	}
	defer elemRows.Close()

	for elemRows.Next() {
		var hash, kind string
		el := &scene.Element{}
		if err := elemRows.Scan(&hash, &kind, &el.Character, &el.Parenthetical, &el.Text); err != nil {
			return nil, err
		}
		el.Kind = scene.ElementKind(kind)
		if r, ok := records[hash]; ok {
			r.Elements = append(r.Elements, el)
		}
	}
	return records, elemRows.Err()
}

// PrimaryRef returns the lowest-ordinal occurrence of a scene.
func (s *SQLiteStore) PrimaryRef(ctx context.Context, contentHash string) (*SceneRef, error) {
	var ref SceneRef
	err := s.db.QueryRowContext(ctx, `
		SELECT d.path, ds.ordinal
		FROM document_scenes ds
		JOIN documents d ON d.id = ds.document_id
		WHERE ds.content_hash = ?
		ORDER BY ds.ordinal, d.path
		LIMIT 1`, contentHash).Scan(&ref.DocumentPath, &ref.Ordinal)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scene ref: %w", err)
	}
	return &ref, nil
}

// UnreferencedHashes filters hashes down to those no document links anymore.
func (s *SQLiteStore) UnreferencedHashes(ctx context.Context, contentHashes []string) ([]string, error) {
	var unreferenced []string
	for _, h := range contentHashes {
		var count int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM document_scenes WHERE content_hash = ?`, h).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count references: %w", err)
		}
		if count == 0 {
			unreferenced = append(unreferenced, h)
		}
	}
	return unreferenced, nil
}

// SaveMetadata writes one extracted property for a scene. The value is
// opaque JSON; it is validated for well-formedness only.
func (s *SQLiteStore) SaveMetadata(ctx context.Context, contentHash, property string, value json.RawMessage, agentID string) error {
	if !json.Valid(value) {
		return sdxerrors.New(sdxerrors.ErrCodeInvalidInput,
			fmt.Sprintf("metadata value for %q is not valid JSON", property), nil)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scene_metadata (content_hash, property_name, value, updated_at, agent_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_hash, property_name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at,
			agent_id = excluded.agent_id`,
		contentHash, property, string(value), time.Now().UTC(), nullString(agentID))
	if err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// GetMetadata returns all extracted properties for a scene.
func (s *SQLiteStore) GetMetadata(ctx context.Context, contentHash string) (map[string]json.RawMessage, error) {
	all, err := s.MetadataForHashes(ctx, []string{contentHash})
	if err != nil {
		return nil, err
	}
	if m, ok := all[contentHash]; ok {
		return m, nil
	}
	return map[string]json.RawMessage{}, nil
}

// MetadataForHashes batch-retrieves metadata maps for multiple scenes.
func (s *SQLiteStore) MetadataForHashes(ctx context.Context, contentHashes []string) (map[string]map[string]json.RawMessage, error) {
	result := make(map[string]map[string]json.RawMessage)
	if len(contentHashes) == 0 {
		return result, nil
	}

	inClause, args := placeholders(contentHashes)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT content_hash, property_name, value
		FROM scene_metadata WHERE content_hash IN (%s)`, inClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash, prop, value string
		if err := rows.Scan(&hash, &prop, &value); err != nil {
			return nil, err
		}
		if result[hash] == nil {
			result[hash] = make(map[string]json.RawMessage)
		}
		result[hash][prop] = json.RawMessage(value)
	}
	return result, rows.Err()
}

// SaveEmbeddingRef records where a scene's embedding lives. The first write
// for a model fixes its dimensionality; later writes with a different
// dimension are rejected.
func (s *SQLiteStore) SaveEmbeddingRef(ctx context.Context, contentHash, modelID, payloadRef string, dimensions int) error {
	known, err := s.DimensionsForModel(ctx, modelID)
	if err != nil {
		return err
	}
	if known != 0 && known != dimensions {
		return sdxerrors.New(sdxerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("model %s has dimension %d, got %d", modelID, known, dimensions), nil)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO embeddings (content_hash, model_id, payload_ref, dimensions)
		VALUES (?, ?, ?, ?)`,
		contentHash, modelID, payloadRef, dimensions)
	if err != nil {
		return fmt.Errorf("failed to save embedding ref: %w", err)
	}
	return nil
}

// EmbeddingRefs returns content_hash -> payload_ref for a model.
func (s *SQLiteStore) EmbeddingRefs(ctx context.Context, modelID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content_hash, payload_ref FROM embeddings WHERE model_id = ?`, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedding refs: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]string)
	for rows.Next() {
		var hash, ref string
		if err := rows.Scan(&hash, &ref); err != nil {
			return nil, err
		}
		refs[hash] = ref
	}
	return refs, rows.Err()
}

// DimensionsForModel returns the recorded dimensionality for a model, or 0
// if the model has no embeddings yet.
func (s *SQLiteStore) DimensionsForModel(ctx context.Context, modelID string) (int, error) {
	var dims int
	err := s.db.QueryRowContext(ctx,
		`SELECT dimensions FROM embeddings WHERE model_id = ? LIMIT 1`, modelID).Scan(&dims)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query model dimensions: %w", err)
	}
	return dims, nil
}

// GetState reads a runtime state value. Missing keys return "".
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state: %w", err)
	}
	return value, nil
}

// SetState writes a runtime state value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}
	return nil
}

// ListDocuments returns all tracked documents ordered by path.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, title, revision_marker, synced_at FROM documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*DocumentRecord
	for rows.Next() {
		var doc DocumentRecord
		var syncedAt sql.NullTime
		if err := rows.Scan(&doc.ID, &doc.Path, &doc.Title, &doc.RevisionMarker, &syncedAt); err != nil {
			return nil, err
		}
		doc.SyncedAt = syncedAt.Time
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// Close closes the store, checkpointing the WAL first.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// placeholders builds a "?,?,..." clause and matching args slice.
func placeholders(values []string) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = v
	}
	return strings.Join(marks, ","), args
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
