package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLitePassageStore implements PassageStore on modernc.org/sqlite.
// WAL mode allows the MCP server and CLI to read the same database file
// concurrently; a single-connection pool keeps writes serialized.
type SQLitePassageStore struct {
	db   *sql.DB
	path string
}

var _ PassageStore = (*SQLitePassageStore)(nil)

// validatePassageDBIntegrity checks a passage database before opening.
// Returns nil if the file is absent (it will be created) or healthy.
func validatePassageDBIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLitePassageStore opens (or creates) a passage store at path.
// An empty path opens an in-memory store for testing. A corrupt database
// file is cleared and recreated; the corpus is rebuilt by the loader.
func NewSQLitePassageStore(path string) (*SQLitePassageStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}

		if validErr := validatePassageDBIntegrity(path); validErr != nil {
			slog.Warn("passage_store_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("passage store corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("passage_store_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, reload the corpus"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer prevents SQLITE_BUSY under concurrent access.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores some DSN params; set pragmas explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLitePassageStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLitePassageStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS passages (
		id             TEXT PRIMARY KEY,
		doc_id         TEXT NOT NULL,
		text           TEXT NOT NULL,
		title          TEXT NOT NULL DEFAULT '',
		section        TEXT NOT NULL DEFAULT '',
		source_url     TEXT NOT NULL DEFAULT '',
		jurisdiction   TEXT NOT NULL DEFAULT '',
		effective_date TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_passages_doc_id ON passages(doc_id);

	CREATE TABLE IF NOT EXISTS embeddings (
		passage_id TEXT PRIMARY KEY REFERENCES passages(id) ON DELETE CASCADE,
		vector     BLOB NOT NULL,
		model      TEXT NOT NULL
	);

	-- Key-value state: index embedding dimension, model name, build time.
	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SavePassages inserts or replaces passages in one transaction.
func (s *SQLitePassageStore) SavePassages(ctx context.Context, passages []*Passage) error {
	if len(passages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO passages
			(id, doc_id, text, title, section, source_url, jurisdiction, effective_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, p := range passages {
		if p.ID == "" {
			return fmt.Errorf("passage with empty id")
		}
		if p.Text == "" {
			return fmt.Errorf("passage %s has empty text", p.ID)
		}
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.DocID, p.Text, p.Title, p.Section, p.SourceURL,
			strings.Join(p.Jurisdiction, ","), p.EffectiveDate, createdAt.Unix(),
		); err != nil {
			return fmt.Errorf("save passage %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

const passageColumns = "id, doc_id, text, title, section, source_url, jurisdiction, effective_date, created_at"

func scanPassage(scanner interface{ Scan(...any) error }) (*Passage, error) {
	var p Passage
	var jurisdiction string
	var createdAt int64
	if err := scanner.Scan(&p.ID, &p.DocID, &p.Text, &p.Title, &p.Section,
		&p.SourceURL, &jurisdiction, &p.EffectiveDate, &createdAt); err != nil {
		return nil, err
	}
	if jurisdiction != "" {
		p.Jurisdiction = strings.Split(jurisdiction, ",")
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	return &p, nil
}

// GetPassage returns a single passage, or nil if absent.
func (s *SQLitePassageStore) GetPassage(ctx context.Context, id string) (*Passage, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+passageColumns+" FROM passages WHERE id = ?", id)
	p, err := scanPassage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get passage %s: %w", id, err)
	}
	return p, nil
}

// GetPassages returns passages for the given IDs in one query.
// Missing IDs are skipped; callers detect gaps by comparing lengths.
func (s *SQLitePassageStore) GetPassages(ctx context.Context, ids []string) ([]*Passage, error) {
	if len(ids) == 0 {
		return []*Passage{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+passageColumns+" FROM passages WHERE id IN ("+strings.Join(placeholders, ",")+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("get passages: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Passage, len(ids))
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve the caller's ID order.
	result := make([]*Passage, 0, len(byID))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

// AllIDs returns all passage IDs, sorted ascending.
func (s *SQLitePassageStore) AllIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM passages ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query passage ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan passage id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of stored passages.
func (s *SQLitePassageStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM passages").Scan(&count); err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	return count, nil
}

// DeletePassages removes passages and their embeddings by ID.
func (s *SQLitePassageStore) DeletePassages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := strings.Join(placeholders, ",")

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM embeddings WHERE passage_id IN (%s)", inClause), args...); err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM passages WHERE id IN (%s)", inClause), args...); err != nil {
		return fmt.Errorf("delete passages: %w", err)
	}

	return tx.Commit()
}

// SaveEmbeddings persists passage embeddings as little-endian float32 blobs.
func (s *SQLitePassageStore) SaveEmbeddings(ctx context.Context, ids []string, vectors [][]float32, model string) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO embeddings (passage_id, vector, model) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare embedding insert: %w", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, encodeVector(vectors[i]), model); err != nil {
			return fmt.Errorf("save embedding for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// GetAllEmbeddings returns every stored embedding keyed by passage ID.
// Used by the loader to rebuild the vector index without re-embedding.
func (s *SQLitePassageStore) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT passage_id, vector FROM embeddings")
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		result[id] = decodeVector(blob)
	}
	return result, rows.Err()
}

// GetState returns the value for a state key, or "" if unset.
func (s *SQLitePassageStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores a state key-value pair.
func (s *SQLitePassageStore) SetState(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)", key, value); err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLitePassageStore) Close() error {
	if s.db == nil {
		return nil
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := s.db.Close()
	s.db = nil
	return err
}

// encodeVector packs a float32 slice into a little-endian blob.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a little-endian blob into a float32 slice.
func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
