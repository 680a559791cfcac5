package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// FTS5Index implements LexicalIndex on SQLite FTS5. Alternative backend to
// BleveIndex for deployments that want one storage engine for everything.
type FTS5Index struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	config    LexicalConfig
	closed    bool
	stopWords map[string]struct{}
}

var _ LexicalIndex = (*FTS5Index)(nil)

// validateFTS5Integrity checks an FTS5 index file before opening.
// Returns nil if the file is absent (it will be created) or healthy.
func validateFTS5Integrity(path string) error {
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

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
	                   WHERE type='table' AND name='fts_passages'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("FTS5 table 'fts_passages' missing")
	}
	return nil
}

// NewFTS5Index creates an FTS5-backed lexical index at path.
// An empty path creates an in-memory index for testing. A corrupt index file
// is cleared and recreated empty; the loader rebuilds it.
func NewFTS5Index(path string, config LexicalConfig) (*FTS5Index, error) {
	if config.MinTokenLength == 0 {
		config.MinTokenLength = 2
	}

	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}

		if validErr := validateFTS5Integrity(path); validErr != nil {
			slog.Warn("fts5_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("fts5_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, reload the corpus"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

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

	idx := &FTS5Index{
		db:        db,
		path:      path,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return idx, nil
}

func (s *FTS5Index) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- FTS5 virtual table with BM25 scoring. Content is pre-tokenized with
	-- the shared normalizer so query and index terms always align.
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_passages USING fts5(
		passage_id UNINDEXED,
		content,
		tokenize='unicode61'
	);

	-- FTS5 does not expose rowids reliably; track IDs separately.
	CREATE TABLE IF NOT EXISTS passage_ids (
		passage_id TEXT PRIMARY KEY
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Index adds passages. Existing IDs are replaced (FTS5 virtual tables do not
// support REPLACE, so delete-then-insert).
func (s *FTS5Index) Index(ctx context.Context, passages []*Passage) error {
	if len(passages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx,
		`DELETE FROM fts_passages WHERE passage_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fts_passages(passage_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer insertStmt.Close()

	idStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO passage_ids(passage_id) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("prepare id insert: %w", err)
	}
	defer idStmt.Close()

	for _, p := range passages {
		tokens := TokenizeText(p.Text, s.config.MinTokenLength)
		tokens = FilterStopWords(tokens, s.stopWords)
		content := strings.Join(tokens, " ")

		if _, err := deleteStmt.ExecContext(ctx, p.ID); err != nil {
			return fmt.Errorf("delete existing passage %s: %w", p.ID, err)
		}
		if _, err := insertStmt.ExecContext(ctx, p.ID, content); err != nil {
			return fmt.Errorf("index passage %s: %w", p.ID, err)
		}
		if _, err := idStmt.ExecContext(ctx, p.ID); err != nil {
			return fmt.Errorf("track passage id %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// Search returns up to limit passages containing at least one query token,
// scored by BM25 descending. FTS5's bm25() is negative (lower = better), so
// ordering ascending by raw score with the negation applied on scan yields
// descending relevance; passage_id breaks ties deterministically.
func (s *FTS5Index) Search(ctx context.Context, queryStr string, limit int) ([]*LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("lexical index is closed: %w", ErrIndexUnavailable)
	}

	if strings.TrimSpace(queryStr) == "" {
		return []*LexicalResult{}, nil
	}

	tokens := QueryTerms(queryStr, s.config)
	if len(tokens) == 0 {
		return []*LexicalResult{}, nil
	}

	// OR semantics: a passage matches if it contains any query token.
	matchExpr := strings.Join(quoteTokens(tokens), " OR ")

	query := `
		SELECT passage_id, bm25(fts_passages) AS score
		FROM fts_passages
		WHERE content MATCH ?
		ORDER BY score, passage_id
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, matchExpr, limit)
	if err != nil {
		// FTS5 errors on malformed match expressions; treat as no results.
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*LexicalResult{}, nil
		}
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var results []*LexicalResult
	for rows.Next() {
		var passageID string
		var score float64
		if err := rows.Scan(&passageID, &score); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, &LexicalResult{
			PassageID:    passageID,
			Score:        -score,
			MatchedTerms: tokens,
		})
	}
	return results, rows.Err()
}

// quoteTokens wraps tokens in FTS5 string quotes so bare terms can never be
// parsed as query syntax.
func quoteTokens(tokens []string) []string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return quoted
}

// Delete removes passages from the index.
func (s *FTS5Index) Delete(ctx context.Context, ids []string) error {
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
		fmt.Sprintf("DELETE FROM fts_passages WHERE passage_id IN (%s)", inClause), args...); err != nil {
		return fmt.Errorf("delete from fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM passage_ids WHERE passage_id IN (%s)", inClause), args...); err != nil {
		return fmt.Errorf("delete from passage_ids: %w", err)
	}

	return tx.Commit()
}

// AllIDs returns all indexed passage IDs, sorted ascending.
func (s *FTS5Index) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	rows, err := s.db.Query(`SELECT passage_id FROM passage_ids ORDER BY passage_id`)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats returns index statistics.
func (s *FTS5Index) Stats() *LexicalStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &LexicalStats{}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM passage_ids`).Scan(&count); err != nil {
		return &LexicalStats{}
	}
	return &LexicalStats{PassageCount: count}
}

// Close checkpoints the WAL and closes the index. Idempotent.
func (s *FTS5Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
