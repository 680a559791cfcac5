// Package index builds the on-disk corpus artifacts (passage store, vector
// index, lexical index) from normalized JSONL records, and hot-reloads them
// into serving processes.
package index

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/lexrag/lexrag/internal/embed"
	"github.com/lexrag/lexrag/internal/store"
)

// Record is one normalized passage record in the ingestion JSONL. The
// embedding is optional; records without one are embedded during the load.
type Record struct {
	ID            string    `json:"id"`
	DocID         string    `json:"doc_id"`
	Title         string    `json:"title,omitempty"`
	Section       string    `json:"section,omitempty"`
	SourceURL     string    `json:"source_url,omitempty"`
	Jurisdiction  []string  `json:"jurisdiction,omitempty"`
	EffectiveDate string    `json:"effective_date,omitempty"`
	Text          string    `json:"text"`
	Embedding     []float32 `json:"embedding,omitempty"`
}

// Manifest describes one completed index build. It is written last, with an
// atomic rename, so a manifest on disk always refers to a complete build.
type Manifest struct {
	BuildID             string    `json:"build_id"`
	BuiltAt             time.Time `json:"built_at"`
	PassageCount        int       `json:"passage_count"`
	EmbeddingModel      string    `json:"embedding_model"`
	EmbeddingDimensions int       `json:"embedding_dimensions"`
	LexicalBackend      string    `json:"lexical_backend"`
}

// LoaderConfig configures a corpus load.
type LoaderConfig struct {
	DataDir        string
	LexicalBackend string
	LexicalConfig  store.LexicalConfig
	BatchSize      int // Embedding/indexing batch size, default 64
}

// Loader ingests JSONL corpora into the passage store and both indices.
type Loader struct {
	cfg      LoaderConfig
	embedder embed.Embedder
	logger   *slog.Logger
}

// NewLoader creates a corpus loader.
func NewLoader(cfg LoaderConfig, embedder embed.Embedder, logger *slog.Logger) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cfg: cfg, embedder: embedder, logger: logger}
}

// LoadResult summarizes a completed load.
type LoadResult struct {
	Manifest Manifest
	Loaded   int
	Embedded int // Records that needed a fresh embedding
}

// Load reads the JSONL corpus at corpusPath and rebuilds the passage store,
// vector index and lexical index under the data directory, writing the
// manifest last. A file lock serializes rebuilds; a second concurrent load
// fails fast instead of interleaving.
func (l *Loader) Load(ctx context.Context, corpusPath string, progress func(done, total int)) (*LoadResult, error) {
	if err := os.MkdirAll(l.cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	lock := flock.New(filepath.Join(l.cfg.DataDir, ".rebuild.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire rebuild lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another rebuild is already running on %s", l.cfg.DataDir)
	}
	defer func() { _ = lock.Unlock() }()

	records, err := readRecords(corpusPath)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("corpus %s contains no records", corpusPath)
	}

	// Unlink the previous build so the rebuild starts from scratch. Serving
	// processes keep their already-open file handles until the post-reload
	// grace period, so this does not disturb in-flight queries.
	if err := l.removePreviousBuild(); err != nil {
		return nil, err
	}

	passageStore, err := store.NewSQLitePassageStore(filepath.Join(l.cfg.DataDir, "passages.db"))
	if err != nil {
		return nil, fmt.Errorf("open passage store: %w", err)
	}
	defer passageStore.Close()

	lexicalPath := filepath.Join(l.cfg.DataDir, "lexical.bleve")
	if l.cfg.LexicalBackend == store.LexicalBackendSQLite {
		lexicalPath = filepath.Join(l.cfg.DataDir, "lexical.db")
	}
	lexical, err := store.NewLexicalIndex(l.cfg.LexicalBackend, lexicalPath, l.cfg.LexicalConfig)
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	defer lexical.Close()

	dims := l.embedder.Dimensions()
	vector, err := store.NewHNSWIndex(store.VectorIndexConfig{Dimensions: dims})
	if err != nil {
		return nil, fmt.Errorf("create vector index: %w", err)
	}
	defer vector.Close()

	result := &LoadResult{}

	for start := 0; start < len(records); start += l.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + l.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		embedded, err := l.loadBatch(ctx, batch, passageStore, lexical, vector)
		if err != nil {
			return nil, err
		}
		result.Embedded += embedded
		result.Loaded += len(batch)

		if progress != nil {
			progress(end, len(records))
		}
	}

	vectorPath := filepath.Join(l.cfg.DataDir, "vectors.hnsw")
	if err := vector.Save(vectorPath); err != nil {
		return nil, fmt.Errorf("save vector index: %w", err)
	}

	// Record index identity for query-time mismatch detection.
	if err := passageStore.SetState(ctx, store.StateKeyIndexDimension, strconv.Itoa(dims)); err != nil {
		return nil, err
	}
	if err := passageStore.SetState(ctx, store.StateKeyIndexModel, l.embedder.ModelName()); err != nil {
		return nil, err
	}
	if err := passageStore.SetState(ctx, store.StateKeyIndexBuiltAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}

	result.Manifest = Manifest{
		BuildID:             uuid.NewString(),
		BuiltAt:             time.Now().UTC(),
		PassageCount:        result.Loaded,
		EmbeddingModel:      l.embedder.ModelName(),
		EmbeddingDimensions: dims,
		LexicalBackend:      l.cfg.LexicalBackend,
	}
	if err := writeManifest(filepath.Join(l.cfg.DataDir, "manifest.json"), result.Manifest); err != nil {
		return nil, err
	}

	l.logger.Info("corpus_loaded",
		slog.String("build_id", result.Manifest.BuildID),
		slog.Int("passages", result.Loaded),
		slog.Int("embedded", result.Embedded),
		slog.String("model", result.Manifest.EmbeddingModel))

	return result, nil
}

// removePreviousBuild deletes the artifacts of the previous build, if any.
// The manifest stays in place until the new one replaces it by rename.
func (l *Loader) removePreviousBuild() error {
	for _, name := range []string{
		"passages.db", "passages.db-wal", "passages.db-shm",
		"lexical.db", "lexical.db-wal", "lexical.db-shm",
		"vectors.hnsw",
	} {
		if err := os.Remove(filepath.Join(l.cfg.DataDir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale %s: %w", name, err)
		}
	}
	if err := os.RemoveAll(filepath.Join(l.cfg.DataDir, "lexical.bleve")); err != nil {
		return fmt.Errorf("remove stale lexical index: %w", err)
	}
	return nil
}

// loadBatch persists one batch of records across all three artifacts,
// embedding records that arrived without a vector.
func (l *Loader) loadBatch(ctx context.Context, batch []Record, passageStore store.PassageStore, lexical store.LexicalIndex, vector store.VectorIndex) (int, error) {
	passages := make([]*store.Passage, len(batch))
	ids := make([]string, len(batch))
	vectors := make([][]float32, len(batch))

	var missingIdx []int
	var missingTexts []string
	dims := l.embedder.Dimensions()

	for i, rec := range batch {
		passages[i] = &store.Passage{
			ID:            rec.ID,
			DocID:         rec.DocID,
			Text:          rec.Text,
			Title:         rec.Title,
			Section:       rec.Section,
			SourceURL:     rec.SourceURL,
			Jurisdiction:  rec.Jurisdiction,
			EffectiveDate: rec.EffectiveDate,
		}
		ids[i] = rec.ID

		if len(rec.Embedding) > 0 {
			if len(rec.Embedding) != dims {
				return 0, store.DimensionMismatchError{Expected: dims, Got: len(rec.Embedding)}
			}
			vectors[i] = rec.Embedding
		} else {
			missingIdx = append(missingIdx, i)
			missingTexts = append(missingTexts, rec.Text)
		}
	}

	if len(missingTexts) > 0 {
		embedded, err := l.embedder.EmbedBatch(ctx, missingTexts)
		if err != nil {
			return 0, fmt.Errorf("embed batch: %w", err)
		}
		for j, idx := range missingIdx {
			vectors[idx] = embedded[j]
		}
	}

	if err := passageStore.SavePassages(ctx, passages); err != nil {
		return 0, fmt.Errorf("save passages: %w", err)
	}
	if err := passageStore.SaveEmbeddings(ctx, ids, vectors, l.embedder.ModelName()); err != nil {
		return 0, fmt.Errorf("save embeddings: %w", err)
	}
	if err := lexical.Index(ctx, passages); err != nil {
		return 0, fmt.Errorf("index passages lexically: %w", err)
	}
	if err := vector.Add(ctx, ids, vectors); err != nil {
		return 0, fmt.Errorf("add vectors: %w", err)
	}

	return len(missingTexts), nil
}

// readRecords parses the JSONL corpus, validating required fields.
func readRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	// Legal passages can be long; allow lines up to 10MB.
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("corpus line %d: %w", lineNo, err)
		}
		if rec.ID == "" {
			return nil, fmt.Errorf("corpus line %d: missing id", lineNo)
		}
		if rec.Text == "" {
			return nil, fmt.Errorf("corpus line %d: missing text", lineNo)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return records, nil
}

// writeManifest writes the manifest atomically (temp file + rename) so the
// reload watcher never observes a partial manifest.
func writeManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest at path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}
