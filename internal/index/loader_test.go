package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexrag/lexrag/internal/embed"
	"github.com/lexrag/lexrag/internal/store"
)

func writeCorpus(t *testing.T, records []Record) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, rec := range records {
		require.NoError(t, enc.Encode(rec))
	}
	return path
}

func testRecords() []Record {
	return []Record{
		{
			ID:        "gdpr-art17-p1",
			DocID:     "gdpr",
			Title:     "GDPR",
			Section:   "Art. 17",
			Text:      "The data subject shall have the right to erasure of personal data.",
			SourceURL: "https://example.org/gdpr#17",
		},
		{ID: "gdpr-art17-p2", DocID: "gdpr", Text: "The controller shall erase personal data without undue delay."},
		{ID: "ccpa-1798-105", DocID: "ccpa", Text: "A consumer may request deletion of personal information."},
	}
}

func newTestLoader(t *testing.T, dataDir string) (*Loader, embed.Embedder) {
	t.Helper()
	embedder := embed.NewStaticEmbedder(32)
	loader := NewLoader(LoaderConfig{
		DataDir:        dataDir,
		LexicalBackend: store.LexicalBackendBleve,
		LexicalConfig:  store.DefaultLexicalConfig(),
		BatchSize:      2,
	}, embedder, nil)
	return loader, embedder
}

func TestLoader_BuildsAllArtifacts(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	loader, _ := newTestLoader(t, dataDir)
	corpus := writeCorpus(t, testRecords())

	var lastDone, lastTotal int
	result, err := loader.Load(context.Background(), corpus, func(done, total int) {
		lastDone, lastTotal = done, total
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Loaded)
	assert.Equal(t, 3, result.Embedded)
	assert.Equal(t, 3, lastDone)
	assert.Equal(t, 3, lastTotal)

	assert.NotEmpty(t, result.Manifest.BuildID)
	assert.Equal(t, 3, result.Manifest.PassageCount)
	assert.Equal(t, "static-hash", result.Manifest.EmbeddingModel)
	assert.Equal(t, 32, result.Manifest.EmbeddingDimensions)

	for _, name := range []string{"passages.db", "vectors.hnsw", "manifest.json"} {
		_, err := os.Stat(filepath.Join(dataDir, name))
		assert.NoError(t, err, name)
	}
}

func TestLoader_PrecomputedEmbeddingsSkipProvider(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	loader, embedder := newTestLoader(t, dataDir)

	vec := make([]float32, embedder.Dimensions())
	vec[0] = 1
	records := testRecords()
	records[0].Embedding = vec

	result, err := loader.Load(context.Background(), writeCorpus(t, records), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Loaded)
	assert.Equal(t, 2, result.Embedded, "only records without a vector are embedded")
}

func TestLoader_RejectsWrongDimensionEmbedding(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	loader, _ := newTestLoader(t, dataDir)

	records := testRecords()
	records[1].Embedding = []float32{1, 2, 3} // loader runs at 32 dims

	_, err := loader.Load(context.Background(), writeCorpus(t, records), nil)
	require.Error(t, err)
	assert.True(t, store.IsDimensionMismatch(err))
}

func TestLoader_RejectsMissingFields(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	loader, _ := newTestLoader(t, dataDir)

	t.Run("missing id", func(t *testing.T) {
		corpus := writeCorpus(t, []Record{{Text: "no id"}})
		_, err := loader.Load(context.Background(), corpus, nil)
		assert.ErrorContains(t, err, "missing id")
	})

	t.Run("missing text", func(t *testing.T) {
		corpus := writeCorpus(t, []Record{{ID: "p1"}})
		_, err := loader.Load(context.Background(), corpus, nil)
		assert.ErrorContains(t, err, "missing text")
	})
}

func TestLoader_RejectsEmptyCorpus(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	loader, _ := newTestLoader(t, dataDir)
	corpus := writeCorpus(t, nil)

	_, err := loader.Load(context.Background(), corpus, nil)
	assert.ErrorContains(t, err, "no records")
}

func TestLoader_ManifestWrittenAtomically(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	loader, _ := newTestLoader(t, dataDir)

	_, err := loader.Load(context.Background(), writeCorpus(t, testRecords()), nil)
	require.NoError(t, err)

	// No temp file left behind.
	_, err = os.Stat(filepath.Join(dataDir, "manifest.json.tmp"))
	assert.True(t, os.IsNotExist(err))

	m, err := ReadManifest(filepath.Join(dataDir, "manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, store.LexicalBackendBleve, m.LexicalBackend)
}

func TestLoader_LargerCorpusAcrossBatches(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	loader, _ := newTestLoader(t, dataDir) // batch size 2

	var records []Record
	for i := 0; i < 7; i++ {
		records = append(records, Record{
			ID:   fmt.Sprintf("p%d", i),
			Text: fmt.Sprintf("passage number %d about retention", i),
		})
	}

	result, err := loader.Load(context.Background(), writeCorpus(t, records), nil)
	require.NoError(t, err)
	assert.Equal(t, 7, result.Loaded)
	assert.Equal(t, 7, result.Manifest.PassageCount)
}
