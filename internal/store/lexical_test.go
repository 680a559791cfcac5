package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lexicalBackends runs a test against both lexical index implementations,
// which share one behavioral contract.
func lexicalBackends(t *testing.T, fn func(t *testing.T, idx LexicalIndex)) {
	t.Helper()

	t.Run("bleve", func(t *testing.T) {
		idx, err := NewBleveIndex("", DefaultLexicalConfig())
		require.NoError(t, err)
		t.Cleanup(func() { _ = idx.Close() })
		fn(t, idx)
	})

	t.Run("sqlite", func(t *testing.T) {
		idx, err := NewFTS5Index(filepath.Join(t.TempDir(), "lexical.db"), DefaultLexicalConfig())
		require.NoError(t, err)
		t.Cleanup(func() { _ = idx.Close() })
		fn(t, idx)
	})
}

func lexicalCorpus() []*Passage {
	return []*Passage{
		{ID: "p1", Text: "The employer shall provide written termination notice thirty days in advance."},
		{ID: "p2", Text: "Termination of a fixed-term contract requires notice and severance payment."},
		{ID: "p3", Text: "Annual leave entitlement accrues monthly for all employees."},
	}
}

func TestLexicalIndex_SearchRanksMatches(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, lexicalCorpus()))

		results, err := idx.Search(ctx, "termination notice", 10)
		require.NoError(t, err)

		require.Len(t, results, 2)
		ids := []string{results[0].PassageID, results[1].PassageID}
		assert.ElementsMatch(t, []string{"p1", "p2"}, ids)
		for _, r := range results {
			assert.Positive(t, r.Score)
			assert.NotEmpty(t, r.MatchedTerms)
		}
		// Scores descend.
		assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	})
}

func TestLexicalIndex_AnyTermMatches(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, lexicalCorpus()))

		// One matching term is enough; "severance" only appears in p2.
		results, err := idx.Search(ctx, "severance zebra", 10)
		require.NoError(t, err)

		require.Len(t, results, 1)
		assert.Equal(t, "p2", results[0].PassageID)
	})
}

func TestLexicalIndex_NoMatchReturnsEmpty(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, lexicalCorpus()))

		results, err := idx.Search(ctx, "zebra quagga", 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestLexicalIndex_AllStopWordQueryReturnsEmpty(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, lexicalCorpus()))

		// "shall" and "the" tokenize away entirely; not an error.
		results, err := idx.Search(ctx, "shall the thereof", 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestLexicalIndex_LimitRespected(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, lexicalCorpus()))

		results, err := idx.Search(ctx, "termination notice", 1)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})
}

func TestLexicalIndex_ReindexReplaces(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, lexicalCorpus()))

		replaced := []*Passage{{ID: "p1", Text: "Probation period rules."}}
		require.NoError(t, idx.Index(ctx, replaced))

		results, err := idx.Search(ctx, "probation", 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "p1", results[0].PassageID)

		// Old content for p1 is gone; only p2 still mentions termination.
		results, err = idx.Search(ctx, "termination", 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "p2", results[0].PassageID)
	})
}

func TestLexicalIndex_Delete(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, lexicalCorpus()))

		require.NoError(t, idx.Delete(ctx, []string{"p2"}))

		results, err := idx.Search(ctx, "severance", 10)
		require.NoError(t, err)
		assert.Empty(t, results)

		ids, err := idx.AllIDs()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"p1", "p3"}, ids)
	})
}

func TestLexicalIndex_Stats(t *testing.T) {
	lexicalBackends(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Index(ctx, lexicalCorpus()))

		stats := idx.Stats()
		require.NotNil(t, stats)
		assert.Equal(t, 3, stats.PassageCount)
	})
}

func TestNewLexicalIndex_BackendSelection(t *testing.T) {
	cfg := DefaultLexicalConfig()

	bleve, err := NewLexicalIndex(LexicalBackendBleve, "", cfg)
	require.NoError(t, err)
	defer func() { _ = bleve.Close() }()
	assert.IsType(t, &BleveIndex{}, bleve)

	sqlite, err := NewLexicalIndex(LexicalBackendSQLite, filepath.Join(t.TempDir(), "lex.db"), cfg)
	require.NoError(t, err)
	defer func() { _ = sqlite.Close() }()
	assert.IsType(t, &FTS5Index{}, sqlite)

	_, err = NewLexicalIndex("tantivy", "", cfg)
	assert.Error(t, err)
}
