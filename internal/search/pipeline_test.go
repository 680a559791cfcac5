package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexrag/lexrag/internal/embed"
	"github.com/lexrag/lexrag/internal/store"
)

// fakeVector serves canned semantic results, an error, or blocks until the
// path context expires.
type fakeVector struct {
	results []*store.VectorResult
	err     error
	block   bool
}

func (f *fakeVector) Search(ctx context.Context, _ []float32, k int) ([]*store.VectorResult, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.results) {
		return f.results[:k], nil
	}
	return f.results, nil
}

// fakeLexical mirrors fakeVector for the keyword path.
type fakeLexical struct {
	results []*store.LexicalResult
	err     error
	block   bool
}

func (f *fakeLexical) Search(ctx context.Context, _ string, limit int) ([]*store.LexicalResult, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.results) {
		return f.results[:limit], nil
	}
	return f.results, nil
}

// fakePassages serves passage metadata from a map.
type fakePassages struct {
	passages map[string]*store.Passage
	err      error
}

func (f *fakePassages) GetPassages(_ context.Context, ids []string) ([]*store.Passage, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*store.Passage
	for _, id := range ids {
		if p, ok := f.passages[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// brokenReranker claims availability but fails every call.
type brokenReranker struct{}

func (b *brokenReranker) Rerank(context.Context, string, []string, int) ([]RerankResult, error) {
	return nil, errors.New("model crashed")
}
func (b *brokenReranker) Available(context.Context) bool { return true }
func (b *brokenReranker) Close() error                   { return nil }

// offlineReranker reports itself unavailable.
type offlineReranker struct{}

func (o *offlineReranker) Rerank(context.Context, string, []string, int) ([]RerankResult, error) {
	return nil, errors.New("unreachable")
}
func (o *offlineReranker) Available(context.Context) bool { return false }
func (o *offlineReranker) Close() error                   { return nil }

func testParams() Params {
	p := DefaultParams()
	p.PathTimeout = time.Second
	return p
}

func passageMap(ids ...string) map[string]*store.Passage {
	m := make(map[string]*store.Passage, len(ids))
	for _, id := range ids {
		m[id] = &store.Passage{
			ID:    id,
			Text:  "text of " + id,
			Title: "Title " + id,
		}
	}
	return m
}

func newTestPipeline(vector *fakeVector, lexical *fakeLexical, passages *fakePassages, params Params, opts ...PipelineOption) *Pipeline {
	// A typed-nil *fakePassages must become a nil PassageGetter interface,
	// or the pipeline's nil check cannot see it.
	var getter PassageGetter
	if passages != nil {
		getter = passages
	}
	return NewPipeline(embed.NewStaticEmbedder(8), vector, lexical, getter, params, opts...)
}

func resultIDs(results []RankedResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.PassageID
	}
	return ids
}

func TestPipeline_RejectsEmptyQuery(t *testing.T) {
	p := newTestPipeline(&fakeVector{}, &fakeLexical{}, nil, testParams())

	_, _, err := p.Retrieve(context.Background(), "   \t ", Options{})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestPipeline_HybridOrdering(t *testing.T) {
	// Overlapping candidate p2 outranks the semantic top hit p1.
	vector := &fakeVector{results: semanticResults("p1", 0.9, "p2", 0.5)}
	lexical := &fakeLexical{results: lexicalResults("p2", 5.0, "p3", 3.0)}
	passages := &fakePassages{passages: passageMap("p1", "p2", "p3")}

	p := newTestPipeline(vector, lexical, passages, testParams())

	results, degraded, err := p.Retrieve(context.Background(), "notice period", Options{})
	require.NoError(t, err)

	assert.False(t, degraded)
	assert.Equal(t, []string{"p2", "p1", "p3"}, resultIDs(results))

	// Provenance survives to the final results.
	assert.Equal(t, 2, results[0].SemanticRank)
	assert.Equal(t, 1, results[0].LexicalRank)
	assert.Equal(t, "Title p2", results[0].Title)
	assert.Equal(t, "text of p2", results[0].Text)
}

func TestPipeline_BothPathsEmpty_NotDegraded(t *testing.T) {
	p := newTestPipeline(&fakeVector{}, &fakeLexical{}, nil, testParams())

	results, degraded, err := p.Retrieve(context.Background(), "no such thing", Options{})
	require.NoError(t, err)

	// No evidence is a valid outcome, not a failure.
	assert.Empty(t, results)
	assert.False(t, degraded)
}

func TestPipeline_SemanticTimeout_DegradesToLexical(t *testing.T) {
	vector := &fakeVector{block: true}
	lexical := &fakeLexical{results: lexicalResults("p3", 8.0, "p1", 5.0)}
	passages := &fakePassages{passages: passageMap("p1", "p3")}

	params := testParams()
	params.PathTimeout = 30 * time.Millisecond
	p := newTestPipeline(vector, lexical, passages, params)

	results, degraded, err := p.Retrieve(context.Background(), "notice", Options{})
	require.NoError(t, err)

	assert.True(t, degraded)
	assert.Equal(t, []string{"p3", "p1"}, resultIDs(results))
}

func TestPipeline_LexicalFailure_DegradesToSemantic(t *testing.T) {
	vector := &fakeVector{results: semanticResults("p1", 0.9, "p2", 0.8)}
	lexical := &fakeLexical{err: errors.New("index corrupt")}

	p := newTestPipeline(vector, lexical, nil, testParams())

	results, degraded, err := p.Retrieve(context.Background(), "notice", Options{})
	require.NoError(t, err)

	assert.True(t, degraded)
	assert.Equal(t, []string{"p1", "p2"}, resultIDs(results))
}

func TestPipeline_BothPathsFail_EmptyAndDegraded(t *testing.T) {
	p := newTestPipeline(
		&fakeVector{err: errors.New("down")},
		&fakeLexical{err: errors.New("down")},
		nil, testParams())

	results, degraded, err := p.Retrieve(context.Background(), "notice", Options{})
	require.NoError(t, err)

	assert.Empty(t, results)
	assert.True(t, degraded)
}

func TestPipeline_DimensionMismatchIsFatal(t *testing.T) {
	vector := &fakeVector{err: store.DimensionMismatchError{Expected: 768, Got: 384}}
	lexical := &fakeLexical{results: lexicalResults("p1", 5.0)}

	p := newTestPipeline(vector, lexical, nil, testParams())

	_, _, err := p.Retrieve(context.Background(), "notice", Options{})
	require.Error(t, err)
	assert.True(t, store.IsDimensionMismatch(err))
}

func TestPipeline_CallerCancellation(t *testing.T) {
	p := newTestPipeline(&fakeVector{}, &fakeLexical{}, nil, testParams())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := p.Retrieve(ctx, "notice", Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_FinalKTruncates(t *testing.T) {
	vector := &fakeVector{results: semanticResults("p1", 0.9, "p2", 0.8, "p3", 0.7, "p4", 0.6)}

	params := testParams()
	params.FinalK = 2
	p := newTestPipeline(vector, &fakeLexical{}, nil, params)

	results, _, err := p.Retrieve(context.Background(), "notice", Options{})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestPipeline_FewerCandidatesThanFinalK(t *testing.T) {
	vector := &fakeVector{results: semanticResults("p1", 0.9)}

	params := testParams()
	params.FinalK = 10
	p := newTestPipeline(vector, &fakeLexical{}, nil, params)

	results, _, err := p.Retrieve(context.Background(), "notice", Options{})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestPipeline_PerCallOverrides(t *testing.T) {
	vector := &fakeVector{results: semanticResults("p1", 0.9, "p2", 0.8, "p3", 0.7)}
	p := newTestPipeline(vector, &fakeLexical{}, nil, testParams())

	results, _, err := p.Retrieve(context.Background(), "notice", Options{FinalK: 1})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestPipeline_PreFusionThreshold(t *testing.T) {
	vector := &fakeVector{results: semanticResults("p1", 0.9, "p2", 0.2)}
	lexical := &fakeLexical{results: lexicalResults("p2", 5.0)}

	params := testParams()
	params.SimilarityThreshold = 0.5
	p := newTestPipeline(vector, lexical, nil, params)

	results, degraded, err := p.Retrieve(context.Background(), "notice", Options{})
	require.NoError(t, err)

	// p2's semantic hit is filtered before fusion, but its lexical hit
	// still counts; filtering is not degradation.
	assert.False(t, degraded)
	require.Len(t, results, 2)
	for _, r := range results {
		if r.PassageID == "p2" {
			assert.Zero(t, r.SemanticRank)
		}
	}
}

func TestPipeline_PostFusionThreshold_LexicalOnlyPasses(t *testing.T) {
	vector := &fakeVector{results: semanticResults("p1", 0.9, "p2", 0.2)}
	lexical := &fakeLexical{results: lexicalResults("p3", 5.0)}

	params := testParams()
	params.SimilarityThreshold = 0.5
	params.ThresholdPolicy = ThresholdPostFusion
	p := newTestPipeline(vector, lexical, nil, params)

	results, _, err := p.Retrieve(context.Background(), "notice", Options{})
	require.NoError(t, err)

	// p2 was seen by the semantic path below threshold and is dropped
	// after fusion; lexical-only p3 passes.
	ids := resultIDs(results)
	assert.NotContains(t, ids, "p2")
	assert.Contains(t, ids, "p1")
	assert.Contains(t, ids, "p3")
}

func TestPipeline_NonPositiveLexicalScoresFiltered(t *testing.T) {
	lexical := &fakeLexical{results: lexicalResults("p1", 3.0, "p2", 0.0, "p3", -1.0)}
	p := newTestPipeline(&fakeVector{}, lexical, nil, testParams())

	results, _, err := p.Retrieve(context.Background(), "notice", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, resultIDs(results))
}

func TestPipeline_RerankerUnavailable_PassthroughDegraded(t *testing.T) {
	vector := &fakeVector{results: semanticResults("p1", 0.9, "p2", 0.8)}
	p := newTestPipeline(vector, &fakeLexical{}, nil, testParams(),
		WithReranker(&offlineReranker{}))

	results, degraded, err := p.Retrieve(context.Background(), "notice", Options{})
	require.NoError(t, err)

	assert.True(t, degraded)
	assert.Equal(t, []string{"p1", "p2"}, resultIDs(results))
	// Passthrough keeps the fused score as the rerank score.
	assert.Equal(t, results[0].FusionScore, results[0].RerankScore)
}

func TestPipeline_RerankerError_PassthroughDegraded(t *testing.T) {
	vector := &fakeVector{results: semanticResults("p1", 0.9, "p2", 0.8)}
	p := newTestPipeline(vector, &fakeLexical{}, nil, testParams(),
		WithReranker(&brokenReranker{}))

	results, degraded, err := p.Retrieve(context.Background(), "notice", Options{})
	require.NoError(t, err)

	assert.True(t, degraded)
	assert.Equal(t, []string{"p1", "p2"}, resultIDs(results))
}

func TestPipeline_NoopRerankerIsNotDegraded(t *testing.T) {
	vector := &fakeVector{results: semanticResults("p1", 0.9)}
	p := newTestPipeline(vector, &fakeLexical{}, nil, testParams(),
		WithReranker(&NoopReranker{}))

	_, degraded, err := p.Retrieve(context.Background(), "notice", Options{})
	require.NoError(t, err)
	assert.False(t, degraded, "an explicitly configured noop reranker is intentional")
}

func TestPipeline_OverlapRerankPromotesEchoingPassage(t *testing.T) {
	// p1 leads the fused order but p2's text echoes the query; with the
	// 0.7/0.3 blend and near-equal fusion scores, p2 overtakes.
	vector := &fakeVector{results: semanticResults("p1", 0.9, "p2", 0.89)}
	passages := &fakePassages{passages: map[string]*store.Passage{
		"p1": {ID: "p1", Text: "entirely unrelated content"},
		"p2": {ID: "p2", Text: "the termination notice period is thirty days"},
	}}

	p := newTestPipeline(vector, &fakeLexical{}, passages, testParams(),
		WithReranker(NewOverlapReranker()))

	results, degraded, err := p.Retrieve(context.Background(), "termination notice period", Options{})
	require.NoError(t, err)

	assert.False(t, degraded)
	require.Len(t, results, 2)
	assert.Equal(t, "p2", results[0].PassageID)

	// Blend: final = 0.7*fusion + 0.3*overlap.
	assert.InDelta(t, 0.7*results[0].FusionScore+0.3*results[0].RerankScore, results[0].FinalScore, 1e-9)
}

func TestPipeline_RerankDepthBoundsCandidates(t *testing.T) {
	vector := &fakeVector{results: semanticResults(
		"p1", 0.9, "p2", 0.8, "p3", 0.7, "p4", 0.6, "p5", 0.5)}

	params := testParams()
	params.RerankDepth = 3
	params.FinalK = 5
	p := newTestPipeline(vector, &fakeLexical{}, nil, params)

	results, _, err := p.Retrieve(context.Background(), "notice", Options{})
	require.NoError(t, err)

	// Only the fused top-3 reach reranking, so only 3 can come out.
	assert.Len(t, results, 3)
}

func TestPipeline_RecorderReceivesStats(t *testing.T) {
	var recorded []QueryStats
	recorder := recorderFunc(func(s QueryStats) { recorded = append(recorded, s) })

	vector := &fakeVector{results: semanticResults("p1", 0.9)}
	p := newTestPipeline(vector, &fakeLexical{}, nil, testParams(), WithRecorder(recorder))

	_, _, err := p.Retrieve(context.Background(), "notice", Options{})
	require.NoError(t, err)

	require.Len(t, recorded, 1)
	assert.Equal(t, 1, recorded[0].ResultCount)
	assert.False(t, recorded[0].Degraded)
	assert.Positive(t, recorded[0].Duration)
}

// recorderFunc adapts a function to the QueryRecorder interface.
type recorderFunc func(QueryStats)

func (f recorderFunc) RecordQuery(s QueryStats) { f(s) }
