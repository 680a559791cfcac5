package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lexrag/lexrag/internal/embed"
	"github.com/lexrag/lexrag/internal/store"
)

// Stage identifies a pipeline phase. The machine runs
// Idle → Retrieving → Fusing → Reranking → Completed per query, with the
// degraded flag reachable from any stage.
type Stage int

const (
	StageIdle Stage = iota
	StageRetrieving
	StageFusing
	StageReranking
	StageCompleted
)

// String returns the stage name for logging.
func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageRetrieving:
		return "retrieving"
	case StageFusing:
		return "fusing"
	case StageReranking:
		return "reranking"
	case StageCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// VectorSearcher is the semantic path's read interface.
type VectorSearcher interface {
	Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error)
}

// LexicalSearcher is the lexical path's read interface.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]*store.LexicalResult, error)
}

// PassageGetter enriches final results with citation metadata.
type PassageGetter interface {
	GetPassages(ctx context.Context, ids []string) ([]*store.Passage, error)
}

// QueryStats is one query's telemetry record.
type QueryStats struct {
	Duration    time.Duration
	ResultCount int
	Degraded    bool
}

// QueryRecorder receives per-query telemetry. Optional on the pipeline.
type QueryRecorder interface {
	RecordQuery(stats QueryStats)
}

// Pipeline orchestrates retrieval → fusion → rerank as a chain of
// independently failable stages. Collaborators are injected at construction;
// the pipeline itself holds no per-query state, so one instance serves
// unboundedly many concurrent queries.
type Pipeline struct {
	embedder embed.Embedder
	vector   VectorSearcher
	lexical  LexicalSearcher
	passages PassageGetter
	reranker Reranker

	params   Params
	logger   *slog.Logger
	recorder QueryRecorder
}

// PipelineOption configures optional pipeline collaborators.
type PipelineOption func(*Pipeline)

// WithReranker sets the reranking stage implementation. Without it the
// fused order passes through unchanged via NoopReranker.
func WithReranker(r Reranker) PipelineOption {
	return func(p *Pipeline) { p.reranker = r }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// WithRecorder sets the telemetry sink.
func WithRecorder(r QueryRecorder) PipelineOption {
	return func(p *Pipeline) { p.recorder = r }
}

// NewPipeline creates a retrieval pipeline. embedder, vector and lexical are
// required; passages may be nil (results then carry IDs and scores without
// citation metadata).
func NewPipeline(embedder embed.Embedder, vector VectorSearcher, lexical LexicalSearcher, passages PassageGetter, params Params, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		embedder: embedder,
		vector:   vector,
		lexical:  lexical,
		passages: passages,
		params:   params,
		reranker: &NoopReranker{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// pathResults carries the Retrieving stage's output. Degraded is set when a
// path failed or timed out, as opposed to legitimately returning nothing.
type pathResults struct {
	semantic []*store.VectorResult
	lexical  []*store.LexicalResult
	degraded bool
}

// Retrieve runs the full pipeline for one query and returns the final
// ranked results plus the degradation flag. Empty results with
// degraded=false is the valid no-evidence outcome. Only malformed input
// (empty query), dimension mismatches, and caller cancellation produce
// errors; per-path failures degrade to empty candidate lists.
func (p *Pipeline) Retrieve(ctx context.Context, query string, opts Options) ([]RankedResult, bool, error) {
	if strings.TrimSpace(query) == "" {
		return nil, false, ErrEmptyQuery
	}

	params := p.params.resolve(opts)
	start := time.Now()

	paths, err := p.retrieve(ctx, query, params)
	if err != nil {
		return nil, false, err
	}
	degraded := paths.degraded

	fused := p.fuse(paths, params)

	results, rerankDegraded := p.rerank(ctx, query, fused, params)
	degraded = degraded || rerankDegraded

	p.enrich(ctx, results)

	p.logger.Debug("query_completed",
		slog.String("stage", StageCompleted.String()),
		slog.Int("results", len(results)),
		slog.Bool("degraded", degraded),
		slog.Duration("duration", time.Since(start)))

	if p.recorder != nil {
		p.recorder.RecordQuery(QueryStats{
			Duration:    time.Since(start),
			ResultCount: len(results),
			Degraded:    degraded,
		})
	}

	return results, degraded, nil
}

// retrieve runs both search paths concurrently, each under the per-path
// timeout. A failed or slow path degrades to an empty candidate list; a
// dimension mismatch is fatal for the request and aborts the sibling path.
func (p *Pipeline) retrieve(ctx context.Context, query string, params Params) (*pathResults, error) {
	paths := &pathResults{}

	g, gctx := errgroup.WithContext(ctx)

	var semanticDegraded, lexicalDegraded bool

	g.Go(func() error {
		pathCtx, cancel := context.WithTimeout(gctx, params.PathTimeout)
		defer cancel()

		vec, err := p.embedder.Embed(pathCtx, query)
		if err != nil {
			p.logger.Warn("semantic_path_degraded",
				slog.String("stage", StageRetrieving.String()),
				slog.String("reason", "embedding failed"),
				slog.String("error", err.Error()))
			semanticDegraded = true
			return nil
		}

		results, err := p.vector.Search(pathCtx, vec, params.KSemantic)
		if err != nil {
			if store.IsDimensionMismatch(err) {
				// Wrong-dimension vectors mean the index and embedder
				// disagree; surfacing beats silently empty answers.
				return err
			}
			p.logger.Warn("semantic_path_degraded",
				slog.String("stage", StageRetrieving.String()),
				slog.String("reason", "vector search failed"),
				slog.String("error", err.Error()))
			semanticDegraded = true
			return nil
		}

		if params.ThresholdPolicy != ThresholdPostFusion && params.SimilarityThreshold > 0 {
			results = filterByThreshold(results, params.SimilarityThreshold)
		}
		paths.semantic = results
		return nil
	})

	g.Go(func() error {
		pathCtx, cancel := context.WithTimeout(gctx, params.PathTimeout)
		defer cancel()

		results, err := p.lexical.Search(pathCtx, query, params.KKeyword)
		if err != nil {
			p.logger.Warn("lexical_path_degraded",
				slog.String("stage", StageRetrieving.String()),
				slog.String("reason", "lexical search failed"),
				slog.String("error", err.Error()))
			lexicalDegraded = true
			return nil
		}
		paths.lexical = filterPositiveScores(results)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Caller cancellation propagates as an error, not a degraded result.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	paths.degraded = semanticDegraded || lexicalDegraded
	return paths, nil
}

// fuse merges the two candidate lists. Pure: cannot fail on well-formed
// (possibly empty) inputs.
func (p *Pipeline) fuse(paths *pathResults, params Params) []*FusedCandidate {
	fusion := NewFusion(params.RRFK, params.RRFBeta)
	fused := fusion.Fuse(paths.semantic, paths.lexical)

	if params.ThresholdPolicy == ThresholdPostFusion && params.SimilarityThreshold > 0 {
		filtered := fused[:0]
		for _, c := range fused {
			// Post-fusion filtering drops candidates the semantic path saw
			// below threshold; lexical-only candidates pass through.
			if c.SemanticRank > 0 && c.SemanticScore < params.SimilarityThreshold {
				continue
			}
			filtered = append(filtered, c)
		}
		fused = filtered
	}

	return fused
}

// rerank applies the secondary relevance signal to the fused top-N and
// blends it with the normalized fusion score. Any reranker failure falls
// back to the fused order with rerank score = fusion score, flagged
// degraded so callers can tell full-quality from fallback answers.
func (p *Pipeline) rerank(ctx context.Context, query string, fused []*FusedCandidate, params Params) ([]RankedResult, bool) {
	if len(fused) == 0 {
		return []RankedResult{}, false
	}

	depth := params.RerankDepth
	if depth > len(fused) {
		depth = len(fused)
	}
	candidates := fused[:depth]

	finalK := params.FinalK
	if finalK > len(candidates) {
		finalK = len(candidates)
	}

	reranker := p.reranker
	if reranker == nil {
		reranker = &NoopReranker{}
	}

	if _, isNoop := reranker.(*NoopReranker); !isNoop && !reranker.Available(ctx) {
		p.logger.Warn("rerank_fallback",
			slog.String("stage", StageReranking.String()),
			slog.String("reason", "reranker unavailable"))
		return passthrough(candidates, finalK), true
	}

	// The reranker needs passage text, not IDs; fetch in one batch. A
	// missing passage leaves an empty text, which scores zero overlap.
	texts := make([]string, len(candidates))
	if p.passages != nil {
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.PassageID
		}
		if passages, err := p.passages.GetPassages(ctx, ids); err == nil {
			byID := make(map[string]string, len(passages))
			for _, passage := range passages {
				byID[passage.ID] = passage.Text
			}
			for i, c := range candidates {
				texts[i] = byID[c.PassageID]
			}
		}
	}

	signals, err := reranker.Rerank(ctx, query, texts, 0)
	if err != nil {
		p.logger.Warn("rerank_fallback",
			slog.String("stage", StageReranking.String()),
			slog.String("reason", "rerank failed"),
			slog.String("error", err.Error()))
		return passthrough(candidates, finalK), true
	}

	// Map signals back through Index; the reranker may have reordered.
	signalByIndex := make([]float64, len(candidates))
	for _, s := range signals {
		if s.Index >= 0 && s.Index < len(signalByIndex) {
			signalByIndex[s.Index] = s.Score
		}
	}

	results := make([]RankedResult, len(candidates))
	for i, c := range candidates {
		rerankScore := signalByIndex[i]
		results[i] = rankedFromCandidate(c,
			params.RerankOriginalWeight*c.FusionScore+params.RerankOverlapWeight*rerankScore,
			rerankScore)
	}

	sortRanked(results, candidates)
	return results[:finalK], false
}

// passthrough converts fused candidates directly into ranked results with
// final = rerank = fusion score, preserving the fused order.
func passthrough(candidates []*FusedCandidate, finalK int) []RankedResult {
	results := make([]RankedResult, 0, finalK)
	for _, c := range candidates[:finalK] {
		results = append(results, rankedFromCandidate(c, c.FusionScore, c.FusionScore))
	}
	return results
}

func rankedFromCandidate(c *FusedCandidate, finalScore, rerankScore float64) RankedResult {
	return RankedResult{
		PassageID:     c.PassageID,
		FinalScore:    finalScore,
		FusionScore:   c.FusionScore,
		RerankScore:   rerankScore,
		SemanticRank:  c.SemanticRank,
		SemanticScore: c.SemanticScore,
		LexicalRank:   c.LexicalRank,
		LexicalScore:  c.LexicalScore,
		MatchedTerms:  c.MatchedTerms,
	}
}

// sortRanked orders results by final score descending; ties fall back to
// fused-stage order (candidates' positions), then passage ID.
func sortRanked(results []RankedResult, candidates []*FusedCandidate) {
	fusedRank := make(map[string]int, len(candidates))
	for i, c := range candidates {
		fusedRank[c.PassageID] = i
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := &results[i], &results[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if ra, rb := fusedRank[a.PassageID], fusedRank[b.PassageID]; ra != rb {
			return ra < rb
		}
		return a.PassageID < b.PassageID
	})
}

// enrich attaches citation metadata from the passage store. Metadata
// failures leave results usable (IDs and scores intact).
func (p *Pipeline) enrich(ctx context.Context, results []RankedResult) {
	if p.passages == nil || len(results) == 0 {
		return
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.PassageID
	}

	passages, err := p.passages.GetPassages(ctx, ids)
	if err != nil {
		p.logger.Warn("citation_enrichment_failed", slog.String("error", err.Error()))
		return
	}

	byID := make(map[string]*store.Passage, len(passages))
	for _, passage := range passages {
		byID[passage.ID] = passage
	}
	for i := range results {
		if passage, ok := byID[results[i].PassageID]; ok {
			results[i].Title = passage.Title
			results[i].Section = passage.Section
			results[i].SourceURL = passage.SourceURL
			results[i].Text = passage.Text
		}
	}
}

// filterByThreshold drops semantic candidates below the similarity
// threshold. Applied per-path, so the path may return fewer than k results.
func filterByThreshold(results []*store.VectorResult, threshold float64) []*store.VectorResult {
	filtered := results[:0]
	for _, r := range results {
		if float64(r.Score) >= threshold {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// filterPositiveScores drops lexical candidates with non-positive BM25
// scores; they carry no relevance signal.
func filterPositiveScores(results []*store.LexicalResult) []*store.LexicalResult {
	filtered := results[:0]
	for _, r := range results {
		if r.Score > 0 {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
