package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexrag/lexrag/internal/config"
	"github.com/lexrag/lexrag/internal/index"
	"github.com/lexrag/lexrag/internal/output"
	"github.com/lexrag/lexrag/internal/search"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	limit     int
	semanticK int
	keywordK  int
	threshold float64
	rrfBeta   float64
	format    string // "text", "json"
	noRerank  bool
	explain   bool
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Query the indexed legal corpus",
		Long: `Query the indexed corpus with hybrid retrieval.

Runs semantic and keyword search concurrently, fuses both rankings with
weighted Reciprocal Rank Fusion, and reranks the top candidates.

Examples:
  lexrag query "termination notice period for fixed-term contracts"
  lexrag query "data retention obligations" --limit 10 --format json
  lexrag query "liability cap" --explain
  lexrag query "force majeure" --threshold 0.4`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runQuery(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().IntVar(&opts.semanticK, "semantic-k", 0, "Semantic path candidate count")
	cmd.Flags().IntVar(&opts.keywordK, "keyword-k", 0, "Keyword path candidate count")
	cmd.Flags().Float64VarP(&opts.threshold, "threshold", "t", -1, "Minimum semantic similarity in [0,1]")
	cmd.Flags().Float64Var(&opts.rrfBeta, "rrf-beta", -1, "Semantic weight in rank fusion, in [0,1]")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.noRerank, "no-rerank", false, "Skip reranking, return the fused order")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show per-path ranks, weights and fusion parameters")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, query string, opts queryOptions) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	set, err := index.OpenSet(ctx, cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer func() { _ = set.Close() }()

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	slog.Info("query_started", slog.String("query", query))

	pipelineOpts := []search.PipelineOption{
		search.WithLogger(slog.Default()),
	}
	if !opts.noRerank {
		pipelineOpts = append(pipelineOpts, search.WithReranker(search.NewOverlapReranker()))
	}

	pipeline := search.NewPipeline(embedder, set.Vector, set.Lexical, set.Store, cfg.Retrieval.Params(), pipelineOpts...)

	searchOpts := search.Options{
		FinalK:    opts.limit,
		KSemantic: opts.semanticK,
		KKeyword:  opts.keywordK,
	}
	if opts.threshold >= 0 {
		searchOpts.SimilarityThreshold = &opts.threshold
	}
	if opts.rrfBeta >= 0 {
		searchOpts.RRFBeta = &opts.rrfBeta
	}

	results, degraded, err := pipeline.Retrieve(ctx, query, searchOpts)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	slog.Info("query_complete", slog.Int("results", len(results)), slog.Bool("degraded", degraded))

	switch opts.format {
	case "json":
		return formatJSON(cmd, results, degraded)
	default:
		return formatText(out, cfg, query, results, degraded, opts.explain)
	}
}

// formatText renders results for humans: citation line, score, snippet.
func formatText(out *output.Writer, cfg *config.Config, query string, results []search.RankedResult, degraded, explain bool) error {
	if degraded {
		out.Warning("Partial results: a retrieval path failed or timed out")
	}

	if len(results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	if explain {
		formatExplainHeader(out, cfg, query)
	}

	out.Statusf("🔍", "Found %d results for %q:", len(results), query)
	out.Newline()

	for i, r := range results {
		out.Statusf("", "%d. %s (score: %.3f)", i+1, citation(r), r.FinalScore)

		if explain {
			out.Status("", fmt.Sprintf("      semantic: %s | lexical: %s | fusion: %.4f | rerank: %.3f",
				pathRank(r.SemanticRank, r.SemanticScore),
				pathRank(r.LexicalRank, r.LexicalScore),
				r.FusionScore, r.RerankScore))
			if len(r.MatchedTerms) > 0 {
				out.Status("", "      matched: "+strings.Join(r.MatchedTerms, ", "))
			}
		}

		for _, line := range snippet(r.Text, 3) {
			out.Status("", "   "+line)
		}
		if r.SourceURL != "" {
			out.Dimf("   %s", r.SourceURL)
		}
		out.Newline()
	}
	return nil
}

// formatExplainHeader shows the fusion setup so scores can be traced.
func formatExplainHeader(out *output.Writer, cfg *config.Config, query string) {
	r := cfg.Retrieval
	out.Status("", "════════════════════════════════════════")
	out.Status("", "RETRIEVAL EXPLANATION")
	out.Status("", "════════════════════════════════════════")
	out.Status("", fmt.Sprintf("Query: %q", query))
	out.Status("", fmt.Sprintf("Fusion: RRF k=%d, beta=%.2f (semantic %.0f%% / keyword %.0f%%)",
		r.RRFK, r.RRFBeta, r.RRFBeta*100, (1-r.RRFBeta)*100))
	out.Status("", fmt.Sprintf("Rerank: depth %d, blend %.1f fusion + %.1f overlap",
		r.RerankDepth, r.RerankOriginalWeight, r.RerankOverlapWeight))
	if r.SimilarityThreshold > 0 {
		out.Status("", fmt.Sprintf("Threshold: %.2f (%s)", r.SimilarityThreshold, r.ThresholdPolicy))
	}
	out.Status("", "════════════════════════════════════════")
	out.Newline()
}

// formatJSON emits the results envelope as indented JSON.
func formatJSON(cmd *cobra.Command, results []search.RankedResult, degraded bool) error {
	envelope := struct {
		Results  []search.RankedResult `json:"results"`
		Degraded bool                  `json:"degraded"`
	}{
		Results:  results,
		Degraded: degraded,
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(envelope)
}

// citation renders "Title, Section" falling back to the passage ID.
func citation(r search.RankedResult) string {
	switch {
	case r.Title != "" && r.Section != "":
		return fmt.Sprintf("%s, %s", r.Title, r.Section)
	case r.Title != "":
		return r.Title
	default:
		return r.PassageID
	}
}

// pathRank formats one path's contribution, or "-" when absent.
func pathRank(rank int, score float64) string {
	if rank == 0 {
		return "-"
	}
	return fmt.Sprintf("rank %d (%.3f)", rank, score)
}

// snippet returns the first n non-empty-trailing lines of text.
func snippet(text string, n int) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
