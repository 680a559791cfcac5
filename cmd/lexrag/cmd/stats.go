package cmd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexrag/lexrag/internal/index"
	"github.com/lexrag/lexrag/internal/output"
)

func newStatsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Long: `Show statistics for the current index build: passage count, both
index backends, and the embedding model the corpus was built with.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")

	return cmd
}

// statsReport is the stats command's JSON output shape.
type statsReport struct {
	BuildID        string    `json:"build_id"`
	BuiltAt        time.Time `json:"built_at"`
	Passages       int       `json:"passages"`
	Vectors        int       `json:"vectors"`
	LexicalBackend string    `json:"lexical_backend"`
	LexicalDocs    int       `json:"lexical_docs"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimensions     int       `json:"embedding_dimensions"`
}

func runStats(ctx context.Context, cmd *cobra.Command, format string) error {
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

	report := statsReport{
		BuildID:        set.Manifest.BuildID,
		BuiltAt:        set.Manifest.BuiltAt,
		LexicalBackend: set.Manifest.LexicalBackend,
		EmbeddingModel: set.Manifest.EmbeddingModel,
		Dimensions:     set.Manifest.EmbeddingDimensions,
		Vectors:        set.Vector.Count(),
	}

	if count, err := set.Store.Count(ctx); err == nil {
		report.Passages = count
	}
	if stats := set.Lexical.Stats(); stats != nil {
		report.LexicalDocs = stats.PassageCount
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	out.Title("Index statistics")
	out.Statusf("", "Build:        %s (built %s)", report.BuildID, report.BuiltAt.Format(time.RFC3339))
	out.Statusf("", "Passages:     %d", report.Passages)
	out.Statusf("", "Vectors:      %d (%d dimensions, %s)", report.Vectors, report.Dimensions, report.EmbeddingModel)
	out.Statusf("", "Keyword:      %d documents (%s)", report.LexicalDocs, report.LexicalBackend)
	return nil
}
