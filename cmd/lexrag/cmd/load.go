package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lexrag/lexrag/internal/index"
	"github.com/lexrag/lexrag/internal/output"
	"github.com/lexrag/lexrag/internal/store"
)

// loadOptions holds CLI flags for load.
type loadOptions struct {
	batchSize int
	quiet     bool
}

func newLoadCmd() *cobra.Command {
	var opts loadOptions

	cmd := &cobra.Command{
		Use:   "load <corpus.jsonl>",
		Short: "Load a passage corpus into the index",
		Long: `Load a JSONL corpus into the passage store and build both the
vector and keyword indices.

Each line is one passage record with at least "id" and "text". Records
may carry a precomputed "embedding"; records without one are embedded
with the configured provider during the load.

The manifest is written last, so a server watching the data directory
picks up the new build atomically.

Examples:
  lexrag load corpus.jsonl
  lexrag load corpus.jsonl --batch-size 128`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 64, "Embedding and indexing batch size")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")

	return cmd
}

func runLoad(ctx context.Context, cmd *cobra.Command, corpusPath string, opts loadOptions) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	if !embedder.Available(ctx) {
		out.Warningf("Embedding provider %q is not reachable; records without precomputed embeddings will fail", cfg.Embed.Provider)
	}

	loader := index.NewLoader(index.LoaderConfig{
		DataDir:        cfg.Storage.DataDir,
		LexicalBackend: cfg.Storage.LexicalBackend,
		LexicalConfig:  store.DefaultLexicalConfig(),
		BatchSize:      opts.batchSize,
	}, embedder, slog.Default())

	var progress func(done, total int)
	if !opts.quiet {
		progress = func(done, total int) {
			out.Progress(done, total, "indexing passages")
		}
	}

	result, err := loader.Load(ctx, corpusPath, progress)
	if err != nil {
		return fmt.Errorf("load failed: %w", err)
	}

	out.Successf("Loaded %d passages (%d freshly embedded) with %s",
		result.Loaded, result.Embedded, result.Manifest.EmbeddingModel)
	out.Dimf("build %s in %s", result.Manifest.BuildID, cfg.Storage.DataDir)
	return nil
}
