// Package cmd provides the CLI commands for LexRAG.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lexrag/lexrag/internal/config"
	"github.com/lexrag/lexrag/internal/embed"
	"github.com/lexrag/lexrag/internal/logging"
	"github.com/lexrag/lexrag/pkg/version"
)

// Persistent flags shared by all subcommands.
var (
	dataDirFlag    string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the lexrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lexrag",
		Short: "Hybrid retrieval over legal document corpora",
		Long: `LexRAG answers legal research queries by combining semantic
(embedding) and keyword (BM25) search over an indexed passage corpus,
fusing both rankings and reranking the result.

Load a corpus with 'lexrag load', then query it with 'lexrag query' or
serve it to agent clients with 'lexrag serve'.`,
		Version:      version.Version,
		SilenceUsage: true,
	}

	cmd.SetVersionTemplate("lexrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory (default .lexrag)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRun = stopLogging

	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newLoadCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// startLogging initializes file logging. CLI commands log to file only so
// stdout stays clean for results (and for the MCP protocol under serve).
func startLogging(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		// Config problems surface in the command itself with a better
		// message; fall back to default logging paths here.
		cfg = config.Default()
	}

	logCfg := logging.DefaultConfig(cfg.Storage.DataDir)
	logCfg.WriteToStderr = false
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	if cfg.Logging.File != "" {
		logCfg.FilePath = cfg.Logging.File
	}
	if debugMode {
		logCfg.Level = "debug"
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// loadConfig builds the effective configuration, honoring --data-dir.
func loadConfig() (*config.Config, error) {
	return config.Load(dataDirFlag)
}

// newEmbedder builds the configured embedding provider.
func newEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	return embed.NewEmbedder(ctx, embed.FactoryConfig{
		Provider:   cfg.Embed.Provider,
		Model:      cfg.Embed.Model,
		Dimensions: cfg.Embed.Dimensions,
		Host:       cfg.Embed.Host,
		CacheSize:  cfg.Embed.CacheSize,
	})
}
