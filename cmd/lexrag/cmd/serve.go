package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexrag/lexrag/internal/index"
	"github.com/lexrag/lexrag/internal/mcp"
	"github.com/lexrag/lexrag/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the corpus to MCP clients over stdio",
		Long: `Serve the indexed corpus over the Model Context Protocol.

Exposes two tools: "retrieve" (hybrid passage retrieval with citation
metadata) and "index_status" (build identity, embedder state, query
health). The server watches the data directory and hot-swaps new index
builds without restarting.

stdout carries the protocol stream exclusively; diagnostics go to the
log file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), noWatch)
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Disable index hot reload")

	return cmd
}

func runServe(ctx context.Context, noWatch bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	reloader, err := index.NewReloader(ctx, cfg.Storage.DataDir, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = reloader.Close() }()

	metrics := telemetry.NewCollector(0)

	server, err := mcp.NewServer(reloader, embedder, cfg, metrics, slog.Default())
	if err != nil {
		return fmt.Errorf("create mcp server: %w", err)
	}

	if !noWatch {
		go func() {
			if err := reloader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("index_watch_stopped", slog.String("error", err.Error()))
			}
		}()
	}

	return server.Serve(ctx)
}
