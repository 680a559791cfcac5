package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lexrag/lexrag/internal/config"
	"github.com/lexrag/lexrag/internal/embed"
	"github.com/lexrag/lexrag/internal/index"
	"github.com/lexrag/lexrag/internal/search"
	"github.com/lexrag/lexrag/internal/telemetry"
	"github.com/lexrag/lexrag/pkg/version"
)

// maxRetrieveLimit caps how many passages one retrieve call may request.
const maxRetrieveLimit = 50

// Server bridges MCP clients with the retrieval pipeline. Each query
// resolves the current index set from the reloader, so hot reloads take
// effect without restarting the server.
type Server struct {
	mcp      *mcp.Server
	reloader *index.Reloader
	embedder embed.Embedder
	cfg      *config.Config
	metrics  *telemetry.Collector
	logger   *slog.Logger
}

// NewServer creates an MCP server over the given index reloader.
func NewServer(reloader *index.Reloader, embedder embed.Embedder, cfg *config.Config, metrics *telemetry.Collector, logger *slog.Logger) (*Server, error) {
	if reloader == nil {
		return nil, errors.New("index reloader is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		reloader: reloader,
		embedder: embedder,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "LexRAG",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "retrieve",
		Description: "Retrieve the most relevant legal passages for a question. Combines semantic and keyword search over the indexed corpus and returns ranked passages with citation metadata. Check the degraded flag: when true, one retrieval path failed and results may be partial.",
	}, s.retrieveHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Check which corpus build is being served, which embedding model is active, and recent query health. Use before retrieving to verify the index is ready.",
	}, s.indexStatusHandler)

	s.logger.Info("mcp_tools_registered", slog.Int("count", 2))
}

// retrieveHandler is the MCP SDK handler for the retrieve tool.
func (s *Server) retrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (
	*mcp.CallToolResult,
	RetrieveOutput,
	error,
) {
	if input.Query == "" {
		return nil, RetrieveOutput{}, NewInvalidParamsError("query parameter is required")
	}

	start := time.Now()
	requestID := generateRequestID()

	opts := search.Options{
		SimilarityThreshold: input.Threshold,
	}
	if input.Limit > 0 {
		limit := input.Limit
		if limit > maxRetrieveLimit {
			limit = maxRetrieveLimit
		}
		opts.FinalK = limit
	}

	s.logger.Info("retrieve_started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query))

	pipeline := s.buildPipeline(input.NoRerank)
	results, degraded, err := pipeline.Retrieve(ctx, input.Query, opts)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("retrieve_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, RetrieveOutput{}, MapError(err)
	}

	s.logger.Info("retrieve_completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)),
		slog.Bool("degraded", degraded))

	output := RetrieveOutput{
		Results:  make([]PassageOutput, 0, len(results)),
		Degraded: degraded,
	}
	for _, r := range results {
		out := PassageOutput{
			PassageID:  r.PassageID,
			FinalScore: r.FinalScore,
			Title:      r.Title,
			Section:    r.Section,
			SourceURL:  r.SourceURL,
			Text:       r.Text,
		}
		if input.Explain {
			out.Explain = &ExplainOutput{
				FusionScore:   r.FusionScore,
				RerankScore:   r.RerankScore,
				SemanticRank:  r.SemanticRank,
				SemanticScore: r.SemanticScore,
				LexicalRank:   r.LexicalRank,
				LexicalScore:  r.LexicalScore,
				MatchedTerms:  r.MatchedTerms,
				RRFK:          s.cfg.Retrieval.RRFK,
				RRFBeta:       s.cfg.Retrieval.RRFBeta,
			}
		}
		output.Results = append(output.Results, out)
	}

	return nil, output, nil
}

// indexStatusHandler is the MCP SDK handler for the index_status tool.
func (s *Server) indexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	set := s.reloader.Current()
	if set == nil {
		return nil, nil, MapError(errors.New("no index loaded"))
	}

	status := "unavailable"
	if s.embedder.Available(ctx) {
		status = "ready"
	}

	output := &IndexStatusOutput{
		BuildID:        set.Manifest.BuildID,
		BuiltAt:        set.Manifest.BuiltAt.Format(time.RFC3339),
		PassageCount:   set.Manifest.PassageCount,
		LexicalBackend: set.Manifest.LexicalBackend,
		Reloads:        s.reloader.Reloads(),
		Embeddings: EmbeddingInfo{
			Provider:   s.cfg.Embed.Provider,
			Model:      s.embedder.ModelName(),
			IndexModel: set.Manifest.EmbeddingModel,
			Dimensions: s.embedder.Dimensions(),
			Status:     status,
		},
	}

	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		output.Queries = &QueryMetrics{
			Total:       snap.TotalQueries,
			Degraded:    snap.DegradedQueries,
			ZeroResults: snap.ZeroResults,
			AvgMillis:   float64(snap.AvgDuration) / float64(time.Millisecond),
			MaxMillis:   float64(snap.MaxDuration) / float64(time.Millisecond),
		}
	}

	return nil, output, nil
}

// buildPipeline assembles a pipeline over the current index set. Pipelines
// are cheap to construct, so each query gets a fresh one bound to a single
// build.
func (s *Server) buildPipeline(noRerank bool) *search.Pipeline {
	set := s.reloader.Current()

	opts := []search.PipelineOption{
		search.WithLogger(s.logger),
	}
	if !noRerank {
		opts = append(opts, search.WithReranker(search.NewOverlapReranker()))
	}
	if s.metrics != nil {
		opts = append(opts, search.WithRecorder(s.metrics))
	}

	return search.NewPipeline(s.embedder, set.Vector, set.Lexical, set.Store, s.cfg.Retrieval.Params(), opts...)
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return fmt.Errorf("mcp server: %w", err)
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
