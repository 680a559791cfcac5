package mcp

// RetrieveInput defines the input schema for the retrieve tool.
type RetrieveInput struct {
	Query      string   `json:"query" jsonschema:"the legal question or search query"`
	Limit      int      `json:"limit,omitempty" jsonschema:"maximum number of passages to return, default 5"`
	Threshold  *float64 `json:"threshold,omitempty" jsonschema:"minimum semantic similarity score between 0 and 1"`
	Explain    bool     `json:"explain,omitempty" jsonschema:"include per-path ranks and fusion parameters in each result"`
	NoRerank   bool     `json:"no_rerank,omitempty" jsonschema:"skip the reranking stage and return the fused order"`
}

// RetrieveOutput defines the output schema for the retrieve tool.
type RetrieveOutput struct {
	Results  []PassageOutput `json:"results" jsonschema:"ranked passages with citation metadata"`
	Degraded bool            `json:"degraded" jsonschema:"true when a retrieval path failed or timed out and results are partial"`
}

// PassageOutput is a single ranked passage in the retrieve response.
type PassageOutput struct {
	PassageID  string  `json:"passage_id" jsonschema:"stable passage identifier"`
	FinalScore float64 `json:"final_score" jsonschema:"blended relevance score between 0 and 1"`
	Title      string  `json:"title,omitempty" jsonschema:"document title"`
	Section    string  `json:"section,omitempty" jsonschema:"section or article reference"`
	SourceURL  string  `json:"source_url,omitempty" jsonschema:"citation link to the authoritative source"`
	Text       string  `json:"text" jsonschema:"passage text"`

	// Populated only when explain is requested.
	Explain *ExplainOutput `json:"explain,omitempty" jsonschema:"per-path scoring breakdown"`
}

// ExplainOutput breaks one result's score down by retrieval path.
type ExplainOutput struct {
	FusionScore   float64  `json:"fusion_score"`
	RerankScore   float64  `json:"rerank_score"`
	SemanticRank  int      `json:"semantic_rank"` // 0 when the semantic path did not return this passage
	SemanticScore float64  `json:"semantic_score"`
	LexicalRank   int      `json:"lexical_rank"` // 0 when the lexical path did not return this passage
	LexicalScore  float64  `json:"lexical_score"`
	MatchedTerms  []string `json:"matched_terms,omitempty"`
	RRFK          int      `json:"rrf_k"`
	RRFBeta       float64  `json:"rrf_beta"`
}

// IndexStatusInput defines the input schema for the index_status tool (no
// parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	BuildID        string        `json:"build_id"`
	BuiltAt        string        `json:"built_at"`
	PassageCount   int           `json:"passage_count"`
	LexicalBackend string        `json:"lexical_backend"`
	Reloads        int64         `json:"reloads"`
	Embeddings     EmbeddingInfo `json:"embeddings"`
	Queries        *QueryMetrics `json:"queries,omitempty"`
}

// EmbeddingInfo reports the embedding configuration and runtime state, so
// clients can tell whether semantic quality is degraded.
type EmbeddingInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	IndexModel string `json:"index_model"` // Model the index was built with
	Dimensions int    `json:"dimensions"`
	Status     string `json:"status"` // "ready" or "unavailable"
}

// QueryMetrics summarizes recent query telemetry.
type QueryMetrics struct {
	Total       int64   `json:"total"`
	Degraded    int64   `json:"degraded"`
	ZeroResults int64   `json:"zero_results"`
	AvgMillis   float64 `json:"avg_millis"`
	MaxMillis   float64 `json:"max_millis"`
}
