// Package search implements the hybrid retrieval pipeline: concurrent
// semantic and lexical search, weighted reciprocal rank fusion, and
// overlap-based reranking.
package search

import (
	"errors"
	"time"
)

// ErrEmptyQuery is returned when the query text is empty or whitespace.
// Malformed input is rejected before the pipeline starts.
var ErrEmptyQuery = errors.New("query text is empty")

// Threshold placement policies, mirroring the config package values.
const (
	ThresholdPreFusion  = "pre_fusion"
	ThresholdPostFusion = "post_fusion"
)

// Params are the pipeline's process-wide retrieval defaults. Every field is
// overridable per call through Options.
type Params struct {
	KSemantic           int
	KKeyword            int
	FinalK              int
	SimilarityThreshold float64
	ThresholdPolicy     string
	RRFK                int
	RRFBeta             float64
	RerankDepth         int

	// Rerank blend weights. Validated at configuration load; the pipeline
	// assumes they sum to 1.0.
	RerankOriginalWeight float64
	RerankOverlapWeight  float64

	PathTimeout time.Duration
}

// DefaultParams returns the standard retrieval parameters.
func DefaultParams() Params {
	return Params{
		KSemantic:            10,
		KKeyword:             10,
		FinalK:               5,
		SimilarityThreshold:  0.0,
		ThresholdPolicy:      ThresholdPreFusion,
		RRFK:                 60,
		RRFBeta:              0.7,
		RerankDepth:          20,
		RerankOriginalWeight: 0.7,
		RerankOverlapWeight:  0.3,
		PathTimeout:          3 * time.Second,
	}
}

// Options carries per-call overrides. Zero values fall back to the
// pipeline's Params.
type Options struct {
	KSemantic           int
	KKeyword            int
	FinalK              int
	SimilarityThreshold *float64 // pointer: 0.0 is a meaningful value
	RRFK                int
	RRFBeta             *float64
	RerankDepth         int
}

// resolve merges per-call options over the defaults.
func (p Params) resolve(opts Options) Params {
	out := p
	if opts.KSemantic > 0 {
		out.KSemantic = opts.KSemantic
	}
	if opts.KKeyword > 0 {
		out.KKeyword = opts.KKeyword
	}
	if opts.FinalK > 0 {
		out.FinalK = opts.FinalK
	}
	if opts.SimilarityThreshold != nil {
		out.SimilarityThreshold = *opts.SimilarityThreshold
	}
	if opts.RRFK > 0 {
		out.RRFK = opts.RRFK
	}
	if opts.RRFBeta != nil {
		out.RRFBeta = *opts.RRFBeta
	}
	if opts.RerankDepth > 0 {
		out.RerankDepth = opts.RerankDepth
	}
	return out
}

// RankedResult is the pipeline's final output entity. It carries the
// component scores for explainability and enough passage metadata to render
// a citation without a further store lookup.
type RankedResult struct {
	PassageID   string  `json:"passage_id"`
	FinalScore  float64 `json:"final_score"`
	FusionScore float64 `json:"fusion_score"`
	RerankScore float64 `json:"rerank_score"`

	// Per-path provenance: 1-based ranks, 0 when absent from a path.
	SemanticRank  int     `json:"semantic_rank,omitempty"`
	SemanticScore float64 `json:"semantic_score,omitempty"`
	LexicalRank   int     `json:"lexical_rank,omitempty"`
	LexicalScore  float64 `json:"lexical_score,omitempty"`

	MatchedTerms []string `json:"matched_terms,omitempty"`

	// Citation metadata from the passage store.
	Title     string `json:"title,omitempty"`
	Section   string `json:"section,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
	Text      string `json:"text,omitempty"`
}
