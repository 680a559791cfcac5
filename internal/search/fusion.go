package search

import (
	"sort"

	"github.com/lexrag/lexrag/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains (Azure AI Search, OpenSearch use it).
const DefaultRRFConstant = 60

// DefaultRRFBeta weights the semantic path's contribution; the remainder
// goes to the lexical path.
const DefaultRRFBeta = 0.7

// FusedCandidate is a single result after weighted RRF fusion. Raw per-path
// scores and ranks are preserved for explainability and tie-breaking.
type FusedCandidate struct {
	PassageID   string
	FusionScore float64 // Weighted RRF score, normalized to [0,1]

	SemanticScore float64 // Raw similarity, 0 if absent
	SemanticRank  int     // 1-based rank in semantic list, 0 if absent
	LexicalScore  float64 // Raw BM25 score, 0 if absent
	LexicalRank   int     // 1-based rank in lexical list, 0 if absent

	MatchedTerms []string
}

// InBoth reports whether the passage appeared in both retrieval paths.
func (c *FusedCandidate) InBoth() bool {
	return c.SemanticRank > 0 && c.LexicalRank > 0
}

// bestRank is the candidate's best (lowest) 1-based rank in either source
// list. Used as the fusion tie-break.
func (c *FusedCandidate) bestRank() int {
	switch {
	case c.SemanticRank == 0:
		return c.LexicalRank
	case c.LexicalRank == 0:
		return c.SemanticRank
	case c.SemanticRank < c.LexicalRank:
		return c.SemanticRank
	default:
		return c.LexicalRank
	}
}

// Fusion merges the two retrieval paths with weighted Reciprocal Rank
// Fusion:
//
//	fused(d) = beta/(K + semantic_rank) + (1-beta)/(K + lexical_rank)
//
// A passage absent from a path contributes 0 for that path's term. Raw
// similarity and BM25 scores live on unrelated scales; rank-based fusion
// sidesteps scale calibration and reduces to the surviving path's order
// when the other returns nothing.
type Fusion struct {
	K    int     // Smoothing constant, default 60
	Beta float64 // Semantic weight in [0,1], default 0.7
}

// NewFusion creates a fusion ranker. k <= 0 defaults to 60; beta outside
// [0,1] defaults to 0.7.
func NewFusion(k int, beta float64) *Fusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	if beta < 0 || beta > 1 {
		beta = DefaultRRFBeta
	}
	return &Fusion{K: k, Beta: beta}
}

// Fuse combines the two ranked lists into one, deduplicated by passage ID,
// sorted by fused score descending. Ties break by best (lowest) rank in
// either source list, then ascending passage ID. Scores are normalized to
// [0,1] by the maximum. Two empty inputs yield an empty (non-nil) slice.
func (f *Fusion) Fuse(semantic []*store.VectorResult, lexical []*store.LexicalResult) []*FusedCandidate {
	if len(semantic) == 0 && len(lexical) == 0 {
		return []*FusedCandidate{}
	}

	candidates := make(map[string]*FusedCandidate, len(semantic)+len(lexical))

	for rank, r := range semantic {
		c := f.getOrCreate(candidates, r.PassageID)
		c.SemanticScore = float64(r.Score)
		c.SemanticRank = rank + 1
		c.FusionScore += f.Beta / float64(f.K+rank+1)
	}

	for rank, r := range lexical {
		c := f.getOrCreate(candidates, r.PassageID)
		c.LexicalScore = r.Score
		c.LexicalRank = rank + 1
		c.MatchedTerms = r.MatchedTerms
		c.FusionScore += (1 - f.Beta) / float64(f.K+rank+1)
	}

	results := f.toSortedSlice(candidates)
	f.normalize(results)
	return results
}

func (f *Fusion) getOrCreate(m map[string]*FusedCandidate, id string) *FusedCandidate {
	if c, ok := m[id]; ok {
		return c
	}
	c := &FusedCandidate{PassageID: id}
	m[id] = c
	return c
}

func (f *Fusion) toSortedSlice(m map[string]*FusedCandidate) []*FusedCandidate {
	results := make([]*FusedCandidate, 0, len(m))
	for _, c := range m {
		results = append(results, c)
	}
	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})
	return results
}

// compare returns true when a ranks before b: higher fused score, then best
// (lowest) source rank, then ascending passage ID for full determinism.
func (f *Fusion) compare(a, b *FusedCandidate) bool {
	if a.FusionScore != b.FusionScore {
		return a.FusionScore > b.FusionScore
	}
	if ar, br := a.bestRank(), b.bestRank(); ar != br {
		return ar < br
	}
	return a.PassageID < b.PassageID
}

// normalize scales fused scores so the top result is 1.0. Scores stay
// comparable within one query only; they are never compared across queries.
func (f *Fusion) normalize(results []*FusedCandidate) {
	if len(results) == 0 {
		return
	}
	maxScore := results[0].FusionScore
	if maxScore == 0 {
		return
	}
	for _, c := range results {
		c.FusionScore /= maxScore
	}
}
