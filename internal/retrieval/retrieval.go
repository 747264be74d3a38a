// Package retrieval fetches knowledge-base passages relevant to a user
// message. Backends implement Retriever; Gate wraps one with the enable
// policy and degrades to "no passages" on any failure.
package retrieval

import (
	"cmp"
	"context"
	"slices"
)

// Passage is one retrieved text fragment. Higher Score ranks first.
type Passage struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source,omitempty"`
}

// Query parameterizes a retrieval call.
type Query struct {
	Text string

	// TopK caps the number of passages returned.
	TopK int

	// DistanceThreshold drops passages farther than this from the query.
	// Zero disables the filter.
	DistanceThreshold float64
}

// Retriever is a retrieval backend.
type Retriever interface {
	Retrieve(ctx context.Context, q Query) ([]Passage, error)
}

// Rank orders passages by descending score, keeping the backend order for
// ties, and caps the result at topK when topK > 0.
func Rank(passages []Passage, topK int) []Passage {
	out := slices.Clone(passages)
	slices.SortStableFunc(out, func(a, b Passage) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// Texts extracts the passage texts in order.
func Texts(passages []Passage) []string {
	out := make([]string, len(passages))
	for i, p := range passages {
		out[i] = p.Text
	}
	return out
}
