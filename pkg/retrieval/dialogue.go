// Package retrieval picks the reference material injected into each prompt:
// similar dialogue examples and a fitting proverb.
package retrieval

import (
	"context"
	"sort"

	"github.com/dotsetgreg/bmo/pkg/corpus"
	"github.com/dotsetgreg/bmo/pkg/embedding"
)

// DefaultScanLimit bounds how many corpus entries are compared per query.
const DefaultScanLimit = 50

type Match struct {
	Example    corpus.DialogueExample
	Similarity float64
}

type RetrievalResult struct {
	Matches []Match
	// Degraded is set when any vector in the scan came from the fallback
	// embedder, or when the scan was cut short and Matches is empty.
	Degraded bool
}

// DialogueRetriever is a bounded linear nearest-neighbour scan over the
// head of the dialogue corpus.
type DialogueRetriever struct {
	corpus    *corpus.Dialogues
	embedder  embedding.Embedder
	fallback  *embedding.HashEmbedder
	scanLimit int
}

func NewDialogueRetriever(c *corpus.Dialogues, e embedding.Embedder, scanLimit int) *DialogueRetriever {
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	return &DialogueRetriever{
		corpus:    c,
		embedder:  e,
		fallback:  embedding.NewHashEmbedder(embedding.FallbackDims),
		scanLimit: scanLimit,
	}
}

// TopK returns at most k examples ordered by non-increasing cosine
// similarity to query. Equal similarities keep corpus order.
//
// All vectors of one scan live in a single space. Once any embedding falls
// back, the backend is not called again and the query and every example are
// compared as hash vectors.
func (r *DialogueRetriever) TopK(ctx context.Context, query string, k int) RetrievalResult {
	n := r.corpus.Len()
	if k <= 0 || n == 0 {
		return RetrievalResult{}
	}
	if n > r.scanLimit {
		n = r.scanLimit
	}

	q := r.embedder.Embed(ctx, query)
	degraded := q.Degraded()
	qv := q.Vector
	if degraded {
		qv = r.fallback.Vector(query)
	}

	vecs := make([][]float32, 0, n)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return RetrievalResult{Degraded: true}
		}
		text := r.corpus.At(i).Text
		if degraded {
			vecs = append(vecs, r.fallback.Vector(text))
			continue
		}
		v := r.embedder.Embed(ctx, text)
		if !v.Degraded() {
			vecs = append(vecs, v.Vector)
			continue
		}
		degraded = true
		qv = r.fallback.Vector(query)
		for j := range vecs {
			vecs[j] = r.fallback.Vector(r.corpus.At(j).Text)
		}
		vecs = append(vecs, r.fallback.Vector(text))
	}

	matches := make([]Match, n)
	for i, v := range vecs {
		matches[i] = Match{Example: r.corpus.At(i), Similarity: embedding.Cosine(qv, v)}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return RetrievalResult{Matches: matches, Degraded: degraded}
}
