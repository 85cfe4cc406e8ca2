package embedding

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
)

// FallbackDims is the dimensionality of the local hash embedding.
const FallbackDims = 384

const hashModelID = "bmo-chargram-384-v1"

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_\-]+`)

// HashEmbedder derives a vector from character trigrams and word tokens via
// FNV hashing. Identical input always yields the identical vector.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = FallbackDims
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Model() string { return hashModelID }

func (e *HashEmbedder) Dims() int { return e.dims }

// Embed implements Backend so the hash embedder can also be configured as
// the primary backend. It never fails.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.Vector(text), nil
}

func (e *HashEmbedder) Vector(text string) []float32 {
	vec := make([]float32, e.dims)
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return vec
	}
	// trigrams over runes so Arabic script hashes per letter, not per byte
	window := []rune("#" + normalized + "#")
	for i := 0; i+3 <= len(window); i++ {
		vec[e.bucket(string(window[i:i+3]))] += 1
	}
	for _, token := range tokenize(normalized) {
		vec[e.bucket("tok:"+token)] += 1.25
	}
	normalizeVector(vec)
	return vec
}

func (e *HashEmbedder) bucket(s string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(e.dims))
}

func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}
	return matches
}
