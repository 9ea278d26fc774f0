package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic, dependency-free embedder that feature-
// hashes a bag of words into a fixed-dimension vector. Texts sharing most of
// their vocabulary land close together under cosine similarity, which is
// enough for local-first ranking and duplicate detection. Swap in a real
// embedding provider for semantic quality.
type HashEmbedder struct {
	dim int
}

// NewHash creates a HashEmbedder with the given dimension (default 256).
func NewHash(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

// Embed tokenizes text, drops stopwords, and hashes each token into a
// signed bucket. The result is L2-normalized. Identical input always
// produces an identical vector.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	for _, tok := range tokenize(text) {
		hv := fnv.New32a()
		hv.Write([]byte(tok))
		sum := hv.Sum32()
		bucket := int(sum % uint32(h.dim))
		// top bit decides the sign so colliding tokens can cancel
		if sum&0x80000000 != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// Dims returns the vector dimension.
func (h *HashEmbedder) Dims() int { return h.dim }

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"had": true, "has": true, "have": true, "he": true, "her": true,
	"his": true, "in": true, "is": true, "it": true, "its": true,
	"of": true, "on": true, "or": true, "she": true, "that": true,
	"the": true, "their": true, "them": true, "they": true, "this": true,
	"to": true, "was": true, "were": true, "will": true, "with": true,
}
