package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// Local is a trigram-hashing embedder. It maps each lowercased character
// trigram onto a fixed-size vector via FNV-1a and L2-normalizes the result,
// so similar strings land near each other without any model download or
// network call. The same text always produces the same vector.
type Local struct {
	dim int
}

// NewLocal creates a local embedder with the given vector size.
func NewLocal(dim int) *Local {
	if dim <= 0 {
		dim = settings.LocalEmbedDimensions
	}
	return &Local{dim: dim}
}

// Model implements Embedder.
func (l *Local) Model() string { return settings.LocalEmbedModel }

// Dimensions implements Embedder.
func (l *Local) Dimensions() int { return l.dim }

// Embed implements Embedder. It never fails and ignores the context.
func (l *Local) Embed(_ context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vectors[i] = l.computeVector(text)
	}
	return vectors, nil
}

func (l *Local) computeVector(text string) []float64 {
	vector := make([]float64, l.dim)
	if text == "" {
		return vector
	}

	normalized := strings.ToLower(text)
	runes := []rune(normalized)

	if len(runes) < 3 {
		// Too short for trigrams, hash the whole string.
		idx := hashBucket(normalized, l.dim)
		vector[idx] = 1.0
	} else {
		for i := 0; i <= len(runes)-3; i++ {
			idx := hashBucket(string(runes[i:i+3]), l.dim)
			vector[idx]++
		}
	}

	var sumSq float64
	for _, v := range vector {
		sumSq += v * v
	}
	if magnitude := math.Sqrt(sumSq); magnitude > 0 {
		for i := range vector {
			vector[i] /= magnitude
		}
	}
	return vector
}

func hashBucket(s string, dim int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dim))
}
