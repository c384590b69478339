package semantic

import (
	"context"
	"hash/fnv"
	"math"
)

const mockDimensions = 384

// MockEmbedder produces deterministic hash-derived vectors so recall works
// offline. Identical text always maps to the identical unit vector.
type MockEmbedder struct{}

var _ Embedder = (*MockEmbedder)(nil)

func NewMockEmbedder() *MockEmbedder { return &MockEmbedder{} }

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, mockDimensions)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
