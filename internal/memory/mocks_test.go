package memory

import (
	"context"
	"strings"
)

// MockEngine implements embedding.Engine with deterministic vectors so
// search results are stable across runs.
type MockEngine struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
	Vectors   map[string][]float32
}

func (m *MockEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	if v, ok := m.Vectors[text]; ok {
		return v, nil
	}
	// Stable fallback: bucket by a few keywords so related texts land
	// near each other.
	switch {
	case strings.Contains(text, "revenue"), strings.Contains(text, "total"):
		return []float32{1, 0, 0, 0}, nil
	case strings.Contains(text, "customer"):
		return []float32{0, 1, 0, 0}, nil
	default:
		return []float32{0, 0, 1, 0}, nil
	}
}

func (m *MockEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *MockEngine) Dimensions() int { return 4 }

func (m *MockEngine) Name() string { return "mock" }
