package semantic

import (
	"context"
	"sync/atomic"
	"testing"
)

type countingEmbedder struct {
	inner Embedder
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, text)
}

func TestCachedEmbedderMemoizes(t *testing.T) {
	counting := &countingEmbedder{inner: NewMockEmbedder()}
	cached, err := NewCachedEmbedder(counting, 1<<20)
	if err != nil {
		t.Fatalf("NewCachedEmbedder() error = %v", err)
	}
	defer cached.Close()
	ctx := context.Background()

	first, err := cached.Embed(ctx, "repeated text")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	cached.Wait()

	second, err := cached.Embed(ctx, "repeated text")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if got := counting.calls.Load(); got != 1 {
		t.Fatalf("inner calls = %d, want 1", got)
	}
	if len(first) != len(second) {
		t.Fatalf("vector lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at %d", i)
		}
	}
}

func TestCachedEmbedderDistinctTexts(t *testing.T) {
	counting := &countingEmbedder{inner: NewMockEmbedder()}
	cached, err := NewCachedEmbedder(counting, 1<<20)
	if err != nil {
		t.Fatalf("NewCachedEmbedder() error = %v", err)
	}
	defer cached.Close()
	ctx := context.Background()

	if _, err := cached.Embed(ctx, "one"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if _, err := cached.Embed(ctx, "two"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if got := counting.calls.Load(); got != 2 {
		t.Fatalf("inner calls = %d, want 2", got)
	}
}
