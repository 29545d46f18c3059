// Package embedding provides text embedding capabilities and wrappers around them.
package embedding

import "context"

// Embedder produces a fixed-length vector embedding for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by embedders that can embed several texts per call.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Func adapts a function to Embedder.
type Func func(ctx context.Context, text string) ([]float32, error)

// Embed implements Embedder.
func (f Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// BatchFunc adapts a pair of functions to BatchEmbedder.
type BatchFunc struct {
	One  Func
	Many func(ctx context.Context, texts []string) ([][]float32, error)
}

// Embed implements Embedder.
func (b BatchFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return b.One(ctx, text)
}

// EmbedBatch implements BatchEmbedder.
func (b BatchFunc) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return b.Many(ctx, texts)
}

// EmbedAll embeds texts in one call when e can batch and one at a time otherwise.
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if be, ok := e.(BatchEmbedder); ok {
		return be.EmbedBatch(ctx, texts)
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}
