// Package embedding provides text embedding via ONNX, with a deterministic hash fallback.
package embedding

import (
	"context"

	"go.uber.org/zap"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Options configures New.
type Options struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	CacheSize  int
}

// New loads the ONNX model at opts.ModelPath. When the model or the runtime is unavailable it logs
// a warning and returns a HashEmbedder of the same dimensions, so indexing keeps working with
// lexical-quality vectors.
func New(opts Options, logger *zap.Logger) Embedder {
	emb, err := NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens, opts.CacheSize)
	if err == nil {
		return emb
	}
	if logger != nil {
		logger.Warn("onnx embedder unavailable, using hash embedder",
			zap.String("model_path", opts.ModelPath), zap.Error(err))
	}
	return NewHashEmbedder(opts.Dimensions)
}

func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
