package recollect

import (
	"context"

	"github.com/liliang-cn/recollect/internal/reflection"
)

// recallEmbedderAdapter narrows EmbeddingProvider to internal/recall's
// single-string Embedder shape.
type recallEmbedderAdapter struct{ p EmbeddingProvider }

func (a recallEmbedderAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	return a.p.Embed(ctx, text)
}

// reflectionEmbedderAdapter narrows EmbeddingProvider to
// internal/reflection's batch Embedder shape.
type reflectionEmbedderAdapter struct{ p EmbeddingProvider }

func (a reflectionEmbedderAdapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return a.p.EmbedBatch(ctx, texts)
}

// completerAdapter adapts LanguageModelProvider.Complete to
// internal/reflection.Completer, the narrow call surface the Reflection
// Engine builds its own extraction/scoring prompts against.
type completerAdapter struct{ p LanguageModelProvider }

func (a completerAdapter) Complete(ctx context.Context, prompt, systemPrompt string, params reflection.CompletionParams) (string, error) {
	return a.p.Complete(ctx, prompt, systemPrompt, CompletionParams{
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})
}
