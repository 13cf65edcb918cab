package recollect

import "context"

// EmbeddingProvider turns text into vectors for dense storage/retrieval.
// Concrete implementations (OpenAI, local models, etc.) are out of scope
// per spec.md §6 — recollect only consumes this interface.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CompletionParams carries the reflection pipeline's call parameters
// through to LanguageModelProvider.Complete, spec.md §6's "params"
// argument.
type CompletionParams struct {
	Temperature float64
	MaxTokens   int
}

// LanguageModelProvider is a single blocking completion call, spec.md §6:
// complete(prompt, system_prompt?, params) -> text, with a timeout. Also
// out of scope per spec.md §6. Structured-output parsing for extraction and
// importance scoring is the Reflection Engine's responsibility, not the
// provider's — see internal/reflection's LLMExtractor/LLMScorer.
type LanguageModelProvider interface {
	Complete(ctx context.Context, prompt, systemPrompt string, params CompletionParams) (string, error)
}

// Message is one dialogue turn, the root package's public shape (mirrors
// internal/reflection.Message and internal/session.Message at the API
// boundary).
type Message struct {
	Role      string
	Content   string
	Timestamp int64
}

// EventType mirrors internal/store.EventType at the public API boundary.
type EventType string

const (
	EventFact         EventType = "FACT"
	EventPreference   EventType = "PREFERENCE"
	EventGoal         EventType = "GOAL"
	EventOpinion      EventType = "OPINION"
	EventRelationship EventType = "RELATIONSHIP"
	EventOther        EventType = "OTHER"
)
