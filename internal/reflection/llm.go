package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/liliang-cn/recollect/internal/store"
)

// CompletionParams carries call parameters through to Completer.Complete,
// spec.md §6's LanguageModelProvider.complete "params" argument.
type CompletionParams struct {
	Temperature float64
	MaxTokens   int
}

// Completer is a single blocking completion call: spec.md §6's
// LanguageModelProvider.complete(prompt, system_prompt?, params) -> text.
// Structured-output parsing is the caller's responsibility, which is why
// prompt construction and JSON parsing for both reflection LM calls live in
// this package rather than behind the provider boundary.
type Completer interface {
	Complete(ctx context.Context, prompt, systemPrompt string, params CompletionParams) (string, error)
}

const extractionSystemPrompt = `You extract durable, long-term memories from a dialogue window. Read the conversation and identify standalone facts, preferences, goals, opinions, or relationships worth remembering about the user.

Respond with a JSON array only, no prose, no markdown fences. Each element: {"content": "<one self-contained sentence>", "event_type": "<FACT|PREFERENCE|GOAL|OPINION|RELATIONSHIP|OTHER>"}. Return an empty array [] if nothing is worth remembering.`

const scoringSystemPrompt = `You rate how important each candidate memory is to retain long-term, on a scale from 0 (forgettable) to 1 (critical).

Respond with a JSON array of numbers only, no prose, one number per input item, in the same order. Example: [0.8, 0.2, 0.6]`

// LLMExtractor implements Extractor: it formats the dialogue window (with
// an optional persona prompt prepended) into a prompt, calls Complete, and
// parses the response as a JSON array of candidate events — spec.md §4.6
// step 1.
type LLMExtractor struct {
	Completer Completer
	Params    CompletionParams
}

// NewLLMExtractor builds an Extractor backed by a Completer.
func NewLLMExtractor(c Completer, params CompletionParams) *LLMExtractor {
	return &LLMExtractor{Completer: c, Params: params}
}

func (e *LLMExtractor) Extract(ctx context.Context, window []Message, personaPrompt string) ([]CandidateEvent, error) {
	prompt := buildExtractionPrompt(window, personaPrompt)
	text, err := e.Completer.Complete(ctx, prompt, extractionSystemPrompt, e.Params)
	if err != nil {
		return nil, fmt.Errorf("extract: complete: %w", err)
	}
	events, err := parseExtractionResponse(text)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return events, nil
}

func buildExtractionPrompt(window []Message, personaPrompt string) string {
	var b strings.Builder
	if personaPrompt != "" {
		b.WriteString(personaPrompt)
		b.WriteString("\n\n")
	}
	b.WriteString("Dialogue window:\n")
	for _, m := range window {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

type rawCandidateEvent struct {
	Content   string `json:"content"`
	EventType string `json:"event_type"`
}

func parseExtractionResponse(text string) ([]CandidateEvent, error) {
	var raw []rawCandidateEvent
	if err := json.Unmarshal([]byte(extractJSONArray(text)), &raw); err != nil {
		return nil, fmt.Errorf("parse json array: %w", err)
	}
	out := make([]CandidateEvent, len(raw))
	for i, r := range raw {
		out[i] = CandidateEvent{Content: r.Content, EventType: store.EventType(r.EventType)}
	}
	return out, nil
}

// extractJSONArray isolates the outermost [...] span, tolerating prose or
// markdown fences a model adds despite instructions to return JSON only.
func extractJSONArray(text string) string {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}

// LLMScorer implements Scorer: it formats candidate contents into a
// numbered prompt, calls Complete, and parses the response as a JSON array
// of importances in the same order — spec.md §4.6 step 3.
type LLMScorer struct {
	Completer Completer
	Params    CompletionParams
}

// NewLLMScorer builds a Scorer backed by a Completer.
func NewLLMScorer(c Completer, params CompletionParams) *LLMScorer {
	return &LLMScorer{Completer: c, Params: params}
}

func (s *LLMScorer) Score(ctx context.Context, contents []string) ([]float64, error) {
	prompt := buildScoringPrompt(contents)
	text, err := s.Completer.Complete(ctx, prompt, scoringSystemPrompt, s.Params)
	if err != nil {
		return nil, fmt.Errorf("score: complete: %w", err)
	}
	scores, err := parseScoringResponse(text)
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	if len(scores) != len(contents) {
		return nil, fmt.Errorf("score: expected %d scores, got %d", len(contents), len(scores))
	}
	return scores, nil
}

func buildScoringPrompt(contents []string) string {
	var b strings.Builder
	b.WriteString("Candidate memories:\n")
	for i, c := range contents {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	return b.String()
}

func parseScoringResponse(text string) ([]float64, error) {
	var scores []float64
	if err := json.Unmarshal([]byte(extractJSONArray(text)), &scores); err != nil {
		return nil, fmt.Errorf("parse json array: %w", err)
	}
	return scores, nil
}
