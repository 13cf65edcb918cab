package reflection

import (
	"context"
	"strings"
	"testing"

	"github.com/liliang-cn/recollect/internal/store"
)

type fakeCompleter struct {
	response string
	err      error
	lastPrompt, lastSystem string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt, systemPrompt string, _ CompletionParams) (string, error) {
	f.lastPrompt, f.lastSystem = prompt, systemPrompt
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestLLMExtractorParsesJSONArrayAndBuildsPrompt(t *testing.T) {
	c := &fakeCompleter{response: `[{"content":"user loves jazz","event_type":"PREFERENCE"}]`}
	ex := NewLLMExtractor(c, CompletionParams{})

	window := []Message{
		{Role: "user", Content: "I love jazz", Timestamp: 1},
		{Role: "assistant", Content: "Noted.", Timestamp: 2},
	}
	events, err := ex.Extract(context.Background(), window, "Persona: friendly assistant.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(events) != 1 || events[0].Content != "user loves jazz" || events[0].EventType != store.EventPreference {
		t.Fatalf("unexpected parsed events: %+v", events)
	}
	if !strings.HasPrefix(c.lastPrompt, "Persona: friendly assistant.") {
		t.Fatalf("expected persona prompt to prefix the built prompt, got %q", c.lastPrompt)
	}
	if !strings.Contains(c.lastPrompt, "user: I love jazz") {
		t.Fatalf("expected dialogue window formatted into the prompt, got %q", c.lastPrompt)
	}
}

func TestLLMExtractorToleratesSurroundingProse(t *testing.T) {
	c := &fakeCompleter{response: "Here you go:\n[{\"content\":\"x\",\"event_type\":\"FACT\"}]\nThanks."}
	ex := NewLLMExtractor(c, CompletionParams{})

	events, err := ex.Extract(context.Background(), []Message{{Role: "user", Content: "x"}}, "")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(events) != 1 || events[0].EventType != store.EventFact {
		t.Fatalf("expected one FACT event parsed despite surrounding prose, got %+v", events)
	}
}

func TestLLMExtractorReturnsErrorOnMalformedJSON(t *testing.T) {
	c := &fakeCompleter{response: "not json at all"}
	ex := NewLLMExtractor(c, CompletionParams{})

	if _, err := ex.Extract(context.Background(), []Message{{Role: "user", Content: "x"}}, ""); err == nil {
		t.Fatalf("expected malformed output to return an error")
	}
}

func TestLLMScorerParsesOrderedScores(t *testing.T) {
	c := &fakeCompleter{response: "[0.8, 0.1]"}
	sc := NewLLMScorer(c, CompletionParams{})

	scores, err := sc.Score(context.Background(), []string{"a fact", "another fact"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(scores) != 2 || scores[0] != 0.8 || scores[1] != 0.1 {
		t.Fatalf("unexpected scores: %+v", scores)
	}
	if !strings.Contains(c.lastPrompt, "1. a fact") || !strings.Contains(c.lastPrompt, "2. another fact") {
		t.Fatalf("expected numbered candidate prompt, got %q", c.lastPrompt)
	}
}

func TestLLMScorerReturnsErrorOnLengthMismatch(t *testing.T) {
	c := &fakeCompleter{response: "[0.5]"}
	sc := NewLLMScorer(c, CompletionParams{})

	if _, err := sc.Score(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatalf("expected a length-mismatch error")
	}
}
