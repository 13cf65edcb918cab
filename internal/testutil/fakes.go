// Package testutil provides in-memory fakes for the Reflection Engine's
// embedding, extraction and scoring interfaces, standing in for the
// provider-backed implementations in reflection-level tests. Mirrors the teacher's pattern of a small deterministic fake
// embedder used across pkg/core's tests.
package testutil

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"

	"github.com/liliang-cn/recollect/internal/reflection"
	"github.com/liliang-cn/recollect/internal/store"
)

// FakeEmbedder deterministically maps text to a fixed-dimension unit vector
// via a hash-seeded PRNG, so semantically unrelated strings land far apart
// without requiring a real model.
type FakeEmbedder struct {
	Dim int

	mu        sync.Mutex
	failNext  bool
}

// NewFakeEmbedder builds a FakeEmbedder of the given dimension.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{Dim: dim}
}

// FailNext arranges for the next Embed/EmbedBatch call to return an error,
// exercising the embedding-failure path in internal/reflection.
func (f *FakeEmbedder) FailNext() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = true
}

func (f *FakeEmbedder) consumeFailure() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return true
	}
	return false
}

// Embed implements recall.Embedder.
func (f *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.consumeFailure() {
		return nil, fmt.Errorf("testutil: simulated embed failure")
	}
	return hashVector(text, f.Dim), nil
}

// EmbedBatch implements reflection.Embedder.
func (f *FakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.consumeFailure() {
		return nil, fmt.Errorf("testutil: simulated embed batch failure")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, f.Dim)
	}
	return out, nil
}

func hashVector(text string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	state := seed
	var sumSq float64
	for i := range vec {
		state = state*6364136223846793005 + 1442695040888963407
		v := float32((state>>33)%10000)/10000 - 0.5
		vec[i] = v
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		norm = 1
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// FakeExtractor returns a fixed set of candidate events regardless of the
// dialogue window, for tests that only need to exercise validation/scoring.
type FakeExtractor struct {
	Events []reflection.CandidateEvent
	Err    error
}

// Extract implements reflection.Extractor.
func (f *FakeExtractor) Extract(_ context.Context, _ []reflection.Message, _ string) ([]reflection.CandidateEvent, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Events, nil
}

// FakeScorer assigns a fixed importance to every candidate, or fails once
// if ErrOnce is set (to exercise the retry loop).
type FakeScorer struct {
	Importance float64
	Err        error

	mu      sync.Mutex
	ErrOnce bool
	fired   bool
}

// Score implements reflection.Scorer.
func (f *FakeScorer) Score(_ context.Context, contents []string) ([]float64, error) {
	f.mu.Lock()
	if f.ErrOnce && !f.fired {
		f.fired = true
		f.mu.Unlock()
		if f.Err != nil {
			return nil, f.Err
		}
		return nil, fmt.Errorf("testutil: simulated scoring failure")
	}
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]float64, len(contents))
	for i := range out {
		out[i] = f.Importance
	}
	return out, nil
}

// NewMemory is a small helper for constructing store.Memory literals in
// tests without repeating every field.
func NewMemory(content string, eventType store.EventType, importance float64, sessionID, personaID string, now int64) *store.Memory {
	return &store.Memory{
		Content:        content,
		EventType:      eventType,
		Importance:     importance,
		CreateTime:     now,
		LastAccessTime: now,
		SessionID:      sessionID,
		PersonaID:      personaID,
		Status:         store.StatusActive,
	}
}
