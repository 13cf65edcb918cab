// Package reflection implements the Reflection Engine of spec.md §4.6:
// extraction → validation → scoring → filter → commit, with retry/backoff,
// adapted from the teacher's FactExtractorFn/RetainFromText hook pattern
// (pkg/hindsight/hooks.go) generalized into a full pipeline. Per-session
// serialization follows spec.md §4.6 ("a per-session mutex, or a
// single-worker queue") via a map of session-scoped mutexes.
package reflection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/liliang-cn/recollect/config"
	"github.com/liliang-cn/recollect/internal/sparse"
	"github.com/liliang-cn/recollect/internal/store"
)

// Message is one dialogue turn handed into reflection.
type Message struct {
	Role      string
	Content   string
	Timestamp int64
}

// CandidateEvent is one structured event returned by the extraction call,
// before validation/scoring.
type CandidateEvent struct {
	Content   string
	EventType store.EventType
}

// Extractor performs spec.md §4.6 step 1: format the dialogue window (with
// an optional persona prompt) and ask the language model for candidate
// events.
type Extractor interface {
	Extract(ctx context.Context, window []Message, personaPrompt string) ([]CandidateEvent, error)
}

// Scorer performs spec.md §4.6 step 3: assign each surviving event an
// importance in [0,1].
type Scorer interface {
	Score(ctx context.Context, contents []string) ([]float64, error)
}

// Embedder embeds the committed events' content in one batch call.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Result reports the outcome of one reflect_and_store call.
type Result struct {
	StoredIDs  []int64
	SkippedIDs []string // fingerprints of events dropped as duplicates during validation
}

// Engine is the Reflection Engine.
type Engine struct {
	st        store.Store
	sparseIdx *sparse.Index
	extractor Extractor
	scorer    Scorer
	embedder  Embedder
	cfg       config.ReflectionEngineConfig

	mu          sync.Mutex
	sessionLock map[string]*sync.Mutex
}

// New builds a Reflection Engine.
func New(st store.Store, sparseIdx *sparse.Index, extractor Extractor, scorer Scorer, embedder Embedder, cfg config.ReflectionEngineConfig) *Engine {
	return &Engine{
		st:          st,
		sparseIdx:   sparseIdx,
		extractor:   extractor,
		scorer:      scorer,
		embedder:    embedder,
		cfg:         cfg,
		sessionLock: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.sessionLock[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.sessionLock[sessionID] = l
	}
	return l
}

// ReflectAndStore runs the full pipeline of spec.md §4.6 over one dialogue
// window. Concurrent calls for the same sessionID are serialized.
func (e *Engine) ReflectAndStore(ctx context.Context, window []Message, sessionID, personaID, personaPrompt string) (*Result, error) {
	lock := e.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	candidates, err := e.extractWithRetry(ctx, window, personaPrompt)
	if err != nil {
		return nil, fmt.Errorf("reflection: extraction: %w", err)
	}

	survivors, skipped, err := e.validate(ctx, candidates, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reflection: validation: %w", err)
	}
	if len(survivors) == 0 {
		return &Result{SkippedIDs: skipped}, nil
	}

	scores, err := e.scoreWithRetry(ctx, survivors)
	if err != nil {
		// A scoring failure discards the batch (spec.md §4.6 step 6) but is
		// not fatal for the call.
		slog.Warn("reflection: scoring failed, discarding batch", "session_id", sessionID, "error", err)
		return &Result{SkippedIDs: skipped}, nil
	}

	threshold := e.cfg.ImportanceThreshold
	var kept []CandidateEvent
	var keptScores []float64
	for i, c := range survivors {
		if scores[i] < threshold {
			continue
		}
		kept = append(kept, c)
		keptScores = append(keptScores, scores[i])
	}
	if len(kept) == 0 {
		return &Result{SkippedIDs: skipped}, nil
	}

	ids, err := e.commit(ctx, kept, keptScores, sessionID, personaID)
	if err != nil {
		return nil, fmt.Errorf("reflection: commit: %w", err)
	}
	return &Result{StoredIDs: ids, SkippedIDs: skipped}, nil
}

func (e *Engine) extractWithRetry(ctx context.Context, window []Message, personaPrompt string) ([]CandidateEvent, error) {
	if e.extractor == nil {
		return nil, fmt.Errorf("reflection: no Extractor configured")
	}
	maxRetries := e.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
		events, err := e.extractor.Extract(ctx, window, personaPrompt)
		if err == nil {
			return events, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (e *Engine) scoreWithRetry(ctx context.Context, survivors []CandidateEvent) ([]float64, error) {
	if e.scorer == nil {
		return nil, fmt.Errorf("reflection: no Scorer configured")
	}
	contents := make([]string, len(survivors))
	for i, c := range survivors {
		contents[i] = c.Content
	}
	maxRetries := e.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
		scores, err := e.scorer.Score(ctx, contents)
		if err == nil {
			clamped := make([]float64, len(scores))
			for i, s := range scores {
				clamped[i] = clamp01(s)
			}
			return clamped, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func sleepBackoff(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// validate implements spec.md §4.6 step 2: drop empty content, unknown
// event_type, and fingerprint duplicates against existing active memories
// in the same session.
func (e *Engine) validate(ctx context.Context, candidates []CandidateEvent, sessionID string) ([]CandidateEvent, []string, error) {
	existing, err := e.activeFingerprints(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	var survivors []CandidateEvent
	var skipped []string
	seenThisBatch := make(map[string]bool)
	for _, c := range candidates {
		content := strings.TrimSpace(c.Content)
		if content == "" || !validEventType(c.EventType) {
			continue
		}
		fp := fingerprint(content, sessionID)
		if existing[fp] || seenThisBatch[fp] {
			skipped = append(skipped, fp)
			continue
		}
		seenThisBatch[fp] = true
		survivors = append(survivors, CandidateEvent{Content: content, EventType: c.EventType})
	}
	return survivors, skipped, nil
}

func validEventType(t store.EventType) bool {
	switch t {
	case store.EventFact, store.EventPreference, store.EventGoal, store.EventOpinion, store.EventRelationship, store.EventOther:
		return true
	default:
		return false
	}
}

// fingerprint hashes normalized (lowercased, whitespace-collapsed) content
// scoped to sessionID, the same hash-keying idiom as the teacher's
// buildNodeID in pkg/memory/memory.go.
func fingerprint(content, sessionID string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	h := sha256.Sum256([]byte(sessionID + "|" + normalized))
	return hex.EncodeToString(h[:])
}

func (e *Engine) activeFingerprints(ctx context.Context, sessionID string) (map[string]bool, error) {
	result := make(map[string]bool)
	var after int64
	for {
		page, err := e.st.ScanPaginated(ctx, after, 500, store.Filter{
			Status:    store.StatusActive,
			SessionID: &sessionID,
		})
		if err != nil {
			return nil, err
		}
		for _, m := range page.Memories {
			result[fingerprint(m.Content, sessionID)] = true
		}
		if !page.HasMore {
			break
		}
		after = page.NextDocID
	}
	return result, nil
}

// commit embeds kept events in one batch call, then inserts each into
// storage and the sparse index — spec.md §4.6 step 5.
func (e *Engine) commit(ctx context.Context, kept []CandidateEvent, scores []float64, sessionID, personaID string) ([]int64, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("reflection: no Embedder configured")
	}
	contents := make([]string, len(kept))
	for i, c := range kept {
		contents[i] = c.Content
	}
	vectors, err := e.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(kept) {
		return nil, fmt.Errorf("embed batch: expected %d vectors, got %d", len(kept), len(vectors))
	}

	now := time.Now().Unix()
	items := make([]store.InsertItem, len(kept))
	for i, c := range kept {
		items[i] = store.InsertItem{
			Memory: &store.Memory{
				Content:        c.Content,
				EventType:      c.EventType,
				Importance:     scores[i],
				CreateTime:     now,
				LastAccessTime: now,
				SessionID:      sessionID,
				PersonaID:      personaID,
				Status:         store.StatusActive,
			},
			Embedding: vectors[i],
		}
	}
	ids, err := e.st.InsertMany(ctx, items)
	if err != nil {
		return nil, err
	}
	if e.sparseIdx != nil {
		for i, id := range ids {
			e.sparseIdx.Add(id, kept[i].Content)
		}
	}
	return ids, nil
}
