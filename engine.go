// Package recollect is a long-term memory engine for conversational
// agents: it buffers dialogue, periodically reflects on it into durable,
// scored memory records, and serves hybrid dense+sparse recall for prompt
// construction.
package recollect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liliang-cn/recollect/config"
	"github.com/liliang-cn/recollect/internal/forgetting"
	"github.com/liliang-cn/recollect/internal/recall"
	"github.com/liliang-cn/recollect/internal/reflection"
	"github.com/liliang-cn/recollect/internal/session"
	"github.com/liliang-cn/recollect/internal/sparse"
	"github.com/liliang-cn/recollect/internal/store"
)

// Hit is one recall result, the public mirror of internal/recall.Hit.
type Hit struct {
	DocID           int64
	Content         string
	EventType       EventType
	Importance      float64
	LastAccessTime  int64
	FinalScore      float64
	ComponentScores ComponentScores
}

// ComponentScores reports the per-channel contributions to a Hit's
// FinalScore.
type ComponentScores struct {
	Dense   *float64
	Sparse  *float64
	Recency *float64
}

// Engine is recollect's top-level façade, generalizing the teacher's
// System struct (pkg/hindsight/hindsight.go: a store plus hook fields plus
// a supervised sync.WaitGroup) into the spec's three entry points.
type Engine struct {
	cfg config.Config

	st        store.Store
	sparseIdx *sparse.Index

	sessionMgr *session.Manager
	recallEng  *recall.Engine
	reflectEng *reflection.Engine
	forgetting *forgetting.Agent

	mu      sync.Mutex
	cancels []context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// New builds an Engine backed by a SQLite file under cfg.DataDir, wiring
// every component described in SPEC_FULL.md §4. The embedding/LM providers
// may be nil: without an embedding provider recall runs on the sparse
// channel alone, and without both providers no reflection is dispatched
// when a session's round trigger fires. Neither case returns an error.
func New(ctx context.Context, cfg config.Config, embedProvider EmbeddingProvider, lmProvider LanguageModelProvider, dim int) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, wrapErr("New", KindConfigInvalid, err)
	}

	st, err := store.New(store.Config{
		Path:      cfg.DataDir + "/recollect.db",
		Dimension: dim,
	})
	if err != nil {
		return nil, wrapErr("New", KindStorageCorrupted, err)
	}
	if err := st.Init(ctx); err != nil {
		return nil, wrapErr("New", KindStorageCorrupted, err)
	}

	var tok sparse.Tokenizer = sparse.DefaultTokenizer{}
	if cfg.SparseRetriever.UseWordSegmentation {
		tok = sparse.CJKBigramTokenizer{}
	}
	sparseIdx := sparse.NewIndex(cfg.SparseRetriever.BM25K1, cfg.SparseRetriever.BM25B, tok)
	if err := rebuildSparseIndex(ctx, st, sparseIdx); err != nil {
		_ = st.Close()
		return nil, wrapErr("New", KindStorageCorrupted, err)
	}

	e := &Engine{
		cfg:        cfg,
		st:         st,
		sparseIdx:  sparseIdx,
		sessionMgr: session.New(cfg.SessionManager.MaxSessions, cfg.SessionManager.SessionTTL),
		forgetting: forgetting.New(st, sparseIdx, cfg.ForgettingAgent),
	}

	var recallEmbedder recall.Embedder
	if embedProvider != nil {
		recallEmbedder = recallEmbedderAdapter{embedProvider}
	}
	e.recallEng = recall.New(st, sparseIdx, recallEmbedder, cfg.RecallEngine, cfg.Fusion)

	if embedProvider != nil && lmProvider != nil {
		completer := completerAdapter{lmProvider}
		e.reflectEng = reflection.New(st, sparseIdx,
			reflection.NewLLMExtractor(completer, reflection.CompletionParams{}),
			reflection.NewLLMScorer(completer, reflection.CompletionParams{}),
			reflectionEmbedderAdapter{embedProvider},
			cfg.ReflectionEngine)
	}

	return e, nil
}

func rebuildSparseIndex(ctx context.Context, st store.Store, idx *sparse.Index) error {
	var docs []sparse.Document
	var after int64
	for {
		page, err := st.ScanPaginated(ctx, after, 500, store.Filter{Status: store.StatusActive})
		if err != nil {
			return err
		}
		for _, m := range page.Memories {
			docs = append(docs, sparse.Document{DocID: m.DocID, Content: m.Content})
		}
		if !page.HasMore {
			break
		}
		after = page.NextDocID
	}
	idx.RebuildFrom(docs)
	return nil
}

// Start launches the Engine's supervised background tasks: the Forgetting
// Agent's periodic sweep and a session TTL sweeper, per SPEC_FULL.md §5.
func (e *Engine) Start(ctx context.Context) {
	e.forgetting.Start(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels = append(e.cancels, cancel)
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				e.sessionMgr.Sweep(time.Now().Unix())
			}
		}
	}()
}

// Stop cancels every outstanding supervised task and waits for them (and
// the recall engine's detached touches, and the forgetting agent's loop
// and any pending nuke) to finish.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancels := e.cancels
	e.cancels = nil
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.forgetting.Stop()
		e.recallEng.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return wrapErr("Stop", KindCancelled, ctx.Err())
	}

	return e.st.Close()
}

// OnUserMessage implements spec.md §4.9: append to the session buffer, no
// further work.
func (e *Engine) OnUserMessage(sessionID, personaID, text string, timestamp int64) error {
	if e.isClosed() {
		return ErrClosed
	}
	e.sessionMgr.Append(sessionID, personaID, "user", text, timestamp, e.cfg.ReflectionEngine.SummaryTriggerRounds)
	return nil
}

// OnAssistantMessage implements spec.md §4.9: append; if the round trigger
// fires, spawn a detached reflection task over the buffered window
// observed at trigger time.
func (e *Engine) OnAssistantMessage(sessionID, personaID, text string, timestamp int64, personaPrompt string) error {
	if e.isClosed() {
		return ErrClosed
	}
	window, triggered := e.sessionMgr.Append(sessionID, personaID, "assistant", text, timestamp, e.cfg.ReflectionEngine.SummaryTriggerRounds)
	if !triggered {
		return nil
	}
	if e.reflectEng == nil {
		return nil
	}

	msgs := make([]reflection.Message, len(window))
	for i, m := range window {
		msgs[i] = reflection.Message{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels = append(e.cancels, cancel)
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		if _, err := e.reflectEng.ReflectAndStore(runCtx, msgs, sessionID, personaID, personaPrompt); err != nil {
			slog.Warn("reflection dispatch failed", "session_id", sessionID, "error", err)
		}
	}()
	return nil
}

// BuildContext implements spec.md §4.9: recall with the active filter
// policy (spec.md §6's filtering_settings) and format the hits into a
// prompt-injectable memory block.
func (e *Engine) BuildContext(ctx context.Context, sessionID, personaID, query string, k int) (string, error) {
	if e.isClosed() {
		return "", ErrClosed
	}
	hits, err := e.Recall(ctx, sessionID, personaID, query, k)
	if err != nil {
		return "", err
	}
	return formatMemoryBlock(hits), nil
}

// Recall runs the Recall Engine directly, applying the configured
// persona/session filtering policy.
func (e *Engine) Recall(ctx context.Context, sessionID, personaID, query string, k int) ([]Hit, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	filter := store.Filter{Status: store.StatusActive}
	if e.cfg.Filtering.UsePersonaFiltering && personaID != "" {
		filter.PersonaID = &personaID
	}
	if e.cfg.Filtering.UseSessionFiltering && sessionID != "" {
		filter.SessionID = &sessionID
	}

	rHits, err := e.recallEng.Recall(ctx, query, k, filter)
	if err != nil {
		return nil, wrapErr("Recall", KindProviderUnavailable, err)
	}

	hits := make([]Hit, len(rHits))
	for i, h := range rHits {
		hits[i] = Hit{
			DocID:          h.DocID,
			Content:        h.Content,
			EventType:      EventType(h.EventType),
			Importance:     h.Importance,
			LastAccessTime: h.LastAccessTime,
			FinalScore:     h.FinalScore,
			ComponentScores: ComponentScores{
				Dense:   h.ComponentScores.Dense,
				Sparse:  h.ComponentScores.Sparse,
				Recency: h.ComponentScores.Recency,
			},
		}
	}
	return hits, nil
}

// RequestNuke arms a cancellable full wipe, spec.md §3's Nuke Operation,
// via the Forgetting Agent. Returns the operation_id the caller must pass
// to CancelNuke.
func (e *Engine) RequestNuke(ctx context.Context, delay time.Duration) string {
	return e.forgetting.RequestNuke(ctx, delay).OperationID
}

// CancelNuke cancels the nuke identified by operationID if it is still
// pending, reporting whether the cancellation took effect.
func (e *Engine) CancelNuke(operationID string) bool {
	return e.forgetting.CancelNuke(operationID)
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// formatMemoryBlock renders hits as a prompt-injectable block, in the
// style of the teacher's buildMemoryBlock (pkg/memory/reflect.go): one
// bullet per memory, most relevant first, tagged with its event type.
func formatMemoryBlock(hits []Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant memories:\n")
	for _, h := range hits {
		fmt.Fprintf(&b, "- [%s] %s\n", h.EventType, h.Content)
	}
	return b.String()
}

// NewSessionID is a small convenience matching the teacher's use of
// google/uuid for opaque identifiers throughout pkg/core.
func NewSessionID() string {
	return uuid.NewString()
}
