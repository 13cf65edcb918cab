// Package recall implements the Recall Engine of spec.md §4.5, generalizing
// the teacher's TEMPR four-channel concurrent-goroutine pattern
// (pkg/memory/recall.go's Recall method: one goroutine + buffered channel
// per channel, fanned in with a sync.WaitGroup) down to the spec's two
// channels, dense and sparse.
package recall

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/liliang-cn/recollect/config"
	"github.com/liliang-cn/recollect/internal/fusion"
	"github.com/liliang-cn/recollect/internal/sparse"
	"github.com/liliang-cn/recollect/internal/store"
)

// ErrBothChannelsFailed is returned when both the dense and sparse
// retrieval channels fail, per spec.md §4.5's error-paths paragraph ("if
// both fail, return empty with an error"). It is not fatal to a caller
// applying spec.md §7's "recall never raises" policy — the root Engine
// wraps it as KindProviderUnavailable, which a host can treat as a
// degraded, empty-context recall rather than an abort.
var ErrBothChannelsFailed = errors.New("recall: dense and sparse retrieval both failed")

// Embedder embeds a single query string; the root package's
// EmbeddingProvider is adapted to this narrower shape at the call site.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Hit is one entry of a recall result, matching spec.md §6's recall output
// format.
type Hit struct {
	DocID           int64
	Content         string
	EventType       store.EventType
	Importance      float64
	LastAccessTime  int64
	FinalScore      float64
	ComponentScores ComponentScores
}

// ComponentScores reports the per-channel contributions to FinalScore.
type ComponentScores struct {
	Dense   *float64
	Sparse  *float64
	Recency *float64
}

// Engine orchestrates dense + sparse retrieval, fusion, and weighted
// rescoring.
type Engine struct {
	st       store.Store
	sparse   *sparse.Index
	embedder Embedder
	cfg      config.RecallEngineConfig
	fcfg     config.FusionConfig

	wg      sync.WaitGroup
}

// New builds a recall Engine over the given storage, sparse index, and
// embedder.
func New(st store.Store, sparseIdx *sparse.Index, embedder Embedder, cfg config.RecallEngineConfig, fcfg config.FusionConfig) *Engine {
	if cfg.Strategy == config.RecallStrategyWeighted {
		if sum := cfg.SimilarityWeight + cfg.ImportanceWeight + cfg.RecencyWeight; math.Abs(sum-1) > 0.01 {
			slog.Warn("recall: weighted scorer weights do not sum to 1", "sum", sum)
		}
	}
	return &Engine{st: st, sparse: sparseIdx, embedder: embedder, cfg: cfg, fcfg: fcfg}
}

type channelResult struct {
	ranked []fusion.Ranked
	failed bool
}

// Recall executes spec.md §4.5's algorithm: parallel over-fetch, filtered
// fusion, optional weighted rescoring, and an asynchronous touch of
// returned ids.
func (e *Engine) Recall(ctx context.Context, query string, k int, filter store.Filter) ([]Hit, error) {
	if k <= 0 {
		k = e.cfg.TopK
	}
	overK := k * 4
	if overK < 20 {
		overK = 20
	}

	var denseRes, sparseRes channelResult
	var wg sync.WaitGroup

	mode := e.cfg.RetrievalMode
	if mode == "" {
		mode = config.RetrievalModeHybrid
	}

	if mode == config.RetrievalModeHybrid || mode == config.RetrievalModeDense {
		wg.Add(1)
		go func() {
			defer wg.Done()
			denseRes = e.denseSearch(ctx, query, overK, filter)
		}()
	}
	if mode == config.RetrievalModeHybrid || mode == config.RetrievalModeSparse {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sparseRes = e.sparseSearch(query, overK, filter)
		}()
	}
	wg.Wait()

	if denseRes.failed && sparseRes.failed {
		return nil, ErrBothChannelsFailed
	}

	fused := fusion.Fuse(denseRes.ranked, sparseRes.ranked, k*2, fusion.Config{
		Strategy:        fusion.Strategy(e.fcfg.Strategy),
		RRFK:            e.fcfg.RRFK,
		DenseWeight:     e.fcfg.DenseWeight,
		SparseWeight:    e.fcfg.SparseWeight,
		ConvexLambda:    e.fcfg.ConvexLambda,
		InterleaveRatio: e.fcfg.InterleaveRatio,
		RankBiasFactor:  e.fcfg.RankBiasFactor,
		DiversityBonus:  e.fcfg.DiversityBonus,
	}, query)

	denseByID := scoreMap(denseRes.ranked)
	sparseByID := scoreMap(sparseRes.ranked)

	hits, err := e.buildHits(ctx, fused, denseByID, sparseByID, filter)
	if err != nil {
		return nil, err
	}

	if e.cfg.Strategy == config.RecallStrategyWeighted {
		now := time.Now().Unix()
		e.rescore(hits, now)
	}

	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}

	e.asyncTouch(hits)

	return hits, nil
}

func (e *Engine) denseSearch(ctx context.Context, query string, overK int, filter store.Filter) channelResult {
	if e.embedder == nil {
		return channelResult{failed: true}
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return channelResult{failed: true}
	}
	scored, err := e.st.DenseSearch(ctx, vec, overK, filter)
	if err != nil {
		return channelResult{failed: true}
	}
	ranked := make([]fusion.Ranked, len(scored))
	for i, s := range scored {
		ranked[i] = fusion.Ranked{DocID: s.DocID, Score: s.Score}
	}
	return channelResult{ranked: ranked}
}

func (e *Engine) sparseSearch(query string, overK int, filter store.Filter) channelResult {
	if e.sparse == nil {
		return channelResult{failed: true}
	}
	hits := e.sparse.Search(query, overK)
	ranked := make([]fusion.Ranked, len(hits))
	for i, h := range hits {
		ranked[i] = fusion.Ranked{DocID: h.DocID, Score: h.Score}
	}
	return channelResult{ranked: ranked}
}

func scoreMap(ranked []fusion.Ranked) map[int64]float64 {
	m := make(map[int64]float64, len(ranked))
	for _, r := range ranked {
		m[r.DocID] = r.Score
	}
	return m
}

func (e *Engine) buildHits(ctx context.Context, fused []fusion.Ranked, denseByID, sparseByID map[int64]float64, filter store.Filter) ([]Hit, error) {
	hits := make([]Hit, 0, len(fused))
	for _, f := range fused {
		m, err := e.st.GetByID(ctx, f.DocID)
		if err != nil {
			continue // deleted between fusion and fetch; soft skip
		}
		if m.Status != store.StatusActive {
			continue
		}
		// Sparse hits come from an index that knows nothing of persona or
		// session, so both predicates are checked against the document row.
		if filter.PersonaID != nil && m.PersonaID != *filter.PersonaID {
			continue
		}
		if filter.SessionID != nil && m.SessionID != *filter.SessionID {
			continue
		}
		var cs ComponentScores
		if s, ok := denseByID[f.DocID]; ok {
			cs.Dense = &s
		}
		if s, ok := sparseByID[f.DocID]; ok {
			cs.Sparse = &s
		}
		hits = append(hits, Hit{
			DocID:           m.DocID,
			Content:         m.Content,
			EventType:       m.EventType,
			Importance:      m.Importance,
			LastAccessTime:  m.LastAccessTime,
			FinalScore:      f.Score,
			ComponentScores: cs,
		})
	}
	return hits, nil
}

// rescore applies spec.md §4.5 step 5's weighted formula in place and
// re-sorts by the new FinalScore.
func (e *Engine) rescore(hits []Hit, now int64) {
	tau := e.cfg.RecencyTau
	if tau <= 0 {
		tau = 30
	}
	wSim, wImp, wRec := e.cfg.SimilarityWeight, e.cfg.ImportanceWeight, e.cfg.RecencyWeight
	for i := range hits {
		h := &hits[i]
		deltaDays := float64(now-h.LastAccessTime) / 86400
		if deltaDays < 0 {
			deltaDays = 0
		}
		recency := math.Exp(-deltaDays / tau)
		h.ComponentScores.Recency = &recency
		h.FinalScore = wSim*h.FinalScore + wImp*h.Importance + wRec*recency
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].FinalScore > hits[j].FinalScore
	})
}

// asyncTouch calls storage.Touch in a tracked detached goroutine so Recall
// never blocks on it, per spec.md §4.5 step 6.
func (e *Engine) asyncTouch(hits []Hit) {
	if len(hits) == 0 {
		return
	}
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.DocID
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = e.st.Touch(context.Background(), ids, time.Now().Unix())
	}()
}

// Wait blocks until all outstanding asynchronous touches complete. Called
// by the root Engine's Stop as part of the supervised task set.
func (e *Engine) Wait() {
	e.wg.Wait()
}
