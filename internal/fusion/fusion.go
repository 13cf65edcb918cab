// Package fusion implements the nine result-fusion strategies of spec.md
// §4.4. The RRF core is adapted from the teacher's pkg/memory/recall.go
// rrfFuse and pkg/hindsight's (*System).rrfFuse; the weighted/convex core
// is adapted from pkg/semantic-router/hybrid.go's alpha-blending idiom.
// Interleave, Rank Fusion, Borda, Cascade, and Adaptive have no direct
// teacher analogue and are newly authored extrapolations of those two
// grounded cores (see DESIGN.md).
package fusion

import (
	"sort"
	"strings"
)

// Ranked is one ranked input item: a doc_id plus its normalized score from
// the originating retriever.
type Ranked struct {
	DocID int64
	Score float64
}

// Strategy names one of the nine fusion strategies.
type Strategy string

const (
	RRF       Strategy = "rrf"
	HybridRRF Strategy = "hybrid_rrf"
	Weighted  Strategy = "weighted"
	Convex    Strategy = "convex"
	Interleave Strategy = "interleave"
	RankFusion Strategy = "rank_fusion"
	Borda      Strategy = "borda"
	Cascade    Strategy = "cascade"
	Adaptive   Strategy = "adaptive"
)

// Config carries every per-strategy parameter from spec.md §6's fusion.*
// keys.
type Config struct {
	Strategy        Strategy
	RRFK            int
	DenseWeight     float64
	SparseWeight    float64
	ConvexLambda    float64
	InterleaveRatio float64
	RankBiasFactor  float64
	DiversityBonus  float64
}

// QueryClass is the Adaptive strategy's query classification.
type QueryClass string

const (
	ClassKeyword  QueryClass = "keyword"
	ClassSemantic QueryClass = "semantic"
	ClassMixed    QueryClass = "mixed"
)

// Fuse combines dense and sparse ranked lists into one list of length ≤ k
// with no duplicate ids, per the strategy in cfg. Sparse scores are
// min-max normalized to [0,1] before fusion, per spec.md §4.4.
func Fuse(dense, sparse []Ranked, k int, cfg Config, query string) []Ranked {
	sparseNorm := minMaxNormalize(sparse)

	strat := cfg.Strategy
	if strat == Adaptive {
		switch Classify(query) {
		case ClassKeyword:
			return weighted(dense, sparseNorm, k, 0.3, 0.7)
		case ClassSemantic:
			return weighted(dense, sparseNorm, k, 0.7, 0.3)
		default:
			return hybridRRF(dense, sparseNorm, k, query, cfg.DiversityBonus)
		}
	}

	switch strat {
	case RRF:
		rrfK := cfg.RRFK
		if rrfK <= 0 {
			rrfK = 60
		}
		return rrf(dense, sparseNorm, k, rrfK, 0)
	case HybridRRF:
		return hybridRRF(dense, sparseNorm, k, query, cfg.DiversityBonus)
	case Weighted:
		return weighted(dense, sparseNorm, k, cfg.DenseWeight, cfg.SparseWeight)
	case Convex:
		lambda := cfg.ConvexLambda
		return weighted(minMaxNormalize(dense), sparseNorm, k, lambda, 1-lambda)
	case Interleave:
		return interleave(dense, sparseNorm, k, cfg.InterleaveRatio)
	case RankFusion:
		return rankFusion(dense, sparseNorm, k, cfg.RankBiasFactor)
	case Borda:
		return borda(dense, sparseNorm, k)
	case Cascade:
		return cascade(dense, sparseNorm, k)
	default:
		rrfK := cfg.RRFK
		if rrfK <= 0 {
			rrfK = 60
		}
		return rrf(dense, sparseNorm, k, rrfK, 0)
	}
}

// Classify implements spec.md §4.4 strategy 9's query classifier.
func Classify(query string) QueryClass {
	tokens := strings.Fields(query)
	n := len(tokens)
	if n == 0 {
		return ClassMixed
	}
	if n <= 3 {
		return ClassKeyword
	}
	stopwordHits := 0
	symbolish := false
	for _, t := range tokens {
		lower := strings.ToLower(t)
		if commonStopwords[lower] {
			stopwordHits++
		}
		for _, r := range t {
			if (r >= '0' && r <= '9') || strings.ContainsRune("#@$%&*_+=", r) {
				symbolish = true
			}
		}
	}
	stopwordRatio := float64(stopwordHits) / float64(n)
	if symbolish || stopwordRatio < 0.15 {
		return ClassKeyword
	}
	if n >= 12 {
		return ClassSemantic
	}
	return ClassMixed
}

var commonStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "of": true,
	"to": true, "and": true, "what": true, "does": true, "do": true,
	"how": true, "why": true, "in": true, "on": true, "for": true, "with": true,
}

func rankOf(ranked []Ranked) map[int64]int {
	ranks := make(map[int64]int, len(ranked))
	for i, r := range ranked {
		ranks[r.DocID] = i + 1 // 1-based
	}
	return ranks
}

// rrf is spec.md §4.4 strategy 1: score(id) = Σ 1/(rrfK + rank_i(id)).
func rrf(dense, sparse []Ranked, k, rrfK int, diversityBonus float64) []Ranked {
	denseRank := rankOf(dense)
	sparseRank := rankOf(sparse)
	ids := unionIDs(dense, sparse)

	scores := make(map[int64]float64, len(ids))
	for _, id := range ids {
		var s float64
		inDense, inSparse := false, false
		if r, ok := denseRank[id]; ok {
			s += 1.0 / float64(rrfK+r)
			inDense = true
		}
		if r, ok := sparseRank[id]; ok {
			s += 1.0 / float64(rrfK+r)
			inSparse = true
		}
		if diversityBonus > 0 && (inDense != inSparse) {
			s += diversityBonus
		}
		scores[id] = s
	}
	return topK(scores, denseRank, sparseRank, k)
}

// hybridRRF is spec.md §4.4 strategy 2: rrfK varies with query token count.
func hybridRRF(dense, sparse []Ranked, k int, query string, diversityBonus float64) []Ranked {
	n := len(strings.Fields(query))
	rrfK := 60
	switch {
	case n <= 3:
		rrfK = 30
	case n >= 12:
		rrfK = 100
	}
	return rrf(dense, sparse, k, rrfK, diversityBonus)
}

// weighted is spec.md §4.4 strategy 3 (and, pre-normalized, strategy 4):
// score = alpha*dense + beta*sparse, missing contributions are zero.
func weighted(dense, sparse []Ranked, k int, alpha, beta float64) []Ranked {
	denseByID := scoreMap(dense)
	sparseByID := scoreMap(sparse)
	ids := unionIDs(dense, sparse)

	scores := make(map[int64]float64, len(ids))
	for _, id := range ids {
		scores[id] = alpha*denseByID[id] + beta*sparseByID[id]
	}
	return topK(scores, rankOf(dense), rankOf(sparse), k)
}

// interleave is spec.md §4.4 strategy 5: take ⌈r·k⌉ from dense, the rest
// from sparse, interleaving positions by ratio, skipping ids already taken.
func interleave(dense, sparse []Ranked, k int, ratio float64) []Ranked {
	if ratio <= 0 {
		ratio = 0.5
	}
	takeDense := int(ratio*float64(k) + 0.999999)
	if takeDense > k {
		takeDense = k
	}
	takeSparse := k - takeDense

	seen := make(map[int64]bool, k)
	denseOut := make([]Ranked, 0, takeDense)
	for _, r := range dense {
		if len(denseOut) >= takeDense {
			break
		}
		if !seen[r.DocID] {
			seen[r.DocID] = true
			denseOut = append(denseOut, r)
		}
	}
	sparseOut := make([]Ranked, 0, takeSparse)
	for _, r := range sparse {
		if len(sparseOut) >= takeSparse {
			break
		}
		if !seen[r.DocID] {
			seen[r.DocID] = true
			sparseOut = append(sparseOut, r)
		}
	}

	result := make([]Ranked, 0, k)
	di, si := 0, 0
	for len(result) < k && (di < len(denseOut) || si < len(sparseOut)) {
		// Place a dense item while dense holds no more than its ratio share
		// of the positions filled so far.
		pickDense := di < len(denseOut) && (si >= len(sparseOut) || float64(di) <= ratio*float64(di+si))
		if pickDense {
			result = append(result, denseOut[di])
			di++
		} else {
			result = append(result, sparseOut[si])
			si++
		}
	}
	return result
}

// rankFusion is spec.md §4.4 strategy 6: score = w_d/rank_d + w_s/rank_s,
// with a bonus for items in both lists.
func rankFusion(dense, sparse []Ranked, k int, biasFactor float64) []Ranked {
	denseRank := rankOf(dense)
	sparseRank := rankOf(sparse)
	ids := unionIDs(dense, sparse)

	const inf = 1e9
	scores := make(map[int64]float64, len(ids))
	for _, id := range ids {
		rd, okD := denseRank[id]
		rs, okS := sparseRank[id]
		rdf, rsf := float64(inf), float64(inf)
		if okD {
			rdf = float64(rd)
		}
		if okS {
			rsf = float64(rs)
		}
		s := 0.5/rdf + 0.5/rsf
		if okD && okS {
			s += biasFactor
		}
		scores[id] = s
	}
	return topK(scores, denseRank, sparseRank, k)
}

// borda is spec.md §4.4 strategy 7: score = w_d*(n_d-rank_d+1) + w_s*(n_s-rank_s+1).
func borda(dense, sparse []Ranked, k int) []Ranked {
	denseRank := rankOf(dense)
	sparseRank := rankOf(sparse)
	nd, ns := len(dense), len(sparse)
	ids := unionIDs(dense, sparse)

	scores := make(map[int64]float64, len(ids))
	for _, id := range ids {
		var s float64
		if r, ok := denseRank[id]; ok {
			s += 0.5 * float64(nd-r+1)
		}
		if r, ok := sparseRank[id]; ok {
			s += 0.5 * float64(ns-r+1)
		}
		scores[id] = s
	}
	return topK(scores, denseRank, sparseRank, k)
}

// cascade is spec.md §4.4 strategy 8: top M=4k from sparse, re-ranked by
// dense similarity within that candidate set.
func cascade(dense, sparse []Ranked, k int) []Ranked {
	m := 4 * k
	if m > len(sparse) {
		m = len(sparse)
	}
	candidates := sparse[:m]
	denseByID := scoreMap(dense)
	denseRank := rankOf(dense)
	sparseRank := rankOf(sparse)

	scores := make(map[int64]float64, len(candidates))
	for _, c := range candidates {
		scores[c.DocID] = denseByID[c.DocID] // 0 if absent from dense
	}
	return topK(scores, denseRank, sparseRank, k)
}

func scoreMap(ranked []Ranked) map[int64]float64 {
	m := make(map[int64]float64, len(ranked))
	for _, r := range ranked {
		m[r.DocID] = r.Score
	}
	return m
}

func unionIDs(a, b []Ranked) []int64 {
	seen := make(map[int64]bool, len(a)+len(b))
	var ids []int64
	for _, r := range a {
		if !seen[r.DocID] {
			seen[r.DocID] = true
			ids = append(ids, r.DocID)
		}
	}
	for _, r := range b {
		if !seen[r.DocID] {
			seen[r.DocID] = true
			ids = append(ids, r.DocID)
		}
	}
	return ids
}

// minMaxNormalize scales scores into [0,1]. A single-element or
// zero-spread input maps every score to 1.0.
func minMaxNormalize(ranked []Ranked) []Ranked {
	if len(ranked) == 0 {
		return ranked
	}
	min, max := ranked[0].Score, ranked[0].Score
	for _, r := range ranked[1:] {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	out := make([]Ranked, len(ranked))
	spread := max - min
	for i, r := range ranked {
		if spread == 0 {
			out[i] = Ranked{DocID: r.DocID, Score: 1.0}
		} else {
			out[i] = Ranked{DocID: r.DocID, Score: (r.Score - min) / spread}
		}
	}
	return out
}

// topK sorts by score descending with the deterministic tie-break from
// spec.md §4.4: (a) appearance in both lists before appearance in one list,
// (b) higher dense rank, (c) lower doc_id — then truncates to k. Both the
// dense and sparse rank maps are required to evaluate (a); a map built from
// only one side can't tell "in both" from "in this side only".
func topK(scores map[int64]float64, denseRank, sparseRank map[int64]int, k int) []Ranked {
	type entry struct {
		id       int64
		score    float64
		bothList bool
	}
	entries := make([]entry, 0, len(scores))
	for id, s := range scores {
		_, inDense := denseRank[id]
		_, inSparse := sparseRank[id]
		entries = append(entries, entry{id: id, score: s, bothList: inDense && inSparse})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		if entries[i].bothList != entries[j].bothList {
			return entries[i].bothList
		}
		ri, iOk := denseRank[entries[i].id]
		rj, jOk := denseRank[entries[j].id]
		if iOk && jOk && ri != rj {
			return ri < rj
		}
		if iOk != jOk {
			return iOk
		}
		return entries[i].id < entries[j].id
	})
	if k > 0 && len(entries) > k {
		entries = entries[:k]
	}
	result := make([]Ranked, len(entries))
	for i, e := range entries {
		result[i] = Ranked{DocID: e.id, Score: e.score}
	}
	return result
}
