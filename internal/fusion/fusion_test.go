package fusion

import "testing"

func TestRRFFavorsItemsRankedHighInBoth(t *testing.T) {
	dense := []Ranked{{DocID: 1, Score: 0.9}, {DocID: 2, Score: 0.8}, {DocID: 3, Score: 0.1}}
	sparse := []Ranked{{DocID: 1, Score: 5.0}, {DocID: 4, Score: 4.0}, {DocID: 3, Score: 0.5}}

	out := Fuse(dense, sparse, 3, Config{Strategy: RRF, RRFK: 60}, "irrelevant query text")
	if len(out) == 0 || out[0].DocID != 1 {
		t.Fatalf("expected doc 1 (top of both lists) to rank first, got %+v", out)
	}
}

func TestFuseHasNoDuplicateIDs(t *testing.T) {
	dense := []Ranked{{DocID: 1, Score: 0.9}, {DocID: 2, Score: 0.5}}
	sparse := []Ranked{{DocID: 1, Score: 3.0}, {DocID: 2, Score: 1.0}}

	for _, strat := range []Strategy{RRF, HybridRRF, Weighted, Convex, Interleave, RankFusion, Borda, Cascade} {
		out := Fuse(dense, sparse, 10, Config{Strategy: strat, RRFK: 60, DenseWeight: 0.5, SparseWeight: 0.5, ConvexLambda: 0.5, InterleaveRatio: 0.5}, "test query")
		seen := map[int64]bool{}
		for _, r := range out {
			if seen[r.DocID] {
				t.Fatalf("strategy %s produced duplicate doc_id %d", strat, r.DocID)
			}
			seen[r.DocID] = true
		}
	}
}

func TestFuseRespectsK(t *testing.T) {
	var dense, sparse []Ranked
	for i := int64(1); i <= 20; i++ {
		dense = append(dense, Ranked{DocID: i, Score: float64(20 - i)})
	}
	out := Fuse(dense, sparse, 5, Config{Strategy: RRF, RRFK: 60}, "x")
	if len(out) != 5 {
		t.Fatalf("expected 5 results, got %d", len(out))
	}
}

func TestInterleaveRespectsRatio(t *testing.T) {
	var dense, sparse []Ranked
	for i := int64(1); i <= 10; i++ {
		dense = append(dense, Ranked{DocID: i, Score: float64(10 - i)})
		sparse = append(sparse, Ranked{DocID: i + 100, Score: float64(10 - i)})
	}
	out := interleave(dense, sparse, 6, 0.5)
	if len(out) != 6 {
		t.Fatalf("expected 6 results, got %d", len(out))
	}
	var denseCount int
	for _, r := range out {
		if r.DocID < 100 {
			denseCount++
		}
	}
	if denseCount != 3 {
		t.Fatalf("expected 3 dense-sourced results at ratio 0.5, got %d", denseCount)
	}
}

func TestClassifyShortQueryIsKeyword(t *testing.T) {
	if Classify("coffee shop") != ClassKeyword {
		t.Fatalf("expected short query to classify as keyword")
	}
}

func TestClassifyLongNaturalQueryIsSemanticOrMixed(t *testing.T) {
	c := Classify("what is the best way to remember someone's birthday and favorite food preferences over time")
	if c != ClassSemantic && c != ClassMixed {
		t.Fatalf("expected long natural-language query to classify as semantic or mixed, got %s", c)
	}
}

func TestAdaptiveDelegatesByQueryClass(t *testing.T) {
	dense := []Ranked{{DocID: 1, Score: 0.9}}
	sparse := []Ranked{{DocID: 2, Score: 5.0}}
	out := Fuse(dense, sparse, 2, Config{Strategy: Adaptive, RRFK: 60}, "db")
	if len(out) == 0 {
		t.Fatalf("expected adaptive fusion to return results")
	}
	// "db" classifies as a keyword query, which delegates to sparse-leaning
	// weighted fusion: doc 2 scores 0.7 against doc 1's 0.27.
	if out[0].DocID != 2 {
		t.Fatalf("expected keyword query to rank the sparse hit first, got %+v", out)
	}
}

func TestMinMaxNormalizeHandlesZeroSpread(t *testing.T) {
	in := []Ranked{{DocID: 1, Score: 3}, {DocID: 2, Score: 3}}
	out := minMaxNormalize(in)
	for _, r := range out {
		if r.Score != 1.0 {
			t.Fatalf("expected zero-spread scores to normalize to 1.0, got %v", r.Score)
		}
	}
}

func TestTopKTieBreakDeterministic(t *testing.T) {
	scores := map[int64]float64{3: 1.0, 1: 1.0, 2: 1.0}
	denseRank := map[int64]int{}
	sparseRank := map[int64]int{}
	out := topK(scores, denseRank, sparseRank, 3)
	if out[0].DocID != 1 || out[1].DocID != 2 || out[2].DocID != 3 {
		t.Fatalf("expected ascending doc_id tie-break when no dense membership, got %+v", out)
	}
}

// TestTopKTieBreakPrefersBothListsOverBetterDenseRank exercises spec.md
// §4.4 tie-break rule (a): a tied item present in both dense and sparse
// outranks one present in dense only, even when the dense-only item has a
// strictly better dense rank.
func TestTopKTieBreakPrefersBothListsOverBetterDenseRank(t *testing.T) {
	scores := map[int64]float64{10: 0.5, 20: 0.5}
	denseRank := map[int64]int{20: 1, 10: 2} // 20 ranks better in dense alone
	sparseRank := map[int64]int{10: 1}       // but only 10 also appears in sparse
	out := topK(scores, denseRank, sparseRank, 2)
	if out[0].DocID != 10 {
		t.Fatalf("expected doc in both lists to win the tie over a better dense-only rank, got %+v", out)
	}
}
