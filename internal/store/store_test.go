package store

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := New(Config{Path: ":memory:", Dimension: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testMemory(content string, importance float64) *Memory {
	return &Memory{
		Content:        content,
		EventType:      EventFact,
		Importance:     importance,
		CreateTime:     1000,
		LastAccessTime: 1000,
		SessionID:      "s1",
		PersonaID:      "p1",
		Status:         StatusActive,
	}
}

func TestInsertAndGetByID(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	id, err := st.Insert(ctx, testMemory("likes tea", 0.7), []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive doc_id, got %d", id)
	}

	m, err := st.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if m.Content != "likes tea" || m.Importance != 0.7 {
		t.Fatalf("unexpected memory: %+v", m)
	}
}

func TestDocIDsStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	var last int64
	for i := 0; i < 5; i++ {
		id, err := st.Insert(ctx, testMemory("x", 0.5), []float32{1, 0, 0, 0})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if id <= last {
			t.Fatalf("doc_id not strictly increasing: %d <= %d", id, last)
		}
		last = id
	}
}

func TestDeleteManyRemovesVectorAndDocument(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	id, err := st.Insert(ctx, testMemory("transient", 0.5), []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := st.DeleteMany(ctx, []int64{id})
	if err != nil {
		t.Fatalf("DeleteMany: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deletion, got %d", n)
	}

	if _, err := st.GetByID(ctx, id); err == nil {
		t.Fatalf("expected GetByID to fail after delete")
	}

	embeddings, err := st.GetEmbeddings(ctx, []int64{id})
	if err != nil {
		t.Fatalf("GetEmbeddings: %v", err)
	}
	if _, ok := embeddings[id]; ok {
		t.Fatalf("expected vector to be removed alongside document")
	}
}

func TestUpdateOnlyPatchesAllowedFields(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	id, err := st.Insert(ctx, testMemory("static content", 0.5), []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	newImportance := 0.9
	if err := st.Update(ctx, id, Patch{Importance: &newImportance}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	m, err := st.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if m.Importance != 0.9 {
		t.Fatalf("expected importance 0.9, got %v", m.Importance)
	}
	if m.Content != "static content" {
		t.Fatalf("content must never change via Update, got %q", m.Content)
	}
}

func TestScanPaginatedKeysetOrderAndHasMore(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	for i := 0; i < 7; i++ {
		if _, err := st.Insert(ctx, testMemory("m", 0.5), []float32{1, 0, 0, 0}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	page, err := st.ScanPaginated(ctx, 0, 3, Filter{})
	if err != nil {
		t.Fatalf("ScanPaginated: %v", err)
	}
	if len(page.Memories) != 3 || !page.HasMore {
		t.Fatalf("expected 3 memories with HasMore, got %d/%v", len(page.Memories), page.HasMore)
	}

	var seen int
	after := int64(0)
	has := true
	for has {
		p, err := st.ScanPaginated(ctx, after, 3, Filter{})
		if err != nil {
			t.Fatalf("ScanPaginated: %v", err)
		}
		seen += len(p.Memories)
		has = p.HasMore
		after = p.NextDocID
	}
	if seen != 7 {
		t.Fatalf("expected to see all 7 memories across pages, saw %d", seen)
	}
}

func TestScanPaginatedExcludesDeletedByDefault(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	id, err := st.Insert(ctx, testMemory("gone", 0.5), []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	deleted := StatusDeleted
	if err := st.Update(ctx, id, Patch{Status: &deleted}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	page, err := st.ScanPaginated(ctx, 0, 100, Filter{})
	if err != nil {
		t.Fatalf("ScanPaginated: %v", err)
	}
	for _, m := range page.Memories {
		if m.DocID == id {
			t.Fatalf("deleted memory should not appear in default scan")
		}
	}
}

func TestDenseSearchRanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	idA, err := st.Insert(ctx, testMemory("a", 0.5), []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	idB, err := st.Insert(ctx, testMemory("b", 0.5), []float32{0, 1, 0, 0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	scored, err := st.DenseSearch(ctx, []float32{1, 0, 0, 0}, 2, Filter{})
	if err != nil {
		t.Fatalf("DenseSearch: %v", err)
	}
	if len(scored) == 0 || scored[0].DocID != idA {
		t.Fatalf("expected %d ranked first, got %+v", idA, scored)
	}
	_ = idB
}

func TestTouchUpdatesAccessBookkeeping(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	id, err := st.Insert(ctx, testMemory("touched", 0.5), []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := st.Touch(ctx, []int64{id}, 5000); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	m, err := st.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if m.LastAccessTime != 5000 || m.AccessCount != 1 {
		t.Fatalf("expected touch to bump last_access_time/access_count, got %+v", m)
	}
}

func TestCountByStatus(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	if _, err := st.Insert(ctx, testMemory("a", 0.5), []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id2, err := st.Insert(ctx, testMemory("b", 0.5), []float32{0, 1, 0, 0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := st.DeleteMany(ctx, []int64{id2}); err != nil {
		t.Fatalf("DeleteMany: %v", err)
	}

	counts, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts.Active != 1 {
		t.Fatalf("expected 1 active, got %d", counts.Active)
	}
}
