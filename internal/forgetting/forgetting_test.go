package forgetting

import (
	"context"
	"testing"
	"time"

	"github.com/liliang-cn/recollect/config"
	"github.com/liliang-cn/recollect/internal/sparse"
	"github.com/liliang-cn/recollect/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.New(store.Config{Path: ":memory:", Dimension: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func insertAged(t *testing.T, st store.Store, content string, importance float64, ageDays float64, now int64) int64 {
	t.Helper()
	createTime := now - int64(ageDays*86400)
	id, err := st.Insert(context.Background(), &store.Memory{
		Content:        content,
		EventType:      store.EventFact,
		Importance:     importance,
		CreateTime:     createTime,
		LastAccessTime: createTime,
		Status:         store.StatusActive,
	}, []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return id
}

func defaultCfg() config.ForgettingAgentConfig {
	return config.ForgettingAgentConfig{
		Enabled:             true,
		CheckIntervalHours:  24,
		RetentionDays:       90,
		ImportanceDecayRate: 0.005,
		ImportanceThreshold: 0.1,
		ForgettingBatchSize: 10,
	}
}

// TestForgettingBoundary exercises spec.md §8 scenario 5: a memory past
// retention with decayed importance under threshold is deleted; a memory
// below the retention floor survives untouched regardless of its decay.
func TestForgettingBoundary(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sparseIdx := sparse.NewIndex(1.2, 0.75, nil)

	now := time.Now().Unix()
	cfg := defaultCfg()
	cfg.RetentionDays = 30
	cfg.ImportanceDecayRate = 0.01
	cfg.ImportanceThreshold = 0.1

	eligible := insertAged(t, st, "old low-importance memory", 0.15, 60, now)
	tooYoung := insertAged(t, st, "young low-importance memory", 0.15, 20, now)

	agent := New(st, sparseIdx, cfg)
	summary, err := agent.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if summary.Deleted != 1 {
		t.Fatalf("expected exactly 1 deletion, got %d (summary=%+v)", summary.Deleted, summary)
	}

	if _, err := st.GetByID(ctx, eligible); err == nil {
		t.Fatalf("expected eligible memory %d to be deleted", eligible)
	}
	if m, err := st.GetByID(ctx, tooYoung); err != nil || m.Status != store.StatusActive {
		t.Fatalf("expected too-young memory %d to survive untouched, got err=%v m=%+v", tooYoung, err, m)
	}
}

func TestForgettingPreservesHighImportanceMemories(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sparseIdx := sparse.NewIndex(1.2, 0.75, nil)
	now := time.Now().Unix()

	id := insertAged(t, st, "important old memory", 0.95, 120, now)

	cfg := defaultCfg()
	agent := New(st, sparseIdx, cfg)
	if _, err := agent.RunPass(ctx); err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if m, err := st.GetByID(ctx, id); err != nil || m.Status != store.StatusActive {
		t.Fatalf("expected high-importance memory to survive, got err=%v m=%+v", err, m)
	}
}

func TestNukeRequestAndFire(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sparseIdx := sparse.NewIndex(1.2, 0.75, nil)
	now := time.Now().Unix()
	insertAged(t, st, "some memory", 0.5, 1, now)

	agent := New(st, sparseIdx, defaultCfg())
	op := agent.RequestNuke(ctx, 30*time.Millisecond)
	if op.State != NukePending {
		t.Fatalf("expected newly requested nuke to be pending, got %s", op.State)
	}
	if !agent.NukePending() {
		t.Fatalf("expected NukePending to report true immediately after request")
	}

	time.Sleep(100 * time.Millisecond)
	agent.Wait()

	counts, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts.Active != 0 {
		t.Fatalf("expected nuke to wipe all active memories, got %d remaining", counts.Active)
	}
	cur, ok := agent.CurrentNuke()
	if !ok || cur.State != NukeFired {
		t.Fatalf("expected nuke record to be marked fired, got %+v ok=%v", cur, ok)
	}
}

// TestNukeCancellation exercises spec.md §8 scenario 7/invariant: a nuke
// cancelled before fire leaves the store untouched.
func TestNukeCancellation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sparseIdx := sparse.NewIndex(1.2, 0.75, nil)
	now := time.Now().Unix()
	insertAged(t, st, "some memory", 0.5, 1, now)

	before, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}

	agent := New(st, sparseIdx, defaultCfg())
	op := agent.RequestNuke(ctx, 50*time.Millisecond)

	ok := agent.CancelNuke(op.OperationID)
	if !ok {
		t.Fatalf("expected cancellation of a pending nuke to succeed")
	}
	if agent.NukePending() {
		t.Fatalf("expected no nuke pending after cancellation")
	}

	// Cancelling the same operation_id again must be a no-op that reports
	// false, per spec.md §4.7 ("succeeds only while pending").
	if agent.CancelNuke(op.OperationID) {
		t.Fatalf("expected re-cancelling an already-cancelled nuke to report false")
	}

	time.Sleep(100 * time.Millisecond)
	agent.Wait()

	after, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if after != before {
		t.Fatalf("expected store unchanged after cancelled nuke: before=%+v after=%+v", before, after)
	}
}

func TestNukeRequestReplacesPriorPending(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sparseIdx := sparse.NewIndex(1.2, 0.75, nil)
	agent := New(st, sparseIdx, defaultCfg())

	first := agent.RequestNuke(ctx, time.Hour)
	second := agent.RequestNuke(ctx, time.Hour)

	if agent.CancelNuke(first.OperationID) {
		t.Fatalf("expected the superseded first operation_id to no longer be cancellable")
	}
	if !agent.CancelNuke(second.OperationID) {
		t.Fatalf("expected the current operation_id to be cancellable")
	}
}
