// Package forgetting implements the Forgetting Agent of spec.md §4.7: a
// periodic importance-decay sweep plus a cancellable nuke countdown, both
// run as tracked background goroutines, grounded on the teacher's
// background-ticker pattern in pkg/memory (the TTL janitor loop) and the
// detached-goroutine idiom used for auto-retain dispatch in chat.go.
package forgetting

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liliang-cn/recollect/config"
	"github.com/liliang-cn/recollect/internal/sparse"
	"github.com/liliang-cn/recollect/internal/store"
)

// NukeState is a nuke operation's lifecycle state, spec.md §3's
// {pending, cancelled, fired}.
type NukeState string

const (
	NukePending   NukeState = "pending"
	NukeCancelled NukeState = "cancelled"
	NukeFired     NukeState = "fired"
)

// Nuke is spec.md §3's Nuke Operation record.
type Nuke struct {
	OperationID string
	ScheduledAt int64
	FireAt      int64
	State       NukeState
}

// PassSummary reports one decay pass's outcome, spec.md §4.7's
// {scanned, deleted, elapsed} tuple.
type PassSummary struct {
	Scanned int
	Deleted int
	Elapsed time.Duration
}

// Agent runs the periodic decay sweep and the cancellable nuke.
type Agent struct {
	st        store.Store
	sparseIdx *sparse.Index
	cfg       config.ForgettingAgentConfig

	wg     sync.WaitGroup
	cancel context.CancelFunc

	nukeMu     sync.Mutex
	nukeCancel context.CancelFunc
	nuke       *Nuke
}

// New builds a Forgetting Agent.
func New(st store.Store, sparseIdx *sparse.Index, cfg config.ForgettingAgentConfig) *Agent {
	return &Agent{st: st, sparseIdx: sparseIdx, cfg: cfg}
}

// Start launches the periodic sweep loop as a tracked background goroutine.
// It is a no-op if the agent is disabled in configuration.
func (a *Agent) Start(ctx context.Context) {
	if !a.cfg.Enabled {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	interval := time.Duration(a.cfg.CheckIntervalHours * float64(time.Hour))
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				summary, err := a.RunPass(runCtx)
				if err != nil {
					slog.Warn("forgetting: pass failed", "error", err)
					continue
				}
				slog.Info("forgetting: pass complete", "scanned", summary.Scanned, "deleted", summary.Deleted, "elapsed", summary.Elapsed)
			}
		}
	}()
}

// Stop cancels the sweep loop and any pending nuke, and waits for both to
// finish.
func (a *Agent) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.nukeMu.Lock()
	if a.nukeCancel != nil {
		a.nukeCancel()
		a.nukeCancel = nil
	}
	if a.nuke != nil && a.nuke.State == NukePending {
		a.nuke.State = NukeCancelled
	}
	a.nukeMu.Unlock()
	a.wg.Wait()
}

// RunPass executes one decay-and-delete sweep synchronously, spec.md
// §4.7's per-pass algorithm: age_days = (now - create_time)/86400,
// decayed_importance = importance*(1-decay_rate)^age_days, and a memory is
// eligible once age_days > retention_days AND decayed_importance <
// importance_threshold. forgetting_batch_size sizes the scan page itself;
// eligible ids within a page are deleted at that page's boundary, so a
// cancelled or crashed pass keeps the pages it already finished rather than
// losing the whole sweep.
func (a *Agent) RunPass(ctx context.Context) (PassSummary, error) {
	start := time.Now()
	var summary PassSummary

	now := time.Now().Unix()
	var after int64

	pageSize := a.cfg.ForgettingBatchSize
	if pageSize <= 0 {
		pageSize = 500
	}

	for {
		page, err := a.st.ScanPaginated(ctx, after, pageSize, store.Filter{Status: store.StatusActive})
		if err != nil {
			summary.Elapsed = time.Since(start)
			return summary, err
		}

		var toDelete []int64
		for _, m := range page.Memories {
			summary.Scanned++
			ageDays := float64(now-m.CreateTime) / 86400
			if ageDays < 0 {
				ageDays = 0
			}
			decayed := m.Importance * math.Pow(1-a.cfg.ImportanceDecayRate, ageDays)
			if ageDays > a.cfg.RetentionDays && decayed < a.cfg.ImportanceThreshold {
				toDelete = append(toDelete, m.DocID)
			}
		}

		if len(toDelete) > 0 {
			n, err := a.st.DeleteMany(ctx, toDelete)
			if err != nil {
				summary.Elapsed = time.Since(start)
				return summary, err
			}
			summary.Deleted += n
			if a.sparseIdx != nil {
				for _, id := range toDelete {
					a.sparseIdx.Remove(id)
				}
			}
		}

		if !page.HasMore {
			break
		}
		after = page.NextDocID

		if err := ctx.Err(); err != nil {
			summary.Elapsed = time.Since(start)
			return summary, err
		}
	}

	summary.Elapsed = time.Since(start)
	return summary, nil
}

// RequestNuke arms a cancellable full wipe: after delay, unless CancelNuke
// is called first, every memory is deleted and the sparse index is cleared.
// Only one nuke may be pending at a time; a new request cancels any prior
// pending one before arming its own, per spec.md §3's "only one pending
// nuke at a time". Returns the new operation's record.
func (a *Agent) RequestNuke(ctx context.Context, delay time.Duration) Nuke {
	if delay <= 0 {
		delay = 30 * time.Second
	}
	now := time.Now().Unix()
	op := Nuke{
		OperationID: uuid.NewString(),
		ScheduledAt: now,
		FireAt:      now + int64(delay/time.Second),
		State:       NukePending,
	}

	a.nukeMu.Lock()
	if a.nukeCancel != nil {
		a.nukeCancel()
	}
	nukeCtx, cancel := context.WithCancel(ctx)
	a.nukeCancel = cancel
	a.nuke = &op
	a.nukeMu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-nukeCtx.Done():
			return
		case <-timer.C:
		}
		// Mark the operation fired before wiping, so a CancelNuke racing the
		// timer either wins while still pending or reports false.
		a.nukeMu.Lock()
		if a.nuke == nil || a.nuke.OperationID != op.OperationID || a.nuke.State != NukePending {
			a.nukeMu.Unlock()
			return
		}
		a.nuke.State = NukeFired
		a.nukeCancel = nil
		a.nukeMu.Unlock()

		if err := a.st.DeleteAll(context.Background()); err != nil {
			slog.Error("forgetting: nuke failed", "error", err)
			return
		}
		if a.sparseIdx != nil {
			a.sparseIdx.RebuildFrom(nil)
		}
		slog.Warn("forgetting: nuke executed", "operation_id", op.OperationID)
	}()

	return op
}

// CancelNuke cancels the nuke identified by operationID if it is still
// pending, per spec.md §4.7. Cancelling an unknown, already-fired, or
// already-cancelled operation_id is a no-op that reports false.
func (a *Agent) CancelNuke(operationID string) bool {
	a.nukeMu.Lock()
	defer a.nukeMu.Unlock()
	if a.nuke == nil || a.nuke.OperationID != operationID || a.nuke.State != NukePending {
		return false
	}
	if a.nukeCancel != nil {
		a.nukeCancel()
		a.nukeCancel = nil
	}
	a.nuke.State = NukeCancelled
	return true
}

// NukePending reports whether a nuke is currently armed.
func (a *Agent) NukePending() bool {
	a.nukeMu.Lock()
	defer a.nukeMu.Unlock()
	return a.nuke != nil && a.nuke.State == NukePending
}

// CurrentNuke returns the most recently requested nuke's record, if any.
func (a *Agent) CurrentNuke() (Nuke, bool) {
	a.nukeMu.Lock()
	defer a.nukeMu.Unlock()
	if a.nuke == nil {
		return Nuke{}, false
	}
	return *a.nuke, true
}

// Wait blocks until the sweep loop and any outstanding nuke goroutine
// finish. Exposed for the root Engine's supervised task set.
func (a *Agent) Wait() {
	a.wg.Wait()
}
