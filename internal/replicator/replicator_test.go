package replicator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

type fakeWriter struct {
	mu      sync.Mutex
	applied []string
	removed []string
	failing bool
}

var errShadowDown = errors.New("shadow down")

func (w *fakeWriter) Apply(_ context.Context, entityID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failing {
		return errShadowDown
	}
	w.applied = append(w.applied, entityID)
	return nil
}

func (w *fakeWriter) Remove(_ context.Context, entityID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failing {
		return errShadowDown
	}
	w.removed = append(w.removed, entityID)
	return nil
}

func (w *fakeWriter) setFailing(v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failing = v
}

func (w *fakeWriter) appliedIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.applied...)
}

type memorySource struct {
	mu   sync.Mutex
	rows map[string][]SourceRow
}

func newMemorySource() *memorySource {
	return &memorySource{rows: make(map[string][]SourceRow)}
}

func (s *memorySource) add(entityType, id string, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[entityType] = append(s.rows[entityType], SourceRow{ID: id, UpdatedAt: updatedAt})
}

func (s *memorySource) RowsUpdatedSince(_ context.Context, entityType string, since time.Time, afterID string, limit int) ([]SourceRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SourceRow
	for _, r := range s.rows[entityType] {
		if r.UpdatedAt.After(since) || (r.UpdatedAt.Equal(since) && r.ID > afterID) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestRegistry_RejectsDoubleRegistration(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(EntityWallet, &fakeWriter{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(EntityWallet, &fakeWriter{}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestDispatcher_DeliversAndMarksDone(t *testing.T) {
	tasks := NewMemoryTaskStore()
	reg := NewRegistry()
	w := &fakeWriter{}
	_ = reg.Register(EntityWallet, w)
	d := NewDispatcher(tasks, reg, nil, time.Second, 100)

	tasks.Add(EntityWallet, "w1", "create")
	tasks.Add(EntityWallet, "w2", "update")
	tasks.Add(EntityWallet, "w3", "delete")

	if n := d.Drain(context.Background()); n != 3 {
		t.Fatalf("expected 3 handled, got %d", n)
	}

	if got := w.appliedIDs(); len(got) != 2 {
		t.Fatalf("expected 2 applies, got %v", got)
	}
	if len(w.removed) != 1 || w.removed[0] != "w3" {
		t.Fatalf("expected delete for w3, got %v", w.removed)
	}
	for _, task := range tasks.Snapshot() {
		if task.Status != TaskDone {
			t.Fatalf("task %d not done: %+v", task.ID, task)
		}
	}
	delivered, failures := d.Stats()
	if delivered != 3 || failures != 0 {
		t.Fatalf("unexpected stats: delivered=%d failures=%d", delivered, failures)
	}
}

func TestDispatcher_FailureNeverPropagatesAndRetries(t *testing.T) {
	tasks := NewMemoryTaskStore()
	reg := NewRegistry()
	w := &fakeWriter{failing: true}
	_ = reg.Register(EntityWallet, w)
	d := NewDispatcher(tasks, reg, nil, time.Second, 100)
	ctx := context.Background()

	tasks.Add(EntityWallet, "w1", "create")

	d.Drain(ctx)
	snap := tasks.Snapshot()
	if snap[0].Status != TaskPending || snap[0].Attempts != 1 {
		t.Fatalf("expected pending retry after first failure, got %+v", snap[0])
	}
	if snap[0].LastError == "" {
		t.Fatalf("expected last_error recorded")
	}

	// Keep failing until the retry limit parks the task.
	for i := 0; i < d.maxAttempts; i++ {
		d.Drain(ctx)
	}
	snap = tasks.Snapshot()
	if snap[0].Status != TaskFailed {
		t.Fatalf("expected task parked as failed, got %+v", snap[0])
	}

	// Recovery path: the writer heals and a fresh task for the same entity
	// converges the shadow.
	w.setFailing(false)
	tasks.Add(EntityWallet, "w1", "update")
	d.Drain(ctx)
	if got := w.appliedIDs(); len(got) != 1 || got[0] != "w1" {
		t.Fatalf("expected recovery apply, got %v", got)
	}
}

func TestDispatcher_UnknownEntityParksTask(t *testing.T) {
	tasks := NewMemoryTaskStore()
	d := NewDispatcher(tasks, NewRegistry(), nil, time.Second, 100)

	tasks.Add("campaign", "c1", "create")
	d.Drain(context.Background())

	snap := tasks.Snapshot()
	if snap[0].Status != TaskFailed {
		t.Fatalf("expected unknown entity parked, got %+v", snap[0])
	}
}

func TestResync_AppliesMatchedRows(t *testing.T) {
	source := newMemorySource()
	reg := NewRegistry()
	w := &fakeWriter{}
	_ = reg.Register(EntityOrder, w)
	rec := NewReconciler(source, reg, NewMemorySyncStateStore(), nil, 100)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	source.add(EntityOrder, "o1", base.Add(1*time.Minute))
	source.add(EntityOrder, "o2", base.Add(2*time.Minute))
	source.add(EntityOrder, "o3", base.Add(-1*time.Hour)) // outside the window

	report, err := rec.ResyncAfterBulkUpdate(context.Background(), EntityOrder, ResyncFilter{UpdatedSince: base}, 0)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if report.Matched != 2 || report.Applied != 2 || report.Failed != 0 || report.Truncated {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestResync_WarnsAndTruncatesOverLimit(t *testing.T) {
	source := newMemorySource()
	reg := NewRegistry()
	w := &fakeWriter{}
	_ = reg.Register(EntityWallet, w)
	rec := NewReconciler(source, reg, NewMemorySyncStateStore(), nil, 100)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		source.add(EntityWallet, string(rune('a'+i)), base.Add(time.Duration(i+1)*time.Second))
	}

	report, err := rec.ResyncAfterBulkUpdate(context.Background(), EntityWallet, ResyncFilter{UpdatedSince: base}, 5)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if !report.Truncated || report.Applied != 5 {
		t.Fatalf("expected truncation at 5, got %+v", report)
	}
}

func TestResync_UnknownEntity(t *testing.T) {
	rec := NewReconciler(newMemorySource(), NewRegistry(), NewMemorySyncStateStore(), nil, 100)
	_, err := rec.ResyncAfterBulkUpdate(context.Background(), "campaign", ResyncFilter{}, 0)
	if !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
}

func TestBackfill_AdvancesCursorOnSuccess(t *testing.T) {
	source := newMemorySource()
	reg := NewRegistry()
	w := &fakeWriter{}
	_ = reg.Register(EntityTransaction, w)
	state := NewMemorySyncStateStore()
	rec := NewReconciler(source, reg, state, nil, 2)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		source.add(EntityTransaction, string(rune('a'+i)), base.Add(time.Duration(i+1)*time.Minute))
	}

	rec.RunBackfill(ctx)

	if got := w.appliedIDs(); len(got) != 5 {
		t.Fatalf("expected all 5 rows applied, got %v", got)
	}
	cursorAt, cursorID, _ := state.Cursor(ctx, EntityTransaction)
	if !cursorAt.Equal(base.Add(5*time.Minute)) || cursorID != "e" {
		t.Fatalf("cursor not advanced to newest row: %v %q", cursorAt, cursorID)
	}

	// A second run over an unchanged window applies nothing new.
	rec.RunBackfill(ctx)
	if got := w.appliedIDs(); len(got) != 5 {
		t.Fatalf("expected no reprocessing, got %v", got)
	}
}

func TestBackfill_PagesThroughRowsSharingOneTimestamp(t *testing.T) {
	source := newMemorySource()
	reg := NewRegistry()
	w := &fakeWriter{}
	_ = reg.Register(EntityWallet, w)
	state := NewMemorySyncStateStore()
	rec := NewReconciler(source, reg, state, nil, 2)
	ctx := context.Background()

	// A bulk update stamps every touched row with the same updated_at, so a
	// batch boundary lands inside the run. The id tiebreak must carry the
	// scan past it.
	at := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Add(time.Minute)
	for _, id := range []string{"a", "b", "c"} {
		source.add(EntityWallet, id, at)
	}

	rec.RunBackfill(ctx)

	got := w.appliedIDs()
	if len(got) != 3 {
		t.Fatalf("expected all 3 rows applied, got %v", got)
	}
	cursorAt, cursorID, _ := state.Cursor(ctx, EntityWallet)
	if !cursorAt.Equal(at) || cursorID != "c" {
		t.Fatalf("cursor stopped at %v %q", cursorAt, cursorID)
	}
}

func TestBackfill_HoldsCursorOnFailure(t *testing.T) {
	source := newMemorySource()
	reg := NewRegistry()
	w := &fakeWriter{failing: true}
	_ = reg.Register(EntityWallet, w)
	state := NewMemorySyncStateStore()
	rec := NewReconciler(source, reg, state, nil, 10)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	source.add(EntityWallet, "w1", base.Add(time.Minute))

	rec.RunBackfill(ctx)
	cursorAt, _, _ := state.Cursor(ctx, EntityWallet)
	if !cursorAt.IsZero() {
		t.Fatalf("cursor advanced past a failed batch: %v", cursorAt)
	}

	// The writer heals and the same window replays.
	w.setFailing(false)
	rec.RunBackfill(ctx)
	if got := w.appliedIDs(); len(got) != 1 || got[0] != "w1" {
		t.Fatalf("expected w1 replayed after recovery, got %v", got)
	}
}
