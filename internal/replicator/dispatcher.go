package replicator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Dispatcher drains the outbox and applies registered writers. Delivery
// failures are logged and counted, never propagated: the primary write has
// already committed and the backfill job is the consistency backstop.
type Dispatcher struct {
	tasks    TaskStore
	registry *Registry
	log      *slog.Logger

	interval    time.Duration
	batch       int
	maxAttempts int

	delivered atomic.Int64
	failures  atomic.Int64
}

func NewDispatcher(tasks TaskStore, registry *Registry, log *slog.Logger, interval time.Duration, batch int) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batch <= 0 {
		batch = 500
	}
	return &Dispatcher{
		tasks:       tasks,
		registry:    registry,
		log:         log,
		interval:    interval,
		batch:       batch,
		maxAttempts: 5,
	}
}

// Run drains the outbox on a fixed tick until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.log.InfoContext(ctx, "replication dispatcher started", "interval", d.interval, "batch", d.batch)
	for {
		select {
		case <-ctx.Done():
			d.log.Info("replication dispatcher stopped",
				"delivered", d.delivered.Load(), "failures", d.failures.Load())
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain performs one delivery pass and returns the number of tasks handled.
func (d *Dispatcher) Drain(ctx context.Context) int {
	pending, err := d.tasks.Pending(ctx, d.batch)
	if err != nil {
		d.log.ErrorContext(ctx, "outbox read failed", "error", err)
		return 0
	}

	for _, t := range pending {
		d.deliver(ctx, t)
	}
	return len(pending)
}

func (d *Dispatcher) deliver(ctx context.Context, t Task) {
	w, ok := d.registry.writer(t.EntityType)
	if !ok {
		d.failures.Add(1)
		d.log.ErrorContext(ctx, "no writer for entity", "entity_type", t.EntityType, "task_id", t.ID)
		if err := d.tasks.Fail(ctx, t.ID, ErrUnknownEntity.Error(), true); err != nil {
			d.log.ErrorContext(ctx, "outbox update failed", "task_id", t.ID, "error", err)
		}
		return
	}

	var err error
	if t.Op == "delete" {
		err = w.Remove(ctx, t.EntityID)
	} else {
		err = w.Apply(ctx, t.EntityID)
	}
	if err != nil {
		d.failures.Add(1)
		final := t.Attempts+1 >= d.maxAttempts
		d.log.ErrorContext(ctx, "shadow write failed",
			"entity_type", t.EntityType, "entity_id", t.EntityID, "op", t.Op,
			"attempts", t.Attempts+1, "final", final, "error", err)
		if err := d.tasks.Fail(ctx, t.ID, err.Error(), final); err != nil {
			d.log.ErrorContext(ctx, "outbox update failed", "task_id", t.ID, "error", err)
		}
		return
	}

	d.delivered.Add(1)
	if err := d.tasks.MarkDone(ctx, t.ID); err != nil {
		d.log.ErrorContext(ctx, "outbox update failed", "task_id", t.ID, "error", err)
	}
}

// Stats reports delivery counters for diagnostics endpoints.
func (d *Dispatcher) Stats() (delivered, failures int64) {
	return d.delivered.Load(), d.failures.Load()
}
