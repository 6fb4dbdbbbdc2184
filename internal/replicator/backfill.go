package replicator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cashback-platform/pkg/utils"
)

// SyncStateStore tracks the backfill cursor per entity type. The cursor is
// a (modified_at, id) keyset, not a bare timestamp: a batch boundary can
// fall inside a run of rows sharing one updated_at, and the id tiebreak is
// what lets the next batch resume past them instead of skipping the rest.
type SyncStateStore interface {
	Cursor(ctx context.Context, entityType string) (time.Time, string, error)
	SetCursor(ctx context.Context, entityType string, at time.Time, id string) error
}

// GormSyncStateStore keeps the cursor in the shadow store's sync_state table.
type GormSyncStateStore struct {
	db *gorm.DB
}

func NewGormSyncStateStore(db *gorm.DB) *GormSyncStateStore {
	return &GormSyncStateStore{db: db}
}

func (s *GormSyncStateStore) Cursor(ctx context.Context, entityType string) (time.Time, string, error) {
	var row SyncState
	err := s.db.WithContext(ctx).First(&row, "entity_type = ?", entityType).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, "", nil
	}
	if err != nil {
		return time.Time{}, "", err
	}
	return row.LastSyncedAt, row.LastSyncedID, nil
}

func (s *GormSyncStateStore) SetCursor(ctx context.Context, entityType string, at time.Time, id string) error {
	return s.db.WithContext(ctx).Save(&SyncState{
		EntityType:   entityType,
		LastSyncedAt: at,
		LastSyncedID: id,
		UpdatedAt:    time.Now().UTC(),
	}).Error
}

// MemorySyncStateStore is an in-memory cursor store useful for tests.
type MemorySyncStateStore struct {
	mu      sync.Mutex
	cursors map[string]memoryCursor
}

type memoryCursor struct {
	at time.Time
	id string
}

func NewMemorySyncStateStore() *MemorySyncStateStore {
	return &MemorySyncStateStore{cursors: make(map[string]memoryCursor)}
}

func (s *MemorySyncStateStore) Cursor(ctx context.Context, entityType string) (time.Time, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cursors[entityType]
	return c.at, c.id, nil
}

func (s *MemorySyncStateStore) SetCursor(ctx context.Context, entityType string, at time.Time, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[entityType] = memoryCursor{at: at, id: id}
	return nil
}

// RunBackfill scans every registered entity type for primary rows modified
// after the stored cursor and re-applies the writers. The cursor advances
// only when a whole batch lands, so a failed batch is retried on the next
// run (fire-and-forget hooks give no delivery guarantee; this job is the
// guarantee).
func (r *Reconciler) RunBackfill(ctx context.Context) {
	for _, entityType := range r.registry.EntityTypes() {
		if err := r.backfillEntity(ctx, entityType); err != nil {
			r.log.ErrorContext(ctx, "backfill pass failed", "entity_type", entityType, "error", err)
		}
	}
}

func (r *Reconciler) backfillEntity(ctx context.Context, entityType string) error {
	w, ok := r.registry.writer(entityType)
	if !ok {
		return ErrUnknownEntity
	}
	cursorAt, cursorID, err := r.state.Cursor(ctx, entityType)
	if err != nil {
		return err
	}

	for {
		rows, err := r.source.RowsUpdatedSince(ctx, entityType, cursorAt, cursorID, r.batch)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		for _, row := range rows {
			if err := w.Apply(ctx, row.ID); err != nil {
				// Do not advance the cursor; the same window is retried
				// on the next run.
				r.log.ErrorContext(ctx, "backfill write failed",
					"entity_type", entityType, "entity_id", row.ID, "error", err)
				return nil
			}
		}

		last := rows[len(rows)-1]
		cursorAt, cursorID = last.UpdatedAt, last.ID
		if err := r.state.SetCursor(ctx, entityType, cursorAt, cursorID); err != nil {
			return err
		}
		r.log.InfoContext(ctx, "backfill batch applied",
			"entity_type", entityType, "rows", len(rows), "cursor", cursorAt, "cursor_id", cursorID)

		if len(rows) < r.batch {
			return nil
		}
	}
}

const backfillLeaseKey = "replicator:backfill:lease"

// ScheduleBackfill registers the periodic backfill job on the scheduler. A
// redis lease keeps the job single-flight across processes; holder should be
// a per-process id.
func ScheduleBackfill(sched gocron.Scheduler, r *Reconciler, rdb *redis.Client, holder string, interval time.Duration, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	_, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx := context.Background()
			ok, err := utils.AcquireLease(ctx, rdb, backfillLeaseKey, holder, interval)
			if err != nil {
				log.Error("backfill lease check failed", "error", err)
				return
			}
			if !ok {
				return
			}
			defer func() {
				if err := utils.ReleaseLease(ctx, rdb, backfillLeaseKey, holder); err != nil {
					log.Error("backfill lease release failed", "error", err)
				}
			}()
			r.RunBackfill(ctx)
		}),
	)
	return err
}
