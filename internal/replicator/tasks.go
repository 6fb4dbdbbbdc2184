package replicator

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Task is one outbox row: a replication obligation recorded in the same
// primary transaction as the write it shadows.
type Task struct {
	ID         int64
	EntityType string
	EntityID   string
	Op         string // create, update or delete
	Status     string // pending, done or failed
	Attempts   int
	LastError  string
	CreatedAt  time.Time
}

const (
	TaskPending = "pending"
	TaskDone    = "done"
	TaskFailed  = "failed"
)

// TaskStore persists the outbox.
type TaskStore interface {
	// Pending returns up to limit undelivered tasks, oldest first.
	Pending(ctx context.Context, limit int) ([]Task, error)
	MarkDone(ctx context.Context, id int64) error
	// Fail records a delivery failure. final parks the task as failed;
	// otherwise it stays pending for the next drain.
	Fail(ctx context.Context, id int64, lastError string, final bool) error
}

// NOTE: assumes a replication_tasks table with BIGSERIAL id and an index on
// (status, id).

// SQLTaskStore is the Postgres-backed outbox.
type SQLTaskStore struct {
	db *sql.DB
}

func NewSQLTaskStore(db *sql.DB) *SQLTaskStore {
	return &SQLTaskStore{db: db}
}

// Enqueue inserts a task inside the caller's primary transaction. It has the
// utils.WriteHook signature and is wired as the post-write hook of the
// primary stores.
func (s *SQLTaskStore) Enqueue(ctx context.Context, tx *sql.Tx, entityType, entityID, op string) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO replication_tasks (entity_type, entity_id, op, status, attempts, created_at, updated_at)
VALUES ($1, $2, $3, 'pending', 0, now(), now())`,
		entityType, entityID, op,
	)
	if err != nil {
		return fmt.Errorf("enqueue replication task: %w", err)
	}
	return nil
}

func (s *SQLTaskStore) Pending(ctx context.Context, limit int) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, entity_type, entity_id, op, status, attempts, COALESCE(last_error, ''), created_at
FROM replication_tasks
WHERE status = 'pending'
ORDER BY id
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.EntityType, &t.EntityID, &t.Op, &t.Status, &t.Attempts, &t.LastError, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLTaskStore) MarkDone(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE replication_tasks SET status = 'done', updated_at = now() WHERE id = $1`, id)
	return err
}

func (s *SQLTaskStore) Fail(ctx context.Context, id int64, lastError string, final bool) error {
	status := TaskPending
	if final {
		status = TaskFailed
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE replication_tasks
SET status = $1, attempts = attempts + 1, last_error = $2, updated_at = now()
WHERE id = $3`, status, lastError, id)
	return err
}

// MemoryTaskStore is an in-memory outbox useful for tests.
type MemoryTaskStore struct {
	mu     sync.Mutex
	nextID int64
	tasks  []Task
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{}
}

// Add enqueues a task directly, bypassing the primary-transaction hook.
func (s *MemoryTaskStore) Add(entityType, entityID, op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.tasks = append(s.tasks, Task{
		ID:         s.nextID,
		EntityType: entityType,
		EntityID:   entityID,
		Op:         op,
		Status:     TaskPending,
		CreatedAt:  time.Now().UTC(),
	})
}

func (s *MemoryTaskStore) Pending(ctx context.Context, limit int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks {
		if t.Status != TaskPending {
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryTaskStore) MarkDone(ctx context.Context, id int64) error {
	return s.update(id, func(t *Task) {
		t.Status = TaskDone
	})
}

func (s *MemoryTaskStore) Fail(ctx context.Context, id int64, lastError string, final bool) error {
	return s.update(id, func(t *Task) {
		t.Attempts++
		t.LastError = lastError
		if final {
			t.Status = TaskFailed
		}
	})
}

// Snapshot returns a copy of all tasks for assertions.
func (s *MemoryTaskStore) Snapshot() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Task(nil), s.tasks...)
}

func (s *MemoryTaskStore) update(id int64, fn func(*Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			fn(&s.tasks[i])
			return nil
		}
	}
	return fmt.Errorf("replicator: task %d not found", id)
}
