package replicator

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// SourceRow identifies one primary row and its last modification time.
type SourceRow struct {
	ID        string
	UpdatedAt time.Time
}

// Source enumerates primary rows for resync and backfill scans.
type Source interface {
	// RowsUpdatedSince returns up to limit rows of entityType whose
	// (modified_at, id) keyset orders strictly after (since, afterID),
	// oldest first. The id tiebreak lets a caller page through rows that
	// share one timestamp, which is the normal shape after a bulk update.
	RowsUpdatedSince(ctx context.Context, entityType string, since time.Time, afterID string, limit int) ([]SourceRow, error)
}

// SQLSource reads the primary store.
type SQLSource struct {
	db *sql.DB
}

func NewSQLSource(db *sql.DB) *SQLSource {
	return &SQLSource{db: db}
}

var sourceQueries = map[string]string{
	EntityWallet: `
SELECT id, updated_at FROM wallets
WHERE (updated_at, id) > ($1, $2) ORDER BY updated_at, id LIMIT $3`,
	EntityTransaction: `
SELECT id, GREATEST(created_at, COALESCE(completed_at, created_at)) AS modified_at FROM transactions
WHERE (GREATEST(created_at, COALESCE(completed_at, created_at)), id) > ($1, $2)
ORDER BY modified_at, id LIMIT $3`,
	EntityOrder: `
SELECT id, updated_at FROM orders
WHERE (updated_at, id) > ($1, $2) ORDER BY updated_at, id LIMIT $3`,
}

func (s *SQLSource) RowsUpdatedSince(ctx context.Context, entityType string, since time.Time, afterID string, limit int) ([]SourceRow, error) {
	query, ok := sourceQueries[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
	}
	rows, err := s.db.QueryContext(ctx, query, since, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourceRow
	for rows.Next() {
		var r SourceRow
		if err := rows.Scan(&r.ID, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResyncFilter selects the primary rows a bulk mutation touched.
type ResyncFilter struct {
	UpdatedSince time.Time
}

// ResyncReport summarizes one resync run.
type ResyncReport struct {
	Matched   int  `json:"matched"`
	Applied   int  `json:"applied"`
	Failed    int  `json:"failed"`
	Truncated bool `json:"truncated"`
}

const defaultResyncLimit = 5000

// Reconciler re-applies writers outside the outbox path: explicitly after
// bulk primary mutations that bypass per-row hooks, and periodically as the
// backfill backstop.
type Reconciler struct {
	source   Source
	registry *Registry
	state    SyncStateStore
	log      *slog.Logger

	batch int
	clock func() time.Time
}

func NewReconciler(source Source, registry *Registry, state SyncStateStore, log *slog.Logger, batch int) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	if batch <= 0 {
		batch = 500
	}
	return &Reconciler{
		source:   source,
		registry: registry,
		state:    state,
		log:      log,
		batch:    batch,
		clock:    time.Now,
	}
}

// ResyncAfterBulkUpdate re-reads primary rows matching the filter and
// re-applies the writer to each. Bulk mutations bypass the per-row outbox
// hook; callers invoke this afterwards to converge the shadow store. At most
// limit rows are processed; a larger match is truncated with a warning and
// the remainder is left to the backfill job.
func (r *Reconciler) ResyncAfterBulkUpdate(ctx context.Context, entityType string, f ResyncFilter, limit int) (ResyncReport, error) {
	if limit <= 0 {
		limit = defaultResyncLimit
	}
	w, ok := r.registry.writer(entityType)
	if !ok {
		return ResyncReport{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
	}

	// One extra row detects truncation.
	rows, err := r.source.RowsUpdatedSince(ctx, entityType, f.UpdatedSince, "", limit+1)
	if err != nil {
		return ResyncReport{}, err
	}

	report := ResyncReport{Matched: len(rows)}
	if len(rows) > limit {
		report.Truncated = true
		rows = rows[:limit]
		r.log.WarnContext(ctx, "resync matched more rows than limit",
			"entity_type", entityType, "limit", limit)
	}

	for _, row := range rows {
		if err := w.Apply(ctx, row.ID); err != nil {
			report.Failed++
			r.log.ErrorContext(ctx, "resync write failed",
				"entity_type", entityType, "entity_id", row.ID, "error", err)
			continue
		}
		report.Applied++
	}

	r.log.InfoContext(ctx, "resync finished",
		"entity_type", entityType, "matched", report.Matched,
		"applied", report.Applied, "failed", report.Failed, "truncated", report.Truncated)
	return report, nil
}
