package replicator

import (
	"context"
	"fmt"
	"sort"
)

// replicated entity types.
const (
	EntityWallet      = "wallet"
	EntityTransaction = "transaction"
	EntityOrder       = "order"
)

// Writer applies one primary entity to the shadow store. Apply re-reads the
// primary row and upserts it; Remove hard-deletes the shadow row by source id.
// Both must be idempotent: the dispatcher and the backfill job may replay.
type Writer interface {
	Apply(ctx context.Context, entityID string) error
	Remove(ctx context.Context, entityID string) error
}

// Registry maps entity types to writers. It is built once at process start
// and read-only afterwards, so lookups need no locking.
type Registry struct {
	writers map[string]Writer
}

func NewRegistry() *Registry {
	return &Registry{writers: make(map[string]Writer)}
}

// Register binds a writer to an entity type. Double registration is a wiring
// bug and fails loudly.
func (r *Registry) Register(entityType string, w Writer) error {
	if entityType == "" || w == nil {
		return fmt.Errorf("replicator: invalid registration for %q", entityType)
	}
	if _, ok := r.writers[entityType]; ok {
		return fmt.Errorf("replicator: %q already registered", entityType)
	}
	r.writers[entityType] = w
	return nil
}

func (r *Registry) writer(entityType string) (Writer, bool) {
	w, ok := r.writers[entityType]
	return w, ok
}

// EntityTypes returns the registered types in stable order.
func (r *Registry) EntityTypes() []string {
	out := make([]string, 0, len(r.writers))
	for t := range r.writers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
