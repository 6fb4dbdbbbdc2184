package order

import (
	"context"
	"time"
)

// Store persists orders. Update applies CAS on version and returns a
// conflict when expectedVersion does not match the stored row.
type Store interface {
	Insert(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, bool, error)
	Update(ctx context.Context, o Order, expectedVersion int64) error
	Archive(ctx context.Context, id string, at time.Time) error
}
