package order

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store useful for tests.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]Order)}
}

func (s *MemoryStore) Insert(ctx context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o.clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.DeletedAt != nil {
		return Order{}, false, nil
	}
	return o.clone(), true, nil
}

func (s *MemoryStore) Update(ctx context.Context, o Order, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok || cur.DeletedAt != nil {
		return ErrOrderNotFound
	}
	if cur.Version != expectedVersion {
		return errVersionConflict
	}
	o = o.clone()
	o.Version = expectedVersion + 1
	s.orders[o.ID] = o
	return nil
}

func (s *MemoryStore) Archive(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.DeletedAt != nil {
		return ErrOrderNotFound
	}
	o.DeletedAt = &at
	o.UpdatedAt = at
	s.orders[id] = o
	return nil
}
