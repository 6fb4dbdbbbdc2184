package wallet

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store useful for tests.
// Transactions are serialized under one mutex; mutations are staged and only
// merged into the base maps on commit, so a failed unit leaves no trace.
// It is not intended for production use.
type MemoryStore struct {
	mu           sync.Mutex
	wallets      map[string]Wallet      // by owner id
	transactions map[string]Transaction // by transaction id
	byKey        map[string]string      // idempotency key -> transaction id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:      make(map[string]Wallet),
		transactions: make(map[string]Transaction),
		byKey:        make(map[string]string),
	}
}

type memoryTx struct {
	base         *MemoryStore
	wallets      map[string]Wallet
	transactions map[string]Transaction
	byKey        map[string]string
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		base:         s,
		wallets:      make(map[string]Wallet),
		transactions: make(map[string]Transaction),
		byKey:        make(map[string]string),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	for k, v := range tx.wallets {
		s.wallets[k] = v
	}
	for k, v := range tx.transactions {
		s.transactions[k] = v
	}
	for k, v := range tx.byKey {
		s.byKey[k] = v
	}
	return nil
}

func (s *MemoryStore) WalletByOwner(ctx context.Context, ownerID string) (Wallet, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[ownerID]
	if !ok || w.DeletedAt != nil {
		return Wallet{}, false, nil
	}
	return w, true, nil
}

func (s *MemoryStore) TransactionByID(ctx context.Context, id string) (Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	return t, ok, nil
}

func (s *MemoryStore) TransactionByKey(ctx context.Context, key string) (Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return Transaction{}, false, nil
	}
	t, ok := s.transactions[id]
	return t, ok, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, walletID string, f Filter) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Transaction
	for _, t := range s.transactions {
		if t.WalletID != walletID {
			continue
		}
		if !f.matches(t) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (tx *memoryTx) WalletByOwner(ctx context.Context, ownerID string) (Wallet, bool, error) {
	if w, ok := tx.wallets[ownerID]; ok {
		return w, w.DeletedAt == nil, nil
	}
	w, ok := tx.base.wallets[ownerID]
	if !ok || w.DeletedAt != nil {
		return Wallet{}, false, nil
	}
	return w, true, nil
}

func (tx *memoryTx) WalletByID(ctx context.Context, id string) (Wallet, bool, error) {
	for _, w := range tx.wallets {
		if w.ID == id {
			return w, w.DeletedAt == nil, nil
		}
	}
	for _, w := range tx.base.wallets {
		if w.ID == id {
			if _, staged := tx.wallets[w.OwnerID]; staged {
				continue
			}
			return w, w.DeletedAt == nil, nil
		}
	}
	return Wallet{}, false, nil
}

func (tx *memoryTx) InsertWallet(ctx context.Context, w Wallet) error {
	tx.wallets[w.OwnerID] = w
	return nil
}

func (tx *memoryTx) UpdateWalletBalances(ctx context.Context, w Wallet, expectedVersion int64) error {
	cur, ok, err := tx.WalletByOwner(ctx, w.OwnerID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWalletNotFound
	}
	if cur.Version != expectedVersion {
		return errVersionConflict
	}
	w.Version = expectedVersion + 1
	tx.wallets[w.OwnerID] = w
	return nil
}

func (tx *memoryTx) InsertTransaction(ctx context.Context, t Transaction) error {
	if _, ok := tx.byKey[t.IdempotencyKey]; ok {
		return errDuplicateKey
	}
	if _, ok := tx.base.byKey[t.IdempotencyKey]; ok {
		return errDuplicateKey
	}
	tx.transactions[t.ID] = t
	tx.byKey[t.IdempotencyKey] = t.ID
	return nil
}

func (tx *memoryTx) TransactionByKey(ctx context.Context, key string) (Transaction, bool, error) {
	if id, ok := tx.byKey[key]; ok {
		return tx.transactions[id], true, nil
	}
	if id, ok := tx.base.byKey[key]; ok {
		t, ok := tx.base.transactions[id]
		return t, ok, nil
	}
	return Transaction{}, false, nil
}

func (tx *memoryTx) FinalizeTransaction(ctx context.Context, id string, status TxStatus, failureReason string, completedAt time.Time) error {
	t, ok := tx.transactions[id]
	if !ok {
		t, ok = tx.base.transactions[id]
	}
	if !ok {
		return ErrTransactionNotFound
	}
	t.Status = status
	t.FailureReason = failureReason
	t.CompletedAt = &completedAt
	tx.transactions[id] = t
	return nil
}

func (tx *memoryTx) MarkReversed(ctx context.Context, id string) error {
	t, ok := tx.transactions[id]
	if !ok {
		t, ok = tx.base.transactions[id]
	}
	if !ok {
		return ErrTransactionNotFound
	}
	t.Status = TxStatusReversed
	tx.transactions[id] = t
	return nil
}
