package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestService() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	svc := NewService(store)
	svc.sleep = func(time.Duration) {}
	return svc, store
}

func TestCredit_CreatesWalletLazily(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	txn, err := svc.Credit(ctx, "u1", 50000, "k1", TxTypeCredit, Meta{})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if txn.Status != TxStatusCompleted {
		t.Fatalf("expected completed, got %s", txn.Status)
	}

	b, err := svc.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b.AvailablePaise != 50000 || b.PendingPaise != 0 {
		t.Fatalf("unexpected balance: %+v", b)
	}
}

func TestCredit_LockTypeLandsInPending(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Credit(ctx, "m1", 1200, "hold1", TxTypeLock, Meta{OrderID: "o1"}); err != nil {
		t.Fatalf("lock: %v", err)
	}

	b, _ := svc.GetBalance(ctx, "m1")
	if b.PendingPaise != 1200 || b.AvailablePaise != 0 {
		t.Fatalf("expected pending hold, got %+v", b)
	}
}

func TestCredit_InvalidAmount(t *testing.T) {
	svc, _ := newTestService()
	for _, amount := range []int64{0, -5} {
		if _, err := svc.Credit(context.Background(), "u1", amount, "k", TxTypeCredit, Meta{}); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %d, got %v", amount, err)
		}
	}
}

func TestCredit_ReplayReturnsRecordedOutcome(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Credit(ctx, "u1", 50000, "k1", TxTypeCredit, Meta{})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := svc.Credit(ctx, "u1", 50000, "k1", TxTypeCredit, Meta{})
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		if again.ID != first.ID {
			t.Fatalf("replay produced a new journal row")
		}
	}

	b, _ := svc.GetBalance(ctx, "u1")
	if b.AvailablePaise != 50000 {
		t.Fatalf("replay mutated balance: %d", b.AvailablePaise)
	}
}

func TestCredit_SameKeyDifferentParams(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Credit(ctx, "u1", 100, "k1", TxTypeCredit, Meta{}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := svc.Credit(ctx, "u1", 999, "k1", TxTypeCredit, Meta{}); !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}
}

func TestDebit_WalletNotFound(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Debit(context.Background(), "ghost", 100, "k", Meta{}); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestDebit_InsufficientFundsLeavesWalletUnchanged(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Credit(ctx, "u1", 300, "seed", TxTypeCredit, Meta{}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	txn, err := svc.Debit(ctx, "u1", 500, "d1", Meta{})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if txn.Status != TxStatusFailed {
		t.Fatalf("expected failed journal row, got %s", txn.Status)
	}

	b, _ := svc.GetBalance(ctx, "u1")
	if b.AvailablePaise != 300 {
		t.Fatalf("failed debit changed the balance: %d", b.AvailablePaise)
	}

	// The replay answers with the recorded failure, not a fresh attempt.
	if _, err := svc.Debit(ctx, "u1", 500, "d1", Meta{}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected recorded failure on replay, got %v", err)
	}
}

func TestSettlePending_MovesHeldFunds(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Credit(ctx, "m1", 2000, "hold", TxTypeLock, Meta{}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := svc.SettlePending(ctx, "m1", 2000, "settle", Meta{}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	b, _ := svc.GetBalance(ctx, "m1")
	if b.PendingPaise != 0 || b.AvailablePaise != 2000 {
		t.Fatalf("unexpected balance after settle: %+v", b)
	}
}

func TestSettlePending_InsufficientHeld(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Credit(ctx, "m1", 100, "hold", TxTypeLock, Meta{}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := svc.SettlePending(ctx, "m1", 500, "settle", Meta{}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestReverse_CompensatesLock(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	hold, err := svc.Credit(ctx, "m1", 1500, "hold", TxTypeLock, Meta{})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	rev, err := svc.Reverse(ctx, hold.ID, "rev", Meta{})
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if rev.Type != TxTypeReversal || rev.ReversalOf != hold.ID || rev.AmountPaise != 1500 {
		t.Fatalf("unexpected reversal: %+v", rev)
	}

	b, _ := svc.GetBalance(ctx, "m1")
	if b.PendingPaise != 0 || b.AvailablePaise != 0 {
		t.Fatalf("expected net zero after reversal, got %+v", b)
	}
}

func TestReverse_OriginalRowKeepsItsEffect(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	hold, _ := svc.Credit(ctx, "m1", 1500, "hold", TxTypeLock, Meta{})
	if _, err := svc.Reverse(ctx, hold.ID, "rev", Meta{}); err != nil {
		t.Fatalf("reverse: %v", err)
	}

	orig, ok, _ := store.TransactionByID(ctx, hold.ID)
	if !ok {
		t.Fatalf("original row missing")
	}
	if orig.Status != TxStatusReversed {
		t.Fatalf("expected reversed status, got %s", orig.Status)
	}
	if orig.AmountPaise != 1500 || orig.Type != TxTypeLock {
		t.Fatalf("original row was edited: %+v", orig)
	}
}

func TestReverse_TwiceFails(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	hold, _ := svc.Credit(ctx, "m1", 1500, "hold", TxTypeLock, Meta{})
	if _, err := svc.Reverse(ctx, hold.ID, "rev1", Meta{}); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if _, err := svc.Reverse(ctx, hold.ID, "rev2", Meta{}); !errors.Is(err, ErrNotReversible) {
		t.Fatalf("expected ErrNotReversible, got %v", err)
	}
}

func TestReverse_LockAfterFullSettlementHasNothingToReverse(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	hold, _ := svc.Credit(ctx, "m1", 1000, "hold", TxTypeLock, Meta{})
	if _, err := svc.SettlePending(ctx, "m1", 1000, "settle", Meta{}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := svc.Reverse(ctx, hold.ID, "rev", Meta{}); !errors.Is(err, ErrNothingToReverse) {
		t.Fatalf("expected ErrNothingToReverse, got %v", err)
	}
}

func TestReverse_LockClampsToRemainingHeld(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	hold, _ := svc.Credit(ctx, "m1", 1000, "hold", TxTypeLock, Meta{})
	if _, err := svc.SettlePending(ctx, "m1", 400, "partial", Meta{}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	rev, err := svc.Reverse(ctx, hold.ID, "rev", Meta{})
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if rev.AmountPaise != 600 {
		t.Fatalf("expected clamped reversal of 600, got %d", rev.AmountPaise)
	}

	b, _ := svc.GetBalance(ctx, "m1")
	if b.PendingPaise != 0 || b.AvailablePaise != 400 {
		t.Fatalf("unexpected balance: %+v", b)
	}
}

func TestConcurrentDuplicateCredits_ApplyOnce(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Credit(ctx, "u1", 50000, "k1", TxTypeCredit, Meta{})
		}()
	}
	wg.Wait()

	b, err := svc.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b.AvailablePaise != 50000 {
		t.Fatalf("expected 50000 applied once, got %d", b.AvailablePaise)
	}

	w, _, _ := store.WalletByOwner(ctx, "u1")
	rows, _ := store.ListTransactions(ctx, w.ID, Filter{})
	if len(rows) != 1 {
		t.Fatalf("expected exactly one journal row for k1, got %d", len(rows))
	}
}

func TestConcurrentDebits_NeverOverdraw(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Credit(ctx, "u1", 1000, "seed", TxTypeCredit, Meta{}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	keys := []string{"d1", "d2"}
	var wg sync.WaitGroup
	errs := make([]error, len(keys))
	for i := range keys {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Debit(ctx, "u1", 700, keys[i], Meta{})
		}()
	}
	wg.Wait()

	var okCount, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if okCount != 1 || insufficient != 1 {
		t.Fatalf("expected exactly one success, got ok=%d insufficient=%d", okCount, insufficient)
	}

	b, _ := svc.GetBalance(ctx, "u1")
	if b.AvailablePaise != 300 {
		t.Fatalf("expected 300 remaining, got %d", b.AvailablePaise)
	}
}

func TestBalanceMatchesJournalEffects(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	ops := []func() error{
		func() error { _, err := svc.Credit(ctx, "u1", 5000, "c1", TxTypeCredit, Meta{}); return err },
		func() error { _, err := svc.Credit(ctx, "u1", 2000, "l1", TxTypeLock, Meta{}); return err },
		func() error { _, err := svc.Debit(ctx, "u1", 1500, "d1", Meta{}); return err },
		func() error { _, err := svc.SettlePending(ctx, "u1", 500, "s1", Meta{}); return err },
		func() error { _, err := svc.Debit(ctx, "u1", 99999, "d2", Meta{}); return err }, // fails
	}
	for _, op := range ops {
		_ = op()
	}

	b, _ := svc.GetBalance(ctx, "u1")

	w, _, _ := store.WalletByOwner(ctx, "u1")
	rows, _ := store.ListTransactions(ctx, w.ID, Filter{})

	var available, pending int64
	for _, r := range rows {
		if r.Status != TxStatusCompleted && r.Status != TxStatusReversed {
			continue
		}
		switch r.Type {
		case TxTypeCredit:
			available += r.AmountPaise
		case TxTypeDebit:
			available -= r.AmountPaise
		case TxTypeLock:
			pending += r.AmountPaise
		case TxTypeSettlement:
			pending -= r.AmountPaise
			available += r.AmountPaise
		}
	}
	if b.AvailablePaise != available || b.PendingPaise != pending {
		t.Fatalf("balance diverged from journal: balance=%+v journal available=%d pending=%d", b, available, pending)
	}
}

func TestListTransactions_Filters(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, _ = svc.Credit(ctx, "u1", 100, "c1", TxTypeCredit, Meta{OrderID: "o1"})
	_, _ = svc.Credit(ctx, "u1", 200, "c2", TxTypeLock, Meta{OrderID: "o2"})
	_, _ = svc.Debit(ctx, "u1", 50, "d1", Meta{})

	rows, err := svc.ListTransactions(ctx, "u1", Filter{Types: []TxType{TxTypeLock}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].IdempotencyKey != "c2" {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	rows, _ = svc.ListTransactions(ctx, "u1", Filter{OrderID: "o1"})
	if len(rows) != 1 || rows[0].OrderID != "o1" {
		t.Fatalf("order filter failed: %+v", rows)
	}
}

// conflictStore wraps MemoryStore and forces every balance CAS to fail,
// simulating a permanently contended wallet.
type conflictStore struct {
	*MemoryStore
}

type conflictTx struct {
	StoreTx
}

func (s conflictStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error {
	return s.MemoryStore.WithinTx(ctx, func(ctx context.Context, tx StoreTx) error {
		return fn(ctx, conflictTx{tx})
	})
}

func (conflictTx) UpdateWalletBalances(context.Context, Wallet, int64) error {
	return errVersionConflict
}

func TestVersionRetryExhaustion(t *testing.T) {
	base := NewMemoryStore()
	seed := NewService(base)
	seed.sleep = func(time.Duration) {}
	if _, err := seed.Credit(context.Background(), "u1", 1000, "seed", TxTypeCredit, Meta{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := NewService(conflictStore{base})
	var slept int
	svc.sleep = func(time.Duration) { slept++ }

	_, err := svc.Debit(context.Background(), "u1", 100, "d1", Meta{})
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if slept != casMaxAttempts {
		t.Fatalf("expected %d backoffs, got %d", casMaxAttempts, slept)
	}
}
