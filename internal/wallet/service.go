package wallet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service provides wallet operations.
//
// Money invariants:
// - No balance change without a journal Transaction, finalized in the same
//   atomic unit (journal-first, §journal below).
// - Replaying an operation with the same idempotency key returns the recorded
//   outcome and never mutates balances again.
// - Sub-balances never go negative; version CAS serializes same-owner writers.
//
// Journal-first protocol: inside one store transaction the service inserts the
// journal row as pending, applies the balance delta under a version CAS, and
// finalizes the row to completed. A duplicate-key insert means a prior or
// concurrent call holds the key; the recorded outcome is returned instead.
// Business failures (insufficient funds) are committed as failed rows with no
// balance change, so replays of a failed call answer identically.
type Service struct {
	store    Store
	currency string

	// clock and sleep are injectable for deterministic tests.
	clock func() time.Time
	sleep func(time.Duration)
}

const (
	casMaxAttempts = 3
	casBackoffBase = 20 * time.Millisecond
)

func NewService(store Store) *Service {
	return &Service{
		store:    store,
		currency: "INR",
		clock:    time.Now,
		sleep:    time.Sleep,
	}
}

// failure reasons recorded on failed journal rows.
const (
	reasonInsufficientFunds = "insufficient_funds"
)

func errForReason(reason string) error {
	switch reason {
	case reasonInsufficientFunds:
		return ErrInsufficientFunds
	default:
		return fmt.Errorf("wallet: operation previously failed: %s", reason)
	}
}

// Meta carries optional linkage for a journal row.
type Meta struct {
	OrderID    string
	CampaignID string
	PayoutID   string
	FromID     string
	ToID       string
	JSON       string
}

// Credit increases the owner's available balance, or the pending balance for
// lock-type credits. The wallet is created lazily on first credit.
func (s *Service) Credit(ctx context.Context, ownerID string, amountPaise int64, key string, typ TxType, meta Meta) (Transaction, error) {
	if typ == "" {
		typ = TxTypeCredit
	}
	if typ != TxTypeCredit && typ != TxTypeLock {
		return Transaction{}, ErrInvalidArgument
	}
	return s.apply(ctx, mutation{
		ownerID:      ownerID,
		key:          key,
		typ:          typ,
		amount:       amountPaise,
		meta:         meta,
		createWallet: true,
		effect: func(w *Wallet, amount int64) error {
			if typ == TxTypeLock {
				w.PendingPaise += amount
			} else {
				w.AvailablePaise += amount
			}
			return nil
		},
	})
}

// Debit decreases the owner's available balance.
func (s *Service) Debit(ctx context.Context, ownerID string, amountPaise int64, key string, meta Meta) (Transaction, error) {
	return s.apply(ctx, mutation{
		ownerID: ownerID,
		key:     key,
		typ:     TxTypeDebit,
		amount:  amountPaise,
		meta:    meta,
		effect: func(w *Wallet, amount int64) error {
			if w.AvailablePaise < amount {
				return ErrInsufficientFunds
			}
			w.AvailablePaise -= amount
			return nil
		},
	})
}

// SettlePending releases held funds: one atomic step debiting pending and
// crediting available.
func (s *Service) SettlePending(ctx context.Context, ownerID string, amountPaise int64, key string, meta Meta) (Transaction, error) {
	return s.apply(ctx, mutation{
		ownerID: ownerID,
		key:     key,
		typ:     TxTypeSettlement,
		amount:  amountPaise,
		meta:    meta,
		effect: func(w *Wallet, amount int64) error {
			if w.PendingPaise < amount {
				return ErrInsufficientFunds
			}
			w.PendingPaise -= amount
			w.AvailablePaise += amount
			return nil
		},
	})
}

// Reverse appends a compensating transaction with the inverse effect of the
// original. The original row is never edited beyond its status flip to
// reversed; its amounts and linkage stay as written.
//
// Reversing a lock whose funds were partially released reverses only what is
// still held; when nothing is held, ErrNothingToReverse is returned and no row
// is written.
func (s *Service) Reverse(ctx context.Context, transactionID, key string, meta Meta) (Transaction, error) {
	if transactionID == "" || key == "" {
		return Transaction{}, ErrInvalidArgument
	}

	orig, ok, err := s.store.TransactionByID(ctx, transactionID)
	if err != nil {
		return Transaction{}, err
	}
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	if orig.Type == TxTypeReversal {
		return Transaction{}, ErrNotReversible
	}

	return s.apply(ctx, mutation{
		ownerID:    "", // resolved from the original's wallet
		key:        key,
		typ:        TxTypeReversal,
		amount:     orig.AmountPaise,
		meta:       meta,
		reversalOf: &orig,
	})
}

// GetBalance returns the three-state balance for an owner.
func (s *Service) GetBalance(ctx context.Context, ownerID string) (Balance, error) {
	if ownerID == "" {
		return Balance{}, ErrInvalidArgument
	}
	w, ok, err := s.store.WalletByOwner(ctx, ownerID)
	if err != nil {
		return Balance{}, err
	}
	if !ok {
		return Balance{}, ErrWalletNotFound
	}
	return Balance{
		OwnerID:        w.OwnerID,
		Currency:       w.Currency,
		AvailablePaise: w.AvailablePaise,
		PendingPaise:   w.PendingPaise,
		LockedPaise:    w.LockedPaise,
		Version:        w.Version,
		UpdatedAt:      w.UpdatedAt,
	}, nil
}

// ListTransactions returns the owner's journal rows matching the filter,
// oldest first.
func (s *Service) ListTransactions(ctx context.Context, ownerID string, f Filter) ([]Transaction, error) {
	if ownerID == "" {
		return nil, ErrInvalidArgument
	}
	w, ok, err := s.store.WalletByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrWalletNotFound
	}
	return s.store.ListTransactions(ctx, w.ID, f)
}

type mutation struct {
	ownerID      string
	key          string
	typ          TxType
	amount       int64
	meta         Meta
	createWallet bool

	// effect mutates balances or returns a business failure; the failure is
	// committed as a failed journal row with balances untouched.
	effect func(w *Wallet, amount int64) error

	// reversalOf switches apply into compensating mode for this original row.
	reversalOf *Transaction
}

func (s *Service) apply(ctx context.Context, m mutation) (Transaction, error) {
	if m.key == "" {
		return Transaction{}, ErrInvalidArgument
	}
	if m.ownerID == "" && m.reversalOf == nil {
		return Transaction{}, ErrInvalidArgument
	}
	if m.amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}

	hash := paramsHash(m)

	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		out, bizErr, err := s.attempt(ctx, m, hash)
		if err != nil {
			if errors.Is(err, errVersionConflict) {
				s.sleep(casBackoffBase << attempt)
				continue
			}
			return Transaction{}, err
		}
		return out, bizErr
	}
	return Transaction{}, ErrConcurrentModification
}

// attempt runs one atomic unit. bizErr is a committed business outcome
// (failed row persisted); err aborts and may trigger a retry.
func (s *Service) attempt(ctx context.Context, m mutation, hash string) (out Transaction, bizErr error, err error) {
	now := s.clock().UTC()

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx StoreTx) error {
		var (
			w        Wallet
			original Transaction
		)

		if m.reversalOf != nil {
			// Re-read the original inside the unit so concurrent double
			// reversals serialize on its status.
			cur, found, lookErr := tx.TransactionByKey(ctx, m.reversalOf.IdempotencyKey)
			if lookErr != nil {
				return lookErr
			}
			if !found {
				return ErrTransactionNotFound
			}
			if cur.Status != TxStatusCompleted {
				return ErrNotReversible
			}
			original = cur

			got, ok, lookErr := tx.WalletByID(ctx, original.WalletID)
			if lookErr != nil {
				return lookErr
			}
			if !ok {
				return ErrWalletNotFound
			}
			w = got
		} else {
			got, ok, lookErr := tx.WalletByOwner(ctx, m.ownerID)
			if lookErr != nil {
				return lookErr
			}
			if !ok {
				if !m.createWallet {
					return ErrWalletNotFound
				}
				got = Wallet{
					ID:        uuid.NewString(),
					OwnerID:   m.ownerID,
					Currency:  s.currency,
					Version:   1,
					CreatedAt: now,
					UpdatedAt: now,
				}
				if err := tx.InsertWallet(ctx, got); err != nil {
					return err
				}
			}
			w = got
		}

		amount := m.amount
		if m.reversalOf != nil {
			// Clamp lock reversals to what is still held.
			if original.Type == TxTypeLock && amount > w.PendingPaise {
				amount = w.PendingPaise
			}
			if amount <= 0 {
				return ErrNothingToReverse
			}
		}

		txn := Transaction{
			ID:             uuid.NewString(),
			IdempotencyKey: m.key,
			Type:           m.typ,
			Status:         TxStatusPending,
			AmountPaise:    amount,
			WalletID:       w.ID,
			FromAccountID:  m.meta.FromID,
			ToAccountID:    m.meta.ToID,
			OrderID:        m.meta.OrderID,
			CampaignID:     m.meta.CampaignID,
			PayoutID:       m.meta.PayoutID,
			ParamsHash:     hash,
			Metadata:       m.meta.JSON,
			CreatedAt:      now,
		}
		if m.reversalOf != nil {
			txn.ReversalOf = original.ID
			txn.OrderID = original.OrderID
			txn.CampaignID = original.CampaignID
		}

		if insErr := tx.InsertTransaction(ctx, txn); insErr != nil {
			if !errors.Is(insErr, errDuplicateKey) {
				return insErr
			}
			existing, found, err := tx.TransactionByKey(ctx, m.key)
			if err != nil {
				return err
			}
			if !found {
				// The conflicting insert belonged to a unit that aborted.
				return errVersionConflict
			}
			if existing.ParamsHash != hash {
				return ErrIdempotencyConflict
			}
			switch existing.Status {
			case TxStatusCompleted, TxStatusReversed:
				out = existing
				return nil
			case TxStatusFailed:
				out = existing
				bizErr = errForReason(existing.FailureReason)
				return nil
			default:
				// A pending row under a live concurrent unit; the caller
				// retries once that unit resolves.
				return ErrIdempotencyConflict
			}
		}

		expected := w.Version

		var effectErr error
		if m.reversalOf != nil {
			effectErr = applyInverse(&w, original.Type, amount)
		} else {
			effectErr = m.effect(&w, amount)
		}
		if effectErr != nil {
			if !errors.Is(effectErr, ErrInsufficientFunds) {
				return effectErr
			}
			if err := tx.FinalizeTransaction(ctx, txn.ID, TxStatusFailed, reasonInsufficientFunds, now); err != nil {
				return err
			}
			txn.Status = TxStatusFailed
			txn.FailureReason = reasonInsufficientFunds
			txn.CompletedAt = &now
			out = txn
			bizErr = effectErr
			return nil
		}

		w.UpdatedAt = now
		if err := tx.UpdateWalletBalances(ctx, w, expected); err != nil {
			return err
		}
		if err := tx.FinalizeTransaction(ctx, txn.ID, TxStatusCompleted, "", now); err != nil {
			return err
		}
		if m.reversalOf != nil {
			if err := tx.MarkReversed(ctx, original.ID); err != nil {
				return err
			}
		}

		txn.Status = TxStatusCompleted
		txn.CompletedAt = &now
		out = txn
		return nil
	})
	if err != nil {
		return Transaction{}, nil, err
	}
	return out, bizErr, nil
}

// applyInverse undoes a completed transaction's effect on the wallet.
func applyInverse(w *Wallet, origType TxType, amount int64) error {
	switch origType {
	case TxTypeCredit:
		if w.AvailablePaise < amount {
			return ErrInsufficientFunds
		}
		w.AvailablePaise -= amount
	case TxTypeDebit:
		w.AvailablePaise += amount
	case TxTypeLock:
		// Already clamped to pending by the caller.
		w.PendingPaise -= amount
	case TxTypeSettlement:
		if w.AvailablePaise < amount {
			return ErrInsufficientFunds
		}
		w.AvailablePaise -= amount
		w.PendingPaise += amount
	default:
		return ErrNotReversible
	}
	return nil
}

func paramsHash(m mutation) string {
	var payload string
	if m.reversalOf != nil {
		payload = fmt.Sprintf("reverse|%s|%s", m.reversalOf.ID, m.key)
	} else {
		payload = fmt.Sprintf("%s|%s|%d|%s", m.typ, m.ownerID, m.amount, m.key)
	}
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
