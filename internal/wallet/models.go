package wallet

import "time"

// Wallet is the authoritative balance record for one owner.
//
// Money invariants:
// - Sub-balances (available, pending, locked) are paise and never negative.
// - Version increments on every balance mutation; writers present the expected
//   version (optimistic concurrency, no in-process locks).
// - Exactly one non-deleted wallet per owner; created lazily on first credit.
// - No balance changes without a corresponding journal Transaction.
type Wallet struct {
	ID      string `json:"id" db:"id"`
	OwnerID string `json:"owner_id" db:"owner_id"`

	Currency string `json:"currency" db:"currency"`

	AvailablePaise int64 `json:"available_paise" db:"available_paise"`
	PendingPaise   int64 `json:"pending_paise" db:"pending_paise"`
	LockedPaise    int64 `json:"locked_paise" db:"locked_paise"`

	Version int64 `json:"version" db:"version"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Balance is the read-model view of a wallet.
type Balance struct {
	OwnerID        string    `json:"owner_id"`
	Currency       string    `json:"currency"`
	AvailablePaise int64     `json:"available_paise"`
	PendingPaise   int64     `json:"pending_paise"`
	LockedPaise    int64     `json:"locked_paise"`
	Version        int64     `json:"version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Transaction is the journal row for one wallet-affecting event.
// The journal is append-only and is the idempotency source of truth: a row is
// inserted as pending before the wallet mutates, and finalized in the same
// atomic unit.
type Transaction struct {
	ID string `json:"id" db:"id"`

	// IdempotencyKey is caller-supplied or derived; unique across the journal.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	Type   TxType   `json:"type" db:"type"`
	Status TxStatus `json:"status" db:"status"`

	// AmountPaise is always positive; the type determines the direction.
	AmountPaise int64 `json:"amount_paise" db:"amount_paise"`

	WalletID      string `json:"wallet_id" db:"wallet_id"`
	FromAccountID string `json:"from_account_id,omitempty" db:"from_account_id"`
	ToAccountID   string `json:"to_account_id,omitempty" db:"to_account_id"`

	// Optional linkage to marketplace entities.
	OrderID    string `json:"order_id,omitempty" db:"order_id"`
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	PayoutID   string `json:"payout_id,omitempty" db:"payout_id"`

	// ReversalOf links a compensating transaction to its original.
	ReversalOf string `json:"reversal_of,omitempty" db:"reversal_of"`

	// ParamsHash fingerprints the operation parameters so a replayed key with
	// different parameters is rejected instead of silently deduplicated.
	ParamsHash string `json:"-" db:"params_hash"`

	// Metadata is free-form JSON for audit/debug (stored as JSONB).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	// FailureReason is set only on failed rows so a replayed call can be
	// answered with the recorded outcome.
	FailureReason string `json:"failure_reason,omitempty" db:"failure_reason"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

type TxType string

const (
	TxTypeCredit     TxType = "credit"     // increases available
	TxTypeDebit      TxType = "debit"      // decreases available
	TxTypeLock       TxType = "lock"       // credit held in pending (commission/cashback hold)
	TxTypeSettlement TxType = "settlement" // moves pending into available
	TxTypeReversal   TxType = "reversal"   // compensates a prior completed transaction
)

type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusCompleted TxStatus = "completed"
	TxStatusFailed    TxStatus = "failed"
	TxStatusReversed  TxStatus = "reversed"
)

// Filter narrows ListTransactions. Zero values mean "any".
type Filter struct {
	Types    []TxType
	Statuses []TxStatus
	OrderID  string
	From     time.Time
	To       time.Time
	Limit    int
}

func (f Filter) matches(t Transaction) bool {
	if len(f.Types) > 0 && !containsType(f.Types, t.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, t.Status) {
		return false
	}
	if f.OrderID != "" && t.OrderID != f.OrderID {
		return false
	}
	if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.CreatedAt.After(f.To) {
		return false
	}
	return true
}

func containsType(ts []TxType, t TxType) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func containsStatus(ss []TxStatus, s TxStatus) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
