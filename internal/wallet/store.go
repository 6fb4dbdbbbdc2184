package wallet

import (
	"context"
	"time"
)

// Store is the persistence contract for wallets and the transaction journal.
//
// WithinTx must provide atomic visibility: either every mutation made through
// the StoreTx commits, or none does. The journal-insert-then-mutate pairing in
// the service relies on this to make half-applied operations impossible.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error

	WalletByOwner(ctx context.Context, ownerID string) (Wallet, bool, error)
	TransactionByID(ctx context.Context, id string) (Transaction, bool, error)
	TransactionByKey(ctx context.Context, key string) (Transaction, bool, error)
	ListTransactions(ctx context.Context, walletID string, f Filter) ([]Transaction, error)
}

// StoreTx is the transactional slice of Store.
//
// InsertTransaction returns errDuplicateKey when the idempotency key exists.
// UpdateWalletBalances returns errVersionConflict when expectedVersion does
// not match the stored row; implementations must bump Version on success.
type StoreTx interface {
	WalletByOwner(ctx context.Context, ownerID string) (Wallet, bool, error)
	WalletByID(ctx context.Context, id string) (Wallet, bool, error)
	InsertWallet(ctx context.Context, w Wallet) error
	UpdateWalletBalances(ctx context.Context, w Wallet, expectedVersion int64) error

	InsertTransaction(ctx context.Context, t Transaction) error
	TransactionByKey(ctx context.Context, key string) (Transaction, bool, error)
	FinalizeTransaction(ctx context.Context, id string, status TxStatus, failureReason string, completedAt time.Time) error
	MarkReversed(ctx context.Context, id string) error
}
