package wallet

import "errors"

// Money operations must fail loudly and precisely. These sentinels are the
// complete failure taxonomy surfaced to callers; replication problems never
// appear here.
var (
	ErrInvalidArgument        = errors.New("wallet: invalid argument")
	ErrInvalidAmount          = errors.New("wallet: invalid amount")
	ErrInsufficientFunds      = errors.New("wallet: insufficient funds")
	ErrWalletNotFound         = errors.New("wallet: wallet not found")
	ErrTransactionNotFound    = errors.New("wallet: transaction not found")
	ErrIdempotencyConflict    = errors.New("wallet: idempotency key reused with different parameters")
	ErrConcurrentModification = errors.New("wallet: concurrent modification, retries exhausted")
	ErrNotReversible          = errors.New("wallet: transaction is not reversible")
	ErrNothingToReverse       = errors.New("wallet: no held funds remain to reverse")
)

// Store-internal sentinels. The service translates these; callers never see them.
var (
	errVersionConflict = errors.New("wallet: version conflict")
	errDuplicateKey    = errors.New("wallet: duplicate idempotency key")
)
