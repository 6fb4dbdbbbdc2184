package wallet

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"cashback-platform/pkg/utils"
)

// NOTE: This store assumes the following tables exist in the primary store:
// - wallets
//     UNIQUE (owner_id) WHERE deleted_at IS NULL
// - transactions
//     UNIQUE (idempotency_key)
//     INDEX (wallet_id, created_at)

// SQLStore is the Postgres-backed Store.
type SQLStore struct {
	db      *sql.DB
	onWrite utils.WriteHook
}

// NewSQLStore wires the primary store. onWrite may be nil (replication disabled).
func NewSQLStore(db *sql.DB, onWrite utils.WriteHook) *SQLStore {
	return &SQLStore{db: db, onWrite: onWrite}
}

func (s *SQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &sqlTx{tx: tx, onWrite: s.onWrite})
	})
}

func (s *SQLStore) WalletByOwner(ctx context.Context, ownerID string) (Wallet, bool, error) {
	return scanWallet(s.db.QueryRowContext(ctx, walletByOwnerQuery, ownerID))
}

func (s *SQLStore) TransactionByID(ctx context.Context, id string) (Transaction, bool, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, transactionSelect+` WHERE id = $1`, id))
}

func (s *SQLStore) TransactionByKey(ctx context.Context, key string) (Transaction, bool, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, transactionSelect+` WHERE idempotency_key = $1`, key))
}

func (s *SQLStore) ListTransactions(ctx context.Context, walletID string, f Filter) ([]Transaction, error) {
	q, args := buildListQuery(walletID, f)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, ok, err := scanTransactionRows(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

type sqlTx struct {
	tx      *sql.Tx
	onWrite utils.WriteHook
}

const walletByOwnerQuery = `
SELECT id, owner_id, currency, available_paise, pending_paise, locked_paise, version, created_at, updated_at
FROM wallets
WHERE owner_id = $1 AND deleted_at IS NULL
`

func (t *sqlTx) WalletByOwner(ctx context.Context, ownerID string) (Wallet, bool, error) {
	return scanWallet(t.tx.QueryRowContext(ctx, walletByOwnerQuery, ownerID))
}

func (t *sqlTx) WalletByID(ctx context.Context, id string) (Wallet, bool, error) {
	const q = `
SELECT id, owner_id, currency, available_paise, pending_paise, locked_paise, version, created_at, updated_at
FROM wallets
WHERE id = $1 AND deleted_at IS NULL
`
	return scanWallet(t.tx.QueryRowContext(ctx, q, id))
}

func (t *sqlTx) InsertWallet(ctx context.Context, w Wallet) error {
	// DO NOTHING keeps the transaction healthy when a concurrent first
	// write created the wallet; zero rows is the retryable conflict signal.
	const q = `
INSERT INTO wallets (id, owner_id, currency, available_paise, pending_paise, locked_paise, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (owner_id) WHERE deleted_at IS NULL DO NOTHING
`
	res, err := t.tx.ExecContext(ctx, q,
		w.ID, w.OwnerID, w.Currency,
		w.AvailablePaise, w.PendingPaise, w.LockedPaise,
		w.Version, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errVersionConflict
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errVersionConflict
	}
	return t.enqueue(ctx, "wallet", w.ID, "create")
}

func (t *sqlTx) UpdateWalletBalances(ctx context.Context, w Wallet, expectedVersion int64) error {
	// Version CAS: the WHERE clause is the optimistic concurrency check.
	const q = `
UPDATE wallets
SET available_paise = $1, pending_paise = $2, locked_paise = $3,
    version = version + 1, updated_at = $4
WHERE id = $5 AND version = $6 AND deleted_at IS NULL
`
	res, err := t.tx.ExecContext(ctx, q,
		w.AvailablePaise, w.PendingPaise, w.LockedPaise,
		w.UpdatedAt, w.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errVersionConflict
	}
	return t.enqueue(ctx, "wallet", w.ID, "update")
}

func (t *sqlTx) InsertTransaction(ctx context.Context, txn Transaction) error {
	const q = `
INSERT INTO transactions (
  id, idempotency_key, type, status, amount_paise, wallet_id,
  from_account_id, to_account_id, order_id, campaign_id, payout_id,
  reversal_of, params_hash, metadata, failure_reason, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (idempotency_key) DO NOTHING
`
	// A replayed key must not raise a statement error: Postgres would abort
	// the whole transaction and the recorded-outcome read below it would
	// fail with 25P02. DO NOTHING plus zero rows is the duplicate signal.
	res, err := t.tx.ExecContext(ctx, q,
		txn.ID, txn.IdempotencyKey, txn.Type, txn.Status, txn.AmountPaise, txn.WalletID,
		txn.FromAccountID, txn.ToAccountID, txn.OrderID, txn.CampaignID, txn.PayoutID,
		nullIfEmpty(txn.ReversalOf), txn.ParamsHash, emptyJSON(txn.Metadata), txn.FailureReason, txn.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errDuplicateKey
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errDuplicateKey
	}
	return t.enqueue(ctx, "transaction", txn.ID, "create")
}

func (t *sqlTx) TransactionByKey(ctx context.Context, key string) (Transaction, bool, error) {
	return scanTransaction(t.tx.QueryRowContext(ctx, transactionSelect+` WHERE idempotency_key = $1`, key))
}

func (t *sqlTx) FinalizeTransaction(ctx context.Context, id string, status TxStatus, failureReason string, completedAt time.Time) error {
	const q = `UPDATE transactions SET status = $1, failure_reason = $2, completed_at = $3 WHERE id = $4`
	if _, err := t.tx.ExecContext(ctx, q, status, failureReason, completedAt, id); err != nil {
		return err
	}
	return t.enqueue(ctx, "transaction", id, "update")
}

func (t *sqlTx) MarkReversed(ctx context.Context, id string) error {
	const q = `UPDATE transactions SET status = $1 WHERE id = $2`
	if _, err := t.tx.ExecContext(ctx, q, TxStatusReversed, id); err != nil {
		return err
	}
	return t.enqueue(ctx, "transaction", id, "update")
}

func (t *sqlTx) enqueue(ctx context.Context, entityType, entityID, op string) error {
	if t.onWrite == nil {
		return nil
	}
	return t.onWrite(ctx, t.tx, entityType, entityID, op)
}

const transactionSelect = `
SELECT id, idempotency_key, type, status, amount_paise, wallet_id,
       from_account_id, to_account_id, order_id, campaign_id, payout_id,
       COALESCE(reversal_of, ''), params_hash, metadata::text, failure_reason, created_at, completed_at
FROM transactions
`

func buildListQuery(walletID string, f Filter) (string, []any) {
	var b strings.Builder
	b.WriteString(transactionSelect)
	b.WriteString(` WHERE wallet_id = $1`)
	args := []any{walletID}

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if len(f.Types) > 0 {
		vals := make([]string, 0, len(f.Types))
		for _, t := range f.Types {
			vals = append(vals, arg(string(t)))
		}
		b.WriteString(` AND type IN (` + strings.Join(vals, ",") + `)`)
	}
	if len(f.Statuses) > 0 {
		vals := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			vals = append(vals, arg(string(s)))
		}
		b.WriteString(` AND status IN (` + strings.Join(vals, ",") + `)`)
	}
	if f.OrderID != "" {
		b.WriteString(` AND order_id = ` + arg(f.OrderID))
	}
	if !f.From.IsZero() {
		b.WriteString(` AND created_at >= ` + arg(f.From))
	}
	if !f.To.IsZero() {
		b.WriteString(` AND created_at <= ` + arg(f.To))
	}
	b.WriteString(` ORDER BY created_at ASC`)
	if f.Limit > 0 {
		b.WriteString(` LIMIT ` + arg(f.Limit))
	}
	return b.String(), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(r rowScanner) (Wallet, bool, error) {
	var w Wallet
	err := r.Scan(
		&w.ID, &w.OwnerID, &w.Currency,
		&w.AvailablePaise, &w.PendingPaise, &w.LockedPaise,
		&w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, false, nil
		}
		return Wallet{}, false, err
	}
	return w, true, nil
}

func scanTransaction(r rowScanner) (Transaction, bool, error) {
	var t Transaction
	var completedAt sql.NullTime
	err := r.Scan(
		&t.ID, &t.IdempotencyKey, &t.Type, &t.Status, &t.AmountPaise, &t.WalletID,
		&t.FromAccountID, &t.ToAccountID, &t.OrderID, &t.CampaignID, &t.PayoutID,
		&t.ReversalOf, &t.ParamsHash, &t.Metadata, &t.FailureReason, &t.CreatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, true, nil
}

func scanTransactionRows(rows *sql.Rows) (Transaction, bool, error) {
	var t Transaction
	var completedAt sql.NullTime
	err := rows.Scan(
		&t.ID, &t.IdempotencyKey, &t.Type, &t.Status, &t.AmountPaise, &t.WalletID,
		&t.FromAccountID, &t.ToAccountID, &t.OrderID, &t.CampaignID, &t.PayoutID,
		&t.ReversalOf, &t.ParamsHash, &t.Metadata, &t.FailureReason, &t.CreatedAt, &completedAt,
	)
	if err != nil {
		return Transaction{}, false, err
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, true, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func emptyJSON(s string) string {
	if strings.TrimSpace(s) == "" {
		return "{}"
	}
	return s
}
