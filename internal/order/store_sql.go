package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cashback-platform/pkg/utils"
)

// NOTE: This store assumes an orders table with jsonb items/events columns and
// a partial unique index on id WHERE deleted_at IS NULL.

// SQLStore is the Postgres-backed Store.
type SQLStore struct {
	db      *sql.DB
	onWrite utils.WriteHook
}

// NewSQLStore wires the primary store. onWrite may be nil (replication disabled).
func NewSQLStore(db *sql.DB, onWrite utils.WriteHook) *SQLStore {
	return &SQLStore{db: db, onWrite: onWrite}
}

const orderSelect = `
SELECT id, shopper_id, mediator_id, campaign_id, status,
       items, commission_paise, cashback_paise,
       commission_tx_id, cashback_tx_id, events,
       version, created_at, updated_at, deleted_at
FROM orders`

func (s *SQLStore) Insert(ctx context.Context, o Order) error {
	items, events, err := encodeJSONColumns(o)
	if err != nil {
		return err
	}
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO orders (
    id, shopper_id, mediator_id, campaign_id, status,
    items, commission_paise, cashback_paise,
    commission_tx_id, cashback_tx_id, events,
    version, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			o.ID, o.ShopperID, o.MediatorID, o.CampaignID, string(o.Status),
			items, o.CommissionPaise, o.CashbackPaise,
			o.CommissionTxID, o.CashbackTxID, events,
			o.Version, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return s.fire(ctx, tx, o.ID, "create")
	})
}

func (s *SQLStore) Get(ctx context.Context, id string) (Order, bool, error) {
	row := s.db.QueryRowContext(ctx, orderSelect+` WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanOrder(row)
}

func (s *SQLStore) Update(ctx context.Context, o Order, expectedVersion int64) error {
	items, events, err := encodeJSONColumns(o)
	if err != nil {
		return err
	}
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE orders
SET status = $1, items = $2, commission_tx_id = $3, cashback_tx_id = $4,
    events = $5, version = version + 1, updated_at = $6
WHERE id = $7 AND version = $8 AND deleted_at IS NULL`,
			string(o.Status), items, o.CommissionTxID, o.CashbackTxID,
			events, o.UpdatedAt,
			o.ID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Either the row is gone or the version moved under us.
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1 AND deleted_at IS NULL)`, o.ID,
			).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrOrderNotFound
			}
			return errVersionConflict
		}
		return s.fire(ctx, tx, o.ID, "update")
	})
}

func (s *SQLStore) Archive(ctx context.Context, id string, at time.Time) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE orders SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
			at, id,
		)
		if err != nil {
			return fmt.Errorf("archive order: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrOrderNotFound
		}
		return s.fire(ctx, tx, id, "delete")
	})
}

func (s *SQLStore) fire(ctx context.Context, tx *sql.Tx, id, op string) error {
	if s.onWrite == nil {
		return nil
	}
	return s.onWrite(ctx, tx, "order", id, op)
}

func encodeJSONColumns(o Order) (items, events []byte, err error) {
	items, err = json.Marshal(o.Items)
	if err != nil {
		return nil, nil, fmt.Errorf("encode items: %w", err)
	}
	events, err = json.Marshal(o.Events)
	if err != nil {
		return nil, nil, fmt.Errorf("encode events: %w", err)
	}
	return items, events, nil
}

func scanOrder(row *sql.Row) (Order, bool, error) {
	var (
		o      Order
		status string
		items  []byte
		events []byte
	)
	err := row.Scan(
		&o.ID, &o.ShopperID, &o.MediatorID, &o.CampaignID, &status,
		&items, &o.CommissionPaise, &o.CashbackPaise,
		&o.CommissionTxID, &o.CashbackTxID, &events,
		&o.Version, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, err
	}
	o.Status = Status(status)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return Order{}, false, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(events, &o.Events); err != nil {
		return Order{}, false, fmt.Errorf("decode events: %w", err)
	}
	return o, true, nil
}
