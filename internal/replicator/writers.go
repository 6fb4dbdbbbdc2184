package replicator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Writers re-read the primary row at apply time rather than trusting task
// payloads, so replays always converge on the current primary state. A row
// that is gone or soft-deleted in the primary removes the shadow row.

var sourceIDConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "source_id"}},
	UpdateAll: true,
}

// WalletWriter shadows the wallets collection.
type WalletWriter struct {
	primary *sql.DB
	shadow  *gorm.DB
	clock   func() time.Time
}

func NewWalletWriter(primary *sql.DB, shadow *gorm.DB) *WalletWriter {
	return &WalletWriter{primary: primary, shadow: shadow, clock: time.Now}
}

func (w *WalletWriter) Apply(ctx context.Context, entityID string) error {
	var (
		row       WalletShadow
		deletedAt sql.NullTime
	)
	err := w.primary.QueryRowContext(ctx, `
SELECT id, owner_id, currency, available_paise, pending_paise, locked_paise,
       version, updated_at, deleted_at
FROM wallets WHERE id = $1`, entityID).Scan(
		&row.SourceID, &row.OwnerID, &row.Currency,
		&row.AvailablePaise, &row.PendingPaise, &row.LockedPaise,
		&row.Version, &row.SourceUpdatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deletedAt.Valid) {
		return w.Remove(ctx, entityID)
	}
	if err != nil {
		return fmt.Errorf("read wallet %s: %w", entityID, err)
	}

	row.AvailableRupees = rupees(row.AvailablePaise)
	row.PendingRupees = rupees(row.PendingPaise)
	row.LockedRupees = rupees(row.LockedPaise)
	row.SyncedAt = w.clock().UTC()

	if err := w.shadow.WithContext(ctx).Clauses(sourceIDConflict).Create(&row).Error; err != nil {
		return fmt.Errorf("%w: wallet %s: %v", ErrReplicationFailure, entityID, err)
	}
	return nil
}

func (w *WalletWriter) Remove(ctx context.Context, entityID string) error {
	if err := w.shadow.WithContext(ctx).Where("source_id = ?", entityID).Delete(&WalletShadow{}).Error; err != nil {
		return fmt.Errorf("%w: delete wallet %s: %v", ErrReplicationFailure, entityID, err)
	}
	return nil
}

// TransactionWriter shadows the journal.
type TransactionWriter struct {
	primary *sql.DB
	shadow  *gorm.DB
	clock   func() time.Time
}

func NewTransactionWriter(primary *sql.DB, shadow *gorm.DB) *TransactionWriter {
	return &TransactionWriter{primary: primary, shadow: shadow, clock: time.Now}
}

func (w *TransactionWriter) Apply(ctx context.Context, entityID string) error {
	var (
		row      TransactionShadow
		metadata []byte
	)
	err := w.primary.QueryRowContext(ctx, `
SELECT id, idempotency_key, type, status, amount_paise, wallet_id,
       COALESCE(order_id, ''), COALESCE(campaign_id, ''), COALESCE(failure_reason, ''),
       metadata, created_at
FROM transactions WHERE id = $1`, entityID).Scan(
		&row.SourceID, &row.IdempotencyKey, &row.Type, &row.Status,
		&row.AmountPaise, &row.WalletSourceID,
		&row.OrderID, &row.CampaignID, &row.FailureReason,
		&metadata, &row.SourceCreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return w.Remove(ctx, entityID)
	}
	if err != nil {
		return fmt.Errorf("read transaction %s: %w", entityID, err)
	}

	row.AmountRupees = rupees(row.AmountPaise)
	row.Metadata = metadata
	row.SyncedAt = w.clock().UTC()

	if err := w.shadow.WithContext(ctx).Clauses(sourceIDConflict).Create(&row).Error; err != nil {
		return fmt.Errorf("%w: transaction %s: %v", ErrReplicationFailure, entityID, err)
	}
	return nil
}

func (w *TransactionWriter) Remove(ctx context.Context, entityID string) error {
	if err := w.shadow.WithContext(ctx).Where("source_id = ?", entityID).Delete(&TransactionShadow{}).Error; err != nil {
		return fmt.Errorf("%w: delete transaction %s: %v", ErrReplicationFailure, entityID, err)
	}
	return nil
}

// OrderWriter shadows orders.
type OrderWriter struct {
	primary *sql.DB
	shadow  *gorm.DB
	clock   func() time.Time
}

func NewOrderWriter(primary *sql.DB, shadow *gorm.DB) *OrderWriter {
	return &OrderWriter{primary: primary, shadow: shadow, clock: time.Now}
}

func (w *OrderWriter) Apply(ctx context.Context, entityID string) error {
	var (
		row       OrderShadow
		items     []byte
		events    []byte
		deletedAt sql.NullTime
	)
	err := w.primary.QueryRowContext(ctx, `
SELECT id, shopper_id, mediator_id, campaign_id, status,
       commission_paise, cashback_paise, items, events, updated_at, deleted_at
FROM orders WHERE id = $1`, entityID).Scan(
		&row.SourceID, &row.ShopperID, &row.MediatorID, &row.CampaignID, &row.Status,
		&row.CommissionPaise, &row.CashbackPaise, &items, &events,
		&row.SourceUpdatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deletedAt.Valid) {
		return w.Remove(ctx, entityID)
	}
	if err != nil {
		return fmt.Errorf("read order %s: %w", entityID, err)
	}

	row.CommissionRupees = rupees(row.CommissionPaise)
	row.CashbackRupees = rupees(row.CashbackPaise)
	row.Items = items
	row.Events = events
	row.SyncedAt = w.clock().UTC()

	if err := w.shadow.WithContext(ctx).Clauses(sourceIDConflict).Create(&row).Error; err != nil {
		return fmt.Errorf("%w: order %s: %v", ErrReplicationFailure, entityID, err)
	}
	return nil
}

func (w *OrderWriter) Remove(ctx context.Context, entityID string) error {
	if err := w.shadow.WithContext(ctx).Where("source_id = ?", entityID).Delete(&OrderShadow{}).Error; err != nil {
		return fmt.Errorf("%w: delete order %s: %v", ErrReplicationFailure, entityID, err)
	}
	return nil
}
