package replicator

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Shadow rows mirror primary entities for relational reporting queries. They
// are keyed by source_id, the primary-store id, and are never authoritative.
// Paise columns are exact; rupee columns are denormalized NUMERIC values for
// report SQL that wants currency units directly.

type WalletShadow struct {
	ID       uint   `gorm:"primaryKey"`
	SourceID string `gorm:"size:64;uniqueIndex"`
	OwnerID  string `gorm:"size:64;index"`
	Currency string `gorm:"size:8"`

	AvailablePaise int64
	PendingPaise   int64
	LockedPaise    int64

	AvailableRupees decimal.Decimal `gorm:"type:numeric(16,2)"`
	PendingRupees   decimal.Decimal `gorm:"type:numeric(16,2)"`
	LockedRupees    decimal.Decimal `gorm:"type:numeric(16,2)"`

	Version         int64
	SourceUpdatedAt time.Time
	SyncedAt        time.Time
}

func (WalletShadow) TableName() string { return "wallet_shadow" }

type TransactionShadow struct {
	ID             uint   `gorm:"primaryKey"`
	SourceID       string `gorm:"size:64;uniqueIndex"`
	IdempotencyKey string `gorm:"size:191;index"`
	Type           string `gorm:"size:32"`
	Status         string `gorm:"size:32"`

	AmountPaise  int64
	AmountRupees decimal.Decimal `gorm:"type:numeric(16,2)"`

	WalletSourceID string `gorm:"size:64;index"`
	OrderID        string `gorm:"size:64;index"`
	CampaignID     string `gorm:"size:64"`
	FailureReason  string

	Metadata datatypes.JSON

	SourceCreatedAt time.Time
	SyncedAt        time.Time
}

func (TransactionShadow) TableName() string { return "transaction_shadow" }

type OrderShadow struct {
	ID         uint   `gorm:"primaryKey"`
	SourceID   string `gorm:"size:64;uniqueIndex"`
	ShopperID  string `gorm:"size:64;index"`
	MediatorID string `gorm:"size:64;index"`
	CampaignID string `gorm:"size:64;index"`
	Status     string `gorm:"size:32"`

	CommissionPaise  int64
	CashbackPaise    int64
	CommissionRupees decimal.Decimal `gorm:"type:numeric(16,2)"`
	CashbackRupees   decimal.Decimal `gorm:"type:numeric(16,2)"`

	Items  datatypes.JSON
	Events datatypes.JSON

	SourceUpdatedAt time.Time
	SyncedAt        time.Time
}

func (OrderShadow) TableName() string { return "order_shadow" }

// SyncState is the backfill bookkeeping row: the (modified_at, id) keyset of
// the newest primary row fully replicated per entity type. The cursor
// advances only after a batch succeeds end to end.
type SyncState struct {
	EntityType   string `gorm:"primaryKey;size:32"`
	LastSyncedAt time.Time
	LastSyncedID string `gorm:"size:64"`
	UpdatedAt    time.Time
}

func (SyncState) TableName() string { return "sync_state" }

// rupees converts integer paise to a NUMERIC rupee value.
func rupees(paise int64) decimal.Decimal {
	return decimal.NewFromInt(paise).Div(decimal.NewFromInt(100))
}
