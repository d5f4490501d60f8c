// Package models holds the gorm-tagged durable-store mirrors of the
// cache-resident domain entities (§3 ADD). internal/domain stays the
// authoritative, hot-path struct set; these exist solely as the persister's
// write target and are never read by the matching/ledger packages.
package models

import (
	"time"
)

// Order mirrors domain.Order for durable storage.
type Order struct {
	ID             uint64 `gorm:"primaryKey"`
	ClientOrderID  string `gorm:"index"`
	UserID         string `gorm:"index:idx_order_user_symbol"`
	Symbol         string `gorm:"index:idx_order_user_symbol"`
	Side           int16
	Type           int16
	Quantity       string `gorm:"type:numeric"`
	Price          string `gorm:"type:numeric"`
	QuoteBudget    string `gorm:"type:numeric"`
	FilledQuantity string `gorm:"type:numeric"`
	AveragePrice   string `gorm:"type:numeric"`
	Status         int16
	CreatedAt      time.Time
	Sequence       uint64
}

func (Order) TableName() string { return "orders" }

// Trade mirrors domain.Trade for durable storage. ID is the idempotency key
// (§4.D: "idempotent writes keyed by tradeId").
type Trade struct {
	ID            uint64 `gorm:"primaryKey"`
	Symbol        string `gorm:"index"`
	Price         string `gorm:"type:numeric"`
	Quantity      string `gorm:"type:numeric"`
	BuyOrderID    uint64 `gorm:"index"`
	SellOrderID   uint64 `gorm:"index"`
	BuyerID       string `gorm:"index"`
	SellerID      string `gorm:"index"`
	AggressorSide int16
	ExecutedAt    time.Time
}

func (Trade) TableName() string { return "trades" }

// Asset mirrors domain.Asset for durable storage. The (UserID, Currency,
// Version) triple is the idempotency key (§4.D: "(userId,symbol,version)");
// a write with a version already seen for that row is a no-op.
type Asset struct {
	UserID    string `gorm:"primaryKey;index:idx_asset_pk"`
	Currency  string `gorm:"primaryKey;index:idx_asset_pk"`
	Available string `gorm:"type:numeric"`
	Frozen    string `gorm:"type:numeric"`
	Version   uint64
	UpdatedAt time.Time
}

func (Asset) TableName() string { return "assets" }

// TradingPair mirrors domain.TradingPair for durable storage.
type TradingPair struct {
	Symbol            string `gorm:"primaryKey"`
	Base              string
	Quote             string
	PricePrecision    int32
	QuantityPrecision int32
	MinQuantity       string `gorm:"type:numeric"`
	MaxQuantity       string `gorm:"type:numeric"`
	IsActive          bool
}

func (TradingPair) TableName() string { return "trading_pairs" }
