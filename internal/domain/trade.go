package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an append-only, immutable execution record (§3).
type Trade struct {
	ID          uint64
	Symbol      string
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	BuyOrderID  uint64
	SellOrderID uint64
	BuyerID     string
	SellerID    string
	AggressorSide Side
	ExecutedAt  time.Time
}
