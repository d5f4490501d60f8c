package domain

import "github.com/shopspring/decimal"

// TradingPair is immutable from the engine's perspective; it is updated
// out-of-band and only read by the matching/validation path (§3).
type TradingPair struct {
	Symbol            string
	Base              string
	Quote             string
	PricePrecision    int32
	QuantityPrecision int32
	MinQuantity       decimal.Decimal
	MaxQuantity       decimal.Decimal
	IsActive          bool
}
