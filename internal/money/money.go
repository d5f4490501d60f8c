// Package money centralizes the fixed-point decimal handling the spec requires:
// all monetary amounts carry 8 fractional digits, and prices/quantities are
// rounded to a trading pair's own precision before they ever reach the ledger
// or the book.
package money

import "github.com/shopspring/decimal"

// Scale is the fractional-digit count every stored amount is quantized to (§3).
const Scale = 8

// Zero is the canonical zero amount, exported so callers never hand-construct
// decimal.Decimal{} and risk a nil-internal-representation footgun.
var Zero = decimal.Zero

// Normalize quantizes an amount to the ledger's 8-digit scale with
// decimal.Decimal.Round, which rounds halves away from zero.
func Normalize(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// RoundPrice rounds a price to a trading pair's configured price precision.
func RoundPrice(price decimal.Decimal, pricePrecision int32) decimal.Decimal {
	return price.Round(pricePrecision)
}

// RoundQuantity rounds a quantity to a trading pair's configured quantity
// precision. Quantities are truncated rather than rounded up, so an order can
// never be accepted for slightly more than the caller intended.
func RoundQuantity(qty decimal.Decimal, quantityPrecision int32) decimal.Decimal {
	return qty.Truncate(quantityPrecision)
}

// Notional computes quantity * price, normalized to the ledger scale.
func Notional(quantity, price decimal.Decimal) decimal.Decimal {
	return Normalize(quantity.Mul(price))
}

// IsPositive reports whether d is strictly greater than zero.
func IsPositive(d decimal.Decimal) bool { return d.IsPositive() }

// IsNonNegative reports whether d is zero or positive.
func IsNonNegative(d decimal.Decimal) bool { return !d.IsNegative() }
