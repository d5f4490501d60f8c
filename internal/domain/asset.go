package domain

import "github.com/shopspring/decimal"

// Asset is the per-(userId, symbol) balance row the ledger owns exclusively (§3).
// The symbol part of that key is the Currency field: it names a currency
// (base or quote asset), not a trading pair.
type Asset struct {
	UserID    string
	Currency  string
	Available decimal.Decimal
	Frozen    decimal.Decimal
	Version   uint64 // monotone version, journaled for the persister
}

// Total returns available + frozen (§3).
func (a *Asset) Total() decimal.Decimal {
	return a.Available.Add(a.Frozen)
}
