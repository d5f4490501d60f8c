package matching

import "github.com/shopspring/decimal"

// PriceFeed is the reference-price source the auto-trader consumes (§4.E).
// The price-feed ingestion adapter that writes prices is out of scope (§1);
// internal/pricefeed.RedisFeed reads them from the cache tier, and
// StaticPriceFeed below is a fixed-price double.
type PriceFeed interface {
	ReferencePrice(symbol string) (decimal.Decimal, bool)
}

// StaticPriceFeed is a fixed-price test double, useful for autotrader and
// matching tests that don't need a live feed.
type StaticPriceFeed struct {
	Prices map[string]decimal.Decimal
}

func (f StaticPriceFeed) ReferencePrice(symbol string) (decimal.Decimal, bool) {
	p, ok := f.Prices[symbol]
	return p, ok
}
