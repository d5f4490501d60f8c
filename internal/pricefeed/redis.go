// Package pricefeed implements the read side of the `price:{symbol}` cache
// key (§6): the auto-trader's reference price source. Writing that key is
// the external price-feed ingestion adapter's job, explicitly out of scope
// (§1) — this package only consumes it.
package pricefeed

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const readTimeout = 2 * time.Second

// RedisFeed reads the latest reference price for a symbol from its
// `price:{symbol}` string key.
type RedisFeed struct {
	client *redis.Client
}

// New constructs a RedisFeed over an existing client.
func New(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func key(symbol string) string { return "price:" + symbol }

// ReferencePrice implements matching.PriceFeed.
func (f *RedisFeed) ReferencePrice(symbol string) (decimal.Decimal, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	raw, err := f.client.Get(ctx, key(symbol)).Result()
	if err != nil {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return price, true
}
