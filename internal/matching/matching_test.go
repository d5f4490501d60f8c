package matching_test

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiputravu/fenrir/internal/domain"
	"github.com/saiputravu/fenrir/internal/errs"
	"github.com/saiputravu/fenrir/internal/events"
	"github.com/saiputravu/fenrir/internal/ledger"
	"github.com/saiputravu/fenrir/internal/matching"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestCore(t *testing.T) (*matching.Core, *ledger.Ledger) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	lg := ledger.New(ledger.NoopSink{})
	bus := events.NewBus()
	core := matching.New(matching.DefaultConfig(), lg, bus, node)
	core.RegisterPair(domain.TradingPair{
		Symbol:            "BTCUSDT",
		Base:              "BTC",
		Quote:             "USDT",
		PricePrecision:    2,
		QuantityPrecision: 8,
		MinQuantity:       d("0.00000001"),
		MaxQuantity:       decimal.Zero,
		IsActive:          true,
	})
	t.Cleanup(func() { _ = core.Stop() })
	return core, lg
}

func fund(lg *ledger.Ledger, userID string, balances map[string]decimal.Decimal) {
	lg.InitializeUserAssets(userID, balances)
}

// Scenario 1: simple cross.
func TestSubmit_SimpleCross(t *testing.T) {
	core, lg := newTestCore(t)
	ctx := context.Background()

	fund(lg, "u1", map[string]decimal.Decimal{"USDT": d("1000")})
	fund(lg, "u2", map[string]decimal.Decimal{"BTC": d("10")})

	_, err := core.Submit(ctx, matching.SubmitRequest{
		UserID: "u1", Symbol: "BTCUSDT", Side: domain.Buy, Type: domain.Limit,
		Quantity: d("1"), Price: d("100"),
	})
	require.NoError(t, err)

	res, err := core.Submit(ctx, matching.SubmitRequest{
		UserID: "u2", Symbol: "BTCUSDT", Side: domain.Sell, Type: domain.Limit,
		Quantity: d("1"), Price: d("100"),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.Filled, res.Status)
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(d("100")))
	assert.True(t, res.Trades[0].Quantity.Equal(d("1")))

	u1Base := lg.Balance("u1", "BTC")
	u1Quote := lg.Balance("u1", "USDT")
	u2Base := lg.Balance("u2", "BTC")
	u2Quote := lg.Balance("u2", "USDT")

	assert.True(t, u1Base.Available.Equal(d("1")))
	assert.True(t, u1Quote.Available.Equal(d("900")))
	assert.True(t, u2Base.Available.Equal(d("9")))
	assert.True(t, u2Quote.Available.Equal(d("100")))

	snap, err := core.Snapshot("BTCUSDT", 10)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}

// Scenario 2: partial fill then rest.
func TestSubmit_PartialFillThenRest(t *testing.T) {
	core, lg := newTestCore(t)
	ctx := context.Background()

	fund(lg, "u1", map[string]decimal.Decimal{"BTC": d("10")})
	fund(lg, "u2", map[string]decimal.Decimal{"USDT": d("1000")})

	sellRes, err := core.Submit(ctx, matching.SubmitRequest{
		UserID: "u1", Symbol: "BTCUSDT", Side: domain.Sell, Type: domain.Limit,
		Quantity: d("2"), Price: d("50"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Active, sellRes.Status)

	buyRes, err := core.Submit(ctx, matching.SubmitRequest{
		UserID: "u2", Symbol: "BTCUSDT", Side: domain.Buy, Type: domain.Limit,
		Quantity: d("1"), Price: d("50"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Filled, buyRes.Status)
	require.Len(t, buyRes.Trades, 1)

	snap, err := core.Snapshot("BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Price.Equal(d("50")))
	assert.True(t, snap.Asks[0].Quantity.Equal(d("1")))
}

// Scenario 3: price-time priority.
func TestSubmit_PriceTimePriority(t *testing.T) {
	core, lg := newTestCore(t)
	ctx := context.Background()

	fund(lg, "a", map[string]decimal.Decimal{"BTC": d("10")})
	fund(lg, "b", map[string]decimal.Decimal{"BTC": d("10")})
	fund(lg, "c", map[string]decimal.Decimal{"USDT": d("1000")})

	_, err := core.Submit(ctx, matching.SubmitRequest{
		UserID: "a", Symbol: "BTCUSDT", Side: domain.Sell, Type: domain.Limit,
		Quantity: d("1"), Price: d("10"),
	})
	require.NoError(t, err)
	_, err = core.Submit(ctx, matching.SubmitRequest{
		UserID: "b", Symbol: "BTCUSDT", Side: domain.Sell, Type: domain.Limit,
		Quantity: d("1"), Price: d("10"),
	})
	require.NoError(t, err)

	res, err := core.Submit(ctx, matching.SubmitRequest{
		UserID: "c", Symbol: "BTCUSDT", Side: domain.Buy, Type: domain.Limit,
		Quantity: d("1"), Price: d("10"),
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "a", res.Trades[0].SellerID, "earlier-inserted order A must fill first")

	aBase := lg.Balance("a", "BTC")
	bBase := lg.Balance("b", "BTC")
	assert.True(t, aBase.Available.Equal(d("9")), "A's order should be the one consumed")
	assert.True(t, bBase.Available.Equal(d("9")), "B's order must be untouched (its 1 BTC stays frozen)")

	snap, err := core.Snapshot("BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Quantity.Equal(d("1")))
}

// Scenario 4: market order walks the book.
func TestSubmit_MarketWalksBook(t *testing.T) {
	core, lg := newTestCore(t)
	ctx := context.Background()

	fund(lg, "maker1", map[string]decimal.Decimal{"BTC": d("10")})
	fund(lg, "maker2", map[string]decimal.Decimal{"BTC": d("10")})
	fund(lg, "taker", map[string]decimal.Decimal{"USDT": d("1000")})

	_, err := core.Submit(ctx, matching.SubmitRequest{
		UserID: "maker1", Symbol: "BTCUSDT", Side: domain.Sell, Type: domain.Limit,
		Quantity: d("1"), Price: d("10"),
	})
	require.NoError(t, err)
	_, err = core.Submit(ctx, matching.SubmitRequest{
		UserID: "maker2", Symbol: "BTCUSDT", Side: domain.Sell, Type: domain.Limit,
		Quantity: d("2"), Price: d("11"),
	})
	require.NoError(t, err)

	res, err := core.Submit(ctx, matching.SubmitRequest{
		UserID: "taker", Symbol: "BTCUSDT", Side: domain.Buy, Type: domain.Market,
		Quantity:    d("3"),
		QuoteBudget: d("32"),
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.True(t, res.Trades[0].Price.Equal(d("10")))
	assert.True(t, res.Trades[0].Quantity.Equal(d("1")))
	assert.True(t, res.Trades[1].Price.Equal(d("11")))
	assert.True(t, res.Trades[1].Quantity.Equal(d("2")))
	assert.Equal(t, domain.Filled, res.Status)

	takerBase := lg.Balance("taker", "BTC")
	takerQuote := lg.Balance("taker", "USDT")
	assert.True(t, takerBase.Available.Equal(d("3")))
	assert.True(t, takerQuote.Available.Equal(d("968")))
}

// Scenario 5: insufficient balance.
func TestSubmit_InsufficientBalance(t *testing.T) {
	core, lg := newTestCore(t)
	ctx := context.Background()

	fund(lg, "u1", map[string]decimal.Decimal{"USDT": d("50")})

	_, err := core.Submit(ctx, matching.SubmitRequest{
		UserID: "u1", Symbol: "BTCUSDT", Side: domain.Buy, Type: domain.Limit,
		Quantity: d("1"), Price: d("100"),
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InsufficientBalance))

	row := lg.Balance("u1", "USDT")
	assert.True(t, row.Frozen.IsZero())
	assert.True(t, row.Available.Equal(d("50")))

	snap, err := core.Snapshot("BTCUSDT", 10)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
}

// Scenario 6: cancel on a terminal order returns ORDER_TERMINAL (documented
// choice, see DESIGN.md's Open Question resolution).
func TestCancel_OnFilledOrderReturnsOrderTerminal(t *testing.T) {
	core, lg := newTestCore(t)
	ctx := context.Background()

	fund(lg, "u1", map[string]decimal.Decimal{"USDT": d("1000")})
	fund(lg, "u2", map[string]decimal.Decimal{"BTC": d("10")})

	buyRes, err := core.Submit(ctx, matching.SubmitRequest{
		UserID: "u1", Symbol: "BTCUSDT", Side: domain.Buy, Type: domain.Limit,
		Quantity: d("1"), Price: d("100"),
	})
	require.NoError(t, err)
	_, err = core.Submit(ctx, matching.SubmitRequest{
		UserID: "u2", Symbol: "BTCUSDT", Side: domain.Sell, Type: domain.Limit,
		Quantity: d("1"), Price: d("100"),
	})
	require.NoError(t, err)

	_, err = core.Cancel(ctx, matching.CancelRequest{UserID: "u1", OrderID: buyRes.OrderID})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.OrderTerminal))
}

// Round-trip: submit-then-cancel an unfilled Limit restores available/frozen.
func TestCancel_UnfilledRoundTrip(t *testing.T) {
	core, lg := newTestCore(t)
	ctx := context.Background()

	fund(lg, "u1", map[string]decimal.Decimal{"USDT": d("1000")})
	initial := lg.Balance("u1", "USDT")

	res, err := core.Submit(ctx, matching.SubmitRequest{
		UserID: "u1", Symbol: "BTCUSDT", Side: domain.Buy, Type: domain.Limit,
		Quantity: d("1"), Price: d("100"),
	})
	require.NoError(t, err)

	_, err = core.Cancel(ctx, matching.CancelRequest{UserID: "u1", OrderID: res.OrderID})
	require.NoError(t, err)

	final := lg.Balance("u1", "USDT")
	assert.True(t, final.Available.Equal(initial.Available))
	assert.True(t, final.Frozen.Equal(initial.Frozen))
}

// Cancel by a non-owning user is rejected.
func TestCancel_UnauthorizedCaller(t *testing.T) {
	core, lg := newTestCore(t)
	ctx := context.Background()

	fund(lg, "u1", map[string]decimal.Decimal{"USDT": d("1000")})

	res, err := core.Submit(ctx, matching.SubmitRequest{
		UserID: "u1", Symbol: "BTCUSDT", Side: domain.Buy, Type: domain.Limit,
		Quantity: d("1"), Price: d("100"),
	})
	require.NoError(t, err)

	_, err = core.Cancel(ctx, matching.CancelRequest{UserID: "someone-else", OrderID: res.OrderID})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Unauthorized))
}
