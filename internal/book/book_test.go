package book_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiputravu/fenrir/internal/book"
	"github.com/saiputravu/fenrir/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func restingOrder(id uint64, side domain.Side, price, qty string) *domain.Order {
	return &domain.Order{
		ID:        id,
		UserID:    "u",
		Side:      side,
		Type:      domain.Limit,
		Quantity:  d(qty),
		Price:     d(price),
		Status:    domain.Active,
		CreatedAt: time.Now(),
	}
}

func TestInsert_AggregatesWithinLevel(t *testing.T) {
	b := book.New("BTCUSDT")

	require.NoError(t, b.Insert(restingOrder(1, domain.Buy, "99", "1")))
	require.NoError(t, b.Insert(restingOrder(2, domain.Buy, "99", "2")))
	require.NoError(t, b.Insert(restingOrder(3, domain.Buy, "98", "5")))

	snap := b.Snapshot(10)
	require.Len(t, snap.Bids, 2)
	assert.True(t, snap.Bids[0].Price.Equal(d("99")), "best bid should sort first")
	assert.True(t, snap.Bids[0].Quantity.Equal(d("3")))
	assert.Equal(t, 2, snap.Bids[0].OrderCount)
	assert.True(t, snap.Bids[1].Price.Equal(d("98")))
}

func TestInsert_RejectsDuplicateOrderID(t *testing.T) {
	b := book.New("BTCUSDT")
	require.NoError(t, b.Insert(restingOrder(1, domain.Buy, "99", "1")))
	err := b.Insert(restingOrder(1, domain.Buy, "98", "1"))
	assert.Error(t, err)
}

func TestFrontOpposite_IsFIFOWithinLevel(t *testing.T) {
	b := book.New("BTCUSDT")
	require.NoError(t, b.Insert(restingOrder(1, domain.Sell, "10", "1")))
	require.NoError(t, b.Insert(restingOrder(2, domain.Sell, "10", "1")))

	id, _, price, remaining, ok := b.FrontOpposite(domain.Buy)
	require.True(t, ok)
	assert.Equal(t, uint64(1), id, "earliest-inserted order at the level must front the FIFO")
	assert.True(t, price.Equal(d("10")))
	assert.True(t, remaining.Equal(d("1")))
}

func TestFill_RemovesOrderWhenFullyConsumed(t *testing.T) {
	b := book.New("BTCUSDT")
	require.NoError(t, b.Insert(restingOrder(1, domain.Sell, "10", "1")))

	remaining, removed, err := b.Fill(1, d("1"))
	require.NoError(t, err)
	assert.True(t, removed)
	assert.True(t, remaining.IsZero())

	_, ok := b.BestAsk()
	assert.False(t, ok, "level must be deleted once its only order is fully filled")
}

func TestFill_PartialLeavesOrderResting(t *testing.T) {
	b := book.New("BTCUSDT")
	require.NoError(t, b.Insert(restingOrder(1, domain.Sell, "10", "2")))

	remaining, removed, err := b.Fill(1, d("1"))
	require.NoError(t, err)
	assert.False(t, removed)
	assert.True(t, remaining.Equal(d("1")))

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Equal(d("10")))
}

func TestRemove_DeletesEmptyLevel(t *testing.T) {
	b := book.New("BTCUSDT")
	require.NoError(t, b.Insert(restingOrder(1, domain.Buy, "99", "1")))

	remaining, side, ok := b.Remove(1)
	require.True(t, ok)
	assert.Equal(t, domain.Buy, side)
	assert.True(t, remaining.Equal(d("1")))

	_, ok = b.BestBid()
	assert.False(t, ok)
}

func TestRemove_UnknownOrderIsNotOK(t *testing.T) {
	b := book.New("BTCUSDT")
	_, _, ok := b.Remove(999)
	assert.False(t, ok)
}

func TestBestBidBestAsk_NeverCrossAtRest(t *testing.T) {
	b := book.New("BTCUSDT")
	require.NoError(t, b.Insert(restingOrder(1, domain.Buy, "99", "1")))
	require.NoError(t, b.Insert(restingOrder(2, domain.Sell, "100", "1")))

	assert.False(t, b.Crossed())
}

func TestSnapshot_RespectsDepth(t *testing.T) {
	b := book.New("BTCUSDT")
	require.NoError(t, b.Insert(restingOrder(1, domain.Buy, "99", "1")))
	require.NoError(t, b.Insert(restingOrder(2, domain.Buy, "98", "1")))
	require.NoError(t, b.Insert(restingOrder(3, domain.Buy, "97", "1")))

	snap := b.Snapshot(2)
	assert.Len(t, snap.Bids, 2)
}

func TestDelta_ReplaysSinceASequence(t *testing.T) {
	b := book.New("BTCUSDT")
	seq0 := b.SequenceID()

	require.NoError(t, b.Insert(restingOrder(1, domain.Buy, "99", "1")))
	delta, ok := b.Delta(seq0)
	require.True(t, ok)
	require.Len(t, delta.Changes, 1)
	assert.True(t, delta.Changes[0].Level.Quantity.Equal(d("1")))

	seq1 := b.SequenceID()
	_, _, _ = b.Remove(1)
	delta2, ok := b.Delta(seq1)
	require.True(t, ok)
	require.Len(t, delta2.Changes, 1)
	assert.True(t, delta2.Changes[0].Level.Quantity.IsZero(), "a removed level reports a zero absolute quantity")
}

func TestDelta_TooOldRequiresSnapshot(t *testing.T) {
	b := book.New("BTCUSDT")
	require.NoError(t, b.Insert(restingOrder(1, domain.Buy, "99", "1")))
	seq0 := b.SequenceID()

	// Churn enough level changes to push seq0 out of the delta ring.
	for i := uint64(2); i < 400; i++ {
		require.NoError(t, b.Insert(restingOrder(i, domain.Buy, "99", "1")))
		_, _, _ = b.Remove(i)
	}

	_, ok := b.Delta(seq0)
	assert.False(t, ok, "a sequence id older than the retained ring must demand a fresh snapshot")
}
