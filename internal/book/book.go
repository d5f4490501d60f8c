// Package book implements the per-symbol price-ordered bid/ask ladder (§4.A):
// btree-sorted price levels, each holding an insertion-ordered FIFO of resting
// orders, plus a secondary orderId index for O(log P) removal and a
// sequenceId-stamped delta log for snapshot/replay consumers.
//
// Grounded on the teacher's internal/engine/orderbook.go, which already used
// tidwall/btree for price levels and a FIFO orders slice per level; this
// generalizes that into its own package with an orderId index, depth-limited
// snapshots, and delta generation the teacher didn't have.
package book

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/saiputravu/fenrir/internal/domain"
	"github.com/saiputravu/fenrir/internal/errs"
)

// deltaRing bounds how far back Delta() can replay before demanding a fresh
// snapshot (§4.A: "if previousSeq is too old, respond snapshot-required").
const deltaRing = 256

// location is the secondary index entry: which side and price a resting
// order lives at, so Remove/Fill don't need to scan.
type location struct {
	side  domain.Side
	price decimal.Decimal
}

// changeRecord captures one level's absolute quantity after a mutation, the
// unit the delta log replays (§4.A: "changes are absolute level quantities").
type changeRecord struct {
	seq   uint64
	side  domain.Side
	level Level // Quantity == 0 means the level was removed
}

// Book is one symbol's order book. Mutating calls (Insert/Remove/Fill) are
// expected to come from a single owning matching actor (§5), but every
// accessor — including reads — goes through a short-held RWMutex so that
// book-snapshot readers never race the writer; the lock is held only across
// the in-memory pointer manipulation, never across I/O, so it never becomes
// a suspension point for the matching loop.
type Book struct {
	symbol string

	bids *btree.BTreeG[*priceLevel] // sorted descending by price
	asks *btree.BTreeG[*priceLevel] // sorted ascending by price

	index map[uint64]location

	seq       uint64
	insertSeq uint64
	changes   []changeRecord

	mu sync.RWMutex
}

// New creates an empty book for symbol.
func New(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price.GreaterThan(b.price)
		}),
		asks: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price.LessThan(b.price)
		}),
		index: make(map[uint64]location),
	}
}

func (b *Book) Symbol() string { return b.symbol }

func (b *Book) sideTree(side domain.Side) *btree.BTreeG[*priceLevel] {
	if side == domain.Buy {
		return b.bids
	}
	return b.asks
}

// Insert places order at the tail of its price level's FIFO, creating the
// level if absent (§4.A insert). The order must have Remaining() > 0.
func (b *Book) Insert(order *domain.Order) error {
	remaining := order.Remaining()
	if !remaining.IsPositive() {
		return errs.New(errs.Validation, "cannot insert order with non-positive remaining quantity")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.index[order.ID]; exists {
		return errs.New(errs.Validation, "order already resting in book")
	}

	b.insertSeq++
	ref := &orderRef{
		orderID:   order.ID,
		userID:    order.UserID,
		side:      order.Side,
		remaining: remaining,
		sequence:  b.insertSeq,
	}

	tree := b.sideTree(order.Side)
	key := &priceLevel{price: order.Price}
	if existing, ok := tree.Get(key); ok {
		existing.orders = append(existing.orders, ref)
	} else {
		key.orders = []*orderRef{ref}
		tree.Set(key)
	}

	b.index[order.ID] = location{side: order.Side, price: order.Price}
	b.recordChangeLocked(order.Side, order.Price)
	return nil
}

// Remove splices orderID out of its level, deleting the level if it becomes
// empty (§4.A remove). Returns the order's remaining quantity at removal time.
func (b *Book) Remove(orderID uint64) (remaining decimal.Decimal, side domain.Side, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	loc, exists := b.index[orderID]
	if !exists {
		return decimal.Zero, 0, false
	}

	tree := b.sideTree(loc.side)
	key := &priceLevel{price: loc.price}
	level, found := tree.Get(key)
	if !found {
		delete(b.index, orderID)
		return decimal.Zero, 0, false
	}

	for i, ref := range level.orders {
		if ref.orderID == orderID {
			remaining = ref.remaining
			level.removeAt(i)
			break
		}
	}
	delete(b.index, orderID)

	if len(level.orders) == 0 {
		tree.Delete(key)
	}
	b.recordChangeLocked(loc.side, loc.price)
	return remaining, loc.side, true
}

// Fill reduces a resting order's remaining quantity by qty (one matched
// leg), removing it from the book if fully consumed. It is the book's only
// mutation during the matching loop proper.
func (b *Book) Fill(orderID uint64, qty decimal.Decimal) (newRemaining decimal.Decimal, removed bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	loc, exists := b.index[orderID]
	if !exists {
		return decimal.Zero, false, errs.New(errs.OrderNotFound, "resting order not found in book")
	}

	tree := b.sideTree(loc.side)
	key := &priceLevel{price: loc.price}
	level, found := tree.Get(key)
	if !found {
		return decimal.Zero, false, errs.New(errs.OrderNotFound, "price level missing for indexed order")
	}

	var idx = -1
	var ref *orderRef
	for i, o := range level.orders {
		if o.orderID == orderID {
			idx, ref = i, o
			break
		}
	}
	if ref == nil {
		return decimal.Zero, false, errs.New(errs.OrderNotFound, "resting order missing from its level")
	}

	ref.remaining = ref.remaining.Sub(qty)
	if !ref.remaining.IsPositive() {
		level.removeAt(idx)
		delete(b.index, orderID)
		removed = true
		if len(level.orders) == 0 {
			tree.Delete(key)
		}
	}
	b.recordChangeLocked(loc.side, loc.price)
	return ref.remaining, removed, nil
}

// BestBid/BestAsk return the best resting price on each side.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	lvl, ok := b.bids.Min()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.price, true
}

func (b *Book) BestAsk() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	lvl, ok := b.asks.Min()
	if !ok {
		return decimal.Zero, false
	}
	return lvl.price, true
}

// Crossed reports whether the best bid is at least the best ask — legal only
// transiently inside the matching step (invariant 5).
func (b *Book) Crossed() bool {
	bid, bidOk := b.BestBid()
	ask, askOk := b.BestAsk()
	return bidOk && askOk && bid.GreaterThanOrEqual(ask)
}

// FrontOpposite returns the oldest (FIFO) resting order on the opposite side
// of side, at that side's best price — the next candidate to match against.
func (b *Book) FrontOpposite(side domain.Side) (orderID uint64, userID string, price, remaining decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tree := b.sideTree(side.Opposite())
	lvl, found := tree.Min()
	if !found || len(lvl.orders) == 0 {
		return 0, "", decimal.Zero, decimal.Zero, false
	}
	front := lvl.orders[0]
	return front.orderID, front.userID, lvl.price, front.remaining, true
}

// recordChangeLocked appends the level's new absolute state to the delta log
// and bumps the sequence id. Callers must already hold b.mu for writing.
func (b *Book) recordChangeLocked(side domain.Side, price decimal.Decimal) {
	tree := b.sideTree(side)
	key := &priceLevel{price: price}
	qty := decimal.Zero
	count := 0
	if lvl, ok := tree.Get(key); ok {
		qty = lvl.quantity()
		count = lvl.orderCount()
	}

	b.seq++
	b.changes = append(b.changes, changeRecord{
		seq:  b.seq,
		side: side,
		level: Level{
			Price:      price,
			Quantity:   qty,
			OrderCount: count,
		},
	})
	if len(b.changes) > deltaRing {
		b.changes = b.changes[len(b.changes)-deltaRing:]
	}
}

// Snapshot is the aggregated, depth-limited view of the book at a point in
// time, stamped with the sequence id it was read at (§4.A snapshot).
type Snapshot struct {
	Symbol    string
	SequenceID uint64
	Bids      []Level
	Asks      []Level
	Timestamp time.Time
}

// Snapshot returns up to depth aggregated levels per side.
func (b *Book) Snapshot(depth int) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := Snapshot{Symbol: b.symbol, SequenceID: b.seq, Timestamp: time.Now()}
	b.bids.Scan(func(lvl *priceLevel) bool {
		if depth > 0 && len(out.Bids) >= depth {
			return false
		}
		out.Bids = append(out.Bids, Level{Price: lvl.price, Quantity: lvl.quantity(), OrderCount: lvl.orderCount()})
		return true
	})
	b.asks.Scan(func(lvl *priceLevel) bool {
		if depth > 0 && len(out.Asks) >= depth {
			return false
		}
		out.Asks = append(out.Asks, Level{Price: lvl.price, Quantity: lvl.quantity(), OrderCount: lvl.orderCount()})
		return true
	})
	return out
}

// LevelChange is one side's absolute level update since a prior sequence id.
// A Quantity of zero means the level was fully removed.
type LevelChange struct {
	Side  domain.Side
	Level Level
}

// Delta is the set of level changes between a previous sequence id and now.
type Delta struct {
	Symbol        string
	FromSequence  uint64
	ToSequence    uint64
	Changes       []LevelChange
}

// Delta returns level changes since previousSeq. The second return value is
// false when previousSeq has aged out of the ring and a full snapshot must be
// requested instead (§4.A: "snapshot-required").
func (b *Book) Delta(previousSeq uint64) (Delta, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.changes) == 0 {
		return Delta{Symbol: b.symbol, FromSequence: previousSeq, ToSequence: b.seq}, true
	}
	oldest := b.changes[0].seq - 1
	if previousSeq < oldest {
		return Delta{}, false
	}

	out := Delta{Symbol: b.symbol, FromSequence: previousSeq, ToSequence: b.seq}
	for _, c := range b.changes {
		if c.seq > previousSeq {
			out.Changes = append(out.Changes, LevelChange{Side: c.side, Level: c.level})
		}
	}
	return out, true
}

// SequenceID returns the book's current, monotonically increasing sequence id.
func (b *Book) SequenceID() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}
