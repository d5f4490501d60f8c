// Package events defines the domain events the matching engine and ledger
// emit (§9: "Domain events ... become messages on typed channels consumed by
// the Persister and by any external fan-out subscriber") and a small
// channel-based bus to publish them, generalizing the teacher's
// execution-report wire framing (internal/net/messages.go) into typed,
// in-process events instead of a bespoke binary struct.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/saiputravu/fenrir/internal/book"
	"github.com/saiputravu/fenrir/internal/domain"
)

// OrderPlaced is emitted when a Limit order (or the unfilled residual of a
// Limit order) rests on the book. Market orders never rest and never emit it.
type OrderPlaced struct {
	CorrelationID uuid.UUID
	Order         domain.Order
	Timestamp     time.Time
}

// TradeExecuted is emitted once per fill. BuyOrder/SellOrder carry each
// side's post-fill snapshot (§4.D: "symbol-partitioned order-state updates
// ride on the trade queue by carrying before/after order snapshots") so a
// persister subscriber can durably sync both orders' residual/status off the
// same event that durably syncs the trade itself.
type TradeExecuted struct {
	CorrelationID uuid.UUID
	Trade         domain.Trade
	BuyOrder      domain.Order
	SellOrder     domain.Order
}

// OrderCancelled is emitted when cancel (explicit or via TTL expiry) removes
// an order from the book, and when a Market order's unfilled remainder is
// cancelled after matching. Order carries the post-cancel snapshot for the
// same write-behind reason TradeExecuted carries one.
type OrderCancelled struct {
	CorrelationID uuid.UUID
	OrderID       uint64
	Symbol        string
	UserID        string
	Remaining     decimal.Decimal
	Order         domain.Order
	Timestamp     time.Time
}

// OrderBookChanged carries the book delta produced by one submission, for
// k-line aggregation / real-time push fan-out consumers (§1). Cancels do not
// emit it; they emit OrderCancelled only.
type OrderBookChanged struct {
	CorrelationID uuid.UUID
	Delta         book.Delta
}

// NewCorrelationID mints an id tying together every event a single
// submit/cancel call produces, so a downstream subscriber can reconstruct
// which trades and book changes came from the same request.
func NewCorrelationID() uuid.UUID { return uuid.New() }

// Bus fans out events to any number of subscribers without blocking
// producers indefinitely. Two delivery modes are offered: best-effort
// (Subscribe), for consumers whose occasional miss is harmless, and reliable
// (SubscribeReliable), for the persister's write-behind path, which §4.D
// requires to deliver at-least-once.
type Bus struct {
	mu           sync.Mutex
	subs         []chan any
	reliableSubs []*reliableSub
}

// NewBus constructs an empty event bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe returns a receive-only channel of future events. bufferSize
// bounds how far a slow consumer may lag before events are dropped for it.
// Use this only for consumers that can tolerate an occasional missed event.
func (b *Bus) Subscribe(bufferSize int) <-chan any {
	ch := make(chan any, bufferSize)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// SubscribeReliable returns a channel that will eventually receive every
// event published after subscription, regardless of how slow its consumer
// is: backlog is held in an unbounded in-memory queue rather than a fixed
// channel buffer, so Publish never has to drop an event to stay non-blocking
// (§4.D: "at-least-once delivery" — the persister is the canonical user of
// this, since a dropped TradeExecuted/OrderPlaced/OrderCancelled would mean
// the trade or order snapshot it carries never reaches sync_queue:trades at
// all).
func (b *Bus) SubscribeReliable() <-chan any {
	sub := newReliableSub()
	b.mu.Lock()
	b.reliableSubs = append(b.reliableSubs, sub)
	b.mu.Unlock()
	go sub.pump()
	return sub.out
}

// Publish fans evt out to every subscriber. Best-effort subscribers drop the
// event if their buffer is currently full; reliable subscribers always
// accept it onto their unbounded queue. Neither path blocks the caller — the
// matching actor's hot path must never suspend on a slow consumer (§5).
func (b *Bus) Publish(evt any) {
	b.mu.Lock()
	subs := b.subs
	reliableSubs := b.reliableSubs
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
	for _, sub := range reliableSubs {
		sub.push(evt)
	}
}

// reliableSub holds an unbounded backlog for one SubscribeReliable consumer
// and forwards it, in order, onto an unbuffered output channel via its own
// goroutine — so a slow consumer only ever delays delivery, never loses it.
type reliableSub struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []any
	out   chan any
}

func newReliableSub() *reliableSub {
	s := &reliableSub{out: make(chan any)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *reliableSub) push(evt any) {
	s.mu.Lock()
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *reliableSub) pump() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			s.cond.Wait()
		}
		evt := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.out <- evt
	}
}
