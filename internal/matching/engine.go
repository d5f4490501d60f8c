// Package matching implements the per-symbol matching engine (§4.B):
// submission and cancellation pipelines run one at a time per symbol on a
// single owning actor, so every request for a symbol observes a linearizable
// view of that symbol's book and never races another request for the same
// symbol.
//
// Grounded on the teacher's internal/engine/engine.go (an Engine owning one
// OrderBook per AssetType) and internal/worker.go's tomb-supervised worker
// pool, generalized here into one tomb-supervised actor per symbol instead of
// a shared worker pool, since §5 requires per-symbol single-writer ordering
// rather than a shared pool of interchangeable workers.
package matching

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/saiputravu/fenrir/internal/book"
	"github.com/saiputravu/fenrir/internal/domain"
	"github.com/saiputravu/fenrir/internal/errs"
	"github.com/saiputravu/fenrir/internal/events"
	"github.com/saiputravu/fenrir/internal/ledger"
)

// Engine is the external contract callers submit and cancel orders through,
// and read book state from (§6).
type Engine interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	Cancel(ctx context.Context, req CancelRequest) (CancelResult, error)
	Snapshot(symbol string, depth int) (book.Snapshot, error)
	Delta(symbol string, sinceSeq uint64) (book.Delta, bool)
}

// SubmitRequest is the caller-facing order submission contract (§6).
type SubmitRequest struct {
	UserID        string
	Symbol        string
	Side          domain.Side
	Type          domain.Type
	Quantity      decimal.Decimal
	Price         decimal.Decimal // required for Limit, ignored for Market
	QuoteBudget   decimal.Decimal // Buy Market only
	ClientOrderID string
}

// SubmitResult mirrors §6's `{ orderId, status, trades[] }`.
type SubmitResult struct {
	OrderID     uint64
	Status      domain.Status
	Trades      []domain.Trade
	FilledQty   decimal.Decimal
	RemainingQty decimal.Decimal
}

// CancelRequest identifies the order to cancel and, unless the caller is an
// admin (UserID == ""), the user asserting ownership (§4.B: "only the owning
// user ... may cancel").
type CancelRequest struct {
	UserID  string
	OrderID uint64
}

// CancelResult reports the residual unfrozen on a successful cancel.
type CancelResult struct {
	OrderID          uint64
	UnfrozenQuantity decimal.Decimal
}

// Config holds the engine-wide tunables enumerated in §6.
type Config struct {
	MaxQueueDepth int           // matching.maxQueueDepth, default 10000
	TTL           time.Duration // order.ttlSeconds, default 86400s
	ExpirySweep   time.Duration // how often the expiry task scans for TTL'd orders
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxQueueDepth: 10000,
		TTL:           24 * time.Hour,
		ExpirySweep:   time.Minute,
	}
}

// Core is the engine implementation: one actor per registered symbol, a
// shared asset ledger (assets are shared across symbols by currency), an
// event bus, and an id generator.
type Core struct {
	cfg    Config
	ledger *ledger.Ledger
	bus    *events.Bus
	ids    *snowflake.Node

	pairs  map[string]domain.TradingPair
	actors map[string]*symbolActor
}

// New constructs a Core with no registered symbols. Call RegisterPair before
// routing any traffic to a symbol.
func New(cfg Config, lg *ledger.Ledger, bus *events.Bus, node *snowflake.Node) *Core {
	return &Core{
		cfg:    cfg,
		ledger: lg,
		bus:    bus,
		ids:    node,
		pairs:  make(map[string]domain.TradingPair),
		actors: make(map[string]*symbolActor),
	}
}

// RegisterPair activates a symbol, starting its owning actor goroutine.
func (c *Core) RegisterPair(pair domain.TradingPair) {
	c.pairs[pair.Symbol] = pair
	a := newSymbolActor(pair, c.cfg, c.ledger, c.bus, c.ids)
	c.actors[pair.Symbol] = a
	a.start()
}

// Stop stops every symbol actor (exit code 0 path, §6: "0 normal drain").
// An actor exits without processing submissions or cancels still waiting in
// its queue.
func (c *Core) Stop() error {
	var firstErr error
	for symbol, a := range c.actors {
		if err := a.stop(); err != nil && firstErr == nil {
			firstErr = err
			log.Error().Str("symbol", symbol).Err(err).Msg("symbol actor stopped with error")
		}
	}
	return firstErr
}

func (c *Core) actorFor(symbol string) (*symbolActor, error) {
	a, ok := c.actors[symbol]
	if !ok {
		return nil, errs.New(errs.SymbolInactive, "symbol is not registered")
	}
	return a, nil
}

// Submit routes req to its symbol's single-writer actor (§4.B, §5).
func (c *Core) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	pair, ok := c.pairs[req.Symbol]
	if !ok || !pair.IsActive {
		return SubmitResult{}, errs.New(errs.SymbolInactive, "symbol is not active")
	}
	a, err := c.actorFor(req.Symbol)
	if err != nil {
		return SubmitResult{}, err
	}
	return a.submit(ctx, pair, req)
}

// Cancel routes req to its order's owning symbol actor.
func (c *Core) Cancel(ctx context.Context, req CancelRequest) (CancelResult, error) {
	for _, a := range c.actors {
		if a.owns(req.OrderID) {
			return a.cancel(ctx, req)
		}
	}
	return CancelResult{}, errs.New(errs.OrderNotFound, "order not found")
}

// Snapshot reads a depth-limited view of a symbol's book (§4.A). The read
// holds the book's read lock, so it is not lock-free: it waits for any
// in-progress book mutation to finish.
func (c *Core) Snapshot(symbol string, depth int) (book.Snapshot, error) {
	a, err := c.actorFor(symbol)
	if err != nil {
		return book.Snapshot{}, err
	}
	return a.book.Snapshot(depth), nil
}

// Delta reads level changes since sinceSeq for symbol (§4.A).
func (c *Core) Delta(symbol string, sinceSeq uint64) (book.Delta, bool) {
	a, ok := c.actors[symbol]
	if !ok {
		return book.Delta{}, false
	}
	return a.book.Delta(sinceSeq)
}
