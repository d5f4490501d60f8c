// Package autotrader implements the market-making auto-trader (§4.E): a
// single tomb-supervised ticking task per symbol that reads a reference
// price, cancels stale or mispriced quotes, and places layered bids and
// asks through the same Submit/Cancel entry points ordinary user traffic
// uses.
//
// Grounded on the teacher's internal/worker.go ticking-goroutine-under-tomb
// shape, generalized from a shared task-channel worker pool into one
// dedicated ticker per symbol, since each symbol's quoting cadence and state
// machine (Stopped/Running/Draining) are independent of every other symbol's.
package autotrader

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"

	"github.com/saiputravu/fenrir/internal/domain"
	"github.com/saiputravu/fenrir/internal/ledger"
	"github.com/saiputravu/fenrir/internal/matching"
	"github.com/saiputravu/fenrir/internal/money"
)

// State is the per-symbol auto-trader lifecycle (§4.E).
type State int

const (
	Stopped State = iota
	Running
	Draining
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Draining:
		return "DRAINING"
	default:
		return "STOPPED"
	}
}

// Config holds one symbol's quoting parameters (§6: autotrader.*).
type Config struct {
	Layers              int
	SpreadStepBps       int64
	LayerQuantity       decimal.Decimal
	MaxQuoteAge         time.Duration
	RepriceThresholdBps int64
	DailyNotionalCap    decimal.Decimal // zero means uncapped
	MaxOpenOrders       int
	TickInterval        time.Duration
	MinReserveFloor     map[string]decimal.Decimal // currency -> floor available balance
}

// quote is one resting order this trader placed and is tracking.
type quote struct {
	orderID   uint64
	side      domain.Side
	price     decimal.Decimal
	placedAt  time.Time
}

// Trader runs one symbol's quoting loop.
type Trader struct {
	symbol        string
	pair          domain.TradingPair
	systemAccount string
	cfg           Config

	engine matching.Engine
	feed   matching.PriceFeed
	lg     *ledger.Ledger

	state State
	open  []quote

	dayStart      time.Time
	dayNotional   decimal.Decimal

	t tomb.Tomb
}

// New constructs a Trader for one symbol. It does not start ticking until
// Start is called.
func New(pair domain.TradingPair, systemAccount string, cfg Config, engine matching.Engine, feed matching.PriceFeed, lg *ledger.Ledger) *Trader {
	return &Trader{
		symbol:        pair.Symbol,
		pair:          pair,
		systemAccount: systemAccount,
		cfg:           cfg,
		engine:        engine,
		feed:          feed,
		lg:            lg,
		state:         Stopped,
	}
}

// Start transitions Stopped -> Running and begins the tick loop.
func (tr *Trader) Start(ctx context.Context) {
	tr.state = Running
	tr.t.Go(func() error { return tr.run(tr.t.Context(ctx)) })
}

// Stop transitions Running -> Draining -> Stopped, cancelling every open
// system order before the tick loop actually exits (§4.E: "Draining cancels
// all open system orders before stopping").
func (tr *Trader) Stop() error {
	tr.state = Draining
	tr.drain()
	tr.state = Stopped
	tr.t.Kill(nil)
	return tr.t.Wait()
}

func (tr *Trader) run(ctx context.Context) error {
	ticker := time.NewTicker(tr.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tr.t.Dying():
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if tr.state != Running {
				continue
			}
			tr.tick()
		}
	}
}

// tick is one iteration of §4.E's four steps.
func (tr *Trader) tick() {
	price, ok := tr.feed.ReferencePrice(tr.symbol)
	if !ok {
		return
	}
	tr.resetDailyWindowIfNeeded()

	tr.cancelStaleOrMispriced(price)
	tr.placeLayers(price)
}

func (tr *Trader) resetDailyWindowIfNeeded() {
	now := time.Now()
	if now.Sub(tr.dayStart) >= 24*time.Hour {
		tr.dayStart = now
		tr.dayNotional = decimal.Zero
	}
}

// cancelStaleOrMispriced implements step 2: cancel any resting quote older
// than MaxQuoteAge or priced more than RepriceThresholdBps away from price.
func (tr *Trader) cancelStaleOrMispriced(price decimal.Decimal) {
	kept := tr.open[:0]
	for _, q := range tr.open {
		age := time.Since(q.placedAt)
		deviationBps := bpsDeviation(q.price, price)
		if age >= tr.cfg.MaxQuoteAge || deviationBps > tr.cfg.RepriceThresholdBps {
			tr.cancelQuote(q)
			continue
		}
		kept = append(kept, q)
	}
	tr.open = kept
}

func bpsDeviation(a, b decimal.Decimal) int64 {
	if b.IsZero() {
		return 0
	}
	diff := a.Sub(b).Abs()
	return diff.Div(b).Mul(decimal.NewFromInt(10000)).IntPart()
}

func (tr *Trader) cancelQuote(q quote) {
	_, err := tr.engine.Cancel(context.Background(), matching.CancelRequest{
		UserID:  tr.systemAccount,
		OrderID: q.orderID,
	})
	if err != nil {
		log.Error().Str("symbol", tr.symbol).Uint64("orderId", q.orderID).Err(err).Msg("autotrader failed to cancel quote")
	}
}

// placeLayers implements step 3 and the caps/floor enforcement of step 4.
func (tr *Trader) placeLayers(price decimal.Decimal) {
	if tr.cfg.MaxOpenOrders > 0 && len(tr.open) >= tr.cfg.MaxOpenOrders {
		return
	}

	for k := 1; k <= tr.cfg.Layers; k++ {
		if tr.cfg.MaxOpenOrders > 0 && len(tr.open) >= tr.cfg.MaxOpenOrders {
			return
		}
		step := decimal.NewFromInt(int64(k * int(tr.cfg.SpreadStepBps))).Div(decimal.NewFromInt(10000))

		bidPrice := money.RoundPrice(price.Mul(decimal.NewFromInt(1).Sub(step)), tr.pair.PricePrecision)
		askPrice := money.RoundPrice(price.Mul(decimal.NewFromInt(1).Add(step)), tr.pair.PricePrecision)

		tr.tryPlace(domain.Buy, bidPrice)
		tr.tryPlace(domain.Sell, askPrice)
	}
}

func (tr *Trader) tryPlace(side domain.Side, price decimal.Decimal) {
	notional := money.Notional(tr.cfg.LayerQuantity, price)
	if !tr.cfg.DailyNotionalCap.IsZero() && tr.dayNotional.Add(notional).GreaterThan(tr.cfg.DailyNotionalCap) {
		return
	}
	if !tr.reserveFloorAllows(side, notional) {
		return
	}

	res, err := tr.engine.Submit(context.Background(), matching.SubmitRequest{
		UserID: tr.systemAccount,
		Symbol: tr.symbol,
		Side:   side,
		Type:   domain.Limit,
		Quantity: tr.cfg.LayerQuantity,
		Price:    price,
	})
	if err != nil {
		log.Error().Str("symbol", tr.symbol).Str("side", side.String()).Err(err).Msg("autotrader quote rejected")
		return
	}

	tr.dayNotional = tr.dayNotional.Add(notional)
	if res.Status.IsResting() {
		tr.open = append(tr.open, quote{orderID: res.OrderID, side: side, price: price, placedAt: time.Now()})
	}
}

// reserveFloorAllows enforces §4.E's minimum-reserve floor: a layer is
// skipped rather than placed if it would freeze the system account's
// available balance below its configured floor for the currency it spends.
func (tr *Trader) reserveFloorAllows(side domain.Side, notional decimal.Decimal) bool {
	if tr.lg == nil || len(tr.cfg.MinReserveFloor) == 0 {
		return true
	}
	currency, amount := tr.pair.Base, tr.cfg.LayerQuantity
	if side == domain.Buy {
		currency, amount = tr.pair.Quote, notional
	}
	floor, ok := tr.cfg.MinReserveFloor[currency]
	if !ok {
		return true
	}
	balance := tr.lg.Balance(tr.systemAccount, currency)
	return balance.Available.Sub(amount).GreaterThanOrEqual(floor)
}

// drain cancels every tracked open order; called once on Stop before the
// tick loop exits.
func (tr *Trader) drain() {
	for _, q := range tr.open {
		tr.cancelQuote(q)
	}
	tr.open = nil
}
