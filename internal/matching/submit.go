package matching

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/saiputravu/fenrir/internal/domain"
	"github.com/saiputravu/fenrir/internal/errs"
	"github.com/saiputravu/fenrir/internal/events"
	"github.com/saiputravu/fenrir/internal/money"
)

// handleSubmit runs the full submission pipeline (§4.B) on the owning actor's
// single goroutine: validate, freeze, match, post-match, emit. It never
// suspends on I/O — the ledger is in-memory and synchronous (§5).
func (a *symbolActor) handleSubmit(pair domain.TradingPair, req SubmitRequest) (SubmitResult, error) {
	seqBefore := a.book.SequenceID()
	corrID := events.NewCorrelationID()

	order, err := a.validate(pair, req)
	if err != nil {
		return SubmitResult{}, err
	}

	if err := a.freeze(pair, order, req); err != nil {
		order.Status = domain.Rejected
		return SubmitResult{}, err
	}

	a.mu.Lock()
	a.orders[order.ID] = order
	a.mu.Unlock()

	trades, err := a.matchLoop(pair, order, corrID)
	if err != nil {
		// A ledger failure mid-match is a bug indicator (§4.B step 3c): the
		// whole submission is rejected. Any quantity already matched before
		// the failing leg keeps its trades and ledger state — only the
		// leg that failed is refused, so nothing partially settles twice.
		log.Error().Str("symbol", a.symbol).Uint64("orderId", order.ID).Err(err).
			Msg("settlement failed mid-match, rejecting submission")
		order.Status = domain.Rejected
		a.unfreezeResidual(pair, order, req)
		return SubmitResult{}, err
	}

	a.postMatch(pair, order, req, corrID)

	if delta, ok := a.book.Delta(seqBefore); ok && len(delta.Changes) > 0 {
		a.bus.Publish(events.OrderBookChanged{CorrelationID: corrID, Delta: delta})
	}

	return SubmitResult{
		OrderID:      order.ID,
		Status:       order.Status,
		Trades:       trades,
		FilledQty:    order.FilledQuantity,
		RemainingQty: order.Remaining(),
	}, nil
}

// validate enforces §4.B step 1 and constructs the in-memory Order record.
func (a *symbolActor) validate(pair domain.TradingPair, req SubmitRequest) (*domain.Order, error) {
	if !pair.IsActive {
		return nil, errs.New(errs.SymbolInactive, "symbol is not active")
	}

	qty := money.RoundQuantity(req.Quantity, pair.QuantityPrecision)
	if !qty.IsPositive() {
		return nil, errs.New(errs.Validation, "quantity must be positive")
	}
	if qty.LessThan(pair.MinQuantity) || (pair.MaxQuantity.IsPositive() && qty.GreaterThan(pair.MaxQuantity)) {
		return nil, errs.New(errs.Validation, "quantity outside trading pair bounds")
	}

	price := decimal.Zero
	if req.Type == domain.Limit {
		if !req.Price.IsPositive() {
			return nil, errs.New(errs.Validation, "limit orders require a positive price")
		}
		price = money.RoundPrice(req.Price, pair.PricePrecision)
	} else if req.Price.IsPositive() {
		return nil, errs.New(errs.Validation, "market orders must not specify a price")
	}

	quoteBudget := decimal.Zero
	if req.Type == domain.Market && req.Side == domain.Buy {
		if !req.QuoteBudget.IsPositive() {
			return nil, errs.New(errs.Validation, "buy market orders require a quote budget")
		}
		quoteBudget = money.Normalize(req.QuoteBudget)
	}

	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = uuid.New().String()
	}

	id := uint64(a.ids.Generate().Int64())
	return &domain.Order{
		ID:            id,
		ClientOrderID: clientOrderID,
		UserID:        req.UserID,
		Symbol:        pair.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      qty,
		Price:         price,
		QuoteBudget:   quoteBudget,
		Status:        domain.Pending,
		CreatedAt:     time.Now(),
		Sequence:      a.nextSequence(),
	}, nil
}

func (a *symbolActor) nextSequence() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint64(len(a.orders)) + 1
}

// freeze performs §4.B step 2's fund check and reservation.
func (a *symbolActor) freeze(pair domain.TradingPair, order *domain.Order, req SubmitRequest) error {
	var currency string
	var amount decimal.Decimal

	switch {
	case order.Side == domain.Buy && order.Type == domain.Limit:
		currency, amount = pair.Quote, money.Notional(order.Quantity, order.Price)
	case order.Side == domain.Sell:
		currency, amount = pair.Base, order.Quantity
	case order.Side == domain.Buy && order.Type == domain.Market:
		currency, amount = pair.Quote, order.QuoteBudget
	}

	if err := a.ledger.Freeze(order.UserID, currency, amount); err != nil {
		return err
	}
	order.Status = domain.Active
	return nil
}

// matchLoop is §4.B step 3: repeatedly take the oldest resting order at the
// opposite side's best price until the incoming order is filled or no longer
// crosses.
func (a *symbolActor) matchLoop(pair domain.TradingPair, incoming *domain.Order, corrID uuid.UUID) ([]domain.Trade, error) {
	var trades []domain.Trade

	for incoming.Remaining().IsPositive() {
		restID, restUser, restPrice, restRemaining, ok := a.book.FrontOpposite(incoming.Side)
		if !ok {
			break
		}
		if incoming.Type == domain.Limit && !crosses(incoming.Side, incoming.Price, restPrice) {
			break
		}

		fillQty := decimal.Min(incoming.Remaining(), restRemaining)
		if incoming.Type == domain.Market && incoming.Side == domain.Buy {
			// Market buys are budget-bound: size the fill to what the
			// remaining quote budget can still afford at the resting price.
			remainingBudget := incoming.QuoteBudget.Sub(money.Notional(incoming.FilledQuantity, incoming.AveragePrice))
			affordable := money.RoundQuantity(remainingBudget.Div(restPrice), pair.QuantityPrecision)
			if affordable.LessThan(fillQty) {
				fillQty = affordable
				if !fillQty.IsPositive() {
					break
				}
			}
		}

		buyUser, sellUser := incoming.UserID, restUser
		if incoming.Side == domain.Sell {
			buyUser, sellUser = restUser, incoming.UserID
		}

		if err := a.ledger.SettleTrade(buyUser, sellUser, pair.Base, pair.Quote, fillQty, restPrice); err != nil {
			return trades, err
		}

		if _, _, err := a.book.Fill(restID, fillQty); err != nil {
			return trades, err
		}

		var restSnapshot domain.Order
		a.mu.Lock()
		if restOrder := a.orders[restID]; restOrder != nil {
			restOrder.ApplyFill(fillQty, restPrice)
			restSnapshot = *restOrder
		}
		a.mu.Unlock()

		incoming.ApplyFill(fillQty, restPrice)

		var buyOrderID, sellOrderID uint64
		var buyOrder, sellOrder domain.Order
		if incoming.Side == domain.Buy {
			buyOrderID, sellOrderID = incoming.ID, restID
			buyOrder, sellOrder = *incoming, restSnapshot
		} else {
			buyOrderID, sellOrderID = restID, incoming.ID
			buyOrder, sellOrder = restSnapshot, *incoming
		}

		trade := domain.Trade{
			ID:            uint64(a.ids.Generate().Int64()),
			Symbol:        pair.Symbol,
			Price:         restPrice,
			Quantity:      fillQty,
			BuyOrderID:    buyOrderID,
			SellOrderID:   sellOrderID,
			BuyerID:       buyUser,
			SellerID:      sellUser,
			AggressorSide: incoming.Side,
			ExecutedAt:    time.Now(),
		}
		trades = append(trades, trade)
		a.bus.Publish(events.TradeExecuted{CorrelationID: corrID, Trade: trade, BuyOrder: buyOrder, SellOrder: sellOrder})
	}

	return trades, nil
}

// crosses reports whether an incoming limit order at price would match a
// resting order at restPrice.
func crosses(side domain.Side, price, restPrice decimal.Decimal) bool {
	if side == domain.Buy {
		return price.GreaterThanOrEqual(restPrice)
	}
	return price.LessThanOrEqual(restPrice)
}

// postMatch is §4.B step 4: rest a Limit residual, or unwind a Market
// residual.
func (a *symbolActor) postMatch(pair domain.TradingPair, order *domain.Order, req SubmitRequest, corrID uuid.UUID) {
	remaining := order.Remaining()
	if !remaining.IsPositive() {
		return
	}

	if order.Type == domain.Limit {
		if err := a.book.Insert(order); err != nil {
			log.Error().Str("symbol", a.symbol).Uint64("orderId", order.ID).Err(err).Msg("failed to rest residual order")
			return
		}
		a.bus.Publish(events.OrderPlaced{CorrelationID: corrID, Order: *order, Timestamp: time.Now()})
		return
	}

	// Market order residual: cancel the remainder and unfreeze what it
	// would have cost.
	a.unfreezeResidual(pair, order, req)
	if order.FilledQuantity.IsPositive() {
		order.Status = domain.PartiallyFilled
	} else {
		order.Status = domain.Cancelled
	}

	// A Market order never rests, so this is its only terminal transition —
	// without an event here a zero-fill Market order (no liquidity to match)
	// would leave no durable trace at all (§4.D).
	a.mu.RLock()
	orderSnapshot := *order
	a.mu.RUnlock()
	a.bus.Publish(events.OrderCancelled{
		CorrelationID: corrID,
		OrderID:       order.ID,
		Symbol:        order.Symbol,
		UserID:        order.UserID,
		Remaining:     order.Remaining(),
		Order:         orderSnapshot,
		Timestamp:     time.Now(),
	})
}

// unfreezeResidual returns whatever of the original freeze was never
// consumed by a settled fill back to available balance.
func (a *symbolActor) unfreezeResidual(pair domain.TradingPair, order *domain.Order, req SubmitRequest) {
	switch {
	case order.Side == domain.Buy && order.Type == domain.Limit:
		consumed := money.Notional(order.FilledQuantity, order.AveragePrice)
		frozen := money.Notional(order.Quantity, order.Price)
		residual := frozen.Sub(consumed)
		if residual.IsPositive() {
			_ = a.ledger.Unfreeze(order.UserID, pair.Quote, residual)
		}
	case order.Side == domain.Sell:
		residual := order.Remaining()
		if residual.IsPositive() {
			_ = a.ledger.Unfreeze(order.UserID, pair.Base, residual)
		}
	case order.Side == domain.Buy && order.Type == domain.Market:
		consumed := money.Notional(order.FilledQuantity, order.AveragePrice)
		residual := order.QuoteBudget.Sub(consumed)
		if residual.IsPositive() {
			_ = a.ledger.Unfreeze(order.UserID, pair.Quote, residual)
		}
	}
}
