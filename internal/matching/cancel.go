package matching

import (
	"time"

	"github.com/saiputravu/fenrir/internal/domain"
	"github.com/saiputravu/fenrir/internal/errs"
	"github.com/saiputravu/fenrir/internal/events"
)

// handleCancel is §4.B's cancel pipeline, including the terminal-order
// contract: an order that is already Filled/Cancelled/Rejected returns
// ORDER_TERMINAL rather than idempotent success, so callers get a precise
// reason instead of silently no-op'ing on a mistaken retry.
func (a *symbolActor) handleCancel(req CancelRequest) (CancelResult, error) {
	a.mu.RLock()
	order, ok := a.orders[req.OrderID]
	a.mu.RUnlock()
	if !ok {
		return CancelResult{}, errs.New(errs.OrderNotFound, "order not found")
	}
	if req.UserID != "" && order.UserID != req.UserID {
		return CancelResult{}, errs.New(errs.Unauthorized, "caller does not own this order")
	}
	if order.Status.IsTerminal() {
		return CancelResult{}, errs.New(errs.OrderTerminal, "order is already in a terminal state")
	}

	remaining, _, _ := a.book.Remove(order.ID)

	a.mu.Lock()
	order.Status = domain.Cancelled
	a.mu.Unlock()

	var unfrozen = remaining
	switch {
	case order.IsBuy() && order.Type == domain.Limit:
		unfrozen = remaining.Mul(order.Price)
		if unfrozen.IsPositive() {
			_ = a.ledger.Unfreeze(order.UserID, a.quote, unfrozen)
		}
	case order.IsSell():
		if unfrozen.IsPositive() {
			_ = a.ledger.Unfreeze(order.UserID, a.base, unfrozen)
		}
	case order.IsBuy() && order.Type == domain.Market:
		// Market orders never rest, so a cancel on one can only be the
		// TTL sweep racing a fill; nothing to unfreeze beyond postMatch's
		// own residual handling.
		unfrozen = remaining
	}

	a.mu.RLock()
	orderSnapshot := *order
	a.mu.RUnlock()

	a.bus.Publish(events.OrderCancelled{
		CorrelationID: events.NewCorrelationID(),
		OrderID:       order.ID,
		Symbol:        order.Symbol,
		UserID:        order.UserID,
		Remaining:     remaining,
		Order:         orderSnapshot,
		Timestamp:     time.Now(),
	})

	return CancelResult{OrderID: order.ID, UnfrozenQuantity: unfrozen}, nil
}

