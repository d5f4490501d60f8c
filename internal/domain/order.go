package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the other side, used when walking the resting book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Type is the order type: Limit rests on the book, Market sweeps it.
type Type int

const (
	Limit Type = iota
	Market
)

// Status is an order's lifecycle state (§3, §4.B state machine).
type Status int

const (
	Pending Status = iota
	Active
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Active:
		return "ACTIVE"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transitions are possible (§4.B).
func (s Status) IsTerminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

// IsResting reports whether an order with this status may legally sit in the
// book (invariant 1).
func (s Status) IsResting() bool {
	return s == Active || s == PartiallyFilled
}

// Order is the spec's order entity (§3). Amounts are fixed-point decimals.
type Order struct {
	ID             uint64
	ClientOrderID  string
	UserID         string
	Symbol         string
	Side           Side
	Type           Type
	Quantity       decimal.Decimal
	Price          decimal.Decimal // zero/unset for Market orders
	QuoteBudget    decimal.Decimal // Buy Market only: caller-supplied quote amount to spend
	FilledQuantity decimal.Decimal
	AveragePrice   decimal.Decimal
	Status         Status
	CreatedAt      time.Time
	Sequence       uint64 // insertion order within its symbol; FIFO tie-break
}

// Remaining returns quantity minus filled quantity (derived field, §3).
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// ApplyFill updates filled quantity, quantity-weighted average price, and
// status after a single match leg of size qty at price px.
func (o *Order) ApplyFill(qty, px decimal.Decimal) {
	prevFilled := o.FilledQuantity
	prevNotional := o.AveragePrice.Mul(prevFilled)
	newFilled := prevFilled.Add(qty)

	if newFilled.IsPositive() {
		o.AveragePrice = prevNotional.Add(qty.Mul(px)).Div(newFilled)
	}
	o.FilledQuantity = newFilled

	if o.Remaining().IsZero() {
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
}

// IsBuy/IsSell are small readability helpers used throughout the matching and
// ledger packages.
func (o *Order) IsBuy() bool  { return o.Side == Buy }
func (o *Order) IsSell() bool { return o.Side == Sell }
