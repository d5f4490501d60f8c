package book

import (
	"github.com/shopspring/decimal"

	"github.com/saiputravu/fenrir/internal/domain"
)

// orderRef is the resting-order record kept in a price level's FIFO. It
// carries just enough to match and to unwind the order later; the full
// domain.Order lives in the matching engine's order index.
type orderRef struct {
	orderID  uint64
	userID   string
	side     domain.Side
	remaining decimal.Decimal
	sequence uint64 // insertion sequence, the FIFO tie-breaker
}

// priceLevel is one aggregated price point on one side of the book: a price
// and an insertion-ordered FIFO of orderRefs resting at that price.
type priceLevel struct {
	price  decimal.Decimal
	orders []*orderRef
}

func (l *priceLevel) quantity() decimal.Decimal {
	total := decimal.Zero
	for _, o := range l.orders {
		total = total.Add(o.remaining)
	}
	return total
}

func (l *priceLevel) orderCount() int { return len(l.orders) }

// removeAt splices out the order at index i, preserving FIFO order of the rest.
func (l *priceLevel) removeAt(i int) {
	l.orders = append(l.orders[:i], l.orders[i+1:]...)
}

// Level is the externally visible, aggregated view of a price level (§3,
// §4.A snapshot/delta).
type Level struct {
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	OrderCount int
}
