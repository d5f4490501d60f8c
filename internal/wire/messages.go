// Package wire implements the engine's one external entrypoint (§1, §6): a
// from-scratch binary TCP protocol exposing exactly SubmitOrder, CancelOrder,
// and GetOrderBook. There is no HTTP/WebSocket surface, auth layer, or web
// frontend — those are explicitly out of scope.
//
// Grounded on the teacher's internal/net/messages.go, which already framed
// NewOrder/CancelOrder requests and ExecutionReport/ErrorReport responses as
// fixed-header-plus-variable-length-field binary messages. This generalizes
// that framing to the spec's richer order (type, quote budget, client order
// id) and adds a GetOrderBook request plus a BookSnapshotReport response the
// teacher never had.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/saiputravu/fenrir/internal/domain"
	"github.com/saiputravu/fenrir/internal/errs"
	"github.com/saiputravu/fenrir/internal/matching"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrImproperConversion = errors.New("improper type conversion")
)

// MessageType identifies a client-to-server request (§6's three operations).
type MessageType uint16

const (
	MsgSubmitOrder MessageType = iota
	MsgCancelOrder
	MsgGetOrderBook
)

// ReportType identifies a server-to-client response.
type ReportType uint8

const (
	ReportExecution ReportType = iota
	ReportError
	ReportBookSnapshot
)

const baseHeaderLen = 2 // MessageType

// readLenPrefixed reads a 1-byte length followed by that many bytes of string.
func readLenPrefixed(buf []byte) (string, []byte, error) {
	if len(buf) < 1 {
		return "", nil, ErrMessageTooShort
	}
	n := int(buf[0])
	buf = buf[1:]
	if len(buf) < n {
		return "", nil, ErrMessageTooShort
	}
	return string(buf[:n]), buf[n:], nil
}

func writeLenPrefixed(s string) []byte {
	out := make([]byte, 1+len(s))
	out[0] = byte(len(s))
	copy(out[1:], s)
	return out
}

// SubmitOrderRequest is the wire-decoded form of §6's SubmitOrder contract.
type SubmitOrderRequest struct {
	UserID        string
	Symbol        string
	ClientOrderID string
	Side          domain.Side
	Type          domain.Type
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	QuoteBudget   decimal.Decimal
}

func (r SubmitOrderRequest) toEngine() matching.SubmitRequest {
	return matching.SubmitRequest{
		UserID:        r.UserID,
		Symbol:        r.Symbol,
		Side:          r.Side,
		Type:          r.Type,
		Quantity:      r.Quantity,
		Price:         r.Price,
		QuoteBudget:   r.QuoteBudget,
		ClientOrderID: r.ClientOrderID,
	}
}

func encodeSubmitOrder(r SubmitOrderRequest) []byte {
	var body []byte
	body = append(body, byte(r.Side), byte(r.Type))
	body = append(body, writeLenPrefixed(r.Symbol)...)
	body = append(body, writeLenPrefixed(r.UserID)...)
	body = append(body, writeLenPrefixed(r.ClientOrderID)...)
	body = append(body, writeLenPrefixed(r.Quantity.String())...)
	body = append(body, writeLenPrefixed(r.Price.String())...)
	body = append(body, writeLenPrefixed(r.QuoteBudget.String())...)

	out := make([]byte, baseHeaderLen)
	binary.BigEndian.PutUint16(out, uint16(MsgSubmitOrder))
	return append(out, body...)
}

func decodeSubmitOrder(body []byte) (SubmitOrderRequest, error) {
	if len(body) < 2 {
		return SubmitOrderRequest{}, ErrMessageTooShort
	}
	side := domain.Side(body[0])
	typ := domain.Type(body[1])
	rest := body[2:]

	symbol, rest, err := readLenPrefixed(rest)
	if err != nil {
		return SubmitOrderRequest{}, err
	}
	userID, rest, err := readLenPrefixed(rest)
	if err != nil {
		return SubmitOrderRequest{}, err
	}
	clientOrderID, rest, err := readLenPrefixed(rest)
	if err != nil {
		return SubmitOrderRequest{}, err
	}
	qtyStr, rest, err := readLenPrefixed(rest)
	if err != nil {
		return SubmitOrderRequest{}, err
	}
	priceStr, rest, err := readLenPrefixed(rest)
	if err != nil {
		return SubmitOrderRequest{}, err
	}
	budgetStr, _, err := readLenPrefixed(rest)
	if err != nil {
		return SubmitOrderRequest{}, err
	}

	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return SubmitOrderRequest{}, fmt.Errorf("invalid quantity %q: %w", qtyStr, err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return SubmitOrderRequest{}, fmt.Errorf("%w: price %q", ErrImproperConversion, priceStr)
	}
	budget, err := decimal.NewFromString(budgetStr)
	if err != nil {
		return SubmitOrderRequest{}, fmt.Errorf("%w: quote budget %q", ErrImproperConversion, budgetStr)
	}

	return SubmitOrderRequest{
		UserID:        userID,
		Symbol:        symbol,
		ClientOrderID: clientOrderID,
		Side:          side,
		Type:          typ,
		Quantity:      qty,
		Price:         price,
		QuoteBudget:   budget,
	}, nil
}

// CancelOrderRequest is the wire-decoded form of §6's CancelOrder contract.
type CancelOrderRequest struct {
	UserID  string
	OrderID uint64
}

func encodeCancelOrder(r CancelOrderRequest) []byte {
	body := writeLenPrefixed(r.UserID)
	idBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(idBuf, r.OrderID)
	body = append(body, idBuf...)

	out := make([]byte, baseHeaderLen)
	binary.BigEndian.PutUint16(out, uint16(MsgCancelOrder))
	return append(out, body...)
}

func decodeCancelOrder(body []byte) (CancelOrderRequest, error) {
	userID, rest, err := readLenPrefixed(body)
	if err != nil {
		return CancelOrderRequest{}, err
	}
	if len(rest) < 8 {
		return CancelOrderRequest{}, ErrMessageTooShort
	}
	return CancelOrderRequest{
		UserID:  userID,
		OrderID: binary.BigEndian.Uint64(rest[:8]),
	}, nil
}

// GetOrderBookRequest is the wire-decoded form of §6's GetOrderBook contract.
type GetOrderBookRequest struct {
	Symbol string
	Depth  int
}

func encodeGetOrderBook(r GetOrderBookRequest) []byte {
	body := writeLenPrefixed(r.Symbol)
	depthBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(depthBuf, uint16(r.Depth))
	body = append(body, depthBuf...)

	out := make([]byte, baseHeaderLen)
	binary.BigEndian.PutUint16(out, uint16(MsgGetOrderBook))
	return append(out, body...)
}

func decodeGetOrderBook(body []byte) (GetOrderBookRequest, error) {
	symbol, rest, err := readLenPrefixed(body)
	if err != nil {
		return GetOrderBookRequest{}, err
	}
	if len(rest) < 2 {
		return GetOrderBookRequest{}, ErrMessageTooShort
	}
	return GetOrderBookRequest{
		Symbol: symbol,
		Depth:  int(binary.BigEndian.Uint16(rest[:2])),
	}, nil
}

// decodeMessage dispatches on the 2-byte header.
func decodeMessage(raw []byte) (MessageType, []byte, error) {
	if len(raw) < baseHeaderLen {
		return 0, nil, ErrMessageTooShort
	}
	return MessageType(binary.BigEndian.Uint16(raw[:baseHeaderLen])), raw[baseHeaderLen:], nil
}

// encodeExecutionReport serializes a successful submit/cancel result.
func encodeExecutionReport(orderID uint64, status domain.Status, trades []domain.Trade) []byte {
	body := make([]byte, 0, 16)
	idBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(idBuf, orderID)
	body = append(body, idBuf...)
	body = append(body, byte(status))

	countBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(countBuf, uint16(len(trades)))
	body = append(body, countBuf...)

	for _, tr := range trades {
		tradeIDBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(tradeIDBuf, tr.ID)
		body = append(body, tradeIDBuf...)
		body = append(body, writeLenPrefixed(tr.Price.String())...)
		body = append(body, writeLenPrefixed(tr.Quantity.String())...)

		buyBuf, sellBuf := make([]byte, 8), make([]byte, 8)
		binary.BigEndian.PutUint64(buyBuf, tr.BuyOrderID)
		binary.BigEndian.PutUint64(sellBuf, tr.SellOrderID)
		body = append(body, buyBuf...)
		body = append(body, sellBuf...)
		body = append(body, byte(tr.AggressorSide))

		tsBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(tsBuf, uint64(tr.ExecutedAt.UnixNano()))
		body = append(body, tsBuf...)
	}

	out := []byte{byte(ReportExecution)}
	return append(out, body...)
}

// encodeErrorReport serializes a tagged engine error.
func encodeErrorReport(err error) []byte {
	kind := errs.Kind("INTERNAL")
	var e *errs.Error
	if ee, ok := err.(*errs.Error); ok {
		e = ee
		kind = errs.AsExternal(e.Kind)
	}
	msg := err.Error()

	body := writeLenPrefixed(string(kind))
	body = append(body, writeLenPrefixed(msg)...)

	out := []byte{byte(ReportError)}
	return append(out, body...)
}

// encodeBookSnapshotReport serializes a book.Snapshot.
func encodeBookSnapshotReport(seq uint64, bids, asks []levelWire) []byte {
	body := make([]byte, 8)
	binary.BigEndian.PutUint64(body, seq)
	body = append(body, encodeLevels(bids)...)
	body = append(body, encodeLevels(asks)...)

	out := []byte{byte(ReportBookSnapshot)}
	return append(out, body...)
}

type levelWire struct {
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	OrderCount int
}

func encodeLevels(levels []levelWire) []byte {
	countBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(countBuf, uint16(len(levels)))
	out := countBuf
	for _, lvl := range levels {
		out = append(out, writeLenPrefixed(lvl.Price.String())...)
		out = append(out, writeLenPrefixed(lvl.Quantity.String())...)
		countWire := make([]byte, 2)
		binary.BigEndian.PutUint16(countWire, uint16(lvl.OrderCount))
		out = append(out, countWire...)
	}
	return out
}
