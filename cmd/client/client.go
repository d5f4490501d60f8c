package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/saiputravu/fenrir/internal/domain"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "address of the exchange server")
	owner := flag.String("owner", "", "owning user id (compulsory)")
	action := flag.String("action", "place", "action to perform: ['place', 'cancel', 'book']")

	symbol := flag.String("symbol", "BTCUSDT", "trading pair symbol")
	sideStr := flag.String("side", "buy", "order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "order type: 'limit' or 'market'")
	price := flag.String("price", "0", "limit price")
	qty := flag.String("qty", "0", "order quantity")
	quoteBudget := flag.String("budget", "0", "buy-market quote budget")
	clientOrderID := flag.String("clientOrderId", "", "optional client-supplied order id")

	orderID := flag.Uint64("orderId", 0, "order id to cancel")
	depth := flag.Int("depth", 10, "book depth for the 'book' action")

	flag.Parse()

	if *owner == "" && *action != "book" {
		fmt.Println("Error: -owner is required.")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s\n", *serverAddr)

	switch strings.ToLower(*action) {
	case "place":
		side := domain.Buy
		if strings.ToLower(*sideStr) == "sell" {
			side = domain.Sell
		}
		typ := domain.Limit
		if strings.ToLower(*typeStr) == "market" {
			typ = domain.Market
		}

		req := encodeSubmit(*owner, *symbol, *clientOrderID, side, typ, mustDecimal(*qty), mustDecimal(*price), mustDecimal(*quoteBudget))
		if _, err := conn.Write(req); err != nil {
			log.Fatalf("failed to send order: %v", err)
		}
		fmt.Printf("-> Sent %s %s order: qty=%s price=%s\n", strings.ToUpper(*sideStr), *symbol, *qty, *price)

	case "cancel":
		if *orderID == 0 {
			log.Fatal("Error: -orderId is required for cancellation")
		}
		req := encodeCancel(*owner, *orderID)
		if _, err := conn.Write(req); err != nil {
			log.Fatalf("failed to send cancel: %v", err)
		}
		fmt.Printf("-> Sent cancel for order %d\n", *orderID)

	case "book":
		req := encodeGetOrderBook(*symbol, *depth)
		if _, err := conn.Write(req); err != nil {
			log.Fatalf("failed to send book request: %v", err)
		}
		fmt.Printf("-> Requested order book for %s\n", *symbol)

	default:
		log.Fatalf("unknown action: %s", *action)
	}

	readReports(conn)
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// readReports performs one read and prints what the server sent back in it,
// waiting at most three seconds for a response.
func readReports(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	r := bufio.NewReader(conn)
	buf := make([]byte, 4096)
	n, err := r.Read(buf)
	if err != nil {
		fmt.Println("(no response, or connection idle)")
		return
	}
	fmt.Printf("<- %d bytes from server: %x\n", n, buf[:n])
}

func writeLenPrefixed(s string) []byte {
	out := make([]byte, 1+len(s))
	out[0] = byte(len(s))
	copy(out[1:], s)
	return out
}

func putUint16(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

func putUint64(v uint64) []byte {
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

// encodeSubmit mirrors internal/wire's MsgSubmitOrder framing: callers that
// aren't part of this module (like this standalone CLI) build the wire bytes
// directly rather than importing internal/wire, the way a real external
// client would.
func encodeSubmit(userID, symbol, clientOrderID string, side domain.Side, typ domain.Type, qty, price, budget decimal.Decimal) []byte {
	const msgSubmitOrder = 0

	var body []byte
	body = append(body, byte(side), byte(typ))
	body = append(body, writeLenPrefixed(symbol)...)
	body = append(body, writeLenPrefixed(userID)...)
	body = append(body, writeLenPrefixed(clientOrderID)...)
	body = append(body, writeLenPrefixed(qty.String())...)
	body = append(body, writeLenPrefixed(price.String())...)
	body = append(body, writeLenPrefixed(budget.String())...)

	out := putUint16(msgSubmitOrder)
	return append(out, body...)
}

func encodeCancel(userID string, orderID uint64) []byte {
	const msgCancelOrder = 1

	body := writeLenPrefixed(userID)
	body = append(body, putUint64(orderID)...)

	out := putUint16(msgCancelOrder)
	return append(out, body...)
}

func encodeGetOrderBook(symbol string, depth int) []byte {
	const msgGetOrderBook = 2

	body := writeLenPrefixed(symbol)
	body = append(body, byte(depth>>8), byte(depth))

	out := putUint16(msgGetOrderBook)
	return append(out, body...)
}
