package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"github.com/saiputravu/fenrir/internal/matching"
)

const (
	maxRecvSize        = 4 * 1024
	defaultNWorkers     = 10
	defaultConnTimeout  = 5 * time.Second
)

// Server is the TCP front end over matching.Engine: it never touches a book
// or ledger directly, only the Engine interface (§6), keeping the wire
// protocol as the one remaining external surface per the spec's scope.
//
// Grounded on the teacher's internal/net/server.go connection-pool-plus-
// session-map shape, generalized from a single shared Engine spanning every
// AssetType to one routed by symbol through matching.Engine.
type Server struct {
	address string
	port    int
	engine  matching.Engine

	cancel context.CancelFunc

	sessions     map[string]net.Conn
	sessionsLock sync.Mutex

	tasks chan net.Conn
}

// New constructs a Server bound to address:port, serving requests against engine.
func New(address string, port int, engine matching.Engine) *Server {
	return &Server{
		address:  address,
		port:     port,
		engine:   engine,
		sessions: make(map[string]net.Conn),
		tasks:    make(chan net.Conn, defaultNWorkers),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("wire server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Run accepts connections until ctx is cancelled, dispatching each read onto
// a small pool of worker goroutines supervised by a tomb (teacher's
// WorkerPool pattern, internal/worker.go).
func (s *Server) Run(ctx context.Context) error {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		return fmt.Errorf("unable to start listener: %w", err)
	}
	defer listener.Close()

	// Close the listener on cancellation so a blocked Accept returns.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for i := 0; i < defaultNWorkers; i++ {
		t.Go(func() error {
			return s.worker(t)
		})
	}

	log.Info().Str("address", listener.Addr().String()).Msg("wire server listening")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
				}
				log.Error().Err(err).Msg("error accepting connection")
				continue
			}
			s.addSession(conn)
			select {
			case s.tasks <- conn:
			case <-ctx.Done():
				conn.Close()
				return nil
			}
		}
	}
}

// worker drains s.tasks, handling one connection's next message at a time
// and re-queuing it for its next message, mirroring the teacher's
// handleConnection re-queue loop.
func (s *Server) worker(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case conn := <-s.tasks:
			if s.handleConnection(conn) {
				select {
				case s.tasks <- conn:
				case <-t.Dying():
					return nil
				}
			}
		}
	}
}

// handleConnection reads and handles exactly one message; it returns true if
// the connection should be re-queued for further reads, false if it died.
func (s *Server) handleConnection(conn net.Conn) bool {
	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		s.closeSession(conn)
		return false
	}

	buf := make([]byte, maxRecvSize)
	n, err := conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true // no data this cycle, try again later
		}
		s.closeSession(conn)
		return false
	}

	if err := s.dispatch(conn, buf[:n]); err != nil {
		log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("error handling message")
		conn.Write(encodeErrorReport(err))
	}
	return true
}

func (s *Server) dispatch(conn net.Conn, raw []byte) error {
	msgType, body, err := decodeMessage(raw)
	if err != nil {
		return err
	}

	ctx := context.Background()
	switch msgType {
	case MsgSubmitOrder:
		req, err := decodeSubmitOrder(body)
		if err != nil {
			return err
		}
		result, err := s.engine.Submit(ctx, req.toEngine())
		if err != nil {
			return err
		}
		_, err = conn.Write(encodeExecutionReport(result.OrderID, result.Status, result.Trades))
		return err

	case MsgCancelOrder:
		req, err := decodeCancelOrder(body)
		if err != nil {
			return err
		}
		_, err = s.engine.Cancel(ctx, matching.CancelRequest{UserID: req.UserID, OrderID: req.OrderID})
		if err != nil {
			return err
		}
		_, err = conn.Write(encodeExecutionReport(req.OrderID, 0, nil))
		return err

	case MsgGetOrderBook:
		req, err := decodeGetOrderBook(body)
		if err != nil {
			return err
		}
		snap, err := s.engine.Snapshot(req.Symbol, req.Depth)
		if err != nil {
			return err
		}
		bids := make([]levelWire, len(snap.Bids))
		for i, l := range snap.Bids {
			bids[i] = levelWire{Price: l.Price, Quantity: l.Quantity, OrderCount: l.OrderCount}
		}
		asks := make([]levelWire, len(snap.Asks))
		for i, l := range snap.Asks {
			asks[i] = levelWire{Price: l.Price, Quantity: l.Quantity, OrderCount: l.OrderCount}
		}
		_, err = conn.Write(encodeBookSnapshotReport(snap.SequenceID, bids, asks))
		return err

	default:
		return ErrInvalidMessageType
	}
}

func (s *Server) addSession(conn net.Conn) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	s.sessions[conn.RemoteAddr().String()] = conn
}

func (s *Server) closeSession(conn net.Conn) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	delete(s.sessions, conn.RemoteAddr().String())
	conn.Close()
}
