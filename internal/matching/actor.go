package matching

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"github.com/saiputravu/fenrir/internal/book"
	"github.com/saiputravu/fenrir/internal/domain"
	"github.com/saiputravu/fenrir/internal/errs"
	"github.com/saiputravu/fenrir/internal/events"
	"github.com/saiputravu/fenrir/internal/ledger"
)

// submitJob and cancelJob are the units of work queued to a symbolActor's
// channels; respCh carries the result back to the caller's goroutine.
type submitJob struct {
	ctx    context.Context
	pair   domain.TradingPair
	req    SubmitRequest
	respCh chan submitOutcome
}

type submitOutcome struct {
	result SubmitResult
	err    error
}

type cancelJob struct {
	ctx    context.Context
	req    CancelRequest
	respCh chan cancelOutcome
}

type cancelOutcome struct {
	result CancelResult
	err    error
}

// symbolActor owns one symbol's book and serializes every submit/cancel/expiry
// operation for it on a single goroutine (§5: "per-symbol single-writer"),
// grounded on the teacher's tomb-supervised worker pool
// (internal/worker.go's WorkerPool.Setup), specialized to one dedicated
// goroutine per symbol rather than a shared pool, since ordering must be
// scoped per symbol, not globally.
type symbolActor struct {
	symbol string
	base   string
	quote  string
	cfg    Config
	ledger *ledger.Ledger
	bus    *events.Bus
	ids    *snowflake.Node

	book *book.Book

	submitCh chan submitJob
	cancelCh chan cancelJob

	t tomb.Tomb

	mu     sync.RWMutex
	orders map[uint64]*domain.Order
}

func newSymbolActor(pair domain.TradingPair, cfg Config, lg *ledger.Ledger, bus *events.Bus, ids *snowflake.Node) *symbolActor {
	symbol := pair.Symbol
	return &symbolActor{
		symbol:   symbol,
		base:     pair.Base,
		quote:    pair.Quote,
		cfg:      cfg,
		ledger:   lg,
		bus:      bus,
		ids:      ids,
		book:     book.New(symbol),
		submitCh: make(chan submitJob, cfg.MaxQueueDepth),
		cancelCh: make(chan cancelJob, cfg.MaxQueueDepth),
		orders:   make(map[uint64]*domain.Order),
	}
}

func (a *symbolActor) start() {
	a.t.Go(a.run)
}

func (a *symbolActor) stop() error {
	a.t.Kill(nil)
	return a.t.Wait()
}

// run is the single-writer loop: it is the only goroutine that ever touches
// a.book or issues ledger calls on behalf of this symbol.
func (a *symbolActor) run() error {
	sweep := time.NewTicker(a.cfg.ExpirySweep)
	defer sweep.Stop()

	log.Info().Str("symbol", a.symbol).Msg("symbol actor starting")
	for {
		select {
		case <-a.t.Dying():
			return nil
		case job := <-a.submitCh:
			result, err := a.handleSubmit(job.pair, job.req)
			job.respCh <- submitOutcome{result: result, err: err}
		case job := <-a.cancelCh:
			result, err := a.handleCancel(job.req)
			job.respCh <- cancelOutcome{result: result, err: err}
		case <-sweep.C:
			a.expireStale()
		}
	}
}

func (a *symbolActor) owns(orderID uint64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.orders[orderID]
	return ok
}

// submit enqueues a submission and blocks until the actor processes it,
// rejecting immediately with OVERLOADED if the queue is already full
// (§5: "if the per-symbol actor's queue depth exceeds a configured threshold
// at enqueue time, the request is rejected with OVERLOADED rather than queued").
func (a *symbolActor) submit(ctx context.Context, pair domain.TradingPair, req SubmitRequest) (SubmitResult, error) {
	respCh := make(chan submitOutcome, 1)
	select {
	case a.submitCh <- submitJob{ctx: ctx, pair: pair, req: req, respCh: respCh}:
	default:
		return SubmitResult{}, errs.New(errs.Overloaded, "symbol submission queue is full")
	}
	select {
	case out := <-respCh:
		return out.result, out.err
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	}
}

func (a *symbolActor) cancel(ctx context.Context, req CancelRequest) (CancelResult, error) {
	respCh := make(chan cancelOutcome, 1)
	select {
	case a.cancelCh <- cancelJob{ctx: ctx, req: req, respCh: respCh}:
	default:
		return CancelResult{}, errs.New(errs.Overloaded, "symbol cancellation queue is full")
	}
	select {
	case out := <-respCh:
		return out.result, out.err
	case <-ctx.Done():
		return CancelResult{}, ctx.Err()
	}
}

// expireStale cancels every resting order older than the configured TTL
// (§4.B: "a periodic task calls cancel for orders older than a configured
// TTL; the engine applies the same cancel pipeline").
func (a *symbolActor) expireStale() {
	cutoff := time.Now().Add(-a.cfg.TTL)

	a.mu.RLock()
	var stale []uint64
	for id, o := range a.orders {
		if o.Status.IsResting() && o.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	a.mu.RUnlock()

	for _, id := range stale {
		if _, err := a.handleCancel(CancelRequest{UserID: "", OrderID: id}); err != nil {
			log.Error().Str("symbol", a.symbol).Uint64("orderId", id).Err(err).Msg("ttl expiry cancel failed")
		}
	}
}
