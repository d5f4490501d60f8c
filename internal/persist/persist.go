// Package persist implements the write-behind persister (§4.D): an
// in-process JournalSink and a trade-event subscriber enqueue onto two
// reliable cache-tier queues, and a pair of tomb-supervised consumers drain
// them in batches into the durable store, idempotently.
//
// Grounded on the teacher's internal/worker.go tomb-supervised worker pool,
// generalized from "N workers sharing one task channel" into "one consumer
// goroutine per queue, looping its own drain/write/ack cycle on a ticker" —
// and on the other_examples "max.com" pkg/spot/processor.go event-subscriber
// pattern (handleTrade/handleCancel hung off the matching engine's event
// callback) for how a settlement side-effect turns into a durable write.
package persist

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/saiputravu/fenrir/internal/domain"
	"github.com/saiputravu/fenrir/internal/events"
	"github.com/saiputravu/fenrir/internal/ledger"
	"github.com/saiputravu/fenrir/internal/persist/models"
)

// Config holds the persister's tunables (§6: persistence.*).
type Config struct {
	BatchSize    int
	PollInterval time.Duration
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 500, PollInterval: 100 * time.Millisecond}
}

// Persister owns the two sync queues and their consumer goroutines.
type Persister struct {
	cfg    Config
	db     *gorm.DB
	trades Queue
	assets Queue
	t      tomb.Tomb
}

// New constructs a Persister backed by db and the two Redis-backed queues.
func New(cfg Config, db *gorm.DB, trades, assets Queue) *Persister {
	return &Persister{cfg: cfg, db: db, trades: trades, assets: assets}
}

// JournalSink adapts the persister's assets queue to ledger.JournalSink, so
// every ledger mutation is enqueued for durable write-behind the moment it
// commits in memory.
func (p *Persister) JournalSink() ledger.JournalSink { return journalSink{p.assets} }

type journalSink struct{ q Queue }

func (s journalSink) EnqueueAssetDelta(entry ledger.JournalEntry) error {
	payload, err := json.Marshal(assetPayload{
		UserID:    entry.UserID,
		Currency:  entry.Currency,
		Available: entry.Available.String(),
		Frozen:    entry.Frozen.String(),
		Version:   entry.Version,
		At:        entry.At,
	})
	if err != nil {
		return err
	}
	return s.q.Push(context.Background(), payload)
}

type assetPayload struct {
	UserID    string
	Currency  string
	Available string
	Frozen    string
	Version   uint64
	At        time.Time
}

type tradePayload struct {
	ID            uint64
	Symbol        string
	Price         string
	Quantity      string
	BuyOrderID    uint64
	SellOrderID   uint64
	BuyerID       string
	SellerID      string
	AggressorSide int16
	ExecutedAt    time.Time
}

// orderPayload is the durable snapshot of one order's state, carried
// alongside trades on sync_queue:trades per §4.D's "before/after order
// snapshots" requirement, and on its own for resting/cancel transitions that
// don't produce a fill.
type orderPayload struct {
	ID             uint64
	ClientOrderID  string
	UserID         string
	Symbol         string
	Side           int16
	Type           int16
	Quantity       string
	Price          string
	QuoteBudget    string
	FilledQuantity string
	AveragePrice   string
	Status         int16
	CreatedAt      time.Time
	Sequence       uint64
}

// envelopeKind discriminates what a sync_queue:trades payload holds, since
// order-state snapshots ride on the same queue as trades (§4.D).
type envelopeKind string

const (
	envelopeTrade envelopeKind = "trade"
	envelopeOrder envelopeKind = "order"
)

type envelope struct {
	Kind envelopeKind
	Data json.RawMessage
}

// SubscribeTrades wires the persister to the matching engine's event bus:
// every TradeExecuted event enqueues the trade plus both sides' post-fill
// order snapshots onto sync_queue:trades, and every OrderPlaced/
// OrderCancelled enqueues that order's snapshot alone (§4.D). It subscribes
// reliably — the persister is the one subscriber that may never miss an
// event, since a dropped one would mean a trade or order snapshot never
// reaches the durable store at all.
func (p *Persister) SubscribeTrades(bus *events.Bus) {
	ch := bus.SubscribeReliable()
	p.t.Go(func() error {
		for {
			select {
			case <-p.t.Dying():
				return nil
			case evt, ok := <-ch:
				if !ok {
					return nil
				}
				p.handleEvent(evt)
			}
		}
	})
}

func (p *Persister) handleEvent(evt any) {
	switch e := evt.(type) {
	case events.TradeExecuted:
		p.enqueueTrade(e.Trade)
		p.enqueueOrder(e.BuyOrder)
		p.enqueueOrder(e.SellOrder)
	case events.OrderPlaced:
		p.enqueueOrder(e.Order)
	case events.OrderCancelled:
		p.enqueueOrder(e.Order)
	}
}

func (p *Persister) enqueueEnvelope(kind envelopeKind, data []byte) {
	payload, err := json.Marshal(envelope{Kind: kind, Data: data})
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("failed to marshal persistence envelope")
		return
	}
	if err := p.trades.Push(context.Background(), payload); err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("failed to enqueue persistence envelope")
	}
}

func (p *Persister) enqueueTrade(tr domain.Trade) {
	data, err := json.Marshal(tradePayload{
		ID:            tr.ID,
		Symbol:        tr.Symbol,
		Price:         tr.Price.String(),
		Quantity:      tr.Quantity.String(),
		BuyOrderID:    tr.BuyOrderID,
		SellOrderID:   tr.SellOrderID,
		BuyerID:       tr.BuyerID,
		SellerID:      tr.SellerID,
		AggressorSide: int16(tr.AggressorSide),
		ExecutedAt:    tr.ExecutedAt,
	})
	if err != nil {
		log.Error().Err(err).Uint64("tradeId", tr.ID).Msg("failed to marshal trade for persistence")
		return
	}
	p.enqueueEnvelope(envelopeTrade, data)
}

// enqueueOrder enqueues an order-state snapshot. A zero-value order (no ID)
// means the caller had nothing to snapshot — e.g. a resting order's
// counterpart record wasn't found in the actor's index — so it's skipped.
func (p *Persister) enqueueOrder(o domain.Order) {
	if o.ID == 0 {
		return
	}
	data, err := json.Marshal(orderPayload{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		UserID:         o.UserID,
		Symbol:         o.Symbol,
		Side:           int16(o.Side),
		Type:           int16(o.Type),
		Quantity:       o.Quantity.String(),
		Price:          o.Price.String(),
		QuoteBudget:    o.QuoteBudget.String(),
		FilledQuantity: o.FilledQuantity.String(),
		AveragePrice:   o.AveragePrice.String(),
		Status:         int16(o.Status),
		CreatedAt:      o.CreatedAt,
		Sequence:       o.Sequence,
	})
	if err != nil {
		log.Error().Err(err).Uint64("orderId", o.ID).Msg("failed to marshal order for persistence")
		return
	}
	p.enqueueEnvelope(envelopeOrder, data)
}

// Start launches the two drain consumers and requeues anything left over in
// a processing list from a prior crash (§4.D: "failures retain the items for
// the next cycle").
func (p *Persister) Start(ctx context.Context) error {
	if err := p.trades.Requeue(ctx); err != nil {
		return err
	}
	if err := p.assets.Requeue(ctx); err != nil {
		return err
	}

	p.t.Go(func() error { return p.drainLoop(p.t.Context(ctx), p.trades, p.writeTradeBatch) })
	p.t.Go(func() error { return p.drainLoop(p.t.Context(ctx), p.assets, p.writeAssetBatch) })
	return nil
}

// Stop signals every consumer to exit and waits for them to drain cleanly.
func (p *Persister) Stop() error {
	p.t.Kill(nil)
	return p.t.Wait()
}

func (p *Persister) drainLoop(ctx context.Context, q Queue, write func([][]byte) error) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.t.Dying():
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			batch, err := q.DrainBatch(ctx, p.cfg.BatchSize)
			if err != nil {
				log.Error().Err(err).Msg("failed to drain persistence queue")
				continue
			}
			if len(batch) == 0 {
				continue
			}
			if err := write(batch); err != nil {
				// Move the un-acked batch from the processing list back onto
				// the queue so the next cycle drains it again (§4.D: "retried
				// until success").
				log.Error().Err(err).Int("batchSize", len(batch)).Msg("failed to persist batch, will retry")
				if err := q.Requeue(ctx); err != nil {
					log.Error().Err(err).Msg("failed to requeue unpersisted batch")
				}
				continue
			}
			for _, payload := range batch {
				if err := q.Ack(ctx, payload); err != nil {
					log.Error().Err(err).Msg("failed to ack persisted item")
				}
			}
		}
	}
}

// writeTradeBatch splits a drained sync_queue:trades batch by envelope kind
// and writes trades and order-state snapshots as two separate upserts within
// the same cycle (§4.D: order-state updates ride on the trade queue).
func (p *Persister) writeTradeBatch(batch [][]byte) error {
	trades := make([]models.Trade, 0, len(batch))
	orders := make([]models.Order, 0, len(batch))

	for _, raw := range batch {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Error().Err(err).Msg("skipping malformed persistence envelope")
			continue
		}
		switch env.Kind {
		case envelopeTrade:
			var tp tradePayload
			if err := json.Unmarshal(env.Data, &tp); err != nil {
				log.Error().Err(err).Msg("skipping malformed trade payload")
				continue
			}
			trades = append(trades, models.Trade{
				ID:            tp.ID,
				Symbol:        tp.Symbol,
				Price:         tp.Price,
				Quantity:      tp.Quantity,
				BuyOrderID:    tp.BuyOrderID,
				SellOrderID:   tp.SellOrderID,
				BuyerID:       tp.BuyerID,
				SellerID:      tp.SellerID,
				AggressorSide: tp.AggressorSide,
				ExecutedAt:    tp.ExecutedAt,
			})
		case envelopeOrder:
			var op orderPayload
			if err := json.Unmarshal(env.Data, &op); err != nil {
				log.Error().Err(err).Msg("skipping malformed order payload")
				continue
			}
			orders = append(orders, models.Order{
				ID:             op.ID,
				ClientOrderID:  op.ClientOrderID,
				UserID:         op.UserID,
				Symbol:         op.Symbol,
				Side:           op.Side,
				Type:           op.Type,
				Quantity:       op.Quantity,
				Price:          op.Price,
				QuoteBudget:    op.QuoteBudget,
				FilledQuantity: op.FilledQuantity,
				AveragePrice:   op.AveragePrice,
				Status:         op.Status,
				CreatedAt:      op.CreatedAt,
				Sequence:       op.Sequence,
			})
		default:
			log.Error().Str("kind", string(env.Kind)).Msg("skipping unknown persistence envelope kind")
		}
	}

	// Idempotent by tradeId (§4.D): a trade already written is a no-op, not
	// an error, since the queue guarantees at-least-once delivery.
	if len(trades) > 0 {
		if err := p.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&trades).Error; err != nil {
			return err
		}
	}

	// Idempotent by orderId: a redelivered snapshot always overwrites, since
	// an order's full state (not a version counter) is the source of truth
	// here and the latest snapshot in a batch is always the newest one.
	// Postgres rejects an upsert that touches the same row twice in one
	// statement, so only the last snapshot per order id is kept.
	latest := make(map[uint64]int, len(orders))
	deduped := orders[:0]
	for _, o := range orders {
		if i, seen := latest[o.ID]; seen {
			deduped[i] = o
			continue
		}
		latest[o.ID] = len(deduped)
		deduped = append(deduped, o)
	}
	orders = deduped
	if len(orders) > 0 {
		if err := p.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"client_order_id", "user_id", "symbol", "side", "type", "quantity", "price", "quote_budget", "filled_quantity", "average_price", "status", "sequence"}),
		}).Create(&orders).Error; err != nil {
			return err
		}
	}

	return nil
}

func (p *Persister) writeAssetBatch(batch [][]byte) error {
	rows := make([]models.Asset, 0, len(batch))
	for _, raw := range batch {
		var ap assetPayload
		if err := json.Unmarshal(raw, &ap); err != nil {
			log.Error().Err(err).Msg("skipping malformed asset payload")
			continue
		}
		rows = append(rows, models.Asset{
			UserID:    ap.UserID,
			Currency:  ap.Currency,
			Available: ap.Available,
			Frozen:    ap.Frozen,
			Version:   ap.Version,
			UpdatedAt: ap.At,
		})
	}
	// Postgres rejects an upsert that touches the same row twice in one
	// statement, so only the newest version of each row is kept.
	newest := make(map[string]int, len(rows))
	deduped := rows[:0]
	for _, r := range rows {
		key := r.UserID + ":" + r.Currency
		if i, seen := newest[key]; seen {
			if r.Version > deduped[i].Version {
				deduped[i] = r
			}
			continue
		}
		newest[key] = len(deduped)
		deduped = append(deduped, r)
	}
	rows = deduped
	if len(rows) == 0 {
		return nil
	}
	// Idempotent by (userId,currency,version) (§4.D): only advance a row if
	// the incoming version is newer, so a redelivered older entry is a no-op.
	return p.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "currency"}},
		DoUpdates: clause.AssignmentColumns([]string{"available", "frozen", "version", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Lt{Column: "assets.version", Value: clause.Column{Table: "excluded", Name: "version"}},
		}},
	}).Create(&rows).Error
}
