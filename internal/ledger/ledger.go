// Package ledger implements the per-(user,symbol) asset ledger (§4.C): a
// freeze/unfreeze/consumeFrozen/credit/debit primitive set plus the composite
// settleTrade that performs all four legs of one trade as a single atomic
// operation, rolling back entirely if any leg would violate non-negativity.
//
// Grounded on the other_examples "max.com" spot processor narrative (an
// account/asset engine reserving funds before an order reaches the matching
// core, then applying fills atomically) and on the teacher's mutex-guarded
// map style (internal/server.go's clientSessionsLock): one ledger-wide mutex
// guards every row, so a multi-row settleTrade is one critical section.
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"

	"github.com/saiputravu/fenrir/internal/domain"
	"github.com/saiputravu/fenrir/internal/errs"
	"github.com/saiputravu/fenrir/internal/money"
)

// journalBuffer bounds how many committed-but-not-yet-enqueued journal
// entries the background publisher may hold. Sized generously above the
// persister's own BatchSize so a burst of settlements never has to block
// Apply waiting for the publisher to catch up.
const journalBuffer = 16384

// OpKind is one leg of an asset mutation.
type OpKind int

const (
	OpFreeze OpKind = iota
	OpUnfreeze
	OpConsumeFrozen
	OpCredit
	OpDebitAvailable
)

// Op is a single-row mutation; Apply executes a slice of Ops across
// potentially several rows as one indivisible unit.
type Op struct {
	UserID   string
	Currency string
	Kind     OpKind
	Amount   decimal.Decimal
}

func rowKey(userID, currency string) string { return userID + ":" + currency }

// JournalEntry is one versioned, post-mutation row state, the unit the
// write-behind persister drains from the ledger (§4.C, §4.D).
type JournalEntry struct {
	UserID    string
	Currency  string
	Available decimal.Decimal
	Frozen    decimal.Decimal
	Version   uint64
	At        time.Time
}

// JournalSink receives journal entries as they're produced. The production
// wiring backs this with the cache tier's sync_queue:assets list; tests can
// use a simple in-memory slice sink.
type JournalSink interface {
	EnqueueAssetDelta(entry JournalEntry) error
}

// NoopSink discards journal entries; useful for tests that don't care about
// the write-behind path.
type NoopSink struct{}

func (NoopSink) EnqueueAssetDelta(JournalEntry) error { return nil }

// Ledger is the cache-resident, authoritative asset store. It is safe for
// concurrent use from multiple per-symbol matching actors, since a single
// user can trade several symbols sharing the same base/quote currencies
// concurrently. A single Ledger is shared across every symbol actor (§5), so
// Apply's critical section must stay cheap, in-memory, and uncontested by
// anything that can suspend — the sink's network round trip runs on its own
// supervised goroutine instead, off the matching hot path.
type Ledger struct {
	mu      sync.Mutex // protects the rows map and every row in it
	rows    map[string]*domain.Asset
	sink    JournalSink
	journal chan JournalEntry
	t       tomb.Tomb
}

// New constructs an empty ledger and starts its background journal
// publisher. sink may be nil, in which case journal entries are discarded
// (NoopSink).
func New(sink JournalSink) *Ledger {
	if sink == nil {
		sink = NoopSink{}
	}
	l := &Ledger{
		rows:    make(map[string]*domain.Asset),
		sink:    sink,
		journal: make(chan JournalEntry, journalBuffer),
	}
	l.t.Go(l.publishLoop)
	return l
}

// Close stops the background journal publisher once every already-queued
// entry has been handed to the sink, so a graceful shutdown doesn't drop the
// tail of a shift's journal (§4.D: "at-least-once delivery").
func (l *Ledger) Close() error {
	l.t.Kill(nil)
	return l.t.Wait()
}

// publishLoop drains l.journal and hands each entry to the sink, retrying
// with backoff on failure instead of discarding it (§4.D: "Persister errors
// are transient and retried until success"). It runs on its own goroutine so
// a slow or failing sink (a real Redis RPUSH) never holds up Apply.
func (l *Ledger) publishLoop() error {
	for {
		select {
		case <-l.t.Dying():
			// Flush whatever is already buffered before exiting so a clean
			// shutdown doesn't lose entries sitting in the channel.
			for {
				select {
				case entry := <-l.journal:
					l.publishEntry(entry)
				default:
					return nil
				}
			}
		case entry := <-l.journal:
			l.publishEntry(entry)
		}
	}
}

func (l *Ledger) publishEntry(entry JournalEntry) {
	backoff := 10 * time.Millisecond
	const maxBackoff = 2 * time.Second
	for {
		if err := l.sink.EnqueueAssetDelta(entry); err != nil {
			log.Error().Err(err).Str("userId", entry.UserID).Str("currency", entry.Currency).
				Uint64("version", entry.Version).Msg("failed to enqueue asset journal entry, retrying")
			select {
			case <-l.t.Dying():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		return
	}
}

// InitializeUserAssets creates asset rows idempotently at registration time
// (§4.C). Existing rows are left untouched.
func (l *Ledger) InitializeUserAssets(userID string, balances map[string]decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for currency, amount := range balances {
		key := rowKey(userID, currency)
		if _, exists := l.rows[key]; exists {
			continue
		}
		l.rows[key] = &domain.Asset{
			UserID:    userID,
			Currency:  currency,
			Available: money.Normalize(amount),
			Frozen:    money.Zero,
		}
	}
}

// Balance returns a copy of a user's asset row, creating a zeroed one
// lazily if absent (§3: "Asset rows are created lazily on first credit").
func (l *Ledger) Balance(userID, currency string) domain.Asset {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.rowLocked(userID, currency)
}

// rowLocked must be called with l.mu held; it lazily creates a row.
func (l *Ledger) rowLocked(userID, currency string) *domain.Asset {
	key := rowKey(userID, currency)
	row, ok := l.rows[key]
	if !ok {
		row = &domain.Asset{UserID: userID, Currency: currency}
		l.rows[key] = row
	}
	return row
}

// Freeze moves amount from available to frozen (§4.C, Glossary: Freeze).
func (l *Ledger) Freeze(userID, currency string, amount decimal.Decimal) error {
	return l.Apply([]Op{{UserID: userID, Currency: currency, Kind: OpFreeze, Amount: amount}})
}

// Unfreeze moves amount from frozen back to available.
func (l *Ledger) Unfreeze(userID, currency string, amount decimal.Decimal) error {
	return l.Apply([]Op{{UserID: userID, Currency: currency, Kind: OpUnfreeze, Amount: amount}})
}

// ConsumeFrozen removes amount from frozen entirely (spent, not returned).
func (l *Ledger) ConsumeFrozen(userID, currency string, amount decimal.Decimal) error {
	return l.Apply([]Op{{UserID: userID, Currency: currency, Kind: OpConsumeFrozen, Amount: amount}})
}

// Credit adds amount to available.
func (l *Ledger) Credit(userID, currency string, amount decimal.Decimal) error {
	return l.Apply([]Op{{UserID: userID, Currency: currency, Kind: OpCredit, Amount: amount}})
}

// Debit removes amount from available.
func (l *Ledger) Debit(userID, currency string, amount decimal.Decimal) error {
	return l.Apply([]Op{{UserID: userID, Currency: currency, Kind: OpDebitAvailable, Amount: amount}})
}

// SettleTrade performs all four legs of one trade atomically (§4.C):
//  1. buyer consumeFrozen(quote, qty*price)
//  2. buyer credit(base, qty)
//  3. seller consumeFrozen(base, qty)
//  4. seller credit(quote, qty*price)
//
// If any leg would violate available >= 0 || frozen >= 0 the whole
// composite is rolled back and errs.LedgerInconsistent is returned.
func (l *Ledger) SettleTrade(buyerID, sellerID, base, quote string, qty, price decimal.Decimal) error {
	notional := money.Notional(qty, price)
	ops := []Op{
		{UserID: buyerID, Currency: quote, Kind: OpConsumeFrozen, Amount: notional},
		{UserID: buyerID, Currency: base, Kind: OpCredit, Amount: qty},
		{UserID: sellerID, Currency: base, Kind: OpConsumeFrozen, Amount: qty},
		{UserID: sellerID, Currency: quote, Kind: OpCredit, Amount: notional},
	}
	return l.Apply(ops)
}

// Apply executes ops as a single indivisible unit: under the ledger-wide
// mutex it collects every distinct row touched (in sorted key order),
// validates every leg against the non-negativity invariant, and either
// commits all of them or none.
//
// This stands in for the spec's "small Lua-style atomic script that does all
// four legs of settleTrade in one round trip" (§5) — a single critical
// section plays the same role an atomic cache-tier script would.
func (l *Ledger) Apply(ops []Op) error {
	if len(ops) == 0 {
		return nil
	}

	l.mu.Lock()

	// Determine the distinct rows touched; l.mu already serializes every
	// Apply, so the rows need no locks of their own.
	keys := make([]string, 0, len(ops))
	seen := make(map[string]bool)
	rows := make(map[string]*domain.Asset)
	for _, op := range ops {
		key := rowKey(op.UserID, op.Currency)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
			rows[key] = l.rowLocked(op.UserID, op.Currency)
		}
	}
	sort.Strings(keys)

	// Work on copies; only write back to l.rows if every leg validates.
	working := make(map[string]domain.Asset, len(keys))
	for _, k := range keys {
		working[k] = *rows[k]
	}

	for _, op := range ops {
		key := rowKey(op.UserID, op.Currency)
		row := working[key]
		if err := applyOp(&row, op); err != nil {
			// Propagate applyOp's own Kind (INSUFFICIENT_BALANCE for a plain
			// freeze/debit shortfall) rather than masking it as an internal
			// ledger inconsistency; only a genuine non-negativity violation
			// during a multi-leg settlement is itself tagged LedgerInconsistent.
			l.mu.Unlock()
			return err
		}
		working[key] = row
	}

	// Commit: write back each touched row and snapshot its journal entry.
	// The sink push happens after l.mu is released below — §5 requires the
	// matching hot path to never suspend, and this mutex is shared across
	// every symbol actor, so nothing that can block on I/O may run under it.
	now := time.Now()
	entries := make([]JournalEntry, 0, len(keys))
	for _, k := range keys {
		row := working[k]
		row.Version++
		*rows[k] = row
		entries = append(entries, JournalEntry{
			UserID:    row.UserID,
			Currency:  row.Currency,
			Available: row.Available,
			Frozen:    row.Frozen,
			Version:   row.Version,
			At:        now,
		})
	}
	l.mu.Unlock()

	for _, entry := range entries {
		l.journal <- entry
	}
	return nil
}

func applyOp(row *domain.Asset, op Op) error {
	amount := money.Normalize(op.Amount)
	if !money.IsPositive(amount) {
		return errs.New(errs.Validation, "ledger operation amount must be positive")
	}

	switch op.Kind {
	case OpFreeze:
		if row.Available.LessThan(amount) {
			return errs.New(errs.InsufficientBalance, "insufficient available balance to freeze")
		}
		row.Available = row.Available.Sub(amount)
		row.Frozen = row.Frozen.Add(amount)
	case OpUnfreeze:
		if row.Frozen.LessThan(amount) {
			return errs.New(errs.LedgerInconsistent, "cannot unfreeze more than is frozen")
		}
		row.Frozen = row.Frozen.Sub(amount)
		row.Available = row.Available.Add(amount)
	case OpConsumeFrozen:
		if row.Frozen.LessThan(amount) {
			return errs.New(errs.LedgerInconsistent, "cannot consume more than is frozen")
		}
		row.Frozen = row.Frozen.Sub(amount)
	case OpCredit:
		row.Available = row.Available.Add(amount)
	case OpDebitAvailable:
		if row.Available.LessThan(amount) {
			return errs.New(errs.InsufficientBalance, "insufficient available balance to debit")
		}
		row.Available = row.Available.Sub(amount)
	default:
		return errs.New(errs.Validation, "unknown ledger operation kind")
	}

	if !money.IsNonNegative(row.Available) || !money.IsNonNegative(row.Frozen) {
		return errs.New(errs.LedgerInconsistent, "resulting balance would be negative")
	}
	return nil
}
