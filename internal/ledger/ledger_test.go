package ledger_test

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiputravu/fenrir/internal/errs"
	"github.com/saiputravu/fenrir/internal/ledger"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// newLedger constructs a ledger and makes sure its background journal
// publisher is stopped once the test ends.
func newLedger(t *testing.T, sink ledger.JournalSink) *ledger.Ledger {
	t.Helper()
	lg := ledger.New(sink)
	t.Cleanup(func() { _ = lg.Close() })
	return lg
}

func TestFreeze_MovesAvailableToFrozen(t *testing.T) {
	lg := newLedger(t, nil)
	lg.InitializeUserAssets("u1", map[string]decimal.Decimal{"USDT": d("100")})

	require.NoError(t, lg.Freeze("u1", "USDT", d("40")))

	row := lg.Balance("u1", "USDT")
	assert.True(t, row.Available.Equal(d("60")))
	assert.True(t, row.Frozen.Equal(d("40")))
}

func TestFreeze_InsufficientBalanceLeavesRowUntouched(t *testing.T) {
	lg := newLedger(t, nil)
	lg.InitializeUserAssets("u1", map[string]decimal.Decimal{"USDT": d("10")})

	err := lg.Freeze("u1", "USDT", d("40"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InsufficientBalance))

	row := lg.Balance("u1", "USDT")
	assert.True(t, row.Available.Equal(d("10")))
	assert.True(t, row.Frozen.IsZero())
}

func TestUnfreeze_RoundTripsWithFreeze(t *testing.T) {
	lg := newLedger(t, nil)
	lg.InitializeUserAssets("u1", map[string]decimal.Decimal{"USDT": d("100")})

	require.NoError(t, lg.Freeze("u1", "USDT", d("40")))
	require.NoError(t, lg.Unfreeze("u1", "USDT", d("40")))

	row := lg.Balance("u1", "USDT")
	assert.True(t, row.Available.Equal(d("100")))
	assert.True(t, row.Frozen.IsZero())
}

func TestConsumeFrozen_CannotExceedFrozen(t *testing.T) {
	lg := newLedger(t, nil)
	lg.InitializeUserAssets("u1", map[string]decimal.Decimal{"USDT": d("100")})
	require.NoError(t, lg.Freeze("u1", "USDT", d("10")))

	err := lg.ConsumeFrozen("u1", "USDT", d("20"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.LedgerInconsistent))
}

func TestSettleTrade_ConservesValueAcrossBuyerAndSeller(t *testing.T) {
	lg := newLedger(t, nil)
	lg.InitializeUserAssets("buyer", map[string]decimal.Decimal{"USDT": d("1000")})
	lg.InitializeUserAssets("seller", map[string]decimal.Decimal{"BTC": d("5")})

	require.NoError(t, lg.Freeze("buyer", "USDT", d("500")))
	require.NoError(t, lg.Freeze("seller", "BTC", d("5")))

	require.NoError(t, lg.SettleTrade("buyer", "seller", "BTC", "USDT", d("5"), d("100")))

	buyerBase := lg.Balance("buyer", "BTC")
	buyerQuote := lg.Balance("buyer", "USDT")
	sellerBase := lg.Balance("seller", "BTC")
	sellerQuote := lg.Balance("seller", "USDT")

	assert.True(t, buyerBase.Available.Equal(d("5")))
	assert.True(t, buyerQuote.Available.Equal(d("500")), "unfrozen remainder stays available")
	assert.True(t, buyerQuote.Frozen.IsZero())
	assert.True(t, sellerBase.Available.IsZero())
	assert.True(t, sellerBase.Frozen.IsZero())
	assert.True(t, sellerQuote.Available.Equal(d("500")))
}

func TestSettleTrade_InsufficientFrozenRollsBackEveryLeg(t *testing.T) {
	lg := newLedger(t, nil)
	lg.InitializeUserAssets("buyer", map[string]decimal.Decimal{"USDT": d("1000")})
	lg.InitializeUserAssets("seller", map[string]decimal.Decimal{"BTC": d("1")})

	require.NoError(t, lg.Freeze("buyer", "USDT", d("500")))
	// Seller never froze their base asset: the third leg must fail and the
	// whole composite must roll back, including the buyer's already-applied
	// consumeFrozen/credit legs.
	err := lg.SettleTrade("buyer", "seller", "BTC", "USDT", d("5"), d("100"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.LedgerInconsistent))

	buyerBase := lg.Balance("buyer", "BTC")
	buyerQuote := lg.Balance("buyer", "USDT")
	assert.True(t, buyerBase.Available.IsZero(), "rollback must undo the buyer's credit leg too")
	assert.True(t, buyerQuote.Frozen.Equal(d("500")), "rollback must restore the buyer's consumed frozen quote")
}

func TestInitializeUserAssets_IsIdempotent(t *testing.T) {
	lg := newLedger(t, nil)
	lg.InitializeUserAssets("u1", map[string]decimal.Decimal{"USDT": d("100")})
	require.NoError(t, lg.Freeze("u1", "USDT", d("30")))

	// A second registration call must not clobber the row already in use.
	lg.InitializeUserAssets("u1", map[string]decimal.Decimal{"USDT": d("999")})

	row := lg.Balance("u1", "USDT")
	assert.True(t, row.Available.Equal(d("70")))
	assert.True(t, row.Frozen.Equal(d("30")))
}

func TestJournalSink_ReceivesOneEntryPerTouchedRow(t *testing.T) {
	sink := &captureSink{}
	lg := newLedger(t, sink)
	lg.InitializeUserAssets("u1", map[string]decimal.Decimal{"USDT": d("100")})

	require.NoError(t, lg.Freeze("u1", "USDT", d("10")))

	// The sink is fed by the ledger's background publisher, not by Apply
	// itself, so give it a moment to catch up.
	require.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, time.Millisecond)
	entries := sink.snapshot()
	assert.Equal(t, uint64(1), entries[0].Version)
}

// captureSink is read from the test goroutine and written from the ledger's
// own publisher goroutine, so it needs its own lock.
type captureSink struct {
	mu      sync.Mutex
	entries []ledger.JournalEntry
}

func (s *captureSink) EnqueueAssetDelta(entry ledger.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *captureSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *captureSink) snapshot() []ledger.JournalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.JournalEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
