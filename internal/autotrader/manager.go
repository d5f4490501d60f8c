package autotrader

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/saiputravu/fenrir/internal/config"
	"github.com/saiputravu/fenrir/internal/ledger"
	"github.com/saiputravu/fenrir/internal/matching"
)

// Manager owns one Trader per symbol configured with autotrade: true.
type Manager struct {
	traders []*Trader
}

// NewManager builds a Trader for every config.Symbol with Autotrade set,
// wiring it to the shared engine, price feed, and ledger.
func NewManager(cfg config.Config, engine matching.Engine, feed matching.PriceFeed, lg *ledger.Ledger) (*Manager, error) {
	m := &Manager{}
	for _, sym := range cfg.Symbols {
		if !sym.Autotrade {
			continue
		}
		pair, err := sym.ToPair()
		if err != nil {
			return nil, err
		}

		layerQty, err := decimal.NewFromString(orDefaultDecimal(cfg.Autotrader.LayerQuantity))
		if err != nil {
			return nil, err
		}
		notionalCap, err := decimal.NewFromString(orDefaultDecimal(cfg.Autotrader.DailyNotionalCap))
		if err != nil {
			return nil, err
		}

		trCfg := Config{
			Layers:              cfg.Autotrader.Layers,
			SpreadStepBps:       int64(cfg.Autotrader.SpreadStepBps),
			LayerQuantity:       layerQty,
			MaxQuoteAge:         cfg.Autotrader.MaxQuoteAge(),
			RepriceThresholdBps: int64(cfg.Autotrader.RepriceThresholdBps),
			DailyNotionalCap:    notionalCap,
			MaxOpenOrders:       cfg.Autotrader.MaxOpenOrders,
			TickInterval:        cfg.Autotrader.TickInterval(),
		}

		m.traders = append(m.traders, New(pair, sym.SystemAccountID, trCfg, engine, feed, lg))
	}
	return m, nil
}

func orDefaultDecimal(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// Start launches every managed Trader's tick loop.
func (m *Manager) Start(ctx context.Context) {
	for _, tr := range m.traders {
		tr.Start(ctx)
	}
}

// Stop drains and stops every managed Trader.
func (m *Manager) Stop() error {
	var firstErr error
	for _, tr := range m.traders {
		if err := tr.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
