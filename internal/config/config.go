// Package config loads the process-wide YAML configuration (§6's enumerated
// options) into typed structs, failing with a wrapped error that cmd/server
// turns into exit code 1 (§6: "1 configuration error").
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/saiputravu/fenrir/internal/domain"
)

// Matching holds §6's matching.* options.
type Matching struct {
	MaxQueueDepth int `yaml:"maxQueueDepth"`
}

// Persistence holds §6's persistence.* options.
type Persistence struct {
	BatchSize      int `yaml:"batchSize"`
	PollIntervalMs int `yaml:"pollIntervalMs"`
}

// Order holds §6's order.* options.
type Order struct {
	TTLSeconds int `yaml:"ttlSeconds"`
}

// Autotrader holds §6's autotrader.* options, applied per symbol that
// enables autotrading (see Symbol.Autotrade below).
type Autotrader struct {
	Layers              int     `yaml:"layers"`
	SpreadStepBps       int     `yaml:"spreadStepBps"`
	LayerQuantity       string  `yaml:"layerQuantity"`
	MaxQuoteAgeSeconds  int     `yaml:"maxQuoteAge"`
	RepriceThresholdBps int     `yaml:"repriceThresholdBps"`
	DailyNotionalCap    string  `yaml:"dailyNotionalCap"`
	MaxOpenOrders       int     `yaml:"maxOpenOrders"`
	TickIntervalSeconds int     `yaml:"tickIntervalSeconds"`
}

// Symbol holds §6's symbol.* per-trading-pair options plus the Autotrade
// switch opting that symbol into the auto-trader and the system account id
// the auto-trader quotes under.
type Symbol struct {
	Symbol            string `yaml:"symbol"`
	Base              string `yaml:"base"`
	Quote             string `yaml:"quote"`
	PricePrecision    int32  `yaml:"pricePrecision"`
	QuantityPrecision int32  `yaml:"quantityPrecision"`
	MinQuantity       string `yaml:"minQuantity"`
	MaxQuantity       string `yaml:"maxQuantity"`
	Autotrade         bool   `yaml:"autotrade"`
	SystemAccountID   string `yaml:"systemAccountId"`
}

// ToPair converts a parsed Symbol entry into the matching engine's
// TradingPair, defaulting MaxQuantity to zero (unbounded) when unset.
func (s Symbol) ToPair() (domain.TradingPair, error) {
	minQty, err := decimal.NewFromString(orDefault(s.MinQuantity, "0"))
	if err != nil {
		return domain.TradingPair{}, fmt.Errorf("symbol %s: invalid minQuantity: %w", s.Symbol, err)
	}
	maxQty := decimal.Zero
	if s.MaxQuantity != "" {
		maxQty, err = decimal.NewFromString(s.MaxQuantity)
		if err != nil {
			return domain.TradingPair{}, fmt.Errorf("symbol %s: invalid maxQuantity: %w", s.Symbol, err)
		}
	}
	return domain.TradingPair{
		Symbol:            s.Symbol,
		Base:              s.Base,
		Quote:             s.Quote,
		PricePrecision:    s.PricePrecision,
		QuantityPrecision: s.QuantityPrecision,
		MinQuantity:       minQty,
		MaxQuantity:       maxQty,
		IsActive:          true,
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Cache holds the Redis connection settings for the cache tier (§5, §6).
type Cache struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Store holds the durable Postgres connection settings for the persister (§4.D).
type Store struct {
	DSN string `yaml:"dsn"`
}

// Server holds the TCP listener's bind address and port (§4.F).
type Server struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// Logging holds §4.F's logging setup knobs.
type Logging struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Config is the top-level document loaded from YAML.
type Config struct {
	Server      Server      `yaml:"server"`
	Logging     Logging     `yaml:"logging"`
	Matching    Matching    `yaml:"matching"`
	Persistence Persistence `yaml:"persistence"`
	Order       Order       `yaml:"order"`
	Autotrader  Autotrader  `yaml:"autotrader"`
	Cache       Cache       `yaml:"cache"`
	Store       Store       `yaml:"store"`
	Symbols     []Symbol    `yaml:"symbols"`
}

// Default returns the spec's documented defaults (§6), with no symbols
// registered and no cache/store addresses set.
func Default() Config {
	return Config{
		Server:   Server{Address: "0.0.0.0", Port: 9001},
		Logging:  Logging{Level: "info"},
		Matching: Matching{MaxQueueDepth: 10000},
		Persistence: Persistence{
			BatchSize:      500,
			PollIntervalMs: 100,
		},
		Order: Order{TTLSeconds: 86400},
		Autotrader: Autotrader{
			Layers:              3,
			SpreadStepBps:       10,
			LayerQuantity:       "0.01",
			MaxQuoteAgeSeconds:  30,
			RepriceThresholdBps: 5,
			DailyNotionalCap:    "0",
			MaxOpenOrders:       20,
			TickIntervalSeconds: 5,
		},
	}
}

// Load reads and parses the YAML file at path over top of Default(), so an
// omitted section keeps its documented default rather than zeroing out.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if len(cfg.Symbols) == 0 {
		return Config{}, fmt.Errorf("config must declare at least one symbol")
	}
	return cfg, nil
}

// PollInterval converts Persistence.PollIntervalMs to a time.Duration.
func (p Persistence) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}

// TTL converts Order.TTLSeconds to a time.Duration.
func (o Order) TTL() time.Duration {
	return time.Duration(o.TTLSeconds) * time.Second
}

// MaxQuoteAge converts Autotrader.MaxQuoteAgeSeconds to a time.Duration.
func (a Autotrader) MaxQuoteAge() time.Duration {
	return time.Duration(a.MaxQuoteAgeSeconds) * time.Second
}

// TickInterval converts Autotrader.TickIntervalSeconds to a time.Duration.
func (a Autotrader) TickInterval() time.Duration {
	return time.Duration(a.TickIntervalSeconds) * time.Second
}
