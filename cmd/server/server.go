package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/saiputravu/fenrir/internal/autotrader"
	"github.com/saiputravu/fenrir/internal/config"
	"github.com/saiputravu/fenrir/internal/events"
	"github.com/saiputravu/fenrir/internal/ledger"
	"github.com/saiputravu/fenrir/internal/logging"
	"github.com/saiputravu/fenrir/internal/matching"
	"github.com/saiputravu/fenrir/internal/persist"
	"github.com/saiputravu/fenrir/internal/persist/models"
	"github.com/saiputravu/fenrir/internal/pricefeed"
	"github.com/saiputravu/fenrir/internal/wire"
)

// Exit codes per §6: 0 normal drain, 1 configuration error, 2 cache tier
// unavailable at start, 3 durable store unreachable during initial load.
const (
	exitOK        = 0
	exitConfig    = 1
	exitCacheDown = 2
	exitStoreDown = 3
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logging isn't configured yet if the config itself failed to load.
		log.Error().Err(err).Msg("failed to load configuration")
		os.Exit(exitConfig)
	}

	logging.Init(logging.Options{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Address,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Error().Err(err).Msg("cache tier unavailable at startup")
		os.Exit(exitCacheDown)
	}

	db, err := gorm.Open(postgres.Open(cfg.Store.DSN), &gorm.Config{})
	if err != nil {
		log.Error().Err(err).Msg("durable store unreachable")
		os.Exit(exitStoreDown)
	}
	if err := db.AutoMigrate(&models.Order{}, &models.Trade{}, &models.Asset{}, &models.TradingPair{}); err != nil {
		log.Error().Err(err).Msg("durable store unreachable during initial snapshot load")
		os.Exit(exitStoreDown)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		log.Error().Err(err).Msg("failed to start id generator")
		os.Exit(exitConfig)
	}

	pst := persist.New(persist.Config{
		BatchSize:    cfg.Persistence.BatchSize,
		PollInterval: cfg.Persistence.PollInterval(),
	}, db, persist.NewTradesQueue(redisClient), persist.NewAssetsQueue(redisClient))

	lg := ledger.New(pst.JournalSink())
	bus := events.NewBus()
	pst.SubscribeTrades(bus)

	matchCfg := matching.Config{
		MaxQueueDepth: cfg.Matching.MaxQueueDepth,
		TTL:           cfg.Order.TTL(),
		ExpirySweep:   time.Minute,
	}
	engine := matching.New(matchCfg, lg, bus, node)
	priceFeed := pricefeed.New(redisClient)

	for _, sym := range cfg.Symbols {
		pair, err := sym.ToPair()
		if err != nil {
			log.Error().Err(err).Str("symbol", sym.Symbol).Msg("invalid symbol configuration")
			os.Exit(exitConfig)
		}
		engine.RegisterPair(pair)
	}

	if err := pst.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start persister")
		os.Exit(exitCacheDown)
	}

	trader, err := autotrader.NewManager(cfg, engine, priceFeed, lg)
	if err != nil {
		log.Error().Err(err).Msg("failed to configure auto-trader")
		os.Exit(exitConfig)
	}
	trader.Start(ctx)

	srv := wire.New(cfg.Server.Address, cfg.Server.Port, engine)
	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Error().Err(err).Msg("wire server exited with error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	if err := trader.Stop(); err != nil {
		log.Error().Err(err).Msg("auto-trader stop reported an error")
	}
	if err := engine.Stop(); err != nil {
		log.Error().Err(err).Msg("matching engine stop reported an error")
	}
	if err := lg.Close(); err != nil {
		log.Error().Err(err).Msg("ledger journal publisher stop reported an error")
	}
	if err := pst.Stop(); err != nil {
		log.Error().Err(err).Msg("persister stop reported an error")
	}

	os.Exit(exitOK)
}
