package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/internal/api"
	"github.com/aipoopers/zonemarket/internal/backend"
	"github.com/aipoopers/zonemarket/internal/engine"
	"github.com/aipoopers/zonemarket/internal/food"
	"github.com/aipoopers/zonemarket/internal/game"
	"github.com/aipoopers/zonemarket/internal/jobs"
	"github.com/aipoopers/zonemarket/internal/leaderboard"
	"github.com/aipoopers/zonemarket/internal/ledger"
	"github.com/aipoopers/zonemarket/internal/market"
	"github.com/aipoopers/zonemarket/internal/publisher"
	"github.com/aipoopers/zonemarket/internal/store"
	"github.com/aipoopers/zonemarket/internal/zone"
	"github.com/aipoopers/zonemarket/pkg/config"
	"github.com/aipoopers/zonemarket/pkg/logger"
	"github.com/aipoopers/zonemarket/pkg/model"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the market service",
	RunE:  runServe,
}

type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type recorderFunc func() []model.ZoneID

func (f recorderFunc) RecordEvent() []model.ZoneID { return f() }

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()
	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	log := logger.L()
	log.Info("starting [zonemarket]...", zap.String("store", cfg.StoreBackend))

	// --- Pricing table ---
	table, err := buildTable(cfg)
	if err != nil {
		return fmt.Errorf("rate table: %w", err)
	}
	zones := table.Zones()

	policy, err := zone.ParsePolicy(cfg.CountPolicy)
	if err != nil {
		return err
	}

	// --- Store ---
	st, err := buildStore(ctx, cfg, zones, log)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("store.close_failed", zap.Error(err))
		}
	}()

	checks := map[string]api.HealthChecker{"store": st}

	// --- Optional Redis cache ---
	var cache *store.Cache
	if cfg.RedisAddr != "" {
		cache, err = store.NewCache(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, cfg.CacheTTL, log)
		if err != nil {
			return fmt.Errorf("init cache: %w", err)
		}
		defer cache.Close()
		checks["cache"] = cache
	}

	// --- Optional NATS publisher ---
	var pub *publisher.Publisher
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		pub, err = publisher.New(nc, log, cfg.EventsSubject, cfg.EventsStream, cfg.ServiceName)
		if err != nil {
			nc.Close()
			return fmt.Errorf("init publisher: %w", err)
		}
		defer pub.Close()
		checks["nats"] = healthFunc(func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats disconnected: " + nc.Status().String())
			}
			return nil
		})
	}

	// --- Pricer ---
	pricer := market.NewPricer(log, table, st, cfg.FlushInterval)
	forwardRates(ctx, log, pricer, pub, cache)
	if err := pricer.Sync(ctx); err != nil {
		log.Warn("market.initial_sync_failed", zap.Error(err))
	}
	pricerDone := make(chan struct{})
	go func() {
		defer close(pricerDone)
		pricer.Run(ctx)
	}()

	// --- Zone aggregation and engine events ---
	agg := zone.NewAggregator(log, pricer, policy)

	var poopPub engine.PoopPublisher
	var foodPub food.Publisher
	if pub != nil {
		poopPub = pub
		foodPub = pub
	}
	dispatcher := engine.NewDispatcher(log, agg, zones, poopPub)

	if cfg.AMQPURL != "" {
		consumer, err := engine.NewConsumer(cfg.AMQPURL, cfg.EngineQueue, dispatcher, log)
		if err != nil {
			return fmt.Errorf("init engine consumer: %w", err)
		}
		defer consumer.Close()
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("start engine consumer: %w", err)
		}
	}

	// --- Ledger and leaderboard ---
	reserved := reservedNames(cfg)
	led := ledger.New(log, st, pricer, ledger.Config{
		StartingDollars: cfg.StartingDollars,
		Zones:           zones,
		ReservedNames:   reserved,
	})

	var sink leaderboard.Sink
	if cache != nil {
		sink = cache
	}
	board := leaderboard.NewBoard(log, st, pricer, sink, reserved, cfg.LeaderboardSize)
	boardJob := jobs.NewPeriodic(log, "leaderboard", cfg.LeaderboardInterval, func(ctx context.Context) error {
		err := board.Refresh(ctx)
		if errors.Is(err, leaderboard.ErrNotReady) {
			return nil
		}
		return err
	}).HaltOn(backend.ErrMissingCredentials)
	go boardJob.Start(ctx)

	// --- Food signals ---
	watcher := food.NewWatcher(log, st, foodPub)
	foodJob := jobs.NewPeriodic(log, "food", cfg.FoodPollInterval, func(ctx context.Context) error {
		_, err := watcher.Poll(ctx)
		return err
	}).HaltOn(backend.ErrMissingCredentials)
	go foodJob.Start(ctx)

	// --- Reset ---
	resetter := game.NewResetter(log, agg, pricer, st, st, cfg.StartingDollars)
	resetter.OnReset(watcher.Reset)

	// --- Optional poop scheduler (stand-in for the engine's timer) ---
	var scheduler *jobs.PoopScheduler
	if cfg.PoopSchedulerEnabled {
		poop := recorderFunc(func() []model.ZoneID { return dispatcher.Poop(ctx) })
		scheduler = jobs.NewPoopScheduler(log, poop, cfg.PoopMinInterval, cfg.PoopMaxInterval)
		go scheduler.Start(ctx)
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})
	handler := api.NewHandler(log, pricer, dispatcher, resetter, led, board)
	api.RegisterRoutes(app, handler, checks)

	listenErr := make(chan error, 1)
	go func() {
		log.Info("HTTP API listening", zap.Int("port", cfg.Port))
		listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.Port))
	}()

	log.Info("[zonemarket] running",
		zap.String("env", cfg.Env),
		zap.String("policy", policy.String()),
		zap.Int("zones", len(zones)),
		zap.Bool("nats", pub != nil),
		zap.Bool("cache", cache != nil),
		zap.Bool("engine_queue", cfg.AMQPURL != ""))

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		if err != nil {
			log.Error("fiber.listen_failed", zap.Error(err))
		}
		stop()
	}
	log.Info("shutting down [zonemarket]...")

	boardJob.Stop()
	foodJob.Stop()
	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn("fiber.shutdown_failed", zap.Error(err))
	}

	// Run performs the final flush once ctx is done.
	select {
	case <-pricerDone:
	case <-shutdownCtx.Done():
		log.Warn("market.final_flush_timeout")
	}
	return nil
}

// forwardRates fans rate snapshots out to NATS and Redis from one goroutine so
// listeners never block the pricer and snapshots keep their order.
func forwardRates(ctx context.Context, log *zap.Logger, pricer *market.Pricer, pub *publisher.Publisher, cache *store.Cache) {
	if pub == nil && cache == nil {
		return
	}

	updates := make(chan model.RatesUpdated, 256)
	pricer.OnChange(func(snap model.RatesUpdated) {
		select {
		case updates <- snap:
		default:
			log.Warn("market.rates_update_dropped")
		}
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-updates:
				sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if pub != nil {
					if err := pub.PublishRates(sendCtx, snap); err != nil {
						log.Warn("publisher.rates_failed", zap.Error(err))
					}
				}
				if cache != nil {
					if err := cache.PutRates(sendCtx, snap); err != nil {
						log.Warn("cache.rates_failed", zap.Error(err))
					}
				}
				cancel()
			}
		}
	}()
}
