package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pi42-grid/internal/api"
	"pi42-grid/internal/engine"
	"pi42-grid/internal/events"
	"pi42-grid/internal/market"
	"pi42-grid/internal/monitor"
	"pi42-grid/internal/order"
	"pi42-grid/internal/reconciliation"
	"pi42-grid/internal/state"
	"pi42-grid/internal/strategy"
	"pi42-grid/pkg/cache"
	"pi42-grid/pkg/config"
	"pi42-grid/pkg/db"
	"pi42-grid/pkg/exchanges/pi42"
	pimarket "pi42-grid/pkg/market/pi42"
)

const version = "1.0.0"

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, config.ErrMissingCredentials) {
			logger.Fatal("API_KEY and SECRET_KEY must be set (environment or .env)")
		}
		logger.WithError(err).Fatal("failed to load config")
	}
	configureLogger(logger, cfg)

	logger.WithFields(logrus.Fields{
		"version":      version,
		"symbols":      cfg.SymbolList(),
		"sizing_mode":  cfg.SizingMode,
		"trigger_mode": cfg.TriggerMode,
		"drop_pct":     cfg.DropPercent,
		"tp_pct":       cfg.TPPercent,
		"cooldown":     cfg.Cooldown.String(),
		"dry_run":      cfg.DryRun,
	}).Info("starting grid trader")

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to open database")
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		logger.WithError(err).Fatal("failed to apply migrations")
	}
	logger.WithField("path", cfg.DBPath).Info("database ready")

	sizer, err := strategy.NewSizer(cfg.SizingMode)
	if err != nil {
		logger.WithError(err).Fatal("invalid sizing mode")
	}
	trigger, err := strategy.NewTrigger(cfg.TriggerMode, cfg.DropPercent)
	if err != nil {
		logger.WithError(err).Fatal("invalid trigger mode")
	}
	instruments := make([]strategy.Instrument, 0, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		instruments = append(instruments, strategy.NewInstrument(inst.Symbol, inst.Step, inst.Capital, inst.Lot, inst.QtyPrecision))
	}
	symbols := cfg.SymbolList()

	bus := events.NewBus()
	store := state.NewStore()
	prices := cache.NewPriceTable()
	metrics := monitor.NewMetrics()
	metrics.GaugeFunc("grid_price_table_symbols", "Symbols with a cached mark price.", func() float64 {
		return float64(prices.Len())
	})
	metrics.GaugeFunc("grid_bus_dropped_total", "Events dropped because a subscriber was full.", func() float64 {
		return float64(bus.Dropped())
	})

	client := pi42.NewClient(pi42.Config{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.OrderTimeout,
		RateLimit: cfg.RESTRateLimit,
		DryRun:    cfg.DryRun,
	}, logger)
	if cfg.DryRun {
		logger.Warn("dry run: orders are signed and recorded but not sent")
	}

	submitter := order.NewSubmitter(client, prices, order.Config{
		Instruments: instruments,
		Sizer:       sizer,
		TPPercent:   cfg.TPPercent,
		Cooldown:    cfg.Cooldown,
		Timeout:     cfg.OrderTimeout,
		Recorder:    database,
		Bus:         bus,
		Observer:    metrics,
		Logger:      logger,
	})
	eng := engine.New(engine.Config{
		Symbols:    symbols,
		Store:      store,
		Prices:     prices,
		Trigger:    trigger,
		Submitter:  submitter,
		SizingMode: sizer.Mode(),
		Bus:        bus,
		Observer:   metrics,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	positions := reconciliation.NewPositionPoller(client, store, database, symbols, reconciliation.Options{
		Interval: cfg.PositionPollInterval,
		Timeout:  cfg.PollTimeout,
		Bus:      bus,
		Observer: metrics,
		Logger:   logger,
	})
	orders := reconciliation.NewOrderPoller(client, store, symbols, reconciliation.Options{
		Interval: cfg.OrderPollInterval,
		Timeout:  cfg.PollTimeout,
		Bus:      bus,
		Observer: metrics,
		Logger:   logger,
	})
	positions.Start(gctx)
	orders.Start(gctx)

	feed := &market.Feed{
		Stream:         pimarket.NewStreamClient(cfg.StreamURL, logger),
		Prices:         prices,
		Engine:         eng,
		Bus:            bus,
		Symbols:        symbols,
		ReconnectDelay: cfg.StreamReconnectDelay,
		Observer:       metrics,
		Logger:         logger,
	}
	g.Go(func() error {
		feed.Run(gctx)
		return nil
	})

	dashboard := &monitor.Dashboard{Source: eng, Interval: cfg.DashboardInterval, Logger: logger}
	dashboard.Start(gctx)

	alerts := &monitor.Monitor{Bus: bus, Sink: monitor.LogSink{Logger: logger}, Logger: logger}
	alerts.Start(gctx)

	var server *api.Server
	if cfg.EnableAPI {
		gin.SetMode(gin.ReleaseMode)
		server, err = api.NewServer(api.Deps{
			Engine:      eng,
			Store:       store,
			Prices:      prices,
			Submissions: database,
			Metrics:     metrics,
			Bus:         bus,
			RESTUsage:   client.RateLimiter(),
		}, api.SystemMeta{
			DryRun:      cfg.DryRun,
			Venue:       "pi42",
			Symbols:     symbols,
			SizingMode:  cfg.SizingMode,
			TriggerMode: cfg.TriggerMode,
			Version:     version,
		}, api.Auth{
			JWTSecret: cfg.JWTSecret,
			Username:  cfg.APIUser,
			Password:  cfg.APIPass,
			TokenTTL:  24 * time.Hour,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to build api server")
		}
		addr := cfg.APIListenAddr()
		if cfg.JWTSecret == "" {
			logger.WithField("addr", addr).Warn("JWT_SECRET not set: /api endpoints are unauthenticated")
		}
		logger.WithField("addr", addr).Info("api server listening")
		g.Go(func() error {
			if err := server.Start(addr); err != nil {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
	}

	<-gctx.Done()
	logger.Info("shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("api shutdown")
		}
		cancel()
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			logger.WithError(err).Error("stopped with error")
			return
		}
	case <-time.After(10 * time.Second):
		logger.Warn("workers did not stop in time")
	}
	logger.Info("stopped")
}

func configureLogger(logger *logrus.Logger, cfg *config.Config) {
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("level", cfg.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
