package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/grid_market_maker/internal/config"
	"github.com/vitos/grid_market_maker/internal/domain"
	"github.com/vitos/grid_market_maker/internal/infrastructure/exchange"
	"github.com/vitos/grid_market_maker/internal/infrastructure/logger"
	"github.com/vitos/grid_market_maker/internal/infrastructure/metrics"
	"github.com/vitos/grid_market_maker/internal/infrastructure/storage"
	"github.com/vitos/grid_market_maker/internal/usecase"
	"github.com/vitos/grid_market_maker/internal/web"
	"go.uber.org/zap"
)

const shutdownTimeout = 60 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}
	gridCfg, err := cfg.GridConfig()
	if err != nil {
		fmt.Printf("Invalid grid config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Init Exchange
	venue := newVenue(ctx, cfg, log)

	// 5. Init Engine
	m := metrics.New()
	resolver := usecase.NewContractResolver(venue, log)
	engine := usecase.NewGridEngine(gridCfg, cfg.Symbols, venue, resolver, log,
		usecase.WithMetrics(m),
		usecase.WithRepository(store),
	)
	log.Info("Starting grid market maker",
		zap.String("exchange", cfg.Exchange.Name),
		zap.String("mode", string(gridCfg.Mode)),
		zap.Strings("symbols", cfg.Symbols),
		zap.Bool("ema_enabled", gridCfg.EMA.Enabled))

	if err := engine.Start(ctx); err != nil {
		log.Fatal("Failed to start engine", zap.Error(err))
	}

	// 6. Start Web Server
	server := web.NewServer(cfg.Server.Port, engine, store, m.Handler(), log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Web server failed", zap.Error(err))
		}
	}()

	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	// 7. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("Shutting down", zap.String("signal", sig.String()))
		engine.Stop()
		select {
		case err := <-done:
			if err != nil {
				log.Error("Engine stopped with error", zap.Error(err))
			}
		case <-time.After(shutdownTimeout):
			log.Warn("Engine did not finish its cycle in time")
			cancel()
		}
	case err := <-done:
		if err != nil {
			log.Error("Engine stopped with error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	engine.Shutdown(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Web server shutdown failed", zap.Error(err))
	}
	cancel()
	log.Info("Bot stopped")
}

// newVenue builds the live adapter, or the paper venue over a REST or
// websocket book source.
func newVenue(ctx context.Context, cfg *config.Config, log *zap.Logger) domain.Exchange {
	ex := cfg.Exchange
	rest := exchange.NewBybitAdapter(ex.APIKey, ex.APISecret, ex.RESTEndpoint, ex.Category, ex.SettleCoin, log)
	if ex.Name == "bybit" {
		return rest
	}

	var source domain.BookSource = rest
	if cfg.Paper.DataSource == "ws" {
		feed := exchange.NewBookFeed(ex.WSEndpoint, cfg.Symbols, log)
		go func() {
			if err := feed.Run(ctx); err != nil {
				log.Error("Book feed stopped", zap.Error(err))
			}
		}()
		source = feed
	}
	log.Info("Paper trading enabled",
		zap.String("data_source", cfg.Paper.DataSource),
		zap.Float64("initial_balance", cfg.Paper.InitialBalance))
	return exchange.NewPaperExchange(source, cfg.Symbols, cfg.Paper, log)
}
