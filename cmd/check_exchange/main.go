package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/grid_market_maker/internal/config"
	"github.com/vitos/grid_market_maker/internal/infrastructure/exchange"
	"github.com/vitos/grid_market_maker/internal/usecase"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	watch := flag.Duration("ws", 0, "also stream the websocket book for this long")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ex := cfg.Exchange
	fmt.Printf("Testing Bybit Interaction...\n")
	fmt.Printf("Endpoint: %s (category %s)\n", orDefault(ex.RESTEndpoint, exchange.BybitBaseURL), ex.Category)

	log := zap.NewNop()
	adapter := exchange.NewBybitAdapter(ex.APIKey, ex.APISecret, ex.RESTEndpoint, ex.Category, ex.SettleCoin, log)
	ctx := context.Background()

	// 2. Resolve symbols and check the public book
	resolver := usecase.NewContractResolver(adapter, log)
	for _, symbol := range cfg.Symbols {
		id, err := resolver.Resolve(ctx, symbol)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", symbol, err)
			continue
		}
		ob, err := adapter.GetOrderBook(ctx, id, 5)
		if err != nil {
			fmt.Printf("❌ %s: failed to get order book: %v\n", symbol, err)
			continue
		}
		bid, _ := ob.BestBid()
		ask, _ := ob.BestAsk()
		fmt.Printf("✅ %s -> %s: bid %s ask %s mid %s\n", symbol, id, bid.Price, ask.Price, ob.MidPrice())
	}

	// 3. Check private endpoints
	if ex.APIKey == "" {
		fmt.Println("No API keys configured, skipping account checks")
	} else {
		info, err := adapter.GetAccountInfo(ctx)
		if err != nil {
			fmt.Printf("❌ Failed to get account: %v\n", err)
		} else {
			fmt.Printf("✅ Balance: %s (available %s), %d open positions\n",
				info.Balance, info.AvailableBalance, len(info.Positions))
			for symbol, pos := range info.Positions {
				fmt.Printf("   %s %s size=%s entry=%s pnl=%s\n",
					symbol, pos.Direction, pos.Size, pos.EntryPrice, pos.UnrealizedPnL)
			}
		}
		for _, symbol := range cfg.Symbols {
			ids, err := adapter.GetActiveOrders(ctx, symbol)
			if err != nil {
				fmt.Printf("❌ %s: failed to list active orders: %v\n", symbol, err)
				continue
			}
			fmt.Printf("✅ %s: %d active orders\n", symbol, len(ids))
		}
	}

	// 4. Optionally watch the websocket book
	if *watch > 0 {
		watchFeed(ex.WSEndpoint, cfg.Symbols, *watch)
	}
}

func watchFeed(url string, symbols []string, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	feed := exchange.NewBookFeed(url, symbols, zap.NewNop())
	go feed.Run(ctx)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range symbols {
				ob, _ := feed.GetOrderBook(ctx, symbol, 1)
				if ob == nil {
					fmt.Printf("… %s: waiting for snapshot\n", symbol)
					continue
				}
				fmt.Printf("📈 %s mid %s (%d/%d levels)\n", symbol, ob.MidPrice(), len(ob.Bids), len(ob.Asks))
			}
		}
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
