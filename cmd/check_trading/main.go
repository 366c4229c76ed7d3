package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/grid_market_maker/internal/config"
	"github.com/vitos/grid_market_maker/internal/domain"
	"github.com/vitos/grid_market_maker/internal/infrastructure/exchange"
	"go.uber.org/zap"
)

// Places one post-only buy well below the book, checks it is listed and
// readable, then cancels it. Run against testnet first.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	symbol := flag.String("symbol", "BTCUSDT", "contract to test with")
	size := flag.String("size", "0.001", "order size")
	distance := flag.Float64("distance", 0.05, "fraction below best bid to rest the order")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	ex := cfg.Exchange
	if ex.APIKey == "" {
		fmt.Println("❌ api_key and api_secret are required")
		os.Exit(1)
	}

	fmt.Printf("Testing Trading on %s...\n", orDefault(ex.RESTEndpoint, exchange.BybitBaseURL))
	adapter := exchange.NewBybitAdapter(ex.APIKey, ex.APISecret, ex.RESTEndpoint, ex.Category, ex.SettleCoin, zap.NewNop())
	ctx := context.Background()

	ob, err := adapter.GetOrderBook(ctx, *symbol, 1)
	if err != nil {
		fmt.Printf("❌ Failed to get order book: %v\n", err)
		os.Exit(1)
	}
	bid, ok := ob.BestBid()
	if !ok {
		fmt.Println("❌ Empty bid side")
		os.Exit(1)
	}

	price := bid.Price.Mul(decimal.NewFromFloat(1 - *distance))
	fmt.Printf("Placing post-only BUY %s @ %s (best bid %s)...\n", *size, price, bid.Price)
	order, err := adapter.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:        *symbol,
		ContractID:    *symbol,
		Side:          domain.SideBuy,
		Type:          domain.OrderTypePostOnly,
		Price:         price,
		Size:          decimal.RequireFromString(*size),
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		fmt.Printf("❌ Failed to place: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Order placed: %s @ %s\n", order.OrderID, order.Price)

	time.Sleep(time.Second)
	ids, err := adapter.GetActiveOrders(ctx, *symbol)
	if err != nil {
		fmt.Printf("⚠️ Failed to list active orders: %v\n", err)
	} else {
		fmt.Printf("✅ Listed among %d active orders: %t\n", len(ids), contains(ids, order.OrderID))
	}

	status, err := adapter.GetOrder(ctx, *symbol, order.OrderID)
	if err != nil {
		fmt.Printf("⚠️ Failed to read order: %v\n", err)
	} else {
		fmt.Printf("✅ Status: %s filled=%s\n", status.Status, status.FilledSize)
	}

	fmt.Println("Cancelling...")
	if err := adapter.CancelOrder(ctx, *symbol, order.OrderID); err != nil {
		fmt.Printf("❌ Failed to cancel: %v\n", err)
		os.Exit(1)
	}
	status, err = adapter.GetOrder(ctx, *symbol, order.OrderID)
	if err == nil {
		fmt.Printf("✅ Final status: %s\n", status.Status)
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
