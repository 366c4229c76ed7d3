package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vitos/grid_market_maker/internal/infrastructure/storage"
)

func main() {
	path := flag.String("db", "bot.db", "path to the sqlite journal")
	symbol := flag.String("symbol", "", "only show fills of this symbol")
	limit := flag.Int("limit", 20, "rows per table")
	flag.Parse()

	store, err := storage.NewSQLiteStore(*path)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	snap, err := store.LatestSnapshot(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to load snapshot: %v\n", err)
	} else if snap == nil {
		fmt.Println("⚠️ No snapshot saved yet")
	} else {
		fmt.Printf("Last snapshot (%s, mode %s):\n", snap.TakenAt.Format("2006-01-02 15:04:05"), snap.Mode)
		fmt.Printf("  Balance %s (initial %s, %s%%)\n", snap.Balance, snap.InitialBalance, snap.BalanceChangePct.StringFixed(2))
		fmt.Printf("  Trades %d, volume %s (%sx), est. commission %s\n",
			snap.TotalTrades, snap.TotalVolume, snap.VolumeMultiple.StringFixed(2), snap.EstimatedCommission)
		fmt.Printf("  EMA trades %d, EMA profit %s, net PnL %s\n", snap.EMATrades, snap.EMAProfit, snap.NetPnL)
	}

	fills, err := store.ListFills(ctx, *symbol, *limit)
	if err != nil {
		fmt.Printf("Failed to list fills: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nFound %d fills:\n", len(fills))
	for _, f := range fills {
		kind := "grid"
		if f.IsCloseOrder {
			kind = "close"
		}
		fmt.Printf("- %s %s %-5s %-4s %s @ %s [%s] %s\n",
			f.FilledAt.Format("01-02 15:04:05"), f.Symbol, kind, f.Side, f.Size, f.Price, f.Confidence, f.OrderID)
	}

	trades, err := store.ListEMATrades(ctx, *limit)
	if err != nil {
		fmt.Printf("Failed to list EMA trades: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nFound %d EMA trades:\n", len(trades))
	for _, t := range trades {
		fmt.Printf("- %s %s %s %s: %s -> %s pnl %s (%s, %s)\n",
			t.ClosedAt.Format("01-02 15:04:05"), t.Symbol, t.Side, t.Size, t.EntryPrice, t.ExitPrice, t.PnL, t.SignalType, t.ExitReason)
	}
}
