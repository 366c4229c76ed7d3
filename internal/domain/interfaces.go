package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Exchange is the venue surface the grid engine consumes.
type Exchange interface {
	GetOrderBook(ctx context.Context, contractID string, depth int) (*OrderBook, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	// CancelAllOrders cancels every open order of symbol, or of all symbols when symbol is empty.
	CancelAllOrders(ctx context.Context, symbol string) error
	GetActiveOrders(ctx context.Context, symbol string) ([]string, error)
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)
	ListContracts(ctx context.Context) ([]Contract, error)
}

// OrderStatusReader is implemented by venues that can report a single order's state.
type OrderStatusReader interface {
	GetOrder(ctx context.Context, symbol, orderID string) (*Order, error)
}

// LeverageSetter is implemented by venues that need leverage configured per symbol.
type LeverageSetter interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// BookSource provides order book snapshots. A nil book with a nil error means no data yet.
type BookSource interface {
	GetOrderBook(ctx context.Context, contractID string, depth int) (*OrderBook, error)
}

type OrderBookEntry struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook holds bids sorted descending and asks sorted ascending.
type OrderBook struct {
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookEntry `json:"bids"`
	Asks      []OrderBookEntry `json:"asks"`
	Timestamp int64            `json:"timestamp"`
}

func (b *OrderBook) BestBid() (OrderBookEntry, bool) {
	if b == nil || len(b.Bids) == 0 {
		return OrderBookEntry{}, false
	}
	return b.Bids[0], true
}

func (b *OrderBook) BestAsk() (OrderBookEntry, bool) {
	if b == nil || len(b.Asks) == 0 {
		return OrderBookEntry{}, false
	}
	return b.Asks[0], true
}

// MidPrice returns the average of best bid and best ask, or zero when either side is empty.
func (b *OrderBook) MidPrice() decimal.Decimal {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))
}

// TradeRepository journals trading activity.
type TradeRepository interface {
	SaveFill(ctx context.Context, fill *Fill) error
	ListFills(ctx context.Context, symbol string, limit int) ([]*Fill, error)
	SaveEMATrade(ctx context.Context, trade *EMATrade) error
	ListEMATrades(ctx context.Context, limit int) ([]*EMATrade, error)
	SaveSnapshot(ctx context.Context, snap *PerformanceSnapshot) error
	LatestSnapshot(ctx context.Context) (*PerformanceSnapshot, error)
}
