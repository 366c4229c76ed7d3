package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderTypeLimit    OrderType = "LIMIT"
	OrderTypePostOnly OrderType = "POST_ONLY"
	OrderTypeMarket   OrderType = "MARKET"
)

type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// OrderRequest is what the engine asks the venue to place.
type OrderRequest struct {
	Symbol        string
	ContractID    string
	Side          Side
	Type          OrderType
	Size          decimal.Decimal
	Price         decimal.Decimal // zero for market orders
	Leverage      int
	ClientOrderID string
	ReduceOnly    bool
}

// Order is the venue's view of an order.
type Order struct {
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Type          OrderType       `json:"type"`
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
	FilledSize    decimal.Decimal `json:"filled_size"`
	AvgFillPrice  decimal.Decimal `json:"avg_fill_price"`
	Status        OrderStatus     `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// FillConfidence grades how sure the engine is that a vanished order actually traded.
type FillConfidence string

const (
	// FillConfirmed means the venue reported the order as filled.
	FillConfirmed FillConfidence = "confirmed"
	// FillInferred means the order disappeared from the active set and no status was available.
	FillInferred FillConfidence = "inferred"
	// FillCancelled means the venue reported the order as cancelled or rejected.
	FillCancelled FillConfidence = "cancelled"
)

// Fill is a journaled grid fill.
type Fill struct {
	ID           int64
	Symbol       string
	OrderID      string
	Side         Side
	Price        decimal.Decimal
	Size         decimal.Decimal
	IsCloseOrder bool
	Confidence   FillConfidence
	FilledAt     time.Time
}

// EMATrade is a closed EMA signal position.
type EMATrade struct {
	ID         int64
	Symbol     string
	Side       Side
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	PnL        decimal.Decimal
	SignalType string
	ExitReason string
	OpenedAt   time.Time
	ClosedAt   time.Time
}
