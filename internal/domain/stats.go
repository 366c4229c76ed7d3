package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PerformanceSnapshot is the operator-facing summary of a run.
type PerformanceSnapshot struct {
	Mode                string          `json:"mode"`
	Balance             decimal.Decimal `json:"balance"`
	InitialBalance      decimal.Decimal `json:"initial_balance"`
	BalanceChangePct    decimal.Decimal `json:"balance_change_pct"`
	DailyVolume         decimal.Decimal `json:"daily_volume"`
	TotalVolume         decimal.Decimal `json:"total_volume"`
	VolumeMultiple      decimal.Decimal `json:"volume_multiple"`
	TotalTrades         int             `json:"total_trades"`
	EstimatedCommission decimal.Decimal `json:"estimated_commission"`
	EMATrades           int             `json:"ema_trades"`
	EMAProfit           decimal.Decimal `json:"ema_profit"`
	NetPnL              decimal.Decimal `json:"net_pnl"`
	ActivePositions     int             `json:"active_positions"`
	Runtime             time.Duration   `json:"runtime"`
	TakenAt             time.Time       `json:"taken_at"`
}

// EMAPositionView describes an open EMA position.
type EMAPositionView struct {
	Side       Side            `json:"side"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	EntryTime  time.Time       `json:"entry_time"`
	SignalType string          `json:"signal_type"`
}

// SymbolView is a read-only copy of one symbol's grid state.
type SymbolView struct {
	Symbol             string           `json:"symbol"`
	NetPosition        decimal.Decimal  `json:"net_position"`
	VenuePosition      decimal.Decimal  `json:"venue_position"`
	LongLegs           int              `json:"long_legs"`
	ShortLegs          int              `json:"short_legs"`
	PendingOrders      int              `json:"pending_orders"`
	PendingCloseOrders int              `json:"pending_close_orders"`
	BuyLevels          int              `json:"buy_levels"`
	SellLevels         int              `json:"sell_levels"`
	LastMidPrice       decimal.Decimal  `json:"last_mid_price"`
	MarkPrice          decimal.Decimal  `json:"mark_price"`
	LastGridUpdate     time.Time        `json:"last_grid_update"`
	FastEMA            *decimal.Decimal `json:"fast_ema,omitempty"`
	SlowEMA            *decimal.Decimal `json:"slow_ema,omitempty"`
	CrossDirection     string           `json:"cross_direction"`
	EMAPosition        *EMAPositionView `json:"ema_position,omitempty"`
}
