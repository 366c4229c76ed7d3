package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GridLevel is one resting order of a grid, or the close order paired with a filled leg.
type GridLevel struct {
	Price        decimal.Decimal
	Size         decimal.Decimal
	Side         Side
	IsCloseOrder bool
	OrderType    OrderType
	OrderID      string
	Filled       bool
	FilledAt     time.Time
	PlacedAt     time.Time
}

// Notional is price times size.
func (l *GridLevel) Notional() decimal.Decimal {
	return l.Price.Mul(l.Size)
}
