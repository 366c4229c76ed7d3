package domain

import "github.com/shopspring/decimal"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that closes exposure opened on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	if s == SideBuy {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

type PositionDirection string

const (
	DirectionLong  PositionDirection = "LONG"
	DirectionShort PositionDirection = "SHORT"
)

// Position is an open position as reported by the venue.
type Position struct {
	Symbol        string            `json:"symbol"`
	ContractID    string            `json:"contract_id"`
	Direction     PositionDirection `json:"direction"`
	Size          decimal.Decimal   `json:"size"`
	EntryPrice    decimal.Decimal   `json:"entry_price"`
	MarkPrice     decimal.Decimal   `json:"mark_price"`
	UnrealizedPnL decimal.Decimal   `json:"unrealized_pnl"`
	Leverage      int               `json:"leverage"`
}

// Signed returns the position size, negative for shorts.
func (p *Position) Signed() decimal.Decimal {
	if p.Direction == DirectionShort {
		return p.Size.Abs().Neg()
	}
	return p.Size.Abs()
}

// Notional is the mark-to-market value of the position.
func (p *Position) Notional() decimal.Decimal {
	return p.MarkPrice.Mul(p.Size).Abs()
}

// AccountInfo is a balance and position snapshot.
type AccountInfo struct {
	Balance          decimal.Decimal      `json:"balance"`
	AvailableBalance decimal.Decimal      `json:"available_balance"`
	Positions        map[string]*Position `json:"positions"` // keyed by symbol
}
