package usecase_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/vitos/grid_market_maker/internal/domain"
	"github.com/vitos/grid_market_maker/internal/usecase"
)

func TestRiskGate_DailyLoss(t *testing.T) {
	gate := usecase.NewRiskGate(0.05, 0.5)
	initial := decimal.NewFromInt(1000)

	tests := []struct {
		name    string
		current int64
		halt    bool
	}{
		{"six percent down trips", 940, true},
		{"four and a half percent down passes", 955, false},
		{"exactly at the limit passes", 950, false},
		{"profit passes", 1100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := gate.Evaluate(initial, decimal.NewFromInt(tt.current), nil)
			assert.Equal(t, tt.halt, d.Halt)
			assert.Equal(t, !tt.halt, d.AllowNewOrders)
		})
	}
}

func TestRiskGate_PositionCap(t *testing.T) {
	gate := usecase.NewRiskGate(0.05, 0.5)
	balance := decimal.NewFromInt(1000)

	account := func(notional int64) *domain.AccountInfo {
		return &domain.AccountInfo{Positions: map[string]*domain.Position{
			testSymbol: {
				Symbol:    testSymbol,
				Direction: domain.DirectionShort,
				Size:      decimal.NewFromInt(1),
				MarkPrice: decimal.NewFromInt(notional),
			},
		}}
	}

	d := gate.Evaluate(balance, balance, account(400))
	assert.False(t, d.Halt)
	assert.True(t, d.AllowNewOrders)

	d = gate.Evaluate(balance, balance, account(600))
	assert.False(t, d.Halt, "exposure only suspends new orders")
	assert.False(t, d.AllowNewOrders)
	assert.NotEmpty(t, d.Reason)
	assertDecimal(t, "0.6", d.ExposurePct)
}
