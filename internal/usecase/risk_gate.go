package usecase

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_market_maker/internal/domain"
)

// RiskDecision is the outcome of one pre-pass risk evaluation.
type RiskDecision struct {
	// Halt skips the whole pass.
	Halt bool
	// AllowNewOrders is false when exposure is over the cap; fills are
	// still reconciled and close orders still placed.
	AllowNewOrders bool
	Reason         string
	LossPct        decimal.Decimal
	ExposurePct    decimal.Decimal
}

// RiskGate applies the daily-loss and total-exposure limits.
type RiskGate struct {
	dailyLossLimit decimal.Decimal
	maxExposure    decimal.Decimal
}

func NewRiskGate(dailyLossLimitPct, maxTotalPositionPct float64) *RiskGate {
	return &RiskGate{
		dailyLossLimit: decimal.NewFromFloat(dailyLossLimitPct),
		maxExposure:    decimal.NewFromFloat(maxTotalPositionPct),
	}
}

func (g *RiskGate) Evaluate(initial, current decimal.Decimal, account *domain.AccountInfo) RiskDecision {
	d := RiskDecision{AllowNewOrders: true}

	if initial.IsPositive() {
		d.LossPct = initial.Sub(current).Div(initial)
		if d.LossPct.GreaterThan(g.dailyLossLimit) {
			d.Halt = true
			d.AllowNewOrders = false
			d.Reason = fmt.Sprintf("daily loss %s%% exceeds limit %s%%",
				d.LossPct.Mul(decimal.NewFromInt(100)).StringFixed(2),
				g.dailyLossLimit.Mul(decimal.NewFromInt(100)).StringFixed(2))
			return d
		}
	}

	if account == nil || !current.IsPositive() {
		return d
	}
	exposure := decimal.Zero
	for _, p := range account.Positions {
		exposure = exposure.Add(p.Notional())
	}
	d.ExposurePct = exposure.Div(current)
	if d.ExposurePct.GreaterThan(g.maxExposure) {
		d.AllowNewOrders = false
		d.Reason = fmt.Sprintf("exposure %s%% of balance exceeds cap %s%%",
			d.ExposurePct.Mul(decimal.NewFromInt(100)).StringFixed(2),
			g.maxExposure.Mul(decimal.NewFromInt(100)).StringFixed(2))
	}
	return d
}
