// Package indicator holds incremental technical indicators.
package indicator

import "github.com/shopspring/decimal"

// precision bounds the number of fractional digits kept between updates;
// decimal multiplication is exact and would otherwise grow without limit.
const precision = 18

// EMA is an exponential moving average updated one price at a time.
//
// The value stays undefined until Period samples have been seen; the first
// defined value is the simple average of those samples, after which each
// update applies EMA = (price - prev) * multiplier + prev.
type EMA struct {
	period     int
	multiplier decimal.Decimal
	warmup     []decimal.Decimal
	value      decimal.Decimal
	ready      bool
	samples    int
}

// NewEMA returns an EMA over period samples. Periods below 1 are treated as 1.
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{
		period:     period,
		multiplier: decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1))),
		warmup:     make([]decimal.Decimal, 0, period),
	}
}

func (e *EMA) Period() int { return e.period }

func (e *EMA) Multiplier() decimal.Decimal { return e.multiplier }

// Samples is the number of prices folded in so far.
func (e *EMA) Samples() int { return e.samples }

// Update folds price into the average.
func (e *EMA) Update(price decimal.Decimal) {
	e.samples++
	if e.ready {
		e.value = price.Sub(e.value).Mul(e.multiplier).Add(e.value).Round(precision)
		return
	}

	e.warmup = append(e.warmup, price)
	if len(e.warmup) < e.period {
		return
	}

	sum := decimal.Zero
	for _, p := range e.warmup {
		sum = sum.Add(p)
	}
	e.value = sum.Div(decimal.NewFromInt(int64(e.period))).Round(precision)
	e.ready = true
	e.warmup = nil
}

// Value returns the current average and false while warming up.
func (e *EMA) Value() (decimal.Decimal, bool) {
	return e.value, e.ready
}

// Reset drops all state.
func (e *EMA) Reset() {
	e.value = decimal.Zero
	e.ready = false
	e.samples = 0
	e.warmup = make([]decimal.Decimal, 0, e.period)
}
