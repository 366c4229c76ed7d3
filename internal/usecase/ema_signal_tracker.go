package usecase

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_market_maker/internal/config"
	"github.com/vitos/grid_market_maker/internal/domain"
	"github.com/vitos/grid_market_maker/internal/indicator"
)

type CrossDirection string

const (
	CrossNone   CrossDirection = ""
	CrossGolden CrossDirection = "golden"
	CrossDeath  CrossDirection = "death"
)

// Signal is a trade intent produced by a fresh EMA crossover.
type Signal struct {
	Side       domain.Side
	Price      decimal.Decimal // fast EMA at the cross
	SignalType string          // "golden_cross" or "death_cross"
	FastEMA    decimal.Decimal
	SlowEMA    decimal.Decimal
	At         time.Time
}

// EMAPosition is the synthetic position opened by a signal.
type EMAPosition struct {
	Side       domain.Side
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	EntryTime  time.Time
	SignalType string
	OrderID    string
}

// EMASignalTracker detects fast/slow EMA crossovers for one symbol and
// owns the at-most-one EMA position opened from them.
type EMASignalTracker struct {
	symbol            string
	enabled           bool
	fast              *indicator.EMA
	slow              *indicator.EMA
	minSignalInterval time.Duration
	takeProfitPct     decimal.Decimal
	stopLossPct       decimal.Decimal

	lastSignalAt time.Time
	lastCross    CrossDirection
	position     *EMAPosition
}

func NewEMASignalTracker(symbol string, cfg config.EMAConfig) *EMASignalTracker {
	return &EMASignalTracker{
		symbol:            symbol,
		enabled:           cfg.Enabled,
		fast:              indicator.NewEMA(cfg.FastPeriod),
		slow:              indicator.NewEMA(cfg.SlowPeriod),
		minSignalInterval: cfg.MinSignalInterval,
		takeProfitPct:     decimal.NewFromFloat(cfg.TakeProfitPct),
		stopLossPct:       decimal.NewFromFloat(cfg.StopLossPct),
	}
}

// Update folds price into both averages and returns a signal when the
// cross direction changed and the cooldown since the last fired signal
// has elapsed. The recorded direction follows every change, so flips
// inside the cooldown are absorbed rather than replayed afterwards.
func (t *EMASignalTracker) Update(price decimal.Decimal, now time.Time) *Signal {
	t.fast.Update(price)
	t.slow.Update(price)

	if !t.enabled {
		return nil
	}

	fast, okFast := t.fast.Value()
	slow, okSlow := t.slow.Value()
	if !okFast || !okSlow {
		return nil
	}

	var cross CrossDirection
	switch fast.Cmp(slow) {
	case 1:
		cross = CrossGolden
	case -1:
		cross = CrossDeath
	default:
		// touching averages keep the previous direction
		return nil
	}

	if cross == t.lastCross {
		return nil
	}
	t.lastCross = cross

	if !t.lastSignalAt.IsZero() && now.Sub(t.lastSignalAt) < t.minSignalInterval {
		return nil
	}
	t.lastSignalAt = now

	sig := &Signal{Price: fast, FastEMA: fast, SlowEMA: slow, At: now}
	if cross == CrossGolden {
		sig.Side = domain.SideBuy
		sig.SignalType = "golden_cross"
	} else {
		sig.Side = domain.SideSell
		sig.SignalType = "death_cross"
	}
	return sig
}

func (t *EMASignalTracker) Enabled() bool { return t.enabled }

func (t *EMASignalTracker) LastCross() CrossDirection { return t.lastCross }

func (t *EMASignalTracker) LastSignalAt() time.Time { return t.lastSignalAt }

// Values returns the fast and slow EMA, nil while warming up.
func (t *EMASignalTracker) Values() (fast, slow *decimal.Decimal) {
	if v, ok := t.fast.Value(); ok {
		fast = &v
	}
	if v, ok := t.slow.Value(); ok {
		slow = &v
	}
	return fast, slow
}

func (t *EMASignalTracker) Position() *EMAPosition { return t.position }

func (t *EMASignalTracker) HasPosition() bool { return t.position != nil }

// OpenPosition records p; any previous position must have been closed first.
func (t *EMASignalTracker) OpenPosition(p *EMAPosition) {
	t.position = p
}

// ClosePosition clears and returns the open position.
func (t *EMASignalTracker) ClosePosition() *EMAPosition {
	p := t.position
	t.position = nil
	return p
}

// ExitReason reports whether mid has reached the take-profit or stop-loss
// distance from the open position's entry. Zero percentages disable the check.
func (t *EMASignalTracker) ExitReason(mid decimal.Decimal) (string, bool) {
	p := t.position
	if p == nil || p.EntryPrice.IsZero() {
		return "", false
	}

	move := mid.Sub(p.EntryPrice).Div(p.EntryPrice)
	if p.Side == domain.SideSell {
		move = move.Neg()
	}

	if t.takeProfitPct.IsPositive() && move.GreaterThanOrEqual(t.takeProfitPct) {
		return "take_profit", true
	}
	if t.stopLossPct.IsPositive() && move.LessThanOrEqual(t.stopLossPct.Neg()) {
		return "stop_loss", true
	}
	return "", false
}

// EMAPnL is (exit - entry) * size for longs and the mirror for shorts.
func EMAPnL(p *EMAPosition, exit decimal.Decimal) decimal.Decimal {
	diff := exit.Sub(p.EntryPrice)
	if p.Side == domain.SideSell {
		diff = diff.Neg()
	}
	return diff.Mul(p.Size)
}
