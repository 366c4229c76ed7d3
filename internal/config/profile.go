package config

import (
	"fmt"
	"strings"
	"time"
)

// Mode names one of the closed set of strategy profiles.
type Mode string

const (
	ModeBaseline  Mode = "baseline"
	ModeEMA       Mode = "ema"
	ModeWiderGrid Mode = "wider_grid"
)

// ParseMode accepts a profile name case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeBaseline, ModeEMA, ModeWiderGrid:
		return m, nil
	case "":
		return ModeEMA, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want baseline, ema or wider_grid)", s)
	}
}

// EMAConfig parameterizes the EMA crossover overlay.
type EMAConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	FastPeriod        int           `yaml:"fast_period" json:"fast_period"`
	SlowPeriod        int           `yaml:"slow_period" json:"slow_period"`
	PositionSizePct   float64       `yaml:"position_size_pct" json:"position_size_pct"`
	TakeProfitPct     float64       `yaml:"take_profit_pct" json:"take_profit_pct"`
	StopLossPct       float64       `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	MinSignalInterval time.Duration `yaml:"min_signal_interval" json:"min_signal_interval"`
	SlippagePct       float64       `yaml:"slippage_pct" json:"slippage_pct"`
}

// GridConfig is the full parameter set the engine runs with.
type GridConfig struct {
	Mode Mode `yaml:"-" json:"mode"`

	GridLevels            int     `yaml:"grid_levels" json:"grid_levels"`
	GridSpacingPct        float64 `yaml:"grid_spacing_pct" json:"grid_spacing_pct"`
	CloseOffsetMultiplier float64 `yaml:"close_offset_multiplier" json:"close_offset_multiplier"`
	RefreshDeviationPct   float64 `yaml:"refresh_deviation_pct" json:"refresh_deviation_pct"`
	OrderBookDepth        int     `yaml:"order_book_depth" json:"order_book_depth"`

	PositionSizePct     float64 `yaml:"position_size_pct" json:"position_size_pct"`
	MaxTotalPositionPct float64 `yaml:"max_total_position_pct" json:"max_total_position_pct"`
	Leverage            int     `yaml:"leverage" json:"leverage"`
	MaxPositionPerSide  int     `yaml:"max_position_per_side" json:"max_position_per_side"`
	DailyLossLimitPct   float64 `yaml:"daily_loss_limit_pct" json:"daily_loss_limit_pct"`

	RefreshInterval       time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
	MinOrderInterval      time.Duration `yaml:"min_order_interval" json:"min_order_interval"`
	// SkipDeniedLevels stops grid generation at the first level the order
	// interval denies instead of waiting for the slot.
	SkipDeniedLevels      bool          `yaml:"skip_denied_levels" json:"skip_denied_levels"`
	MaxOpenOrders         int           `yaml:"max_open_orders" json:"max_open_orders"`
	APICallInterval       time.Duration `yaml:"api_call_interval" json:"api_call_interval"`
	SymbolInterval        time.Duration `yaml:"symbol_interval" json:"symbol_interval"`
	CycleInterval         time.Duration `yaml:"cycle_interval" json:"cycle_interval"`
	AccountUpdateInterval time.Duration `yaml:"account_update_interval" json:"account_update_interval"`
	StatsInterval         time.Duration `yaml:"stats_interval" json:"stats_interval"`
	RiskPause             time.Duration `yaml:"risk_pause" json:"risk_pause"`

	BackoffBase time.Duration `yaml:"backoff_base" json:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max" json:"backoff_max"`

	CommissionRate float64 `yaml:"commission_rate" json:"commission_rate"`

	EMA EMAConfig `yaml:"ema" json:"ema"`

	MinOrderSizes       map[string]float64 `yaml:"min_order_sizes" json:"min_order_sizes"`
	DefaultMinOrderSize float64            `yaml:"default_min_order_size" json:"default_min_order_size"`
}

// MinOrderSize returns the configured minimum for symbol, or the default.
func (c GridConfig) MinOrderSize(symbol string) float64 {
	if v, ok := c.MinOrderSizes[symbol]; ok && v > 0 {
		return v
	}
	return c.DefaultMinOrderSize
}

// Profile returns the defaults for mode.
func Profile(mode Mode) GridConfig {
	cfg := GridConfig{
		Mode:                  mode,
		GridLevels:            2,
		GridSpacingPct:        0.012,
		CloseOffsetMultiplier: 1.5,
		RefreshDeviationPct:   0.005,
		OrderBookDepth:        15,

		PositionSizePct:     0.09,
		MaxTotalPositionPct: 0.5,
		Leverage:            10,
		MaxPositionPerSide:  10,
		DailyLossLimitPct:   0.05,

		RefreshInterval:       120 * time.Second,
		MinOrderInterval:      2500 * time.Millisecond,
		MaxOpenOrders:         30,
		APICallInterval:       1300 * time.Millisecond,
		SymbolInterval:        5 * time.Second,
		CycleInterval:         10 * time.Second,
		AccountUpdateInterval: 60 * time.Second,
		StatsInterval:         60 * time.Second,
		RiskPause:             60 * time.Second,

		BackoffBase: 5 * time.Second,
		BackoffMax:  180 * time.Second,

		CommissionRate: 0.0002,

		EMA: EMAConfig{
			Enabled:           mode == ModeEMA,
			FastPeriod:        9,
			SlowPeriod:        21,
			PositionSizePct:   0.25,
			TakeProfitPct:     0.006,
			StopLossPct:       0.003,
			MinSignalInterval: 600 * time.Second,
			SlippagePct:       0.001,
		},

		MinOrderSizes: map[string]float64{
			"BTC-USD": 0.001,
			"ETH-USD": 0.02,
			"SOL-USD": 0.3,
			"BNB-USD": 0.01,
		},
		DefaultMinOrderSize: 0.01,
	}

	if mode == ModeWiderGrid {
		cfg.GridSpacingPct = 0.015
	}
	return cfg
}

// Merge overlays every non-zero field of o onto c.
func (c GridConfig) Merge(o GridConfig) GridConfig {
	setInt(&c.GridLevels, o.GridLevels)
	setFloat(&c.GridSpacingPct, o.GridSpacingPct)
	setFloat(&c.CloseOffsetMultiplier, o.CloseOffsetMultiplier)
	setFloat(&c.RefreshDeviationPct, o.RefreshDeviationPct)
	setInt(&c.OrderBookDepth, o.OrderBookDepth)
	setFloat(&c.PositionSizePct, o.PositionSizePct)
	setFloat(&c.MaxTotalPositionPct, o.MaxTotalPositionPct)
	setInt(&c.Leverage, o.Leverage)
	setInt(&c.MaxPositionPerSide, o.MaxPositionPerSide)
	setFloat(&c.DailyLossLimitPct, o.DailyLossLimitPct)
	setDuration(&c.RefreshInterval, o.RefreshInterval)
	setDuration(&c.MinOrderInterval, o.MinOrderInterval)
	if o.SkipDeniedLevels {
		c.SkipDeniedLevels = true
	}
	setInt(&c.MaxOpenOrders, o.MaxOpenOrders)
	setDuration(&c.APICallInterval, o.APICallInterval)
	setDuration(&c.SymbolInterval, o.SymbolInterval)
	setDuration(&c.CycleInterval, o.CycleInterval)
	setDuration(&c.AccountUpdateInterval, o.AccountUpdateInterval)
	setDuration(&c.StatsInterval, o.StatsInterval)
	setDuration(&c.RiskPause, o.RiskPause)
	setDuration(&c.BackoffBase, o.BackoffBase)
	setDuration(&c.BackoffMax, o.BackoffMax)
	setFloat(&c.CommissionRate, o.CommissionRate)

	setInt(&c.EMA.FastPeriod, o.EMA.FastPeriod)
	setInt(&c.EMA.SlowPeriod, o.EMA.SlowPeriod)
	setFloat(&c.EMA.PositionSizePct, o.EMA.PositionSizePct)
	setFloat(&c.EMA.TakeProfitPct, o.EMA.TakeProfitPct)
	setFloat(&c.EMA.StopLossPct, o.EMA.StopLossPct)
	setDuration(&c.EMA.MinSignalInterval, o.EMA.MinSignalInterval)
	setFloat(&c.EMA.SlippagePct, o.EMA.SlippagePct)

	if len(o.MinOrderSizes) > 0 {
		merged := make(map[string]float64, len(c.MinOrderSizes)+len(o.MinOrderSizes))
		for k, v := range c.MinOrderSizes {
			merged[k] = v
		}
		for k, v := range o.MinOrderSizes {
			merged[k] = v
		}
		c.MinOrderSizes = merged
	}
	setFloat(&c.DefaultMinOrderSize, o.DefaultMinOrderSize)
	return c
}

// Validate rejects parameter sets the engine cannot run with.
func (c GridConfig) Validate() error {
	var errs []string
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	check(c.GridLevels >= 1, "grid_levels must be >= 1")
	check(c.GridSpacingPct > 0 && c.GridSpacingPct < 1, "grid_spacing_pct must be in (0,1)")
	check(c.CloseOffsetMultiplier > 0, "close_offset_multiplier must be > 0")
	check(c.GridSpacingPct*float64(c.GridLevels) < 1, "grid_spacing_pct * grid_levels must be < 1")
	check(c.PositionSizePct > 0 && c.PositionSizePct <= 1, "position_size_pct must be in (0,1]")
	check(c.MaxTotalPositionPct > 0, "max_total_position_pct must be > 0")
	check(c.Leverage >= 1 && c.Leverage <= 100, "leverage must be in [1,100]")
	check(c.MaxPositionPerSide >= 1, "max_position_per_side must be >= 1")
	check(c.DailyLossLimitPct > 0 && c.DailyLossLimitPct < 1, "daily_loss_limit_pct must be in (0,1)")
	check(c.MaxOpenOrders >= 1, "max_open_orders must be >= 1")
	check(c.MinOrderInterval >= 0 && c.APICallInterval >= 0, "intervals must not be negative")
	check(c.BackoffBase > 0 && c.BackoffMax >= c.BackoffBase, "backoff_max must be >= backoff_base > 0")
	check(c.DefaultMinOrderSize > 0, "default_min_order_size must be > 0")

	if c.EMA.Enabled {
		check(c.EMA.FastPeriod >= 1, "ema.fast_period must be >= 1")
		check(c.EMA.SlowPeriod > c.EMA.FastPeriod, "ema.slow_period must be > ema.fast_period")
		check(c.EMA.PositionSizePct > 0 && c.EMA.PositionSizePct <= 1, "ema.position_size_pct must be in (0,1]")
		check(c.EMA.SlippagePct >= 0 && c.EMA.SlippagePct < 1, "ema.slippage_pct must be in [0,1)")
		check(c.EMA.TakeProfitPct >= 0 && c.EMA.StopLossPct >= 0, "ema take profit / stop loss must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid grid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
