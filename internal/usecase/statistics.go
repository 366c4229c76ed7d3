package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_market_maker/internal/domain"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// buildSnapshot computes the performance summary from loop-owned counters.
func (e *GridEngine) buildSnapshot(now time.Time) domain.PerformanceSnapshot {
	s := domain.PerformanceSnapshot{
		Mode:                string(e.cfg.Mode),
		Balance:             e.currentBalance,
		InitialBalance:      e.initialBalance,
		DailyVolume:         e.dailyVolume,
		TotalVolume:         e.totalVolume,
		TotalTrades:         e.totalTrades,
		EstimatedCommission: e.dailyVolume.Mul(decimal.NewFromFloat(e.cfg.CommissionRate)),
		EMATrades:           e.emaTrades,
		EMAProfit:           e.emaProfit,
		Runtime:             now.Sub(e.startTime),
		TakenAt:             now,
	}
	change := e.currentBalance.Sub(e.initialBalance)
	if e.initialBalance.IsPositive() {
		s.BalanceChangePct = change.Div(e.initialBalance).Mul(hundred)
	}
	if e.currentBalance.IsPositive() {
		s.VolumeMultiple = e.dailyVolume.Div(e.currentBalance)
	}
	s.NetPnL = change.Sub(s.EstimatedCommission).Add(e.emaProfit)
	if e.account != nil {
		s.ActivePositions = len(e.account.Positions)
	}
	return s
}

// publish copies loop state for concurrent readers.
func (e *GridEngine) publish() {
	snap := e.buildSnapshot(e.timeNow())
	views := make([]domain.SymbolView, 0, len(e.symbols))
	for _, symbol := range e.symbols {
		state := e.states[symbol]
		views = append(views, state.View())
		e.metrics.SetSymbolState(symbol, state.NetPosition().InexactFloat64(), state.PendingCount())
	}

	e.mu.Lock()
	e.snapshot = snap
	e.views = views
	e.mu.Unlock()
}

// Snapshot returns the most recently published performance snapshot.
func (e *GridEngine) Snapshot() domain.PerformanceSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// SymbolViews returns the most recently published per-symbol state.
func (e *GridEngine) SymbolViews() []domain.SymbolView {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.SymbolView, len(e.views))
	copy(out, e.views)
	return out
}

func snapshotFields(s domain.PerformanceSnapshot) []zap.Field {
	return []zap.Field{
		zap.String("mode", s.Mode),
		zap.String("balance", s.Balance.StringFixed(2)),
		zap.String("balance_change_pct", s.BalanceChangePct.StringFixed(2)),
		zap.String("daily_volume", s.DailyVolume.StringFixed(2)),
		zap.String("total_volume", s.TotalVolume.StringFixed(2)),
		zap.String("volume_multiple", s.VolumeMultiple.StringFixed(2)),
		zap.Int("total_trades", s.TotalTrades),
		zap.String("estimated_commission", s.EstimatedCommission.StringFixed(4)),
		zap.Int("ema_trades", s.EMATrades),
		zap.String("ema_profit", s.EMAProfit.StringFixed(4)),
		zap.String("net_pnl", s.NetPnL.StringFixed(4)),
		zap.Int("active_positions", s.ActivePositions),
		zap.Duration("runtime", s.Runtime),
	}
}

func (e *GridEngine) logStatistics(ctx context.Context) {
	snap := e.buildSnapshot(e.timeNow())
	e.logger.Info("Performance statistics", snapshotFields(snap)...)

	if e.account != nil {
		for symbol, p := range e.account.Positions {
			e.logger.Info("Open position",
				zap.String("symbol", symbol),
				zap.String("direction", string(p.Direction)),
				zap.String("size", p.Size.String()),
				zap.String("entry", p.EntryPrice.String()),
				zap.String("unrealized_pnl", p.UnrealizedPnL.StringFixed(4)))
		}
	}
	if e.repo != nil {
		if err := e.repo.SaveSnapshot(ctx, &snap); err != nil {
			e.logger.Error("Failed to save snapshot", zap.Error(err))
		}
	}
}
