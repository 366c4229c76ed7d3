package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_market_maker/internal/domain"
	"go.uber.org/zap"
)

// handleEMA closes the open EMA position on take-profit, stop-loss or a
// reversing signal, then opens the signal's position. A failed close leaves
// the old position in place and skips the open.
func (e *GridEngine) handleEMA(ctx context.Context, state *SymbolGridState, contractID string, mid decimal.Decimal, signal *Signal, allowNew bool) error {
	tracker := state.EMA()
	log := e.logger.With(zap.String("symbol", state.Symbol))

	if signal == nil {
		if reason, ok := tracker.ExitReason(mid); ok {
			return e.closeEMAPosition(ctx, state, contractID, mid, reason)
		}
		return nil
	}

	e.metrics.EMASignal(state.Symbol, signal.SignalType)
	log.Info("EMA signal",
		zap.String("signal", signal.SignalType),
		zap.String("fast", signal.FastEMA.StringFixed(4)),
		zap.String("slow", signal.SlowEMA.StringFixed(4)),
		zap.String("mid", mid.String()))

	if tracker.HasPosition() {
		if err := e.closeEMAPosition(ctx, state, contractID, mid, "reverse_signal"); err != nil {
			return err
		}
	}

	if !allowNew {
		log.Info("EMA entry skipped, new orders suspended")
		return nil
	}
	return e.openEMAPosition(ctx, state, contractID, mid, signal)
}

// slippagePrice moves mid against the taker by the configured slippage so
// the limit order trades near market.
func (e *GridEngine) slippagePrice(side domain.Side, mid decimal.Decimal) decimal.Decimal {
	slip := decimal.NewFromFloat(e.cfg.EMA.SlippagePct)
	if side == domain.SideBuy {
		return mid.Mul(decimal.NewFromInt(1).Add(slip))
	}
	return mid.Mul(decimal.NewFromInt(1).Sub(slip))
}

func (e *GridEngine) openEMAPosition(ctx context.Context, state *SymbolGridState, contractID string, mid decimal.Decimal, signal *Signal) error {
	size := OrderSize(e.currentBalance, mid, e.cfg.EMA.PositionSizePct, e.cfg.MinOrderSize(state.Symbol))
	if !e.currentBalance.IsPositive() {
		e.logger.Warn("No balance for EMA entry", zap.String("symbol", state.Symbol))
		return nil
	}

	price := e.slippagePrice(signal.Side, mid)
	order, err := e.submit(ctx, state.Symbol, contractID, signal.Side, domain.OrderTypeLimit, size, price, KindEMA)
	if err != nil {
		return fmt.Errorf("open ema position: %w", err)
	}

	entry := e.confirmedPrice(ctx, contractID, order, mid)
	state.EMA().OpenPosition(&EMAPosition{
		Side:       signal.Side,
		Size:       size,
		EntryPrice: entry,
		EntryTime:  e.timeNow(),
		SignalType: signal.SignalType,
		OrderID:    order.OrderID,
	})
	e.emaTrades++

	e.logger.Info("EMA position opened",
		zap.String("symbol", state.Symbol),
		zap.String("side", string(signal.Side)),
		zap.String("size", size.String()),
		zap.String("entry", entry.String()),
		zap.String("signal", signal.SignalType))
	return nil
}

func (e *GridEngine) closeEMAPosition(ctx context.Context, state *SymbolGridState, contractID string, mid decimal.Decimal, reason string) error {
	tracker := state.EMA()
	pos := tracker.Position()
	if pos == nil {
		return nil
	}

	side := pos.Side.Opposite()
	order, err := e.submit(ctx, state.Symbol, contractID, side, domain.OrderTypeLimit, pos.Size, e.slippagePrice(side, mid), KindEMA)
	if err != nil {
		return fmt.Errorf("close ema position: %w", err)
	}

	exit := e.confirmedPrice(ctx, contractID, order, mid)
	tracker.ClosePosition()
	pnl := EMAPnL(pos, exit)
	e.emaProfit = e.emaProfit.Add(pnl)

	e.logger.Info("EMA position closed",
		zap.String("symbol", state.Symbol),
		zap.String("side", string(pos.Side)),
		zap.String("entry", pos.EntryPrice.String()),
		zap.String("exit", exit.String()),
		zap.String("pnl", pnl.StringFixed(4)),
		zap.String("reason", reason))

	if e.repo != nil {
		trade := &domain.EMATrade{
			Symbol:     state.Symbol,
			Side:       pos.Side,
			Size:       pos.Size,
			EntryPrice: pos.EntryPrice,
			ExitPrice:  exit,
			PnL:        pnl,
			SignalType: pos.SignalType,
			ExitReason: reason,
			OpenedAt:   pos.EntryTime,
			ClosedAt:   e.timeNow(),
		}
		if err := e.repo.SaveEMATrade(ctx, trade); err != nil {
			e.logger.Error("Failed to journal EMA trade", zap.String("symbol", state.Symbol), zap.Error(err))
		}
	}
	return nil
}

// confirmedPrice returns the venue's average fill price when it reports
// one, falling back to mid.
func (e *GridEngine) confirmedPrice(ctx context.Context, contractID string, order *domain.Order, mid decimal.Decimal) decimal.Decimal {
	if order.AvgFillPrice.IsPositive() {
		return order.AvgFillPrice
	}
	reader, ok := e.exchange.(domain.OrderStatusReader)
	if !ok {
		return mid
	}
	if err := e.pacer.Wait(ctx); err != nil {
		return mid
	}
	got, err := reader.GetOrder(ctx, contractID, order.OrderID)
	if err != nil || !got.AvgFillPrice.IsPositive() {
		return mid
	}
	return got.AvgFillPrice
}
