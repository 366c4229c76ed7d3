package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_market_maker/internal/domain"
	"go.uber.org/zap"
)

// reconcileFills diffs the pending map against the venue's active orders.
// Every vanished opening level is booked and paired with one close order;
// vanished close orders retire their leg. Levels leave the pending map once
// booked, so a second pass over the same active set changes nothing.
func (e *GridEngine) reconcileFills(ctx context.Context, state *SymbolGridState, contractID string) error {
	if state.PendingCount() == 0 && state.UnhedgedCount() == 0 {
		return nil
	}
	log := e.logger.With(zap.String("symbol", state.Symbol))

	if err := e.pacer.Wait(ctx); err != nil {
		return err
	}
	ids, err := e.exchange.GetActiveOrders(ctx, contractID)
	if err != nil {
		// a failed listing must never be read as "everything filled"
		return fmt.Errorf("get active orders: %w", err)
	}
	active := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		active[id] = struct{}{}
	}

	var callErr error
	for _, level := range state.PendingOrders() {
		if _, ok := active[level.OrderID]; ok {
			continue
		}

		var (
			confidence = domain.FillInferred
			fillPrice  = level.Price
		)
		if callErr == nil {
			c, price, keep, err := e.classifyVanished(ctx, contractID, level)
			if err != nil {
				callErr = err
			}
			if keep {
				continue
			}
			confidence = c
			if price.IsPositive() {
				fillPrice = price
			}
		}

		state.RemovePending(level.OrderID)

		if confidence == domain.FillCancelled {
			e.metrics.FillObserved(state.Symbol, level.Side, levelKind(level), confidence)
			log.Info("Order cancelled by venue",
				zap.String("order_id", level.OrderID),
				zap.String("side", string(level.Side)),
				zap.Bool("close_order", level.IsCloseOrder))
			e.journalFill(ctx, state.Symbol, level, fillPrice, confidence)
			if level.IsCloseOrder {
				// the leg is still open; put its close back on the book.
				// A post-only close the venue cancelled crossed the book,
				// so the retry rests it as a plain limit.
				state.addUnhedged(&domain.GridLevel{
					Price:        level.Price,
					Size:         level.Size,
					Side:         level.Side,
					IsCloseOrder: true,
					OrderType:    domain.OrderTypeLimit,
				})
			}
			continue
		}

		if err := e.bookFill(ctx, state, contractID, level, fillPrice, confidence, callErr == nil); err != nil {
			callErr = err
		}
	}

	if callErr == nil {
		callErr = e.retryUnhedged(ctx, state, contractID)
	}
	e.metrics.SetSymbolState(state.Symbol, state.NetPosition().InexactFloat64(), state.PendingCount())
	return callErr
}

// bookFill applies a traded level to the position and the counters. An
// opening level gets its close order; with placeClose false, or when the
// placement fails, the close waits in the unhedged queue.
func (e *GridEngine) bookFill(ctx context.Context, state *SymbolGridState, contractID string, level *domain.GridLevel, fillPrice decimal.Decimal, confidence domain.FillConfidence, placeClose bool) error {
	log := e.logger.With(zap.String("symbol", state.Symbol))
	e.metrics.FillObserved(state.Symbol, level.Side, levelKind(level), confidence)

	level.Filled = true
	level.FilledAt = e.timeNow()

	var err error
	if level.IsCloseOrder {
		state.UpdatePosition(level.Side, level.Size, false)
		log.Info("Close order filled",
			zap.String("side", string(level.Side)),
			zap.String("price", level.Price.String()),
			zap.String("size", level.Size.String()),
			zap.String("confidence", string(confidence)),
			zap.String("net_position", state.NetPosition().String()))
	} else {
		state.UpdatePosition(level.Side, level.Size, true)
		log.Info("Grid order filled",
			zap.String("side", string(level.Side)),
			zap.String("price", level.Price.String()),
			zap.String("size", level.Size.String()),
			zap.String("confidence", string(confidence)),
			zap.String("net_position", state.NetPosition().String()))

		closeLevel := e.newCloseLevel(level)
		if !placeClose {
			state.addUnhedged(closeLevel)
		} else if err = e.placeCloseOrder(ctx, state, contractID, closeLevel); err != nil {
			state.addUnhedged(closeLevel)
		}
	}

	e.recordTrade(level)
	e.journalFill(ctx, state.Symbol, level, fillPrice, confidence)
	return err
}

func levelKind(level *domain.GridLevel) string {
	if level.IsCloseOrder {
		return KindClose
	}
	return KindGrid
}

// classifyVanished asks the venue what happened to an order that left the
// active set. keep reports that the level should stay pending for now.
func (e *GridEngine) classifyVanished(ctx context.Context, contractID string, level *domain.GridLevel) (domain.FillConfidence, decimal.Decimal, bool, error) {
	reader, ok := e.exchange.(domain.OrderStatusReader)
	if !ok {
		return domain.FillInferred, decimal.Zero, false, nil
	}

	if err := e.pacer.Wait(ctx); err != nil {
		return "", decimal.Zero, true, err
	}
	order, err := reader.GetOrder(ctx, contractID, level.OrderID)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return domain.FillInferred, decimal.Zero, false, nil
	case err != nil:
		return "", decimal.Zero, true, fmt.Errorf("get order %s: %w", level.OrderID, err)
	}

	switch order.Status {
	case domain.OrderStatusFilled:
		return domain.FillConfirmed, order.AvgFillPrice, false, nil
	case domain.OrderStatusCancelled, domain.OrderStatusRejected:
		if order.FilledSize.IsPositive() {
			// partially traded before cancellation: book what traded
			level.Size = order.FilledSize
			return domain.FillConfirmed, order.AvgFillPrice, false, nil
		}
		return domain.FillCancelled, decimal.Zero, false, nil
	default:
		// still working on the venue; the listing was stale
		return "", decimal.Zero, true, nil
	}
}

// CloseOrderPrice is entry*(1+offset) for a filled buy and entry*(1-offset)
// for a filled sell, where offset = spacing*multiplier.
func CloseOrderPrice(filled domain.Side, entry decimal.Decimal, spacing, multiplier float64) decimal.Decimal {
	offset := decimal.NewFromFloat(spacing).Mul(decimal.NewFromFloat(multiplier))
	if filled == domain.SideBuy {
		return entry.Mul(decimal.NewFromInt(1).Add(offset))
	}
	return entry.Mul(decimal.NewFromInt(1).Sub(offset))
}

func (e *GridEngine) newCloseLevel(filled *domain.GridLevel) *domain.GridLevel {
	return &domain.GridLevel{
		Price:        CloseOrderPrice(filled.Side, filled.Price, e.cfg.GridSpacingPct, e.cfg.CloseOffsetMultiplier),
		Size:         filled.Size,
		Side:         filled.Side.Opposite(),
		IsCloseOrder: true,
	}
}

// placeCloseOrder rests closeLevel on the book. A post-only rejection means
// the market already trades through the target, so the close goes in as a
// plain limit at the same price. Closes re-queued as limit skip the
// post-only attempt.
func (e *GridEngine) placeCloseOrder(ctx context.Context, state *SymbolGridState, contractID string, closeLevel *domain.GridLevel) error {
	typ := domain.OrderTypePostOnly
	if closeLevel.OrderType == domain.OrderTypeLimit {
		typ = domain.OrderTypeLimit
	}
	err := e.placeLevel(ctx, state, contractID, closeLevel, typ, KindClose)
	if errors.Is(err, domain.ErrOrderRejected) && typ == domain.OrderTypePostOnly {
		err = e.placeLevel(ctx, state, contractID, closeLevel, domain.OrderTypeLimit, KindClose)
	}
	if err != nil {
		return fmt.Errorf("place close order: %w", err)
	}

	e.logger.Info("Close order placed",
		zap.String("symbol", state.Symbol),
		zap.String("side", string(closeLevel.Side)),
		zap.String("price", closeLevel.Price.String()),
		zap.String("size", closeLevel.Size.String()),
		zap.String("order_id", closeLevel.OrderID))
	return nil
}

// retryUnhedged places close orders that could not be placed earlier.
func (e *GridEngine) retryUnhedged(ctx context.Context, state *SymbolGridState, contractID string) error {
	closes := state.takeUnhedged()
	for i, closeLevel := range closes {
		if err := e.placeCloseOrder(ctx, state, contractID, closeLevel); err != nil {
			for _, rest := range closes[i:] {
				state.addUnhedged(rest)
			}
			return err
		}
	}
	return nil
}

func (e *GridEngine) recordTrade(level *domain.GridLevel) {
	notional := level.Notional()
	e.totalTrades++
	e.totalVolume = e.totalVolume.Add(notional)
	e.dailyVolume = e.dailyVolume.Add(notional)
}

func (e *GridEngine) journalFill(ctx context.Context, symbol string, level *domain.GridLevel, price decimal.Decimal, confidence domain.FillConfidence) {
	if e.repo == nil {
		return
	}
	fill := &domain.Fill{
		Symbol:       symbol,
		OrderID:      level.OrderID,
		Side:         level.Side,
		Price:        price,
		Size:         level.Size,
		IsCloseOrder: level.IsCloseOrder,
		Confidence:   confidence,
		FilledAt:     e.timeNow(),
	}
	if err := e.repo.SaveFill(ctx, fill); err != nil {
		e.logger.Error("Failed to journal fill", zap.String("symbol", symbol), zap.Error(err))
	}
}
