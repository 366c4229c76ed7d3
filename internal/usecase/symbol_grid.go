package usecase

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_market_maker/internal/config"
	"github.com/vitos/grid_market_maker/internal/domain"
)

// SymbolGridState is the engine's bookkeeping for one symbol. It is only
// touched from the engine loop; readers get copies through View.
type SymbolGridState struct {
	Symbol string

	minOrderInterval   time.Duration
	maxOpenOrders      int
	maxPositionPerSide int

	buyLevels  []*domain.GridLevel
	sellLevels []*domain.GridLevel
	pending    map[string]*domain.GridLevel
	// close orders for filled legs that could not be placed yet
	unhedged []*domain.GridLevel

	netPosition   decimal.Decimal
	venuePosition decimal.Decimal
	longLegs      int
	shortLegs     int

	lastMidPrice       decimal.Decimal // anchor of the current grid
	markPrice          decimal.Decimal // latest observed mid
	lastGridUpdate     time.Time
	lastOrderPlacement time.Time

	ema *EMASignalTracker
}

func NewSymbolGridState(symbol string, cfg config.GridConfig) *SymbolGridState {
	return &SymbolGridState{
		Symbol:             symbol,
		minOrderInterval:   cfg.MinOrderInterval,
		maxOpenOrders:      cfg.MaxOpenOrders,
		maxPositionPerSide: cfg.MaxPositionPerSide,
		pending:            make(map[string]*domain.GridLevel),
		ema:                NewEMASignalTracker(symbol, cfg.EMA),
	}
}

// CanPlaceOrder gates grid and EMA placements on the pacing interval and
// the pending-order cap.
func (s *SymbolGridState) CanPlaceOrder(now time.Time) bool {
	if !s.lastOrderPlacement.IsZero() && now.Sub(s.lastOrderPlacement) < s.minOrderInterval {
		return false
	}
	return len(s.pending) < s.maxOpenOrders
}

// OrderSlotIn returns how long until the placement interval allows another order.
func (s *SymbolGridState) OrderSlotIn(now time.Time) time.Duration {
	if s.lastOrderPlacement.IsZero() {
		return 0
	}
	return max(0, s.minOrderInterval-now.Sub(s.lastOrderPlacement))
}

// CanOpenPosition reports whether another opening leg on side fits under the per-side cap.
func (s *SymbolGridState) CanOpenPosition(side domain.Side) bool {
	if side == domain.SideBuy {
		return s.longLegs < s.maxPositionPerSide
	}
	return s.shortLegs < s.maxPositionPerSide
}

// UpdatePosition applies a filled quantity. Opening fills move the net
// position toward side and add a leg; closing fills move it the same way
// and retire a leg of the opposite direction. Leg counters stay within [0, cap].
func (s *SymbolGridState) UpdatePosition(side domain.Side, qty decimal.Decimal, isOpen bool) {
	s.netPosition = s.netPosition.Add(side.Sign().Mul(qty))

	switch {
	case isOpen && side == domain.SideBuy:
		if s.longLegs < s.maxPositionPerSide {
			s.longLegs++
		}
	case isOpen && side == domain.SideSell:
		if s.shortLegs < s.maxPositionPerSide {
			s.shortLegs++
		}
	case side == domain.SideSell:
		s.longLegs = max(0, s.longLegs-1)
	default:
		s.shortLegs = max(0, s.shortLegs-1)
	}
}

func (s *SymbolGridState) MarkOrderPlaced(now time.Time) {
	s.lastOrderPlacement = now
}

// AddPending registers a resting order under its venue id.
func (s *SymbolGridState) AddPending(level *domain.GridLevel) {
	s.pending[level.OrderID] = level
	if level.IsCloseOrder {
		return
	}
	if level.Side == domain.SideBuy {
		s.buyLevels = append(s.buyLevels, level)
	} else {
		s.sellLevels = append(s.sellLevels, level)
	}
}

// RemovePending drops id from the pending set and the grid level lists.
func (s *SymbolGridState) RemovePending(id string) *domain.GridLevel {
	level, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	s.buyLevels = without(s.buyLevels, level)
	s.sellLevels = without(s.sellLevels, level)
	return level
}

func without(levels []*domain.GridLevel, target *domain.GridLevel) []*domain.GridLevel {
	out := levels[:0]
	for _, l := range levels {
		if l != target {
			out = append(out, l)
		}
	}
	return out
}

func (s *SymbolGridState) Pending(id string) (*domain.GridLevel, bool) {
	l, ok := s.pending[id]
	return l, ok
}

func (s *SymbolGridState) PendingCount() int { return len(s.pending) }

// PendingGridCount counts pending orders that are not close orders.
func (s *SymbolGridState) PendingGridCount() int {
	n := 0
	for _, l := range s.pending {
		if !l.IsCloseOrder {
			n++
		}
	}
	return n
}

// PendingOrders returns the pending levels ordered by placement time.
func (s *SymbolGridState) PendingOrders() []*domain.GridLevel {
	out := make([]*domain.GridLevel, 0, len(s.pending))
	for _, l := range s.pending {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].PlacedAt.Before(out[j].PlacedAt)
	})
	return out
}

// ClearPending forgets every pending order and grid level.
func (s *SymbolGridState) ClearPending() {
	s.pending = make(map[string]*domain.GridLevel)
	s.buyLevels = nil
	s.sellLevels = nil
}

// AnchorGrid records mid as the price the current grid was built around.
func (s *SymbolGridState) AnchorGrid(mid decimal.Decimal, now time.Time) {
	s.lastMidPrice = mid
	s.lastGridUpdate = now
}

func (s *SymbolGridState) ObserveMid(mid decimal.Decimal) { s.markPrice = mid }

func (s *SymbolGridState) SetVenuePosition(v decimal.Decimal) { s.venuePosition = v }

func (s *SymbolGridState) NetPosition() decimal.Decimal { return s.netPosition }

func (s *SymbolGridState) VenuePosition() decimal.Decimal { return s.venuePosition }

func (s *SymbolGridState) Legs() (long, short int) { return s.longLegs, s.shortLegs }

func (s *SymbolGridState) LastMidPrice() decimal.Decimal { return s.lastMidPrice }

func (s *SymbolGridState) MarkPrice() decimal.Decimal { return s.markPrice }

func (s *SymbolGridState) LastGridUpdate() time.Time { return s.lastGridUpdate }

func (s *SymbolGridState) BuyLevels() []*domain.GridLevel { return s.buyLevels }

func (s *SymbolGridState) SellLevels() []*domain.GridLevel { return s.sellLevels }

func (s *SymbolGridState) EMA() *EMASignalTracker { return s.ema }

func (s *SymbolGridState) addUnhedged(level *domain.GridLevel) {
	s.unhedged = append(s.unhedged, level)
}

func (s *SymbolGridState) takeUnhedged() []*domain.GridLevel {
	out := s.unhedged
	s.unhedged = nil
	return out
}

func (s *SymbolGridState) UnhedgedCount() int { return len(s.unhedged) }

// View copies the state for readers outside the engine loop.
func (s *SymbolGridState) View() domain.SymbolView {
	v := domain.SymbolView{
		Symbol:         s.Symbol,
		NetPosition:    s.netPosition,
		VenuePosition:  s.venuePosition,
		LongLegs:       s.longLegs,
		ShortLegs:      s.shortLegs,
		PendingOrders:  len(s.pending),
		BuyLevels:      len(s.buyLevels),
		SellLevels:     len(s.sellLevels),
		LastMidPrice:   s.lastMidPrice,
		MarkPrice:      s.markPrice,
		LastGridUpdate: s.lastGridUpdate,
		CrossDirection: string(s.ema.LastCross()),
	}
	v.PendingCloseOrders = v.PendingOrders - s.PendingGridCount()
	v.FastEMA, v.SlowEMA = s.ema.Values()
	if p := s.ema.Position(); p != nil {
		v.EMAPosition = &domain.EMAPositionView{
			Side:       p.Side,
			Size:       p.Size,
			EntryPrice: p.EntryPrice,
			EntryTime:  p.EntryTime,
			SignalType: p.SignalType,
		}
	}
	return v
}
