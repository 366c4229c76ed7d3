package usecase_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/vitos/grid_market_maker/internal/domain"
	"github.com/vitos/grid_market_maker/internal/usecase"
)

func TestSymbolGridState_CanPlaceOrder(t *testing.T) {
	cfg := testConfig()
	cfg.MaxOpenOrders = 2
	s := usecase.NewSymbolGridState(testSymbol, cfg)
	t0 := time.Unix(1_700_000_000, 0)

	assert.True(t, s.CanPlaceOrder(t0))

	s.MarkOrderPlaced(t0)
	assert.False(t, s.CanPlaceOrder(t0.Add(time.Second)))
	assert.Equal(t, 1500*time.Millisecond, s.OrderSlotIn(t0.Add(time.Second)))
	assert.True(t, s.CanPlaceOrder(t0.Add(cfg.MinOrderInterval)))

	s.AddPending(&domain.GridLevel{OrderID: "a", Side: domain.SideBuy})
	s.AddPending(&domain.GridLevel{OrderID: "b", Side: domain.SideSell})
	assert.False(t, s.CanPlaceOrder(t0.Add(time.Hour)), "pending cap reached")

	s.RemovePending("a")
	assert.True(t, s.CanPlaceOrder(t0.Add(time.Hour)))
}

func TestSymbolGridState_LegCountersStayInBounds(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionPerSide = 2
	s := usecase.NewSymbolGridState(testSymbol, cfg)
	one := decimal.NewFromInt(1)

	for i := 0; i < 5; i++ {
		s.UpdatePosition(domain.SideBuy, one, true)
	}
	long, short := s.Legs()
	assert.Equal(t, 2, long)
	assert.Equal(t, 0, short)
	assert.False(t, s.CanOpenPosition(domain.SideBuy))
	assert.True(t, s.CanOpenPosition(domain.SideSell))

	// a buy close retires a short leg; floor is zero
	s.UpdatePosition(domain.SideBuy, one, false)
	_, short = s.Legs()
	assert.Equal(t, 0, short)

	for i := 0; i < 4; i++ {
		s.UpdatePosition(domain.SideSell, one, false)
	}
	long, _ = s.Legs()
	assert.Equal(t, 0, long)
}

func TestSymbolGridState_NetPositionIsOrderIndependent(t *testing.T) {
	type step struct {
		side   domain.Side
		qty    string
		isOpen bool
	}
	steps := []step{
		{domain.SideBuy, "0.5", true},
		{domain.SideSell, "0.2", true},
		{domain.SideSell, "0.5", false},
		{domain.SideBuy, "0.3", true},
		{domain.SideBuy, "0.2", false},
	}

	forward := usecase.NewSymbolGridState(testSymbol, testConfig())
	for _, st := range steps {
		forward.UpdatePosition(st.side, decimal.RequireFromString(st.qty), st.isOpen)
	}
	backward := usecase.NewSymbolGridState(testSymbol, testConfig())
	for i := len(steps) - 1; i >= 0; i-- {
		st := steps[i]
		backward.UpdatePosition(st.side, decimal.RequireFromString(st.qty), st.isOpen)
	}

	// 0.5 - 0.2 - 0.5 + 0.3 + 0.2
	assertDecimal(t, "0.3", forward.NetPosition())
	assert.True(t, forward.NetPosition().Equal(backward.NetPosition()))
}

func TestSymbolGridState_PendingBookkeeping(t *testing.T) {
	s := usecase.NewSymbolGridState(testSymbol, testConfig())
	t0 := time.Unix(1_700_000_000, 0)

	s.AddPending(&domain.GridLevel{OrderID: "b1", Side: domain.SideBuy, PlacedAt: t0})
	s.AddPending(&domain.GridLevel{OrderID: "s1", Side: domain.SideSell, PlacedAt: t0.Add(time.Second)})
	s.AddPending(&domain.GridLevel{OrderID: "c1", Side: domain.SideSell, IsCloseOrder: true, PlacedAt: t0.Add(-time.Second)})

	assert.Equal(t, 3, s.PendingCount())
	assert.Equal(t, 2, s.PendingGridCount())
	assert.Len(t, s.BuyLevels(), 1)
	assert.Len(t, s.SellLevels(), 1)

	ids := []string{}
	for _, l := range s.PendingOrders() {
		ids = append(ids, l.OrderID)
	}
	assert.Equal(t, []string{"c1", "b1", "s1"}, ids)

	assert.NotNil(t, s.RemovePending("s1"))
	assert.Nil(t, s.RemovePending("s1"))
	assert.Empty(t, s.SellLevels())

	view := s.View()
	assert.Equal(t, 2, view.PendingOrders)
	assert.Equal(t, 1, view.PendingCloseOrders)
	assert.Equal(t, 1, view.BuyLevels)
}
