package usecase_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vitos/grid_market_maker/internal/config"
	"github.com/vitos/grid_market_maker/internal/domain"
	"github.com/vitos/grid_market_maker/internal/usecase"
	"go.uber.org/zap"
)

const testSymbol = "BTCUSDT"

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	return nil
}

type placedOrder struct {
	ID  string
	Req domain.OrderRequest
}

// fakeExchange keeps orders resting until the test fills or cancels them.
type fakeExchange struct {
	mu sync.Mutex

	bid, ask    decimal.Decimal
	bookErr     error
	panicOnBook bool

	balance      decimal.Decimal
	positions    map[string]*domain.Position
	accountErr   error
	accountCalls int

	placeErr  func(req domain.OrderRequest) error
	activeErr error

	nextID    int
	placed    []placedOrder
	active    map[string]domain.OrderRequest
	cancelled []string
	cancelAll []string
	// contract ids the engine addressed, per call
	listedFor    []string
	cancelledFor []string
	leverageFor  []string

	contracts []domain.Contract
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		bid:       decimal.NewFromInt(100),
		ask:       decimal.RequireFromString("100.2"),
		balance:   decimal.NewFromInt(1000),
		positions: map[string]*domain.Position{},
		active:    map[string]domain.OrderRequest{},
		contracts: []domain.Contract{{ID: testSymbol, Name: testSymbol, Status: "Trading"}},
	}
}

func (f *fakeExchange) SetBook(bid, ask string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bid = decimal.RequireFromString(bid)
	f.ask = decimal.RequireFromString(ask)
}

func (f *fakeExchange) GetOrderBook(ctx context.Context, contractID string, depth int) (*domain.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnBook {
		panic("book exploded")
	}
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	if f.bid.IsZero() {
		return &domain.OrderBook{Symbol: contractID}, nil
	}
	return &domain.OrderBook{
		Symbol: contractID,
		Bids:   []domain.OrderBookEntry{{Price: f.bid, Size: decimal.NewFromInt(5)}},
		Asks:   []domain.OrderBookEntry{{Price: f.ask, Size: decimal.NewFromInt(5)}},
	}, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		if err := f.placeErr(req); err != nil {
			return nil, err
		}
	}
	f.nextID++
	id := fmt.Sprintf("ord-%d", f.nextID)
	f.placed = append(f.placed, placedOrder{ID: id, Req: req})
	f.active[id] = req
	return &domain.Order{
		OrderID: id,
		Symbol:  req.Symbol,
		Side:    req.Side,
		Type:    req.Type,
		Price:   req.Price,
		Size:    req.Size,
		Status:  domain.OrderStatusOpen,
	}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledFor = append(f.cancelledFor, symbol)
	req, ok := f.active[orderID]
	if !ok || req.ContractID != symbol {
		return domain.ErrOrderNotFound
	}
	delete(f.active, orderID)
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelAll = append(f.cancelAll, symbol)
	for id, req := range f.active {
		if symbol == "" || req.ContractID == symbol {
			delete(f.active, id)
		}
	}
	return nil
}

func (f *fakeExchange) GetActiveOrders(ctx context.Context, symbol string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listedFor = append(f.listedFor, symbol)
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	var ids []string
	for id, req := range f.active {
		if req.ContractID == symbol {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeExchange) GetAccountInfo(ctx context.Context) (*domain.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountCalls++
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	positions := make(map[string]*domain.Position, len(f.positions))
	for k, v := range f.positions {
		positions[k] = v
	}
	return &domain.AccountInfo{Balance: f.balance, AvailableBalance: f.balance, Positions: positions}, nil
}

func (f *fakeExchange) ListContracts(ctx context.Context) ([]domain.Contract, error) {
	return f.contracts, nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, contractID string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leverageFor = append(f.leverageFor, contractID)
	return nil
}

// Fill removes an order from the active set as the venue would after a trade.
func (f *fakeExchange) Fill(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, id)
}

func (f *fakeExchange) Placed() []placedOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]placedOrder, len(f.placed))
	copy(out, f.placed)
	return out
}

// find returns the first placed order matching side and price.
func (f *fakeExchange) find(t *testing.T, side domain.Side, price string) placedOrder {
	t.Helper()
	want := decimal.RequireFromString(price)
	for _, p := range f.Placed() {
		if p.Req.Side == side && p.Req.Price.Equal(want) {
			return p
		}
	}
	t.Fatalf("no %s order at %s", side, price)
	return placedOrder{}
}

// last returns the most recent placed order matching side and price.
func (f *fakeExchange) last(t *testing.T, side domain.Side, price string) placedOrder {
	t.Helper()
	want := decimal.RequireFromString(price)
	placed := f.Placed()
	for i := len(placed) - 1; i >= 0; i-- {
		if placed[i].Req.Side == side && placed[i].Req.Price.Equal(want) {
			return placed[i]
		}
	}
	t.Fatalf("no %s order at %s", side, price)
	return placedOrder{}
}

// statusExchange adds per-order status lookups.
type statusExchange struct {
	*fakeExchange
	statuses   map[string]*domain.Order
	queriedFor []string
}

func (s *statusExchange) GetOrder(ctx context.Context, symbol, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queriedFor = append(s.queriedFor, symbol)
	o, ok := s.statuses[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func testConfig() config.GridConfig {
	cfg := config.Profile(config.ModeBaseline)
	cfg.GridSpacingPct = 0.01
	cfg.MinOrderSizes = map[string]float64{testSymbol: 0.001}
	return cfg
}

func newTestEngine(t *testing.T, cfg config.GridConfig, ex domain.Exchange, opts ...usecase.Option) (*usecase.GridEngine, *fakeClock) {
	t.Helper()
	return newTestEngineFor(t, []string{testSymbol}, cfg, ex, opts...)
}

func newTestEngineFor(t *testing.T, symbols []string, cfg config.GridConfig, ex domain.Exchange, opts ...usecase.Option) (*usecase.GridEngine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	logger := zap.NewNop()
	resolver := usecase.NewContractResolver(ex, logger)
	opts = append([]usecase.Option{usecase.WithClock(clock.Now), usecase.WithSleep(clock.Sleep)}, opts...)
	engine := usecase.NewGridEngine(cfg, symbols, ex, resolver, logger, opts...)
	require.NoError(t, engine.Start(context.Background()))
	return engine, clock
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}
