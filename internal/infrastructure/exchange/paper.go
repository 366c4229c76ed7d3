package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/grid_market_maker/internal/config"
	"github.com/vitos/grid_market_maker/internal/domain"
	"go.uber.org/zap"
)

type paperPosition struct {
	qty        decimal.Decimal // signed, negative for shorts
	entry      decimal.Decimal
	realized   decimal.Decimal
	leverage   int
	lastUpdate time.Time
}

// PaperExchange simulates a venue on top of a live order book. Resting
// orders are matched against the book each time the engine reads it.
type PaperExchange struct {
	source   domain.BookSource
	symbols  []string
	makerFee decimal.Decimal
	takerFee decimal.Decimal
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	cash      decimal.Decimal
	fees      decimal.Decimal
	orders    map[string]*domain.Order
	books     map[string]*domain.OrderBook
	positions map[string]*paperPosition
	leverage  map[string]int
}

func NewPaperExchange(source domain.BookSource, symbols []string, cfg config.PaperConfig, logger *zap.Logger) *PaperExchange {
	return &PaperExchange{
		source:    source,
		symbols:   symbols,
		makerFee:  decimal.NewFromFloat(cfg.MakerFeeRate),
		takerFee:  decimal.NewFromFloat(cfg.TakerFeeRate),
		logger:    logger,
		now:       time.Now,
		cash:      decimal.NewFromFloat(cfg.InitialBalance),
		orders:    make(map[string]*domain.Order),
		books:     make(map[string]*domain.OrderBook),
		positions: make(map[string]*paperPosition),
		leverage:  make(map[string]int),
	}
}

// GetOrderBook reads the source book and matches resting orders against it.
func (p *PaperExchange) GetOrderBook(ctx context.Context, contractID string, depth int) (*domain.OrderBook, error) {
	ob, err := p.source.GetOrderBook(ctx, contractID, depth)
	if err != nil || ob == nil {
		return ob, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.books[contractID] = ob
	p.matchLocked(contractID, ob)
	return ob, nil
}

func (p *PaperExchange) matchLocked(symbol string, ob *domain.OrderBook) {
	bid, hasBid := ob.BestBid()
	ask, hasAsk := ob.BestAsk()

	for _, o := range p.openOrdersLocked(symbol) {
		switch {
		case o.Side == domain.SideBuy && hasAsk && ask.Price.LessThanOrEqual(o.Price):
			p.fillLocked(o, o.Price, p.makerFee)
		case o.Side == domain.SideSell && hasBid && bid.Price.GreaterThanOrEqual(o.Price):
			p.fillLocked(o, o.Price, p.makerFee)
		}
	}
}

func (p *PaperExchange) openOrdersLocked(symbol string) []*domain.Order {
	var out []*domain.Order
	for _, o := range p.orders {
		if o.Symbol == symbol && o.Status == domain.OrderStatusOpen {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}

func (p *PaperExchange) fillLocked(o *domain.Order, price, feeRate decimal.Decimal) {
	o.Status = domain.OrderStatusFilled
	o.FilledSize = o.Size
	o.AvgFillPrice = price

	fee := price.Mul(o.Size).Mul(feeRate)
	p.cash = p.cash.Sub(fee)
	p.fees = p.fees.Add(fee)

	pos := p.positionLocked(o.Symbol)
	realized := pos.apply(o.Side.Sign().Mul(o.Size), price)
	pos.lastUpdate = p.now()
	p.cash = p.cash.Add(realized)

	p.logger.Debug("Paper fill",
		zap.String("symbol", o.Symbol),
		zap.String("order_id", o.OrderID),
		zap.String("side", string(o.Side)),
		zap.String("price", price.String()),
		zap.String("size", o.Size.String()),
		zap.String("realized", realized.String()))
}

func (p *PaperExchange) positionLocked(symbol string) *paperPosition {
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &paperPosition{}
		p.positions[symbol] = pos
	}
	return pos
}

// apply adds a signed quantity at price and returns the realized PnL.
func (pos *paperPosition) apply(signed, price decimal.Decimal) decimal.Decimal {
	if pos.qty.IsZero() || pos.qty.Sign() == signed.Sign() {
		total := pos.qty.Abs().Add(signed.Abs())
		pos.entry = pos.entry.Mul(pos.qty.Abs()).Add(price.Mul(signed.Abs())).Div(total)
		pos.qty = pos.qty.Add(signed)
		return decimal.Zero
	}

	closed := decimal.Min(pos.qty.Abs(), signed.Abs())
	direction := decimal.NewFromInt(int64(pos.qty.Sign()))
	realized := price.Sub(pos.entry).Mul(closed).Mul(direction)
	pos.realized = pos.realized.Add(realized)

	pos.qty = pos.qty.Add(signed)
	switch {
	case pos.qty.IsZero():
		pos.entry = decimal.Zero
	case pos.qty.Sign() == signed.Sign():
		// flipped through zero; the remainder opened at price
		pos.entry = price
	}
	return realized
}

func (p *PaperExchange) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	symbol := req.ContractID
	if symbol == "" {
		symbol = req.Symbol
	}
	if !req.Size.IsPositive() {
		return nil, fmt.Errorf("size %s: %w", req.Size, domain.ErrOrderRejected)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	order := &domain.Order{
		OrderID:       uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        symbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		Size:          req.Size,
		Status:        domain.OrderStatusOpen,
		CreatedAt:     p.now(),
	}

	ob := p.books[symbol]
	touch, crosses := p.crossingPrice(ob, req)
	switch {
	case req.Type == domain.OrderTypeMarket:
		if touch.IsZero() {
			return nil, fmt.Errorf("no book for %s: %w", symbol, domain.ErrOrderRejected)
		}
		p.orders[order.OrderID] = order
		p.fillLocked(order, touch, p.takerFee)
	case crosses && req.Type == domain.OrderTypePostOnly:
		return nil, fmt.Errorf("post-only %s %s at %s would cross: %w", symbol, req.Side, req.Price, domain.ErrOrderRejected)
	case crosses:
		p.orders[order.OrderID] = order
		p.fillLocked(order, touch, p.takerFee)
	default:
		p.orders[order.OrderID] = order
	}

	cp := *order
	return &cp, nil
}

// crossingPrice returns the opposite touch and whether a limit at req.Price
// would trade against it.
func (p *PaperExchange) crossingPrice(ob *domain.OrderBook, req domain.OrderRequest) (decimal.Decimal, bool) {
	if req.Side == domain.SideBuy {
		ask, ok := ob.BestAsk()
		if !ok {
			return decimal.Zero, false
		}
		return ask.Price, req.Price.GreaterThanOrEqual(ask.Price)
	}
	bid, ok := ob.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Price, req.Price.LessThanOrEqual(bid.Price)
}

// CancelOrder cancels an open order. Unknown or finished orders report
// domain.ErrOrderNotFound, as the live venue does.
func (p *PaperExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok || o.Status != domain.OrderStatusOpen {
		return fmt.Errorf("cancel %s: %w", orderID, domain.ErrOrderNotFound)
	}
	o.Status = domain.OrderStatusCancelled
	return nil
}

func (p *PaperExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, o := range p.orders {
		if o.Status == domain.OrderStatusOpen && (symbol == "" || o.Symbol == symbol) {
			o.Status = domain.OrderStatusCancelled
		}
	}
	return nil
}

func (p *PaperExchange) GetActiveOrders(ctx context.Context, symbol string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	open := p.openOrdersLocked(symbol)
	ids := make([]string, 0, len(open))
	for _, o := range open {
		ids = append(ids, o.OrderID)
	}
	return ids, nil
}

func (p *PaperExchange) GetOrder(ctx context.Context, symbol, orderID string) (*domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotFound)
	}
	cp := *o
	return &cp, nil
}

// GetAccountInfo reports equity as cash plus unrealized PnL at the last mid.
func (p *PaperExchange) GetAccountInfo(ctx context.Context) (*domain.AccountInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := &domain.AccountInfo{Positions: make(map[string]*domain.Position)}
	equity := p.cash
	margin := decimal.Zero
	for symbol, pos := range p.positions {
		if pos.qty.IsZero() {
			continue
		}
		mark := p.books[symbol].MidPrice()
		if mark.IsZero() {
			mark = pos.entry
		}
		unrealized := mark.Sub(pos.entry).Mul(pos.qty)
		equity = equity.Add(unrealized)

		direction := domain.DirectionLong
		if pos.qty.IsNegative() {
			direction = domain.DirectionShort
		}
		lev := p.leverage[symbol]
		if lev <= 0 {
			lev = 1
		}
		margin = margin.Add(mark.Mul(pos.qty.Abs()).Div(decimal.NewFromInt(int64(lev))))
		info.Positions[symbol] = &domain.Position{
			Symbol:        symbol,
			ContractID:    symbol,
			Direction:     direction,
			Size:          pos.qty.Abs(),
			EntryPrice:    pos.entry,
			MarkPrice:     mark,
			UnrealizedPnL: unrealized,
			Leverage:      lev,
		}
	}
	info.Balance = equity
	info.AvailableBalance = equity.Sub(margin)
	return info, nil
}

func (p *PaperExchange) ListContracts(ctx context.Context) ([]domain.Contract, error) {
	contracts := make([]domain.Contract, 0, len(p.symbols))
	for _, s := range p.symbols {
		contracts = append(contracts, domain.Contract{ID: s, Name: s, Status: "Trading"})
	}
	return contracts, nil
}

func (p *PaperExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverage[symbol] = leverage
	return nil
}

// FeesPaid is the total commission charged so far.
func (p *PaperExchange) FeesPaid() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fees
}

// RealizedPnL is the closed-trade PnL of symbol, before fees.
func (p *PaperExchange) RealizedPnL(symbol string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok {
		return pos.realized
	}
	return decimal.Zero
}
