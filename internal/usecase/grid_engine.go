package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/grid_market_maker/internal/config"
	"github.com/vitos/grid_market_maker/internal/domain"
	"go.uber.org/zap"
)

// Order kinds used for metrics and logs.
const (
	KindGrid  = "grid"
	KindClose = "close"
	KindEMA   = "ema"
)

// MetricsRecorder receives engine events. Implementations must be safe to
// call from the engine loop without blocking.
type MetricsRecorder interface {
	OrderPlaced(symbol string, side domain.Side, kind string)
	FillObserved(symbol string, side domain.Side, kind string, confidence domain.FillConfidence)
	RateLimited(symbol string)
	EMASignal(symbol, signal string)
	SetBalance(balance float64)
	SetBackoff(d time.Duration)
	SetSymbolState(symbol string, netPosition float64, pending int)
}

type nopMetrics struct{}

func (nopMetrics) OrderPlaced(string, domain.Side, string) {}
func (nopMetrics) FillObserved(string, domain.Side, string, domain.FillConfidence) {}
func (nopMetrics) RateLimited(string) {}
func (nopMetrics) EMASignal(string, string) {}
func (nopMetrics) SetBalance(float64) {}
func (nopMetrics) SetBackoff(time.Duration) {}
func (nopMetrics) SetSymbolState(string, float64, int) {}

// Option customizes a GridEngine.
type Option func(*GridEngine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *GridEngine) { e.timeNow = now }
}

// WithSleep replaces the context-aware sleep used for pacing and idle waits.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *GridEngine) { e.sleep = sleep }
}

func WithMetrics(m MetricsRecorder) Option {
	return func(e *GridEngine) {
		if m != nil {
			e.metrics = m
		}
	}
}

func WithRepository(repo domain.TradeRepository) Option {
	return func(e *GridEngine) { e.repo = repo }
}

// GridEngine drives every configured symbol through one sequential pass per
// cycle: order book, EMA, refresh decision, fill reconciliation.
type GridEngine struct {
	cfg      config.GridConfig
	exchange domain.Exchange
	resolver *ContractResolver
	repo     domain.TradeRepository
	metrics  MetricsRecorder
	logger   *zap.Logger

	symbols []string
	states  map[string]*SymbolGridState
	risk    *RiskGate
	backoff *RateLimitBackoff
	pacer   *Pacer

	timeNow func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	stopCtx  context.Context
	stopFunc context.CancelFunc
	running  atomic.Bool

	// loop-owned
	started           bool
	account           *domain.AccountInfo
	initialBalance    decimal.Decimal
	currentBalance    decimal.Decimal
	lastAccountUpdate time.Time
	totalTrades       int
	totalVolume       decimal.Decimal
	dailyVolume       decimal.Decimal
	volumeDay         string
	emaTrades         int
	emaProfit         decimal.Decimal
	startTime         time.Time
	lastStats         time.Time

	mu       sync.RWMutex
	snapshot domain.PerformanceSnapshot
	views    []domain.SymbolView
}

func NewGridEngine(
	cfg config.GridConfig,
	symbols []string,
	exchange domain.Exchange,
	resolver *ContractResolver,
	logger *zap.Logger,
	opts ...Option,
) *GridEngine {
	e := &GridEngine{
		cfg:      cfg,
		exchange: exchange,
		resolver: resolver,
		metrics:  nopMetrics{},
		logger:   logger,
		symbols:  symbols,
		states:   make(map[string]*SymbolGridState, len(symbols)),
		risk:     NewRiskGate(cfg.DailyLossLimitPct, cfg.MaxTotalPositionPct),
		backoff:  NewRateLimitBackoff(cfg.BackoffBase, cfg.BackoffMax),
		timeNow:  time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, s := range symbols {
		e.states[s] = NewSymbolGridState(s, cfg)
	}
	e.pacer = NewPacer(cfg.APICallInterval, e.timeNow, e.sleep)
	e.stopCtx, e.stopFunc = context.WithCancel(context.Background())
	e.startTime = e.timeNow()
	return e
}

// State returns the grid state of symbol, nil if it is not configured.
func (e *GridEngine) State(symbol string) *SymbolGridState {
	return e.states[symbol]
}

// Stop asks the loop to exit after the current call. It is safe to call
// from any goroutine and more than once.
func (e *GridEngine) Stop() {
	e.stopFunc()
}

func (e *GridEngine) Stopping() bool {
	return e.stopCtx.Err() != nil
}

func (e *GridEngine) Running() bool {
	return e.running.Load()
}

// Start loads the contract listing, the account baseline and applies
// leverage. Run calls it unless it already succeeded.
func (e *GridEngine) Start(ctx context.Context) error {
	if err := e.resolver.Load(ctx); err != nil {
		// retried lazily by Resolve
		e.logger.Warn("Contract listing unavailable at startup", zap.Error(err))
	}

	if err := e.refreshAccount(ctx); err != nil {
		return fmt.Errorf("initial account snapshot: %w", err)
	}
	e.initialBalance = e.currentBalance
	e.startTime = e.timeNow()
	e.lastStats = e.startTime
	e.volumeDay = dayKey(e.startTime)

	if setter, ok := e.exchange.(domain.LeverageSetter); ok && e.cfg.Leverage > 0 {
		for _, symbol := range e.symbols {
			if err := e.pacer.Wait(ctx); err != nil {
				return err
			}
			if err := setter.SetLeverage(ctx, e.contractFor(symbol), e.cfg.Leverage); err != nil {
				e.logger.Warn("Failed to set leverage",
					zap.String("symbol", symbol), zap.Int("leverage", e.cfg.Leverage), zap.Error(err))
			}
		}
	}

	e.logger.Info("Grid engine started",
		zap.String("mode", string(e.cfg.Mode)),
		zap.Strings("symbols", e.symbols),
		zap.String("balance", e.initialBalance.String()),
		zap.Int("grid_levels", e.cfg.GridLevels),
		zap.Float64("grid_spacing_pct", e.cfg.GridSpacingPct),
		zap.Bool("ema_enabled", e.cfg.EMA.Enabled),
	)
	e.started = true
	e.publish()
	return nil
}

// contractFor maps symbol to its contract id from the loaded listing, or
// returns symbol unchanged when the listing does not know it.
func (e *GridEngine) contractFor(symbol string) string {
	if id, ok := e.resolver.Cached(symbol); ok {
		return id
	}
	return symbol
}

// Run executes cycles until Stop is called or ctx is cancelled. It does not
// cancel resting orders; callers follow up with Shutdown.
func (e *GridEngine) Run(ctx context.Context) error {
	e.running.Store(true)
	defer e.running.Store(false)

	if !e.started {
		if err := e.Start(ctx); err != nil {
			return err
		}
	}

	for !e.Stopping() && ctx.Err() == nil {
		pause := e.RunCycle(ctx)
		if !e.idle(ctx, pause) {
			break
		}
	}

	e.publish()
	e.logger.Info("Grid engine loop exited")
	return nil
}

// idle sleeps for d unless ctx is cancelled or Stop is called first.
func (e *GridEngine) idle(ctx context.Context, d time.Duration) bool {
	idleCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.stopCtx, cancel)
	defer stop()

	if err := e.sleep(idleCtx, d); err != nil {
		return false
	}
	return !e.Stopping()
}

// RunCycle performs one pass over all symbols and returns the pause before
// the next one.
func (e *GridEngine) RunCycle(ctx context.Context) time.Duration {
	now := e.timeNow()
	e.rollDay(now)

	if e.lastAccountUpdate.IsZero() || now.Sub(e.lastAccountUpdate) >= e.cfg.AccountUpdateInterval {
		if err := e.refreshAccount(ctx); err != nil {
			e.logger.Warn("Account refresh failed", zap.Error(err))
			if errors.Is(err, domain.ErrRateLimited) {
				e.metrics.RateLimited("")
				return e.cfg.CycleInterval + e.backoff.Escalate()
			}
		}
	}

	decision := e.risk.Evaluate(e.initialBalance, e.currentBalance, e.account)
	if decision.Halt {
		e.logger.Warn("Risk gate tripped, skipping cycle",
			zap.String("reason", decision.Reason),
			zap.String("balance", e.currentBalance.String()))
		e.publish()
		return e.cfg.RiskPause
	}
	if !decision.AllowNewOrders {
		e.logger.Warn("New orders suspended for this cycle", zap.String("reason", decision.Reason))
	}

	rateLimited := false
	for i, symbol := range e.symbols {
		if e.Stopping() || ctx.Err() != nil {
			break
		}

		err := e.executeSymbol(ctx, symbol, decision.AllowNewOrders)
		switch {
		case errors.Is(err, domain.ErrRateLimited):
			rateLimited = true
			delay := e.backoff.Escalate()
			e.metrics.RateLimited(symbol)
			e.logger.Warn("Rate limited",
				zap.String("symbol", symbol),
				zap.Int("consecutive", e.backoff.Consecutive()),
				zap.Duration("backoff", delay))
		case err != nil:
			e.logger.Error("Symbol pass failed", zap.String("symbol", symbol), zap.Error(err))
		}

		if i < len(e.symbols)-1 && !e.idle(ctx, e.cfg.SymbolInterval) {
			break
		}
	}

	pause := e.cfg.CycleInterval
	if rateLimited {
		pause += e.backoff.Delay()
	} else {
		e.backoff.Relax()
	}
	e.metrics.SetBackoff(e.backoff.Delay())

	if now := e.timeNow(); now.Sub(e.lastStats) >= e.cfg.StatsInterval {
		e.lastStats = now
		e.logStatistics(ctx)
	}
	e.publish()
	return pause
}

// executeSymbol runs one symbol's pass. Panics are recovered into errors so
// one symbol cannot take the loop down.
func (e *GridEngine) executeSymbol(ctx context.Context, symbol string, allowNew bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in symbol pass: %v", r)
		}
	}()

	state := e.states[symbol]
	log := e.logger.With(zap.String("symbol", symbol))

	contractID, err := e.resolver.Resolve(ctx, symbol)
	if errors.Is(err, domain.ErrContractNotFound) {
		log.Warn("Contract not resolved, skipping symbol", zap.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve contract: %w", err)
	}

	if err := e.pacer.Wait(ctx); err != nil {
		return err
	}
	book, err := e.exchange.GetOrderBook(ctx, contractID, e.cfg.OrderBookDepth)
	if err != nil {
		return fmt.Errorf("get order book: %w", err)
	}
	mid := book.MidPrice()
	if !mid.IsPositive() {
		log.Debug("Order book unavailable, skipping symbol")
		return nil
	}
	state.ObserveMid(mid)

	now := e.timeNow()
	signal := state.EMA().Update(mid, now)
	if state.EMA().Enabled() {
		if err := e.handleEMA(ctx, state, contractID, mid, signal, allowNew); err != nil {
			return err
		}
	}

	if allowNew && e.ShouldRefreshGrid(state, mid, e.timeNow()) {
		if err := e.cancelGridOrders(ctx, state, contractID); err != nil {
			return err
		}
		if err := e.generateGrid(ctx, state, contractID, book, mid); err != nil {
			return err
		}
	}

	return e.reconcileFills(ctx, state, contractID)
}

// ShouldRefreshGrid reports whether the grid must be rebuilt: nothing resting,
// mid drifted past the deviation threshold, or the periodic refresh is due.
func (e *GridEngine) ShouldRefreshGrid(state *SymbolGridState, mid decimal.Decimal, now time.Time) bool {
	if state.PendingGridCount() == 0 {
		return true
	}
	if last := state.LastMidPrice(); last.IsPositive() {
		deviation := mid.Sub(last).Abs().Div(last)
		if deviation.GreaterThan(decimal.NewFromFloat(e.cfg.RefreshDeviationPct)) {
			return true
		}
	}
	return state.LastGridUpdate().IsZero() || now.Sub(state.LastGridUpdate()) > e.cfg.RefreshInterval
}

// cancelGridOrders cancels every pending non-close order. Close orders for
// filled legs stay untouched. Quantity an order traded before its cancel is
// booked as a fill and hedged like any other.
func (e *GridEngine) cancelGridOrders(ctx context.Context, state *SymbolGridState, contractID string) error {
	reader, hasReader := e.exchange.(domain.OrderStatusReader)

	for _, level := range state.PendingOrders() {
		if level.IsCloseOrder {
			continue
		}
		if err := e.pacer.Wait(ctx); err != nil {
			return err
		}
		err := e.exchange.CancelOrder(ctx, contractID, level.OrderID)
		if errors.Is(err, domain.ErrOrderNotFound) {
			// gone already; reconciliation decides whether it traded
			continue
		}
		if err != nil {
			return fmt.Errorf("cancel order %s: %w", level.OrderID, err)
		}
		if !hasReader {
			state.RemovePending(level.OrderID)
			continue
		}

		if err := e.pacer.Wait(ctx); err != nil {
			return err
		}
		order, err := reader.GetOrder(ctx, contractID, level.OrderID)
		if errors.Is(err, domain.ErrOrderNotFound) {
			state.RemovePending(level.OrderID)
			continue
		}
		if err != nil {
			// stays pending; the next reconciliation asks again
			e.logger.Warn("Cancelled order status unavailable",
				zap.String("symbol", state.Symbol),
				zap.String("order_id", level.OrderID),
				zap.Error(err))
			continue
		}
		state.RemovePending(level.OrderID)
		if !order.FilledSize.IsPositive() {
			continue
		}

		level.Size = order.FilledSize
		fillPrice := level.Price
		if order.AvgFillPrice.IsPositive() {
			fillPrice = order.AvgFillPrice
		}
		e.logger.Info("Cancelled grid order had partly filled",
			zap.String("symbol", state.Symbol),
			zap.String("order_id", level.OrderID),
			zap.String("filled", order.FilledSize.String()))
		if err := e.bookFill(ctx, state, contractID, level, fillPrice, domain.FillConfirmed, true); err != nil {
			return err
		}
	}
	return nil
}

// OrderSize is max(minSize, balance*pct/mid).
func OrderSize(balance, mid decimal.Decimal, pct, minSize float64) decimal.Decimal {
	floor := decimal.NewFromFloat(minSize)
	if !mid.IsPositive() {
		return floor
	}
	raw := balance.Mul(decimal.NewFromFloat(pct)).Div(mid)
	return decimal.Max(floor, raw)
}

// GridPrice is touch*(1-spacing*i) for buys and touch*(1+spacing*i) for sells.
func GridPrice(side domain.Side, touch decimal.Decimal, spacing float64, level int) decimal.Decimal {
	offset := decimal.NewFromFloat(spacing).Mul(decimal.NewFromInt(int64(level)))
	if side == domain.SideBuy {
		return touch.Mul(decimal.NewFromInt(1).Sub(offset))
	}
	return touch.Mul(decimal.NewFromInt(1).Add(offset))
}

func (e *GridEngine) generateGrid(ctx context.Context, state *SymbolGridState, contractID string, book *domain.OrderBook, mid decimal.Decimal) error {
	log := e.logger.With(zap.String("symbol", state.Symbol))

	bid, okBid := book.BestBid()
	ask, okAsk := book.BestAsk()
	if !okBid || !okAsk {
		return nil
	}

	size := OrderSize(e.currentBalance, mid, e.cfg.PositionSizePct, e.cfg.MinOrderSize(state.Symbol))
	margin := size.Mul(mid)
	if e.cfg.Leverage > 0 {
		margin = margin.Div(decimal.NewFromInt(int64(e.cfg.Leverage)))
	}
	if !e.currentBalance.IsPositive() || margin.GreaterThan(e.currentBalance) {
		log.Warn("Insufficient balance for minimum order size, skipping grid",
			zap.String("balance", e.currentBalance.String()),
			zap.String("size", size.String()))
		return nil
	}

	state.AnchorGrid(mid, e.timeNow())

	placed := 0
	for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
		touch := bid.Price
		if side == domain.SideSell {
			touch = ask.Price
		}
		for i := 1; i <= e.cfg.GridLevels; i++ {
			// By default each level waits for its order slot so the whole
			// ladder goes out; skip_denied_levels stops at the first denial.
			if wait := state.OrderSlotIn(e.timeNow()); wait > 0 && !e.cfg.SkipDeniedLevels {
				if err := e.sleep(ctx, wait); err != nil {
					return err
				}
			}
			if !state.CanPlaceOrder(e.timeNow()) || !state.CanOpenPosition(side) {
				break
			}
			level := &domain.GridLevel{
				Price: GridPrice(side, touch, e.cfg.GridSpacingPct, i),
				Size:  size,
				Side:  side,
			}
			err := e.placeLevel(ctx, state, contractID, level, domain.OrderTypePostOnly, KindGrid)
			if errors.Is(err, domain.ErrOrderRejected) {
				log.Debug("Grid order rejected", zap.String("side", string(side)),
					zap.String("price", level.Price.String()), zap.Error(err))
				continue
			}
			if err != nil {
				return fmt.Errorf("place grid order: %w", err)
			}
			placed++
		}
	}

	log.Info("Grid generated",
		zap.String("mid", mid.String()),
		zap.String("size", size.String()),
		zap.Int("orders", placed),
		zap.Int("pending", state.PendingCount()))
	return nil
}

// placeLevel submits level and, on success, registers it as pending.
func (e *GridEngine) placeLevel(ctx context.Context, state *SymbolGridState, contractID string, level *domain.GridLevel, typ domain.OrderType, kind string) error {
	order, err := e.submit(ctx, state.Symbol, contractID, level.Side, typ, level.Size, level.Price, kind)
	if err != nil {
		return err
	}
	level.OrderID = order.OrderID
	level.OrderType = typ
	level.PlacedAt = e.timeNow()
	state.AddPending(level)
	if !level.IsCloseOrder {
		state.MarkOrderPlaced(level.PlacedAt)
	}
	return nil
}

func (e *GridEngine) submit(ctx context.Context, symbol, contractID string, side domain.Side, typ domain.OrderType, size, price decimal.Decimal, kind string) (*domain.Order, error) {
	if err := e.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	order, err := e.exchange.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:        symbol,
		ContractID:    contractID,
		Side:          side,
		Type:          typ,
		Size:          size,
		Price:         price,
		Leverage:      e.cfg.Leverage,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}
	if order == nil || order.OrderID == "" {
		return nil, fmt.Errorf("venue returned no order id for %s %s", symbol, side)
	}

	e.metrics.OrderPlaced(symbol, side, kind)
	e.logger.Debug("Order placed",
		zap.String("symbol", symbol),
		zap.String("kind", kind),
		zap.String("side", string(side)),
		zap.String("type", string(typ)),
		zap.String("price", price.String()),
		zap.String("size", size.String()),
		zap.String("order_id", order.OrderID))
	return order, nil
}

// refreshAccount pulls balance and positions; venue positions are kept for
// display only and never feed netPosition.
func (e *GridEngine) refreshAccount(ctx context.Context) error {
	if err := e.pacer.Wait(ctx); err != nil {
		return err
	}
	info, err := e.exchange.GetAccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("get account info: %w", err)
	}
	e.account = info
	e.currentBalance = info.Balance
	e.lastAccountUpdate = e.timeNow()
	e.metrics.SetBalance(info.Balance.InexactFloat64())

	for symbol, state := range e.states {
		venue := decimal.Zero
		// the venue keys positions by contract id
		if p, ok := info.Positions[e.contractFor(symbol)]; ok {
			venue = p.Signed()
		}
		state.SetVenuePosition(venue)
		if !venue.Equal(state.NetPosition()) {
			e.logger.Debug("Venue position differs from tracked net position",
				zap.String("symbol", symbol),
				zap.String("venue", venue.String()),
				zap.String("net", state.NetPosition().String()))
		}
	}
	return nil
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (e *GridEngine) rollDay(now time.Time) {
	day := dayKey(now)
	if e.volumeDay == "" {
		e.volumeDay = day
		return
	}
	if day != e.volumeDay {
		e.logger.Info("New trading day, resetting daily volume",
			zap.String("previous_day", e.volumeDay),
			zap.String("daily_volume", e.dailyVolume.String()))
		e.volumeDay = day
		e.dailyVolume = decimal.Zero
	}
}

// Shutdown cancels every resting order on the venue and records the final
// snapshot. It only reads published state, so it is safe after a loop that
// did not exit in time.
func (e *GridEngine) Shutdown(ctx context.Context) domain.PerformanceSnapshot {
	e.Stop()
	if err := e.exchange.CancelAllOrders(ctx, ""); err != nil {
		e.logger.Error("Failed to cancel outstanding orders on shutdown", zap.Error(err))
	} else {
		e.logger.Info("Cancelled all outstanding orders")
	}

	snap := e.Snapshot()
	if e.repo != nil {
		if err := e.repo.SaveSnapshot(ctx, &snap); err != nil {
			e.logger.Error("Failed to save final snapshot", zap.Error(err))
		}
	}
	e.logger.Info("Final performance snapshot", snapshotFields(snap)...)
	return snap
}
