package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/vitos/grid_market_maker/internal/domain"
	"go.uber.org/zap"
)

const (
	bookTopicPrefix = "orderbook.50."
	pingInterval    = 20 * time.Second
)

// Backoff computes reconnect delays growing by Factor from Min up to Max,
// spread by +/- Jitter.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Min:    250 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the delay before reconnect attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := b.Min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > b.Max {
			wait = b.Max
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	delta := float64(wait) * b.Jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}

type localBook struct {
	bids    map[string]decimal.Decimal
	asks    map[string]decimal.Decimal
	updated int64
}

// BookFeed keeps local order books from the public orderbook stream.
type BookFeed struct {
	url     string
	symbols []string
	backoff Backoff
	logger  *zap.Logger

	mu    sync.RWMutex
	books map[string]*localBook
}

func NewBookFeed(url string, symbols []string, logger *zap.Logger) *BookFeed {
	if url == "" {
		url = BybitWSURL
	}
	return &BookFeed{
		url:     url,
		symbols: symbols,
		backoff: DefaultBackoff(),
		logger:  logger,
		books:   make(map[string]*localBook),
	}
}

// GetOrderBook returns the local book, or nil before the first snapshot.
func (f *BookFeed) GetOrderBook(ctx context.Context, contractID string, depth int) (*domain.OrderBook, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	lb, ok := f.books[contractID]
	if !ok {
		return nil, nil
	}
	return &domain.OrderBook{
		Symbol:    contractID,
		Bids:      sortedLevels(lb.bids, depth, true),
		Asks:      sortedLevels(lb.asks, depth, false),
		Timestamp: lb.updated,
	}, nil
}

func sortedLevels(side map[string]decimal.Decimal, depth int, desc bool) []domain.OrderBookEntry {
	out := make([]domain.OrderBookEntry, 0, len(side))
	for price, size := range side {
		out = append(out, domain.OrderBookEntry{Price: parseDecimal(price), Size: size})
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	if depth > 0 && len(out) > depth {
		out = out[:depth]
	}
	return out
}

// Run connects and reads until ctx is done, reconnecting with backoff.
func (f *BookFeed) Run(ctx context.Context) error {
	attempt := 0
	for {
		synced, err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if synced {
			attempt = 0
		}
		attempt++
		wait := f.backoff.Next(attempt)
		f.logger.Warn("Book feed disconnected",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait))

		f.reset()
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// session runs one connection. synced reports that a snapshot arrived.
func (f *BookFeed) session(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	args := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		args[i] = bookTopicPrefix + s
	}
	if err := write(map[string]interface{}{"op": "subscribe", "args": args}); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("Book feed connected", zap.String("url", f.url), zap.Strings("topics", args))

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				return
			case <-ticker.C:
				if err := write(map[string]string{"op": "ping"}); err != nil {
					return
				}
			}
		}
	}()

	synced := false
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return synced, err
		}
		ok, err := f.handle(message)
		if err != nil {
			f.logger.Debug("Book feed message skipped", zap.Error(err))
			continue
		}
		synced = synced || ok
	}
}

type bookMessage struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Ts    int64  `json:"ts"`
	Data  struct {
		S string     `json:"s"`
		B [][]string `json:"b"`
		A [][]string `json:"a"`
	} `json:"data"`
}

var errDeltaBeforeSnapshot = errors.New("delta before snapshot")

// handle applies one stream message and reports whether it was a snapshot.
func (f *BookFeed) handle(message []byte) (bool, error) {
	var msg bookMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return false, err
	}
	if !strings.HasPrefix(msg.Topic, bookTopicPrefix) {
		// subscribe acks and pongs
		return false, nil
	}
	symbol := strings.TrimPrefix(msg.Topic, bookTopicPrefix)

	f.mu.Lock()
	defer f.mu.Unlock()

	lb, ok := f.books[symbol]
	switch msg.Type {
	case "snapshot":
		lb = &localBook{bids: make(map[string]decimal.Decimal), asks: make(map[string]decimal.Decimal)}
		f.books[symbol] = lb
	case "delta":
		if !ok {
			return false, fmt.Errorf("%s: %w", symbol, errDeltaBeforeSnapshot)
		}
	default:
		return false, fmt.Errorf("unknown message type %q", msg.Type)
	}

	applyLevels(lb.bids, msg.Data.B)
	applyLevels(lb.asks, msg.Data.A)
	lb.updated = msg.Ts
	return msg.Type == "snapshot", nil
}

func applyLevels(side map[string]decimal.Decimal, levels [][]string) {
	for _, l := range levels {
		if len(l) < 2 {
			continue
		}
		size := parseDecimal(l[1])
		key := parseDecimal(l[0]).String()
		if size.IsZero() {
			delete(side, key)
			continue
		}
		side[key] = size
	}
}

func (f *BookFeed) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books = make(map[string]*localBook)
}
