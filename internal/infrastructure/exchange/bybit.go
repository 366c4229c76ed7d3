package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_market_maker/internal/domain"
	"go.uber.org/zap"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/linear"

	recvWindow = 5000
)

// Bybit retCodes the engine reacts to.
const (
	retOK                  = 0
	retTooManyVisits       = 10006
	retIPRateLimited       = 10018
	retOrderNotExists      = 110001
	retInsufficientBalance = 110007
	retReduceOnlyRejected  = 110017
	retLeverageNotModified = 110043
	retOrderNotExistsAlt   = 170213
)

// instrumentFilter holds the price and size granularity of a contract.
type instrumentFilter struct {
	tickSize    decimal.Decimal
	qtyStep     decimal.Decimal
	minOrderQty decimal.Decimal
}

// BybitAdapter talks to the Bybit v5 REST API for linear perpetuals.
type BybitAdapter struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	category   string
	settleCoin string
	client     *http.Client
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	filters map[string]instrumentFilter
}

func NewBybitAdapter(apiKey, apiSecret, baseURL, category, settleCoin string, logger *zap.Logger) *BybitAdapter {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	if category == "" {
		category = "linear"
	}
	if settleCoin == "" {
		settleCoin = "USDT"
	}
	return &BybitAdapter{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    baseURL,
		category:   category,
		settleCoin: settleCoin,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		now:        time.Now,
		filters:    make(map[string]instrumentFilter),
	}
}

// --- REST API ---

func (b *BybitAdapter) sign(params string, timestamp int64) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// sendRequest signs and sends a request. GET parameters go in the query
// string, POST parameters in a JSON body; the signed payload is whichever
// of the two carries them. Throttling maps to domain.ErrRateLimited.
func (b *BybitAdapter) sendRequest(ctx context.Context, method, path string, query url.Values, payload map[string]interface{}) (json.RawMessage, error) {
	timestamp := b.now().UnixMilli()

	var body []byte
	var paramsStr string
	target := b.baseURL + path

	if method == http.MethodGet {
		paramsStr = query.Encode()
		if paramsStr != "" {
			target += "?" + paramsStr
		}
	} else if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = jsonBody
		paramsStr = string(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", b.sign(paramsStr, timestamp))
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s %s: %w", method, path, domain.ErrRateLimited)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	switch envelope.RetCode {
	case retOK:
		return envelope.Result, nil
	case retTooManyVisits, retIPRateLimited:
		return nil, fmt.Errorf("%s: %s: %w", path, envelope.RetMsg, domain.ErrRateLimited)
	case retOrderNotExists, retOrderNotExistsAlt:
		return nil, fmt.Errorf("%s: %s: %w", path, envelope.RetMsg, domain.ErrOrderNotFound)
	case retInsufficientBalance, retReduceOnlyRejected:
		return nil, fmt.Errorf("%s: %s: %w", path, envelope.RetMsg, domain.ErrOrderRejected)
	default:
		return nil, &APIError{Path: path, Code: envelope.RetCode, Msg: envelope.RetMsg}
	}
}

// APIError is a Bybit retCode the adapter does not map to a domain error.
type APIError struct {
	Path string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit %s: retCode %d: %s", e.Path, e.Code, e.Msg)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func bybitSide(s domain.Side) string {
	if s == domain.SideBuy {
		return "Buy"
	}
	return "Sell"
}

func (b *BybitAdapter) GetOrderBook(ctx context.Context, contractID string, depth int) (*domain.OrderBook, error) {
	query := url.Values{}
	query.Set("category", b.category)
	query.Set("symbol", contractID)
	query.Set("limit", strconv.Itoa(depth))

	raw, err := b.sendRequest(ctx, http.MethodGet, "/v5/market/orderbook", query, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		S  string     `json:"s"`
		B  [][]string `json:"b"`
		A  [][]string `json:"a"`
		Ts int64      `json:"ts"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}

	ob := &domain.OrderBook{
		Symbol:    result.S,
		Bids:      make([]domain.OrderBookEntry, 0, len(result.B)),
		Asks:      make([]domain.OrderBookEntry, 0, len(result.A)),
		Timestamp: result.Ts,
	}
	ob.Bids = appendLevels(ob.Bids, result.B)
	ob.Asks = appendLevels(ob.Asks, result.A)
	return ob, nil
}

func appendLevels(dst []domain.OrderBookEntry, levels [][]string) []domain.OrderBookEntry {
	for _, l := range levels {
		if len(l) < 2 {
			continue
		}
		dst = append(dst, domain.OrderBookEntry{Price: parseDecimal(l[0]), Size: parseDecimal(l[1])})
	}
	return dst
}

func (b *BybitAdapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	symbol := req.ContractID
	if symbol == "" {
		symbol = req.Symbol
	}

	price, size, err := b.roundOrder(ctx, symbol, req)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"category":    b.category,
		"symbol":      symbol,
		"side":        bybitSide(req.Side),
		"orderType":   "Limit",
		"qty":         size.String(),
		"timeInForce": "GTC",
	}
	switch req.Type {
	case domain.OrderTypePostOnly:
		payload["timeInForce"] = "PostOnly"
		payload["price"] = price.String()
	case domain.OrderTypeMarket:
		payload["orderType"] = "Market"
		payload["timeInForce"] = "IOC"
	default:
		payload["price"] = price.String()
	}
	if req.ClientOrderID != "" {
		payload["orderLinkId"] = req.ClientOrderID
	}
	if req.ReduceOnly {
		payload["reduceOnly"] = true
	}

	raw, err := b.sendRequest(ctx, http.MethodPost, "/v5/order/create", nil, payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}

	return &domain.Order{
		OrderID:       result.OrderID,
		ClientOrderID: result.OrderLinkID,
		Symbol:        symbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         price,
		Size:          size,
		Status:        domain.OrderStatusOpen,
		CreatedAt:     b.now(),
	}, nil
}

// roundOrder aligns price to the tick (buys down, sells up) and size down to
// the quantity step. Sizes below the venue minimum are rejected.
func (b *BybitAdapter) roundOrder(ctx context.Context, symbol string, req domain.OrderRequest) (decimal.Decimal, decimal.Decimal, error) {
	f, ok := b.filter(symbol)
	if !ok {
		if _, err := b.ListContracts(ctx); err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("load instrument filters: %w", err)
		}
		f, _ = b.filter(symbol)
	}

	price, size := req.Price, req.Size
	if f.tickSize.IsPositive() && price.IsPositive() {
		steps := price.Div(f.tickSize)
		if req.Side == domain.SideBuy {
			steps = steps.Floor()
		} else {
			steps = steps.Ceil()
		}
		price = steps.Mul(f.tickSize)
	}
	if f.qtyStep.IsPositive() {
		size = size.Div(f.qtyStep).Floor().Mul(f.qtyStep)
	}
	if !size.IsPositive() || (f.minOrderQty.IsPositive() && size.LessThan(f.minOrderQty)) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("size %s below minimum for %s: %w", req.Size, symbol, domain.ErrOrderRejected)
	}
	return price, size, nil
}

func (b *BybitAdapter) filter(symbol string) (instrumentFilter, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.filters[symbol]
	return f, ok
}

func (b *BybitAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	payload := map[string]interface{}{
		"category": b.category,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	_, err := b.sendRequest(ctx, http.MethodPost, "/v5/order/cancel", nil, payload)
	return err
}

// CancelAllOrders cancels by symbol, or by settle coin when symbol is empty.
func (b *BybitAdapter) CancelAllOrders(ctx context.Context, symbol string) error {
	payload := map[string]interface{}{"category": b.category}
	if symbol != "" {
		payload["symbol"] = symbol
	} else {
		payload["settleCoin"] = b.settleCoin
	}
	_, err := b.sendRequest(ctx, http.MethodPost, "/v5/order/cancel-all", nil, payload)
	return err
}

type bybitOrder struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	TimeInForce string `json:"timeInForce"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	AvgPrice    string `json:"avgPrice"`
	OrderStatus string `json:"orderStatus"`
	CreatedTime string `json:"createdTime"`
}

func (o bybitOrder) toDomain() *domain.Order {
	side := domain.SideBuy
	if o.Side == "Sell" {
		side = domain.SideSell
	}
	typ := domain.OrderTypeLimit
	switch {
	case o.OrderType == "Market":
		typ = domain.OrderTypeMarket
	case o.TimeInForce == "PostOnly":
		typ = domain.OrderTypePostOnly
	}
	createdMs, _ := strconv.ParseInt(o.CreatedTime, 10, 64)

	return &domain.Order{
		OrderID:       o.OrderID,
		ClientOrderID: o.OrderLinkID,
		Symbol:        o.Symbol,
		Side:          side,
		Type:          typ,
		Price:         parseDecimal(o.Price),
		Size:          parseDecimal(o.Qty),
		FilledSize:    parseDecimal(o.CumExecQty),
		AvgFillPrice:  parseDecimal(o.AvgPrice),
		Status:        orderStatus(o.OrderStatus),
		CreatedAt:     time.UnixMilli(createdMs),
	}
}

func orderStatus(s string) domain.OrderStatus {
	switch s {
	case "PartiallyFilled":
		return domain.OrderStatusPartiallyFilled
	case "Filled":
		return domain.OrderStatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return domain.OrderStatusCancelled
	case "Rejected":
		return domain.OrderStatusRejected
	default:
		// New, Created, Untriggered, Triggered
		return domain.OrderStatusOpen
	}
}

type orderPage struct {
	List           []bybitOrder `json:"list"`
	NextPageCursor string       `json:"nextPageCursor"`
}

func (b *BybitAdapter) GetActiveOrders(ctx context.Context, symbol string) ([]string, error) {
	var ids []string
	cursor := ""
	for {
		query := url.Values{}
		query.Set("category", b.category)
		query.Set("symbol", symbol)
		query.Set("openOnly", "0")
		query.Set("limit", "50")
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		raw, err := b.sendRequest(ctx, http.MethodGet, "/v5/order/realtime", query, nil)
		if err != nil {
			return nil, err
		}
		var page orderPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, err
		}
		for _, o := range page.List {
			switch orderStatus(o.OrderStatus) {
			case domain.OrderStatusOpen, domain.OrderStatusPartiallyFilled:
				ids = append(ids, o.OrderID)
			}
		}
		if page.NextPageCursor == "" || len(page.List) == 0 {
			return ids, nil
		}
		cursor = page.NextPageCursor
	}
}

// GetOrder looks in open orders first, then in order history.
func (b *BybitAdapter) GetOrder(ctx context.Context, symbol, orderID string) (*domain.Order, error) {
	for _, path := range []string{"/v5/order/realtime", "/v5/order/history"} {
		query := url.Values{}
		query.Set("category", b.category)
		query.Set("symbol", symbol)
		query.Set("orderId", orderID)

		raw, err := b.sendRequest(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			return nil, err
		}
		var page orderPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, err
		}
		for _, o := range page.List {
			if o.OrderID == orderID {
				return o.toDomain(), nil
			}
		}
	}
	return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotFound)
}

func (b *BybitAdapter) GetAccountInfo(ctx context.Context) (*domain.AccountInfo, error) {
	query := url.Values{}
	query.Set("accountType", "UNIFIED")
	raw, err := b.sendRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", query, nil)
	if err != nil {
		return nil, err
	}

	var wallet struct {
		List []struct {
			TotalEquity           string `json:"totalEquity"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &wallet); err != nil {
		return nil, err
	}
	if len(wallet.List) == 0 {
		return nil, fmt.Errorf("wallet balance: empty account list")
	}

	info := &domain.AccountInfo{
		Balance:          parseDecimal(wallet.List[0].TotalEquity),
		AvailableBalance: parseDecimal(wallet.List[0].TotalAvailableBalance),
		Positions:        make(map[string]*domain.Position),
	}

	positions, err := b.getPositions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		info.Positions[p.Symbol] = p
	}
	return info, nil
}

func (b *BybitAdapter) getPositions(ctx context.Context) ([]*domain.Position, error) {
	query := url.Values{}
	query.Set("category", b.category)
	query.Set("settleCoin", b.settleCoin)
	raw, err := b.sendRequest(ctx, http.MethodGet, "/v5/position/list", query, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			Leverage      string `json:"leverage"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}

	var out []*domain.Position
	for _, raw := range result.List {
		size := parseDecimal(raw.Size)
		if !size.IsPositive() {
			continue
		}
		direction := domain.DirectionLong
		if raw.Side == "Sell" {
			direction = domain.DirectionShort
		}
		lev, _ := strconv.Atoi(raw.Leverage)
		out = append(out, &domain.Position{
			Symbol:        raw.Symbol,
			ContractID:    raw.Symbol,
			Direction:     direction,
			Size:          size,
			EntryPrice:    parseDecimal(raw.AvgPrice),
			MarkPrice:     parseDecimal(raw.MarkPrice),
			UnrealizedPnL: parseDecimal(raw.UnrealisedPnl),
			Leverage:      lev,
		})
	}
	return out, nil
}

// ListContracts returns the category's instruments and caches their filters.
func (b *BybitAdapter) ListContracts(ctx context.Context) ([]domain.Contract, error) {
	var contracts []domain.Contract
	cursor := ""
	for {
		query := url.Values{}
		query.Set("category", b.category)
		query.Set("limit", "1000")
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		raw, err := b.sendRequest(ctx, http.MethodGet, "/v5/market/instruments-info", query, nil)
		if err != nil {
			return nil, err
		}

		var result struct {
			List []struct {
				Symbol        string `json:"symbol"`
				Status        string `json:"status"`
				PriceFilter   struct{ TickSize string } `json:"priceFilter"`
				LotSizeFilter struct {
					QtyStep     string `json:"qtyStep"`
					MinOrderQty string `json:"minOrderQty"`
				} `json:"lotSizeFilter"`
			} `json:"list"`
			NextPageCursor string `json:"nextPageCursor"`
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, err
		}

		b.mu.Lock()
		for _, item := range result.List {
			contracts = append(contracts, domain.Contract{ID: item.Symbol, Name: item.Symbol, Status: item.Status})
			b.filters[item.Symbol] = instrumentFilter{
				tickSize:    parseDecimal(item.PriceFilter.TickSize),
				qtyStep:     parseDecimal(item.LotSizeFilter.QtyStep),
				minOrderQty: parseDecimal(item.LotSizeFilter.MinOrderQty),
			}
		}
		b.mu.Unlock()

		if result.NextPageCursor == "" || len(result.List) == 0 {
			return contracts, nil
		}
		cursor = result.NextPageCursor
	}
}

// SetLeverage applies leverage to both sides. An unchanged leverage is not an error.
func (b *BybitAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	payload := map[string]interface{}{
		"category":     b.category,
		"symbol":       symbol,
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}
	_, err := b.sendRequest(ctx, http.MethodPost, "/v5/position/set-leverage", nil, payload)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == retLeverageNotModified {
		return nil
	}
	return err
}
