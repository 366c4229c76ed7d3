package exchange

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/grid_market_maker/internal/domain"
	"go.uber.org/zap"
)

const instrumentsBody = `{"retCode":0,"retMsg":"OK","result":{"list":[
 {"symbol":"BTCUSDT","status":"Trading","priceFilter":{"tickSize":"0.10"},"lotSizeFilter":{"qtyStep":"0.001","minOrderQty":"0.001"}}
],"nextPageCursor":""}}`

type bybitStub struct {
	t        *testing.T
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	bodies   map[string]map[string]interface{}
}

func newBybitStub(t *testing.T) (*bybitStub, *BybitAdapter) {
	stub := &bybitStub{
		t:        t,
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		bodies:   make(map[string]map[string]interface{}),
	}
	stub.handlers["/v5/market/instruments-info"] = respond(instrumentsBody)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-BAPI-API-KEY"))
		assert.NotEmpty(t, r.Header.Get("X-BAPI-SIGN"))
		if r.Method == http.MethodPost {
			raw, _ := io.ReadAll(r.Body)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(raw, &body))
			stub.bodies[r.URL.Path] = body
		}
		h, ok := stub.handlers[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	return stub, NewBybitAdapter("key", "secret", srv.URL, "linear", "USDT", zap.NewNop())
}

func respond(body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}
}

func TestBybitSign(t *testing.T) {
	b := NewBybitAdapter("key", "secret", "", "", "", zap.NewNop())
	first := b.sign("category=linear", 1700000000000)
	assert.Len(t, first, 64)
	assert.Equal(t, first, b.sign("category=linear", 1700000000000))
	assert.NotEqual(t, first, b.sign("category=inverse", 1700000000000))
}

func TestBybitGetOrderBook(t *testing.T) {
	stub, b := newBybitStub(t)
	stub.handlers["/v5/market/orderbook"] = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		respond(`{"retCode":0,"result":{"s":"BTCUSDT","b":[["99.5","2"],["99.4","1"]],"a":[["100.5","3"]],"ts":1}}`)(w, r)
	}

	ob, err := b.GetOrderBook(context.Background(), "BTCUSDT", 5)
	require.NoError(t, err)
	require.Len(t, ob.Bids, 2)
	assert.True(t, ob.Bids[0].Price.Equal(decimal.RequireFromString("99.5")))
	assert.True(t, ob.MidPrice().Equal(decimal.NewFromInt(100)))
}

func TestBybitPlaceOrderRoundsToFilters(t *testing.T) {
	stub, b := newBybitStub(t)
	stub.handlers["/v5/order/create"] = respond(`{"retCode":0,"result":{"orderId":"o-1","orderLinkId":"cid"}}`)

	order, err := b.PlaceOrder(context.Background(), domain.OrderRequest{
		ContractID:    "BTCUSDT",
		Side:          domain.SideSell,
		Type:          domain.OrderTypePostOnly,
		Price:         decimal.RequireFromString("101.234"),
		Size:          decimal.RequireFromString("0.0019"),
		ClientOrderID: "cid",
	})
	require.NoError(t, err)
	assert.Equal(t, "o-1", order.OrderID)

	body := stub.bodies["/v5/order/create"]
	assert.Equal(t, "Sell", body["side"])
	assert.Equal(t, "PostOnly", body["timeInForce"])
	assert.Equal(t, "101.3", body["price"])
	assert.Equal(t, "0.001", body["qty"])
	assert.Equal(t, "cid", body["orderLinkId"])

	_, err = b.PlaceOrder(context.Background(), domain.OrderRequest{
		ContractID: "BTCUSDT",
		Side:       domain.SideBuy,
		Type:       domain.OrderTypeLimit,
		Price:      decimal.RequireFromString("101.234"),
		Size:       decimal.RequireFromString("0.01"),
	})
	require.NoError(t, err)
	body = stub.bodies["/v5/order/create"]
	assert.Equal(t, "101.2", body["price"])
	assert.Equal(t, "GTC", body["timeInForce"])
}

func TestBybitPlaceOrderBelowMinimum(t *testing.T) {
	_, b := newBybitStub(t)
	_, err := b.PlaceOrder(context.Background(), domain.OrderRequest{
		ContractID: "BTCUSDT",
		Side:       domain.SideBuy,
		Price:      decimal.NewFromInt(100),
		Size:       decimal.RequireFromString("0.0004"),
	})
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
}

func TestBybitErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"http 429", http.StatusTooManyRequests, `{}`, domain.ErrRateLimited},
		{"too many visits", http.StatusOK, `{"retCode":10006,"retMsg":"Too many visits"}`, domain.ErrRateLimited},
		{"ip limited", http.StatusOK, `{"retCode":10018,"retMsg":"ip"}`, domain.ErrRateLimited},
		{"order not exists", http.StatusOK, `{"retCode":110001,"retMsg":"order not exists"}`, domain.ErrOrderNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub, b := newBybitStub(t)
			stub.handlers["/v5/order/cancel"] = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}
			err := b.CancelOrder(context.Background(), "BTCUSDT", "o-1")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBybitCancelAllUsesSettleCoin(t *testing.T) {
	stub, b := newBybitStub(t)
	stub.handlers["/v5/order/cancel-all"] = respond(`{"retCode":0,"result":{}}`)

	require.NoError(t, b.CancelAllOrders(context.Background(), ""))
	assert.Equal(t, "USDT", stub.bodies["/v5/order/cancel-all"]["settleCoin"])
	assert.NotContains(t, stub.bodies["/v5/order/cancel-all"], "symbol")

	require.NoError(t, b.CancelAllOrders(context.Background(), "BTCUSDT"))
	assert.Equal(t, "BTCUSDT", stub.bodies["/v5/order/cancel-all"]["symbol"])
}

func TestBybitGetActiveOrdersPaginates(t *testing.T) {
	stub, b := newBybitStub(t)
	stub.handlers["/v5/order/realtime"] = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			respond(`{"retCode":0,"result":{"list":[{"orderId":"a","orderStatus":"New"},{"orderId":"b","orderStatus":"Filled"}],"nextPageCursor":"p2"}}`)(w, r)
			return
		}
		respond(`{"retCode":0,"result":{"list":[{"orderId":"c","orderStatus":"PartiallyFilled"}],"nextPageCursor":""}}`)(w, r)
	}

	ids, err := b.GetActiveOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestBybitGetOrderFallsBackToHistory(t *testing.T) {
	stub, b := newBybitStub(t)
	stub.handlers["/v5/order/realtime"] = respond(`{"retCode":0,"result":{"list":[]}}`)
	stub.handlers["/v5/order/history"] = respond(`{"retCode":0,"result":{"list":[
		{"orderId":"o-9","symbol":"BTCUSDT","side":"Sell","orderType":"Limit","timeInForce":"PostOnly","price":"101","qty":"0.002","cumExecQty":"0.001","avgPrice":"101","orderStatus":"PartiallyFilledCanceled","createdTime":"1700000000000"}]}}`)

	order, err := b.GetOrder(context.Background(), "BTCUSDT", "o-9")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.Equal(t, domain.SideSell, order.Side)
	assert.Equal(t, domain.OrderTypePostOnly, order.Type)
	assert.True(t, order.FilledSize.Equal(decimal.RequireFromString("0.001")))
	assert.Equal(t, time.UnixMilli(1700000000000), order.CreatedAt)

	_, err = b.GetOrder(context.Background(), "BTCUSDT", "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestBybitGetAccountInfo(t *testing.T) {
	stub, b := newBybitStub(t)
	stub.handlers["/v5/account/wallet-balance"] = respond(`{"retCode":0,"result":{"list":[{"totalEquity":"1000.5","totalAvailableBalance":"900"}]}}`)
	stub.handlers["/v5/position/list"] = respond(`{"retCode":0,"result":{"list":[
		{"symbol":"BTCUSDT","side":"Sell","size":"0.01","avgPrice":"100","markPrice":"99","unrealisedPnl":"0.01","leverage":"10"},
		{"symbol":"ETHUSDT","side":"None","size":"0","avgPrice":"0","markPrice":"0","unrealisedPnl":"0","leverage":"10"}]}}`)

	info, err := b.GetAccountInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Balance.Equal(decimal.RequireFromString("1000.5")))
	require.Len(t, info.Positions, 1)
	pos := info.Positions["BTCUSDT"]
	assert.Equal(t, domain.DirectionShort, pos.Direction)
	assert.Equal(t, 10, pos.Leverage)
	assert.True(t, pos.Signed().Equal(decimal.RequireFromString("-0.01")))
}

func TestBybitSetLeverageIgnoresUnchanged(t *testing.T) {
	stub, b := newBybitStub(t)
	stub.handlers["/v5/position/set-leverage"] = respond(`{"retCode":110043,"retMsg":"leverage not modified"}`)
	assert.NoError(t, b.SetLeverage(context.Background(), "BTCUSDT", 10))
	assert.Equal(t, "10", stub.bodies["/v5/position/set-leverage"]["buyLeverage"])

	stub.handlers["/v5/position/set-leverage"] = respond(`{"retCode":10001,"retMsg":"params error"}`)
	var apiErr *APIError
	assert.ErrorAs(t, b.SetLeverage(context.Background(), "BTCUSDT", 10), &apiErr)
}

func TestBybitListContracts(t *testing.T) {
	_, b := newBybitStub(t)
	contracts, err := b.ListContracts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Contract{{ID: "BTCUSDT", Name: "BTCUSDT", Status: "Trading"}}, contracts)

	f, ok := b.filter("BTCUSDT")
	require.True(t, ok)
	assert.True(t, f.tickSize.Equal(decimal.RequireFromString("0.1")))
}
