package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/grid_market_maker/internal/domain"
	"github.com/vitos/grid_market_maker/internal/usecase"
	"go.uber.org/zap"
)

type stubLister struct {
	contracts []domain.Contract
	err       error
	calls     int
}

func (s *stubLister) ListContracts(ctx context.Context) ([]domain.Contract, error) {
	s.calls++
	return s.contracts, s.err
}

func TestContractResolver_Resolve(t *testing.T) {
	lister := &stubLister{contracts: []domain.Contract{
		{ID: "10000001", Name: "BTCUSD"},
		{ID: "10000002", Name: "ETHUSDT"},
		{ID: "SOLUSDT", Name: "SOLUSDT"},
	}}
	r := usecase.NewContractResolver(lister, zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		symbol string
		want   string
	}{
		{"BTCUSD", "10000001"},
		{"BTC-USDT", "10000001"},
		{"ETH-USDT", "10000002"},
		{"eth_usdt", "10000002"},
		{"SOL-USDT", "SOLUSDT"},
		{"123456", "123456"},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			got, err := r.Resolve(ctx, tt.symbol)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := r.Resolve(ctx, "DOGE-USDT")
	assert.ErrorIs(t, err, domain.ErrContractNotFound)

	assert.Equal(t, 1, lister.calls, "listing is loaded once")
	assert.Equal(t, "ETHUSDT", r.SymbolFor("10000002"))
	assert.Equal(t, "unknown", r.SymbolFor("unknown"))
}

func TestContractResolver_RetriesFailedLoad(t *testing.T) {
	lister := &stubLister{err: errors.New("boom")}
	r := usecase.NewContractResolver(lister, zap.NewNop())

	_, err := r.Resolve(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrContractNotFound))

	lister.err = nil
	lister.contracts = []domain.Contract{{ID: "BTCUSDT", Name: "BTCUSDT"}}
	got, err := r.Resolve(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", got)
	assert.Equal(t, 2, lister.calls)
}

func TestContractResolver_CachedNeverCallsVenue(t *testing.T) {
	lister := &stubLister{contracts: []domain.Contract{{ID: "BTCUSDT", Name: "BTCUSDT"}}}
	r := usecase.NewContractResolver(lister, zap.NewNop())

	_, ok := r.Cached("BTC-USDT")
	assert.False(t, ok, "nothing loaded yet")
	assert.Equal(t, 0, lister.calls)

	require.NoError(t, r.Load(context.Background()))
	id, ok := r.Cached("BTC-USDT")
	assert.True(t, ok)
	assert.Equal(t, "BTCUSDT", id)
	_, ok = r.Cached("DOGE-USDT")
	assert.False(t, ok)
	assert.Equal(t, 1, lister.calls)
}
