package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/grid_market_maker/internal/usecase"
)

func TestRateLimitBackoff(t *testing.T) {
	b := usecase.NewRateLimitBackoff(5*time.Second, 180*time.Second)
	assert.Equal(t, time.Duration(0), b.Delay())

	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second, 160 * time.Second, 180 * time.Second, 180 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, b.Escalate(), "escalation %d", i+1)
	}

	b.Relax()
	assert.Equal(t, 6, b.Consecutive())
	for i := 0; i < 10; i++ {
		b.Relax()
	}
	assert.Equal(t, 0, b.Consecutive())
	assert.Equal(t, time.Duration(0), b.Delay())
}

func TestRateLimitBackoff_LargeCountStaysCapped(t *testing.T) {
	b := usecase.NewRateLimitBackoff(5*time.Second, 180*time.Second)
	for i := 0; i < 100; i++ {
		b.Escalate()
	}
	assert.Equal(t, 180*time.Second, b.Delay())
}

func TestPacer_WaitsOnlyTheRemainder(t *testing.T) {
	clock := newFakeClock()
	var slept []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return clock.Sleep(ctx, d)
	}
	p := usecase.NewPacer(1300*time.Millisecond, clock.Now, sleep)
	ctx := context.Background()

	require.NoError(t, p.Wait(ctx))
	assert.Empty(t, slept, "first call is free")

	clock.Advance(300 * time.Millisecond)
	require.NoError(t, p.Wait(ctx))
	assert.Equal(t, []time.Duration{time.Second}, slept)

	clock.Advance(2 * time.Second)
	require.NoError(t, p.Wait(ctx))
	assert.Len(t, slept, 1)
}

func TestPacer_CancelledContext(t *testing.T) {
	clock := newFakeClock()
	p := usecase.NewPacer(time.Second, clock.Now, clock.Sleep)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, p.Wait(ctx))
	cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.Canceled)
}
