package usecase

import (
	"context"
	"time"
)

// RateLimitBackoff tracks consecutive rate-limited passes. The delay is
// base * 2^n capped at max; each clean pass walks n back by one.
type RateLimitBackoff struct {
	base        time.Duration
	max         time.Duration
	consecutive int
}

func NewRateLimitBackoff(base, max time.Duration) *RateLimitBackoff {
	return &RateLimitBackoff{base: base, max: max}
}

// Escalate records a rate-limit hit and returns the new delay.
func (b *RateLimitBackoff) Escalate() time.Duration {
	b.consecutive++
	return b.Delay()
}

// Relax walks the counter back after a clean pass.
func (b *RateLimitBackoff) Relax() {
	if b.consecutive > 0 {
		b.consecutive--
	}
}

func (b *RateLimitBackoff) Consecutive() int { return b.consecutive }

// Delay is zero until the first hit.
func (b *RateLimitBackoff) Delay() time.Duration {
	if b.consecutive == 0 {
		return 0
	}
	d := b.base
	for i := 0; i < b.consecutive; i++ {
		d *= 2
		if d >= b.max {
			return b.max
		}
	}
	return d
}

// Pacer keeps consecutive venue calls at least interval apart, sleeping
// only for whatever remains since the previous call.
type Pacer struct {
	interval time.Duration
	last     time.Time
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewPacer(interval time.Duration, now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Pacer {
	return &Pacer{interval: interval, now: now, sleep: sleep}
}

func (p *Pacer) Wait(ctx context.Context) error {
	if !p.last.IsZero() {
		if remaining := p.interval - p.now().Sub(p.last); remaining > 0 {
			if err := p.sleep(ctx, remaining); err != nil {
				return err
			}
		}
	}
	p.last = p.now()
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
