// Package ratelimit paces bulk work against the availability API.
package ratelimit

import (
	"context"
	"time"
)

// Pacer lets one operation through per interval. A nil Pacer never blocks.
type Pacer struct {
	d time.Duration
	t *time.Ticker
}

// Every returns a Pacer releasing one operation per d, or nil when d <= 0.
func Every(d time.Duration) *Pacer {
	if d <= 0 {
		return nil
	}
	return &Pacer{d: d, t: time.NewTicker(d)}
}

// Reset restarts the interval from now. A tick that was already due is
// dropped, so the next Wait blocks for a full interval.
func (p *Pacer) Reset() {
	if p != nil && p.t != nil {
		p.t.Reset(p.d)
	}
}

func (p *Pacer) Stop() {
	if p != nil && p.t != nil {
		p.t.Stop()
	}
}

func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.t == nil {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.t.C:
		return nil
	}
}
