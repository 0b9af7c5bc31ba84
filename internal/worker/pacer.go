package worker

import (
	"context"
	"math/rand"
	"time"
)

// Default inter-send delay window.
const (
	DefaultDelayMin = 200 * time.Millisecond
	DefaultDelayMax = 400 * time.Millisecond
)

// Pacer spaces out consecutive sends within a job by a random delay drawn
// from [min, max].
type Pacer struct {
	min, max time.Duration
	int64N   func(n int64) int64
}

// NewPacer creates a pacer for the window [lo, hi]. An hi at or below lo
// always yields lo.
func NewPacer(lo, hi time.Duration) *Pacer {
	if lo < 0 {
		lo = 0
	}
	return &Pacer{min: lo, max: hi, int64N: rand.Int63n}
}

// Next returns the next delay.
func (p *Pacer) Next() time.Duration {
	if p.max <= p.min {
		return p.min
	}
	return p.min + time.Duration(p.int64N(int64(p.max-p.min)+1))
}

// Wait sleeps for the next delay. It returns early with ctx.Err() when the
// context ends.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := p.Next()
	if d <= 0 {
		return nil
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
