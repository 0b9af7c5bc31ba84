package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacerStaysInWindow(t *testing.T) {
	p := NewPacer(200*time.Millisecond, 400*time.Millisecond)
	for i := 0; i < 500; i++ {
		d := p.Next()
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

func TestPacerBounds(t *testing.T) {
	p := NewPacer(10*time.Millisecond, 20*time.Millisecond)

	p.int64N = func(n int64) int64 { return 0 }
	assert.Equal(t, 10*time.Millisecond, p.Next())

	p.int64N = func(n int64) int64 { return n - 1 }
	assert.Equal(t, 20*time.Millisecond, p.Next())
}

func TestPacerDegenerateWindow(t *testing.T) {
	assert.Equal(t, 50*time.Millisecond, NewPacer(50*time.Millisecond, 50*time.Millisecond).Next())
	assert.Equal(t, 50*time.Millisecond, NewPacer(50*time.Millisecond, 10*time.Millisecond).Next())
	assert.Equal(t, time.Duration(0), NewPacer(-time.Second, 0).Next())
}

func TestPacerWaitHonoursContext(t *testing.T) {
	p := NewPacer(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	assert.ErrorIs(t, p.Wait(ctx), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, NewPacer(0, 0).Wait(context.Background()))
}
