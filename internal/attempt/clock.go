package attempt

import (
	"context"
	"time"
)

// Ticker is the subset of time.Ticker the countdown needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock supplies time to a session.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }

// countdown drives onTick once per second until stopped.
type countdown struct {
	cancel context.CancelFunc
}

func startCountdown(clock Clock, onTick func()) *countdown {
	ctx, cancel := context.WithCancel(context.Background())
	t := clock.NewTicker(time.Second)

	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C():
				onTick()
			}
		}
	}()

	return &countdown{cancel: cancel}
}

func (c *countdown) stop() {
	if c != nil {
		c.cancel()
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
