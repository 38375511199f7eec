package otp

import (
	"sync"
	"time"
)

// TickSource starts a periodic tick of period d and returns its channel and
// a function that stops it.
type TickSource func(d time.Duration) (<-chan time.Time, func())

// RealTicks is a TickSource backed by time.Ticker.
func RealTicks(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Countdown counts whole seconds down to zero on a single ticker. Starting
// it again replaces the running count; Stop cancels it and waits for the
// ticking goroutine to exit.
type Countdown struct {
	ticks  TickSource
	onTick func(remaining int)

	mu        sync.Mutex
	remaining int
	quit      chan struct{}
	done      chan struct{}
}

// NewCountdown returns a stopped Countdown. A nil ticks uses RealTicks.
// onTick, if non-nil, runs after every decrement and must not call Stop.
func NewCountdown(ticks TickSource, onTick func(remaining int)) *Countdown {
	if ticks == nil {
		ticks = RealTicks
	}
	return &Countdown{ticks: ticks, onTick: onTick}
}

// Start (re)starts the countdown at seconds.
func (c *Countdown) Start(seconds int) {
	c.Stop()
	if seconds <= 0 {
		return
	}

	ch, stop := c.ticks(time.Second)
	quit := make(chan struct{})
	done := make(chan struct{})

	c.mu.Lock()
	c.remaining = seconds
	c.quit = quit
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer stop()
		for {
			select {
			case <-quit:
				return
			case <-ch:
				c.mu.Lock()
				c.remaining--
				left := c.remaining
				if left <= 0 {
					c.remaining = 0
					c.quit = nil
				}
				c.mu.Unlock()
				if c.onTick != nil {
					c.onTick(left)
				}
				if left <= 0 {
					return
				}
			}
		}
	}()
}

// Remaining returns the seconds left, zero when stopped or expired.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Running reports whether a ticking goroutine is active.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quit != nil
}

// Stop cancels the countdown. It is safe to call on a stopped Countdown.
func (c *Countdown) Stop() {
	c.mu.Lock()
	quit, done := c.quit, c.done
	c.quit = nil
	c.remaining = 0
	c.mu.Unlock()
	if quit != nil {
		close(quit)
		<-done
	}
}
