// Package refresh coordinates periodic and on-demand model refreshes.
// Concurrent triggers within a short window coalesce into a single fetch
// whose outcome every waiter observes.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/alryaz/hass-pik-comfort/pkg/log"
)

const defaultCoalesceDelay = 3 * time.Second

// flight is one in-progress refresh pass: a completion signal plus the
// shared outcome every coalesced waiter reads after the signal fires.
type flight struct {
	done chan struct{}
	err  error
}

// Coordinator serializes refreshes of a single upstream fetch. At most one
// fetch runs at a time; triggers arriving while one is pending or running
// wait for its outcome instead of starting another.
type Coordinator struct {
	fetch    func(ctx context.Context) error
	delay    time.Duration
	interval time.Duration

	mu        sync.Mutex
	runCtx    context.Context
	inflight  *flight
	listeners []func()
}

// New creates a coordinator around the given fetch with the default
// coalescing delay.
func New(fetch func(ctx context.Context) error) *Coordinator {
	return &Coordinator{
		fetch:    fetch,
		delay:    defaultCoalesceDelay,
		interval: time.Hour,
	}
}

// Configured sets up flags for the coordinator and returns the instance.
// It uses lflag to register command-line flags for configuration.
func Configured(fetch func(ctx context.Context) error) *Coordinator {
	c := New(fetch)
	delay := lflag.Duration("refresh-coalesce-delay", defaultCoalesceDelay, "Window during which concurrent refresh triggers coalesce into one fetch")
	interval := lflag.Duration("refresh-interval", time.Hour, "Interval between scheduled refreshes")

	lflag.Do(func() {
		c.delay = *delay
		c.interval = *interval
	})

	return c
}

// Interval returns the configured scheduled refresh interval.
func (c *Coordinator) Interval() time.Duration { return c.interval }

// SetCoalesceDelay overrides the coalescing window. This is primarily used
// for testing.
func (c *Coordinator) SetCoalesceDelay(d time.Duration) {
	c.delay = d
}

// AddListener registers a callback invoked after every successful refresh,
// once per pass regardless of how many triggers coalesced into it.
func (c *Coordinator) AddListener(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Refresh triggers a refresh pass and blocks until its outcome. If a pass is
// already pending or running, the call attaches to it and receives the same
// outcome as every other waiter. Otherwise this call becomes the worker: it
// waits out the coalescing window so late triggers can attach, runs the
// fetch, resolves all waiters, and resets to idle on every exit path.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if f := c.inflight; f != nil {
		c.mu.Unlock()
		select {
		case <-f.done:
			return f.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	c.inflight = f
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inflight = nil
		c.mu.Unlock()
		close(f.done)
	}()

	// the flight's outcome is shared by every coalesced waiter, so the pass
	// must not die with whichever caller happened to start it
	wctx := c.workContext(ctx)

	select {
	case <-time.After(c.delay):
	case <-wctx.Done():
		f.err = wctx.Err()
		return f.err
	}

	f.err = c.fetch(wctx)
	if f.err == nil {
		c.notify()
	}
	return f.err
}

// workContext is the context a flight runs on: the run context when the
// scheduler is up (cancelled only on shutdown), otherwise the trigger's
// context detached from its cancellation.
func (c *Coordinator) workContext(trigger context.Context) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCtx != nil {
		return c.runCtx
	}
	return context.WithoutCancel(trigger)
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	listeners := append([]func(){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Run drives scheduled refreshes until the context is cancelled. Fetch
// failures are logged and retried on the next tick; the coordinator itself
// never retries.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Ctx(ctx).ErrorContext(ctx, "scheduled refresh failed", slog.Any("error", err))
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
