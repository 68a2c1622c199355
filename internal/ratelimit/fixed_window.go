package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrGateClosed is returned by Acquire after the gate's replenishment timer
// has been stopped. A stopped gate never reopens, so admitting callers
// against leftover permits would only mask the fault.
var ErrGateClosed = errors.New("admission gate is closed")

var _ Gate = (*FixedWindowGate)(nil)

// FixedWindowGate is an in-process fixed-window counter: up to capacity
// callers are admitted per window, everyone else blocks until the background
// timer restores the full permit count at the next window edge.
//
// Permits are not returned when a call completes. A fast call and a slow call
// consume their permit identically until the next reset. Consequently up to
// 2x capacity calls can land in a short interval straddling a window edge;
// that is the contract of a fixed window, not a defect.
type FixedWindowGate struct {
	capacity int
	window   time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	available int
	reopen    chan struct{}

	done     chan struct{}
	stopOnce sync.Once
}

func NewFixedWindowGate(window time.Duration, capacity int, logger *zap.Logger) (*FixedWindowGate, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("gate capacity must be positive (got %d)", capacity)
	}
	if window <= 0 {
		return nil, fmt.Errorf("gate window must be positive (got %s)", window)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &FixedWindowGate{
		capacity:  capacity,
		window:    window,
		logger:    logger,
		available: capacity,
		reopen:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	go g.replenish()

	return g, nil
}

// Acquire obtains one permit, blocking while the current window is drained.
// A caller cancelled while waiting consumes nothing.
func (g *FixedWindowGate) Acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		select {
		case <-g.done:
			return ErrGateClosed
		default:
		}

		g.mu.Lock()
		if g.available > 0 {
			g.available--
			g.mu.Unlock()
			return nil
		}
		// Snapshot the broadcast channel before unlocking so a reset that
		// races with our wait cannot be missed.
		wait := g.reopen
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("admission wait canceled: %w", ctx.Err())
		case <-g.done:
			return ErrGateClosed
		case <-wait:
			// Window reset; loop and contend for a fresh permit.
		}
	}
}

// Available reports the number of permits left in the current window.
func (g *FixedWindowGate) Available() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.available
}

// Capacity reports the per-window permit limit.
func (g *FixedWindowGate) Capacity() int {
	return g.capacity
}

// Stop cancels the replenishment timer and wakes all waiters with
// ErrGateClosed. Idempotent.
func (g *FixedWindowGate) Stop() {
	g.stopOnce.Do(func() {
		close(g.done)
		g.logger.Info("admission gate stopped",
			zap.Int("capacity", g.capacity),
			zap.Duration("window", g.window),
		)
	})
}

func (g *FixedWindowGate) replenish() {
	ticker := time.NewTicker(g.window)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			g.reset()
		}
	}
}

// reset restores the full permit count and wakes every blocked waiter. Only
// the replenish goroutine (and package tests) call it.
func (g *FixedWindowGate) reset() {
	g.mu.Lock()
	g.available = g.capacity
	close(g.reopen)
	g.reopen = make(chan struct{})
	g.mu.Unlock()
}
