// Package framework provides end-to-end test helpers: temp-directory engine
// harnesses and condition-polling waiters, adapted from the teacher's own
// cluster test harness to spin up Nexus engines instead of a Warren cluster.
package framework

import (
	"context"
	"fmt"
	"time"
)

// Waiter polls a condition until it becomes true or the timeout elapses.
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a Waiter with the given timeout and polling interval.
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{timeout: timeout, interval: interval}
}

// DefaultWaiter returns a waiter with sensible defaults for in-process
// engine tests (5s timeout, 20ms interval).
func DefaultWaiter() *Waiter {
	return NewWaiter(5*time.Second, 20*time.Millisecond)
}

// WaitFor blocks until condition returns true, the timeout elapses, or ctx
// is cancelled.
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if condition() {
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// PollUntil polls condition until it returns true or ctx is cancelled.
func PollUntil(ctx context.Context, interval time.Duration, condition func() bool) error {
	if condition() {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
