// Package backoff computes retry waits and sleeps them off without losing
// cancellation.
package backoff

import (
	"context"
	"math"
	"time"
)

// Policy is one retry budget: how many attempts, the per-call deadline, and
// the exponential wait curve between attempts.
type Policy struct {
	// Count bounds the number of attempts; 0 means unbounded (the Timeout
	// still applies).
	Count int

	// Timeout bounds the whole call including waits; 0 means unbounded.
	Timeout time.Duration

	// Factor scales the exponential wait: wait(n) = Factor * 2^n seconds.
	// 0 disables waiting entirely.
	Factor float64

	// MaxWait caps a single wait.
	MaxWait time.Duration
}

// Exhausted reports whether attempt (0-based) has used up the budget.
func (p Policy) Exhausted(attempt int) bool {
	return p.Count > 0 && attempt >= p.Count
}

// Wait returns the backoff before retry number attempt (0-based): the first
// retry waits Factor*2^0, the second Factor*2^1, capped at MaxWait.
func (p Policy) Wait(attempt int) time.Duration {
	if p.Factor <= 0 {
		return 0
	}
	seconds := p.Factor * math.Pow(2, float64(attempt))
	d := time.Duration(seconds * float64(time.Second))
	if p.MaxWait > 0 && d > p.MaxWait {
		return p.MaxWait
	}
	return d
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
