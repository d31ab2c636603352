// Package ratelimit implements the client-side admission control the request
// pipeline applies before each platform call: a query-per-second bucket, a
// request-per-minute bucket, and a token-per-minute budget debited by
// estimate and settled against metered usage.
//
// Buckets live in process memory by default. SetStore switches the limiter to
// a shared Redis store with atomic Lua scripts so multiple processes can
// split one platform quota; when Redis is unreachable the limiter degrades to
// allowing requests rather than failing them.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/qianfan-go/internal/backoff"
	"github.com/nulpointcorp/qianfan-go/pkg/qferr"
)

// Limits is the per-key admission budget. A zero field disables that bucket;
// the zero value disables limiting entirely.
type Limits struct {
	QPS float64
	RPM int
	TPM int
}

// Enabled reports whether any bucket is active.
func (l Limits) Enabled() bool { return l.QPS > 0 || l.RPM > 0 || l.TPM > 0 }

// bucket is one token bucket. The level may go negative after reconciliation
// so under-estimated usage still throttles the calls that follow.
type bucket struct {
	capacity float64
	rate     float64 // tokens per second
	tokens   float64
	last     time.Time
}

// configure applies the current limits, seeding a full bucket on first use
// and clamping the level when the capacity shrank.
func (b *bucket) configure(capacity, rate float64, now time.Time) {
	if b.last.IsZero() {
		b.tokens = capacity
		b.last = now
	}
	if capacity != b.capacity {
		b.capacity = capacity
		if b.tokens > capacity {
			b.tokens = capacity
		}
	}
	b.rate = rate
}

func (b *bucket) advance(now time.Time) {
	if !now.After(b.last) {
		return
	}
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}

// deficit returns how long until n tokens are available, zero when they
// already are. Requests larger than the capacity are granted from a full
// bucket and pull the level negative, so they are possible but expensive.
func (b *bucket) deficit(now time.Time, n float64) time.Duration {
	b.advance(now)
	need := n
	if need > b.capacity {
		need = b.capacity
	}
	missing := need - b.tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / b.rate * float64(time.Second))
}

func (b *bucket) take(n float64) { b.tokens -= n }

// credit returns tokens to the bucket; a negative n debits further.
func (b *bucket) credit(n float64) {
	b.tokens += n
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// entry bundles the three buckets of one limit key.
type entry struct {
	mu  sync.Mutex
	qps bucket
	rpm bucket
	tpm bucket
}

// reserve grants one request plus tokens from every enabled bucket, or
// returns the longest wait among the deficient ones. Nothing is debited on a
// wait so a blocked caller never starves the buckets it could have passed.
func (e *entry) reserve(now time.Time, limits Limits, tokens int) time.Duration {
	var wait time.Duration
	if limits.QPS > 0 {
		e.qps.configure(limits.QPS, limits.QPS, now)
		if w := e.qps.deficit(now, 1); w > wait {
			wait = w
		}
	}
	if limits.RPM > 0 {
		e.rpm.configure(float64(limits.RPM), float64(limits.RPM)/60, now)
		if w := e.rpm.deficit(now, 1); w > wait {
			wait = w
		}
	}
	if limits.TPM > 0 {
		e.tpm.configure(float64(limits.TPM), float64(limits.TPM)/60, now)
		if w := e.tpm.deficit(now, float64(tokens)); w > wait {
			wait = w
		}
	}
	if wait > 0 {
		return wait
	}
	if limits.QPS > 0 {
		e.qps.take(1)
	}
	if limits.RPM > 0 {
		e.rpm.take(1)
	}
	if limits.TPM > 0 {
		e.tpm.take(float64(tokens))
	}
	return 0
}

// Limiter admits requests against per-key budgets. The zero value is not
// usable; construct with New.
type Limiter struct {
	logger *slog.Logger
	now    func() time.Time

	store atomic.Pointer[redis.Client]

	mu      sync.Mutex
	entries map[string]*entry
}

// New builds an in-memory Limiter.
func New(logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// SetStore switches the limiter to the shared Redis store. Passing nil
// returns it to process-local buckets.
func (l *Limiter) SetStore(rdb *redis.Client) { l.store.Store(rdb) }

func (l *Limiter) entry(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	return e
}

// Acquire blocks until the key's buckets grant one request carrying the given
// token estimate, or until the grant cannot happen within ctx's deadline, in
// which case it fails with *qferr.RateLimitError. Disabled limits return
// immediately.
func (l *Limiter) Acquire(ctx context.Context, key string, limits Limits, tokens int) error {
	if !limits.Enabled() {
		return nil
	}
	if rdb := l.store.Load(); rdb != nil {
		return l.acquireShared(ctx, rdb, key, limits, tokens)
	}

	e := l.entry(key)
	for {
		now := l.now()
		e.mu.Lock()
		wait := e.reserve(now, limits, tokens)
		e.mu.Unlock()
		if wait <= 0 {
			return nil
		}
		if err := l.sleep(ctx, key, now, wait); err != nil {
			return err
		}
	}
}

// sleep waits out a limiter deficit, converting a blown deadline into a rate
// limit error. A plain cancellation passes through untouched.
func (l *Limiter) sleep(ctx context.Context, key string, now time.Time, wait time.Duration) error {
	if deadline, ok := ctx.Deadline(); ok && now.Add(wait).After(deadline) {
		return &qferr.RateLimitError{
			Msg: fmt.Sprintf("next permit for %q in %s, beyond the call budget", key, wait),
		}
	}
	if err := backoff.Sleep(ctx, wait); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &qferr.RateLimitError{
				Msg: fmt.Sprintf("call budget expired waiting for %q", key),
			}
		}
		return err
	}
	return nil
}

// Reconcile settles the token budget once the metered usage is known: the
// difference between the admission estimate and actual is credited back to
// (or, when negative, further debited from) the TPM bucket. It adjusts levels
// only and never waits for capacity.
func (l *Limiter) Reconcile(key string, limits Limits, estimate, actual int) {
	if limits.TPM <= 0 {
		return
	}
	diff := float64(estimate - actual)
	if diff == 0 {
		return
	}
	if rdb := l.store.Load(); rdb != nil {
		l.creditShared(rdb, key, limits, diff)
		return
	}

	e := l.entry(key)
	now := l.now()
	e.mu.Lock()
	e.tpm.configure(float64(limits.TPM), float64(limits.TPM)/60, now)
	e.tpm.credit(diff)
	e.mu.Unlock()
}

// Release returns the full admission estimate to the TPM bucket. Used when a
// request fails before any usage is metered.
func (l *Limiter) Release(key string, limits Limits, estimate int) {
	l.Reconcile(key, limits, estimate, 0)
}
