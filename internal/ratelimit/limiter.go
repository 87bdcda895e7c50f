// Package ratelimit implements the per-API-key token bucket admission
// control described in spec.md §4.C: an in-process, concurrent-safe
// limiter with O(1) lock-free-where-possible admission, not a Redis
// sliding window.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// LimitResult is the outcome of a token bucket check.
type LimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
}

// bucketState is the immutable snapshot a bucket's state pointer points
// to. Admission swaps it via a lock-free compare-and-swap loop rather than
// holding a mutex across the refill arithmetic.
type bucketState struct {
	tokens     float64
	lastRefill int64 // unix nano
}

// bucket is a single per-key token bucket.
type bucket struct {
	capacity        float64
	refillPerSecond float64
	state           atomic.Pointer[bucketState]
	lastAccess      atomic.Int64 // unix nano, used by the idle sweep
}

func newBucket(capacity, refillPerSecond float64, now time.Time) *bucket {
	b := &bucket{capacity: capacity, refillPerSecond: refillPerSecond}
	b.state.Store(&bucketState{tokens: capacity, lastRefill: now.UnixNano()})
	b.lastAccess.Store(now.UnixNano())
	return b
}

// take attempts to deduct one token, refilling proportionally to elapsed
// time first. It retries the CAS on contention; the critical section does
// no I/O and is O(1).
func (b *bucket) take(now time.Time) LimitResult {
	nowNano := now.UnixNano()
	b.lastAccess.Store(nowNano)

	for {
		old := b.state.Load()
		elapsed := time.Duration(nowNano - old.lastRefill)
		if elapsed < 0 {
			elapsed = 0
		}
		refilled := old.tokens + elapsed.Seconds()*b.refillPerSecond
		if refilled > b.capacity {
			refilled = b.capacity
		}

		var next *bucketState
		var allowed bool
		if refilled >= 1 {
			next = &bucketState{tokens: refilled - 1, lastRefill: nowNano}
			allowed = true
		} else {
			next = &bucketState{tokens: refilled, lastRefill: nowNano}
			allowed = false
		}

		if b.state.CompareAndSwap(old, next) {
			if allowed {
				return LimitResult{Allowed: true}
			}
			result := LimitResult{Allowed: false}
			if b.refillPerSecond > 0 {
				deficit := 1 - refilled
				result.RetryAfter = time.Duration(deficit / b.refillPerSecond * float64(time.Second))
			}
			return result
		}
		// Lost the race to a concurrent admission for the same key; retry
		// with a fresh read.
	}
}

// Limiter holds one bucket per quota identity (default: API key) in a
// concurrent map, with a background sweep evicting buckets idle for more
// than idleEvictionMultiplier refill periods, bounding memory per spec.md
// §4.C.
type Limiter struct {
	buckets sync.Map // string -> *bucket

	defaultCapacity        float64
	defaultRefillPerSecond float64
	idleEvictionMultiplier int

	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewLimiter(defaultCapacity, defaultRefillPerSecond float64, idleEvictionMultiplier int) *Limiter {
	if idleEvictionMultiplier <= 0 {
		idleEvictionMultiplier = 10
	}
	return &Limiter{
		defaultCapacity:        defaultCapacity,
		defaultRefillPerSecond: defaultRefillPerSecond,
		idleEvictionMultiplier: idleEvictionMultiplier,
		now:                    time.Now,
		stopCh:                 make(chan struct{}),
	}
}

// Allow checks and admits one request against the bucket for key,
// creating the bucket on first use with the given capacity/refill rate
// (falling back to the limiter defaults when either is non-positive).
func (l *Limiter) Allow(key string, capacity, refillPerSecond float64) LimitResult {
	if capacity <= 0 {
		capacity = l.defaultCapacity
	}
	if refillPerSecond <= 0 {
		refillPerSecond = l.defaultRefillPerSecond
	}

	now := l.now()
	b := l.getOrCreate(key, capacity, refillPerSecond, now)
	return b.take(now)
}

func (l *Limiter) getOrCreate(key string, capacity, refillPerSecond float64, now time.Time) *bucket {
	if existing, ok := l.buckets.Load(key); ok {
		return existing.(*bucket)
	}
	created := newBucket(capacity, refillPerSecond, now)
	actual, _ := l.buckets.LoadOrStore(key, created)
	return actual.(*bucket)
}

// StartSweep launches a background goroutine that evicts idle buckets on
// the given interval. Call Stop to terminate it.
func (l *Limiter) StartSweep(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stopCh:
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

func (l *Limiter) sweep() {
	now := l.now()
	l.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		idleThreshold := time.Hour
		if b.refillPerSecond > 0 {
			idleThreshold = time.Duration(float64(l.idleEvictionMultiplier)/b.refillPerSecond) * time.Second
		}
		lastAccess := time.Unix(0, b.lastAccess.Load())
		if now.Sub(lastAccess) > idleThreshold {
			l.buckets.Delete(key)
		}
		return true
	})
}

// Stop terminates the background sweep goroutine, if running.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}
