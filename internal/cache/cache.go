package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces a cache Entry for a miss. A non-nil error with
// Cacheable true indicates a negative-cacheable structured failure (e.g.
// malformed backend request); Cacheable false means the error was
// transient and must never be written to the cache.
type ComputeFunc func(ctx context.Context) (Entry, error)

// ComputeError wraps a failure from a ComputeFunc, carrying whether it is
// safe to negative-cache.
type ComputeError struct {
	Err        error
	Cacheable  bool
	NegativeTTL time.Duration
}

func (e *ComputeError) Unwrap() error { return e.Err }
func (e *ComputeError) Error() string { return e.Err.Error() }

// Result is what GetOrCompute returns alongside a nil error: the freshly
// computed entry. On failure GetOrCompute returns the original error from
// ComputeFunc instead. GetOrCompute does not read the store, so it never
// sets FromCache.
type Result struct {
	Entry     Entry
	FromCache bool
	Coalesced bool // true if this caller waited on another goroutine's compute
}

// Cache combines an external Store with a process-local single-flight
// group, the canonical get_or_compute entry point of spec.md §4.B.
type Cache struct {
	store Store
	group singleflight.Group
}

func New(store Store) *Cache {
	return &Cache{store: store}
}

// Get performs a plain lookup, reporting a miss for expired or absent
// entries.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	return c.store.Get(ctx, key)
}

// Invalidate removes any entry for key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Invalidate(ctx, key)
}

// GetOrCompute is the canonical entry point described in spec.md §4.B. It
// does not look up the store itself (callers do that with Get first when
// their cache policy allows a hit): at most one goroutine per fingerprint
// per process actually runs compute; all others wait on and receive the
// same result. The leader writes a successful result into the store before
// returning. compute runs under the leader's ctx, so cancelling the leader
// cancels the computation for every waiter; there is no leader handoff.
//
// singleflight.Group.Do's shared return value is true for every caller in
// a coalesced group, leader included, so it cannot answer "was I the one
// who waited." isLeader is set only inside the closure, which the
// singleflight group invokes on exactly one caller's goroutine per
// in-flight key; every other caller's own copy of isLeader stays false.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (Result, error) {
	var isLeader bool
	v, err, _ := c.group.Do(key, func() (any, error) {
		isLeader = true
		entry, computeErr := compute(ctx)
		if computeErr != nil {
			return Entry{}, computeErr
		}
		if putErr := c.store.Put(ctx, key, entry); putErr != nil {
			// Cache write failure is not the caller's concern; the result
			// is still valid, just not persisted.
			return entry, nil
		}
		return entry, nil
	})

	if err != nil {
		return Result{Coalesced: !isLeader}, err
	}
	return Result{Entry: v.(Entry), Coalesced: !isLeader}, nil
}

// PutNegative writes a negative-cache entry for a cacheable structured
// failure, bounded by negativeTTL, using set-if-absent so a concurrent
// successful write from another replica is never clobbered.
func (c *Cache) PutNegative(ctx context.Context, key string, kind, message string, negativeTTL time.Duration) error {
	return c.store.PutIfAbsent(ctx, key, Entry{
		Failed:      true,
		FailureKind: kind,
		FailureMsg:  message,
		CreatedAt:   time.Now(),
		TTL:         negativeTTL,
	})
}
