package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryStore_GetPutRoundTrip(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	entry := Entry{ResponseText: "hello", TTL: time.Minute}
	if err := s.Put(context.Background(), "fp1", entry); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, ok, err := s.Get(context.Background(), "fp1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.ResponseText != "hello" {
		t.Errorf("expected 'hello', got %q", got.ResponseText)
	}
}

func TestMemoryStore_ExpiredEntryIsMiss(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	s.Put(context.Background(), "fp1", Entry{ResponseText: "hello", TTL: time.Nanosecond})
	time.Sleep(time.Millisecond)

	_, ok, err := s.Get(context.Background(), "fp1")
	if err != nil || ok {
		t.Fatalf("expected expired entry to report as miss, ok=%v err=%v", ok, err)
	}
}

func TestMemoryStore_PutIfAbsentDoesNotOverwrite(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	s.Put(context.Background(), "fp1", Entry{ResponseText: "first", TTL: time.Minute})
	s.PutIfAbsent(context.Background(), "fp1", Entry{ResponseText: "second", TTL: time.Minute})

	got, _, _ := s.Get(context.Background(), "fp1")
	if got.ResponseText != "first" {
		t.Errorf("expected PutIfAbsent to leave existing entry, got %q", got.ResponseText)
	}
}

func TestCache_GetOrCompute_CachesOnSuccess(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	c := New(store)

	var calls atomic.Int32
	compute := func(ctx context.Context) (Entry, error) {
		calls.Add(1)
		return Entry{ResponseText: "computed", TTL: time.Minute}, nil
	}

	result, err := c.GetOrCompute(context.Background(), "fp1", compute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Entry.ResponseText != "computed" {
		t.Errorf("expected computed entry, got %q", result.Entry.ResponseText)
	}

	entry, hit, _ := store.Get(context.Background(), "fp1")
	if !hit || entry.ResponseText != "computed" {
		t.Error("expected leader to persist result into the store")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 compute call, got %d", calls.Load())
	}
}

func TestCache_GetOrCompute_CoalescesConcurrentCallers(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	c := New(store)

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(ctx context.Context) (Entry, error) {
		calls.Add(1)
		<-release
		return Entry{ResponseText: "slow", TTL: time.Minute}, nil
	}

	const waiters = 10
	var wg sync.WaitGroup
	results := make([]Result, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := c.GetOrCompute(context.Background(), "fp1", compute)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = r
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 compute call across %d waiters, got %d", waiters, calls.Load())
	}
	for i, r := range results {
		if r.Entry.ResponseText != "slow" {
			t.Errorf("waiter %d got unexpected result %q", i, r.Entry.ResponseText)
		}
	}
}

func TestCache_GetOrCompute_OnlyOneCallerIsUncoalescedLeader(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	c := New(store)

	release := make(chan struct{})
	compute := func(ctx context.Context) (Entry, error) {
		<-release
		return Entry{ResponseText: "slow", TTL: time.Minute}, nil
	}

	const waiters = 50
	var wg sync.WaitGroup
	results := make([]Result, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := c.GetOrCompute(context.Background(), "fp1", compute)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = r
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	var coalesced int
	for _, r := range results {
		if r.Coalesced {
			coalesced++
		}
	}
	if coalesced != waiters-1 {
		t.Errorf("expected exactly %d coalesced waiters (all but the leader), got %d", waiters-1, coalesced)
	}
}

func TestCache_GetOrCompute_PropagatesError(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	c := New(store)

	wantErr := errors.New("backend rejected")
	compute := func(ctx context.Context) (Entry, error) { return Entry{}, wantErr }

	_, err := c.GetOrCompute(context.Background(), "fp1", compute)
	if err == nil {
		t.Fatal("expected error to propagate")
	}

	if _, hit, _ := store.Get(context.Background(), "fp1"); hit {
		t.Error("expected failed compute to not populate the positive cache")
	}
}

func TestCache_PutNegative_BoundedTTL(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	c := New(store)

	if err := c.PutNegative(context.Background(), "fp1", "validation", "bad request", 10*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, hit, _ := store.Get(context.Background(), "fp1")
	if !hit || !entry.Failed || entry.FailureKind != "validation" {
		t.Errorf("expected negative cache entry, got %+v hit=%v", entry, hit)
	}
}
