package router

import (
	"testing"
	"time"
)

func TestHealthTracker_LazyCreatesBreaker(t *testing.T) {
	ht := NewHealthTracker(3, 5*time.Second)
	if !ht.IsAvailable("llama3") {
		t.Error("expected new breaker to allow requests")
	}
}

func TestHealthTracker_SharesBreakerPerModel(t *testing.T) {
	ht := NewHealthTracker(1, 5*time.Second)

	ht.RecordFailure("llama3")
	if ht.IsAvailable("llama3") {
		t.Error("expected llama3 breaker to be open after threshold failure")
	}
	if !ht.IsAvailable("mistral") {
		t.Error("expected mistral breaker to be unaffected by llama3 failures")
	}
}

func TestHealthTracker_Forget(t *testing.T) {
	ht := NewHealthTracker(1, 5*time.Second)

	ht.RecordFailure("llama3")
	if ht.IsAvailable("llama3") {
		t.Fatal("expected breaker to be open")
	}

	ht.Forget("llama3")
	if !ht.IsAvailable("llama3") {
		t.Error("expected fresh breaker after Forget")
	}
}
