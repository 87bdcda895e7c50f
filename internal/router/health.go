package router

import (
	"sync"
	"time"

	"github.com/agentgraphsociety/llm-gateway/internal/types"
)

// HealthTracker manages circuit breakers for all resolved backend models.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	failureThreshold      int
	recoveryProbeInterval time.Duration
}

// NewHealthTracker creates a health tracker with the given circuit breaker config.
func NewHealthTracker(failureThreshold int, recoveryProbeInterval time.Duration) *HealthTracker {
	return &HealthTracker{
		breakers:              make(map[string]*CircuitBreaker),
		failureThreshold:      failureThreshold,
		recoveryProbeInterval: recoveryProbeInterval,
	}
}

// GetBreaker returns (or lazily creates) the circuit breaker for a backend model.
func (ht *HealthTracker) GetBreaker(backendModel string) *CircuitBreaker {
	ht.mu.RLock()
	cb, ok := ht.breakers[backendModel]
	ht.mu.RUnlock()
	if ok {
		return cb
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	if cb, ok := ht.breakers[backendModel]; ok {
		return cb
	}
	cb = NewCircuitBreaker(ht.failureThreshold, ht.recoveryProbeInterval)
	ht.breakers[backendModel] = cb
	return cb
}

// IsAvailable returns true if the model's circuit breaker allows requests.
func (ht *HealthTracker) IsAvailable(backendModel string) bool {
	return ht.GetBreaker(backendModel).Allow()
}

// Gate returns the model's current health classification (ready, warming,
// or unavailable) for surfacing on ModelRecord, rather than the plain
// allow/deny bool IsAvailable returns. Router.Resolve, and through it the
// pipeline's dispatch path, gates on this value.
func (ht *HealthTracker) Gate(backendModel string) types.ModelHealthState {
	return ht.GetBreaker(backendModel).HealthState()
}

// Tick advances every tracked breaker's OPEN→HALF_OPEN probe check,
// called once per Model Router refresh cycle so recovery probing happens
// in step with model discovery instead of only on in-flight requests.
func (ht *HealthTracker) Tick(now time.Time) {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	for _, cb := range ht.breakers {
		cb.Tick(now)
	}
}

// RecordSuccess records a successful request for the model.
func (ht *HealthTracker) RecordSuccess(backendModel string) {
	ht.GetBreaker(backendModel).RecordSuccess()
}

// RecordFailure records a failed request for the model.
func (ht *HealthTracker) RecordFailure(backendModel string) {
	ht.GetBreaker(backendModel).RecordFailure()
}

// Forget drops the breaker for a model entirely, used after a maintenance
// pull invalidates whatever health history was accumulated.
func (ht *HealthTracker) Forget(backendModel string) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	delete(ht.breakers, backendModel)
}
