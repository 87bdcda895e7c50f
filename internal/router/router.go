// Package router resolves logical model names to backend model
// identifiers and health-gates dispatch to them.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agentgraphsociety/llm-gateway/internal/types"
)

// ModelLister is the narrow interface the router needs from the Backend
// Client: enumerate the models the backend currently serves.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ModelPuller is the narrow interface for the supplemental maintenance
// operation (§4.F.1); not required for request-time resolution.
type ModelPuller interface {
	Pull(ctx context.Context, model string) error
}

// quantSuffixSeparators are stripped when resolving a logical name by
// suffix, e.g. "llama3:8b-q4" -> "llama3" if an exact match fails.
var quantSuffixSeparators = []string{":", "-q", "-Q"}

// Snapshot is an immutable view of the backend's currently known models.
// The router swaps it atomically on refresh; readers never block on a
// refresh in progress.
type Snapshot struct {
	takenAt time.Time
	byName  map[string]struct{}
}

func newSnapshot(names []string, takenAt time.Time) *Snapshot {
	byName := make(map[string]struct{}, len(names))
	for _, n := range names {
		byName[n] = struct{}{}
	}
	return &Snapshot{takenAt: takenAt, byName: byName}
}

func (s *Snapshot) has(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.byName[name]
	return ok
}

func (s *Snapshot) names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.byName))
	for name := range s.byName {
		out = append(out, name)
	}
	return out
}

// Router maps logical model names to backend model identifiers and
// health-gates resolution through a HealthTracker.
type Router struct {
	lister  ModelLister
	puller  ModelPuller
	health  *HealthTracker
	aliases map[string]string

	snapshot atomic.Pointer[Snapshot]
}

func New(lister ModelLister, puller ModelPuller, health *HealthTracker, aliases map[string]string) *Router {
	r := &Router{lister: lister, puller: puller, health: health, aliases: aliases}
	r.snapshot.Store(newSnapshot(nil, time.Time{}))
	return r
}

// Refresh pulls the current model list from the backend and atomically
// replaces the snapshot. It is safe to call concurrently with Resolve.
// It also ticks the health tracker's recovery probes, so a model's
// open→half-open transition happens in step with model discovery rather
// than waiting on the next request against it.
func (r *Router) Refresh(ctx context.Context) error {
	names, err := r.lister.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	r.snapshot.Store(newSnapshot(names, time.Now()))
	if r.health != nil {
		r.health.Tick(time.Now())
	}
	return nil
}

// RefreshLoop runs Refresh on a fixed interval until ctx is cancelled,
// logging (but not panicking on) transient refresh failures.
func (r *Router) RefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				slog.Warn("model snapshot refresh failed", "error", err)
			}
		}
	}
}

// Resolve maps a logical model name to a backend model name, in the
// resolution order spec.md §4.F defines: exact match, suffix-stripped
// match, configured alias.
func (r *Router) Resolve(logical string) (backendName string, state types.ModelHealthState) {
	snap := r.snapshot.Load()

	if snap.has(logical) {
		return r.gate(logical)
	}

	if stripped := stripQuantSuffix(logical); stripped != logical && snap.has(stripped) {
		return r.gate(stripped)
	}

	if alias, ok := r.aliases[logical]; ok && snap.has(alias) {
		return r.gate(alias)
	}

	return "", types.ModelUnavailable
}

// ReportSuccess and ReportFailure feed the circuit breaker backing a
// resolved backend model, called by the pipeline after each dispatch.
func (r *Router) ReportSuccess(backendName string) {
	if r.health != nil {
		r.health.RecordSuccess(backendName)
	}
}

func (r *Router) ReportFailure(backendName string) {
	if r.health != nil {
		r.health.RecordFailure(backendName)
	}
}

// ListModels returns every backend model currently in the snapshot along
// with its gated health state, for the GET /models endpoint (spec.md §6).
func (r *Router) ListModels() []types.ModelRecord {
	snap := r.snapshot.Load()
	names := snap.names()
	records := make([]types.ModelRecord, 0, len(names))
	for _, name := range names {
		_, health := r.gate(name)
		records = append(records, types.ModelRecord{
			LogicalName: name,
			BackendName: name,
			LastChecked: snap.takenAt.UnixNano(),
			Health:      health,
		})
	}
	return records
}

// AnyReady reports whether at least one currently known model is usable —
// ready or warming back up for a probe — the readiness-gate condition of
// spec.md §4.I. A model that is fully unavailable does not count.
func (r *Router) AnyReady() bool {
	snap := r.snapshot.Load()
	for _, name := range snap.names() {
		if _, health := r.gate(name); health != types.ModelUnavailable {
			return true
		}
	}
	return false
}

func (r *Router) gate(backendName string) (string, types.ModelHealthState) {
	if r.health == nil {
		return backendName, types.ModelReady
	}
	return backendName, r.health.Gate(backendName)
}

// Pull triggers the backend's maintenance pull RPC for a model and
// invalidates any accumulated health state for it. It is an
// operator-triggered call, never invoked by the request pipeline.
func (r *Router) Pull(ctx context.Context, model string) error {
	if r.puller == nil {
		return fmt.Errorf("router: no puller configured")
	}
	if err := r.puller.Pull(ctx, model); err != nil {
		return fmt.Errorf("pull model %s: %w", model, err)
	}
	if r.health != nil {
		r.health.Forget(model)
	}
	return nil
}

func stripQuantSuffix(name string) string {
	for _, sep := range quantSuffixSeparators {
		if idx := strings.Index(name, sep); idx > 0 {
			return name[:idx]
		}
	}
	return name
}
