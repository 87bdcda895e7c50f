package batch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentgraphsociety/llm-gateway/internal/backend"
	"github.com/agentgraphsociety/llm-gateway/internal/cache"
	"github.com/agentgraphsociety/llm-gateway/internal/httputil"
	"github.com/agentgraphsociety/llm-gateway/internal/pipeline"
	"github.com/agentgraphsociety/llm-gateway/internal/prompt"
	"github.com/agentgraphsociety/llm-gateway/internal/router"
	"github.com/agentgraphsociety/llm-gateway/internal/types"
)

type fakeLister struct{ names []string }

func (f *fakeLister) ListModels(ctx context.Context) ([]string, error) { return f.names, nil }

func newTestPipeline(t *testing.T, handler http.HandlerFunc) *pipeline.Pipeline {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	r := router.New(&fakeLister{names: []string{"llama3"}}, nil, router.NewHealthTracker(3, time.Second), nil)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	return &pipeline.Pipeline{
		Cache:         cache.New(cache.NewMemoryStore(time.Minute)),
		Assembler:     prompt.NewAssembler(prompt.DefaultMaxAssembledLength),
		Router:        r,
		Backend: backend.NewClient(backend.Config{
			BaseURL:           server.URL,
			TimeoutPerAttempt: time.Second,
			MaxRetries:        1,
			BaseBackoff:       time.Millisecond,
		}),
		SchemaVersion: 1,
		CacheTTL:      time.Minute,
		NegativeTTL:   time.Minute,
	}
}

func TestRun_PreservesOrderAndHandlesPartialFailure(t *testing.T) {
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Prompt string }
		json.NewDecoder(r.Body).Decode(&body)
		if body.Prompt == "fail" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"model": "llama3", "response": "ok:" + body.Prompt, "done": true})
	})

	c := New(p, 4, 0)
	requests := []types.GenerationRequest{
		{Model: "llama3", Prompt: "one", CachePolicy: types.CacheBypass},
		{Model: "llama3", Prompt: "fail", CachePolicy: types.CacheBypass},
		{Model: "llama3", Prompt: "three", CachePolicy: types.CacheBypass},
	}

	outcomes := c.Run(context.Background(), requests)
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Response == nil || outcomes[0].Response.Response != "ok:one" {
		t.Errorf("outcome 0: expected successful response for 'one', got %+v", outcomes[0])
	}
	if outcomes[1].Error == nil {
		t.Errorf("outcome 1: expected error for 'fail', got %+v", outcomes[1])
	}
	if outcomes[2].Response == nil || outcomes[2].Response.Response != "ok:three" {
		t.Errorf("outcome 2: expected successful response for 'three', got %+v", outcomes[2])
	}
}

func TestRun_BoundsConcurrency(t *testing.T) {
	var inFlight, maxSeen atomic.Int32
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			m := maxSeen.Load()
			if n <= m || maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		json.NewEncoder(w).Encode(map[string]any{"model": "llama3", "response": "ok", "done": true})
	})

	c := New(p, 2, 0)
	requests := make([]types.GenerationRequest, 8)
	for i := range requests {
		requests[i] = types.GenerationRequest{Model: "llama3", Prompt: "p", CachePolicy: types.CacheBypass}
	}

	c.Run(context.Background(), requests)
	if maxSeen.Load() > 2 {
		t.Errorf("expected at most 2 concurrent pipeline calls, saw %d", maxSeen.Load())
	}
}

func TestRun_NoElementDropped(t *testing.T) {
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"model": "llama3", "response": "ok", "done": true})
	})

	c := New(p, 3, 0)
	requests := make([]types.GenerationRequest, 10)
	for i := range requests {
		requests[i] = types.GenerationRequest{Model: "llama3", Prompt: "p", CachePolicy: types.CacheBypass}
	}

	outcomes := c.Run(context.Background(), requests)
	for i, o := range outcomes {
		if o.Response == nil && o.Error == nil {
			t.Errorf("outcome %d: both Response and Error are nil", i)
		}
		if o.Index != i {
			t.Errorf("outcome %d: expected Index %d, got %d", i, i, o.Index)
		}
	}
}

func TestRun_ModelUnavailablePropagatesAsOutcomeError(t *testing.T) {
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend should not be called for an unresolvable model")
	})

	c := New(p, 2, 0)
	outcomes := c.Run(context.Background(), []types.GenerationRequest{
		{Model: "missing-model", Prompt: "p"},
	})

	if outcomes[0].Error == nil {
		t.Fatal("expected error outcome")
	}
	if outcomes[0].Error.Kind != string(httputil.KindModelUnavailable) {
		t.Errorf("expected model_unavailable, got %s", outcomes[0].Error.Kind)
	}
}
