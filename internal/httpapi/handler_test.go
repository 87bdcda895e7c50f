package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	bk "github.com/agentgraphsociety/llm-gateway/internal/backend"
	"github.com/agentgraphsociety/llm-gateway/internal/batch"
	"github.com/agentgraphsociety/llm-gateway/internal/cache"
	"github.com/agentgraphsociety/llm-gateway/internal/config"
	"github.com/agentgraphsociety/llm-gateway/internal/prompt"
	rt "github.com/agentgraphsociety/llm-gateway/internal/ratelimit"
	"github.com/agentgraphsociety/llm-gateway/internal/router"

	"github.com/agentgraphsociety/llm-gateway/internal/auth"
	"github.com/agentgraphsociety/llm-gateway/internal/pipeline"
)

type fakeLister struct{ names []string }

func (f *fakeLister) ListModels(ctx context.Context) ([]string, error) { return f.names, nil }

func newTestServer(t *testing.T, backendHandler http.HandlerFunc) (*httptest.Server, string) {
	t.Helper()
	ollama := httptest.NewServer(backendHandler)
	t.Cleanup(ollama.Close)

	backendClient := bk.NewClient(bk.Config{
		BaseURL:           ollama.URL,
		TimeoutPerAttempt: time.Second,
		MaxRetries:        1,
		BaseBackoff:       time.Millisecond,
	})

	r := router.New(&fakeLister{names: []string{"llama3"}}, nil, router.NewHealthTracker(3, time.Second), nil)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	p := &pipeline.Pipeline{
		Cache:         cache.New(cache.NewMemoryStore(time.Minute)),
		Assembler:     prompt.NewAssembler(prompt.DefaultMaxAssembledLength),
		Router:        r,
		Backend:       backendClient,
		SchemaVersion: 1,
		CacheTTL:      time.Minute,
		NegativeTTL:   time.Minute,
	}
	bc := batch.New(p, 4, 0)
	h := NewHandler(p, bc, r, backendClient)

	const rawKey = "gw-test-abcdefgh12345678"
	keyStore := auth.NewDevKeyStore([]config.DevAPIKey{{Key: rawKey, Name: "test"}}, config.KeyRateLimit{Capacity: 1000, RefillPerSecond: 1000})
	limiter := rt.NewLimiter(1000, 1000, 10)

	mux := NewRouter(h, keyStore, limiter, nil)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, rawKey
}

func okBackend(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]any{"model": "llama3", "response": "hello", "done": true})
}

func TestGenerate_Success(t *testing.T) {
	server, key := newTestServer(t, okBackend)

	body, _ := json.Marshal(map[string]any{"model": "llama3", "prompt": "hi"})
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/generate", bytes.NewReader(body))
	req.Header.Set("X-API-Key", key)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	if out["response"] != "hello" {
		t.Errorf("expected 'hello', got %v", out["response"])
	}
}

func TestGenerate_MissingModelIsValidationError(t *testing.T) {
	server, key := newTestServer(t, okBackend)

	body, _ := json.Marshal(map[string]any{"prompt": "hi"})
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/generate", bytes.NewReader(body))
	req.Header.Set("X-API-Key", key)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGenerate_NoAPIKeyUnauthorized(t *testing.T) {
	server, _ := newTestServer(t, okBackend)

	body, _ := json.Marshal(map[string]any{"model": "llama3", "prompt": "hi"})
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/generate", bytes.NewReader(body))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestBatchGenerate_MixedValidAndInvalid(t *testing.T) {
	server, key := newTestServer(t, okBackend)

	body, _ := json.Marshal(map[string]any{
		"requests": []map[string]any{
			{"model": "llama3", "prompt": "one", "cache_policy": "bypass"},
			{"prompt": "missing model"},
			{"model": "llama3", "prompt": "three", "cache_policy": "bypass"},
		},
	})
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/batch/generate", bytes.NewReader(body))
	req.Header.Set("X-API-Key", key)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out batchResponseBody
	json.NewDecoder(resp.Body).Decode(&out)
	if len(out.Responses) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(out.Responses))
	}
	if out.Responses[0].Response == nil {
		t.Errorf("outcome 0: expected success, got %+v", out.Responses[0])
	}
	if out.Responses[1].Error == nil {
		t.Errorf("outcome 1: expected validation error, got %+v", out.Responses[1])
	}
	if out.Responses[2].Response == nil {
		t.Errorf("outcome 2: expected success, got %+v", out.Responses[2])
	}
}

func TestListModels(t *testing.T) {
	server, key := newTestServer(t, okBackend)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/models", nil)
	req.Header.Set("X-API-Key", key)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHealthAndReady(t *testing.T) {
	server, _ := newTestServer(t, okBackend)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", resp.StatusCode)
	}

	resp2, err := http.Get(server.URL + "/ready")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /ready, got %d", resp2.StatusCode)
	}
}
