package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

// mockKeyStore implements KeyStore for testing.
type mockKeyStore struct {
	keys map[string]*APIKeyRecord
}

func (m *mockKeyStore) Lookup(ctx context.Context, keyHash string) (*APIKeyRecord, error) {
	rec, ok := m.keys[keyHash]
	if !ok {
		return nil, nil
	}
	return rec, nil
}

func TestMiddleware_MissingAPIKeyHeader(t *testing.T) {
	store := &mockKeyStore{keys: make(map[string]*APIKeyRecord)}
	mw := Middleware(store)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "test-req")
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_InvalidKey(t *testing.T) {
	store := &mockKeyStore{keys: make(map[string]*APIKeyRecord)}
	mw := Middleware(store)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-API-Key", "gw-prod-invalidkey123")
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "test-req")
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_ValidKey(t *testing.T) {
	rawKey := "gw-prod-testkey12345678901234567890ab"
	keyHash := HashKey(rawKey)

	store := &mockKeyStore{
		keys: map[string]*APIKeyRecord{
			keyHash: {
				ID:                  "key-uuid-123",
				KeyHash:             keyHash,
				KeyPrefix:           KeyPrefix(rawKey),
				Name:                "test key",
				RateCapacity:        60,
				RateRefillPerSecond: 1,
				AllowedModels:       []string{"llama3"},
				Status:              "active",
			},
		},
	}

	mw := Middleware(store)
	var gotAuth *AuthInfo

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := AuthFromContext(r.Context())
		if !ok {
			t.Error("expected auth info in context")
			return
		}
		gotAuth = info
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-API-Key", rawKey)
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "test-req")
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	if gotAuth == nil {
		t.Fatal("auth info should be set")
	}
	if gotAuth.KeyID != "key-uuid-123" {
		t.Errorf("expected key-uuid-123, got %s", gotAuth.KeyID)
	}
	if gotAuth.RateCapacity != 60 {
		t.Errorf("expected rate capacity 60, got %v", gotAuth.RateCapacity)
	}
	if len(gotAuth.AllowedModels) != 1 || gotAuth.AllowedModels[0] != "llama3" {
		t.Errorf("expected allowed models [llama3], got %v", gotAuth.AllowedModels)
	}
}
