package auth

import (
	"log/slog"
	"net/http"

	"github.com/agentgraphsociety/llm-gateway/internal/httputil"
)

// Middleware returns an HTTP middleware that authenticates requests via the
// X-API-Key header, per spec.md §6.
func Middleware(store KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			key := r.Header.Get("X-API-Key")
			if key == "" {
				httputil.WriteAuthError(w, reqID, "missing X-API-Key header")
				return
			}

			keyHash := HashKey(key)
			record, err := store.Lookup(r.Context(), keyHash)
			if err != nil {
				slog.Error("key lookup failed", "error", err, "key_prefix", safePrefix(key))
				httputil.WriteInternalError(w, reqID, "internal error during authentication")
				return
			}
			if record == nil {
				slog.Warn("auth failed: key not found", "key_prefix", safePrefix(key))
				httputil.WriteAuthError(w, reqID, "invalid API key")
				return
			}

			info := &AuthInfo{
				KeyID:               record.ID,
				KeyPrefix:           record.KeyPrefix,
				AllowedModels:       record.AllowedModels,
				RateCapacity:        record.RateCapacity,
				RateRefillPerSecond: record.RateRefillPerSecond,
			}

			ctx := ContextWithAuth(r.Context(), info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// safePrefix returns a safe-to-log prefix of an API key (never the full key).
func safePrefix(key string) string {
	if len(key) > 20 {
		return key[:20] + "..."
	}
	return key
}
