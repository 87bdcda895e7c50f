package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/agentgraphsociety/llm-gateway/internal/auth"
	"github.com/agentgraphsociety/llm-gateway/internal/httputil"
	"github.com/agentgraphsociety/llm-gateway/internal/telemetry"
)

const headerRetryAfter = "Retry-After"

// Middleware returns chi middleware that enforces the per-key token bucket
// admission control of spec.md §4.C. It runs after auth.Middleware, which
// populates the request context with the key's effective rate capacity and
// refill rate.
func Middleware(limiter *Limiter, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			authInfo, ok := auth.AuthFromContext(r.Context())
			if !ok {
				// No auth info — let the request pass; auth middleware will
				// have already rejected it upstream.
				next.ServeHTTP(w, r)
				return
			}

			result := limiter.Allow(authInfo.KeyID, authInfo.RateCapacity, authInfo.RateRefillPerSecond)
			if !result.Allowed {
				retryAfterSeconds := int(result.RetryAfter.Seconds())
				if retryAfterSeconds < 1 {
					retryAfterSeconds = 1
				}

				slog.Warn("rate limit exceeded",
					"request_id", reqID,
					"key_id", authInfo.KeyID,
					"key_prefix", authInfo.KeyPrefix,
					"retry_after_s", retryAfterSeconds,
				)
				if metrics != nil {
					metrics.RecordRateLimitRejection(authInfo.KeyPrefix)
				}

				w.Header().Set(headerRetryAfter, strconv.Itoa(retryAfterSeconds))
				httputil.WriteRateLimitErrorWithRetry(w, reqID,
					fmt.Sprintf("rate limit exceeded, retry after %d seconds", retryAfterSeconds),
					retryAfterSeconds)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
