// Package httpapi exposes the Request Pipeline and Batch Coordinator over
// HTTP, the framing-agnostic contract of spec.md §6: POST /generate,
// POST /batch/generate, GET /models, GET /health, GET /ready.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agentgraphsociety/llm-gateway/internal/auth"
	"github.com/agentgraphsociety/llm-gateway/internal/ratelimit"
	"github.com/agentgraphsociety/llm-gateway/internal/telemetry"
)

// NewRouter assembles the chi router: RealIP, panic recovery, and a
// request-ID stamp on every route (mirroring the teacher's cmd/gateway
// wiring), then an authenticated, rate-limited group for the pipeline
// routes.
func NewRouter(h *Handler, keyStore auth.KeyStore, limiter *ratelimit.Limiter, metrics *telemetry.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(keyStore))
		r.Use(ratelimit.Middleware(limiter, metrics))
		r.Post("/generate", h.Generate)
		r.Post("/batch/generate", h.BatchGenerate)
		r.Get("/models", h.ListModels)
	})

	return r
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func generateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}
