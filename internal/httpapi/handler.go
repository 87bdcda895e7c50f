package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentgraphsociety/llm-gateway/internal/auth"
	"github.com/agentgraphsociety/llm-gateway/internal/backend"
	"github.com/agentgraphsociety/llm-gateway/internal/batch"
	"github.com/agentgraphsociety/llm-gateway/internal/httputil"
	"github.com/agentgraphsociety/llm-gateway/internal/pipeline"
	"github.com/agentgraphsociety/llm-gateway/internal/router"
	"github.com/agentgraphsociety/llm-gateway/internal/types"
)

// Handler holds the dependencies the pipeline-facing HTTP routes need.
type Handler struct {
	Pipeline *pipeline.Pipeline
	Batch    *batch.Coordinator
	Router   *router.Router
	Backend  *backend.Client
}

func NewHandler(p *pipeline.Pipeline, b *batch.Coordinator, r *router.Router, backendClient *backend.Client) *Handler {
	return &Handler{Pipeline: p, Batch: b, Router: r, Backend: backendClient}
}

// Generate handles POST /generate.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	authInfo, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "not authenticated")
		return
	}

	var req types.GenerationRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, reqID, err.Error())
		return
	}
	if err := validateRequest(&req); err != nil {
		httputil.WriteValidationError(w, reqID, err.Error())
		return
	}
	if !modelAllowed(authInfo, req.Model) {
		httputil.WriteError(w, reqID, http.StatusNotFound, httputil.KindModelUnavailable, "model not permitted for this key")
		return
	}

	req.RequestID = reqID
	req.APIKeyID = authInfo.KeyID
	req.ReceivedAt = time.Now()

	resp, pipeErr := h.Pipeline.Run(r.Context(), req)
	if pipeErr != nil {
		writePipelineError(w, reqID, pipeErr)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// batchRequestBody is the wire shape of POST /batch/generate.
type batchRequestBody struct {
	Requests []types.GenerationRequest `json:"requests"`
}

type batchResponseBody struct {
	Responses []types.BatchOutcome `json:"responses"`
}

// BatchGenerate handles POST /batch/generate.
func (h *Handler) BatchGenerate(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	authInfo, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "not authenticated")
		return
	}

	var body batchRequestBody
	if err := decodeJSON(r, &body); err != nil {
		httputil.WriteValidationError(w, reqID, err.Error())
		return
	}
	if len(body.Requests) == 0 {
		httputil.WriteValidationError(w, reqID, "requests must be non-empty")
		return
	}

	now := time.Now()
	outcomes := make([]types.BatchOutcome, len(body.Requests))
	var validReqs []types.GenerationRequest
	var validIndices []int

	for i := range body.Requests {
		req := body.Requests[i]
		if err := validateRequest(&req); err != nil {
			outcomes[i] = types.BatchOutcome{
				Index: i,
				Error: &types.ErrorOutcome{Kind: string(httputil.KindValidation), Message: err.Error()},
			}
			continue
		}
		if !modelAllowed(authInfo, req.Model) {
			outcomes[i] = types.BatchOutcome{
				Index: i,
				Error: &types.ErrorOutcome{Kind: string(httputil.KindModelUnavailable), Message: "model not permitted for this key"},
			}
			continue
		}
		req.APIKeyID = authInfo.KeyID
		req.ReceivedAt = now
		validReqs = append(validReqs, req)
		validIndices = append(validIndices, i)
	}

	if len(validReqs) > 0 {
		results := h.Batch.Run(r.Context(), validReqs)
		for j, outcome := range results {
			outcome.Index = validIndices[j]
			outcomes[validIndices[j]] = outcome
		}
	}

	writeJSON(w, http.StatusOK, batchResponseBody{Responses: outcomes})
}

// ListModels handles GET /models.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	records := h.Router.ListModels()
	writeJSON(w, http.StatusOK, map[string]any{"models": records})
}

// Health handles GET /health: liveness only, always ok once the process is
// serving requests.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /ready: ready only if the backend reports healthy and
// at least one configured model currently resolves, per spec.md §4.I.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Backend.Health(ctx); err != nil {
		slog.Warn("readiness check: backend unhealthy", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": "backend unhealthy"})
		return
	}
	if !h.Router.AnyReady() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": "no model resolves"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func modelAllowed(authInfo *auth.AuthInfo, model string) bool {
	if len(authInfo.AllowedModels) == 0 {
		return true
	}
	for _, m := range authInfo.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

func writePipelineError(w http.ResponseWriter, reqID string, pipeErr *pipeline.Error) {
	status := httputil.KindToStatus(pipeErr.Kind)
	if pipeErr.Kind == httputil.KindRateLimited && pipeErr.RetryAfter != nil {
		httputil.WriteRateLimitErrorWithRetry(w, reqID, pipeErr.Message, *pipeErr.RetryAfter)
		return
	}
	httputil.WriteError(w, reqID, status, pipeErr.Kind, pipeErr.Message)
}

func decodeJSON(r *http.Request, dest any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dest)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
