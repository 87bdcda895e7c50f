// Package pipeline implements the Request Pipeline of spec.md §4.G,
// restructured from the teacher's gateway.Handler.ChatCompletions control
// flow into an HTTP-independent function: fingerprint, cache lookup,
// single-flight, route, assemble, dispatch, cache write, metrics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentgraphsociety/llm-gateway/internal/backend"
	"github.com/agentgraphsociety/llm-gateway/internal/cache"
	"github.com/agentgraphsociety/llm-gateway/internal/fingerprint"
	"github.com/agentgraphsociety/llm-gateway/internal/httputil"
	"github.com/agentgraphsociety/llm-gateway/internal/policy"
	"github.com/agentgraphsociety/llm-gateway/internal/prompt"
	"github.com/agentgraphsociety/llm-gateway/internal/router"
	"github.com/agentgraphsociety/llm-gateway/internal/telemetry"
	"github.com/agentgraphsociety/llm-gateway/internal/types"
)

// Error is a structured pipeline failure, carrying the taxonomy kind the
// HTTP layer needs to pick a status code without inspecting error text.
type Error struct {
	Kind       httputil.ErrorKind
	Message    string
	RetryAfter *int
}

func (e *Error) Error() string { return e.Message }

func newError(kind httputil.ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Pipeline wires the Fingerprinter, Cache, Prompt Assembler, Model Router,
// Access Policy, Backend Client, and Metrics into the nine-step flow of
// spec.md §4.G.
type Pipeline struct {
	Cache         *cache.Cache
	Assembler     *prompt.Assembler
	Router        *router.Router
	Policy        *policy.Evaluator
	Backend       *backend.Client
	Metrics       *telemetry.Metrics
	SchemaVersion byte
	CacheTTL      time.Duration
	NegativeTTL   time.Duration
}

// Run executes one admitted request through the pipeline and returns the
// client-facing response or a structured Error.
func (p *Pipeline) Run(ctx context.Context, req types.GenerationRequest) (*types.GenerationResponse, *Error) {
	start := time.Now()
	req = req.WithDefaults()

	if p.Metrics != nil {
		p.Metrics.ActivePipelines.Inc()
		defer p.Metrics.ActivePipelines.Dec()
	}

	fp := fingerprint.Compute(req, p.SchemaVersion)
	key := fmt.Sprintf("v%d:%s", p.SchemaVersion, fp)

	// Step 2: bypass skips cache entirely, no write-back.
	if req.CachePolicy == types.CacheBypass {
		resp, pipeErr := p.dispatch(ctx, req, types.CacheStatusBypass)
		if resp != nil {
			resp.LatencyMs = time.Since(start).Milliseconds()
		}
		p.recordOutcome(req, resp, pipeErr, start, types.CacheStatusBypass)
		return resp, pipeErr
	}

	// Step 3: cache lookup, honoring use vs. refresh. A negative-cache hit
	// (a previously recorded structured failure) short-circuits the same
	// way a successful hit does, sparing the backend a repeat of a request
	// already known to fail.
	if req.CachePolicy == types.CacheUse {
		if entry, hit, err := p.Cache.Get(ctx, key); err == nil && hit {
			if entry.Failed {
				pipeErr := &Error{Kind: httputil.ErrorKind(entry.FailureKind), Message: entry.FailureMsg}
				p.recordOutcome(req, nil, pipeErr, start, types.CacheStatusHit)
				return nil, pipeErr
			}
			resp := entryToResponse(*entry, req.RequestID, types.CacheStatusHit, time.Since(start))
			p.recordOutcome(req, resp, nil, start, types.CacheStatusHit)
			return resp, nil
		}
	}

	cacheStatus := types.CacheStatusMiss
	if req.CachePolicy == types.CacheRefresh {
		cacheStatus = types.CacheStatusRefresh
	}

	// Step 4-8: single-flight the compute, writing the cache on success and
	// negative-caching cacheable structured failures.
	result, err := p.Cache.GetOrCompute(ctx, key, func(ctx context.Context) (cache.Entry, error) {
		resp, pipeErr := p.dispatch(ctx, req, cacheStatus)
		if pipeErr != nil {
			if isNegativeCacheable(pipeErr.Kind) {
				return cache.Entry{}, &cache.ComputeError{Err: pipeErr, Cacheable: true, NegativeTTL: p.NegativeTTL}
			}
			return cache.Entry{}, pipeErr
		}
		return responseToEntry(resp, p.CacheTTL), nil
	})

	if err != nil {
		var computeErr *cache.ComputeError
		var pipeErr *Error
		if errors.As(err, &computeErr) {
			errors.As(computeErr.Err, &pipeErr)
			if computeErr.Cacheable {
				p.Cache.PutNegative(ctx, key, string(pipeErr.Kind), pipeErr.Message, p.NegativeTTL)
			}
		} else {
			errors.As(err, &pipeErr)
		}
		if pipeErr == nil {
			pipeErr = newError(httputil.KindInternal, "pipeline: %v", err)
			slog.Error("pipeline internal error", "request_id", req.RequestID, "fingerprint", fp, "error", err)
		}
		p.recordOutcome(req, nil, pipeErr, start, cacheStatus)
		return nil, pipeErr
	}

	if result.Coalesced && p.Metrics != nil {
		p.Metrics.RecordCoalesced(1)
	}

	resp := entryToResponse(result.Entry, req.RequestID, cacheStatus, time.Since(start))
	p.recordOutcome(req, resp, nil, start, cacheStatus)
	return resp, nil
}

// dispatch performs steps 5-6: resolve the model, assemble the prompt,
// check access policy, and call the backend.
func (p *Pipeline) dispatch(ctx context.Context, req types.GenerationRequest, cacheStatus types.CacheStatus) (*types.GenerationResponse, *Error) {
	backendModel, health := p.Router.Resolve(req.Model)
	if health == types.ModelUnavailable {
		return nil, newError(httputil.KindModelUnavailable, "model %q is not available", req.Model)
	}
	// ModelWarming is a half-open circuit probe; it is let through so the
	// breaker actually gets the single probe request it needs to recover.

	if p.Policy != nil {
		decision := p.Policy.Evaluate(ctx, req.APIKeyID, backendModel)
		if !decision.Allowed {
			return nil, newError(httputil.KindModelUnavailable, "model %q is not permitted for this key: %s", req.Model, decision.Reason)
		}
	}

	assembled := p.Assembler.Assemble(req.Prompt, req.AgentProfile)

	result, err := p.Backend.Generate(ctx, backendModel, assembled, backend.Options{
		Temperature:   *req.Temperature,
		MaxTokens:     *req.MaxTokens,
		TopP:          *req.TopP,
		TopK:          *req.TopK,
		RepeatPenalty: *req.RepeatPenalty,
		Stop:          req.Stop,
		Seed:          req.Seed,
	})
	if err != nil {
		p.Router.ReportFailure(backendModel)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newError(httputil.KindTimeout, "backend call timed out: %v", err)
		}

		var statusErr *backend.StatusError
		if errors.As(err, &statusErr) {
			switch {
			case statusErr.Status == http.StatusTooManyRequests:
				return nil, newError(httputil.KindRateLimited, "backend rate limited: %s", statusErr.Body)
			case statusErr.Status >= 400 && statusErr.Status < 500:
				return nil, newError(httputil.KindBackendRejected, "backend rejected request: status %d", statusErr.Status)
			default:
				return nil, newError(httputil.KindBackendTransient, "backend error: status %d", statusErr.Status)
			}
		}

		slog.Error("backend generate failed", "model", backendModel, "error", err)
		return nil, newError(httputil.KindBackendTransient, "backend call failed: %v", err)
	}
	p.Router.ReportSuccess(backendModel)

	return &types.GenerationResponse{
		Response:    result.ResponseText,
		Model:       backendModel,
		CacheStatus: cacheStatus,
		LatencyMs:   0,
		Tokens:      types.TokenUsage{Prompt: result.PromptTokens, Completion: result.CompletionTokens},
		RequestID:   req.RequestID,
	}, nil
}

func (p *Pipeline) recordOutcome(req types.GenerationRequest, resp *types.GenerationResponse, pipeErr *Error, start time.Time, cacheStatus types.CacheStatus) {
	if p.Metrics == nil {
		return
	}
	outcome := "success"
	if pipeErr != nil {
		outcome = string(pipeErr.Kind)
	}
	labels := telemetry.RequestLabels{
		Model:       req.Model,
		Outcome:     outcome,
		CacheStatus: string(cacheStatus),
		DurationMs:  float64(time.Since(start).Milliseconds()),
	}
	if resp != nil {
		if resp.Tokens.Prompt != nil {
			labels.PromptTokens = *resp.Tokens.Prompt
		}
		if resp.Tokens.Completion != nil {
			labels.CompletionTokens = *resp.Tokens.Completion
		}
	}
	p.Metrics.RecordRequest(labels)
}

func isNegativeCacheable(kind httputil.ErrorKind) bool {
	switch kind {
	case httputil.KindValidation, httputil.KindBackendRejected:
		return true
	default:
		return false
	}
}

func entryToResponse(entry cache.Entry, requestID string, status types.CacheStatus, elapsed time.Duration) *types.GenerationResponse {
	return &types.GenerationResponse{
		Response:    entry.ResponseText,
		Model:       entry.ModelUsed,
		CacheStatus: status,
		LatencyMs:   elapsed.Milliseconds(),
		Tokens:      types.TokenUsage{Prompt: entry.PromptTokens, Completion: entry.CompletionTokens},
		RequestID:   requestID,
	}
}

func responseToEntry(resp *types.GenerationResponse, ttl time.Duration) cache.Entry {
	return cache.Entry{
		ResponseText:     resp.Response,
		ModelUsed:        resp.Model,
		PromptTokens:     resp.Tokens.Prompt,
		CompletionTokens: resp.Tokens.Completion,
		CreatedAt:        time.Now(),
		TTL:              ttl,
	}
}
