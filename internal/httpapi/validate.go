package httpapi

import (
	"fmt"

	"github.com/agentgraphsociety/llm-gateway/internal/types"
)

// validateRequest enforces the GenerationRequest constraints of spec.md
// §3 that the pipeline itself does not re-check (model/prompt presence,
// bounded decoding controls). A violation is always `validation`, never
// retried, never cached.
func validateRequest(req *types.GenerationRequest) error {
	if req.Model == "" {
		return fmt.Errorf("model is required")
	}
	if req.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return fmt.Errorf("temperature must be in [0, 2]")
	}
	if req.MaxTokens != nil && (*req.MaxTokens <= 0 || *req.MaxTokens > types.MaxTokensCeiling) {
		return fmt.Errorf("max_tokens must be in (0, %d]", types.MaxTokensCeiling)
	}
	if req.TopP != nil && (*req.TopP < 0 || *req.TopP > 1) {
		return fmt.Errorf("top_p must be in [0, 1]")
	}
	if req.TopK != nil && *req.TopK < 0 {
		return fmt.Errorf("top_k must be non-negative")
	}
	switch req.CachePolicy {
	case "", types.CacheUse, types.CacheBypass, types.CacheRefresh:
	default:
		return fmt.Errorf("cache_policy must be one of use, bypass, refresh")
	}
	return nil
}
