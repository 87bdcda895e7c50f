// Package batch implements the Batch Coordinator of spec.md §4.H: a
// semaphore-bounded fan-out of independent pipeline runs that preserves
// input order in its output regardless of completion order.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/agentgraphsociety/llm-gateway/internal/httputil"
	"github.com/agentgraphsociety/llm-gateway/internal/pipeline"
	"github.com/agentgraphsociety/llm-gateway/internal/types"
)

// Coordinator bounds in-flight pipeline invocations from a batch call to a
// configured concurrency and optionally enforces a whole-batch deadline on
// top of each request's own deadline.
type Coordinator struct {
	Pipeline            *pipeline.Pipeline
	MaxConcurrency      int
	WholeBatchDeadline  time.Duration
}

func New(p *pipeline.Pipeline, maxConcurrency int, wholeBatchDeadline time.Duration) *Coordinator {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Coordinator{Pipeline: p, MaxConcurrency: maxConcurrency, WholeBatchDeadline: wholeBatchDeadline}
}

// Run dispatches each request through the pipeline, at most MaxConcurrency
// at a time, and returns outcomes in the same order as requests. No element
// is ever dropped: a request that errors still produces a BatchOutcome with
// Error set.
func (c *Coordinator) Run(ctx context.Context, requests []types.GenerationRequest) []types.BatchOutcome {
	outcomes := make([]types.BatchOutcome, len(requests))

	if c.WholeBatchDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.WholeBatchDeadline)
		defer cancel()
	}

	sem := make(chan struct{}, c.MaxConcurrency)
	var wg sync.WaitGroup

	for i, req := range requests {
		wg.Add(1)
		go func(i int, req types.GenerationRequest) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[i] = timeoutOutcome(i)
				return
			}

			resp, pipeErr := c.Pipeline.Run(ctx, req)
			outcomes[i] = toOutcome(i, resp, pipeErr)
		}(i, req)
	}

	wg.Wait()
	return outcomes
}

func toOutcome(index int, resp *types.GenerationResponse, pipeErr *pipeline.Error) types.BatchOutcome {
	if pipeErr != nil {
		return types.BatchOutcome{
			Index: index,
			Error: &types.ErrorOutcome{
				Kind:       string(pipeErr.Kind),
				Message:    pipeErr.Message,
				RetryAfter: pipeErr.RetryAfter,
			},
		}
	}
	return types.BatchOutcome{Index: index, Response: resp}
}

func timeoutOutcome(index int) types.BatchOutcome {
	return types.BatchOutcome{
		Index: index,
		Error: &types.ErrorOutcome{
			Kind:    string(httputil.KindTimeout),
			Message: "whole-batch deadline exceeded before this request started",
		},
	}
}
