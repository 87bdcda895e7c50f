// Package backend implements the Backend Client of spec.md §4.E against an
// Ollama-compatible text-generation host.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentgraphsociety/llm-gateway/internal/types"
)

// Options carries the decoding controls forwarded to the backend's
// generate call.
type Options struct {
	Temperature   float64
	MaxTokens     int
	TopP          float64
	TopK          int
	RepeatPenalty float64
	Stop          []string
	Seed          *int64
}

// Config configures an Ollama client.
type Config struct {
	BaseURL         string
	TimeoutPerAttempt time.Duration
	TotalDeadline   time.Duration
	MaxRetries      int
	BaseBackoff     time.Duration
}

// Client speaks the Ollama HTTP API: generate, tags (list_models), pull
// (maintenance), and health.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.TimeoutPerAttempt <= 0 {
		cfg.TimeoutPerAttempt = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.TimeoutPerAttempt,
		},
	}
}

// StatusError carries a non-2xx HTTP response that doWithRetry decided not
// to retry, so callers can classify it (rate limited, rejected, transient)
// without string-matching an error message.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: status %d: %s", e.Status, e.Body)
}

type generateRequestBody struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
	Seed    *int64  `json:"seed,omitempty"`
}

type generateResponseBody struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount *int   `json:"prompt_eval_count,omitempty"`
	EvalCount       *int   `json:"eval_count,omitempty"`
}

// Generate calls POST /api/generate and returns the completion text, the
// backend-reported model, and token counts (nullable when the backend
// omits them).
func (c *Client) Generate(ctx context.Context, model, assembledPrompt string, opts Options) (types.GenerationResult, error) {
	body := generateRequestBody{
		Model:  model,
		Prompt: assembledPrompt,
		Stream: false,
		Seed:   opts.Seed,
		Options: map[string]any{
			"temperature":    opts.Temperature,
			"num_predict":    opts.MaxTokens,
			"top_p":          opts.TopP,
			"top_k":          opts.TopK,
			"repeat_penalty": opts.RepeatPenalty,
		},
	}
	if len(opts.Stop) > 0 {
		body.Options["stop"] = opts.Stop
	}

	data, err := json.Marshal(body)
	if err != nil {
		return types.GenerationResult{}, fmt.Errorf("marshal generate request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, data, func(ctx context.Context, b []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/generate", bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		return types.GenerationResult{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.GenerationResult{}, fmt.Errorf("read generate response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return types.GenerationResult{}, &StatusError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var out generateResponseBody
	if err := json.Unmarshal(respBody, &out); err != nil {
		return types.GenerationResult{}, fmt.Errorf("unmarshal generate response: %w", err)
	}

	return types.GenerationResult{
		ResponseText:     out.Response,
		ModelUsed:        out.Model,
		PromptTokens:     out.PromptEvalCount,
		CompletionTokens: out.EvalCount,
	}, nil
}

type tagsResponseBody struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels calls GET /api/tags and returns the backend model names
// currently present on the host.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.doWithRetry(ctx, nil, func(ctx context.Context, _ []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
		if err != nil {
			return nil, err
		}
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out tagsResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("unmarshal tags response: %w", err)
	}

	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Pull calls POST /api/pull to trigger an operator-initiated model
// download, per SPEC_FULL.md §4.F.1. It is not invoked by the request
// pipeline.
func (c *Client) Pull(ctx context.Context, model string) error {
	data, err := json.Marshal(map[string]any{"name": model, "stream": false})
	if err != nil {
		return fmt.Errorf("marshal pull request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, data, func(ctx context.Context, b []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/pull", bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Health calls GET / (Ollama's root responds 200 when serving) to report
// liveness for the readiness gate.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("backend unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
