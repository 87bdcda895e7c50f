package types

// CacheStatus is reported on every generation response.
type CacheStatus string

const (
	CacheStatusHit     CacheStatus = "hit"
	CacheStatusMiss    CacheStatus = "miss"
	CacheStatusRefresh CacheStatus = "refresh"
	CacheStatusBypass  CacheStatus = "bypass"
)

// GenerationResponse is the outcome of a single generation request.
type GenerationResponse struct {
	Response    string      `json:"response"`
	Model       string      `json:"model"`
	CacheStatus CacheStatus `json:"cache_status"`
	LatencyMs   int64       `json:"latency_ms"`
	Tokens      TokenUsage  `json:"tokens"`
	RequestID   string      `json:"request_id,omitempty"`
}

// TokenUsage reports prompt/completion token counts. Either field may be
// nil when the backend does not report counts; callers must tolerate that.
type TokenUsage struct {
	Prompt     *int `json:"prompt"`
	Completion *int `json:"completion"`
}

// GenerationResult is what the Backend Client returns on a successful call,
// before the pipeline wraps it into a GenerationResponse.
type GenerationResult struct {
	ResponseText     string
	ModelUsed        string
	PromptTokens     *int
	CompletionTokens *int
}

// ModelHealthState is the health classification the Model Router assigns to
// a resolved backend model.
type ModelHealthState string

const (
	ModelReady       ModelHealthState = "ready"
	ModelWarming     ModelHealthState = "warming"
	ModelUnavailable ModelHealthState = "unavailable"
)

// ModelRecord is a single entry in the Model Router's snapshot.
type ModelRecord struct {
	LogicalName  string
	BackendName  string
	LastChecked  int64 // unix nano
	Health       ModelHealthState
}

// BatchOutcome is one element of a batch response: exactly one of Response
// or Error is set.
type BatchOutcome struct {
	Index    int                  `json:"index"`
	Response *GenerationResponse  `json:"response,omitempty"`
	Error    *ErrorOutcome        `json:"error,omitempty"`
}

// ErrorOutcome is the client-facing shape of a structured pipeline failure.
type ErrorOutcome struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	RetryAfter *int   `json:"retry_after,omitempty"`
}
