// Package policy implements the Access Policy of SPEC_FULL.md §4.L: a
// Rego-evaluated authorization check for whether a given API key may use a
// given resolved model. Repurposed from the teacher's content-classification
// OPA evaluator to model-access authorization.
package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
)

// Input is the data sent to OPA for evaluation.
type Input struct {
	KeyID string `json:"key_id"`
	Model string `json:"model"`
	Time  TimeContext `json:"time"`
}

type TimeContext struct {
	Hour int    `json:"hour"`
	Day  string `json:"day"`
}

// Decision is the output of an access policy evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

// Evaluator evaluates `data.gateway.access.allow`/`data.gateway.access.reason`
// against compiled Rego modules. A gateway with no bundle configured allows
// everything (fail-open on absence). A compilation error is returned by
// Load/LoadFromModules and leaves the previously loaded policy (or none,
// which allows everything) in place; an evaluation error fails closed.
type Evaluator struct {
	mu                sync.RWMutex
	prepared          *rego.PreparedEvalQuery
	evaluationTimeout time.Duration
}

func NewEvaluator(evaluationTimeout time.Duration) *Evaluator {
	if evaluationTimeout <= 0 {
		evaluationTimeout = 100 * time.Millisecond
	}
	return &Evaluator{evaluationTimeout: evaluationTimeout}
}

// Load compiles Rego modules found under bundlePath. If bundlePath is
// empty or contains no .rego files, the evaluator stays unloaded and
// Evaluate allows everything.
func (e *Evaluator) Load(bundlePath string) error {
	if bundlePath == "" {
		return nil
	}
	modules, err := LoadRegoFiles(bundlePath)
	if err != nil {
		return fmt.Errorf("load rego files: %w", err)
	}
	if len(modules) == 0 {
		return nil
	}
	return e.LoadFromModules(modules)
}

// LoadFromModules compiles policies from provided module sources, useful
// for tests that don't want to touch the filesystem.
func (e *Evaluator) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){
		rego.Query("[data.gateway.access.allow, data.gateway.access.reason]"),
	}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	r := rego.New(opts...)
	prepared, err := r.PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Evaluate returns whether keyID may use model. No bundle loaded means no
// restriction (allowed=true); an evaluation error, an empty result or a
// malformed result fails closed.
func (e *Evaluator) Evaluate(ctx context.Context, keyID, model string) Decision {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		return Decision{Allowed: true, Reason: "no policy bundle configured"}
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.evaluationTimeout)
	defer cancel()

	now := time.Now().UTC()
	input := Input{
		KeyID: keyID,
		Model: model,
		Time:  TimeContext{Hour: now.Hour(), Day: now.Weekday().String()},
	}

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return Decision{Allowed: false, Reason: fmt.Sprintf("policy evaluation error: %v", err)}
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allowed: false, Reason: "no policy result"}
	}

	arr, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(arr) < 2 {
		return Decision{Allowed: false, Reason: "unexpected policy result format"}
	}

	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return Decision{Allowed: allowed, Reason: reason}
}
