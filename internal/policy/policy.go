// Package policy evaluates rego rules that decide whether an agent may run a
// tool call.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"devcrew/internal/agent"

	"github.com/open-policy-agent/opa/rego"
)

const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// DefaultPolicy allows every tool call.
const DefaultPolicy = `
package tool_policy

default decision = "allow"
`

// Engine is a prepared tool policy.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles module. The module must define data.tool_policy.decision
// as either a string or an object {"decision": ..., "reason": ...}.
func NewEngine(ctx context.Context, module string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", module),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing tool policy: %w", err)
	}
	return &Engine{query: query}, nil
}

// Load compiles the policy file at path, or DefaultPolicy when path is empty.
func Load(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tool policy: %w", err)
	}
	return NewEngine(ctx, string(data))
}

// Evaluate returns the decision and optional reason for input.
func (e *Engine) Evaluate(ctx context.Context, input any) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("evaluating tool policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "no decision", nil
	}

	switch v := results[0].Expressions[0].Value.(type) {
	case string:
		return v, "", nil
	case map[string]any:
		decision, _ := v["decision"].(string)
		reason, _ := v["reason"].(string)
		if decision == "" {
			return "", "", fmt.Errorf("tool policy object has no decision")
		}
		return decision, reason, nil
	default:
		return "", "", fmt.Errorf("tool policy returned %T", v)
	}
}

// Allow implements agent.Guard. Anything other than an allow decision blocks
// the call.
func (e *Engine) Allow(ctx context.Context, call agent.ToolCall) (bool, string, error) {
	var args any
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		args = call.Arguments
	}

	decision, reason, err := e.Evaluate(ctx, map[string]any{
		"agent":     call.Agent,
		"tool_name": call.Tool,
		"args":      args,
	})
	if err != nil {
		return false, "", err
	}
	if decision == DecisionAllow {
		return true, "", nil
	}
	if reason == "" {
		reason = decision
	}
	return false, reason, nil
}
