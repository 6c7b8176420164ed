package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"devcrew/internal/llm"
	"devcrew/internal/trace"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/responses"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxIterations = 25
	finalAnswerPrompt    = "You have used all the steps available for this task. Do not call any more tools. Reply now with your best complete final answer."
)

// ToolCall is what a Guard inspects before a tool runs.
type ToolCall struct {
	Agent     string
	Tool      string
	Arguments string
}

// Guard decides whether a tool call may run. A refused call is reported back
// to the model instead of executing.
type Guard interface {
	Allow(ctx context.Context, call ToolCall) (allowed bool, reason string, err error)
}

// Usage accumulates token counts across LLM calls.
type Usage struct {
	PromptTokens       int64 `json:"prompt_tokens"`
	CompletionTokens   int64 `json:"completion_tokens"`
	TotalTokens        int64 `json:"total_tokens"`
	SuccessfulRequests int64 `json:"successful_requests"`
}

func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
	u.SuccessfulRequests += o.SuccessfulRequests
}

func usageOf(resp *responses.Response) Usage {
	return Usage{
		PromptTokens:       resp.Usage.InputTokens,
		CompletionTokens:   resp.Usage.OutputTokens,
		TotalTokens:        resp.Usage.TotalTokens,
		SuccessfulRequests: 1,
	}
}

type Result struct {
	Output     string
	Usage      Usage
	Iterations int
}

type ExecutorOption func(*Executor)

func WithGuard(g Guard) ExecutorOption {
	return func(e *Executor) { e.guard = g }
}

func WithMaxIterations(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// Executor runs one agent's ReAct (Reason + Act) loop: the model thinks and
// calls tools until it answers without tool calls or the step budget runs out.
type Executor struct {
	profile       *Profile
	provider      llm.Provider
	registry      *Registry
	tools         []responses.ToolUnionParam
	guard         Guard
	maxIterations int
}

func NewExecutor(profile *Profile, provider llm.Provider, registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		profile:       profile,
		provider:      provider,
		registry:      registry,
		maxIterations: defaultMaxIterations,
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, t := range registry.All() {
		schema, _ := t.InputSchema().(map[string]any)
		e.tools = append(e.tools, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Name(),
				Description: openai.String(t.Description()),
				Parameters:  schema,
				Strict:      openai.Bool(true),
			},
		})
	}
	return e
}

func (e *Executor) Profile() *Profile { return e.profile }

// Execute runs prompt to completion and returns the agent's final answer.
func (e *Executor) Execute(ctx context.Context, prompt string, emit func(Event)) (*Result, error) {
	if emit == nil {
		emit = Discard
	}
	ctx = ContextWithAgentRole(ctx, e.profile.Role)

	ctx, span := trace.Tracer().Start(ctx, "agent.execute",
		oteltrace.WithAttributes(
			attribute.String("gen_ai.agent.name", e.profile.Role),
			attribute.String("crew.run_id", RunIDFromContext(ctx)),
		),
	)
	defer span.End()

	input := []responses.ResponseInputItemUnionParam{
		responses.ResponseInputItemParamOfMessage(e.profile.SystemPrompt(), "developer"),
		responses.ResponseInputItemParamOfMessage(prompt, "user"),
	}

	res, err := e.loop(ctx, input, emit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s: %w", e.profile.Role, err)
	}
	span.SetAttributes(
		attribute.Int("agent.iterations", res.Iterations),
		attribute.Int64("llm.total_tokens", res.Usage.TotalTokens),
	)
	return res, nil
}

// loop is the core ReAct cycle. Tool failures go back into context so the
// model can adapt on the next iteration.
func (e *Executor) loop(ctx context.Context, input []responses.ResponseInputItemUnionParam, emit func(Event)) (*Result, error) {
	res := &Result{}

	for res.Iterations < e.maxIterations {
		resp, err := e.call(ctx, input, e.tools, res.Iterations)
		if err != nil {
			return nil, err
		}
		res.Iterations++
		res.Usage.Add(usageOf(resp))

		input = append(input, llm.OutputToInput(resp.Output)...)

		calls := llm.FunctionCalls(resp)
		if len(calls) == 0 {
			res.Output = llm.OutputText(resp)
			e.log("agent: final answer", "role", e.profile.Role, "iterations", res.Iterations)
			return res, nil
		}

		input = append(input, e.act(ctx, calls, emit)...)
	}

	e.log("agent: step budget exhausted, forcing final answer", "role", e.profile.Role, "iterations", res.Iterations)
	input = append(input, responses.ResponseInputItemParamOfMessage(finalAnswerPrompt, "user"))
	resp, err := e.call(ctx, input, nil, res.Iterations)
	if err != nil {
		return nil, err
	}
	res.Iterations++
	res.Usage.Add(usageOf(resp))
	res.Output = llm.OutputText(resp)
	return res, nil
}

func (e *Executor) call(ctx context.Context, input []responses.ResponseInputItemUnionParam, tools []responses.ToolUnionParam, iteration int) (*responses.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	llmCtx, span := trace.Tracer().Start(ctx, "llm.call",
		oteltrace.WithAttributes(attribute.Int("llm.iteration", iteration)),
	)
	defer span.End()

	resp, err := e.provider.ChatStream(llmCtx, input, tools, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("llm.model", string(resp.Model)),
		attribute.Int64("llm.input_tokens", resp.Usage.InputTokens),
		attribute.Int64("llm.output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

// act executes tool calls in parallel and returns their outputs as input
// items for the next LLM turn, in call order.
func (e *Executor) act(ctx context.Context, calls []responses.ResponseFunctionToolCall, emit func(Event)) []responses.ResponseInputItemUnionParam {
	for _, fc := range calls {
		e.log("agent: tool call", "role", e.profile.Role, "tool", fc.Name, "arguments", fc.Arguments)
		emit(Event{Type: EventToolCall, Data: map[string]string{
			"agent":     e.profile.Role,
			"name":      fc.Name,
			"arguments": fc.Arguments,
		}})
	}

	var wg sync.WaitGroup
	results := make([]responses.ResponseInputItemUnionParam, len(calls))

	for i, fc := range calls {
		wg.Add(1)
		go func(i int, fc responses.ResponseFunctionToolCall) {
			defer wg.Done()

			content := e.invoke(ctx, fc)
			results[i] = responses.ResponseInputItemParamOfFunctionCallOutput(fc.CallID, content)
			emit(Event{Type: EventToolResult, Data: map[string]string{
				"agent":   e.profile.Role,
				"name":    fc.Name,
				"content": content,
			}})
		}(i, fc)
	}

	wg.Wait()
	return results
}

func (e *Executor) invoke(ctx context.Context, fc responses.ResponseFunctionToolCall) string {
	tool, ok := e.registry.Get(fc.Name)
	if !ok {
		slog.Warn("unknown tool call", "role", e.profile.Role, "name", fc.Name)
		return fmt.Sprintf("error: %s %q; available tools: %v", ErrUnknownTool, fc.Name, e.registry.Names())
	}

	if e.guard != nil {
		allowed, reason, err := e.guard.Allow(ctx, ToolCall{Agent: e.profile.Role, Tool: fc.Name, Arguments: fc.Arguments})
		if err != nil {
			slog.Warn("tool policy evaluation failed", "name", fc.Name, "error", err)
			return "error: tool policy evaluation failed: " + err.Error()
		}
		if !allowed {
			slog.Info("tool call blocked by policy", "role", e.profile.Role, "name", fc.Name, "reason", reason)
			return "error: tool call blocked by policy: " + reason
		}
	}

	result, err := withTrace(tool).Execute(ctx, fc.Arguments)
	if err != nil {
		slog.Warn("tool execution failed", "role", e.profile.Role, "name", fc.Name, "error", err)
		return "error: " + err.Error()
	}
	e.log("agent: tool result", "role", e.profile.Role, "tool", fc.Name, "bytes", len(result))
	return result
}

func (e *Executor) log(msg string, args ...any) {
	if e.profile.Verbose {
		slog.Info(msg, args...)
		return
	}
	slog.Debug(msg, args...)
}
