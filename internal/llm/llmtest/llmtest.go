// Package llmtest provides scripted LLM providers for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/openai/openai-go/v3/responses"
)

// Call describes a function call output item.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// Text builds a completed response carrying a single assistant message.
func Text(text string) *responses.Response {
	return build(map[string]any{
		"type":   "message",
		"id":     "msg_1",
		"role":   "assistant",
		"status": "completed",
		"content": []any{map[string]any{
			"type":        "output_text",
			"text":        text,
			"annotations": []any{},
		}},
	})
}

// Calls builds a completed response requesting the given tool calls.
func Calls(calls ...Call) *responses.Response {
	items := make([]any, len(calls))
	for i, c := range calls {
		items[i] = map[string]any{
			"type":      "function_call",
			"id":        "fc_" + c.ID,
			"call_id":   c.ID,
			"name":      c.Name,
			"arguments": c.Arguments,
			"status":    "completed",
		}
	}
	return build(items...)
}

func build(items ...any) *responses.Response {
	raw, err := json.Marshal(map[string]any{
		"id":         "resp_test",
		"object":     "response",
		"created_at": 0,
		"model":      "test-model",
		"status":     "completed",
		"output":     items,
		"usage": map[string]any{
			"input_tokens":          10,
			"output_tokens":         5,
			"total_tokens":          15,
			"input_tokens_details":  map[string]any{"cached_tokens": 0},
			"output_tokens_details": map[string]any{"reasoning_tokens": 0},
		},
	})
	if err != nil {
		panic(err)
	}
	var resp responses.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		panic(err)
	}
	return &resp
}

// Request is what a Func provider receives on each call.
type Request struct {
	Input []responses.ResponseInputItemUnionParam
	Tools []responses.ToolUnionParam
}

// System returns the first developer message of the request.
func (r Request) System() string {
	for _, item := range r.Input {
		if m := item.OfMessage; m != nil && m.Role == "developer" {
			return m.Content.OfString.Value
		}
	}
	return ""
}

// Prompt returns the last user message of the request.
func (r Request) Prompt() string {
	var prompt string
	for _, item := range r.Input {
		if m := item.OfMessage; m != nil && m.Role == "user" {
			prompt = m.Content.OfString.Value
		}
	}
	return prompt
}

// ToolOutputs returns the function call outputs fed back so far, keyed by call id.
func (r Request) ToolOutputs() map[string]string {
	out := make(map[string]string)
	for _, item := range r.Input {
		if o := item.OfFunctionCallOutput; o != nil {
			out[o.CallID] = o.Output.OfString.Value
		}
	}
	return out
}

// ToolNames lists the function tools offered in the request.
func (r Request) ToolNames() []string {
	var names []string
	for _, t := range r.Tools {
		if t.OfFunction != nil {
			names = append(names, t.OfFunction.Name)
		}
	}
	return names
}

// Func adapts a function into a thread-safe provider that records calls.
type Func struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, req Request) (*responses.Response, error)
	calls []Request
}

func NewFunc(fn func(ctx context.Context, req Request) (*responses.Response, error)) *Func {
	return &Func{fn: fn}
}

func (f *Func) ChatStream(ctx context.Context, input []responses.ResponseInputItemUnionParam, tools []responses.ToolUnionParam, onToken func(string)) (*responses.Response, error) {
	req := Request{Input: append([]responses.ResponseInputItemUnionParam(nil), input...), Tools: tools}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(ctx, req)
}

// Requests returns the recorded requests.
func (f *Func) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.calls...)
}

// Script replays responses in order and fails once exhausted.
type Script struct {
	*Func
}

func NewScript(steps ...*responses.Response) *Script {
	var mu sync.Mutex
	i := 0
	return &Script{Func: NewFunc(func(ctx context.Context, req Request) (*responses.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(steps) {
			return nil, fmt.Errorf("script exhausted after %d responses", len(steps))
		}
		resp := steps[i]
		i++
		return resp, nil
	})}
}

// Contains reports whether any recorded prompt contains s.
func (f *Func) Contains(s string) bool {
	for _, r := range f.Requests() {
		if strings.Contains(r.Prompt(), s) {
			return true
		}
	}
	return false
}
