package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"devcrew/internal/llm/llmtest"

	"github.com/openai/openai-go/v3/responses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoArgs struct {
	Text  string `json:"text" validate:"required" jsonschema:"description=Text to echo back."`
	Times int    `json:"times" jsonschema:"description=How many times."`
}

type echoTool struct {
	calls atomic.Int32
}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Echo text" }
func (e *echoTool) InputSchema() any    { return SchemaOf(&echoArgs{}) }

func (e *echoTool) Execute(ctx context.Context, input string) (string, error) {
	var args echoArgs
	if err := BindArgs(input, &args); err != nil {
		return "", err
	}
	e.calls.Add(1)
	return strings.Repeat(args.Text, max(args.Times, 1)), nil
}

type denyAll struct{}

func (denyAll) Allow(ctx context.Context, call ToolCall) (bool, string, error) {
	return false, "no tools today", nil
}

var tester = &Profile{Key: "tester", Role: "Tester", Goal: "Test things", Backstory: "Careful."}

func TestRegistryScope(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{})

	scoped, err := r.Scope([]string{"echo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, scoped.Names())

	_, err = r.Scope([]string{"echo", "missing"})
	assert.ErrorIs(t, err, ErrUnknownTool)

	empty, err := r.Scope(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.All())
}

func TestRegistryWithDoesNotMutate(t *testing.T) {
	base := NewRegistry()
	base.Register(&echoTool{})

	extended := base.With(&namedTool{name: "extra"})
	assert.Equal(t, []string{"echo", "extra"}, extended.Names())
	assert.Equal(t, []string{"echo"}, base.Names())
}

type namedTool struct{ name string }

func (n *namedTool) Name() string                                    { return n.name }
func (n *namedTool) Description() string                             { return n.name }
func (n *namedTool) InputSchema() any                                { return nil }
func (n *namedTool) Execute(context.Context, string) (string, error) { return n.name, nil }

func TestBindArgs(t *testing.T) {
	var args echoArgs
	require.NoError(t, BindArgs(`{"text":"hi","times":2}`, &args))
	assert.Equal(t, "hi", args.Text)

	err := BindArgs(`{"times":2}`, &echoArgs{})
	assert.ErrorIs(t, err, ErrInvalidArgs)
	assert.ErrorContains(t, err, `field "text" is required`)

	err = BindArgs(`{"text":5}`, &echoArgs{})
	assert.ErrorIs(t, err, ErrInvalidArgs)

	err = BindArgs(`{"text":"a","extra":true}`, &echoArgs{})
	assert.ErrorIs(t, err, ErrInvalidArgs)

	err = BindArgs(`not json`, &echoArgs{})
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestSchemaOf(t *testing.T) {
	schema := SchemaOf(&echoArgs{})

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	assert.ElementsMatch(t, []any{"text", "times"}, schema["required"])
	assert.NotContains(t, schema, "$schema")

	props := schema["properties"].(map[string]any)
	text := props["text"].(map[string]any)
	assert.Equal(t, "string", text["type"])
	assert.Equal(t, "Text to echo back.", text["description"])
	assert.Equal(t, "integer", props["times"].(map[string]any)["type"])
}

func TestExecutorToolLoop(t *testing.T) {
	tool := &echoTool{}
	r := NewRegistry()
	r.Register(tool)

	provider := llmtest.NewScript(
		llmtest.Calls(llmtest.Call{ID: "c1", Name: "echo", Arguments: `{"text":"ab","times":2}`}),
		llmtest.Text("final: abab"),
	)

	var mu sync.Mutex
	var events []Event
	emit := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	res, err := NewExecutor(tester, provider, r).Execute(context.Background(), "echo please", emit)
	require.NoError(t, err)

	assert.Equal(t, "final: abab", res.Output)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, int64(30), res.Usage.TotalTokens)
	assert.Equal(t, int64(2), res.Usage.SuccessfulRequests)
	assert.Equal(t, int32(1), tool.calls.Load())

	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[0].System(), "You are Tester.")
	assert.Equal(t, "echo please", reqs[0].Prompt())
	assert.Equal(t, []string{"echo"}, reqs[0].ToolNames())
	assert.Equal(t, "abab", reqs[1].ToolOutputs()["c1"])

	require.Len(t, events, 2)
	assert.Equal(t, EventToolCall, events[0].Type)
	assert.Equal(t, EventToolResult, events[1].Type)
}

func TestExecutorInvalidArgsNeverReachTool(t *testing.T) {
	tool := &echoTool{}
	r := NewRegistry()
	r.Register(tool)

	provider := llmtest.NewScript(
		llmtest.Calls(llmtest.Call{ID: "c1", Name: "echo", Arguments: `{"times":3}`}),
		llmtest.Text("gave up"),
	)

	res, err := NewExecutor(tester, provider, r).Execute(context.Background(), "go", nil)
	require.NoError(t, err)
	assert.Equal(t, "gave up", res.Output)
	assert.Equal(t, int32(0), tool.calls.Load())

	out := provider.Requests()[1].ToolOutputs()["c1"]
	assert.True(t, strings.HasPrefix(out, "error: invalid arguments"), out)
}

func TestExecutorUnknownTool(t *testing.T) {
	provider := llmtest.NewScript(
		llmtest.Calls(llmtest.Call{ID: "c1", Name: "rm_rf", Arguments: `{}`}),
		llmtest.Text("ok"),
	)

	_, err := NewExecutor(tester, provider, NewRegistry()).Execute(context.Background(), "go", nil)
	require.NoError(t, err)
	assert.Contains(t, provider.Requests()[1].ToolOutputs()["c1"], "unknown tool")
}

func TestExecutorGuardBlocks(t *testing.T) {
	tool := &echoTool{}
	r := NewRegistry()
	r.Register(tool)

	provider := llmtest.NewScript(
		llmtest.Calls(llmtest.Call{ID: "c1", Name: "echo", Arguments: `{"text":"x","times":1}`}),
		llmtest.Text("blocked"),
	)

	_, err := NewExecutor(tester, provider, r, WithGuard(denyAll{})).Execute(context.Background(), "go", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(0), tool.calls.Load())
	assert.Equal(t, "error: tool call blocked by policy: no tools today", provider.Requests()[1].ToolOutputs()["c1"])
}

func TestExecutorForcesFinalAnswer(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{})

	provider := llmtest.NewFunc(func(ctx context.Context, req llmtest.Request) (*responses.Response, error) {
		if len(req.Tools) == 0 {
			return llmtest.Text("best effort"), nil
		}
		return llmtest.Calls(llmtest.Call{ID: "loop", Name: "echo", Arguments: `{"text":"x","times":1}`}), nil
	})

	res, err := NewExecutor(tester, provider, r, WithMaxIterations(3)).Execute(context.Background(), "go", nil)
	require.NoError(t, err)
	assert.Equal(t, "best effort", res.Output)
	assert.Equal(t, 4, res.Iterations)

	reqs := provider.Requests()
	require.Len(t, reqs, 4)
	assert.Empty(t, reqs[3].Tools)
	assert.Equal(t, finalAnswerPrompt, reqs[3].Prompt())
}

func TestExecutorProviderError(t *testing.T) {
	boom := errors.New("llm down")
	provider := llmtest.NewFunc(func(ctx context.Context, req llmtest.Request) (*responses.Response, error) {
		return nil, boom
	})

	_, err := NewExecutor(tester, provider, NewRegistry()).Execute(context.Background(), "go", nil)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "Tester:")
}

func TestExecutorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := llmtest.NewScript(llmtest.Text("never"))
	_, err := NewExecutor(tester, provider, NewRegistry()).Execute(ctx, "go", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, provider.Requests())
}

func TestContextValues(t *testing.T) {
	ctx := ContextWithRunID(context.Background(), "run-1")
	ctx = ContextWithAgentRole(ctx, "QA")
	assert.Equal(t, "run-1", RunIDFromContext(ctx))
	assert.Equal(t, "QA", AgentRoleFromContext(ctx))
	assert.Empty(t, RunIDFromContext(context.Background()))
}
