package crew

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"devcrew/internal/agent"
	"devcrew/internal/llm/llmtest"
	"devcrew/internal/tools"

	"github.com/openai/openai-go/v3/responses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCrew = `
manager: pm
agents:
  - key: pm
    role: Project Manager
    goal: Ship it.
    backstory: Has shipped before.
    tools: [web_search]
  - key: architect
    role: Software Architect
    goal: Design it.
    backstory: Designs things.
    tools: [code_writer]
  - key: qa
    role: Quality Assurance Engineer
    goal: Break it.
    backstory: Breaks things.
    tools: []
tasks:
  - name: plan
    agent: architect
    description: "Design a system for {{.ProblemStatement}}."
    expected_output: An architecture document.
  - name: test
    agent: qa
    description: "Test the system for {{.ProblemStatement}}."
    expected_output: A bug report.
`

func defs(t *testing.T) *Definitions {
	t.Helper()
	d, err := ParseDefinitions([]byte(testCrew))
	require.NoError(t, err)
	return d
}

type recorder struct {
	mu     sync.Mutex
	events []agent.Event
}

func (r *recorder) emit(ev agent.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []agent.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []agent.EventType
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

// workerLLM answers every prompt with the agent's role and the prompt.
func workerLLM() *llmtest.Func {
	return llmtest.NewFunc(func(ctx context.Context, req llmtest.Request) (*responses.Response, error) {
		role, _, _ := strings.Cut(strings.TrimPrefix(req.System(), "You are "), ".")
		return llmtest.Text(role + " did: " + req.Prompt()), nil
	})
}

// managerLLM delegates each task once to coworker, then returns what came back.
func managerLLM(coworker func(prompt string) string) *llmtest.Func {
	return llmtest.NewFunc(func(ctx context.Context, req llmtest.Request) (*responses.Response, error) {
		outputs := req.ToolOutputs()
		if len(outputs) == 0 {
			args := `{"coworker":"` + coworker(req.Prompt()) + `","task":"do your part","context":"shared notes"}`
			return llmtest.Calls(llmtest.Call{ID: "d1", Name: "delegate_work", Arguments: args}), nil
		}
		return llmtest.Text("reviewed: " + outputs["d1"]), nil
	})
}

func byAssignment(prompt string) string {
	if strings.Contains(prompt, "the Software Architect.") {
		return `'software architect' `
	}
	return "Quality Assurance Engineer"
}

func TestHierarchicalDelegation(t *testing.T) {
	manager := managerLLM(byAssignment)
	workers := workerLLM()

	c, err := New(defs(t), tools.Registry(nil), workers, WithManagerLLM(manager))
	require.NoError(t, err)

	rec := &recorder{}
	out, err := c.Develop(context.Background(), "a chat app", rec.emit)
	require.NoError(t, err)

	require.Len(t, out.TasksOutput, 2)
	assert.NotEmpty(t, out.RunID)

	plan := out.TasksOutput[0]
	assert.Equal(t, "plan", plan.Name)
	assert.Equal(t, "Software Architect", plan.Agent)
	assert.Equal(t, "Design a system for a chat app.", plan.Description)
	assert.Equal(t, "An architecture document.", plan.ExpectedOutput)
	assert.True(t, strings.HasPrefix(plan.Raw, "reviewed: Software Architect did: do your part"), plan.Raw)

	test := out.TasksOutput[1]
	assert.True(t, strings.HasPrefix(test.Raw, "reviewed: Quality Assurance Engineer did:"), test.Raw)
	assert.Equal(t, test.Raw, out.Raw)

	// manager: two calls per task, workers: one call each
	assert.Equal(t, int64(6), out.TokenUsage.SuccessfulRequests)
	assert.Equal(t, int64(90), out.TokenUsage.TotalTokens)

	for _, req := range workers.Requests() {
		assert.Contains(t, req.Prompt(), "This is the context you're working with:\nshared notes")
		assert.NotContains(t, req.ToolNames(), "delegate_work")
	}

	first := manager.Requests()[0]
	assert.Contains(t, first.System(), "You are Project Manager.")
	assert.ElementsMatch(t, []string{"web_search", "delegate_work", "ask_question"}, first.ToolNames())

	// the second task sees the first task's output
	var testPrompt string
	for _, req := range manager.Requests() {
		if strings.HasPrefix(req.Prompt(), "Test the system") {
			testPrompt = req.Prompt()
		}
	}
	assert.Contains(t, testPrompt, plan.Raw)

	assert.Equal(t, []agent.EventType{
		agent.EventTaskStarted, agent.EventToolCall, agent.EventDelegation, agent.EventToolResult, agent.EventTaskCompleted,
		agent.EventTaskStarted, agent.EventToolCall, agent.EventDelegation, agent.EventToolResult, agent.EventTaskCompleted,
		agent.EventDone,
	}, rec.types())
}

func TestHierarchicalUnknownCoworker(t *testing.T) {
	manager := managerLLM(func(string) string { return "Designer" })

	c, err := New(defs(t), tools.Registry(nil), workerLLM(), WithManagerLLM(manager))
	require.NoError(t, err)

	out, err := c.Develop(context.Background(), "a chat app", nil)
	require.NoError(t, err)
	assert.Contains(t, out.TasksOutput[0].Raw, `Coworker "Designer" not found`)
	assert.Contains(t, out.TasksOutput[0].Raw, "- Software Architect\n- Quality Assurance Engineer")
}

func TestCoworkerFailureAbortsRun(t *testing.T) {
	boom := errors.New("llm down")
	workers := llmtest.NewFunc(func(ctx context.Context, req llmtest.Request) (*responses.Response, error) {
		return nil, boom
	})

	c, err := New(defs(t), tools.Registry(nil), workers, WithManagerLLM(managerLLM(byAssignment)))
	require.NoError(t, err)

	_, err = c.Develop(context.Background(), "a chat app", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, `task "plan": coworker Software Architect: llm down`)
}

func TestSequentialProcess(t *testing.T) {
	workers := workerLLM()

	c, err := New(defs(t), tools.Registry(nil), workers, WithProcess(ProcessSequential))
	require.NoError(t, err)

	out, err := c.Develop(context.Background(), "a todo list", nil)
	require.NoError(t, err)

	require.Len(t, out.TasksOutput, 2)
	assert.True(t, strings.HasPrefix(out.TasksOutput[0].Raw, "Software Architect did: Design a system for a todo list."))
	assert.True(t, strings.HasPrefix(out.TasksOutput[1].Raw, "Quality Assurance Engineer did: Test the system"))

	reqs := workers.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []string{"code_writer"}, reqs[0].ToolNames())
	assert.Empty(t, reqs[1].ToolNames())
	assert.Contains(t, reqs[1].Prompt(), "This is the context you're working with:\n"+out.TasksOutput[0].Raw)
	assert.Contains(t, reqs[0].Prompt(), "This is the expected criteria for your final answer: An architecture document.")
}

func TestTaskFailureNamesTask(t *testing.T) {
	boom := errors.New("quota exceeded")
	calls := 0
	workers := llmtest.NewFunc(func(ctx context.Context, req llmtest.Request) (*responses.Response, error) {
		calls++
		if calls == 2 {
			return nil, boom
		}
		return llmtest.Text("ok"), nil
	})

	c, err := New(defs(t), tools.Registry(nil), workers, WithProcess(ProcessSequential))
	require.NoError(t, err)

	_, err = c.Develop(context.Background(), "x", nil)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, `task "test": Quality Assurance Engineer: quota exceeded`)
}

func TestKickoffCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, err := New(defs(t), tools.Registry(nil), workerLLM())
	require.NoError(t, err)

	_, err = c.Develop(ctx, "x", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKickoffValidatesTasks(t *testing.T) {
	c, err := New(defs(t), tools.Registry(nil), workerLLM())
	require.NoError(t, err)

	_, err = c.Kickoff(context.Background(), []Task{{Name: "x", Description: "y", Agent: "ghost"}}, nil)
	assert.ErrorIs(t, err, agent.ErrUnknownAgent)

	_, err = c.Kickoff(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	_, err := New(defs(t), agent.NewRegistry(), workerLLM())
	assert.ErrorIs(t, err, agent.ErrUnknownTool)

	_, err = New(defs(t), tools.Registry(nil), workerLLM(), WithProcess("consensual"))
	assert.ErrorContains(t, err, "unknown process")
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "one two three...", Summary("one two three"))
	assert.Equal(t, "a b c d e f g h i j...", Summary("a b c d e f g h i j k l"))
	assert.Equal(t, "Based on the problem statement: 'x', initiate the software development...",
		Summary("Based on the problem statement: 'x', initiate the software development process.\nDefine"))
}

func TestDelegationPrompt(t *testing.T) {
	assert.Equal(t, "write tests", delegationPrompt("write tests", ""))
	assert.Equal(t, "write tests", delegationPrompt("write tests", "  \n"))
	assert.Equal(t, "write tests\n\nThis is the context you're working with:\na todo app",
		delegationPrompt("write tests", "a todo app"))
}
