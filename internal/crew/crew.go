// Package crew runs a team of agents through an ordered task list, either
// with a manager delegating to coworkers or with each task on its own agent.
package crew

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"devcrew/internal/agent"
	"devcrew/internal/llm"
	"devcrew/internal/tools"
	"devcrew/internal/trace"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	ProcessHierarchical = "hierarchical"
	ProcessSequential   = "sequential"
)

type Option func(*Crew)

// WithManagerLLM sets the provider the manager runs on. It defaults to the
// agent provider.
func WithManagerLLM(p llm.Provider) Option {
	return func(c *Crew) { c.managerLLM = p }
}

func WithGuard(g agent.Guard) Option {
	return func(c *Crew) { c.guard = g }
}

func WithProcess(process string) Option {
	return func(c *Crew) { c.process = process }
}

func WithMaxIterations(n int) Option {
	return func(c *Crew) { c.maxIterations = n }
}

// Crew is immutable once built and safe for concurrent kickoffs.
type Crew struct {
	defs          *Definitions
	profiles      []*agent.Profile
	byKey         map[string]*agent.Profile
	registries    map[string]*agent.Registry // scoped per profile key
	agentLLM      llm.Provider
	managerLLM    llm.Provider
	guard         agent.Guard
	process       string
	maxIterations int
}

func New(defs *Definitions, registry *agent.Registry, agentLLM llm.Provider, opts ...Option) (*Crew, error) {
	c := &Crew{
		defs:       defs,
		profiles:   defs.Profiles(),
		byKey:      make(map[string]*agent.Profile),
		registries: make(map[string]*agent.Registry),
		agentLLM:   agentLLM,
		process:    ProcessHierarchical,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.managerLLM == nil {
		c.managerLLM = agentLLM
	}
	if c.process != ProcessHierarchical && c.process != ProcessSequential {
		return nil, fmt.Errorf("unknown process %q", c.process)
	}

	for _, p := range c.profiles {
		scoped, err := registry.Scope(p.Tools)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", p.Key, err)
		}
		c.byKey[p.Key] = p
		c.registries[p.Key] = scoped
	}
	return c, nil
}

func (c *Crew) Process() string { return c.process }

// Profiles returns the crew members in definition order.
func (c *Crew) Profiles() []*agent.Profile { return c.profiles }

func (c *Crew) Manager() *agent.Profile { return c.byKey[c.defs.Manager] }

// Develop renders the task templates for problemStatement and kicks off.
func (c *Crew) Develop(ctx context.Context, problemStatement string, emit func(agent.Event)) (*Output, error) {
	tasks, err := c.defs.Render(problemStatement)
	if err != nil {
		return nil, err
	}
	return c.Kickoff(ctx, tasks, emit)
}

// Kickoff runs tasks in order. Each task sees the outputs of the tasks before
// it. The first failure aborts the run.
func (c *Crew) Kickoff(ctx context.Context, tasks []Task, emit func(agent.Event)) (*Output, error) {
	if len(tasks) == 0 {
		return nil, errors.New("no tasks to run")
	}
	for _, t := range tasks {
		if _, ok := c.byKey[t.Agent]; !ok {
			return nil, fmt.Errorf("task %q: agent %q: %w", t.Name, t.Agent, agent.ErrUnknownAgent)
		}
	}

	runID := uuid.NewString()
	ctx = agent.ContextWithRunID(ctx, runID)
	emit = serialize(emit)

	ctx, span := trace.Tracer().Start(ctx, "crew.kickoff",
		oteltrace.WithAttributes(
			attribute.String("crew.run_id", runID),
			attribute.String("crew.process", c.process),
			attribute.Int("crew.tasks", len(tasks)),
		),
	)
	defer span.End()

	slog.Info("crew: kickoff", "run_id", runID, "process", c.process, "tasks", len(tasks))

	out, err := c.run(ctx, runID, tasks, emit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("crew: run failed", "run_id", runID, "error", err)
		return nil, err
	}

	slog.Info("crew: run completed", "run_id", runID, "total_tokens", out.TokenUsage.TotalTokens)
	emit(agent.Event{Type: agent.EventDone, Data: map[string]string{"run_id": runID}})
	return out, nil
}

func (c *Crew) run(parent context.Context, runID string, tasks []Task, emit func(agent.Event)) (*Output, error) {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	usage := &usageMeter{}
	execute := c.sequential()
	if c.process == ProcessHierarchical {
		var stop func()
		execute, stop = c.hierarchical(emit, usage, cancel)
		defer stop()
	}

	out := &Output{RunID: runID}
	var outputs []string

	for _, t := range tasks {
		owner := c.byKey[t.Agent]
		slog.Info("crew: task started", "task", t.Name, "agent", owner.Role)
		emit(agent.Event{Type: agent.EventTaskStarted, Data: map[string]string{
			"task":  t.Name,
			"agent": owner.Role,
		}})

		res, err := c.runTask(ctx, execute, t, taskPrompt(t, outputs), emit)
		if err != nil {
			if cause := context.Cause(ctx); cause != nil && parent.Err() == nil {
				err = cause
			}
			return nil, fmt.Errorf("task %q: %w", t.Name, err)
		}
		usage.add(res.Usage)

		to := TaskOutput{
			Name:           t.Name,
			Description:    t.Description,
			Summary:        Summary(t.Description),
			Raw:            res.Output,
			Agent:          owner.Role,
			ExpectedOutput: t.ExpectedOutput,
		}
		out.TasksOutput = append(out.TasksOutput, to)
		outputs = append(outputs, res.Output)

		slog.Info("crew: task completed", "task", t.Name, "agent", owner.Role, "iterations", res.Iterations)
		emit(agent.Event{Type: agent.EventTaskCompleted, Data: map[string]string{
			"task":    t.Name,
			"agent":   owner.Role,
			"summary": to.Summary,
		}})
	}

	out.Raw = out.TasksOutput[len(out.TasksOutput)-1].Raw
	out.TokenUsage = usage.snapshot()
	return out, nil
}

func (c *Crew) runTask(ctx context.Context, execute executeFunc, t Task, prompt string, emit func(agent.Event)) (*agent.Result, error) {
	ctx, span := trace.Tracer().Start(ctx, "crew.task",
		oteltrace.WithAttributes(
			attribute.String("crew.task", t.Name),
			attribute.String("crew.task.agent", t.Agent),
		),
	)
	defer span.End()

	res, err := execute(ctx, t, prompt, emit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

type executeFunc func(ctx context.Context, t Task, prompt string, emit func(agent.Event)) (*agent.Result, error)

func (c *Crew) executor(p *agent.Profile, provider llm.Provider, registry *agent.Registry) *agent.Executor {
	opts := []agent.ExecutorOption{agent.WithMaxIterations(c.maxIterations)}
	if c.guard != nil {
		opts = append(opts, agent.WithGuard(c.guard))
	}
	return agent.NewExecutor(p, provider, registry, opts...)
}

func (c *Crew) sequential() executeFunc {
	return func(ctx context.Context, t Task, prompt string, emit func(agent.Event)) (*agent.Result, error) {
		p := c.byKey[t.Agent]
		return c.executor(p, c.agentLLM, c.registries[p.Key]).Execute(ctx, prompt, emit)
	}
}

// hierarchical starts a worker per coworker and returns an executeFunc that
// runs every task on the manager, armed with delegation tools.
func (c *Crew) hierarchical(emit func(agent.Event), usage *usageMeter, fail context.CancelCauseFunc) (executeFunc, func()) {
	manager := c.Manager()

	var workers []*agent.Executor
	for _, p := range c.profiles {
		if p.Key == manager.Key {
			continue
		}
		workers = append(workers, c.executor(p, c.agentLLM, c.registries[p.Key]))
	}
	coworkers := startPool(workers, emit, usage, fail)

	registry := c.registries[manager.Key].With(tools.NewDelegateWork(coworkers), tools.NewAskQuestion(coworkers))
	exec := c.executor(manager, c.managerLLM, registry)

	execute := func(ctx context.Context, t Task, prompt string, emit func(agent.Event)) (*agent.Result, error) {
		if owner := c.byKey[t.Agent]; owner.Key != manager.Key {
			prompt += fmt.Sprintf("\n\nThis task is assigned to your coworker, the %s. "+
				"Delegate the work or ask questions with your tools, then review what you get back and give the final answer.", owner.Role)
		}
		return exec.Execute(ctx, prompt, emit)
	}
	return execute, coworkers.stop
}

// serialize makes emit safe to call from concurrent goroutines.
func serialize(emit func(agent.Event)) func(agent.Event) {
	if emit == nil {
		return agent.Discard
	}
	var mu sync.Mutex
	return func(ev agent.Event) {
		mu.Lock()
		defer mu.Unlock()
		emit(ev)
	}
}
