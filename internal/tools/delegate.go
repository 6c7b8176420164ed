package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"devcrew/internal/agent"
)

// Coworkers routes work from the manager to the other crew members.
type Coworkers interface {
	// Delegate blocks until the coworker holding role replies.
	Delegate(ctx context.Context, role, task, taskContext string) (string, error)
	Roles() []string
}

type delegateArgs struct {
	Coworker string `json:"coworker" validate:"required" jsonschema:"description=Role of the coworker to delegate to."`
	Task     string `json:"task" validate:"required" jsonschema:"description=The task to delegate."`
	Context  string `json:"context" jsonschema:"description=Everything the coworker needs to know to execute the task."`
}

type questionArgs struct {
	Coworker string `json:"coworker" validate:"required" jsonschema:"description=Role of the coworker to ask."`
	Question string `json:"question" validate:"required" jsonschema:"description=The question to ask."`
	Context  string `json:"context" jsonschema:"description=Everything the coworker needs to know to answer the question."`
}

// DelegateWork hands a task to a coworker and returns their answer.
type DelegateWork struct {
	coworkers Coworkers
}

func NewDelegateWork(c Coworkers) *DelegateWork {
	return &DelegateWork{coworkers: c}
}

func (d *DelegateWork) Name() string { return "delegate_work" }

func (d *DelegateWork) Description() string {
	return fmt.Sprintf("Delegate a specific task to one of the following coworkers: %s\n"+
		"The input to this tool should be the coworker, the task you want them to do, and ALL necessary context to execute the task. "+
		"They know nothing about the task, so share absolutely everything you know; don't reference things but explain them.",
		strings.Join(d.coworkers.Roles(), ", "))
}

func (d *DelegateWork) InputSchema() any { return agent.SchemaOf(&delegateArgs{}) }

func (d *DelegateWork) Execute(ctx context.Context, input string) (string, error) {
	var args delegateArgs
	if err := agent.BindArgs(input, &args); err != nil {
		return "", err
	}
	return delegate(ctx, d.coworkers, args.Coworker, args.Task, args.Context)
}

// AskQuestion asks a coworker a question and returns their answer.
type AskQuestion struct {
	coworkers Coworkers
}

func NewAskQuestion(c Coworkers) *AskQuestion {
	return &AskQuestion{coworkers: c}
}

func (a *AskQuestion) Name() string { return "ask_question" }

func (a *AskQuestion) Description() string {
	return fmt.Sprintf("Ask a specific question to one of the following coworkers: %s\n"+
		"The input to this tool should be the coworker, the question you have for them, and ALL necessary context to ask the question properly. "+
		"They know nothing about the question, so share absolutely everything you know; don't reference things but explain them.",
		strings.Join(a.coworkers.Roles(), ", "))
}

func (a *AskQuestion) InputSchema() any { return agent.SchemaOf(&questionArgs{}) }

func (a *AskQuestion) Execute(ctx context.Context, input string) (string, error) {
	var args questionArgs
	if err := agent.BindArgs(input, &args); err != nil {
		return "", err
	}
	return delegate(ctx, a.coworkers, args.Coworker, args.Question, args.Context)
}

func delegate(ctx context.Context, c Coworkers, role, task, taskContext string) (string, error) {
	answer, err := c.Delegate(ctx, role, task, taskContext)
	if errors.Is(err, agent.ErrUnknownAgent) {
		return fmt.Sprintf("Coworker %q not found, it must be one of the following options:\n- %s",
			role, strings.Join(c.Roles(), "\n- ")), nil
	}
	if err != nil {
		return "", err
	}
	return answer, nil
}
