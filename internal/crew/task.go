package crew

import (
	"fmt"
	"strings"

	"devcrew/internal/agent"
)

// Task is one unit of work bound to the agent that owns it.
type Task struct {
	Name           string
	Description    string
	ExpectedOutput string
	Agent          string // profile key
}

type TaskOutput struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	Summary        string `json:"summary"`
	Raw            string `json:"raw"`
	Agent          string `json:"agent"`
	ExpectedOutput string `json:"expected_output"`
}

// Output is the result of a kickoff. Raw is the last task's output.
type Output struct {
	RunID       string       `json:"run_id"`
	Raw         string       `json:"raw"`
	TasksOutput []TaskOutput `json:"tasks_output"`
	TokenUsage  agent.Usage  `json:"token_usage"`
}

const summaryWords = 10

// Summary returns the first words of a task description.
func Summary(description string) string {
	words := strings.Fields(description)
	if len(words) > summaryWords {
		words = words[:summaryWords]
	}
	return strings.Join(words, " ") + "..."
}

const contextSeparator = "\n\n----------\n\n"

func taskPrompt(t Task, outputs []string) string {
	var b strings.Builder
	b.WriteString(t.Description)
	if t.ExpectedOutput != "" {
		fmt.Fprintf(&b, "\n\nThis is the expected criteria for your final answer: %s\n", t.ExpectedOutput)
		b.WriteString("You MUST return the actual complete content as the final answer, not a summary.")
	}
	if len(outputs) > 0 {
		b.WriteString("\n\nThis is the context you're working with:\n")
		b.WriteString(strings.Join(outputs, contextSeparator))
	}
	return b.String()
}

func delegationPrompt(task, taskContext string) string {
	if strings.TrimSpace(taskContext) == "" {
		return task
	}
	return task + "\n\nThis is the context you're working with:\n" + taskContext
}

// normalizeRole folds a role the way an LLM might misquote it.
func normalizeRole(role string) string {
	role = strings.TrimSpace(role)
	role = strings.Trim(role, `"'`)
	return strings.ToLower(strings.TrimSpace(role))
}
