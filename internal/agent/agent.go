package agent

import "errors"

// ErrUnknownAgent is returned when work is addressed to a role nobody holds.
var ErrUnknownAgent = errors.New("unknown agent")

type EventType string

const (
	EventTaskStarted   EventType = "task_started"
	EventTaskCompleted EventType = "task_completed"
	EventDelegation    EventType = "delegation"
	EventToolCall      EventType = "tool_call"
	EventToolResult    EventType = "tool_result"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Discard is an emit func that drops every event.
func Discard(Event) {}
