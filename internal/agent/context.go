package agent

import "context"

type contextKey int

const (
	runIDKey contextKey = iota
	agentRoleKey
)

func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

func ContextWithAgentRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, agentRoleKey, role)
}

// AgentRoleFromContext returns the role of the agent whose turn is running.
func AgentRoleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(agentRoleKey).(string); ok {
		return v
	}
	return ""
}
