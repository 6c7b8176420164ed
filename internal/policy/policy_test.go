package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"devcrew/internal/agent"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const restrictive = `
package tool_policy

default decision = "allow"

decision = {"decision": "block", "reason": "qa does not write code"} {
	input.agent == "Quality Assurance Engineer"
	input.tool_name == "code_writer"
}

decision = "block" {
	input.tool_name == "code_writer"
	startswith(input.args.filename, "/etc")
}
`

func TestDefaultPolicyAllows(t *testing.T) {
	e, err := Load(context.Background(), "")
	require.NoError(t, err)

	ok, _, err := e.Allow(context.Background(), agent.ToolCall{Agent: "Software Architect", Tool: "code_writer", Arguments: `{"filename":"/etc/passwd","code":""}`})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPolicyDecisions(t *testing.T) {
	e, err := NewEngine(context.Background(), restrictive)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name   string
		call   agent.ToolCall
		allow  bool
		reason string
	}{
		{
			name:  "ordinary write",
			call:  agent.ToolCall{Agent: "Senior Backend Developer", Tool: "code_writer", Arguments: `{"filename":"app.py","code":"x"}`},
			allow: true,
		},
		{
			name:   "object decision",
			call:   agent.ToolCall{Agent: "Quality Assurance Engineer", Tool: "code_writer", Arguments: `{"filename":"t.py","code":"x"}`},
			reason: "qa does not write code",
		},
		{
			name:   "string decision on args",
			call:   agent.ToolCall{Agent: "Senior Backend Developer", Tool: "code_writer", Arguments: `{"filename":"/etc/hosts","code":"x"}`},
			reason: "block",
		},
		{
			name:  "unparseable args",
			call:  agent.ToolCall{Agent: "Senior Backend Developer", Tool: "web_search", Arguments: `nope`},
			allow: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason, err := e.Allow(ctx, tt.call)
			require.NoError(t, err)
			assert.Equal(t, tt.allow, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.rego")
	require.NoError(t, os.WriteFile(path, []byte("package tool_policy\n\ndefault decision = \"block\"\n"), 0o644))

	e, err := Load(context.Background(), path)
	require.NoError(t, err)

	ok, reason, err := e.Allow(context.Background(), agent.ToolCall{Tool: "web_search", Arguments: `{"query":"x"}`})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "block", reason)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)

	_, err = NewEngine(context.Background(), "package tool_policy\n\ndecision = {")
	assert.Error(t, err)
}
