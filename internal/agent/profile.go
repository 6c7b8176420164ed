package agent

import (
	"fmt"
	"strings"
)

// Profile is a crew member persona with a scoped toolset.
type Profile struct {
	Key       string
	Role      string
	Goal      string
	Backstory string
	Tools     []string // tool names from the shared registry
	Verbose   bool
}

func (p *Profile) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. %s\nYour personal goal is: %s\n", p.Role, p.Backstory, p.Goal)
	b.WriteString("\nUse the tools available to you whenever they help you complete the task. ")
	b.WriteString("When you are done, reply with your complete final answer as plain text and do not call any tool.")
	return b.String()
}
