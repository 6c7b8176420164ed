package crew

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"devcrew/internal/agent"

	"gopkg.in/yaml.v3"
)

//go:embed crew.yaml
var builtin []byte

// Definitions describes a crew: its members, the manager, and the task
// templates run on every kickoff.
type Definitions struct {
	Manager string            `yaml:"manager"`
	Agents  []AgentDefinition `yaml:"agents"`
	Tasks   []TaskDefinition  `yaml:"tasks"`
}

type AgentDefinition struct {
	Key       string   `yaml:"key"`
	Role      string   `yaml:"role"`
	Goal      string   `yaml:"goal"`
	Backstory string   `yaml:"backstory"`
	Tools     []string `yaml:"tools"`
	Verbose   bool     `yaml:"verbose"`
}

type TaskDefinition struct {
	Name           string `yaml:"name"`
	Agent          string `yaml:"agent"`
	Description    string `yaml:"description"`
	ExpectedOutput string `yaml:"expected_output"`

	tmpl *template.Template
}

// LoadDefinitions reads definitions from path, or the built-in crew when
// path is empty.
func LoadDefinitions(path string) (*Definitions, error) {
	if path == "" {
		return ParseDefinitions(builtin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading crew definitions: %w", err)
	}
	defs, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

func ParseDefinitions(data []byte) (*Definitions, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var defs Definitions
	if err := dec.Decode(&defs); err != nil {
		return nil, fmt.Errorf("parsing crew definitions: %w", err)
	}
	if err := defs.check(); err != nil {
		return nil, err
	}
	return &defs, nil
}

func (d *Definitions) check() error {
	if len(d.Agents) == 0 {
		return errors.New("crew has no agents")
	}
	if len(d.Tasks) == 0 {
		return errors.New("crew has no tasks")
	}

	keys := make(map[string]bool)
	roles := make(map[string]bool)
	for _, a := range d.Agents {
		switch {
		case a.Key == "":
			return errors.New("agent with empty key")
		case strings.TrimSpace(a.Role) == "":
			return fmt.Errorf("agent %q has no role", a.Key)
		case keys[a.Key]:
			return fmt.Errorf("duplicate agent key %q", a.Key)
		case roles[normalizeRole(a.Role)]:
			return fmt.Errorf("duplicate agent role %q", a.Role)
		}
		keys[a.Key] = true
		roles[normalizeRole(a.Role)] = true
	}
	if !keys[d.Manager] {
		return fmt.Errorf("manager %q: %w", d.Manager, agent.ErrUnknownAgent)
	}

	names := make(map[string]bool)
	for i := range d.Tasks {
		t := &d.Tasks[i]
		switch {
		case t.Name == "":
			return fmt.Errorf("task %d has no name", i)
		case names[t.Name]:
			return fmt.Errorf("duplicate task name %q", t.Name)
		case !keys[t.Agent]:
			return fmt.Errorf("task %q: agent %q: %w", t.Name, t.Agent, agent.ErrUnknownAgent)
		case strings.TrimSpace(t.Description) == "":
			return fmt.Errorf("task %q has no description", t.Name)
		}
		names[t.Name] = true

		tmpl, err := template.New(t.Name).Option("missingkey=error").Parse(t.Description)
		if err != nil {
			return fmt.Errorf("task %q: %w", t.Name, err)
		}
		t.tmpl = tmpl
	}
	return nil
}

// Profiles returns the agent profiles in definition order.
func (d *Definitions) Profiles() []*agent.Profile {
	out := make([]*agent.Profile, len(d.Agents))
	for i, a := range d.Agents {
		out[i] = &agent.Profile{
			Key:       a.Key,
			Role:      strings.TrimSpace(a.Role),
			Goal:      strings.TrimSpace(a.Goal),
			Backstory: strings.TrimSpace(a.Backstory),
			Tools:     append([]string(nil), a.Tools...),
			Verbose:   a.Verbose,
		}
	}
	return out
}

// Render renders every task template with the problem statement.
func (d *Definitions) Render(problemStatement string) ([]Task, error) {
	data := map[string]string{"ProblemStatement": problemStatement}

	tasks := make([]Task, len(d.Tasks))
	for i, t := range d.Tasks {
		var b strings.Builder
		if err := t.tmpl.Execute(&b, data); err != nil {
			return nil, fmt.Errorf("rendering task %q: %w", t.Name, err)
		}
		tasks[i] = Task{
			Name:           t.Name,
			Description:    strings.TrimSpace(b.String()),
			ExpectedOutput: strings.TrimSpace(t.ExpectedOutput),
			Agent:          t.Agent,
		}
	}
	return tasks, nil
}
