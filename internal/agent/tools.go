package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownTool = errors.New("unknown tool")

type Tool interface {
	Name() string
	Description() string
	InputSchema() any
	Execute(ctx context.Context, input string) (string, error)
}

// Registry maps tool names to tools. It is not mutated after startup and is
// safe for concurrent reads.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// All returns the tools sorted by name.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scope returns a registry holding only the named tools.
func (r *Registry) Scope(names []string) (*Registry, error) {
	scoped := NewRegistry()
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
		}
		scoped.Register(t)
	}
	return scoped, nil
}

// With returns a copy of the registry extended with extra tools.
func (r *Registry) With(extra ...Tool) *Registry {
	out := NewRegistry()
	for name, t := range r.tools {
		out.tools[name] = t
	}
	for _, t := range extra {
		out.Register(t)
	}
	return out
}
