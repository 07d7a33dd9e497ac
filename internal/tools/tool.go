package tools

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/threadrun/internal/providers"
)

// ErrToolNotFound is returned by Registry.Execute for unknown tool names.
var ErrToolNotFound = errors.New("tool not found")

// Tool is a callable exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry holds the tools bound to a single run. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	r.tools[t.Name()] = t
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Definitions returns the provider-facing schema of every tool, sorted by name.
func (r *Registry) Definitions() []providers.ToolDefinition {
	names := r.Names()
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, n := range names {
		t, ok := r.Get(n)
		if !ok {
			continue
		}
		defs = append(defs, ToDefinition(t))
	}
	return defs
}

// Execute runs the named tool. Unknown names yield ErrToolNotFound.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, ErrToolNotFound
	}
	res := t.Execute(ctx, args)
	if res == nil {
		res = NewResult("")
	}
	return res, nil
}

func ToDefinition(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}
