package tools

import (
	"context"
	"sort"
)

// Tool defines the interface for any action an MCP client can invoke.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolRegistry holds all available tools.
type ToolRegistry struct {
	tools map[string]Tool
}

func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns every registered tool ordered by name.
func (r *ToolRegistry) Tools() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

type notifyKey struct{}

// WithNotify attaches fn to ctx; tools that open a session report its URL
// through it.
func WithNotify(ctx context.Context, fn func(ctx context.Context, url string)) context.Context {
	return context.WithValue(ctx, notifyKey{}, fn)
}

func notifyFrom(ctx context.Context) func(ctx context.Context, url string) {
	fn, _ := ctx.Value(notifyKey{}).(func(ctx context.Context, url string))
	return fn
}
