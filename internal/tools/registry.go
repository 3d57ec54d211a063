package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"agenthive/internal/logging"
)

// Registry maps module group keys to module implementations.
// It is thread-safe and supports registration at startup.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates a new empty module registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds a module under its group key.
// Returns an error if the group is already taken.
func (r *Registry) Register(m Module) error {
	group := m.Group()
	if group == "" {
		return ErrGroupEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[group]; exists {
		return fmt.Errorf("%w: %s", ErrGroupAlreadyRegistered, group)
	}
	r.modules[group] = m

	logging.ToolsDebug("Registered module group %s (%d tools)", group, len(m.Definitions()))
	return nil
}

// MustRegister registers a module and panics on error.
// Use this for static module registration at startup.
func (r *Registry) MustRegister(m Module) {
	if err := r.Register(m); err != nil {
		panic(fmt.Sprintf("failed to register module %s: %v", m.Group(), err))
	}
}

// Get returns the module for a group, or nil if not registered.
func (r *Registry) Get(group string) Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modules[group]
}

// Groups returns all registered group keys, sorted.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modules))
	for g := range r.modules {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// DefinitionsFor returns the tool definitions visible to a caller limited to
// the given groups, in group order.
func (r *Registry) DefinitionsFor(groups []string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Definition
	for _, g := range groups {
		if m, ok := r.modules[g]; ok {
			out = append(out, m.Definitions()...)
		}
	}
	return out
}

// resolve finds the module providing toolName among the allowed groups.
func (r *Registry) resolve(toolName string, groups []string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, g := range groups {
		m, ok := r.modules[g]
		if !ok {
			continue
		}
		for _, def := range m.Definitions() {
			if def.Name == toolName {
				return m, true
			}
		}
	}
	return nil, false
}

// Dispatcher executes tool calls against the registry. It surfaces module
// results and structured errors unchanged; its only own failure mode is the
// unknown-tool validation error.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a dispatcher over the registry.
func NewDispatcher(r *Registry) *Dispatcher {
	return &Dispatcher{registry: r}
}

// Registry returns the underlying module registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch resolves toolName within the caller's allowed groups and executes
// it. Results and errors from the module pass through unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, call CallContext, toolName string, args map[string]any) (any, error) {
	timer := logging.StartTimer(logging.CategoryTools, fmt.Sprintf("Dispatch(%s)", toolName))
	defer timer.Stop()

	m, ok := d.registry.resolve(toolName, call.AllowedGroups)
	if !ok {
		logging.ToolsDebug("Dispatch: %s not available to agent %s (groups=%v)",
			toolName, call.AgentID, call.AllowedGroups)
		return nil, &ToolError{
			Kind:    FailureValidation,
			Code:    "unknown_tool",
			Message: fmt.Sprintf("tool %q is not available: %v", toolName, ErrToolNotFound),
		}
	}

	logging.Tools("Dispatch: agent=%s tool=%s group=%s task=%s", call.AgentID, toolName, m.Group(), call.TaskID)
	return m.Execute(ctx, call, toolName, args)
}
