// Package tools decouples "an agent wants to call tool X with args Y" from
// the module implementing X. Modules register under a stable group key; an
// agent may only reach the groups its role grants. Modules expose both
// synchronous calls and the asynchronous long-running-task pattern.
package tools

import (
	"context"

	"agenthive/internal/artifact"
	"agenthive/internal/bus"
	"agenthive/internal/registry"
)

// Well-known module group keys.
const (
	GroupMessaging = "messaging"
	GroupArtifacts = "artifacts"
	GroupUI        = "ui"
	GroupMedia     = "media"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// Schema defines the JSON schema for tool arguments. This enables LLM tool
// calling with proper validation.
type Schema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties maps parameter names to their schemas.
	Properties map[string]Property `json:"properties"`
}

// Definition is a JSON-schema-described callable function exposed to agents.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      Schema `json:"schema"`
}

// UIBroker is the slice of the UI command broker modules need. The concrete
// implementation lives in internal/uibridge.
type UIBroker interface {
	// EnqueueToActive places a command on the active front-end session.
	EnqueueToActive(cmdType string, payload map[string]any) (string, error)

	// WaitForResult blocks until the session resolves the command or the
	// timeout elapses.
	WaitForResult(ctx context.Context, commandID string, timeoutMs int) (any, error)
}

// CallContext carries the caller's identity and the shared runtime handles a
// module may call back into.
type CallContext struct {
	AgentID       string
	TaskID        string
	AllowedGroups []string

	Bus       *bus.Bus
	Registry  *registry.Registry
	Artifacts artifact.Store
	Tasks     *Tracker
	UI        UIBroker
}

// Allowed reports whether the caller may reach the given group.
func (c CallContext) Allowed(group string) bool {
	for _, g := range c.AllowedGroups {
		if g == group {
			return true
		}
	}
	return false
}

// Module is a closed capability unit: it lists its tool definitions and
// executes them by name. Modules register at startup; dispatch is a table
// lookup, never reflection.
type Module interface {
	// Group returns the stable group key agents are granted.
	Group() string

	// Definitions lists the tools this module provides.
	Definitions() []Definition

	// Execute runs a tool by name. Synchronous tools return their result
	// directly; asynchronous tools return an AsyncTask handle immediately
	// and do the work out-of-band. Failures are *ToolError values.
	Execute(ctx context.Context, call CallContext, name string, args map[string]any) (any, error)
}

// RequireString extracts a required string argument or returns a validation
// failure.
func RequireString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", Validation("missing_argument", "required argument %q missing", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", Validation("invalid_argument", "argument %q must be a string", key)
	}
	return s, nil
}

// OptString extracts an optional string argument.
func OptString(args map[string]any, key, def string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return def
}

// OptInt extracts an optional integer argument. JSON numbers arrive as
// float64.
func OptInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// OptStringSlice extracts an optional []string argument from a JSON array.
func OptStringSlice(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		if ss, ok := args[key].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// OptMap extracts an optional object argument.
func OptMap(args map[string]any, key string) map[string]any {
	if m, ok := args[key].(map[string]any); ok {
		return m
	}
	return nil
}
