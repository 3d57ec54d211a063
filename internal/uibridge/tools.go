package uibridge

import (
	"context"
	"errors"

	"agenthive/internal/tools"
)

const (
	defaultUITimeoutMs = 10000
	defaultMaxChars    = 20000
)

// UIModule exposes the connected web client to agents: evaluate a script,
// read page content, or patch the DOM. Every tool blocks for the client's
// answer up to a caller-supplied timeout.
type UIModule struct{}

// NewUIModule creates the ui tool module.
func NewUIModule() *UIModule {
	return &UIModule{}
}

func (m *UIModule) Group() string { return tools.GroupUI }

func (m *UIModule) Definitions() []tools.Definition {
	timeout := tools.Property{Type: "integer", Description: "Wait ceiling in milliseconds", Default: defaultUITimeoutMs}
	return []tools.Definition{
		{
			Name:        "eval_js",
			Description: "Evaluate a JavaScript expression in the connected web client and return its value.",
			Schema: tools.Schema{
				Required: []string{"script"},
				Properties: map[string]tools.Property{
					"script":     {Type: "string", Description: "JavaScript to evaluate"},
					"timeout_ms": timeout,
				},
			},
		},
		{
			Name:        "get_content",
			Description: "Read content from the connected web client, optionally scoped to a CSS selector.",
			Schema: tools.Schema{
				Properties: map[string]tools.Property{
					"selector":   {Type: "string", Description: "CSS selector; empty means the whole document"},
					"format":     {Type: "string", Description: "text or html", Enum: []any{"text", "html"}, Default: "text"},
					"max_chars":  {Type: "integer", Description: "Truncate the returned content to this length", Default: defaultMaxChars},
					"timeout_ms": timeout,
				},
			},
		},
		{
			Name:        "dom_patch",
			Description: "Apply a sequence of structural patches to the client's DOM.",
			Schema: tools.Schema{
				Required: []string{"operations"},
				Properties: map[string]tools.Property{
					"operations": {Type: "array", Description: "Patch operations, each {selector, html, mode: replace|append|prepend}"},
					"timeout_ms": timeout,
				},
			},
		},
	}
}

func (m *UIModule) Execute(ctx context.Context, call tools.CallContext, name string, args map[string]any) (any, error) {
	if call.UI == nil {
		return nil, tools.MissingContext("ui_client_not_connected", "no ui broker configured")
	}

	var payload map[string]any
	switch name {
	case "eval_js":
		script, err := tools.RequireString(args, "script")
		if err != nil {
			return nil, err
		}
		payload = map[string]any{"script": script}
	case "get_content":
		payload = map[string]any{
			"selector":  tools.OptString(args, "selector", ""),
			"format":    tools.OptString(args, "format", "text"),
			"max_chars": tools.OptInt(args, "max_chars", defaultMaxChars),
		}
	case "dom_patch":
		ops, err := patchOperations(args)
		if err != nil {
			return nil, err
		}
		payload = map[string]any{"operations": ops}
	default:
		return nil, tools.Validation("unknown_tool", "ui module has no tool %q", name)
	}

	return m.roundTrip(ctx, call, name, payload, tools.OptInt(args, "timeout_ms", defaultUITimeoutMs))
}

// patchOperations validates the dom_patch operation list. Each entry must be
// an object with a selector; the client interprets the rest.
func patchOperations(args map[string]any) ([]any, error) {
	raw, ok := args["operations"]
	if !ok {
		return nil, tools.Validation("missing_argument", "operations is required")
	}
	ops, ok := raw.([]any)
	if !ok || len(ops) == 0 {
		return nil, tools.Validation("invalid_argument", "operations must be a non-empty array")
	}
	for i, op := range ops {
		entry, ok := op.(map[string]any)
		if !ok {
			return nil, tools.Validation("invalid_argument", "operations[%d] must be an object", i)
		}
		if _, err := tools.RequireString(entry, "selector"); err != nil {
			return nil, tools.Validation("invalid_argument", "operations[%d] needs a selector", i)
		}
	}
	return ops, nil
}

// roundTrip pushes one command to the active client and waits for its
// resolution, translating broker failures into the tool failure taxonomy.
func (m *UIModule) roundTrip(ctx context.Context, call tools.CallContext, cmdType string, payload map[string]any, timeoutMs int) (any, error) {
	commandID, err := call.UI.EnqueueToActive(cmdType, payload)
	if err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			return nil, tools.MissingContext("ui_client_not_connected", "no web client is connected")
		}
		return nil, tools.Runtime("ui_enqueue_failed", "%v", err)
	}

	result, err := call.UI.WaitForResult(ctx, commandID, timeoutMs)
	if err != nil {
		var ce *ClientError
		switch {
		case errors.Is(err, ErrUITimeout):
			return nil, tools.Runtime("ui_timeout", "client did not answer %s within %dms", cmdType, timeoutMs)
		case errors.Is(err, ErrNoActiveSession):
			return nil, tools.MissingContext("ui_client_not_connected", "web client disconnected before answering")
		case errors.As(err, &ce):
			te := tools.Runtime("ui_command_failed", "%s", ce.Message)
			te.Details = ce.Details
			return nil, te
		default:
			return nil, tools.Runtime("ui_command_failed", "%v", err)
		}
	}
	return map[string]any{"ok": true, "result": result}, nil
}
