package tools

import (
	"context"
	"errors"
	"time"

	"agenthive/internal/bus"
	"agenthive/internal/registry"
)

// MessagingModule exposes inter-agent coordination: sending and awaiting
// messages, defining roles, and spawning child agents.
type MessagingModule struct{}

// NewMessagingModule creates the messaging module.
func NewMessagingModule() *MessagingModule {
	return &MessagingModule{}
}

func (m *MessagingModule) Group() string { return GroupMessaging }

func (m *MessagingModule) Definitions() []Definition {
	return []Definition{
		{
			Name:        "send_message",
			Description: "Send a message to another agent or to the user.",
			Schema: Schema{
				Required: []string{"to"},
				Properties: map[string]Property{
					"to":      {Type: "string", Description: "Recipient agent id, or \"user\""},
					"text":    {Type: "string", Description: "Message text"},
					"payload": {Type: "object", Description: "Structured payload (overrides text)"},
					"task_id": {Type: "string", Description: "Task correlation id (defaults to the current task)"},
				},
			},
		},
		{
			Name:        "wait_for_message",
			Description: "Block until the next message addressed to you arrives, or the timeout elapses. Timeout is a normal outcome, not an error.",
			Schema: Schema{
				Properties: map[string]Property{
					"from":       {Type: "string", Description: "Only match messages from this sender"},
					"task_id":    {Type: "string", Description: "Only match messages for this task"},
					"timeout_ms": {Type: "integer", Description: "Wait ceiling in milliseconds", Default: 10000},
				},
			},
		},
		{
			Name:        "create_role",
			Description: "Register a new role template for spawning specialized agents.",
			Schema: Schema{
				Required: []string{"name", "prompt"},
				Properties: map[string]Property{
					"name":        {Type: "string", Description: "Unique role name"},
					"prompt":      {Type: "string", Description: "Role-specific prompt text"},
					"tool_groups": {Type: "array", Description: "Tool groups the role may use", Items: &PropertyItems{Type: "string"}},
				},
			},
		},
		{
			Name:        "spawn_agent",
			Description: "Spawn a child agent under yourself with an initial task.",
			Schema: Schema{
				Required: []string{"role", "task"},
				Properties: map[string]Property{
					"role":   {Type: "string", Description: "Role id or name to instantiate"},
					"task":   {Type: "string", Description: "Initial task text for the child"},
					"budget": {Type: "integer", Description: "Max children the new agent may spawn (0 = unbounded)"},
				},
			},
		},
		{
			Name:        "terminate_agent",
			Description: "Terminate one of your direct children.",
			Schema: Schema{
				Required: []string{"agent_id"},
				Properties: map[string]Property{
					"agent_id": {Type: "string", Description: "Child agent id"},
				},
			},
		},
	}
}

func (m *MessagingModule) Execute(ctx context.Context, call CallContext, name string, args map[string]any) (any, error) {
	if call.AgentID == "" {
		return nil, MissingContext("missing_agent_context", "tool %s requires a calling agent", name)
	}

	switch name {
	case "send_message":
		return m.sendMessage(call, args)
	case "wait_for_message":
		return m.waitForMessage(ctx, call, args)
	case "create_role":
		return m.createRole(call, args)
	case "spawn_agent":
		return m.spawnAgent(call, args)
	case "terminate_agent":
		return m.terminateAgent(call, args)
	default:
		return nil, Validation("unknown_tool", "messaging module has no tool %q", name)
	}
}

func (m *MessagingModule) sendMessage(call CallContext, args map[string]any) (any, error) {
	to, err := RequireString(args, "to")
	if err != nil {
		return nil, err
	}

	payload := OptMap(args, "payload")
	if payload == nil {
		payload = map[string]any{"text": OptString(args, "text", "")}
	}
	taskID := OptString(args, "task_id", call.TaskID)

	sent, err := call.Bus.Send(bus.NewMessage(call.AgentID, to, taskID, payload))
	if err != nil {
		if errors.Is(err, bus.ErrUnknownTask) {
			return nil, Validation("unknown_task", "%v", err)
		}
		return nil, Validation("invalid_message", "%v", err)
	}
	return map[string]any{"ok": true, "message_id": sent.ID}, nil
}

func (m *MessagingModule) waitForMessage(ctx context.Context, call CallContext, args map[string]any) (any, error) {
	from := OptString(args, "from", "")
	taskID := OptString(args, "task_id", "")
	timeoutMs := OptInt(args, "timeout_ms", 10000)

	pred := func(msg bus.Message) bool {
		if msg.To != call.AgentID {
			return false
		}
		if from != "" && msg.From != from {
			return false
		}
		if taskID != "" && msg.TaskID != taskID {
			return false
		}
		return true
	}

	res, err := call.Bus.WaitFor(ctx, pred, time.Duration(timeoutMs)*time.Millisecond)
	if err != nil {
		return nil, Runtime("wait_interrupted", "%v", err)
	}
	if !res.Matched {
		return map[string]any{"matched": false}, nil
	}
	return map[string]any{"matched": true, "message": res.Message}, nil
}

func (m *MessagingModule) createRole(call CallContext, args map[string]any) (any, error) {
	name, err := RequireString(args, "name")
	if err != nil {
		return nil, err
	}
	prompt, err := RequireString(args, "prompt")
	if err != nil {
		return nil, err
	}

	roleID, err := call.Registry.CreateRole(registry.RoleDefinition{
		Name:       name,
		Prompt:     prompt,
		ToolGroups: OptStringSlice(args, "tool_groups"),
		CreatedBy:  call.AgentID,
	})
	if err != nil {
		return nil, Validation("create_role_failed", "%v", err)
	}
	return map[string]any{"ok": true, "role_id": roleID}, nil
}

func (m *MessagingModule) spawnAgent(call CallContext, args map[string]any) (any, error) {
	role, err := RequireString(args, "role")
	if err != nil {
		return nil, err
	}
	task, err := RequireString(args, "task")
	if err != nil {
		return nil, err
	}

	agentID, err := call.Registry.SpawnAgent(role, call.AgentID, task, registry.SpawnOptions{
		Budget: OptInt(args, "budget", 0),
		TaskID: call.TaskID,
	})
	if err != nil {
		return nil, Validation("spawn_failed", "%v", err)
	}
	return map[string]any{"ok": true, "agent_id": agentID}, nil
}

func (m *MessagingModule) terminateAgent(call CallContext, args map[string]any) (any, error) {
	agentID, err := RequireString(args, "agent_id")
	if err != nil {
		return nil, err
	}

	target, err := call.Registry.Agent(agentID)
	if err != nil {
		return nil, TargetNotFound("unknown_agent", "%v", err)
	}
	if target.ParentID != call.AgentID {
		return nil, Validation("not_a_child", "agent %s is not a child of %s", agentID, call.AgentID)
	}
	if err := call.Registry.Terminate(agentID); err != nil {
		return nil, Runtime("terminate_failed", "%v", err)
	}
	return map[string]any{"ok": true}, nil
}
