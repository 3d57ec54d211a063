package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"agenthive/internal/bus"
	"agenthive/internal/conversation"
	"agenthive/internal/logging"
	"agenthive/internal/tools"
)

// maxToolRounds bounds provider round-trips within a single turn. Work that
// needs more rounds continues on the next inbound message.
const maxToolRounds = 8

// action is one tool invocation requested by the reasoning engine.
type action struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

type actionEnvelope struct {
	Actions []action `json:"actions"`
}

// runTurn drives one agent turn: format and append the inbound message,
// compress if due, then loop the provider until it stops requesting tools.
func (rt *Runtime) runTurn(ctx context.Context, agentID string, msg bus.Message) {
	timer := logging.StartTimer(logging.CategoryRuntime, fmt.Sprintf("turn(%s)", agentID))
	defer timer.Stop()

	senderRole := ""
	if msg.From != bus.UserEndpoint {
		senderRole = rt.registry.RoleName(msg.From)
	}
	rt.conversations.Append(agentID, conversation.EntryForIncoming(msg, senderRole))
	rt.conversations.ProcessAutoCompression(agentID)

	groups, err := rt.registry.ToolGroups(agentID)
	if err != nil {
		logging.Get(logging.CategoryRuntime).Error("turn: agent %s has no capabilities: %v", agentID, err)
		return
	}
	defs := rt.toolRegistry.DefinitionsFor(groups)

	call := tools.CallContext{
		AgentID:       agentID,
		TaskID:        msg.TaskID,
		AllowedGroups: groups,
		Bus:           rt.bus,
		Registry:      rt.registry,
		Artifacts:     rt.artifacts,
		Tasks:         rt.tasks,
		UI:            rt.broker,
	}

	for round := 0; round < maxToolRounds; round++ {
		system, transcript := rt.renderPrompt(agentID, defs)
		resp, err := rt.provider.CompleteWithSystem(ctx, system, transcript)
		if err != nil {
			logging.Get(logging.CategoryRuntime).Error("turn: provider failed for %s: %v", agentID, err)
			return
		}
		rt.conversations.Append(agentID, conversation.Entry{
			Role:    conversation.RoleAssistant,
			Content: resp,
		})

		actions := parseActions(resp)
		if len(actions) == 0 {
			logging.RuntimeDebug("turn: agent %s finished after %d rounds", agentID, round+1)
			return
		}

		for _, a := range actions {
			rt.conversations.Append(agentID, conversation.Entry{
				Role:    conversation.RoleUser,
				Content: rt.executeAction(ctx, call, a),
			})
		}
		if !rt.registry.IsActive(agentID) {
			// The agent terminated itself (or was terminated) mid-turn.
			return
		}
	}
	logging.Runtime("turn: agent %s hit the round limit, yielding", agentID)
}

// executeAction dispatches one tool call and renders its outcome as a
// history entry body. Failures keep their structured envelope so the agent
// can branch on the error code.
func (rt *Runtime) executeAction(ctx context.Context, call tools.CallContext, a action) string {
	result, err := rt.dispatcher.Dispatch(ctx, call, a.Tool, a.Args)
	if err != nil {
		var te *tools.ToolError
		if errors.As(err, &te) {
			return fmt.Sprintf("[Tool %s failed]\n%s", a.Tool, te.JSON())
		}
		return fmt.Sprintf("[Tool %s failed]\n{\"error\":%q}", a.Tool, err.Error())
	}

	data, err := json.Marshal(result)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", result))
	}
	return fmt.Sprintf("[Tool %s result]\n%s", a.Tool, data)
}

// renderPrompt splits the agent's history into the seeded system prompt and
// a transcript, and appends the tool protocol block.
func (rt *Runtime) renderPrompt(agentID string, defs []tools.Definition) (system, transcript string) {
	history := rt.conversations.History(agentID)
	if history == nil {
		return "", ""
	}
	entries := history.Entries()

	var sys strings.Builder
	var b buildTranscript
	for i, e := range entries {
		// Leading system entries form the system prompt; later system
		// entries (compression summaries) stay inline.
		if e.Role == conversation.RoleSystem && i == 0 {
			sys.WriteString(e.Content)
			continue
		}
		b.add(e.Role, e.Content)
	}

	sys.WriteString("\n\n")
	sys.WriteString(toolProtocol(defs))
	return sys.String(), b.String()
}

// toolProtocol renders the callable tool definitions and the JSON action
// contract the provider must follow.
func toolProtocol(defs []tools.Definition) string {
	var b strings.Builder
	b.WriteString("You can call tools by replying with a JSON object:\n")
	b.WriteString("```json\n{\"actions\":[{\"tool\":\"<name>\",\"args\":{...}}]}\n```\n")
	b.WriteString("Reply without an actions object to end your turn. Available tools:\n")
	for _, def := range defs {
		schema, err := json.Marshal(def.Schema)
		if err != nil {
			schema = []byte("{}")
		}
		fmt.Fprintf(&b, "- %s: %s %s\n", def.Name, def.Description, schema)
	}
	return b.String()
}

// parseActions recovers requested tool calls from the provider's reply. It
// accepts a fenced JSON block or a bare object, with either the actions
// envelope or a single {"tool": ..., "args": ...} shape.
func parseActions(resp string) []action {
	raw := extractJSONBlock(resp)
	if raw == "" {
		raw = extractJSONObject(resp)
	}
	if raw == "" {
		return nil
	}

	var env actionEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err == nil && len(env.Actions) > 0 {
		return validActions(env.Actions)
	}

	var single action
	if err := json.Unmarshal([]byte(raw), &single); err == nil && single.Tool != "" {
		return []action{single}
	}
	return nil
}

func validActions(in []action) []action {
	out := in[:0]
	for _, a := range in {
		if a.Tool != "" {
			out = append(out, a)
		}
	}
	return out
}

// extractJSONBlock extracts JSON from a ```json ... ``` code block.
func extractJSONBlock(s string) string {
	start := strings.Index(s, "```json")
	if start == -1 {
		start = strings.Index(s, "```")
		if start == -1 {
			return ""
		}
	}

	rel := strings.Index(s[start:], "\n")
	if rel == -1 {
		return ""
	}
	start += rel + 1

	end := strings.Index(s[start:], "```")
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(s[start : start+end])
}

// extractJSONObject extracts the first brace-balanced object from a string.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// buildTranscript accumulates role-tagged lines for prompt rendering.
type buildTranscript struct {
	b strings.Builder
}

func (t *buildTranscript) add(role, content string) {
	t.b.WriteString(role)
	t.b.WriteString(": ")
	t.b.WriteString(content)
	t.b.WriteString("\n\n")
}

func (t *buildTranscript) String() string {
	return strings.TrimRight(t.b.String(), "\n")
}
