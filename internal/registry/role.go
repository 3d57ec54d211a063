package registry

import (
	"strings"
	"time"
)

// Role is a named template from which agents are instantiated: a prompt, the
// tool groups its agents may invoke, and creation metadata. Roles are
// immutable once referenced by a spawned agent.
type Role struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Prompt     string    `json:"prompt"`
	ToolGroups []string  `json:"tool_groups"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// RoleDefinition is the caller-supplied template for CreateRole.
type RoleDefinition struct {
	Name       string   `json:"name"`
	Prompt     string   `json:"prompt"`
	ToolGroups []string `json:"tool_groups"`
	CreatedBy  string   `json:"created_by"`
}

// Prompt placeholders recognized by ComposePrompt.
const (
	PlaceholderTask    = "{{task}}"
	PlaceholderRole    = "{{role}}"
	PlaceholderAgentID = "{{agent_id}}"
)

// ComposePrompt builds the seeded system prompt for a freshly spawned agent:
// base prompt, role prompt, then the initial task text, with placeholders
// substituted throughout.
func ComposePrompt(base string, role Role, agentID, taskText string) string {
	var b strings.Builder
	if base != "" {
		b.WriteString(base)
		b.WriteString("\n\n")
	}
	if role.Prompt != "" {
		b.WriteString(role.Prompt)
		b.WriteString("\n\n")
	}
	if taskText != "" {
		b.WriteString("Your task: ")
		b.WriteString(taskText)
	}

	out := strings.TrimRight(b.String(), "\n ")
	out = strings.ReplaceAll(out, PlaceholderTask, taskText)
	out = strings.ReplaceAll(out, PlaceholderRole, role.Name)
	out = strings.ReplaceAll(out, PlaceholderAgentID, agentID)
	return out
}
