// Package registry manages role definitions and the live agent hierarchy.
// The registry is the sole mutator of the parent/child tree and the role
// table; agents are never reparented, so the hierarchy stays a tree by
// construction.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"agenthive/internal/bus"
	"agenthive/internal/conversation"
	"agenthive/internal/logging"
)

// Registry errors.
var (
	// ErrDuplicateRole is returned when a role name collides.
	ErrDuplicateRole = errors.New("role name already registered")

	// ErrUnknownRole is returned when a role id or name is not registered.
	ErrUnknownRole = errors.New("unknown role")

	// ErrUnknownParent is returned when spawning under a nonexistent agent.
	ErrUnknownParent = errors.New("unknown parent agent")

	// ErrUnknownAgent is returned for lookups of nonexistent agents.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrAgentTerminated is returned when an operation requires a live agent.
	ErrAgentTerminated = errors.New("agent is terminated")

	// ErrSpawnBudgetExhausted is returned when an agent's spawn budget is
	// used up.
	ErrSpawnBudgetExhausted = errors.New("spawn budget exhausted")
)

// AgentStatus is an agent's lifecycle state.
type AgentStatus string

const (
	StatusActive     AgentStatus = "active"
	StatusTerminated AgentStatus = "terminated"
)

// Agent is a running instance of a role.
type Agent struct {
	ID        string      `json:"id"`
	RoleID    string      `json:"role_id"`
	ParentID  string      `json:"parent_id,omitempty"` // empty only for the root
	Status    AgentStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	Children  []string    `json:"children,omitempty"`

	// SpawnBudget bounds how many children this agent may create.
	// Zero means unbounded.
	SpawnBudget int `json:"spawn_budget,omitempty"`
	spawned     int
}

// Registry holds the role table and agent arena. All methods are safe for
// concurrent use; child appends are atomic with respect to the parent's
// child list.
type Registry struct {
	mu        sync.RWMutex
	roles     map[string]Role   // by id
	roleNames map[string]string // name -> id
	agents    map[string]*Agent
	rootID    string

	basePrompt    string
	bus           *bus.Bus
	conversations *conversation.Manager
}

// New creates a registry. basePrompt is prepended to every spawned agent's
// seeded prompt.
func New(b *bus.Bus, conv *conversation.Manager, basePrompt string) *Registry {
	return &Registry{
		roles:         make(map[string]Role),
		roleNames:     make(map[string]string),
		agents:        make(map[string]*Agent),
		basePrompt:    basePrompt,
		bus:           b,
		conversations: conv,
	}
}

// CreateRole registers a role template. Fails with ErrDuplicateRole if the
// name is taken.
func (r *Registry) CreateRole(def RoleDefinition) (string, error) {
	if def.Name == "" {
		return "", fmt.Errorf("%w: role name required", ErrUnknownRole)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.roleNames[def.Name]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateRole, def.Name)
	}

	role := Role{
		ID:         uuid.NewString(),
		Name:       def.Name,
		Prompt:     def.Prompt,
		ToolGroups: append([]string(nil), def.ToolGroups...),
		CreatedBy:  def.CreatedBy,
		CreatedAt:  time.Now(),
	}
	r.roles[role.ID] = role
	r.roleNames[role.Name] = role.ID

	logging.Agents("CreateRole: %s (%s) with groups %v", role.Name, role.ID, role.ToolGroups)
	return role.ID, nil
}

// Role resolves a role by id or name.
func (r *Registry) Role(idOrName string) (Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roleLocked(idOrName)
}

func (r *Registry) roleLocked(idOrName string) (Role, error) {
	if role, ok := r.roles[idOrName]; ok {
		return role, nil
	}
	if id, ok := r.roleNames[idOrName]; ok {
		return r.roles[id], nil
	}
	return Role{}, fmt.Errorf("%w: %s", ErrUnknownRole, idOrName)
}

// SpawnOptions carries optional spawn parameters.
type SpawnOptions struct {
	// Budget bounds the child's own spawns. Zero means unbounded.
	Budget int

	// TaskID correlates the chain of messages the new agent works on.
	TaskID string
}

// SpawnAgent creates a new agent under parentID, seeds its conversation with
// the composed prompt, and enqueues the initial task message. An empty
// parentID creates the root; only one root may exist.
func (r *Registry) SpawnAgent(roleIDOrName, parentID, taskText string, opts SpawnOptions) (string, error) {
	r.mu.Lock()

	role, err := r.roleLocked(roleIDOrName)
	if err != nil {
		r.mu.Unlock()
		return "", err
	}

	var parent *Agent
	if parentID == "" {
		if r.rootID != "" {
			r.mu.Unlock()
			return "", fmt.Errorf("%w: root already exists (%s)", ErrUnknownParent, r.rootID)
		}
	} else {
		p, ok := r.agents[parentID]
		if !ok {
			r.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrUnknownParent, parentID)
		}
		if p.Status == StatusTerminated {
			r.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrAgentTerminated, parentID)
		}
		if p.SpawnBudget > 0 && p.spawned >= p.SpawnBudget {
			r.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrSpawnBudgetExhausted, parentID)
		}
		parent = p
	}

	agent := &Agent{
		ID:          uuid.NewString(),
		RoleID:      role.ID,
		ParentID:    parentID,
		Status:      StatusActive,
		CreatedAt:   time.Now(),
		SpawnBudget: opts.Budget,
	}
	r.agents[agent.ID] = agent
	if parent != nil {
		parent.Children = append(parent.Children, agent.ID)
		parent.spawned++
	} else {
		r.rootID = agent.ID
	}
	r.mu.Unlock()

	// Seed the conversation with the composed prompt.
	prompt := ComposePrompt(r.basePrompt, role, agent.ID, taskText)
	r.conversations.Append(agent.ID, conversation.Entry{
		Role:    conversation.RoleSystem,
		Content: prompt,
	})

	// Enqueue the initial task message. The sender is the parent, or the
	// user endpoint for the root.
	from := parentID
	if from == "" {
		from = bus.UserEndpoint
	}
	if taskText != "" {
		_, err := r.bus.Send(bus.NewMessage(from, agent.ID, opts.TaskID, map[string]any{
			"text": taskText,
		}))
		if err != nil {
			logging.Get(logging.CategoryAgents).Error(
				"SpawnAgent: initial task message for %s rejected: %v", agent.ID, err)
		}
	}

	logging.Agents("SpawnAgent: %s role=%s parent=%s task=%q", agent.ID, role.Name, parentID, taskText)
	return agent.ID, nil
}

// Terminate marks the agent terminated and destroys its conversation. The
// agent's mailbox and the global message log are untouched: later sends to
// it are still accepted by the bus, they just never reach a reasoning loop.
func (r *Registry) Terminate(agentID string) error {
	r.mu.Lock()
	agent, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	agent.Status = StatusTerminated
	r.mu.Unlock()

	r.conversations.Drop(agentID)
	logging.Agents("Terminate: %s", agentID)
	return nil
}

// Agent returns a snapshot of the agent record.
func (r *Registry) Agent(agentID string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return snapshot(agent), nil
}

// RoleName returns the role name for an agent id, or the id itself when the
// agent is unknown (callers use this for display).
func (r *Registry) RoleName(agentID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return agentID
	}
	return r.roles[agent.RoleID].Name
}

// ToolGroups returns the capability set of a live agent: exactly its role's
// tool groups. Terminated agents hold no capabilities.
func (r *Registry) ToolGroups(agentID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	if agent.Status == StatusTerminated {
		return nil, fmt.Errorf("%w: %s", ErrAgentTerminated, agentID)
	}
	role := r.roles[agent.RoleID]
	return append([]string(nil), role.ToolGroups...), nil
}

// IsActive reports whether the agent exists and is not terminated.
func (r *Registry) IsActive(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	return ok && agent.Status == StatusActive
}

// RootID returns the root agent id, or empty if none was spawned yet.
func (r *Registry) RootID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rootID
}

// List returns snapshots of all agents.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		out = append(out, snapshot(agent))
	}
	return out
}

// Roles returns all registered role templates.
func (r *Registry) Roles() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role)
	}
	return out
}

func snapshot(a *Agent) Agent {
	out := *a
	out.Children = append([]string(nil), a.Children...)
	return out
}
