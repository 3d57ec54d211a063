// Package runtime assembles the coordination core: bus, registry,
// conversations, artifact store, tool dispatcher, and the UI broker, all
// reachable through one explicit Runtime value. Nothing here lives in
// package-level state; tests build isolated runtimes freely.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"agenthive/internal/artifact"
	"agenthive/internal/bus"
	"agenthive/internal/config"
	"agenthive/internal/conversation"
	"agenthive/internal/llm"
	"agenthive/internal/logging"
	"agenthive/internal/registry"
	"agenthive/internal/tools"
	"agenthive/internal/uibridge"
)

var (
	// ErrNoProvider is returned when constructing a runtime without a
	// reasoning provider.
	ErrNoProvider = errors.New("runtime requires an llm provider")

	// ErrUnknownRecipient is returned at the external boundary for sends to
	// an address that is neither the user endpoint nor a live agent.
	ErrUnknownRecipient = errors.New("unknown recipient")
)

// Requirement is one externally submitted unit of work.
type Requirement struct {
	TaskID    string    `json:"task_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Options configures a Runtime. Zero-value fields fall back to defaults
// derived from Config.
type Options struct {
	Config   *config.Config
	Provider llm.Provider

	// Artifacts overrides the config-selected store backend.
	Artifacts artifact.Store

	// MediaRunner overrides the exec-backed processor.
	MediaRunner tools.Runner

	// Fetcher overrides the HTTP fetcher used by fetch_batch.
	Fetcher tools.Fetcher
}

// Runtime owns every subsystem and drives agent turns off bus deliveries.
type Runtime struct {
	cfg      *config.Config
	provider llm.Provider

	bus           *bus.Bus
	conversations *conversation.Manager
	registry      *registry.Registry
	artifacts     artifact.Store
	tasks         *tools.Tracker
	toolRegistry  *tools.Registry
	dispatcher    *tools.Dispatcher
	broker        *uibridge.Broker

	mu           sync.Mutex
	requirements map[string]Requirement
	consumed     map[string]bool // user-boundary message ids already handed out
	seen         map[string]bool // message ids already routed to a turn
	workers      map[string]chan bus.Message

	// rootMu serializes the first-requirement root bootstrap. Separate from
	// mu: spawning sends on the bus, whose waiter predicates take mu.
	rootMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a runtime from options. The root agent is not spawned until the
// first requirement arrives.
func New(opts Options) (*Runtime, error) {
	if opts.Provider == nil {
		return nil, ErrNoProvider
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	rt := &Runtime{
		cfg:          cfg,
		provider:     opts.Provider,
		bus:          bus.New(),
		tasks:        tools.NewTracker(),
		broker:       uibridge.NewBroker(),
		requirements: make(map[string]Requirement),
		consumed:     make(map[string]bool),
		seen:         make(map[string]bool),
		workers:      make(map[string]chan bus.Message),
	}

	compressor := &conversation.WindowCompressor{
		Threshold:  cfg.Conversation.CompressionThreshold,
		KeepRecent: cfg.Conversation.KeepRecent,
		Summarize:  rt.summarize,
	}
	rt.conversations = conversation.NewManager(compressor)
	rt.registry = registry.New(rt.bus, rt.conversations, cfg.Agents.BasePrompt)
	rt.bus.SetTaskChecker(rt.knownTask)

	store := opts.Artifacts
	if store == nil {
		var err error
		store, err = openStore(cfg)
		if err != nil {
			return nil, err
		}
	}
	rt.artifacts = store

	runner := opts.MediaRunner
	if runner == nil {
		runner = &CommandRunner{Binary: cfg.Media.Binary, Store: store}
	}

	rt.toolRegistry = tools.NewRegistry()
	rt.toolRegistry.MustRegister(tools.NewMessagingModule())
	rt.toolRegistry.MustRegister(tools.NewArtifactsModule(opts.Fetcher))
	rt.toolRegistry.MustRegister(tools.NewMediaModule(runner, cfg.GetMediaRunTimeout()))
	rt.toolRegistry.MustRegister(uibridge.NewUIModule())
	rt.dispatcher = tools.NewDispatcher(rt.toolRegistry)

	return rt, nil
}

func openStore(cfg *config.Config) (artifact.Store, error) {
	switch cfg.Artifacts.Backend {
	case "sqlite":
		return artifact.NewSQLiteStore(cfg.Artifacts.DatabasePath)
	default:
		return artifact.NewMemoryStore(), nil
	}
}

// Start launches the delivery loop. Agent turns run until ctx is cancelled
// or Close is called.
func (rt *Runtime) Start(ctx context.Context) {
	rt.ctx, rt.cancel = context.WithCancel(ctx)
	rt.wg.Add(1)
	go rt.deliveryLoop()
	logging.Runtime("Runtime started")
}

// Close stops the delivery loop and waits for in-flight turns.
func (rt *Runtime) Close() {
	if rt.cancel != nil {
		rt.cancel()
	}
	rt.wg.Wait()

	if closer, ok := rt.artifacts.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	logging.Runtime("Runtime stopped")
}

// deliveryLoop routes each new agent-addressed message to its agent's
// serialized worker. Cross-agent turns run in parallel; turns for one agent
// never overlap.
func (rt *Runtime) deliveryLoop() {
	defer rt.wg.Done()

	pred := func(msg bus.Message) bool {
		if msg.To == bus.UserEndpoint {
			return false
		}
		rt.mu.Lock()
		routed := rt.seen[msg.ID]
		rt.mu.Unlock()
		return !routed && rt.registry.IsActive(msg.To)
	}

	for {
		res, err := rt.bus.WaitFor(rt.ctx, pred, 500*time.Millisecond)
		if err != nil {
			return // context cancelled
		}
		if !res.Matched {
			continue
		}

		msg := res.Message
		rt.mu.Lock()
		if rt.seen[msg.ID] {
			rt.mu.Unlock()
			continue
		}
		rt.seen[msg.ID] = true
		worker, ok := rt.workers[msg.To]
		if !ok {
			worker = make(chan bus.Message, 64)
			rt.workers[msg.To] = worker
			rt.wg.Add(1)
			go rt.agentWorker(msg.To, worker)
		}
		rt.mu.Unlock()

		select {
		case worker <- msg:
		case <-rt.ctx.Done():
			return
		}
	}
}

func (rt *Runtime) agentWorker(agentID string, inbox <-chan bus.Message) {
	defer rt.wg.Done()
	for {
		select {
		case msg := <-inbox:
			if !rt.registry.IsActive(agentID) {
				logging.RuntimeDebug("agentWorker: dropping message %s for terminated agent %s", msg.ID, agentID)
				continue
			}
			rt.runTurn(rt.ctx, agentID, msg)
		case <-rt.ctx.Done():
			return
		}
	}
}

// SubmitRequirement registers a new task and delivers it to the root agent,
// spawning the root (and its role) on first use. It returns the task id the
// caller polls results with.
func (rt *Runtime) SubmitRequirement(text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("requirement text cannot be empty")
	}

	req := Requirement{TaskID: uuid.NewString(), Text: text, CreatedAt: time.Now()}
	rt.mu.Lock()
	rt.requirements[req.TaskID] = req
	rt.mu.Unlock()

	rt.rootMu.Lock()
	if rt.registry.RootID() == "" {
		defer rt.rootMu.Unlock()
		if err := rt.ensureRootRole(); err != nil {
			return "", err
		}
		// SpawnAgent seeds the conversation and sends the requirement as the
		// root's first message, attributed to the user.
		if _, err := rt.registry.SpawnAgent(rt.cfg.Agents.RootRole, "", text, registry.SpawnOptions{
			Budget: rt.cfg.Agents.SpawnBudget,
			TaskID: req.TaskID,
		}); err != nil {
			return "", fmt.Errorf("spawning root agent: %w", err)
		}
		logging.Runtime("SubmitRequirement: task %s spawned root agent", req.TaskID)
		return req.TaskID, nil
	}
	rt.rootMu.Unlock()

	if _, err := rt.bus.Send(bus.NewMessage(bus.UserEndpoint, rt.registry.RootID(), req.TaskID, map[string]any{
		"text": text,
	})); err != nil {
		return "", rt.boundaryError(err)
	}
	logging.Runtime("SubmitRequirement: task %s delivered to root", req.TaskID)
	return req.TaskID, nil
}

func (rt *Runtime) ensureRootRole() error {
	if _, err := rt.registry.Role(rt.cfg.Agents.RootRole); err == nil {
		return nil
	}
	_, err := rt.registry.CreateRole(registry.RoleDefinition{
		Name:       rt.cfg.Agents.RootRole,
		Prompt:     "You coordinate the hive. Break requirements into tasks, spawn specialized agents, collect their results, and report the final outcome to the user.",
		ToolGroups: rt.toolRegistry.Groups(),
		CreatedBy:  bus.UserEndpoint,
	})
	if err != nil && !errors.Is(err, registry.ErrDuplicateRole) {
		return fmt.Errorf("creating root role: %w", err)
	}
	return nil
}

// SendUserMessage delivers a message from the external user to an agent.
func (rt *Runtime) SendUserMessage(to, taskID string, payload map[string]any) (bus.Message, error) {
	if to != bus.UserEndpoint && !rt.registry.IsActive(to) {
		return bus.Message{}, fmt.Errorf("%w: %s", ErrUnknownRecipient, to)
	}
	msg, err := rt.bus.Send(bus.NewMessage(bus.UserEndpoint, to, taskID, payload))
	if err != nil {
		return bus.Message{}, rt.boundaryError(err)
	}
	return msg, nil
}

// WaitForUserMessage blocks until an agent message addressed to the user
// arrives, up to timeout. Each message is handed out once; a timeout is a
// normal outcome with Matched false.
func (rt *Runtime) WaitForUserMessage(ctx context.Context, from, taskID string, timeout time.Duration) (bus.WaitResult, error) {
	pred := func(msg bus.Message) bool {
		if msg.To != bus.UserEndpoint {
			return false
		}
		if from != "" && msg.From != from {
			return false
		}
		if taskID != "" && msg.TaskID != taskID {
			return false
		}
		rt.mu.Lock()
		defer rt.mu.Unlock()
		return !rt.consumed[msg.ID]
	}

	res, err := rt.bus.WaitFor(ctx, pred, timeout)
	if err != nil || !res.Matched {
		return res, err
	}

	rt.mu.Lock()
	if rt.consumed[res.Message.ID] {
		// Another waiter claimed it between match and mark; report a timeout
		// shape so the caller just polls again.
		rt.mu.Unlock()
		return bus.WaitResult{}, nil
	}
	rt.consumed[res.Message.ID] = true
	rt.mu.Unlock()
	return res, nil
}

// Requirement returns a submitted requirement by task id.
func (rt *Runtime) Requirement(taskID string) (Requirement, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	req, ok := rt.requirements[taskID]
	return req, ok
}

func (rt *Runtime) knownTask(taskID string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	_, ok := rt.requirements[taskID]
	return ok
}

// boundaryError rewrites internal failures into messages fit for the
// external caller; internal sentinel detail never crosses the boundary raw.
func (rt *Runtime) boundaryError(err error) error {
	switch {
	case errors.Is(err, bus.ErrUnknownTask):
		return fmt.Errorf("the referenced task does not exist; submit the requirement first")
	case errors.Is(err, bus.ErrEmptyRecipient), errors.Is(err, bus.ErrEmptySender):
		return fmt.Errorf("message address is incomplete")
	default:
		return err
	}
}

// summarize backs the window compressor with the reasoning provider.
func (rt *Runtime) summarize(entries []conversation.Entry) (string, error) {
	var b buildTranscript
	for _, e := range entries {
		b.add(e.Role, e.Content)
	}
	return rt.provider.CompleteWithSystem(rt.ctxOrBackground(),
		"Summarize the following agent conversation. Preserve task goals, decisions, artifact ids and unresolved questions. Be terse.",
		b.String())
}

func (rt *Runtime) ctxOrBackground() context.Context {
	if rt.ctx != nil {
		return rt.ctx
	}
	return context.Background()
}

// Accessors for the HTTP surface.

func (rt *Runtime) Bus() *bus.Bus                 { return rt.bus }
func (rt *Runtime) Registry() *registry.Registry  { return rt.registry }
func (rt *Runtime) Artifacts() artifact.Store     { return rt.artifacts }
func (rt *Runtime) Broker() *uibridge.Broker      { return rt.broker }
func (rt *Runtime) Tasks() *tools.Tracker         { return rt.tasks }
func (rt *Runtime) Dispatcher() *tools.Dispatcher { return rt.dispatcher }
func (rt *Runtime) Config() *config.Config        { return rt.cfg }
