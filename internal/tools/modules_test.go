package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthive/internal/artifact"
	"agenthive/internal/bus"
	"agenthive/internal/conversation"
	"agenthive/internal/registry"
)

// newCallContext wires a full in-memory core for module tests and returns a
// context for a freshly spawned root agent.
func newCallContext(t *testing.T) CallContext {
	t.Helper()
	b := bus.New()
	conv := conversation.NewManager(nil)
	reg := registry.New(b, conv, "base prompt")

	_, err := reg.CreateRole(registry.RoleDefinition{
		Name:       "coordinator",
		Prompt:     "Coordinate.",
		ToolGroups: []string{GroupMessaging, GroupArtifacts, GroupMedia},
	})
	require.NoError(t, err)
	rootID, err := reg.SpawnAgent("coordinator", "", "root task", registry.SpawnOptions{})
	require.NoError(t, err)

	return CallContext{
		AgentID:       rootID,
		TaskID:        "task-1",
		AllowedGroups: []string{GroupMessaging, GroupArtifacts, GroupMedia},
		Bus:           b,
		Registry:      reg,
		Artifacts:     artifact.NewMemoryStore(),
		Tasks:         NewTracker(),
	}
}

func TestMessagingSendAndWait(t *testing.T) {
	call := newCallContext(t)
	m := NewMessagingModule()

	res, err := m.Execute(context.Background(), call, "send_message", map[string]any{
		"to":   bus.UserEndpoint,
		"text": "work finished",
	})
	require.NoError(t, err)
	require.True(t, res.(map[string]any)["ok"].(bool))

	box := call.Bus.Mailbox(bus.UserEndpoint)
	require.Len(t, box, 1)
	assert.Equal(t, "work finished", box[0].Text())
	assert.Equal(t, call.TaskID, box[0].TaskID)
}

func TestMessagingRequiresAgentContext(t *testing.T) {
	call := newCallContext(t)
	call.AgentID = ""
	m := NewMessagingModule()

	_, err := m.Execute(context.Background(), call, "send_message", map[string]any{"to": "user"})
	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, FailureMissingContext, te.Kind)
}

func TestMessagingSpawnAndTerminate(t *testing.T) {
	call := newCallContext(t)
	m := NewMessagingModule()

	_, err := m.Execute(context.Background(), call, "create_role", map[string]any{
		"name":        "worker",
		"prompt":      "Do the work.",
		"tool_groups": []any{GroupArtifacts},
	})
	require.NoError(t, err)

	res, err := m.Execute(context.Background(), call, "spawn_agent", map[string]any{
		"role": "worker",
		"task": "fetch the report",
	})
	require.NoError(t, err)
	childID := res.(map[string]any)["agent_id"].(string)

	child, err := call.Registry.Agent(childID)
	require.NoError(t, err)
	assert.Equal(t, call.AgentID, child.ParentID)

	// Terminating someone else's agent is a validation failure.
	otherCall := call
	otherCall.AgentID = childID
	_, err = m.Execute(context.Background(), otherCall, "terminate_agent", map[string]any{"agent_id": call.AgentID})
	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, FailureValidation, te.Kind)

	_, err = m.Execute(context.Background(), call, "terminate_agent", map[string]any{"agent_id": childID})
	require.NoError(t, err)
	assert.False(t, call.Registry.IsActive(childID))
}

func TestMessagingWaitTimeoutIsNotError(t *testing.T) {
	call := newCallContext(t)
	m := NewMessagingModule()

	res, err := m.Execute(context.Background(), call, "wait_for_message", map[string]any{
		"from":       "nobody",
		"timeout_ms": 50,
	})
	require.NoError(t, err, "timeout must be a normal outcome")
	assert.False(t, res.(map[string]any)["matched"].(bool))
}

func TestArtifactToolsRoundTrip(t *testing.T) {
	call := newCallContext(t)
	m := NewArtifactsModule(nil)

	res, err := m.Execute(context.Background(), call, "artifact_put", map[string]any{
		"type":    artifact.TypeJSON,
		"content": `{"k":"v"}`,
		"meta":    map[string]any{"origin": "test"},
	})
	require.NoError(t, err)
	id := res.(map[string]any)["id"].(string)

	got, err := m.Execute(context.Background(), call, "artifact_get", map[string]any{"id": id})
	require.NoError(t, err)
	env := got.(map[string]any)
	assert.Equal(t, artifact.TypeJSON, env["type"])
	assert.Equal(t, `{"k":"v"}`, env["content"])

	_, err = m.Execute(context.Background(), call, "artifact_get", map[string]any{"id": "ghost"})
	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, FailureTargetNotFound, te.Kind)
}

func TestFetchBatchPerItemOutcomes(t *testing.T) {
	call := newCallContext(t)
	m := NewArtifactsModule(func(ctx context.Context, url string) (string, []byte, error) {
		if url == "https://example.com/bad" {
			return "", nil, errors.New("503 upstream")
		}
		return "text/html", []byte("<html>" + url + "</html>"), nil
	})

	res, err := m.Execute(context.Background(), call, "fetch_batch", map[string]any{
		"urls": []any{
			"https://example.com/a",
			"https://example.com/bad",
			"https://example.com/b",
		},
	})
	require.NoError(t, err)

	batch := res.(BatchResult)
	assert.True(t, batch.OK)
	assert.Equal(t, 2, batch.SuccessCount)
	assert.Equal(t, 1, batch.FailureCount)
	require.Len(t, batch.Errors, 1)
	assert.Equal(t, 1, batch.Errors[0].Index)
	assert.Len(t, batch.Outputs, 2)
	assert.Len(t, batch.ArtifactIDs, 3)

	// The successful item's reservation was completed with the body.
	first, err := call.Artifacts.Get(artifact.Ref{ID: batch.ArtifactIDs[0]})
	require.NoError(t, err)
	assert.False(t, first.Reserved())
	assert.Contains(t, string(first.Content), "example.com/a")

	// The failed item's reservation stays a reserved placeholder.
	failed, err := call.Artifacts.Get(artifact.Ref{ID: batch.ArtifactIDs[1]})
	require.NoError(t, err)
	assert.True(t, failed.Reserved())
}

// fakeRunner simulates the external processor behind the media module.
type fakeRunner struct {
	delay    time.Duration
	exitCode int
	stderr   string
	fail     error
}

func (f *fakeRunner) Run(ctx context.Context, args string) (RunResult, error) {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return RunResult{ExitCode: -1}, ctx.Err()
	}
	if f.fail != nil {
		return RunResult{ExitCode: f.exitCode, Stderr: f.stderr}, f.fail
	}

	outputs := make(map[string][]byte)
	for _, id := range placeholderOutputs(args) {
		outputs[id] = []byte("rendered:" + id)
	}
	return RunResult{
		ExitCode: f.exitCode,
		Stderr:   f.stderr,
		Log:      []byte("run log"),
		Outputs:  outputs,
	}, nil
}

// placeholderOutputs recovers substituted ids from the fake command line;
// the fake treats every token after "-o" as an output id.
func placeholderOutputs(args string) []string {
	var out []string
	fields := splitFields(args)
	for i, f := range fields {
		if f == "-o" && i+1 < len(fields) {
			out = append(out, fields[i+1])
		}
	}
	return out
}

func splitFields(s string) []string {
	var fields []string
	cur := ""
	for _, r := range s {
		if r == ' ' {
			if cur != "" {
				fields = append(fields, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		fields = append(fields, cur)
	}
	return fields
}

func pollUntilTerminal(t *testing.T, m *MediaModule, call CallContext, taskID string) AsyncTask {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		res, err := m.Execute(context.Background(), call, "task_status", map[string]any{"task_id": taskID})
		require.NoError(t, err)
		task := res.(AsyncTask)
		if task.Status.Terminal() {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal state")
	return AsyncTask{}
}

// TestMediaAsyncLifecycle follows the long-running pattern end to end:
// accept immediately, poll to completion, outputs final only afterwards.
func TestMediaAsyncLifecycle(t *testing.T) {
	call := newCallContext(t)
	m := NewMediaModule(&fakeRunner{delay: 30 * time.Millisecond}, time.Minute)

	inRef, err := call.Artifacts.Put(artifact.TypeBinary, []byte("source media"), nil)
	require.NoError(t, err)

	res, err := m.Execute(context.Background(), call, "run", map[string]any{
		"vargs":     "-i {in1} -o {out.mp4}",
		"artifacts": []any{inRef.ID},
	})
	require.NoError(t, err)

	env := res.(map[string]any)
	taskID := env["task_id"].(string)
	outputIDs := env["output_artifact_ids"].([]string)
	require.Len(t, outputIDs, 1)
	assert.Equal(t, string(TaskPending), env["status"])

	// Until completed, the reserved output is explicitly not final.
	slot, err := call.Artifacts.Get(artifact.Ref{ID: outputIDs[0]})
	require.NoError(t, err)
	assert.True(t, slot.Reserved())

	task := pollUntilTerminal(t, m, call, taskID)
	assert.Equal(t, TaskCompleted, task.Status)
	assert.Equal(t, outputIDs, task.OutputArtifactIDs)
	assert.NotEmpty(t, task.LogArtifactID)

	final, err := call.Artifacts.Get(artifact.Ref{ID: outputIDs[0]})
	require.NoError(t, err)
	assert.False(t, final.Reserved())
	assert.Equal(t, fmt.Sprintf("rendered:%s", outputIDs[0]), string(final.Content))
}

// TestMediaValidationFailureStillYieldsTask: a malformed request returns a
// task id with status=failed and retrievable detail.
func TestMediaValidationFailureStillYieldsTask(t *testing.T) {
	call := newCallContext(t)
	m := NewMediaModule(&fakeRunner{}, time.Minute)

	res, err := m.Execute(context.Background(), call, "run", map[string]any{
		"vargs": "-i {in1}", // no input artifacts supplied
	})
	require.NoError(t, err)

	env := res.(map[string]any)
	assert.Equal(t, string(TaskFailed), env["status"])

	task, err := call.Tasks.Get(env["task_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Contains(t, task.Error, "placeholder")
}

func TestMediaRuntimeFailureCapturesDiagnostics(t *testing.T) {
	call := newCallContext(t)
	m := NewMediaModule(&fakeRunner{
		exitCode: 1,
		stderr:   "codec not found",
		fail:     errors.New("process exited"),
	}, time.Minute)

	res, err := m.Execute(context.Background(), call, "run", map[string]any{"vargs": "-version"})
	require.NoError(t, err)
	taskID := res.(map[string]any)["task_id"].(string)

	task := pollUntilTerminal(t, m, call, taskID)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Equal(t, 1, task.ExitCode)
	assert.Equal(t, "codec not found", task.StderrTail)
}

func TestTaskStatusUnknownID(t *testing.T) {
	call := newCallContext(t)
	m := NewMediaModule(&fakeRunner{}, time.Minute)

	_, err := m.Execute(context.Background(), call, "task_status", map[string]any{"task_id": "ghost"})
	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, FailureTargetNotFound, te.Kind)
}
