package tools

import (
	"context"
	"errors"
	"strings"
	"time"

	"agenthive/internal/artifact"
	"agenthive/internal/logging"
)

// stderrTailLimit bounds the captured diagnostic tail on failure.
const stderrTailLimit = 2000

// RunResult is what a Runner produces for one long-running invocation.
// Outputs maps reserved artifact ids (as substituted into the argument
// string) to their produced content.
type RunResult struct {
	ExitCode int
	Stderr   string
	Log      []byte
	Outputs  map[string][]byte
}

// Runner executes the heavy external work behind the media module. Concrete
// transcoder invocation lives outside the core; tests inject fakes.
type Runner interface {
	Run(ctx context.Context, args string) (RunResult, error)
}

// MediaModule exposes the asynchronous long-running-task pattern: run accepts
// immediately and returns an AsyncTask id plus pre-reserved output artifact
// ids; task_status polls the tracked record. Until status is completed, the
// referenced output artifacts are not guaranteed complete.
type MediaModule struct {
	runner  Runner
	timeout time.Duration
}

// NewMediaModule creates the media module. timeout bounds each background
// run; zero means 10 minutes.
func NewMediaModule(runner Runner, timeout time.Duration) *MediaModule {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &MediaModule{runner: runner, timeout: timeout}
}

func (m *MediaModule) Group() string { return GroupMedia }

func (m *MediaModule) Definitions() []Definition {
	return []Definition{
		{
			Name:        "run",
			Description: "Start a long-running processing job. Returns immediately with a task id and reserved output artifact ids; poll task_status until completed before reading the outputs.",
			Schema: Schema{
				Required: []string{"vargs"},
				Properties: map[string]Property{
					"vargs":     {Type: "string", Description: "Argument string; {inN} placeholders resolve against the artifacts list, {out.ext} placeholders reserve output slots"},
					"artifacts": {Type: "array", Description: "Ordered input artifact ids", Items: &PropertyItems{Type: "string"}},
				},
			},
		},
		{
			Name:        "task_status",
			Description: "Poll the status of a long-running job.",
			Schema: Schema{
				Required: []string{"task_id"},
				Properties: map[string]Property{
					"task_id": {Type: "string", Description: "Async task id returned by run"},
				},
			},
		},
	}
}

func (m *MediaModule) Execute(ctx context.Context, call CallContext, name string, args map[string]any) (any, error) {
	switch name {
	case "run":
		return m.run(call, args)
	case "task_status":
		return m.taskStatus(call, args)
	default:
		return nil, Validation("unknown_tool", "media module has no tool %q", name)
	}
}

// run accepts immediately. A validation failure still yields a task id with
// status=failed so the caller has a retrievable record of the attempt.
func (m *MediaModule) run(call CallContext, args map[string]any) (any, error) {
	vargs, err := RequireString(args, "vargs")
	if err != nil {
		return nil, err
	}

	inputIDs := OptStringSlice(args, "artifacts")
	inputs := make([]artifact.Ref, len(inputIDs))
	for i, id := range inputIDs {
		inputs[i] = artifact.Ref{ID: id}
	}

	sub, err := SubstitutePlaceholders(vargs, inputs, call.Artifacts)
	if err != nil {
		task := call.Tasks.Create(nil)
		_ = call.Tasks.Fail(task.ID, -1, err.Error(), "")
		return runEnvelope(task.ID, TaskFailed, nil), nil
	}

	task := call.Tasks.Create(sub.OutputArtifactIDs)
	go m.execute(task.ID, sub, call)

	return runEnvelope(task.ID, TaskPending, sub.OutputArtifactIDs), nil
}

// execute performs the work out-of-band.
func (m *MediaModule) execute(taskID string, sub Substitution, call CallContext) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if err := call.Tasks.MarkRunning(taskID); err != nil {
		logging.Get(logging.CategoryTools).Error("media run %s: %v", taskID, err)
		return
	}

	res, err := m.runner.Run(ctx, sub.Args)
	if err != nil {
		_ = call.Tasks.Fail(taskID, res.ExitCode, err.Error(), tail(res.Stderr))
		return
	}
	if res.ExitCode != 0 {
		_ = call.Tasks.Fail(taskID, res.ExitCode, "process exited nonzero", tail(res.Stderr))
		return
	}

	for id, content := range res.Outputs {
		if err := call.Artifacts.Complete(id, artifact.TypeBinary, content); err != nil {
			_ = call.Tasks.Fail(taskID, 0, "completing output artifact: "+err.Error(), tail(res.Stderr))
			return
		}
	}

	var logID string
	if len(res.Log) > 0 {
		if ref, err := call.Artifacts.Put(artifact.TypeText, res.Log, map[string]string{"kind": "run_log"}); err == nil {
			logID = ref.ID
		}
	}
	_ = call.Tasks.Complete(taskID, 0, logID)
}

func (m *MediaModule) taskStatus(call CallContext, args map[string]any) (any, error) {
	taskID, err := RequireString(args, "task_id")
	if err != nil {
		return nil, err
	}
	task, err := call.Tasks.Get(taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil, TargetNotFound("task_not_found", "%v", err)
		}
		return nil, Runtime("status_failed", "%v", err)
	}
	return task, nil
}

func runEnvelope(taskID string, status TaskStatus, outputIDs []string) map[string]any {
	if outputIDs == nil {
		outputIDs = []string{}
	}
	return map[string]any{
		"task_id":             taskID,
		"status":              string(status),
		"output_artifact_ids": outputIDs,
	}
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= stderrTailLimit {
		return s
	}
	return s[len(s)-stderrTailLimit:]
}
