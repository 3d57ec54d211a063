package tools

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"agenthive/internal/logging"
)

// TaskStatus is an async task's execution state. Transitions are monotonic:
// pending -> running -> completed|failed, never backward.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// rank orders statuses for the monotonic-transition guard. The two terminal
// states share a rank; neither can replace the other.
func (s TaskStatus) rank() int {
	switch s {
	case TaskPending:
		return 0
	case TaskRunning:
		return 1
	case TaskCompleted, TaskFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// AsyncTask is a tracked long-running tool execution. Once terminal, the
// record is frozen: repeated queries return the same payload.
type AsyncTask struct {
	ID                string     `json:"task_id"`
	Status            TaskStatus `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         time.Time  `json:"started_at,omitzero"`
	CompletedAt       time.Time  `json:"completed_at,omitzero"`
	ExitCode          int        `json:"exit_code,omitempty"`
	Error             string     `json:"error,omitempty"`
	StderrTail        string     `json:"stderr_tail,omitempty"`
	LogArtifactID     string     `json:"log_artifact_id,omitempty"`
	OutputArtifactIDs []string   `json:"output_artifact_ids"`
}

// Tracker owns the async task records. All methods are safe for concurrent
// use.
type Tracker struct {
	mu    sync.RWMutex
	tasks map[string]*AsyncTask
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{tasks: make(map[string]*AsyncTask)}
}

// Create registers a new pending task with its pre-reserved output artifact
// ids and returns a snapshot.
func (t *Tracker) Create(outputArtifactIDs []string) AsyncTask {
	task := &AsyncTask{
		ID:                uuid.NewString(),
		Status:            TaskPending,
		CreatedAt:         time.Now(),
		OutputArtifactIDs: append([]string(nil), outputArtifactIDs...),
	}

	t.mu.Lock()
	t.tasks[task.ID] = task
	t.mu.Unlock()

	logging.ToolsDebug("Tracker.Create: task %s with %d reserved outputs", task.ID, len(outputArtifactIDs))
	return *task
}

// Get returns a snapshot of a task, or ErrTaskNotFound.
func (t *Tracker) Get(id string) (AsyncTask, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[id]
	if !ok {
		return AsyncTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return snapshotTask(task), nil
}

// MarkRunning transitions pending -> running.
func (t *Tracker) MarkRunning(id string) error {
	return t.transition(id, TaskRunning, func(task *AsyncTask) {
		task.StartedAt = time.Now()
	})
}

// Complete transitions to the completed terminal state.
func (t *Tracker) Complete(id string, exitCode int, logArtifactID string) error {
	return t.transition(id, TaskCompleted, func(task *AsyncTask) {
		task.ExitCode = exitCode
		task.LogArtifactID = logArtifactID
		task.CompletedAt = time.Now()
	})
}

// Fail transitions to the failed terminal state with diagnostic detail.
func (t *Tracker) Fail(id string, exitCode int, errMsg, stderrTail string) error {
	return t.transition(id, TaskFailed, func(task *AsyncTask) {
		task.ExitCode = exitCode
		task.Error = errMsg
		task.StderrTail = stderrTail
		task.CompletedAt = time.Now()
	})
}

func (t *Tracker) transition(id string, next TaskStatus, apply func(*AsyncTask)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTaskTerminal, id, task.Status)
	}
	if next.rank() < task.Status.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, task.Status, next)
	}

	task.Status = next
	apply(task)
	logging.ToolsDebug("Tracker: task %s -> %s", id, next)
	return nil
}

func snapshotTask(task *AsyncTask) AsyncTask {
	out := *task
	out.OutputArtifactIDs = append([]string(nil), task.OutputArtifactIDs...)
	return out
}
