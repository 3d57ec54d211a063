package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"agenthive/internal/artifact"
	"agenthive/internal/logging"
	"agenthive/internal/tools"
)

// CommandRunner executes the external media binary. Argument tokens that
// name artifacts are rewritten to scratch file paths: inputs are written out
// before the run, reserved outputs are read back after a clean exit.
type CommandRunner struct {
	Binary string
	Store  artifact.Store
}

// Run implements tools.Runner.
func (r *CommandRunner) Run(ctx context.Context, args string) (tools.RunResult, error) {
	if r.Binary == "" {
		return tools.RunResult{ExitCode: -1}, errors.New("no media binary configured")
	}

	dir, err := os.MkdirTemp("", "hive-run-*")
	if err != nil {
		return tools.RunResult{ExitCode: -1}, fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	fields := strings.Fields(args)
	outputs := make(map[string]string) // artifact id -> scratch path
	for i, f := range fields {
		a, err := r.Store.Get(artifact.Ref{ID: f})
		if err != nil {
			continue // not an artifact token
		}
		path := filepath.Join(dir, f+extensionOf(a))
		if a.Reserved() {
			outputs[f] = path
		} else if err := os.WriteFile(path, a.Content, 0644); err != nil {
			return tools.RunResult{ExitCode: -1}, fmt.Errorf("staging input %s: %w", f, err)
		}
		fields[i] = path
	}

	cmd := exec.CommandContext(ctx, r.Binary, fields...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Runtime("CommandRunner: %s %s", r.Binary, strings.Join(fields, " "))
	runErr := cmd.Run()

	res := tools.RunResult{
		Stderr: stderr.String(),
		Log:    stdout.Bytes(),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	} else {
		res.ExitCode = -1
	}
	if runErr != nil {
		return res, fmt.Errorf("running %s: %w", r.Binary, runErr)
	}

	res.Outputs = make(map[string][]byte, len(outputs))
	for id, path := range outputs {
		content, err := os.ReadFile(path)
		if err != nil {
			return res, fmt.Errorf("reading output %s: %w", id, err)
		}
		res.Outputs[id] = content
	}
	return res, nil
}

func extensionOf(a artifact.Artifact) string {
	if a.Meta == nil {
		return ""
	}
	if ext := a.Meta[artifact.MetaExtension]; ext != "" {
		return "." + ext
	}
	return ""
}
