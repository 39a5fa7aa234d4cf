package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// CommandWorker runs a configured CLI binary once per task. The request is
// passed on stdin as JSON; the worker's report is read from stdout, either as
// a JSON object with code/output/error fields or as plain text (treated as a
// successful result payload).
type CommandWorker struct {
	Command      string
	Args         []string
	SystemPrompt string
	WorkDir      string
}

// commandRequest is the JSON document written to the subprocess's stdin.
type commandRequest struct {
	TaskID       string   `json:"task_id"`
	WorkflowID   string   `json:"workflow_id"`
	Role         string   `json:"role"`
	Description  string   `json:"description"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Upstream     []string `json:"upstream,omitempty"`
}

// commandResponse is the JSON document expected on stdout.
type commandResponse struct {
	Success *bool  `json:"success"`
	Code    string `json:"code"`
	Output  string `json:"output"`
	Error   string `json:"error"`
}

// Execute runs the command with the serialized request on stdin.
// A non-zero exit or unrunnable binary is a transport error (returned as err);
// a well-formed response with success=false is a reported work failure.
func (w *CommandWorker) Execute(ctx context.Context, req Request) (Result, error) {
	if w.Command == "" {
		return Result{}, fmt.Errorf("no command configured for role %q", req.Role)
	}

	payload, err := json.Marshal(commandRequest{
		TaskID:       req.TaskID,
		WorkflowID:   req.WorkflowID,
		Role:         req.Role,
		Description:  req.Description,
		SystemPrompt: w.SystemPrompt,
		Upstream:     req.Upstream,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshaling worker request: %w", err)
	}

	cmd := newCommand(ctx, w.Command, w.Args...)
	cmd.Dir = w.WorkDir
	cmd.Stdin = bytes.NewReader(payload)

	stdout, stderr, err := executeCommand(cmd)
	if err != nil {
		return Result{}, fmt.Errorf("worker %q: %w", w.Command, err)
	}

	return parseResponse(stdout, stderr), nil
}

// newCommand creates an exec.Cmd with process group isolation so the whole
// subprocess tree dies when the context is cancelled.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	// Signal the whole group (negative PID) on cancellation, so grandchildren
	// holding our pipes open die with the direct child.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

// executeCommand runs the command and returns stdout and stderr.
// Both pipes are drained concurrently before cmd.Wait() so a subprocess that
// writes more than a pipe buffer of output never deadlocks against us.
func executeCommand(cmd *exec.Cmd) (stdout []byte, stderr []byte, err error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start command: %w", err)
	}

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer

	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, stderrPipe)
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	stdout = stdoutBuf.Bytes()
	stderr = stderrBuf.Bytes()

	if waitErr != nil {
		if len(stderr) > 0 {
			return stdout, stderr, fmt.Errorf("command failed: %w (stderr: %s)", waitErr, string(stderr))
		}
		return stdout, stderr, fmt.Errorf("command failed: %w", waitErr)
	}

	return stdout, stderr, nil
}

// parseResponse interprets the subprocess's stdout. JSON objects carry an
// explicit report; anything else is a plain-text success payload.
func parseResponse(stdout, stderr []byte) Result {
	trimmed := strings.TrimSpace(string(stdout))

	if strings.HasPrefix(trimmed, "{") {
		var resp commandResponse
		if err := json.Unmarshal([]byte(trimmed), &resp); err == nil {
			success := resp.Error == "" // default when the success field is absent
			if resp.Success != nil {
				success = *resp.Success
			}
			return Result{
				Success: success,
				Code:    resp.Code,
				Output:  resp.Output,
				Error:   resp.Error,
			}
		}
	}

	if trimmed == "" && len(stderr) > 0 {
		return Result{Success: false, Error: strings.TrimSpace(string(stderr))}
	}
	return Result{Success: true, Output: trimmed}
}
