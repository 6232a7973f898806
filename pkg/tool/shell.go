package tool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// defaultShellTimeout bounds a bash_execute call when the caller doesn't
// request a longer one. The policy engine's sandbox.CheckCommand has
// already run by the time Execute is reached, so this tool only shells out
// and captures output.
const (
	defaultShellTimeout = 120 * time.Second
	maxShellTimeout     = 600 * time.Second
)

type bashExecuteTool struct{ workDir string }

func (t *bashExecuteTool) Name() string { return "bash_execute" }

func (t *bashExecuteTool) Description() string {
	return "Run a shell command in the project directory and return its combined stdout/stderr."
}

func (t *bashExecuteTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"command":         {Type: "string", Description: "shell command to run"},
			"timeout_seconds": {Type: "integer", Description: "command timeout in seconds, max 600", Default: 120},
		},
		Required: []string{"command"},
	}
}

func (t *bashExecuteTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	command, ok := stringParam(params, "command")
	if !ok {
		return Result{Success: false, Error: "command parameter must be a non-empty string"}, nil
	}

	timeout := defaultShellTimeout
	if secs := parseIntParam(params["timeout_seconds"], 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = t.workDir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := strings.TrimRight(out.String(), "\n")
	if runCtx.Err() != nil {
		return Result{Success: false, Error: fmt.Sprintf("command timed out after %s", timeout), Output: output}, nil
	}
	if err != nil {
		return Result{Success: false, Error: err.Error(), Output: output}, nil
	}
	return Result{Success: true, Output: output}, nil
}
