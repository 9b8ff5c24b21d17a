package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/zverozabr/zeroclaw/internal/zeroclaw/runtime"
	"github.com/zverozabr/zeroclaw/internal/zeroclaw/security"
)

// shellTimeout bounds how long a shell command may run before it is killed.
const shellTimeout = 60 * time.Second

// maxOutputBytes caps how much of stdout/stderr is kept per stream.
const maxOutputBytes = 1 << 20 // 1 MiB

// ShellTool executes a single shell command through a runtime.Adapter,
// gated by a security.Policy and optionally observed by a
// security.SyscallAnomalyDetector.
type ShellTool struct {
	policy   *security.Policy
	adapter  runtime.Adapter
	detector security.SyscallAnomalyDetector
}

// NewShellTool builds a ShellTool with no anomaly detector attached.
func NewShellTool(policy *security.Policy, adapter runtime.Adapter) *ShellTool {
	return NewShellToolWithDetector(policy, adapter, security.NoopDetector{})
}

// NewShellToolWithDetector builds a ShellTool with an explicit detector.
func NewShellToolWithDetector(policy *security.Policy, adapter runtime.Adapter, detector security.SyscallAnomalyDetector) *ShellTool {
	if detector == nil {
		detector = security.NoopDetector{}
	}
	return &ShellTool{policy: policy, adapter: adapter, detector: detector}
}

func (t *ShellTool) Name() string        { return "shell" }
func (t *ShellTool) Description() string { return "Execute a shell command in the workspace directory" }

func (t *ShellTool) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"approved": map[string]any{
				"type":        "boolean",
				"description": "Set true to explicitly approve medium/high-risk commands in supervised mode",
				"default":     false,
			},
		},
		"required": []string{"command"},
	}
}

// commandAliases mirrors the forgiving argument-extraction the original
// tool allows, since different callers spell the same argument
// differently.
var commandAliases = []string{"command", "cmd", "script", "shell_command", "command_line", "bash", "sh", "input"}

func extractCommandArgument(args map[string]any) (string, bool) {
	for _, key := range commandAliases {
		if v, ok := args[key]; ok {
			if s, ok := v.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" {
					return s, true
				}
			}
		}
	}
	return "", false
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	command, ok := extractCommandArgument(args)
	if !ok {
		return Result{}, fmt.Errorf("shell: missing 'command' parameter")
	}
	approved, _ := args["approved"].(bool)

	if t.policy.IsRateLimited() {
		return Result{Error: "Rate limit exceeded: too many actions in the last hour"}, nil
	}

	if err := t.policy.ValidateCommandExecution(command, approved); err != nil {
		return Result{Error: err.Error()}, nil
	}

	if path, blocked := t.policy.ForbiddenPathArgument(command); blocked {
		return Result{Error: fmt.Sprintf("Path blocked by security policy: %s", path)}, nil
	}

	if !t.policy.RecordAction() {
		return Result{Error: "Rate limit exceeded: action budget exhausted"}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	cmd, err := t.adapter.BuildShellCommand(runCtx, command, t.policy.WorkspaceRoot)
	if err != nil {
		return Result{Error: fmt.Sprintf("Failed to build runtime command: %v", err)}, nil
	}
	applySafeEnv(cmd, t.policy.ShellEnvPassthrough)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	if runCtx.Err() != nil {
		return Result{Error: fmt.Sprintf("Command timed out after %s and was killed", shellTimeout)}, nil
	}
	if runErr != nil {
		if _, isExit := runErr.(*exec.ExitError); !isExit {
			return Result{Error: fmt.Sprintf("Failed to execute command: %v", runErr)}, nil
		}
	}

	stdout := truncateOutput(stdoutBuf.String(), "output")
	stderr := truncateOutput(stderrBuf.String(), "stderr")

	exitCode := 0
	success := true
	if exitErr, isExit := runErr.(*exec.ExitError); isExit {
		exitCode = exitErr.ExitCode()
		success = false
	}

	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}
	t.detector.Observe(security.AnomalyObservation{
		ProcessID: pid,
		Command:   command,
		Stream:    "stdout+stderr",
		Chunk:     stdout + stderr,
		ExitCode:  &exitCode,
	})

	return Result{Success: success, Output: stdout, Error: stderr}, nil
}

func truncateOutput(s, label string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	boundary := maxOutputBytes
	for boundary > 0 && !utf8RuneStart(s[boundary]) {
		boundary--
	}
	return s[:boundary] + fmt.Sprintf("\n... [%s truncated at 1MB]", label)
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// applySafeEnv clears the child process environment and repopulates it
// with security.SafeEnvVars plus the policy's configured passthrough
// list, so secrets held in this process's own environment never leak
// into a spawned command (CWE-200).
func applySafeEnv(cmd *exec.Cmd, passthrough []string) {
	cmd.Env = nil
	seen := make(map[string]struct{})
	for _, name := range append(append([]string{}, security.SafeEnvVars...), passthrough...) {
		if !security.IsValidEnvVarName(name) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if val, ok := os.LookupEnv(name); ok {
			cmd.Env = append(cmd.Env, name+"="+val)
		}
	}
}
