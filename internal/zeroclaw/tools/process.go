package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/zverozabr/zeroclaw/internal/zeroclaw/runtime"
	"github.com/zverozabr/zeroclaw/internal/zeroclaw/security"
)

// processOutputLimit caps how much of stdout/stderr is retained per
// background process stream: 512KiB.
const processOutputLimit = 512 * 1024

// maxConcurrentProcesses bounds how many background processes ProcessTool
// will run at once.
const maxConcurrentProcesses = 8

// outputBuffer is a bounded ring that drains its oldest bytes, at a
// UTF-8-safe boundary, once it exceeds processOutputLimit. dropped tracks
// how many bytes have ever been evicted from the front, so a reader can
// later tell how much of its prior "unseen" window was lost to eviction.
type outputBuffer struct {
	mu      sync.Mutex
	data    []byte
	dropped uint64
}

func (b *outputBuffer) append(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, chunk...)
	if len(b.data) > processOutputLimit {
		excess := len(b.data) - processOutputLimit
		drainTo := excess
		for drainTo < len(b.data) && !utf8RuneStart(b.data[drainTo]) {
			drainTo++
		}
		b.data = b.data[drainTo:]
		b.dropped += uint64(drainTo)
	}
}

func (b *outputBuffer) snapshot() (data []byte, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data = make([]byte, len(b.data))
	copy(data, b.data)
	return data, b.dropped
}

// sliceUnseen returns the portion of current not yet reported against the
// monotonic analyzed offset, then advances analyzed past current's end.
// Because analyzed and dropped are both measured in "bytes ever produced",
// this is safe across eviction: a previously-reported prefix that later got
// evicted is never re-reported, and a prefix dropped before ever being
// analyzed is silently skipped rather than causing a negative slice.
func sliceUnseen(current []byte, dropped uint64, analyzed *uint64) []byte {
	availableEnd := dropped + uint64(len(current))

	var start int
	if *analyzed <= dropped {
		start = 0
	} else {
		start = int(*analyzed - dropped)
		if start > len(current) {
			start = len(current)
		}
	}
	for start < len(current) && !utf8RuneStart(current[start]) {
		start++
	}

	*analyzed = availableEnd
	return current[start:]
}

type processEntry struct {
	id        int
	command   string
	pid       int
	startedAt time.Time
	cmd       *exec.Cmd
	stdoutBuf *outputBuffer
	stderrBuf *outputBuffer

	mu             sync.Mutex
	stdoutAnalyzed uint64
	stderrAnalyzed uint64
	exitCode       int
	exited         bool
}

func (e *processEntry) status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.exited {
		return "running"
	}
	return fmt.Sprintf("exited (%d)", e.exitCode)
}

func (e *processEntry) markExited(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exited = true
	e.exitCode = code
}

func (e *processEntry) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.exited
}

// ProcessTool manages background, long-running commands the 60-second
// ShellTool timeout cannot accommodate: spawn, list, inspect output, and
// kill.
type ProcessTool struct {
	policy   *security.Policy
	adapter  runtime.Adapter
	detector security.SyscallAnomalyDetector

	mu        sync.RWMutex
	processes map[int]*processEntry
	nextID    int
}

// NewProcessTool builds a ProcessTool with no anomaly detector attached.
func NewProcessTool(policy *security.Policy, adapter runtime.Adapter) *ProcessTool {
	return NewProcessToolWithDetector(policy, adapter, security.NoopDetector{})
}

// NewProcessToolWithDetector builds a ProcessTool with an explicit detector.
func NewProcessToolWithDetector(policy *security.Policy, adapter runtime.Adapter, detector security.SyscallAnomalyDetector) *ProcessTool {
	if detector == nil {
		detector = security.NoopDetector{}
	}
	return &ProcessTool{
		policy:    policy,
		adapter:   adapter,
		detector:  detector,
		processes: make(map[int]*processEntry),
	}
}

func (t *ProcessTool) Name() string { return "process" }
func (t *ProcessTool) Description() string {
	return "Manage background processes: spawn long-running commands, check output, and terminate them"
}

func (t *ProcessTool) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"spawn", "list", "output", "kill"},
				"description": "Action to perform: spawn a process, list all, get output, or kill",
			},
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to run in background (required for 'spawn')",
			},
			"id": map[string]any{
				"type":        "integer",
				"description": "Process ID returned by spawn (required for 'output' and 'kill')",
			},
			"approved": map[string]any{
				"type":        "boolean",
				"description": "Approve medium/high-risk commands (for 'spawn')",
				"default":     false,
			},
		},
		"required": []string{"action"},
	}
}

func (t *ProcessTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	action, _ := args["action"].(string)
	switch action {
	case "spawn":
		return t.spawn(ctx, args)
	case "list":
		return t.list()
	case "output":
		return t.output(args)
	case "kill":
		return t.kill(args)
	default:
		return Result{Error: fmt.Sprintf("Unknown action %q. Use: spawn, list, output, kill", action)}, nil
	}
}

func (t *ProcessTool) spawn(ctx context.Context, args map[string]any) (Result, error) {
	if !t.adapter.SupportsLongRunning() {
		return Result{Error: "Runtime does not support long-running processes"}, nil
	}

	command, ok := extractCommandArgument(args)
	if !ok {
		return Result{}, fmt.Errorf("process: missing 'command' parameter for spawn action")
	}
	approved, _ := args["approved"].(bool)

	if t.runningCount() >= maxConcurrentProcesses {
		return Result{Error: fmt.Sprintf("Maximum concurrent processes (%d) reached", maxConcurrentProcesses)}, nil
	}

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

	cmd, err := t.adapter.BuildShellCommand(context.Background(), command, t.policy.WorkspaceRoot)
	if err != nil {
		return Result{Error: fmt.Sprintf("Failed to build runtime command: %v", err)}, nil
	}
	applySafeEnv(cmd, t.policy.ShellEnvPassthrough)
	cmd.Stdin = nil

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Error: fmt.Sprintf("Failed to spawn process: %v", err)}, nil
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{Error: fmt.Sprintf("Failed to spawn process: %v", err)}, nil
	}

	if err := cmd.Start(); err != nil {
		return Result{Error: fmt.Sprintf("Failed to spawn process: %v", err)}, nil
	}

	entry := &processEntry{
		command:   command,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		cmd:       cmd,
		stdoutBuf: &outputBuffer{},
		stderrBuf: &outputBuffer{},
	}

	go readIntoBuffer(stdoutPipe, entry.stdoutBuf)
	go readIntoBuffer(stderrPipe, entry.stderrBuf)
	go func() {
		err := cmd.Wait()
		code := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}
		entry.markExited(code)
	}()

	id := t.register(entry)

	payload, _ := json.Marshal(map[string]any{
		"id":      id,
		"pid":     entry.pid,
		"message": fmt.Sprintf("Process started: %s", command),
	})
	return Result{Success: true, Output: string(payload)}, nil
}

func readIntoBuffer(r io.Reader, buf *outputBuffer) {
	reader := bufio.NewReaderSize(r, 8192)
	chunk := make([]byte, 8192)
	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			buf.append(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

func (t *ProcessTool) register(e *processEntry) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	e.id = id
	t.processes[id] = e
	return id
}

func (t *ProcessTool) runningCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.processes {
		if e.isRunning() {
			n++
		}
	}
	return n
}

func (t *ProcessTool) list() (Result, error) {
	if !t.policy.AllowOperation(security.OpRead, false) {
		return Result{Error: "operation not permitted"}, nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	type row struct {
		ID         int    `json:"id"`
		Command    string `json:"command"`
		PID        int    `json:"pid"`
		Status     string `json:"status"`
		UptimeSecs int64  `json:"uptime_secs"`
	}
	rows := make([]row, 0, len(t.processes))
	for _, e := range t.processes {
		rows = append(rows, row{
			ID:         e.id,
			Command:    e.command,
			PID:        e.pid,
			Status:     e.status(),
			UptimeSecs: int64(time.Since(e.startedAt).Seconds()),
		})
	}
	payload, _ := json.MarshalIndent(rows, "", "  ")
	return Result{Success: true, Output: string(payload)}, nil
}

func (t *ProcessTool) output(args map[string]any) (Result, error) {
	if !t.policy.AllowOperation(security.OpRead, false) {
		return Result{Error: "operation not permitted"}, nil
	}
	id, err := parseProcessID(args)
	if err != nil {
		return Result{}, err
	}

	t.mu.RLock()
	entry, ok := t.processes[id]
	t.mu.RUnlock()
	if !ok {
		return Result{Error: fmt.Sprintf("No process with id %d", id)}, nil
	}

	stdout, stdoutDropped := entry.stdoutBuf.snapshot()
	stderr, stderrDropped := entry.stderrBuf.snapshot()

	entry.mu.Lock()
	stdoutDelta := sliceUnseen(stdout, stdoutDropped, &entry.stdoutAnalyzed)
	stderrDelta := sliceUnseen(stderr, stderrDropped, &entry.stderrAnalyzed)
	entry.mu.Unlock()

	if len(stdoutDelta) > 0 || len(stderrDelta) > 0 {
		t.detector.Observe(security.AnomalyObservation{
			ProcessID: entry.pid,
			Command:   entry.command,
			Stream:    "stdout+stderr",
			Chunk:     string(stdoutDelta) + string(stderrDelta),
		})
	}

	payload, _ := json.Marshal(map[string]any{
		"stdout": string(stdout),
		"stderr": string(stderr),
	})
	return Result{Success: true, Output: string(payload)}, nil
}

func (t *ProcessTool) kill(args map[string]any) (Result, error) {
	if !t.policy.AllowOperation(security.OpAct, false) {
		return Result{Error: "operation not permitted"}, nil
	}
	id, err := parseProcessID(args)
	if err != nil {
		return Result{}, err
	}

	t.mu.RLock()
	entry, ok := t.processes[id]
	t.mu.RUnlock()
	if !ok {
		return Result{Error: fmt.Sprintf("No process with id %d", id)}, nil
	}

	killCmd := exec.Command("kill", strconv.Itoa(entry.pid))
	out, err := killCmd.CombinedOutput()
	if err != nil {
		return Result{Error: fmt.Sprintf("Failed to kill process %d (pid %d): %s", id, entry.pid, string(out))}, nil
	}
	return Result{Success: true, Output: fmt.Sprintf("Sent SIGTERM to process %d (pid %d)", id, entry.pid)}, nil
}

func parseProcessID(args map[string]any) (int, error) {
	raw, ok := args["id"]
	if !ok {
		return 0, fmt.Errorf("process: missing 'id' parameter")
	}
	switch v := raw.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("process: invalid 'id' parameter: %v", err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("process: invalid 'id' parameter")
	}
}
