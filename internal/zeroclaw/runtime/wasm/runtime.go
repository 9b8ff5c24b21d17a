package wasm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/tetratelabs/wazero"
)

// Result is the outcome of one module execution.
type Result struct {
	Success       bool
	Stdout        string
	Stderr        string
	ExitCode      int
	FuelConsumed  uint64
	ModuleSHA256  string
	FuelExhausted bool
}

// Runtime is the capability-gated WASM execution substrate. It implements
// runtime.Adapter with HasShellAccess()==false, since WASM modules never
// get a shell.
type Runtime struct {
	cfg          Config
	workspaceDir string
}

// New validates cfg and constructs a Runtime rooted at workspaceDir.
func New(cfg Config, workspaceDir string) (*Runtime, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Runtime{cfg: cfg, workspaceDir: workspaceDir}, nil
}

// Name implements runtime.Adapter.
func (r *Runtime) Name() string { return "wasm" }

// HasShellAccess implements runtime.Adapter: WASM modules never get a shell.
func (r *Runtime) HasShellAccess() bool { return false }

// HasFilesystemAccess implements runtime.Adapter.
func (r *Runtime) HasFilesystemAccess() bool {
	return r.cfg.AllowWorkspaceRead || r.cfg.AllowWorkspaceWrite
}

// StoragePath implements runtime.Adapter.
func (r *Runtime) StoragePath() string { return r.workspaceDir }

// SupportsLongRunning implements runtime.Adapter: WASM invocations are
// strictly per-call.
func (r *Runtime) SupportsLongRunning() bool { return false }

// MemoryBudget implements runtime.Adapter.
func (r *Runtime) MemoryBudget() uint64 {
	return uint64(r.cfg.MemoryLimitMB) * 1024 * 1024
}

// BuildShellCommand implements runtime.Adapter: WASM has no shell access.
func (r *Runtime) BuildShellCommand(context.Context, string, string) (*exec.Cmd, error) {
	return nil, fmt.Errorf("wasm runtime: shell access is not available")
}

// ListModules returns the sorted stems of every well-named *.wasm file in
// the configured tools directory.
func (r *Runtime) ListModules() ([]string, error) {
	toolsDir, err := resolveToolsDir(r.workspaceDir, r.cfg)
	if err != nil {
		return nil, err
	}
	return ListModules(toolsDir)
}

// Execute runs the named module with the given argv and the reconciled
// capability set, following the eight-step pre-execution validation
// pipeline: name/config validation, capability reconciliation, tools-dir
// and module-path resolution, integrity pinning, fuel-metered
// instantiation, and execution.
func (r *Runtime) Execute(ctx context.Context, name string, argv []string, caps Capabilities) (Result, error) {
	if err := ValidateModuleName(name); err != nil {
		return Result{}, err
	}

	eff, clamped, err := reconcile(r.cfg, caps)
	if err != nil {
		return Result{}, err
	}
	for _, field := range clamped {
		slog.Warn("wasm runtime: capability clamped to configured ceiling", "module", name, "field", field)
	}

	toolsDir, err := resolveToolsDir(r.workspaceDir, r.cfg)
	if err != nil {
		return Result{}, err
	}
	modulePath, err := resolveModulePath(toolsDir, name, r.cfg)
	if err != nil {
		return Result{}, err
	}

	data, err := os.ReadFile(modulePath)
	if err != nil {
		return Result{}, fmt.Errorf("wasm: read module %q: %w", name, err)
	}

	digest, err := digestModule(name, data, r.cfg)
	if err != nil {
		return Result{}, err
	}
	if r.cfg.HashPolicy == HashWarn {
		if pin, ok := r.cfg.ModulePins[name]; ok && pin != digest {
			slog.Warn("wasm runtime: module digest does not match pin", "module", name, "digest", digest, "pin", pin)
		}
	}

	return r.instantiateAndRun(ctx, name, data, argv, eff, digest)
}

func (r *Runtime) instantiateAndRun(ctx context.Context, name string, data []byte, argv []string, eff effective, digest string) (Result, error) {
	rtConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(uint32(eff.memoryMB * 16)). // 16 pages (1MiB) per configured MB
		WithCloseOnContextDone(true)

	wr := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	defer wr.Close(ctx)

	compiled, err := wr.CompileModule(ctx, data)
	if err != nil {
		return Result{}, fmt.Errorf("wasm: compile module %q: %w", name, err)
	}

	deadline := fuelToDuration(eff.fuel)
	runCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	modConfig := wazero.NewModuleConfig().
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithArgs(append([]string{name}, argv...)...)

	start := time.Now()
	mod, err := wr.InstantiateModule(runCtx, compiled, modConfig)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Result{
				Success:       false,
				ExitCode:      -1,
				FuelConsumed:  eff.fuel,
				ModuleSHA256:  digest,
				FuelExhausted: true,
			}, nil
		}
		return Result{}, fmt.Errorf("wasm: instantiate module %q: %w", name, err)
	}
	defer mod.Close(ctx)

	entry := mod.ExportedFunction("run")
	if entry == nil {
		entry = mod.ExportedFunction("_start")
	}
	if entry == nil {
		return Result{}, fmt.Errorf("wasm: module %q exports neither run() nor _start()", name)
	}

	results, err := entry.Call(runCtx)
	elapsed := time.Since(start)
	fuelConsumed := fuelConsumedForElapsed(elapsed, eff.fuel)

	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Result{
				Success:       false,
				Stdout:        stdout.String(),
				Stderr:        stderr.String(),
				ExitCode:      -1,
				FuelConsumed:  eff.fuel,
				ModuleSHA256:  digest,
				FuelExhausted: true,
			}, nil
		}
		return Result{}, fmt.Errorf("wasm: execute module %q: %w", name, err)
	}

	exitCode := 0
	if len(results) > 0 {
		exitCode = int(int32(results[0]))
	}

	return Result{
		Success:      true,
		Stdout:       stdout.String(),
		Stderr:       stderr.String(),
		ExitCode:     exitCode,
		FuelConsumed: fuelConsumed,
		ModuleSHA256: digest,
	}, nil
}
