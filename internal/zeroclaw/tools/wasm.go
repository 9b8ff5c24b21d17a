package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zverozabr/zeroclaw/internal/zeroclaw/runtime"
	"github.com/zverozabr/zeroclaw/internal/zeroclaw/runtime/wasm"
	"github.com/zverozabr/zeroclaw/internal/zeroclaw/security"
)

// WasmModuleTool lists and executes sandboxed WASM modules from the
// runtime's configured tools directory. It is only functional when the
// configured runtime.Adapter is a *wasm.Runtime; any other adapter makes
// it report itself unavailable rather than erroring.
type WasmModuleTool struct {
	policy  *security.Policy
	adapter runtime.Adapter
}

// NewWasmModuleTool builds a WasmModuleTool over adapter. adapter need not
// be a *wasm.Runtime; Execute degrades gracefully when it isn't.
func NewWasmModuleTool(policy *security.Policy, adapter runtime.Adapter) *WasmModuleTool {
	return &WasmModuleTool{policy: policy, adapter: adapter}
}

func (t *WasmModuleTool) Name() string { return "wasm_module" }
func (t *WasmModuleTool) Description() string {
	return "List or execute sandboxed WASM modules from runtime.wasm.tools_dir"
}

func (t *WasmModuleTool) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"list", "run"},
				"description": "Action to perform: list modules or run a module",
			},
			"module": map[string]any{
				"type":        "string",
				"description": "WASM module name (without .wasm extension), required when action=run",
			},
			"read_workspace": map[string]any{
				"type":        "boolean",
				"description": "Request read_workspace capability (must be allowed by runtime policy)",
			},
			"write_workspace": map[string]any{
				"type":        "boolean",
				"description": "Request write_workspace capability (must be allowed by runtime policy)",
			},
			"allowed_hosts": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Requested host allowlist subset for this invocation",
			},
			"fuel_override": map[string]any{
				"type":        "integer",
				"minimum":     0,
				"description": "Optional fuel override; cannot exceed runtime.wasm.fuel_limit",
			},
			"memory_override_mb": map[string]any{
				"type":        "integer",
				"minimum":     0,
				"description": "Optional memory override in MB; cannot exceed runtime.wasm.memory_limit_mb",
			},
		},
		"required": []string{"action"},
	}
}

func (t *WasmModuleTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	action, ok := args["action"].(string)
	if !ok || action == "" {
		return Result{}, fmt.Errorf("wasm_module: missing 'action' parameter")
	}

	if t.policy.IsRateLimited() {
		return Result{Error: "Rate limit exceeded: too many actions in the last hour"}, nil
	}
	if !t.policy.RecordAction() {
		return Result{Error: "Rate limit exceeded: action budget exhausted"}, nil
	}

	rt, ok := t.adapter.(*wasm.Runtime)
	if !ok {
		return Result{Error: `wasm_module tool is only available when runtime.kind = "wasm"`}, nil
	}

	switch action {
	case "list":
		return t.list(rt)
	case "run":
		return t.run(ctx, rt, args)
	default:
		return Result{Error: fmt.Sprintf("Unsupported action %q. Use 'list' or 'run'.", action)}, nil
	}
}

func (t *WasmModuleTool) list(rt *wasm.Runtime) (Result, error) {
	modules, err := rt.ListModules()
	if err != nil {
		return Result{Error: err.Error()}, nil
	}
	payload, _ := json.MarshalIndent(map[string]any{"modules": modules}, "", "  ")
	return Result{Success: true, Output: string(payload)}, nil
}

func (t *WasmModuleTool) run(ctx context.Context, rt *wasm.Runtime, args map[string]any) (Result, error) {
	module, ok := args["module"].(string)
	if !ok || module == "" {
		return Result{}, fmt.Errorf("wasm_module: missing 'module' parameter for action=run")
	}

	caps, err := parseCapabilities(args)
	if err != nil {
		return Result{}, err
	}

	result, err := rt.Execute(ctx, module, nil, caps)
	if err != nil {
		return Result{Error: err.Error()}, nil
	}

	payload, _ := json.MarshalIndent(map[string]any{
		"module":        module,
		"module_sha256": result.ModuleSHA256,
		"exit_code":     result.ExitCode,
		"fuel_consumed": result.FuelConsumed,
		"stdout":        result.Stdout,
		"stderr":        result.Stderr,
	}, "", "  ")

	success := result.ExitCode == 0
	errMsg := ""
	if !success {
		if result.Stderr != "" {
			errMsg = result.Stderr
		} else if result.FuelExhausted {
			errMsg = "WASM module ran out of fuel before completing"
		} else {
			errMsg = fmt.Sprintf("WASM module exited with code %d", result.ExitCode)
		}
	}

	return Result{Success: success, Output: string(payload), Error: errMsg}, nil
}

func parseCapabilities(args map[string]any) (wasm.Capabilities, error) {
	var caps wasm.Capabilities

	if v, ok := args["read_workspace"].(bool); ok {
		caps.ReadWorkspace = &v
	}
	if v, ok := args["write_workspace"].(bool); ok {
		caps.WriteWorkspace = &v
	}
	if v, ok := args["fuel_override"]; ok {
		n, err := asUint64(v)
		if err != nil {
			return wasm.Capabilities{}, fmt.Errorf("wasm_module: invalid 'fuel_override': %w", err)
		}
		caps.FuelOverride = n
	}
	if v, ok := args["memory_override_mb"]; ok {
		n, err := asUint64(v)
		if err != nil {
			return wasm.Capabilities{}, fmt.Errorf("wasm_module: invalid 'memory_override_mb': %w", err)
		}
		caps.MemoryOverrideMB = int(n)
	}
	if v, ok := args["allowed_hosts"]; ok {
		raw, ok := v.([]any)
		if !ok {
			return wasm.Capabilities{}, fmt.Errorf("wasm_module: 'allowed_hosts' must be an array of strings")
		}
		for _, entry := range raw {
			host, ok := entry.(string)
			if !ok {
				return wasm.Capabilities{}, fmt.Errorf("wasm_module: 'allowed_hosts' must be an array of strings")
			}
			host = strings.TrimSpace(host)
			if host != "" {
				caps.AllowedHosts = append(caps.AllowedHosts, host)
			}
		}
	}
	return caps, nil
}

func asUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, fmt.Errorf("must be non-negative")
		}
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("must be non-negative")
		}
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("must be a number")
	}
}
