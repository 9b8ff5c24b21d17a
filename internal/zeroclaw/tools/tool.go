// Package tools implements the agent's own tool surface: shell execution,
// background process management, and WASM module invocation. Each tool is
// gated by a security.Policy and executes through a runtime.Adapter.
package tools

import "context"

// Result is the outcome of one tool invocation.
type Result struct {
	Success bool
	Output  string
	Error   string
}

// Tool is a single callable capability exposed to the agent orchestrator.
type Tool interface {
	Name() string
	Description() string
	ParametersSchema() map[string]any
	Execute(ctx context.Context, args map[string]any) (Result, error)
}
