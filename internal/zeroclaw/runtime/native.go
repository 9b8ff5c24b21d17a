package runtime

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
)

// Native runs commands directly on the host via "sh -c". It imposes no
// sandboxing beyond the SecurityPolicy gates the caller already applied.
// Grounded on original_source/src/runtime/native.rs.
type Native struct{}

// NewNative constructs a Native runtime adapter.
func NewNative() *Native { return &Native{} }

// Name implements Adapter.
func (n *Native) Name() string { return "native" }

// HasShellAccess implements Adapter.
func (n *Native) HasShellAccess() bool { return true }

// HasFilesystemAccess implements Adapter.
func (n *Native) HasFilesystemAccess() bool { return true }

// StoragePath implements Adapter: $HOME/.zeroclaw.
func (n *Native) StoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".zeroclaw")
}

// SupportsLongRunning implements Adapter.
func (n *Native) SupportsLongRunning() bool { return true }

// MemoryBudget implements Adapter: unlimited.
func (n *Native) MemoryBudget() uint64 { return 0 }

// BuildShellCommand implements Adapter.
func (n *Native) BuildShellCommand(ctx context.Context, command, workspaceDir string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workspaceDir
	return cmd, nil
}
