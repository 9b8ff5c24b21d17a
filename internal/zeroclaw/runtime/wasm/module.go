package wasm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// resolveToolsDir canonicalizes workspaceDir/cfg.ToolsDir, optionally
// rejecting a symlinked directory, and ensures the result is a directory.
func resolveToolsDir(workspaceDir string, cfg Config) (string, error) {
	joined := filepath.Join(workspaceDir, cfg.ToolsDir)
	if cfg.RejectSymlinks {
		if info, err := os.Lstat(joined); err == nil && info.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("wasm: tools_dir %q is a symlink, rejected by policy", joined)
		}
	}
	canon, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", fmt.Errorf("wasm: resolve tools_dir: %w", err)
	}
	info, err := os.Stat(canon)
	if err != nil {
		return "", fmt.Errorf("wasm: stat tools_dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("wasm: tools_dir %q is not a directory", canon)
	}
	return canon, nil
}

// resolveModulePath joins name+".wasm" onto toolsDir, rejects a symlinked
// module file when configured, canonicalizes it, and enforces that the
// result stays under toolsDir, ends in ".wasm", is a regular file, and does
// not exceed MaxModuleSizeMB.
func resolveModulePath(toolsDir, name string, cfg Config) (string, error) {
	candidate := filepath.Join(toolsDir, name+".wasm")

	if cfg.RejectSymlinks {
		if info, err := os.Lstat(candidate); err == nil && info.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("wasm: module path %q is a symlink, rejected by policy", candidate)
		}
	}

	canon, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", fmt.Errorf("wasm: resolve module path: %w", err)
	}

	rel, err := filepath.Rel(toolsDir, canon)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("wasm: module path %q escapes tools_dir %q", canon, toolsDir)
	}
	if !strings.HasSuffix(canon, ".wasm") {
		return "", fmt.Errorf("wasm: module path %q must end in .wasm", canon)
	}

	info, err := os.Stat(canon)
	if err != nil {
		return "", fmt.Errorf("wasm: stat module: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("wasm: module path %q is not a regular file", canon)
	}
	maxBytes := int64(cfg.MaxModuleSizeMB) * 1024 * 1024
	if info.Size() > maxBytes {
		return "", fmt.Errorf("wasm: module %q is %d bytes, exceeds max_module_size_mb=%d", name, info.Size(), cfg.MaxModuleSizeMB)
	}

	return canon, nil
}

// digestModule computes the lowercase hex SHA-256 of module bytes and
// enforces the hash policy against cfg.ModulePins[name].
func digestModule(name string, data []byte, cfg Config) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	pin, pinned := cfg.ModulePins[name]
	switch cfg.HashPolicy {
	case HashEnforce:
		if !pinned {
			return digest, fmt.Errorf("wasm: hash_policy=enforce but no pin configured for module %q", name)
		}
		if !strings.EqualFold(pin, digest) {
			return digest, fmt.Errorf("wasm: module %q digest %s does not match pinned %s", name, digest, pin)
		}
	case HashWarn:
		if pinned && !strings.EqualFold(pin, digest) {
			// Logged by the caller; warn policy never aborts.
			return digest, nil
		}
	case HashDisabled:
		// no check
	}
	return digest, nil
}

// ListModules returns the sorted stems of every *.wasm file directly under
// toolsDir whose name passes ValidateModuleName.
func ListModules(toolsDir string) ([]string, error) {
	entries, err := os.ReadDir(toolsDir)
	if err != nil {
		return nil, fmt.Errorf("wasm: list tools_dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".wasm") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".wasm")
		if ValidateModuleName(stem) != nil {
			continue
		}
		names = append(names, stem)
	}
	sort.Strings(names)
	return names, nil
}
