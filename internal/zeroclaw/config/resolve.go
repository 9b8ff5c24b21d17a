package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const (
	// EnvConfigDir names a directory that directly holds config.toml.
	EnvConfigDir = "ZEROCLAW_CONFIG_DIR"
	// EnvWorkspaceRoot names a workspace root to search for config.toml,
	// falling back to a sibling .zeroclaw directory.
	EnvWorkspaceRoot = "ZEROCLAW_WORKSPACE_ROOT"

	activeWorkspaceMarker = "active_workspace.toml"
	configFileName        = "config.toml"
	defaultConfigDirName  = ".zeroclaw"
)

type activeWorkspace struct {
	ConfigDir string `toml:"config_dir"`
}

// ResolveConfigDir determines which directory holds this process's
// config.toml, honoring the resolution order exactly: env override naming
// a config dir, env override naming a workspace root, an
// active_workspace.toml marker in the default config dir, then the
// default config dir itself.
func ResolveConfigDir() (string, error) {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir, nil
	}

	if root := os.Getenv(EnvWorkspaceRoot); root != "" {
		if _, err := os.Stat(filepath.Join(root, configFileName)); err == nil {
			return root, nil
		}
		return filepath.Join(filepath.Dir(root), defaultConfigDirName), nil
	}

	defaultDir, err := defaultConfigDir()
	if err != nil {
		return "", err
	}

	markerPath := filepath.Join(defaultDir, activeWorkspaceMarker)
	if data, err := os.ReadFile(markerPath); err == nil {
		var marker activeWorkspace
		if err := toml.Unmarshal(data, &marker); err == nil && marker.ConfigDir != "" {
			return marker.ConfigDir, nil
		}
	}

	return defaultDir, nil
}

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, defaultConfigDirName), nil
}
