package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Load resolves the active config directory, reads config.toml from it,
// decrypts its secret fields, and validates the result.
func Load(store *SecretStore) (*Config, error) {
	dir, err := ResolveConfigDir()
	if err != nil {
		return nil, fmt.Errorf("config: resolve config dir: %w", err)
	}
	return LoadFrom(dir, store)
}

// LoadFrom loads config.toml from an explicit directory. It warns (but
// does not fail) when the file is readable by group or others.
func LoadFrom(dir string, store *SecretStore) (*Config, error) {
	path := filepath.Join(dir, configFileName)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: stat %q: %w", path, err)
	}
	if info.Mode().Perm()&0o044 != 0 {
		slog.Warn("config: config.toml is readable by group or others", "path", path, "mode", info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	if err := store.DecryptSecrets(&cfg); err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}

	cfg.WorkspaceDir = dir
	cfg.ConfigPath = path

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save atomically persists cfg to its ConfigPath: serialize to a temp
// file in the same directory, fsync it, back up any existing
// config.toml to .bak, rename the temp file over the target, fsync the
// directory, then remove the backup. On rename failure the backup is
// restored so a crash mid-save never leaves the workspace without a
// usable config.toml.
func Save(cfg *Config, store *SecretStore) error {
	if cfg.ConfigPath == "" {
		return fmt.Errorf("config: cannot save a config with no ConfigPath set")
	}

	encrypted := *cfg
	secretsCopy := cfg.Secrets
	encrypted.Secrets = secretsCopy
	agentsCopy := make([]DelegateAgent, len(cfg.Agents))
	copy(agentsCopy, cfg.Agents)
	encrypted.Agents = agentsCopy

	if err := store.EncryptSecrets(&encrypted); err != nil {
		return fmt.Errorf("config: encrypt secrets before save: %w", err)
	}

	data, err := toml.Marshal(encrypted)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	dir := filepath.Dir(cfg.ConfigPath)
	tmp, err := os.CreateTemp(dir, ".config-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("config: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("config: chmod temp file: %w", err)
	}

	backupPath := cfg.ConfigPath + ".bak"
	hadExisting := false
	if _, err := os.Stat(cfg.ConfigPath); err == nil {
		if err := copyFile(cfg.ConfigPath, backupPath); err != nil {
			return fmt.Errorf("config: back up existing config: %w", err)
		}
		hadExisting = true
	}

	if err := os.Rename(tmpPath, cfg.ConfigPath); err != nil {
		if hadExisting {
			if restoreErr := os.Rename(backupPath, cfg.ConfigPath); restoreErr != nil {
				slog.Error("config: failed to restore backup after failed rename", "error", restoreErr)
			}
		}
		return fmt.Errorf("config: rename temp file into place: %w", err)
	}

	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		dirHandle.Close()
	}

	if hadExisting {
		os.Remove(backupPath)
	}

	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}
