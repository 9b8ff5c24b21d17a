// Package wasm implements the capability-gated WASM runtime adapter: a
// pure-Go, fuel-metered, module-integrity-pinned execution substrate built
// on github.com/tetratelabs/wazero. Grounded on
// original_source/src/runtime/wasm.rs; wazero is the natural Go analogue
// of the Rust interpreter the original embeds (no cgo, clean embedding API).
package wasm

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// HashPolicy governs how module SHA-256 pins are enforced.
type HashPolicy string

const (
	HashDisabled HashPolicy = "disabled"
	HashWarn     HashPolicy = "warn"
	HashEnforce  HashPolicy = "enforce"
)

// EscalationMode governs how a run request's capability overrides are
// reconciled against the configured ceiling.
type EscalationMode string

const (
	EscalationDeny  EscalationMode = "deny"
	EscalationClamp EscalationMode = "clamp"
)

// fuelSafetyCeiling bounds FuelLimit regardless of what config requests, to
// keep a single module from monopolizing the process indefinitely.
const fuelSafetyCeiling = 1_000_000_000_000

// maxMemoryLimitMB bounds MemoryLimitMB to the same 4 GiB ceiling wazero's
// own 32-bit linear memory imposes.
const maxMemoryLimitMB = 4096

// Config is the WASM runtime's static, operator-set configuration.
type Config struct {
	ToolsDir                         string
	FuelLimit                        uint64
	MemoryLimitMB                    int
	MaxModuleSizeMB                  int
	AllowWorkspaceRead               bool
	AllowWorkspaceWrite              bool
	AllowedHosts                     []string
	ModulePins                       map[string]string // module name -> lowercase hex SHA-256
	HashPolicy                       HashPolicy
	Escalation                       EscalationMode
	RejectSymlinks                   bool
	RequireWorkspaceRelativeToolsDir bool
	StrictHostValidation             bool
}

var moduleNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateConfig enforces the static invariants every WASM runtime instance
// must satisfy before it can execute anything.
func ValidateConfig(cfg Config) error {
	if cfg.FuelLimit == 0 || cfg.FuelLimit > fuelSafetyCeiling {
		return fmt.Errorf("wasm config: fuel_limit must be in (0, %d]", fuelSafetyCeiling)
	}
	if cfg.MemoryLimitMB <= 0 || cfg.MemoryLimitMB > maxMemoryLimitMB {
		return fmt.Errorf("wasm config: memory_limit_mb must be in (0, %d]", maxMemoryLimitMB)
	}
	if cfg.MaxModuleSizeMB <= 0 {
		return fmt.Errorf("wasm config: max_module_size_mb must be > 0")
	}
	if cfg.ToolsDir == "" {
		return fmt.Errorf("wasm config: tools_dir must not be empty")
	}
	if cfg.RequireWorkspaceRelativeToolsDir {
		if strings.HasPrefix(cfg.ToolsDir, "/") {
			return fmt.Errorf("wasm config: tools_dir must be workspace-relative, got absolute path %q", cfg.ToolsDir)
		}
		if hasParentComponent(cfg.ToolsDir) {
			return fmt.Errorf("wasm config: tools_dir must not contain parent directory components: %q", cfg.ToolsDir)
		}
	}
	for _, host := range cfg.AllowedHosts {
		if _, err := normalizeHost(host); err != nil {
			return fmt.Errorf("wasm config: invalid allowed_hosts entry %q: %w", host, err)
		}
	}
	if cfg.HashPolicy == HashEnforce && len(cfg.ModulePins) == 0 {
		return fmt.Errorf("wasm config: hash_policy=enforce requires at least one module pin")
	}
	return nil
}

// ValidateModuleName enforces the module-name charset and length limit.
func ValidateModuleName(name string) error {
	if name == "" {
		return fmt.Errorf("wasm module name must not be empty")
	}
	if len(name) > 128 {
		return fmt.Errorf("wasm module name exceeds 128 bytes: %q", name)
	}
	if !moduleNamePattern.MatchString(name) {
		return fmt.Errorf("wasm module name %q contains characters outside [A-Za-z0-9_-]", name)
	}
	return nil
}

func hasParentComponent(p string) bool {
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

// normalizeHost validates a host or host:port entry: no wildcards, no
// scheme, and a structurally valid host/port split when a port is present.
func normalizeHost(host string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return "", fmt.Errorf("empty host")
	}
	if strings.Contains(h, "*") {
		return "", fmt.Errorf("wildcards are not permitted")
	}
	if strings.Contains(h, "://") {
		return "", fmt.Errorf("host must not include a scheme")
	}
	if strings.Contains(h, ":") {
		if _, _, err := net.SplitHostPort(h); err != nil {
			return "", fmt.Errorf("invalid host:port: %w", err)
		}
	}
	return h, nil
}

// Capabilities is a run request's requested capability overrides. Zero
// values mean "use the config default."
type Capabilities struct {
	ReadWorkspace    *bool
	WriteWorkspace   *bool
	AllowedHosts     []string
	FuelOverride     uint64
	MemoryOverrideMB int
}

// effective is the reconciled capability set a single Execute call runs
// under, after deny/clamp reconciliation against Config.
type effective struct {
	readWorkspace  bool
	writeWorkspace bool
	allowedHosts   map[string]struct{}
	fuel           uint64
	memoryMB       int
}

// reconcile applies caps against cfg under cfg.Escalation. deny rejects any
// capability exceeding the configured ceiling; clamp intersects and
// reports which fields were clamped.
func reconcile(cfg Config, caps Capabilities) (effective, []string, error) {
	eff := effective{
		readWorkspace:  cfg.AllowWorkspaceRead,
		writeWorkspace: cfg.AllowWorkspaceWrite,
		fuel:           cfg.FuelLimit,
		memoryMB:       cfg.MemoryLimitMB,
		allowedHosts:   map[string]struct{}{},
	}
	for _, h := range cfg.AllowedHosts {
		norm, err := normalizeHost(h)
		if err != nil {
			continue
		}
		eff.allowedHosts[norm] = struct{}{}
	}

	var clamped []string

	if caps.ReadWorkspace != nil && *caps.ReadWorkspace && !cfg.AllowWorkspaceRead {
		if cfg.Escalation == EscalationDeny {
			return effective{}, nil, fmt.Errorf("wasm: read_workspace exceeds configured capability")
		}
		clamped = append(clamped, "read_workspace")
	}
	if caps.WriteWorkspace != nil && *caps.WriteWorkspace && !cfg.AllowWorkspaceWrite {
		if cfg.Escalation == EscalationDeny {
			return effective{}, nil, fmt.Errorf("wasm: write_workspace exceeds configured capability")
		}
		clamped = append(clamped, "write_workspace")
	}

	if caps.FuelOverride > 0 {
		if caps.FuelOverride > cfg.FuelLimit {
			if cfg.Escalation == EscalationDeny {
				return effective{}, nil, fmt.Errorf("wasm: fuel_override %d exceeds configured fuel_limit %d", caps.FuelOverride, cfg.FuelLimit)
			}
			clamped = append(clamped, "fuel_override")
		} else {
			eff.fuel = caps.FuelOverride
		}
	}

	if caps.MemoryOverrideMB > 0 {
		if caps.MemoryOverrideMB > cfg.MemoryLimitMB {
			if cfg.Escalation == EscalationDeny {
				return effective{}, nil, fmt.Errorf("wasm: memory_override_mb %d exceeds configured memory_limit_mb %d", caps.MemoryOverrideMB, cfg.MemoryLimitMB)
			}
			clamped = append(clamped, "memory_override_mb")
		} else {
			eff.memoryMB = caps.MemoryOverrideMB
		}
	}

	for _, h := range caps.AllowedHosts {
		norm, err := normalizeHost(h)
		if err != nil {
			if cfg.Escalation == EscalationDeny {
				return effective{}, nil, fmt.Errorf("wasm: invalid allowed_hosts override %q: %w", h, err)
			}
			continue
		}
		if _, ok := eff.allowedHosts[norm]; !ok {
			if cfg.Escalation == EscalationDeny {
				return effective{}, nil, fmt.Errorf("wasm: allowed_hosts override %q exceeds configured host set", norm)
			}
			clamped = append(clamped, "allowed_hosts")
			continue
		}
	}

	return eff, clamped, nil
}

// EffectiveFuel exposes the reconciled fuel budget for a capability request,
// always bounded by Config.FuelLimit.
func EffectiveFuel(cfg Config, caps Capabilities) uint64 {
	eff, _, err := reconcile(cfg, caps)
	if err != nil {
		return cfg.FuelLimit
	}
	return eff.fuel
}

// EffectiveMemoryBytes exposes the reconciled memory ceiling in bytes.
func EffectiveMemoryBytes(cfg Config, caps Capabilities) uint64 {
	eff, _, err := reconcile(cfg, caps)
	if err != nil {
		return uint64(cfg.MemoryLimitMB) * 1024 * 1024
	}
	return uint64(eff.memoryMB) * 1024 * 1024
}
