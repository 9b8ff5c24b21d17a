package wasm

import (
	"strings"
	"testing"
)

func baseConfig() Config {
	return Config{
		ToolsDir:        "tools",
		FuelLimit:       100,
		MemoryLimitMB:   16,
		MaxModuleSizeMB: 1,
		Escalation:      EscalationDeny,
		HashPolicy:      HashDisabled,
	}
}

func TestValidateConfigRejectsZeroFuel(t *testing.T) {
	cfg := baseConfig()
	cfg.FuelLimit = 0
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected error for zero fuel_limit")
	}
}

func TestValidateConfigRequiresPinUnderEnforce(t *testing.T) {
	cfg := baseConfig()
	cfg.HashPolicy = HashEnforce
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected error for enforce policy with no pins")
	}
	cfg.ModulePins = map[string]string{"tool": "deadbeef"}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("expected success with a pin present, got %v", err)
	}
}

func TestValidateModuleName(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"my-tool_1", true},
		{"", false},
		{"has space", false},
		{"has/slash", false},
	}
	for _, c := range cases {
		err := ValidateModuleName(c.name)
		if (err == nil) != c.ok {
			t.Errorf("ValidateModuleName(%q) err=%v, want ok=%v", c.name, err, c.ok)
		}
	}
}

// S7 — WASM escalation deny: fuel_override exceeding fuel_limit errors.
func TestEscalationDenyRejectsFuelOverride(t *testing.T) {
	cfg := baseConfig()
	cfg.Escalation = EscalationDeny
	_, _, err := reconcile(cfg, Capabilities{FuelOverride: 101})
	if err == nil {
		t.Fatal("expected error under deny escalation")
	}
	if got := err.Error(); !strings.Contains(got, "fuel_override") {
		t.Errorf("error %q should mention fuel_override", got)
	}
}

// S8 — WASM escalation clamp: effective fuel is clamped to the ceiling.
func TestEscalationClampClampsFuelOverride(t *testing.T) {
	cfg := baseConfig()
	cfg.Escalation = EscalationClamp
	eff, clamped, err := reconcile(cfg, Capabilities{FuelOverride: 101})
	if err != nil {
		t.Fatalf("expected no error under clamp escalation, got %v", err)
	}
	if eff.fuel != cfg.FuelLimit {
		t.Errorf("effective fuel = %d, want %d", eff.fuel, cfg.FuelLimit)
	}
	if len(clamped) == 0 {
		t.Error("expected a clamped-field report")
	}
}

// Invariant 8: effective fuel/memory never exceed the configured ceiling.
func TestEffectiveFuelAndMemoryNeverExceedConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.Escalation = EscalationClamp
	caps := Capabilities{FuelOverride: 1_000_000, MemoryOverrideMB: 4096}
	if got := EffectiveFuel(cfg, caps); got > cfg.FuelLimit {
		t.Errorf("EffectiveFuel() = %d, want <= %d", got, cfg.FuelLimit)
	}
	if got := EffectiveMemoryBytes(cfg, caps); got > uint64(cfg.MemoryLimitMB)*1024*1024 {
		t.Errorf("EffectiveMemoryBytes() = %d, want <= %d", got, uint64(cfg.MemoryLimitMB)*1024*1024)
	}
}
