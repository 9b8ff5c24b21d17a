// Package config defines the workspace configuration schema, its TOML
// persistence, and the SecretStore that protects credential fields at
// rest.
//
// Config is a deeply nested record. workspace_dir and config_path are
// set at load time and deliberately excluded from the serialized form
// (see LoadFrom and the toml:"-" struct tags).
package config

import (
	"fmt"
	"strings"

	"github.com/zverozabr/zeroclaw/internal/zeroclaw/security"
)

// Config is the root workspace configuration.
type Config struct {
	Autonomy      AutonomyConfig      `toml:"autonomy"`
	Runtime       RuntimeConfig       `toml:"runtime"`
	Channels      ChannelsConfig      `toml:"channels"`
	Memory        MemoryConfig        `toml:"memory"`
	Gateway       GatewayConfig       `toml:"gateway"`
	Proxy         ProxyConfig         `toml:"proxy"`
	Secrets       SecretsConfig       `toml:"secrets"`
	Cost          CostConfig          `toml:"cost"`
	Hardware      HardwareConfig      `toml:"hardware"`
	Peripherals   PeripheralsConfig   `toml:"peripherals"`
	Agents         []DelegateAgent        `toml:"agents"`
	Hooks          HooksConfig            `toml:"hooks"`
	Transcription  TranscriptionConfig    `toml:"transcription"`
	Classification ClassificationConfig   `toml:"classification"`

	// WorkspaceDir and ConfigPath are set by LoadFrom, never
	// round-tripped through TOML.
	WorkspaceDir string `toml:"-"`
	ConfigPath   string `toml:"-"`
}

// ClassificationConfig configures the message-hint classifier.
type ClassificationConfig struct {
	Enabled bool                `toml:"enabled"`
	Rules   []ClassificationRule `toml:"rules"`
}

// ClassificationRule maps a keyword/pattern/length match to a hint.
// MinLength and MaxLength are pointers so "unset" is distinguishable from
// a configured zero.
type ClassificationRule struct {
	Hint      string   `toml:"hint"`
	Keywords  []string `toml:"keywords"`
	Patterns  []string `toml:"patterns"`
	Priority  int      `toml:"priority"`
	MinLength *int     `toml:"min_length,omitempty"`
	MaxLength *int     `toml:"max_length,omitempty"`
}

// AutonomyConfig controls how much the agent may do unattended.
type AutonomyConfig struct {
	Level                  string   `toml:"level"` // read_only | supervised | full
	AllowedCommands        []string `toml:"allowed_commands"`
	ForbiddenPaths         []string `toml:"forbidden_paths"`
	AllowedRoots           []string `toml:"allowed_roots"`
	ShellEnvPassthrough    []string `toml:"shell_env_passthrough"`
	AutoApprove            []string `toml:"auto_approve"`
	AlwaysAsk              []string `toml:"always_ask"`
	MaxActionsPerHour      int      `toml:"max_actions_per_hour"`
	BlockHighRiskCommands  bool     `toml:"block_high_risk_commands"`
}

// RuntimeConfig selects and configures the execution substrate.
type RuntimeConfig struct {
	Kind   string       `toml:"kind"` // native | docker | wasm | cloudflare
	Docker DockerConfig `toml:"docker"`
	Wasm   WasmConfig   `toml:"wasm"`
}

// DockerConfig configures the Docker runtime adapter.
type DockerConfig struct {
	Image                 string   `toml:"image"`
	Network               string   `toml:"network"`
	MemoryMB              int      `toml:"memory_mb"`
	CPULimit              float64  `toml:"cpu_limit"`
	ReadOnlyRootfs        bool     `toml:"read_only_rootfs"`
	MountWorkspace        bool     `toml:"mount_workspace"`
	AllowedWorkspaceRoots []string `toml:"allowed_workspace_roots"`
}

// WasmConfig configures the WASM runtime adapter.
type WasmConfig struct {
	ToolsDir                       string            `toml:"tools_dir"`
	FuelLimit                      uint64            `toml:"fuel_limit"`
	MemoryLimitMB                  int               `toml:"memory_limit_mb"`
	MaxModuleSizeMB                int               `toml:"max_module_size_mb"`
	AllowWorkspaceRead             bool              `toml:"allow_workspace_read"`
	AllowWorkspaceWrite            bool              `toml:"allow_workspace_write"`
	AllowedHosts                   []string          `toml:"allowed_hosts"`
	ModulePins                     map[string]string `toml:"module_pins"`
	HashPolicy                     string            `toml:"hash_policy"` // disabled | warn | enforce
	Escalation                     string            `toml:"escalation"`  // deny | clamp
	RejectSymlinkedToolsDir        bool              `toml:"reject_symlinked_tools_dir"`
	RejectSymlinkedModules         bool              `toml:"reject_symlinked_modules"`
	RequireWorkspaceRelativeToolsDir bool            `toml:"require_workspace_relative_tools_dir"`
	StrictHostValidation            bool              `toml:"strict_host_validation"`
}

// ChannelsConfig lists and configures inbound/outbound channels.
type ChannelsConfig struct {
	Primary string       `toml:"primary"`
	Lark    LarkConfig   `toml:"lark"`
	Matrix  MatrixConfig `toml:"matrix"`
	Webhook WebhookCfg   `toml:"webhook"`
}

// LarkConfig configures the Lark/Feishu long-connection channel.
type LarkConfig struct {
	Enabled      bool     `toml:"enabled"`
	AppID        string   `toml:"app_id"`
	AppSecret    string   `toml:"app_secret"`
	Mode         string   `toml:"mode"` // ws | webhook
	AllowedUsers []string `toml:"allowed_users"`
}

// MatrixConfig configures the secondary Matrix channel.
type MatrixConfig struct {
	Enabled     bool     `toml:"enabled"`
	Homeserver  string   `toml:"homeserver"`
	UserID      string   `toml:"user_id"`
	AccessToken string   `toml:"access_token"`
	Rooms       []string `toml:"rooms"`
}

// WebhookCfg configures the generic inbound webhook channel.
type WebhookCfg struct {
	Enabled       bool   `toml:"enabled"`
	Addr          string `toml:"addr"`
	Path          string `toml:"path"`
	Auth          string `toml:"auth"` // bearer | hmac-sha256
	BearerToken   string `toml:"bearer_token"`
	HMACSecret    string `toml:"hmac_secret"`
	ChallengeAuth string `toml:"challenge_auth"`
	RateLimit     int    `toml:"rate_limit"`
}

// MemoryConfig configures session memory persistence.
type MemoryConfig struct {
	StorageDBURL string `toml:"storage_db_url"`
}

// GatewayConfig bounds inbound-event processing rate.
type GatewayConfig struct {
	Host               string `toml:"host"`
	MaxEventsPerMinute int    `toml:"max_events_per_minute"`
}

// ProxyConfig is the process-wide outbound-proxy configuration.
type ProxyConfig struct {
	Scope             string            `toml:"scope"` // environment | zeroclaw | services
	URL               string            `toml:"url"`
	Services          map[string]string `toml:"services"`
	TimeoutSecs       int               `toml:"timeout_secs"`
	ConnectTimeoutSecs int              `toml:"connect_timeout_secs"`
	StrictHostRejection bool            `toml:"strict_host_rejection"`
}

// SecretsConfig holds the top-level credential fields that round-trip
// through the SecretStore.
type SecretsConfig struct {
	APIKey              string `toml:"api_key"`
	ComposioAPIKey      string `toml:"composio_api_key"`
	BrowserComputerUseAPIKey string `toml:"browser_computer_use_api_key"`
	BraveWebSearchKey   string `toml:"brave_web_search_key"`
	NostrPrivateKey     string `toml:"nostr_private_key"`
}

// CostConfig bounds routing model temperature and daily spend.
type CostConfig struct {
	DefaultTemperature float64           `toml:"default_temperature"`
	MaxDailyCostUSD    float64           `toml:"max_daily_cost_usd"`
	Routes             []ClassifierRoute `toml:"routes"`
}

// ClassifierRoute binds a classifier hint to a provider/model pair.
type ClassifierRoute struct {
	Hint     string `toml:"hint"`
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
}

// HardwareConfig describes attached local hardware, informational only.
type HardwareConfig struct {
	Description string `toml:"description"`
}

// PeripheralsConfig describes attached peripheral devices, informational only.
type PeripheralsConfig struct {
	Camera bool `toml:"camera"`
	Mic    bool `toml:"mic"`
}

// DelegateAgent describes a sub-agent this workspace can delegate to.
type DelegateAgent struct {
	Name     string `toml:"name"`
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
}

// HooksConfig lists lifecycle hook commands.
type HooksConfig struct {
	OnStart string `toml:"on_start"`
	OnStop  string `toml:"on_stop"`
}

// TranscriptionConfig configures optional audio transcription.
type TranscriptionConfig struct {
	Enabled  bool   `toml:"enabled"`
	Provider string `toml:"provider"`
}

// secretFields is the closed set of fields the SecretStore encrypts on
// save and decrypts on load. Anything not in this set is treated as
// plain configuration.
func (c *Config) secretFields() []*string {
	fields := []*string{
		&c.Secrets.APIKey,
		&c.Secrets.ComposioAPIKey,
		&c.Secrets.BrowserComputerUseAPIKey,
		&c.Secrets.BraveWebSearchKey,
		&c.Memory.StorageDBURL,
		&c.Secrets.NostrPrivateKey,
	}
	for i := range c.Agents {
		fields = append(fields, &c.Agents[i].APIKey)
	}
	return fields
}

// Validate rejects a config that fails any invariant spelled out for the
// workspace schema and delegates proxy-specific checks to ValidateProxy.
// LoadFrom runs it on the decoded config after secrets are decrypted; no
// environment overrides are applied to the config before it runs.
func Validate(c *Config) error {
	if strings.TrimSpace(c.Gateway.Host) == "" {
		return fmt.Errorf("config: gateway.host must not be empty")
	}
	if c.Autonomy.MaxActionsPerHour == 0 {
		return fmt.Errorf("config: autonomy.max_actions_per_hour must be non-zero")
	}
	if c.Gateway.MaxEventsPerMinute == 0 {
		return fmt.Errorf("config: gateway.max_events_per_minute must be non-zero")
	}
	if c.Cost.DefaultTemperature < 0 || c.Cost.DefaultTemperature > 2 {
		return fmt.Errorf("config: cost.default_temperature must be within [0, 2], got %v", c.Cost.DefaultTemperature)
	}
	for _, name := range c.Autonomy.ShellEnvPassthrough {
		if !security.IsValidEnvVarName(name) {
			return fmt.Errorf("config: autonomy.shell_env_passthrough contains invalid env var name %q", name)
		}
	}
	for i, route := range c.Cost.Routes {
		if strings.TrimSpace(route.Hint) == "" || strings.TrimSpace(route.Provider) == "" || strings.TrimSpace(route.Model) == "" {
			return fmt.Errorf("config: cost.routes[%d]: hint, provider, and model must all be non-empty", i)
		}
		if err := validateOllamaCloudRoute(route); err != nil {
			return fmt.Errorf("config: cost.routes[%d]: %w", i, err)
		}
	}
	if err := ValidateProxy(&c.Proxy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// validateOllamaCloudRoute rejects every route whose provider is "ollama"
// (case-insensitive) and whose model ends in ":cloud". No endpoint or
// credential setting is consulted, so such a route is rejected even when a
// cloud endpoint and credential are configured.
func validateOllamaCloudRoute(route ClassifierRoute) error {
	if !strings.EqualFold(route.Provider, "ollama") {
		return nil
	}
	if !strings.HasSuffix(route.Model, ":cloud") {
		return nil
	}
	return fmt.Errorf("route %q uses ollama provider with a :cloud model tag; this requires a configured cloud endpoint and credential", route.Hint)
}
