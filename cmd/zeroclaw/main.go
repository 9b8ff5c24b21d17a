// Command zeroclaw is the agent runtime entrypoint: it loads the workspace
// config, wires the security policy, runtime adapter, tool surface, and
// channel adapters together, and dispatches a small set of operator
// subcommands (run, onboard, integrations).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zverozabr/zeroclaw/common/crypto"
	"github.com/zverozabr/zeroclaw/internal/zeroclaw/audit"
	"github.com/zverozabr/zeroclaw/internal/zeroclaw/channel"
	"github.com/zverozabr/zeroclaw/internal/zeroclaw/channel/lark"
	"github.com/zverozabr/zeroclaw/internal/zeroclaw/config"
	"github.com/zverozabr/zeroclaw/internal/zeroclaw/integrations"
	"github.com/zverozabr/zeroclaw/internal/zeroclaw/observability"
	"github.com/zverozabr/zeroclaw/internal/zeroclaw/onboard"
	"github.com/zverozabr/zeroclaw/internal/zeroclaw/runtime"
	"github.com/zverozabr/zeroclaw/internal/zeroclaw/runtime/wasm"
	"github.com/zverozabr/zeroclaw/internal/zeroclaw/security"
	"github.com/zverozabr/zeroclaw/internal/zeroclaw/tools"
)

func main() {
	observability.Setup(os.Getenv("ZEROCLAW_LOG_LEVEL"), os.Getenv("ZEROCLAW_LOG_FORMAT"))

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: zeroclaw <run|onboard|integrations> [args...]")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runAgent()
	case "onboard":
		err = runOnboard(os.Args[2:])
	case "integrations":
		err = runIntegrations(os.Args[2:])
	default:
		err = fmt.Errorf("unknown subcommand %q (want run, onboard, or integrations)", os.Args[1])
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "zeroclaw:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	key, err := crypto.LoadMasterKey()
	if err != nil {
		return nil, fmt.Errorf("load master key: %w", err)
	}
	store, err := config.NewSecretStore(key)
	if err != nil {
		return nil, fmt.Errorf("build secret store: %w", err)
	}
	cfg, err := config.Load(store)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runOnboard(args []string) error {
	workspaceRoot := "."
	if len(args) > 0 {
		workspaceRoot = args[0]
	}
	vars := onboard.Vars{
		AgentName:      "zeroclaw",
		DisplayName:    "Zeroclaw",
		OperatorName:   os.Getenv("USER"),
		PrimaryChannel: "lark",
		RuntimeKind:    string(runtime.KindNative),
		ToolsDir:       "tools",
		Autonomy:       string(security.AutonomySupervised),
	}
	return onboard.Scaffold(workspaceRoot, "default", vars)
}

func runIntegrations(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return integrations.RunCLI(args, cfg, os.Stdout)
}

func runAgent() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	policy := security.New(security.Autonomy(cfg.Autonomy.Level), cfg.WorkspaceDir)

	adapter, err := buildRuntimeAdapter(cfg)
	if err != nil {
		return fmt.Errorf("build runtime adapter: %w", err)
	}

	detector := security.NoopDetector{}
	toolRegistry := []tools.Tool{
		tools.NewShellToolWithDetector(policy, adapter, detector),
		tools.NewProcessToolWithDetector(policy, adapter, detector),
	}
	if _, ok := adapter.(*wasm.Runtime); ok {
		toolRegistry = append(toolRegistry, tools.NewWasmModuleTool(policy, adapter))
	}
	slog.Info("zeroclaw: runtime adapter ready", "kind", adapter.Name(), "tools", len(toolRegistry))

	auditLog := audit.NewLogger(os.Stdout)

	channels, err := buildChannels(cfg)
	if err != nil {
		return fmt.Errorf("build channels: %w", err)
	}
	if len(channels) == 0 {
		return fmt.Errorf("no channel is enabled in channels config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out := make(chan channel.Message, 64)
	for _, ch := range channels {
		go func() {
			if err := ch.Start(ctx, out); err != nil && ctx.Err() == nil {
				slog.Error("zeroclaw: channel stopped", "channel", ch.Name(), "error", err)
			}
		}()
		defer ch.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-out:
			auditLog.Record(audit.Event{
				Time:      time.Now(),
				Tool:      "channel",
				Operation: "message_received",
				Decision:  audit.DecisionAllow,
				Reason:    fmt.Sprintf("%s on %s", msg.Sender, msg.Channel),
				TraceID:   msg.ID,
			})
			slog.Info("zeroclaw: message received", "channel", msg.Channel, "sender", msg.Sender, "id", msg.ID)
		}
	}
}

// buildRuntimeAdapter selects the configured execution substrate. Cloudflare
// is a catalog entry (see integrations.AllIntegrations) with no Go adapter
// of its own; selecting it here is rejected rather than silently falling
// back to native.
func buildRuntimeAdapter(cfg *config.Config) (runtime.Adapter, error) {
	switch runtime.Kind(cfg.Runtime.Kind) {
	case runtime.KindDocker:
		return runtime.NewDocker(runtime.DockerConfig{
			Image:                 cfg.Runtime.Docker.Image,
			Network:               cfg.Runtime.Docker.Network,
			MemoryMB:              cfg.Runtime.Docker.MemoryMB,
			CPULimit:              cfg.Runtime.Docker.CPULimit,
			ReadOnlyRootfs:        cfg.Runtime.Docker.ReadOnlyRootfs,
			MountWorkspace:        cfg.Runtime.Docker.MountWorkspace,
			AllowedWorkspaceRoots: cfg.Runtime.Docker.AllowedWorkspaceRoots,
		}), nil
	case runtime.KindWasm:
		return wasm.New(wasm.Config{
			ToolsDir:                         cfg.Runtime.Wasm.ToolsDir,
			FuelLimit:                        cfg.Runtime.Wasm.FuelLimit,
			MemoryLimitMB:                    cfg.Runtime.Wasm.MemoryLimitMB,
			MaxModuleSizeMB:                  cfg.Runtime.Wasm.MaxModuleSizeMB,
			AllowWorkspaceRead:               cfg.Runtime.Wasm.AllowWorkspaceRead,
			AllowWorkspaceWrite:              cfg.Runtime.Wasm.AllowWorkspaceWrite,
			AllowedHosts:                     cfg.Runtime.Wasm.AllowedHosts,
			ModulePins:                       cfg.Runtime.Wasm.ModulePins,
			HashPolicy:                       wasm.HashPolicy(cfg.Runtime.Wasm.HashPolicy),
			Escalation:                       wasm.EscalationMode(cfg.Runtime.Wasm.Escalation),
			RejectSymlinks:                   cfg.Runtime.Wasm.RejectSymlinkedToolsDir || cfg.Runtime.Wasm.RejectSymlinkedModules,
			RequireWorkspaceRelativeToolsDir: cfg.Runtime.Wasm.RequireWorkspaceRelativeToolsDir,
			StrictHostValidation:             cfg.Runtime.Wasm.StrictHostValidation,
		}, cfg.WorkspaceDir)
	case runtime.KindNative, "":
		return runtime.NewNative(), nil
	default:
		return nil, fmt.Errorf("unsupported runtime.kind %q", cfg.Runtime.Kind)
	}
}

func buildChannels(cfg *config.Config) ([]channel.Channel, error) {
	var channels []channel.Channel

	if cfg.Channels.Lark.Enabled {
		mode := lark.ReceiveModeWebSocket
		if cfg.Channels.Lark.Mode == "webhook" {
			mode = lark.ReceiveModeWebhook
		}
		channels = append(channels, lark.New(lark.Config{
			AppID:        cfg.Channels.Lark.AppID,
			AppSecret:    cfg.Channels.Lark.AppSecret,
			ReceiveMode:  mode,
			AllowedUsers: cfg.Channels.Lark.AllowedUsers,
		}))
	}

	if cfg.Channels.Matrix.Enabled {
		m, err := channel.NewMatrix(channel.MatrixConfig{
			Homeserver:  cfg.Channels.Matrix.Homeserver,
			UserID:      cfg.Channels.Matrix.UserID,
			AccessToken: cfg.Channels.Matrix.AccessToken,
			Rooms:       cfg.Channels.Matrix.Rooms,
		})
		if err != nil {
			return nil, fmt.Errorf("matrix channel: %w", err)
		}
		channels = append(channels, m)
	}

	if cfg.Channels.Webhook.Enabled {
		channels = append(channels, channel.NewWebhook(channel.WebhookConfig{
			Addr:          cfg.Channels.Webhook.Addr,
			Path:          cfg.Channels.Webhook.Path,
			Auth:          channel.WebhookAuth(cfg.Channels.Webhook.Auth),
			BearerToken:   cfg.Channels.Webhook.BearerToken,
			HMACSecret:    []byte(cfg.Channels.Webhook.HMACSecret),
			ChallengeAuth: cfg.Channels.Webhook.ChallengeAuth,
			RateLimit:     cfg.Channels.Webhook.RateLimit,
		}))
	}

	return channels, nil
}
