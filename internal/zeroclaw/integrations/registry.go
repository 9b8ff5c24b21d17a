// Package integrations catalogs every channel, provider, and tool the
// runtime knows how to talk to, and reports per-entry status against a
// loaded config.Config so an operator can see at a glance what is wired up,
// what is available but unconfigured, and what is still on the roadmap.
package integrations

import (
	"strings"

	"github.com/zverozabr/zeroclaw/internal/zeroclaw/config"
)

// Status is where an integration stands relative to the running config.
type Status int

const (
	// StatusAvailable means the integration is implemented but not configured.
	StatusAvailable Status = iota
	// StatusActive means the integration is implemented and configured.
	StatusActive
	// StatusComingSoon means the integration is planned but not implemented.
	StatusComingSoon
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusComingSoon:
		return "Coming Soon"
	default:
		return "Available"
	}
}

func (s Status) icon() string {
	switch s {
	case StatusActive:
		return "[active]"
	case StatusComingSoon:
		return "[soon]"
	default:
		return "[available]"
	}
}

// Category groups integrations for listing and filtering.
type Category int

const (
	CategoryChat Category = iota
	CategoryAIModel
	CategoryProductivity
	CategoryMusicAudio
	CategorySmartHome
	CategoryToolsAutomation
	CategoryMediaCreative
	CategorySocial
	CategoryPlatform
)

// AllCategories returns every category in catalog display order.
func AllCategories() []Category {
	return []Category{
		CategoryChat,
		CategoryAIModel,
		CategoryProductivity,
		CategoryMusicAudio,
		CategorySmartHome,
		CategoryToolsAutomation,
		CategoryMediaCreative,
		CategorySocial,
		CategoryPlatform,
	}
}

// Label returns the human-facing heading for the category.
func (c Category) Label() string {
	switch c {
	case CategoryChat:
		return "Chat Providers"
	case CategoryAIModel:
		return "AI Models"
	case CategoryProductivity:
		return "Productivity"
	case CategoryMusicAudio:
		return "Music & Audio"
	case CategorySmartHome:
		return "Smart Home"
	case CategoryToolsAutomation:
		return "Tools & Automation"
	case CategoryMediaCreative:
		return "Media & Creative"
	case CategorySocial:
		return "Social"
	case CategoryPlatform:
		return "Platforms"
	default:
		return "Unknown"
	}
}

// Entry is one catalog row: a name, a description, a category, and a
// function that derives its status from the live config.
type Entry struct {
	Name        string
	Description string
	Category    Category
	StatusFn    func(*config.Config) Status
}

// Status evaluates the entry's StatusFn against cfg.
func (e Entry) Status(cfg *config.Config) Status {
	return e.StatusFn(cfg)
}

func routedToProvider(cfg *config.Config, provider string) bool {
	for _, route := range cfg.Cost.Routes {
		if strings.EqualFold(route.Provider, provider) {
			return true
		}
	}
	return false
}

func routedToModelPrefix(cfg *config.Config, prefix string) bool {
	for _, route := range cfg.Cost.Routes {
		if strings.HasPrefix(route.Model, prefix) {
			return true
		}
	}
	return false
}

// AllIntegrations returns the full catalog, in category-grouped display
// order.
func AllIntegrations() []Entry {
	return []Entry{
		// Chat
		{
			Name:        "Lark",
			Description: "Feishu/Lark long-connection WebSocket bot",
			Category:    CategoryChat,
			StatusFn: func(c *config.Config) Status {
				if c.Channels.Lark.Enabled {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "Matrix",
			Description: "Matrix protocol (Element)",
			Category:    CategoryChat,
			StatusFn: func(c *config.Config) Status {
				if c.Channels.Matrix.Enabled {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "Webhooks",
			Description: "HTTP endpoint for inbound triggers",
			Category:    CategoryChat,
			StatusFn: func(c *config.Config) Status {
				if c.Channels.Webhook.Enabled {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "Telegram",
			Description: "Bot API, long-polling",
			Category:    CategoryChat,
			StatusFn:    func(c *config.Config) Status { return StatusComingSoon },
		},
		{
			Name:        "Discord",
			Description: "Servers, channels & DMs",
			Category:    CategoryChat,
			StatusFn:    func(c *config.Config) Status { return StatusComingSoon },
		},
		{
			Name:        "Slack",
			Description: "Workspace apps via Web API",
			Category:    CategoryChat,
			StatusFn:    func(c *config.Config) Status { return StatusComingSoon },
		},
		{
			Name:        "WhatsApp",
			Description: "Meta Cloud API via webhook",
			Category:    CategoryChat,
			StatusFn:    func(c *config.Config) Status { return StatusComingSoon },
		},
		{
			Name:        "Signal",
			Description: "Privacy-focused via signal-cli",
			Category:    CategoryChat,
			StatusFn:    func(c *config.Config) Status { return StatusComingSoon },
		},
		{
			Name:        "Microsoft Teams",
			Description: "Enterprise chat support",
			Category:    CategoryChat,
			StatusFn:    func(c *config.Config) Status { return StatusComingSoon },
		},
		{
			Name:        "Nostr",
			Description: "Decentralized DMs (NIP-04)",
			Category:    CategoryChat,
			StatusFn: func(c *config.Config) Status {
				if strings.TrimSpace(c.Secrets.NostrPrivateKey) != "" {
					return StatusActive
				}
				return StatusComingSoon
			},
		},

		// AI models
		{
			Name:        "Anthropic",
			Description: "Claude, via cost.routes provider",
			Category:    CategoryAIModel,
			StatusFn: func(c *config.Config) Status {
				if routedToProvider(c, "anthropic") {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "OpenAI",
			Description: "GPT models, via cost.routes provider",
			Category:    CategoryAIModel,
			StatusFn: func(c *config.Config) Status {
				if routedToProvider(c, "openai") {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "OpenRouter",
			Description: "200+ models behind one API key",
			Category:    CategoryAIModel,
			StatusFn: func(c *config.Config) Status {
				if routedToProvider(c, "openrouter") {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "Google",
			Description: "Gemini, via cost.routes model prefix",
			Category:    CategoryAIModel,
			StatusFn: func(c *config.Config) Status {
				if routedToModelPrefix(c, "google/") {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "DeepSeek",
			Description: "DeepSeek V3 & R1",
			Category:    CategoryAIModel,
			StatusFn: func(c *config.Config) Status {
				if routedToModelPrefix(c, "deepseek/") {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "Ollama",
			Description: "Local inference server",
			Category:    CategoryAIModel,
			StatusFn: func(c *config.Config) Status {
				if routedToProvider(c, "ollama") {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "Groq",
			Description: "Low-latency hosted inference",
			Category:    CategoryAIModel,
			StatusFn: func(c *config.Config) Status {
				if routedToProvider(c, "groq") {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "Mistral",
			Description: "Mistral Large & Small",
			Category:    CategoryAIModel,
			StatusFn: func(c *config.Config) Status {
				if routedToProvider(c, "mistral") {
					return StatusActive
				}
				return StatusAvailable
			},
		},

		// Productivity
		{
			Name:        "GitHub",
			Description: "Issues, PRs, repos via personal access token",
			Category:    CategoryProductivity,
			StatusFn:    func(c *config.Config) Status { return StatusAvailable },
		},
		{
			Name:        "Notion",
			Description: "Pages and databases",
			Category:    CategoryProductivity,
			StatusFn:    func(c *config.Config) Status { return StatusComingSoon },
		},
		{
			Name:        "Linear",
			Description: "Issue tracking",
			Category:    CategoryProductivity,
			StatusFn:    func(c *config.Config) Status { return StatusComingSoon },
		},

		// Music & audio
		{
			Name:        "Spotify",
			Description: "Playback control and search",
			Category:    CategoryMusicAudio,
			StatusFn:    func(c *config.Config) Status { return StatusComingSoon },
		},
		{
			Name:        "Transcription",
			Description: "Speech-to-text for voice messages",
			Category:    CategoryMusicAudio,
			StatusFn: func(c *config.Config) Status {
				if c.Transcription.Enabled {
					return StatusActive
				}
				return StatusAvailable
			},
		},

		// Smart home
		{
			Name:        "Home Assistant",
			Description: "Device control via REST API",
			Category:    CategorySmartHome,
			StatusFn:    func(c *config.Config) Status { return StatusComingSoon },
		},
		{
			Name:        "Philips Hue",
			Description: "Lighting control",
			Category:    CategorySmartHome,
			StatusFn:    func(c *config.Config) Status { return StatusComingSoon },
		},

		// Tools & automation
		{
			Name:        "Shell",
			Description: "Sandboxed command execution",
			Category:    CategoryToolsAutomation,
			StatusFn: func(c *config.Config) Status {
				if c.Autonomy.Level != "" {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "Docker Runtime",
			Description: "Containerized tool execution",
			Category:    CategoryToolsAutomation,
			StatusFn: func(c *config.Config) Status {
				if c.Runtime.Kind == "docker" {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "WASM Runtime",
			Description: "Sandboxed WebAssembly tool modules",
			Category:    CategoryToolsAutomation,
			StatusFn: func(c *config.Config) Status {
				if c.Runtime.Kind == "wasm" {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "Browser",
			Description: "Headless browser automation",
			Category:    CategoryToolsAutomation,
			StatusFn: func(c *config.Config) Status {
				if strings.TrimSpace(c.Secrets.BrowserComputerUseAPIKey) != "" {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "Web Search",
			Description: "Brave Search API",
			Category:    CategoryToolsAutomation,
			StatusFn: func(c *config.Config) Status {
				if strings.TrimSpace(c.Secrets.BraveWebSearchKey) != "" {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "Composio",
			Description: "Hosted tool/action integrations",
			Category:    CategoryToolsAutomation,
			StatusFn: func(c *config.Config) Status {
				if strings.TrimSpace(c.Secrets.ComposioAPIKey) != "" {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "Proxy",
			Description: "Outbound HTTP proxy for tool and provider calls",
			Category:    CategoryToolsAutomation,
			StatusFn: func(c *config.Config) Status {
				if strings.TrimSpace(c.Proxy.URL) != "" {
					return StatusActive
				}
				return StatusAvailable
			},
		},

		// Media & creative
		{
			Name:        "Image Gen",
			Description: "Image generation tool call",
			Category:    CategoryMediaCreative,
			StatusFn:    func(c *config.Config) Status { return StatusComingSoon },
		},
		{
			Name:        "Screen Capture",
			Description: "Screenshot-based tool grounding",
			Category:    CategoryMediaCreative,
			StatusFn:    func(c *config.Config) Status { return StatusComingSoon },
		},

		// Social
		{
			Name:        "Email",
			Description: "SMTP/IMAP relay",
			Category:    CategorySocial,
			StatusFn:    func(c *config.Config) Status { return StatusComingSoon },
		},
		{
			Name:        "Twitter/X",
			Description: "Post and read via API v2",
			Category:    CategorySocial,
			StatusFn:    func(c *config.Config) Status { return StatusComingSoon },
		},

		// Platforms
		{
			Name:        "Delegate Agents",
			Description: "Sub-agent delegation for specialized tasks",
			Category:    CategoryPlatform,
			StatusFn: func(c *config.Config) Status {
				if len(c.Agents) > 0 {
					return StatusActive
				}
				return StatusAvailable
			},
		},
		{
			Name:        "Cloudflare",
			Description: "Cloudflare Workers runtime target",
			Category:    CategoryPlatform,
			StatusFn: func(c *config.Config) Status {
				if c.Runtime.Kind == "cloudflare" {
					return StatusActive
				}
				return StatusComingSoon
			},
		},
	}
}

// ParseCategory maps a CLI-facing alias to a Category.
func ParseCategory(input string) (Category, bool) {
	switch strings.ToLower(input) {
	case "chat":
		return CategoryChat, true
	case "ai", "model", "models", "ai-model", "ai-models":
		return CategoryAIModel, true
	case "productivity":
		return CategoryProductivity, true
	case "music", "audio", "music-audio":
		return CategoryMusicAudio, true
	case "smart-home", "smarthome", "home":
		return CategorySmartHome, true
	case "tools", "automation", "tools-automation":
		return CategoryToolsAutomation, true
	case "media", "creative", "media-creative":
		return CategoryMediaCreative, true
	case "social":
		return CategorySocial, true
	case "platform", "platforms":
		return CategoryPlatform, true
	default:
		return 0, false
	}
}

// ParseStatus maps a CLI-facing alias to a Status.
func ParseStatus(input string) (Status, bool) {
	switch strings.ToLower(input) {
	case "active":
		return StatusActive, true
	case "available":
		return StatusAvailable, true
	case "coming-soon", "comingsoon", "soon":
		return StatusComingSoon, true
	default:
		return 0, false
	}
}

// findByName looks an entry up case-insensitively by exact name.
func findByName(entries []Entry, name string) (Entry, bool) {
	lower := strings.ToLower(name)
	for _, e := range entries {
		if strings.ToLower(e.Name) == lower {
			return e, true
		}
	}
	return Entry{}, false
}
