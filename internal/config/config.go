// Package config loads PocketPaw's layered configuration: built-in
// defaults, overridden by a JSON5 config file, overridden by environment
// variables. Grounded on the teacher's internal/config package shape
// (FlexibleStringSlice, DatabaseConfig.IsManagedMode-style helpers),
// trimmed to the configuration keys spec.md §6 enumerates plus the
// per-adapter allow-list fields §4.2 requires.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/titanous/json5"
)

// Config is the root PocketPaw configuration.
type Config struct {
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Memory       MemoryConfig       `json:"memory"`
	Backend      BackendConfig      `json:"backend"`
	Owner        OwnerConfig        `json:"owner"`
	Identity     IdentityConfig     `json:"identity"`
	Channels     ChannelsConfig     `json:"channels"`
	Credentials  CredentialsConfig  `json:"credentials"`
	Telemetry    TelemetryConfig    `json:"telemetry,omitempty"`
}

// TelemetryConfig configures optional OTLP trace export for turn
// processing. Endpoint == "" disables tracing entirely (the default),
// in which case the global no-op tracer provider is left untouched.
type TelemetryConfig struct {
	Endpoint    string `json:"endpoint,omitempty" env:"POCKETPAW_OTLP_ENDPOINT"`
	ServiceName string `json:"service_name,omitempty"`
}

// OrchestratorConfig holds the concurrency and feature-toggle keys named
// in spec.md §6.
type OrchestratorConfig struct {
	MaxConcurrentConversations int  `json:"max_concurrent_conversations" env:"POCKETPAW_MAX_CONCURRENT_CONVERSATIONS"`
	WelcomeHintEnabled         bool `json:"welcome_hint_enabled" env:"POCKETPAW_WELCOME_HINT_ENABLED"`
	InjectionScanEnabled       bool `json:"injection_scan_enabled" env:"POCKETPAW_INJECTION_SCAN_ENABLED"`
	InjectionScanLLM           bool `json:"injection_scan_llm" env:"POCKETPAW_INJECTION_SCAN_LLM"`
	FirstItemTimeoutSeconds    int  `json:"first_item_timeout_seconds"`
	ItemTimeoutSeconds         int  `json:"item_timeout_seconds"`
}

// MemoryConfig holds the compaction and backend-selection keys.
type MemoryConfig struct {
	Backend               string `json:"memory_backend" env:"POCKETPAW_MEMORY_BACKEND"` // "file" | "semantic"
	CompactionRecentWindow int    `json:"compaction_recent_window"`
	CompactionCharBudget   int    `json:"compaction_char_budget"`
	CompactionSummaryChars int    `json:"compaction_summary_chars"`
	CompactionLLMSummarize bool   `json:"compaction_llm_summarize"`
	FileAutoLearn          bool   `json:"file_auto_learn"`
	Mem0AutoLearn          bool   `json:"mem0_auto_learn"`
	HomeDir                string `json:"home_dir,omitempty"` // defaults to ~/.pocketpaw
}

// BackendConfig selects and configures the active agent backend.
type BackendConfig struct {
	AgentBackend string            `json:"agent_backend" env:"POCKETPAW_AGENT_BACKEND"`
	APIKeys      map[string]string `json:"-"` // never persisted to config.json; env/credential store only
	Models       map[string]string `json:"models,omitempty"`
}

// OwnerConfig configures the sender-scoping owner identity.
type OwnerConfig struct {
	OwnerID string `json:"owner_id" env:"POCKETPAW_OWNER_ID"`
}

// IdentityConfig points at the four static identity text sources the
// Context Builder concatenates (spec.md §4.4).
type IdentityConfig struct {
	IdentityFile    string `json:"identity_file,omitempty"`
	SoulFile        string `json:"soul_file,omitempty"`
	StyleFile       string `json:"style_file,omitempty"`
	UserProfileFile string `json:"user_profile_file,omitempty"`
}

// ChannelsConfig holds per-channel adapter configuration.
type ChannelsConfig struct {
	Telegram  TelegramConfig  `json:"telegram,omitempty"`
	Discord   DiscordConfig   `json:"discord,omitempty"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp,omitempty"`
	Slack     SlackConfig     `json:"slack,omitempty"`
	Webhook   WebhookConfig   `json:"webhook,omitempty"`
	Dashboard DashboardConfig `json:"dashboard,omitempty"`
}

// TelegramConfig configures the Telegram long-polling adapter.
type TelegramConfig struct {
	Enabled    bool     `json:"enabled,omitempty"`
	Token      string   `json:"-" env:"POCKETPAW_TELEGRAM_TOKEN"`
	AllowFrom  []string `json:"allow_from,omitempty"`
	StreamMode string   `json:"stream_mode,omitempty"` // "partial" or "final"
	Proxy      string   `json:"proxy,omitempty"`
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled,omitempty"`
	Token     string   `json:"-" env:"POCKETPAW_DISCORD_TOKEN"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

// WhatsAppConfig configures the WhatsApp Cloud API webhook adapter.
type WhatsAppConfig struct {
	Enabled         bool     `json:"enabled,omitempty"`
	AccessToken     string   `json:"-" env:"POCKETPAW_WHATSAPP_TOKEN"`
	PhoneNumberID   string   `json:"phone_number_id,omitempty"`
	VerifyToken     string   `json:"-" env:"POCKETPAW_WHATSAPP_VERIFY_TOKEN"`
	AllowFrom       []string `json:"allow_from,omitempty"`
	WebhookPath     string   `json:"webhook_path,omitempty"`
}

// SlackConfig configures the Slack adapter.
type SlackConfig struct {
	Enabled   bool     `json:"enabled,omitempty"`
	BotToken  string   `json:"-" env:"POCKETPAW_SLACK_BOT_TOKEN"`
	AppToken  string   `json:"-" env:"POCKETPAW_SLACK_APP_TOKEN"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

// WebhookConfig configures the generic inbound webhook adapter.
type WebhookConfig struct {
	Enabled     bool     `json:"enabled,omitempty"`
	ListenAddr  string   `json:"listen_addr,omitempty"`
	Path        string   `json:"path,omitempty"`
	AllowFrom   []string `json:"allow_from,omitempty"`
	SharedToken string   `json:"-" env:"POCKETPAW_WEBHOOK_TOKEN"`
}

// DashboardConfig configures the browser dashboard's WebSocket channel:
// the local UI (enabled by default) rather than a third-party messaging
// platform.
type DashboardConfig struct {
	Enabled        bool     `json:"enabled,omitempty"`
	ListenAddr     string   `json:"listen_addr,omitempty"`
	Path           string   `json:"path,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	Token          string   `json:"-" env:"POCKETPAW_DASHBOARD_TOKEN"`
	AllowFrom      []string `json:"allow_from,omitempty"`
}

// CredentialsConfig locates the encrypted credential store file.
type CredentialsConfig struct {
	StorePath string `json:"store_path,omitempty"`
}

// Defaults returns a Config populated with the defaults spec.md §6 implies.
func Defaults() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".pocketpaw")
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxConcurrentConversations: 5,
			WelcomeHintEnabled:         true,
			InjectionScanEnabled:       true,
			InjectionScanLLM:           false,
			FirstItemTimeoutSeconds:    30,
			ItemTimeoutSeconds:         120,
		},
		Memory: MemoryConfig{
			Backend:                "file",
			CompactionRecentWindow: 20,
			CompactionCharBudget:   8000,
			CompactionSummaryChars: 160,
			CompactionLLMSummarize: false,
			FileAutoLearn:          false,
			Mem0AutoLearn:          false,
			HomeDir:                base,
		},
		Backend: BackendConfig{AgentBackend: "anthropic"},
		Channels: ChannelsConfig{
			Dashboard: DashboardConfig{
				Enabled:    true,
				ListenAddr: ":8765",
				Path:       "/ws",
			},
		},
		Credentials: CredentialsConfig{
			StorePath: filepath.Join(base, "credentials.enc"),
		},
	}
}

// Load reads defaults, then a JSON5 config file at path (if it exists),
// then applies environment variable overrides. path == "" skips the file
// layer.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else {
			if err := json5.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	return cfg, nil
}
