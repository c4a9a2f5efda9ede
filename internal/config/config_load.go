package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:         "", // resolved against the data dir when empty
				Model:             "claude-sonnet-4-5",
				MaxTokens:         8192,
				Temperature:       0.7,
				MaxToolIterations: 20,
				EnableReflection:  true,
				SummaryInterval:   10,
				Routing:           RoutingConfig{Mode: "auto"},
			},
		},
		Tools: ToolsConfig{
			RestrictToWorkspace: true,
			ApprovalMode:        "off",
			Web:                 WebToolsConfig{Search: WebSearchConfig{MaxResults: 5}},
			Browser:             BrowserConfig{TimeoutSeconds: 30, MaxHTMLChars: 60000},
			Exec:                ExecConfig{Timeout: 120},
			MediaDenialFallback: "text",
		},
		Proactive: ProactiveConfig{
			CalendarWatchEveryMinutes:   5,
			CalendarWatchHorizonMinutes: 45,
			CalendarWatchLeadMinutes:    []int{30, 10},
		},
		Gateway: GatewayConfig{Host: "127.0.0.1", Port: 18700},
	}
}

// DataDir resolves the gema data directory. GEMA_HOME overrides the
// default ~/.gema; a relative override is placed under $HOME.
func DataDir() string {
	home, _ := os.UserHomeDir()
	if v := os.Getenv("GEMA_HOME"); v != "" {
		if filepath.IsAbs(v) {
			return v
		}
		return filepath.Join(home, v)
	}
	return filepath.Join(home, ".gema")
}

// ConfigPath returns the config file location under the data dir.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.json")
}

// Load reads config from a JSON5-tolerant file, then overlays env vars.
// A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.applyDerivedDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDerivedDefaults()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Provider keys: GEMA_<NAME>_API_KEY for any providers entry,
	// plus the common ones even when the section is absent.
	for _, name := range []string{"anthropic", "openai", "openrouter", "groq", "deepseek", "gemini"} {
		key := os.Getenv("GEMA_" + strings.ToUpper(name) + "_API_KEY")
		if key == "" {
			continue
		}
		if c.Providers == nil {
			c.Providers = make(map[string]ProviderConfig)
		}
		pc := c.Providers[name]
		pc.APIKey = key
		c.Providers[name] = pc
	}

	envStr("GEMA_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("GEMA_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("GEMA_SLACK_BOT_TOKEN", &c.Channels.Slack.BotToken)
	envStr("GEMA_SLACK_APP_TOKEN", &c.Channels.Slack.AppToken)
	envStr("GEMA_WHATSAPP_BRIDGE_URL", &c.Channels.WhatsApp.BridgeURL)
	envStr("GEMA_FEISHU_APP_ID", &c.Channels.Feishu.AppID)
	envStr("GEMA_FEISHU_APP_SECRET", &c.Channels.Feishu.AppSecret)

	envStr("GEMA_SLACK_WEBHOOK_URL", &c.Integrations.Slack.WebhookURL)
	envStr("GEMA_SMTP_PASSWORD", &c.Integrations.SMTP.Password)
	envStr("GEMA_GOOGLE_CLIENT_ID", &c.Integrations.Google.ClientID)
	envStr("GEMA_GOOGLE_CLIENT_SECRET", &c.Integrations.Google.ClientSecret)
	envStr("GEMA_GOOGLE_REFRESH_TOKEN", &c.Integrations.Google.RefreshToken)

	envStr("GEMA_BRAVE_API_KEY", &c.Tools.Web.Search.APIKey)

	// Auto-enable channels if credentials arrive via env.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Slack.BotToken != "" && c.Channels.Slack.AppToken != "" {
		c.Channels.Slack.Enabled = true
	}
	if c.Channels.WhatsApp.BridgeURL != "" {
		c.Channels.WhatsApp.Enabled = true
	}
	if c.Channels.Feishu.AppID != "" && c.Channels.Feishu.AppSecret != "" {
		c.Channels.Feishu.Enabled = true
	}

	envStr("GEMA_MODEL", &c.Agents.Defaults.Model)
	envStr("GEMA_WORKSPACE", &c.Agents.Defaults.Workspace)
	envStr("GEMA_HOST", &c.Gateway.Host)
	if v := os.Getenv("GEMA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
}

// applyDerivedDefaults fills paths that depend on the data dir.
func (c *Config) applyDerivedDefaults() {
	if c.Agents.Defaults.Workspace == "" {
		c.Agents.Defaults.Workspace = filepath.Join(DataDir(), "workspace")
	} else {
		c.Agents.Defaults.Workspace = ExpandHome(c.Agents.Defaults.Workspace)
	}
	if len(c.Proactive.CalendarWatchLeadMinutes) == 0 {
		c.Proactive.CalendarWatchLeadMinutes = []int{30, 10}
	}
}

// Save writes the config to disk with camelCase keys. Secrets that came
// from env vars are not distinguished here; callers strip them first when
// persistence without secrets is required.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with secret fields masked.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	for name, pc := range cp.Providers {
		maskNonEmpty(&pc.APIKey)
		cp.Providers[name] = pc
	}
	maskNonEmpty(&cp.Channels.Telegram.Token)
	maskNonEmpty(&cp.Channels.Discord.Token)
	maskNonEmpty(&cp.Channels.Slack.BotToken)
	maskNonEmpty(&cp.Channels.Slack.AppToken)
	maskNonEmpty(&cp.Channels.WhatsApp.Token)
	maskNonEmpty(&cp.Channels.Feishu.AppSecret)
	maskNonEmpty(&cp.Integrations.SMTP.Password)
	maskNonEmpty(&cp.Integrations.Google.ClientSecret)
	maskNonEmpty(&cp.Integrations.Google.RefreshToken)
	maskNonEmpty(&cp.Integrations.Google.AccessToken)
	maskNonEmpty(&cp.Tools.Web.Search.APIKey)

	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
