// Package config defines the gema runtime configuration. The on-disk file
// (<data_dir>/config.json) uses camelCase keys and tolerates JSON5 syntax;
// secrets may also come from GEMA_* environment variables, which take
// precedence over file values and are never written back.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the gema gateway.
type Config struct {
	Agents       AgentsConfig              `json:"agents"`
	Channels     ChannelsConfig            `json:"channels"`
	Providers    map[string]ProviderConfig `json:"providers,omitempty"`
	Tools        ToolsConfig               `json:"tools"`
	Integrations IntegrationsConfig        `json:"integrations"`
	Proactive    ProactiveConfig           `json:"proactive"`
	Gateway      GatewayConfig             `json:"gateway"`
	Visual       *VisualConfig             `json:"visual,omitempty"`
	mu           sync.RWMutex
}

// AgentsConfig holds agent defaults.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

// AgentDefaults are the default settings for the agent loop.
type AgentDefaults struct {
	Workspace         string        `json:"workspace"`
	Model             string        `json:"model"`
	MaxTokens         int           `json:"maxTokens"`
	Temperature       float64       `json:"temperature"`
	MaxToolIterations int           `json:"maxToolIterations"`
	EnableReflection  bool          `json:"enableReflection"`
	SummaryInterval   int           `json:"summaryInterval"`
	Routing           RoutingConfig `json:"routing"`
}

// RoutingConfig controls how a model string resolves to a provider route.
type RoutingConfig struct {
	Mode           string   `json:"mode,omitempty"` // "auto" (default), "proxy", "direct"
	ProxyBase      string   `json:"proxyBase,omitempty"`
	FallbackModels []string `json:"fallbackModels,omitempty"`
}

// ProviderConfig holds credentials for one model provider.
type ProviderConfig struct {
	APIKey       string            `json:"apiKey,omitempty"`
	APIBase      string            `json:"apiBase,omitempty"`
	ExtraHeaders map[string]string `json:"extraHeaders,omitempty"`
}

// ChannelsConfig enables and configures chat surfaces.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	WhatsApp WhatsAppConfig `json:"whatsapp,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Feishu   FeishuConfig   `json:"feishu,omitempty"`
	Email    EmailConfig    `json:"email,omitempty"`
	Slack    SlackConfig    `json:"slack,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool                `json:"enabled,omitempty"`
	Token     string              `json:"token,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allowFrom,omitempty"`
	Proxy     string              `json:"proxy,omitempty"`
}

type WhatsAppConfig struct {
	Enabled   bool                `json:"enabled,omitempty"`
	BridgeURL string              `json:"bridgeUrl,omitempty"`
	Token     string              `json:"token,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allowFrom,omitempty"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled,omitempty"`
	Token     string              `json:"token,omitempty"`
	Intents   []string            `json:"intents,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allowFrom,omitempty"`
}

type FeishuConfig struct {
	Enabled     bool                `json:"enabled,omitempty"`
	AppID       string              `json:"appId,omitempty"`
	AppSecret   string              `json:"appSecret,omitempty"`
	WebhookAddr string              `json:"webhookAddr,omitempty"` // event callback listen address
	AllowFrom   FlexibleStringSlice `json:"allowFrom,omitempty"`
}

type EmailConfig struct {
	Enabled      bool                `json:"enabled,omitempty"`
	PollSeconds  int                 `json:"pollSeconds,omitempty"`
	InboxDir     string              `json:"inboxDir,omitempty"` // maildir-style drop directory
	AllowFrom    FlexibleStringSlice `json:"allowFrom,omitempty"`
	ConsentNote  string              `json:"consentNote,omitempty"`
}

type SlackConfig struct {
	Enabled   bool                `json:"enabled,omitempty"`
	BotToken  string              `json:"botToken,omitempty"`
	AppToken  string              `json:"appToken,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allowFrom,omitempty"`
}

// ToolsConfig controls the tool registry and per-tool policy.
type ToolsConfig struct {
	RestrictToWorkspace bool              `json:"restrictToWorkspace"`
	Policy              map[string]string `json:"policy,omitempty"` // rule key → allow|ask|deny
	RiskyTools          []string          `json:"riskyTools,omitempty"`
	ApprovalMode        string            `json:"approvalMode,omitempty"` // "off" (default) or "confirm"
	Web                 WebToolsConfig    `json:"web,omitempty"`
	Browser             BrowserConfig     `json:"browser,omitempty"`
	Exec                ExecConfig        `json:"exec,omitempty"`
	Plugins             PluginsConfig     `json:"plugins,omitempty"`
	MediaDenialFallback string            `json:"mediaDenialFallback,omitempty"` // "text" (default) or "keep"
}

type WebToolsConfig struct {
	Search WebSearchConfig `json:"search,omitempty"`
}

type WebSearchConfig struct {
	APIKey     string `json:"apiKey,omitempty"` // Brave key; DuckDuckGo used when empty
	MaxResults int    `json:"maxResults,omitempty"`
}

type BrowserConfig struct {
	AllowDomains   []string `json:"allowDomains,omitempty"`
	DenyDomains    []string `json:"denyDomains,omitempty"`
	TimeoutSeconds int      `json:"timeoutSeconds,omitempty"`
	MaxHTMLChars   int      `json:"maxHtmlChars,omitempty"`
}

type ExecConfig struct {
	Timeout int `json:"timeout,omitempty"` // seconds
}

type PluginsConfig struct {
	Enabled bool     `json:"enabled,omitempty"`
	Allow   []string `json:"allow,omitempty"`
	Deny    []string `json:"deny,omitempty"`
}

// IntegrationsConfig holds credentials for outbound integrations.
type IntegrationsConfig struct {
	Slack  SlackIntegration  `json:"slack,omitempty"`
	SMTP   SMTPIntegration   `json:"smtp,omitempty"`
	Google GoogleIntegration `json:"google,omitempty"`
}

type SlackIntegration struct {
	WebhookURL string `json:"webhookUrl,omitempty"`
}

type SMTPIntegration struct {
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	FromEmail string `json:"fromEmail,omitempty"`
	UseTLS    bool   `json:"useTls,omitempty"`
}

type GoogleIntegration struct {
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	CalendarID   string `json:"calendarId,omitempty"`
}

// ProactiveConfig controls scheduled/proactive delivery.
type ProactiveConfig struct {
	QuietHours                  QuietHoursConfig `json:"quietHours,omitempty"`
	CalendarWatchEnabled        bool             `json:"calendarWatchEnabled,omitempty"`
	CalendarWatchEveryMinutes   int              `json:"calendarWatchEveryMinutes,omitempty"`
	CalendarWatchHorizonMinutes int              `json:"calendarWatchHorizonMinutes,omitempty"`
	CalendarWatchLeadMinutes    []int            `json:"calendarWatchLeadMinutes,omitempty"`
	ReminderChannel             string           `json:"reminderChannel,omitempty"` // where reminders are delivered
	ReminderChatID              string           `json:"reminderChatId,omitempty"`
}

type QuietHoursConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Start    string `json:"start,omitempty"` // "HH:MM"
	End      string `json:"end,omitempty"`   // "HH:MM"
	Timezone string `json:"timezone,omitempty"`
}

// GatewayConfig configures the metrics/health HTTP listener.
type GatewayConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// VisualConfig is the optional visual-identity section. Selfie generation
// itself is out of scope; the section is round-tripped so external tooling
// can own it.
type VisualConfig struct {
	Enabled             bool              `json:"enabled,omitempty"`
	ReferenceImage      string            `json:"referenceImage,omitempty"`
	PhysicalDescription string            `json:"physicalDescription,omitempty"`
	ImageGen            ImageGenConfig    `json:"imageGen,omitempty"`
	PromptTemplates     map[string]string `json:"promptTemplates,omitempty"`
	MirrorKeywords      []string          `json:"mirrorKeywords,omitempty"`
	DirectKeywords      []string          `json:"directKeywords,omitempty"`
	DefaultFormat       string            `json:"defaultFormat,omitempty"`
}

type ImageGenConfig struct {
	Provider  string `json:"provider,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	APIBase   string `json:"apiBase,omitempty"`
	AccountID string `json:"accountId,omitempty"`
	Model     string `json:"model,omitempty"`
	Timeout   int    `json:"timeout,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the config watcher on hot reload.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agents = src.Agents
	c.Channels = src.Channels
	c.Providers = src.Providers
	c.Tools = src.Tools
	c.Integrations = src.Integrations
	c.Proactive = src.Proactive
	c.Gateway = src.Gateway
	c.Visual = src.Visual
}
